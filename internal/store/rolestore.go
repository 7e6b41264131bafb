package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/identikit/identikit/internal/common"
	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/identity"
)

// RoleStore is the structural counterpart of AccountStore: a role's key is
// its normalized name, so no marker document is needed. Creating a role
// whose name is already taken loses the key collision at commit.
type RoleStore struct {
	session docstore.Session
}

// NewRoleStore requires optimistic concurrency for the same reason the
// account store does: key-collision detection is the only thing standing
// between two same-named roles.
func NewRoleStore(session docstore.Session) (*RoleStore, error) {
	if session == nil {
		return nil, fmt.Errorf("session: %w", common.ErrInvalidArgument)
	}
	if !session.OptimisticConcurrency() {
		return nil, fmt.Errorf("%w: the session must have optimistic concurrency enabled, otherwise role-name uniqueness cannot be guaranteed", common.ErrUnsupportedConfiguration)
	}
	return &RoleStore{session: session}, nil
}

// Create persists the role. Returns ErrDuplicateValue when the name is
// already taken.
func (s *RoleStore) Create(ctx context.Context, role *identity.Role) error {
	if role == nil {
		return fmt.Errorf("role: %w", common.ErrInvalidArgument)
	}
	if err := s.session.Store(ctx, role.ID, role); err != nil {
		return err
	}
	return classifyCommit(s.session.Commit(ctx))
}

// Update commits pending changes on a role loaded through this session.
func (s *RoleStore) Update(ctx context.Context, role *identity.Role) error {
	if role == nil {
		return fmt.Errorf("role: %w", common.ErrInvalidArgument)
	}
	if err := s.session.Store(ctx, role.ID, role); err != nil {
		return err
	}
	return classifyCommit(s.session.Commit(ctx))
}

// Delete removes the role document, freeing its name.
func (s *RoleStore) Delete(ctx context.Context, role *identity.Role) error {
	if role == nil {
		return fmt.Errorf("role: %w", common.ErrInvalidArgument)
	}
	if err := s.session.Delete(ctx, role.ID); err != nil {
		return err
	}
	return classifyCommit(s.session.Commit(ctx))
}

// FindByID loads a role by fully-qualified key or bare name. A miss returns
// (nil, nil).
func (s *RoleStore) FindByID(ctx context.Context, id string) (*identity.Role, error) {
	if id == "" {
		return nil, fmt.Errorf("role id: %w", common.ErrInvalidArgument)
	}
	key := id
	if !strings.Contains(id, "/") {
		var err error
		if key, err = identity.RoleKey(id); err != nil {
			return nil, err
		}
	}
	role := &identity.Role{}
	found, err := s.session.Load(ctx, key, role)
	if err != nil || !found {
		return nil, err
	}
	return role, nil
}

// FindByName loads a role by name; the name is the key, so this is a point
// read, not a query.
func (s *RoleStore) FindByName(ctx context.Context, name string) (*identity.Role, error) {
	key, err := identity.RoleKey(name)
	if err != nil {
		return nil, err
	}
	role := &identity.Role{}
	found, err := s.session.Load(ctx, key, role)
	if err != nil || !found {
		return nil, err
	}
	return role, nil
}
