package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/identikit/identikit/internal/common"
	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/identity"
)

func openRoleStore(t *testing.T, db *docstore.MemoryStore) *RoleStore {
	t.Helper()
	s, err := NewRoleStore(db.OpenSession())
	require.NoError(t, err)
	return s
}

func TestNewRoleStore_RejectsBadSessions(t *testing.T) {
	_, err := NewRoleStore(nil)
	require.ErrorIs(t, err, common.ErrInvalidArgument)

	db := docstore.NewMemoryStore()
	sess := db.OpenSession()
	sess.SetOptimisticConcurrency(false)
	_, err = NewRoleStore(sess)
	require.ErrorIs(t, err, common.ErrUnsupportedConfiguration)
}

func TestRoleStore_CreateAndFind(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemoryStore()

	role, err := identity.NewRole("Admin")
	require.NoError(t, err)
	require.NoError(t, openRoleStore(t, db).Create(ctx, role))

	reader := openRoleStore(t, db)
	byName, err := reader.FindByName(ctx, "ADMIN")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, "Admin", byName.Name)
	assert.Equal(t, "IdentityUserRoles/admin", byName.ID)

	byID, err := reader.FindByID(ctx, role.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)

	byBareName, err := reader.FindByID(ctx, "admin")
	require.NoError(t, err)
	require.NotNil(t, byBareName)

	missing, err := reader.FindByName(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRoleStore_DuplicateName(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemoryStore()

	first, err := identity.NewRole("editor")
	require.NoError(t, err)
	require.NoError(t, openRoleStore(t, db).Create(ctx, first))

	// A role name differing only in case maps to the same key.
	second, err := identity.NewRole("EDITOR")
	require.NoError(t, err)
	err = openRoleStore(t, db).Create(ctx, second)
	require.ErrorIs(t, err, common.ErrDuplicateValue)
}

func TestRoleStore_DeleteFreesName(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemoryStore()

	role, err := identity.NewRole("temp")
	require.NoError(t, err)
	require.NoError(t, openRoleStore(t, db).Create(ctx, role))

	s := openRoleStore(t, db)
	loaded, err := s.FindByName(ctx, "temp")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, loaded))

	gone, err := openRoleStore(t, db).FindByName(ctx, "temp")
	require.NoError(t, err)
	assert.Nil(t, gone)

	again, err := identity.NewRole("temp")
	require.NoError(t, err)
	require.NoError(t, openRoleStore(t, db).Create(ctx, again))
}

func TestRoleStore_Update(t *testing.T) {
	ctx := context.Background()
	db := docstore.NewMemoryStore()

	role, err := identity.NewRole("support")
	require.NoError(t, err)
	require.NoError(t, openRoleStore(t, db).Create(ctx, role))

	s := openRoleStore(t, db)
	loaded, err := s.FindByName(ctx, "support")
	require.NoError(t, err)
	loaded.Name = "Support"
	require.NoError(t, s.Update(ctx, loaded))

	reloaded, err := openRoleStore(t, db).FindByName(ctx, "support")
	require.NoError(t, err)
	require.NotNil(t, reloaded)
	assert.Equal(t, "Support", reloaded.Name)
}
