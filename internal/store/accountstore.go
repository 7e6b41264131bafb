// Package store implements the identity store contract on top of a docstore
// session: account CRUD, external logins, claims, contact values with
// uniqueness markers, lockout bookkeeping, and role membership.
//
// Uniqueness of e-mail addresses and phone numbers is simulated with marker
// documents keyed by the normalized value, staged into the same commit batch
// as the account mutation. The store never retries a conflicted commit:
// callers must reload and decide, since an automatic retry could mask a
// genuine duplicate as a transient race.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/identikit/identikit/internal/common"
	"github.com/identikit/identikit/internal/docstore"
	"github.com/identikit/identikit/internal/identity"
)

// AccountStore manages account documents and their dependent login and
// marker documents through one docstore session. Like the session it wraps,
// a store instance belongs to one caller; open a fresh session per task.
type AccountStore struct {
	session docstore.Session
}

// NewAccountStore refuses sessions without optimistic concurrency: without
// the commit-time version checks, two accounts could silently overwrite each
// other's uniqueness markers.
func NewAccountStore(session docstore.Session) (*AccountStore, error) {
	if session == nil {
		return nil, fmt.Errorf("session: %w", common.ErrInvalidArgument)
	}
	if !session.OptimisticConcurrency() {
		return nil, fmt.Errorf("%w: the session must have optimistic concurrency enabled for its entire lifetime, otherwise username and contact uniqueness cannot be guaranteed", common.ErrUnsupportedConfiguration)
	}
	return &AccountStore{session: session}, nil
}

// Create persists the account, claiming its e-mail address via a marker
// document in the same commit. A store-assigned id is generated when the
// account has none. Returns ErrDuplicateValue when the user name or e-mail
// is already taken.
func (s *AccountStore) Create(ctx context.Context, account *identity.Account) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	if account.UserName == "" {
		return fmt.Errorf("account user name: %w", common.ErrInvalidArgument)
	}

	// The account key does not embed the user name, so a commit conflict
	// cannot catch user-name duplicates; check before staging anything.
	existing, err := s.FindByUserName(ctx, account.UserName)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("user name %q: %w", account.UserName, common.ErrDuplicateValue)
	}

	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	key, err := identity.AccountKey(account.ID)
	if err != nil {
		return err
	}
	if err := s.session.Store(ctx, key, account); err != nil {
		return err
	}

	if account.Email != "" {
		marker, err := identity.NewEmailMarker(account.Email, account.ID)
		if err != nil {
			return err
		}
		if err := s.session.Store(ctx, marker.ID, marker); err != nil {
			return err
		}
	}

	return classifyCommit(s.session.Commit(ctx))
}

// FindByID loads an account by id or fully-qualified key. A miss returns
// (nil, nil), never an error.
func (s *AccountStore) FindByID(ctx context.Context, id string) (*identity.Account, error) {
	key, err := identity.AccountKey(id)
	if err != nil {
		return nil, err
	}
	account := &identity.Account{}
	found, err := s.session.Load(ctx, key, account)
	if err != nil || !found {
		return nil, err
	}
	return account, nil
}

// FindByUserName scans the account collection for an exact, case-insensitive
// user-name match. The user name is not part of the account key, so this is
// a query, not a key lookup.
func (s *AccountStore) FindByUserName(ctx context.Context, userName string) (*identity.Account, error) {
	if userName == "" {
		return nil, fmt.Errorf("user name: %w", common.ErrInvalidArgument)
	}
	var matchID string
	err := s.session.Query(ctx, identity.AccountCollection+"/", func(key string, data []byte) error {
		var probe identity.Account
		if err := json.Unmarshal(data, &probe); err != nil {
			return fmt.Errorf("unmarshal %s: %w", key, err)
		}
		if strings.EqualFold(probe.UserName, userName) {
			matchID = probe.ID
			return errStopScan
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	if matchID == "" {
		return nil, nil
	}
	// Load through the session so the returned account is tracked and a
	// later Update persists its mutations.
	return s.FindByID(ctx, matchID)
}

var errStopScan = errors.New("stop scan")

// Update commits every pending change staged on this session: the account
// itself plus any login or marker documents staged by the mutation helpers.
// The account must have been loaded through this store's session; detached
// instances are not reattached and will fail the version check.
func (s *AccountStore) Update(ctx context.Context, account *identity.Account) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	key, err := identity.AccountKey(account.ID)
	if err != nil {
		return err
	}
	if err := s.session.Store(ctx, key, account); err != nil {
		return err
	}
	return classifyCommit(s.session.Commit(ctx))
}

// Delete removes the account and its contact markers in one commit, freeing
// the claimed values. Login documents are deliberately not cascade-deleted;
// remove logins first if cleanup is required.
func (s *AccountStore) Delete(ctx context.Context, account *identity.Account) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	key, err := identity.AccountKey(account.ID)
	if err != nil {
		return err
	}
	if err := s.session.Delete(ctx, key); err != nil {
		return err
	}
	if account.Email != "" {
		emailKey, err := identity.EmailKey(account.Email)
		if err != nil {
			return err
		}
		if err := s.session.Delete(ctx, emailKey); err != nil {
			return err
		}
	}
	if account.PhoneNumber != "" {
		phoneKey, err := identity.PhoneNumberKey(account.PhoneNumber)
		if err != nil {
			return err
		}
		if err := s.session.Delete(ctx, phoneKey); err != nil {
			return err
		}
	}
	return classifyCommit(s.session.Commit(ctx))
}

// AddLogin stages a login document and adds it to the account's login set.
// Persisted on the next Update; an already-used provider key surfaces there
// as ErrDuplicateValue.
func (s *AccountStore) AddLogin(ctx context.Context, account *identity.Account, provider, providerKey string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	login, err := identity.NewLogin(account.ID, provider, providerKey)
	if err != nil {
		return err
	}
	if err := s.session.Store(ctx, login.ID, login); err != nil {
		return err
	}
	for _, l := range account.Logins {
		if l.ID == login.ID {
			return nil
		}
	}
	account.Logins = append(account.Logins, *login)
	return nil
}

// RemoveLogin stages deletion of the login document and removes it from the
// account's login set. The document is only deleted when it belongs to the
// given account; removing a non-existent login is a no-op.
func (s *AccountStore) RemoveLogin(ctx context.Context, account *identity.Account, provider, providerKey string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	key, err := identity.LoginKey(provider, providerKey)
	if err != nil {
		return err
	}
	login := &identity.Login{}
	found, err := s.session.Load(ctx, key, login)
	if err != nil {
		return err
	}
	if found && login.AccountID == account.ID {
		if err := s.session.Delete(ctx, key); err != nil {
			return err
		}
	}
	for i, l := range account.Logins {
		if l.ID == key {
			account.Logins = append(account.Logins[:i], account.Logins[i+1:]...)
			break
		}
	}
	return nil
}

// FindByLogin resolves the account owning an external login. A miss at
// either step returns (nil, nil).
func (s *AccountStore) FindByLogin(ctx context.Context, provider, providerKey string) (*identity.Account, error) {
	key, err := identity.LoginKey(provider, providerKey)
	if err != nil {
		return nil, err
	}
	login := &identity.Login{}
	found, err := s.session.Load(ctx, key, login)
	if err != nil || !found {
		return nil, err
	}
	return s.FindByID(ctx, login.AccountID)
}

// AddClaim adds a claim to the account's in-memory claim set. No store round
// trip happens until the next Update. Adding an equal claim twice keeps one.
func (s *AccountStore) AddClaim(account *identity.Account, claim identity.Claim) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	if claim.Type == "" || claim.Value == "" {
		return fmt.Errorf("claim: %w", common.ErrInvalidArgument)
	}
	for _, c := range account.Claims {
		if c == claim {
			return nil
		}
	}
	account.Claims = append(account.Claims, claim)
	return nil
}

// RemoveClaim removes the equal-by-value claim from the account's claim set.
// Removing a non-matching claim is a no-op.
func (s *AccountStore) RemoveClaim(account *identity.Account, claim identity.Claim) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	for i, c := range account.Claims {
		if c == claim {
			account.Claims = append(account.Claims[:i], account.Claims[i+1:]...)
			return nil
		}
	}
	return nil
}

// FindByEmail resolves an account through its e-mail marker: first the
// marker at the derived key, then the account it points at. This indirection
// is why markers carry the owner's account id.
func (s *AccountStore) FindByEmail(ctx context.Context, email string) (*identity.Account, error) {
	marker, err := s.loadEmailMarker(ctx, email)
	if err != nil || marker == nil {
		return nil, err
	}
	return s.FindByID(ctx, marker.AccountID)
}

// FindByPhoneNumber mirrors FindByEmail for phone-number markers.
func (s *AccountStore) FindByPhoneNumber(ctx context.Context, phoneNumber string) (*identity.Account, error) {
	marker, err := s.loadPhoneNumberMarker(ctx, phoneNumber)
	if err != nil || marker == nil {
		return nil, err
	}
	return s.FindByID(ctx, marker.AccountID)
}

// SetEmail changes the account's e-mail, staging the transfer protocol: the
// new marker is created, the old one deleted, and the account updated, all
// applied atomically by the next Update. An e-mail differing only in case
// keeps the existing marker.
func (s *AccountStore) SetEmail(ctx context.Context, account *identity.Account, email string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	return s.setContact(ctx, account, email, &account.Email, identity.EmailKey, identity.NewEmailMarker)
}

// SetPhoneNumber changes the account's phone number via the same transfer
// protocol as SetEmail.
func (s *AccountStore) SetPhoneNumber(ctx context.Context, account *identity.Account, phoneNumber string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	return s.setContact(ctx, account, phoneNumber, &account.PhoneNumber, identity.PhoneNumberKey, identity.NewPhoneNumberMarker)
}

func (s *AccountStore) setContact(
	ctx context.Context,
	account *identity.Account,
	value string,
	field *string,
	deriveKey func(string) (string, error),
	newMarker func(value, accountID string) (*identity.ContactMarker, error),
) error {
	newKey, err := deriveKey(value)
	if err != nil {
		return err
	}

	if old := *field; old != "" {
		oldKey, err := deriveKey(old)
		if err != nil {
			return err
		}
		if oldKey == newKey {
			// Same normalized value; the marker stays as is.
			*field = value
			return nil
		}
		// Track the old marker before releasing it so the delete carries its
		// version; re-claiming the value later in this unit of work then
		// updates the marker in place instead of colliding with it.
		if _, err := s.session.Load(ctx, oldKey, &identity.ContactMarker{}); err != nil {
			return err
		}
		if err := s.session.Delete(ctx, oldKey); err != nil {
			return err
		}
	}

	marker, err := newMarker(value, account.ID)
	if err != nil {
		return err
	}
	if err := s.session.Store(ctx, marker.ID, marker); err != nil {
		return err
	}
	*field = value
	return nil
}

// EmailConfirmed reports the confirmation state recorded on the e-mail
// marker document. Requires the account to have an e-mail.
func (s *AccountStore) EmailConfirmed(ctx context.Context, account *identity.Account) (bool, error) {
	marker, err := s.requireEmailMarker(ctx, account)
	if err != nil {
		return false, err
	}
	return marker.Confirmed(), nil
}

// SetEmailConfirmed toggles confirmation on both the account and its e-mail
// marker, which the next Update persists together. An account with an
// e-mail but no marker is a data-integrity anomaly and fails with
// ErrPreconditionFailed rather than being silently patched.
func (s *AccountStore) SetEmailConfirmed(ctx context.Context, account *identity.Account, confirmed bool) error {
	marker, err := s.requireEmailMarker(ctx, account)
	if err != nil {
		return err
	}
	account.EmailConfirmed = confirmed
	if confirmed {
		marker.SetConfirmed()
	} else {
		marker.SetUnconfirmed()
	}
	return nil
}

// PhoneNumberConfirmed reports the confirmation state recorded on the
// phone-number marker document.
func (s *AccountStore) PhoneNumberConfirmed(ctx context.Context, account *identity.Account) (bool, error) {
	marker, err := s.requirePhoneNumberMarker(ctx, account)
	if err != nil {
		return false, err
	}
	return marker.Confirmed(), nil
}

// SetPhoneNumberConfirmed mirrors SetEmailConfirmed for the phone number.
// The marker is resolved by the phone number, never the e-mail.
func (s *AccountStore) SetPhoneNumberConfirmed(ctx context.Context, account *identity.Account, confirmed bool) error {
	marker, err := s.requirePhoneNumberMarker(ctx, account)
	if err != nil {
		return err
	}
	account.PhoneNumberConfirmed = confirmed
	if confirmed {
		marker.SetConfirmed()
	} else {
		marker.SetUnconfirmed()
	}
	return nil
}

// SetPasswordHash records a new password hash and rotates the security
// stamp. Hashing itself is the caller's concern.
func (s *AccountStore) SetPasswordHash(account *identity.Account, passwordHash string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.PasswordHash = passwordHash
	account.SecurityStamp = uuid.NewString()
	return nil
}

// SetSecurityStamp sets the opaque credentials-change token.
func (s *AccountStore) SetSecurityStamp(account *identity.Account, stamp string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.SecurityStamp = stamp
	return nil
}

// SetTwoFactorEnabled toggles two-factor authentication for the account.
func (s *AccountStore) SetTwoFactorEnabled(account *identity.Account, enabled bool) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.TwoFactorEnabled = enabled
	return nil
}

// IncrementAccessFailedCount bumps the in-memory failure counter and returns
// the new value. The read-increment-write is not atomic across sessions; the
// caller is expected to hold exclusive access to the account within one unit
// of work.
func (s *AccountStore) IncrementAccessFailedCount(account *identity.Account) (int, error) {
	if account == nil {
		return 0, fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.AccessFailedCount++
	return account.AccessFailedCount, nil
}

// ResetAccessFailedCount zeroes the failure counter.
func (s *AccountStore) ResetAccessFailedCount(account *identity.Account) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.AccessFailedCount = 0
	return nil
}

// SetLockoutEnabled toggles lockout bookkeeping for the account.
func (s *AccountStore) SetLockoutEnabled(account *identity.Account, enabled bool) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	account.LockoutEnabled = enabled
	return nil
}

// SetLockoutEndDate sets when the lockout ends. Any past instant means not
// locked out.
func (s *AccountStore) SetLockoutEndDate(account *identity.Account, end time.Time) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	utc := end.UTC()
	account.LockoutEndUTC = &utc
	return nil
}

// AddToRole adds the account to a role. Role names are case-insensitive;
// membership is a pure in-memory set mutation persisted on the next Update.
func (s *AccountStore) AddToRole(account *identity.Account, roleName string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	if roleName == "" {
		return fmt.Errorf("role name: %w", common.ErrInvalidArgument)
	}
	if s.IsInRole(account, roleName) {
		return nil
	}
	account.Roles = append(account.Roles, roleName)
	return nil
}

// RemoveFromRole removes the account from a role; a non-member is a no-op.
func (s *AccountStore) RemoveFromRole(account *identity.Account, roleName string) error {
	if account == nil {
		return fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	for i, name := range account.Roles {
		if strings.EqualFold(name, roleName) {
			account.Roles = append(account.Roles[:i], account.Roles[i+1:]...)
			return nil
		}
	}
	return nil
}

// IsInRole reports case-insensitive role membership.
func (s *AccountStore) IsInRole(account *identity.Account, roleName string) bool {
	if account == nil {
		return false
	}
	for _, name := range account.Roles {
		if strings.EqualFold(name, roleName) {
			return true
		}
	}
	return false
}

func (s *AccountStore) loadEmailMarker(ctx context.Context, email string) (*identity.ContactMarker, error) {
	key, err := identity.EmailKey(email)
	if err != nil {
		return nil, err
	}
	return s.loadMarker(ctx, key)
}

func (s *AccountStore) loadPhoneNumberMarker(ctx context.Context, phoneNumber string) (*identity.ContactMarker, error) {
	key, err := identity.PhoneNumberKey(phoneNumber)
	if err != nil {
		return nil, err
	}
	return s.loadMarker(ctx, key)
}

func (s *AccountStore) loadMarker(ctx context.Context, key string) (*identity.ContactMarker, error) {
	marker := &identity.ContactMarker{}
	found, err := s.session.Load(ctx, key, marker)
	if err != nil || !found {
		return nil, err
	}
	return marker, nil
}

func (s *AccountStore) requireEmailMarker(ctx context.Context, account *identity.Account) (*identity.ContactMarker, error) {
	if account == nil {
		return nil, fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	if account.Email == "" {
		return nil, fmt.Errorf("account has no e-mail: %w", common.ErrPreconditionFailed)
	}
	marker, err := s.loadEmailMarker(ctx, account.Email)
	if err != nil {
		return nil, err
	}
	if marker == nil {
		return nil, fmt.Errorf("no marker document for e-mail %q: %w", account.Email, common.ErrPreconditionFailed)
	}
	return marker, nil
}

func (s *AccountStore) requirePhoneNumberMarker(ctx context.Context, account *identity.Account) (*identity.ContactMarker, error) {
	if account == nil {
		return nil, fmt.Errorf("account: %w", common.ErrInvalidArgument)
	}
	if account.PhoneNumber == "" {
		return nil, fmt.Errorf("account has no phone number: %w", common.ErrPreconditionFailed)
	}
	marker, err := s.loadPhoneNumberMarker(ctx, account.PhoneNumber)
	if err != nil {
		return nil, err
	}
	if marker == nil {
		return nil, fmt.Errorf("no marker document for phone number %q: %w", account.PhoneNumber, common.ErrPreconditionFailed)
	}
	return marker, nil
}
