// Package common defines shared sentinel errors used across the identity
// store and the sample server. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Validation errors, raised before any store interaction.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrPreconditionFailed means the operation requires prior state that is
	// absent, e.g. confirming an e-mail that has no marker document.
	ErrPreconditionFailed = errors.New("precondition failed")

	// Commit-time errors. ErrDuplicateValue means a uniqueness claim lost a
	// race or collided with existing data. ErrConcurrentModification means an
	// unrelated optimistic-concurrency conflict; callers should reload and
	// retry the whole read-modify-commit cycle, never just the commit.
	ErrDuplicateValue         = errors.New("value already in use")
	ErrConcurrentModification = errors.New("concurrent modification")

	// ErrUnsupportedConfiguration means the session lacks optimistic
	// concurrency. Fatal: the stores refuse construction without it.
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")

	// Service-level errors used by the sample server.
	ErrNotFound           = errors.New("not found")
	ErrInvalidCredentials = errors.New("invalid login/password")
	ErrAccountLockedOut   = errors.New("account locked out")
	ErrInvalidToken       = errors.New("invalid token")
)
