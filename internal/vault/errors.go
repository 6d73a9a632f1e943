package vault

import "errors"

var (
	// ErrAlreadyExists is returned by Initialize while the owner still has an active vault.
	ErrAlreadyExists = errors.New("vault already exists")
	// ErrNotReached is returned by Unlock before created_at + duration. The record is untouched.
	ErrNotReached = errors.New("time lock not reached")
	// ErrNotFound is returned when the owner has no vault.
	ErrNotFound = errors.New("vault not found")
	// ErrTransferFailure wraps a refused value movement; the whole operation was rolled back.
	ErrTransferFailure = errors.New("transfer failed")

	ErrInvalidAmount   = errors.New("amount must be positive and fit the ledger")
	ErrInvalidDuration = errors.New("duration must be non-negative and must not overflow")
	ErrInvalidOwner    = errors.New("owner identity is required")

	// ErrAddressMismatch means the stored derivation tag no longer re-derives the address.
	ErrAddressMismatch = errors.New("vault address does not match derivation tag")
	// ErrCorruptRecord means stored bytes do not decode as a Record.
	ErrCorruptRecord = errors.New("corrupt vault record")
)
