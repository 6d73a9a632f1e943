package identity

import (
	"errors"
	"time"
)

var (
	// ErrUserExists is returned when the phone number is already registered.
	ErrUserExists = errors.New("user exists")
	// ErrUserNotFound is returned by lookups that match no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials covers an unknown phone or a wrong PIN.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDeviceMismatch is returned when a login comes from a device other than the bound one.
	ErrDeviceMismatch = errors.New("device mismatch")
	// ErrInvalidRegistration covers a blank phone or a PIN shorter than MinPINLength.
	ErrInvalidRegistration = errors.New("invalid registration")
	// ErrDeviceRequired is returned when the first login carries no device id.
	ErrDeviceRequired = errors.New("device binding required")
)

// User is a registered vault owner. ID is the owner identity the vault
// address is derived from.
type User struct {
	ID           string
	Phone        string
	Tier         string
	PINHash      []byte
	DeviceID     string
	TokenVersion int
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// Credentials request structure.
type Credentials struct {
	Phone    string
	PIN      string
	DeviceID string
}
