package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	tierZero = "tier0"
	tierOne  = "tier1"
)

// Service manages identity lifecycle.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Repository returns the backing user store.
func (s *Service) Repository() Repository {
	return s.repo
}

// MinPINLength is the shortest PIN Register accepts.
const MinPINLength = 4

// Register creates a new Tier0 user and stores a hashed PIN.
func (s *Service) Register(ctx context.Context, creds Credentials) (User, error) {
	phone := strings.TrimSpace(creds.Phone)
	if phone == "" {
		return User{}, fmt.Errorf("%w: phone is required", ErrInvalidRegistration)
	}
	if len(creds.PIN) < MinPINLength {
		return User{}, fmt.Errorf("%w: PIN must be at least %d digits", ErrInvalidRegistration, MinPINLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.PIN), bcrypt.DefaultCost)
	if err != nil {
		return User{}, err
	}

	user := User{
		ID:        uuid.New().String(),
		Phone:     phone,
		Tier:      tierZero,
		PINHash:   hash,
		DeviceID:  creds.DeviceID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, user); err != nil {
		return User{}, err
	}
	return user, nil
}

// Authenticate verifies credentials and device binding, and records the login.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (User, error) {
	user, err := s.repo.FindByPhone(ctx, strings.TrimSpace(creds.Phone))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return User{}, ErrInvalidCredentials
		}
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword(user.PINHash, []byte(creds.PIN)); err != nil {
		return User{}, ErrInvalidCredentials
	}

	if user.DeviceID == "" {
		if creds.DeviceID == "" {
			return User{}, ErrDeviceRequired
		}
		if err := s.repo.UpdateDevice(ctx, user.ID, creds.DeviceID); err != nil {
			return User{}, err
		}
		user.DeviceID = creds.DeviceID
	} else if creds.DeviceID != "" && user.DeviceID != creds.DeviceID {
		return User{}, ErrDeviceMismatch
	}

	if user.Tier == tierZero {
		user.Tier = tierOne
	}

	at := s.now().UTC()
	if err := s.repo.UpdateLastLogin(ctx, user.ID, at); err != nil {
		return User{}, err
	}
	user.LastLogin = &at
	return user, nil
}
