package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// AccountOpener provisions the ledger account of a newly registered owner.
type AccountOpener func(ctx context.Context, ownerID string) error

// Handler serves /identity/register and /me.
type Handler struct {
	service *Service
	open    AccountOpener
	logger  *slog.Logger
}

// NewHandler builds the handler. open may be nil when accounts are opened
// elsewhere.
func NewHandler(service *Service, open AccountOpener, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, open: open, logger: logger}
}

type registerRequest struct {
	Phone    string `json:"phone"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

type profile struct {
	UserID       string     `json:"user_id"`
	Phone        string     `json:"phone"`
	Tier         string     `json:"tier"`
	DeviceID     string     `json:"device_id,omitempty"`
	TokenVersion int        `json:"token_version"`
	CreatedAt    time.Time  `json:"created_at"`
	LastLogin    *time.Time `json:"last_login,omitempty"`
}

func profileOf(u User) profile {
	return profile{
		UserID:       u.ID,
		Phone:        u.Phone,
		Tier:         u.Tier,
		DeviceID:     u.DeviceID,
		TokenVersion: u.TokenVersion,
		CreatedAt:    u.CreatedAt,
		LastLogin:    u.LastLogin,
	}
}

// Register creates the user and opens the wallet that funds their vaults.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.Register(c.UserContext(), Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	switch {
	case errors.Is(err, ErrUserExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrInvalidRegistration):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case err != nil:
		h.logger.Error("identity.register failed", slog.Any("error", err))
		return fiber.NewError(http.StatusInternalServerError, "registration failed")
	}

	if h.open != nil {
		if err := h.open(c.UserContext(), user.ID); err != nil {
			h.logger.Error("identity.register wallet open failed", slog.String("user_id", user.ID), slog.Any("error", err))
			return fiber.NewError(http.StatusInternalServerError, "could not open wallet")
		}
	}
	h.logger.Info("identity.register completed", slog.String("user_id", user.ID))
	return c.Status(http.StatusCreated).JSON(profileOf(user))
}

// Me returns the authenticated caller's profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	user, err := h.service.Repository().FindByID(c.UserContext(), uid)
	if errors.Is(err, ErrUserNotFound) {
		return fiber.NewError(http.StatusUnauthorized, "user not found")
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "profile lookup failed")
	}
	return c.JSON(profileOf(user))
}
