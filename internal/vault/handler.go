package vault

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/timevault/internal/units"
)

// Handler exposes vault HTTP endpoints. The owner is always the authenticated
// caller; no endpoint accepts an owner in the request.
type Handler struct {
	controller *Controller
	decimals   int32
}

// NewHandler builds the vault HTTP handler.
func NewHandler(controller *Controller, decimals int32) *Handler {
	return &Handler{controller: controller, decimals: decimals}
}

type initializeRequest struct {
	DurationSeconds *int64  `json:"duration_seconds"`
	UnlockAt        *int64  `json:"unlock_at"`
	AmountUnits     *uint64 `json:"amount_units"`
	Amount          string  `json:"amount"`
}

// Initialize locks funds from the caller's wallet.
func (h *Handler) Initialize(c *fiber.Ctx) error {
	owner, err := ownerFrom(c)
	if err != nil {
		return err
	}
	var req initializeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var duration int64
	switch {
	case req.DurationSeconds != nil && req.UnlockAt != nil:
		return fiber.NewError(http.StatusBadRequest, "send duration_seconds or unlock_at, not both")
	case req.DurationSeconds != nil:
		duration = *req.DurationSeconds
	case req.UnlockAt != nil:
		duration = *req.UnlockAt - h.controller.Now()
		if duration <= 0 {
			return fiber.NewError(http.StatusBadRequest, "unlock_at must be in the future")
		}
	default:
		return fiber.NewError(http.StatusBadRequest, "duration_seconds or unlock_at is required")
	}

	var amount uint64
	switch {
	case req.AmountUnits != nil:
		amount = *req.AmountUnits
	case req.Amount != "":
		amount, err = units.Parse(req.Amount, h.decimals)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	default:
		return fiber.NewError(http.StatusBadRequest, "amount_units or amount is required")
	}

	rec, err := h.controller.Initialize(c.UserContext(), owner, duration, amount)
	if err != nil {
		return statusError(err)
	}
	addr, _, err := h.controller.Address(owner)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusCreated).JSON(h.recordView(addr, rec, int64(rec.Amount)))
}

// Unlock releases the caller's vault once the time lock has passed.
func (h *Handler) Unlock(c *fiber.Ctx) error {
	owner, err := ownerFrom(c)
	if err != nil {
		return err
	}
	release, err := h.controller.Unlock(c.UserContext(), owner)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":      release.Address.String(),
		"amount_units": release.Record.Amount,
		"amount":       units.Format(release.Record.Amount, h.decimals),
		"refund_units": release.Refund,
		"unlocked_at":  release.UnlockedAt,
	})
}

// Get returns the caller's active vault.
func (h *Handler) Get(c *fiber.Ctx) error {
	owner, err := ownerFrom(c)
	if err != nil {
		return err
	}
	v, err := h.controller.Get(c.UserContext(), owner)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(h.recordView(v.Address, v.Record, v.Balance))
}

// Address returns the caller's derived vault address whether or not a vault exists.
func (h *Handler) Address(c *fiber.Ctx) error {
	owner, err := ownerFrom(c)
	if err != nil {
		return err
	}
	addr, tag, err := h.controller.Address(owner)
	if err != nil {
		return statusError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"address":        addr.String(),
		"derivation_tag": tag,
	})
}

func (h *Handler) recordView(addr Address, rec Record, balance int64) fiber.Map {
	now := h.controller.Now()
	remaining := rec.UnlockAt() - now
	if remaining < 0 {
		remaining = 0
	}
	return fiber.Map{
		"address":           addr.String(),
		"created_at":        rec.CreatedAt,
		"duration_seconds":  rec.Duration,
		"unlock_at":         rec.UnlockAt(),
		"amount_units":      rec.Amount,
		"amount":            units.Format(rec.Amount, h.decimals),
		"balance_units":     balance,
		"derivation_tag":    rec.DerivationTag,
		"unlocked":          rec.Unlocked(now),
		"seconds_remaining": remaining,
	}
}

func ownerFrom(c *fiber.Ctx) (string, error) {
	owner, _ := c.Locals("user_id").(string)
	if owner == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return owner, nil
}

func statusError(err error) error {
	switch {
	case errors.Is(err, ErrAlreadyExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, ErrNotReached):
		return fiber.NewError(http.StatusTooEarly, err.Error())
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrTransferFailure):
		return fiber.NewError(http.StatusPaymentRequired, err.Error())
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidDuration), errors.Is(err, ErrInvalidOwner):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
