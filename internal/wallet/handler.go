package wallet

import (
	"errors"
	"math"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/timevault/internal/ledger"
	"github.com/congo-pay/timevault/internal/units"
)

// Handler exposes wallet HTTP endpoints for the authenticated owner.
type Handler struct {
	service  *Service
	decimals int32
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, decimals int32) *Handler {
	return &Handler{service: service, decimals: decimals}
}

type airdropRequest struct {
	AmountUnits *uint64 `json:"amount_units"`
	Amount      string  `json:"amount"`
	ClientTxID  string  `json:"client_tx_id"`
}

// Balance returns the caller's wallet balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	balance, err := h.service.Balance(c.UserContext(), uid)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"owner_id":     uid,
		"account_code": AccountCode(uid),
		"balance":      balance.Amount,
		"as_of":        balance.AsOf,
	})
}

// Airdrop credits the caller's wallet from the faucet.
func (h *Handler) Airdrop(c *fiber.Ctx) error {
	uid, _ := c.Locals("user_id").(string)
	if uid == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	var req airdropRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var amount uint64
	switch {
	case req.AmountUnits != nil:
		amount = *req.AmountUnits
	case req.Amount != "":
		parsed, err := units.Parse(req.Amount, h.decimals)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		amount = parsed
	default:
		return fiber.NewError(http.StatusBadRequest, "amount_units or amount is required")
	}
	if amount == 0 || amount > math.MaxInt64 {
		return fiber.NewError(http.StatusBadRequest, "amount out of range")
	}

	res, err := h.service.Airdrop(c.UserContext(), AirdropInput{OwnerID: uid, Amount: int64(amount), ClientTxID: req.ClientTxID})
	if err != nil {
		switch {
		case errors.Is(err, ErrFaucetDisabled):
			return fiber.NewError(http.StatusForbidden, err.Error())
		case errors.Is(err, ErrFaucetLimit), errors.Is(err, ledger.ErrInvalidAmount):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrAccountNotFound):
			return fiber.NewError(http.StatusNotFound, "wallet not found")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	return c.Status(status).JSON(fiber.Map{
		"transaction_id": res.TransactionID,
		"balance":        res.Balance,
	})
}
