package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/timevault/internal/identity"
	"github.com/congo-pay/timevault/internal/wallet"
)

// Handler serves /auth/login, /auth/refresh and /auth/logout.
type Handler struct {
	ids *identity.Service
	svc *Service
}

func NewHandler(ids *identity.Service, svc *Service) *Handler {
	return &Handler{ids: ids, svc: svc}
}

type loginRequest struct {
	Phone    string `json:"phone"`
	PIN      string `json:"pin"`
	DeviceID string `json:"device_id"`
}

type loginResponse struct {
	UserID string `json:"user_id"`
	TokenPair
	TokenVersion int `json:"token_version"`
	// AccountCode is the ledger account vaults are funded from.
	AccountCode string `json:"account_code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.ids.Authenticate(c.UserContext(), identity.Credentials{Phone: req.Phone, PIN: req.PIN, DeviceID: req.DeviceID})
	if err != nil {
		return loginError(err)
	}
	pair, err := h.svc.Login(user)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "could not issue tokens")
	}
	return c.Status(http.StatusOK).JSON(loginResponse{
		UserID:       user.ID,
		TokenPair:    pair,
		TokenVersion: user.TokenVersion,
		AccountCode:  wallet.AccountCode(user.ID),
	})
}

func (h *Handler) Refresh(c *fiber.Ctx) error {
	token, err := refreshTokenFrom(c)
	if err != nil {
		return err
	}
	access, exp, err := h.svc.Refresh(c.UserContext(), token)
	if err != nil {
		return tokenError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"access_token": access, "expires_in": exp})
}

// Logout revokes every token issued to the refresh token's owner.
func (h *Handler) Logout(c *fiber.Ctx) error {
	token, err := refreshTokenFrom(c)
	if err != nil {
		return err
	}
	if err := h.svc.Logout(c.UserContext(), token); err != nil {
		return tokenError(err)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}

func refreshTokenFrom(c *fiber.Ctx) (string, error) {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return "", fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.RefreshToken == "" {
		return "", fiber.NewError(http.StatusBadRequest, "refresh_token is required")
	}
	return req.RefreshToken, nil
}

func loginError(err error) error {
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials), errors.Is(err, identity.ErrDeviceMismatch):
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	case errors.Is(err, identity.ErrDeviceRequired):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, "login failed")
	}
}

func tokenError(err error) error {
	if errors.Is(err, ErrInvalidToken) || errors.Is(err, ErrTokenRevoked) {
		return fiber.NewError(http.StatusUnauthorized, err.Error())
	}
	return fiber.NewError(http.StatusInternalServerError, "token check failed")
}
