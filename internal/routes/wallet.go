package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/timevault/internal/identity"
	"github.com/congo-pay/timevault/internal/wallet"
)

// RegisterIdentityRoutes wires public onboarding.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}

// RegisterWalletRoutes wires the caller's profile and wallet endpoints.
func RegisterWalletRoutes(r fiber.Router, ids *identity.Handler, h *wallet.Handler) {
	r.Get("/me", ids.Me)
	r.Get("/wallet", h.Balance)
	r.Post("/wallet/airdrop", h.Airdrop)
}
