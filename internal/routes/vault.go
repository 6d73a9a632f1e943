package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/timevault/internal/vault"
)

// RegisterVaultRoutes wires the vault lifecycle endpoints.
func RegisterVaultRoutes(r fiber.Router, h *vault.Handler, unlockLimiter fiber.Handler) {
	group := r.Group("/vault")
	group.Get("", h.Get)
	group.Post("", h.Initialize)
	group.Get("/address", h.Address)
	if unlockLimiter != nil {
		group.Post("/unlock", unlockLimiter, h.Unlock)
	} else {
		group.Post("/unlock", h.Unlock)
	}
}
