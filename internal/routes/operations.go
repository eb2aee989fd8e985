package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sango-pay/sango_pay/internal/ledger"
)

// RegisterOperationRoutes wires the balance operation endpoint.
func RegisterOperationRoutes(r fiber.Router, h *ledger.Handler) {
	r.Post("/operations", h.ProcessOperation)
}
