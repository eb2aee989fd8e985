package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sango-pay/sango_pay/internal/transfer"
)

// RegisterTransferRoutes wires dual-balance transfer endpoints.
func RegisterTransferRoutes(r fiber.Router, h *transfer.Handler) {
	r.Post("/transfers/deposit-to-spendable", h.DepositToSpendable)
}
