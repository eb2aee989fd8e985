package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/sango-pay/sango_pay/internal/ledger"
)

// RegisterBalanceRoutes wires balance read endpoints.
func RegisterBalanceRoutes(r fiber.Router, h *ledger.Handler) {
	r.Get("/balances/:userId", h.GetBalance)
	r.Get("/balances/:userId/transactions", h.ListTransactions)
}
