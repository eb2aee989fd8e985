package transfer

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sango-pay/sango_pay/internal/ledger"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/money"
)

// Handler exposes the dual-balance transfer endpoint.
type Handler struct {
	service *Service
}

// NewHandler builds a transfer handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type transferRequest struct {
	UserID         string `json:"user_id"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
}

// DepositToSpendable releases deposited funds into the spendable sub-balance.
func (h *Handler) DepositToSpendable(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	amount, err := money.New(req.Amount, req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	res, err := h.service.DepositToSpendable(c.UserContext(), Input{
		UserID:         req.UserID,
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInvalidRequest):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ledger.ErrBalanceNotFound):
			return fiber.NewError(http.StatusNotFound, "deposit balance not found")
		case errors.Is(err, lock.ErrLockTimeout):
			return fiber.NewError(http.StatusServiceUnavailable, "balance busy, retry later")
		case errors.Is(err, ledger.ErrConcurrentModification):
			return fiber.NewError(http.StatusConflict, "concurrent modification")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	body := fiber.Map{
		"debit_transaction_id": res.DebitTransactionID,
		"status":               string(res.Status),
		"deposit_balance":      res.DepositBalance.Formatted(),
	}
	if res.CreditTransactionID != "" {
		body["credit_transaction_id"] = res.CreditTransactionID
		body["spendable_balance"] = res.SpendableBalance.Formatted()
	}
	if res.ErrorReason != "" {
		body["error_reason"] = res.ErrorReason
	}
	return c.Status(http.StatusOK).JSON(body)
}
