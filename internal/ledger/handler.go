package ledger

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/sango-pay/sango_pay/internal/balance"
	"github.com/sango-pay/sango_pay/internal/lock"
	"github.com/sango-pay/sango_pay/internal/money"
	"github.com/sango-pay/sango_pay/internal/transaction"
)

// Handler exposes ledger HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a ledger HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type operationRequest struct {
	UserID         string `json:"user_id"`
	Type           string `json:"operation_type"`
	Amount         string `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotency_key"`
	TargetBalance  string `json:"target_balance"`
	Description    string `json:"description"`
	OrderID        string `json:"order_id"`
	PaymentMethod  string `json:"payment_method"`
}

type outcomeResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	BalanceAfter  string `json:"balance_after"`
	Currency      string `json:"currency"`
	ErrorReason   string `json:"error_reason,omitempty"`
}

// ProcessOperation applies one balance operation. Declines come back with a
// 200 and a FAILED status; they are expected business outcomes.
func (h *Handler) ProcessOperation(c *fiber.Ctx) error {
	var req operationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	amount, err := money.New(req.Amount, req.Currency)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	out, err := h.service.Process(c.UserContext(), OperationRequest{
		UserID:         req.UserID,
		Type:           transaction.Type(req.Type),
		Amount:         amount,
		IdempotencyKey: req.IdempotencyKey,
		Target:         balance.Kind(req.TargetBalance),
		Description:    req.Description,
		OrderID:        req.OrderID,
		PaymentMethod:  req.PaymentMethod,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			return fiber.NewError(http.StatusBadRequest, err.Error())
		case errors.Is(err, ErrBalanceNotFound):
			return fiber.NewError(http.StatusNotFound, "balance not found")
		case errors.Is(err, lock.ErrLockTimeout):
			return fiber.NewError(http.StatusServiceUnavailable, "balance busy, retry later")
		case errors.Is(err, ErrConcurrentModification):
			return fiber.NewError(http.StatusConflict, "concurrent modification")
		default:
			return fiber.NewError(http.StatusInternalServerError, err.Error())
		}
	}

	return c.Status(http.StatusOK).JSON(outcomeResponse{
		TransactionID: out.TransactionID,
		Status:        string(out.Status),
		BalanceAfter:  out.BalanceAfter.Formatted(),
		Currency:      out.BalanceAfter.Currency(),
		ErrorReason:   out.ErrorReason,
	})
}

// GetBalance returns the user's spendable balance.
func (h *Handler) GetBalance(c *fiber.Ctx) error {
	userID := c.Params("userId")
	resp, err := h.service.BalanceOf(c.UserContext(), userID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			return fiber.NewError(http.StatusNotFound, "balance not found")
		}
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"user_id":         resp.UserID,
		"current_balance": resp.Current.Formatted(),
		"currency":        resp.Currency,
		"is_active":       resp.Active,
		"last_updated":    resp.LastUpdated,
	})
}

// ListTransactions returns the user's recent transactions, newest first.
func (h *Handler) ListTransactions(c *fiber.Ctx) error {
	userID := c.Params("userId")
	limit := c.QueryInt("limit", 20)

	history, err := h.service.History(c.UserContext(), userID, limit)
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}

	items := make([]fiber.Map, 0, len(history))
	for _, tx := range history {
		item := fiber.Map{
			"transaction_id": tx.ID,
			"type":           string(tx.Type),
			"amount":         tx.Amount.Formatted(),
			"currency":       tx.Amount.Currency(),
			"balance_before": tx.BalanceBefore.Formatted(),
			"balance_after":  tx.BalanceAfter.Formatted(),
			"status":         string(tx.Status),
			"created_at":     tx.CreatedAt,
		}
		if tx.FailureReason != "" {
			item["error_reason"] = tx.FailureReason
		}
		if tx.OrderID != "" {
			item["order_id"] = tx.OrderID
		}
		if tx.CompletedAt != nil {
			item["completed_at"] = tx.CompletedAt
		}
		items = append(items, item)
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"user_id": userID, "transactions": items})
}
