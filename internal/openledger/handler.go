package openledger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keystone-erp/keystone-erp/internal/platform/httpx"
)

// SettleFunc relays an item's settlement status to the transaction state
// machine after a payment lands.
type SettleFunc func(ctx context.Context, transactionID uuid.UUID, settlement Status) error

// Handler serves open receivable/payable endpoints.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
	settle SettleFunc
}

// NewHandler constructs the open ledger handler.
func NewHandler(logger *slog.Logger, repo *Repository, settle SettleFunc) *Handler {
	return &Handler{logger: logger, repo: repo, settle: settle}
}

// MountRoutes registers open item routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/by-transaction/{transactionID}", h.handleByTransaction)
	r.Post("/{id}/payments", h.handlePayment)
}

type itemResponse struct {
	ID            string `json:"id"`
	TransactionID string `json:"transaction_id"`
	ContactID     string `json:"contact_id,omitempty"`
	Kind          string `json:"kind"`
	DueDate       string `json:"due_date"`
	Amount        string `json:"amount"`
	PaidAmount    string `json:"paid_amount"`
	Status        string `json:"status"`
}

type paymentRequest struct {
	Amount string `json:"amount"`
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	contactID, err := uuid.Parse(r.URL.Query().Get("contact_id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "contact_id is required")
		return
	}
	status := Status(r.URL.Query().Get("status"))
	switch status {
	case "", StatusOpen, StatusPartial, StatusPaid:
	default:
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status filter")
		return
	}
	items, err := h.repo.ListByContact(r.Context(), contactID, status)
	if err != nil {
		h.logger.Error("list open items", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := make([]itemResponse, 0, len(items))
	for _, item := range items {
		resp = append(resp, toItemResponse(item))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleByTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	item, err := h.repo.GetByTransaction(r.Context(), transactionID)
	if err != nil {
		h.respondErr(w, "get open item", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "amount is not a decimal")
		return
	}
	item, err := h.repo.ApplyPayment(r.Context(), id, amount)
	if err != nil {
		h.respondErr(w, "apply payment", err)
		return
	}
	if h.settle != nil && item.Status != StatusOpen {
		if err := h.settle(r.Context(), item.TransactionID, item.Status); err != nil {
			// Payment is committed; the transaction status catches up on the
			// next settlement.
			h.logger.Error("relay settlement",
				slog.String("transaction_id", item.TransactionID.String()),
				slog.Any("error", err))
		}
	}
	httpx.JSON(w, http.StatusOK, toItemResponse(item))
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrOverpayment):
		httpx.Problem(w, http.StatusConflict, "Overpayment", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toItemResponse(item Item) itemResponse {
	resp := itemResponse{
		ID:            item.ID.String(),
		TransactionID: item.TransactionID.String(),
		Kind:          string(item.Kind),
		DueDate:       item.DueDate.Format("2006-01-02"),
		Amount:        item.Amount.String(),
		PaidAmount:    item.PaidAmount.String(),
		Status:        string(item.Status),
	}
	if item.ContactID != uuid.Nil {
		resp.ContactID = item.ContactID.String()
	}
	return resp
}
