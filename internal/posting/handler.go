package posting

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keystone-erp/keystone-erp/internal/accounting"
	"github.com/keystone-erp/keystone-erp/internal/ledger"
	"github.com/keystone-erp/keystone-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the transaction lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the posting handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers transaction routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleCreate)
	r.Get("/{id}", h.handleGet)
	r.Post("/{id}/post", h.handlePost)
	r.Post("/{id}/void", h.handleVoid)
}

type lineRequest struct {
	ProductID   string `json:"product_id" validate:"required,uuid"`
	WarehouseID string `json:"warehouse_id" validate:"required,uuid"`
	Qty         string `json:"qty" validate:"required"`
	BaseRatio   string `json:"base_ratio"`
	Direction   int    `json:"direction" validate:"oneof=-1 0 1"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
	UnitCost    string `json:"unit_cost"`
}

type createRequest struct {
	Type      string        `json:"type" validate:"required,oneof=purchase sales sales_return purchase_return transfer_stock adjustment"`
	Status    string        `json:"status" validate:"omitempty,oneof=draft order"`
	Date      string        `json:"date" validate:"omitempty,datetime=2006-01-02"`
	ContactID string        `json:"contact_id" validate:"omitempty,uuid"`
	TermDays  int           `json:"term_days" validate:"gte=0"`
	Reference string        `json:"reference"`
	Lines     []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type lineResponse struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	Qty         string `json:"qty"`
	BaseRatio   string `json:"base_ratio"`
	Direction   int    `json:"direction"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
	UnitCost    string `json:"unit_cost"`
	TotalCost   string `json:"total_cost"`
}

type transactionResponse struct {
	ID          string         `json:"id"`
	Code        string         `json:"code"`
	Type        string         `json:"type"`
	Status      string         `json:"status"`
	Date        string         `json:"date"`
	ContactID   string         `json:"contact_id,omitempty"`
	TermDays    int            `json:"term_days"`
	Reference   string         `json:"reference,omitempty"`
	TotalAmount string         `json:"total_amount"`
	ParentID    string         `json:"parent_id,omitempty"`
	Lines       []lineResponse `json:"lines,omitempty"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := req.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	trx, err := h.service.CreateDraft(r.Context(), input, actorID(r))
	if err != nil {
		h.respondErr(w, "create transaction", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toTransactionResponse(trx, nil))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	trx, lines, err := h.service.GetTransaction(r.Context(), id)
	if err != nil {
		h.respondErr(w, "get transaction", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toTransactionResponse(trx, lines))
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	result, err := h.service.Post(r.Context(), id, actorID(r))
	if err != nil {
		h.respondErr(w, "post transaction", err)
		return
	}
	h.logger.Info("transaction posted",
		slog.String("code", result.Transaction.Code),
		slog.String("type", string(result.Transaction.Type)))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"transaction":  toTransactionResponse(result.Transaction, nil),
		"journal_id":   idOrEmpty(result.JournalID),
		"open_item_id": idOrEmpty(result.OpenItemID),
		"cost_total":   result.CostTotal.String(),
	})
}

func (h *Handler) handleVoid(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid ID", err.Error())
		return
	}
	result, err := h.service.Void(r.Context(), id, actorID(r))
	if err != nil {
		h.respondErr(w, "void transaction", err)
		return
	}
	h.logger.Info("transaction voided",
		slog.String("code", result.Original.Code),
		slog.String("reversal_code", result.Reversal.Code))
	httpx.JSON(w, http.StatusOK, map[string]any{
		"original": toTransactionResponse(result.Original, nil),
		"reversal": toTransactionResponse(result.Reversal, nil),
	})
}

func (h *Handler) respondErr(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ledger.ErrInsufficientStock):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Insufficient Stock", err.Error())
	case errors.Is(err, ErrAlreadyPosted),
		errors.Is(err, ErrDuplicateJournal),
		errors.Is(err, ErrInvalidVoidState),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrHasPayments):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrNoLines),
		errors.Is(err, ErrUnbalancedTransfer),
		errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidUnitCost):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, accounting.ErrMissingMapping),
		errors.Is(err, accounting.ErrUnbalanced):
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Accounting Configuration", "")
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func (req createRequest) toInput() (CreateInput, error) {
	input := CreateInput{
		Type:      Type(req.Type),
		Status:    Status(req.Status),
		TermDays:  req.TermDays,
		Reference: req.Reference,
	}
	if req.Date != "" {
		date, err := time.Parse("2006-01-02", req.Date)
		if err != nil {
			return CreateInput{}, err
		}
		input.Date = date
	}
	if req.ContactID != "" {
		contactID, err := uuid.Parse(req.ContactID)
		if err != nil {
			return CreateInput{}, err
		}
		input.ContactID = contactID
	}
	for _, lr := range req.Lines {
		li, err := lr.toInput()
		if err != nil {
			return CreateInput{}, err
		}
		input.Lines = append(input.Lines, li)
	}
	return input, nil
}

func (req lineRequest) toInput() (LineInput, error) {
	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		return LineInput{}, err
	}
	warehouseID, err := uuid.Parse(req.WarehouseID)
	if err != nil {
		return LineInput{}, err
	}
	li := LineInput{ProductID: productID, WarehouseID: warehouseID, Direction: req.Direction}
	if li.Qty, err = decimal.NewFromString(req.Qty); err != nil {
		return LineInput{}, err
	}
	for _, field := range []struct {
		raw  string
		dest *decimal.Decimal
	}{
		{req.BaseRatio, &li.BaseRatio},
		{req.UnitPrice, &li.UnitPrice},
		{req.Amount, &li.Amount},
		{req.UnitCost, &li.UnitCost},
	} {
		if field.raw == "" {
			continue
		}
		if *field.dest, err = decimal.NewFromString(field.raw); err != nil {
			return LineInput{}, err
		}
	}
	return li, nil
}

func toTransactionResponse(trx Transaction, lines []Line) transactionResponse {
	resp := transactionResponse{
		ID:          trx.ID.String(),
		Code:        trx.Code,
		Type:        string(trx.Type),
		Status:      string(trx.Status),
		Date:        trx.Date.Format("2006-01-02"),
		ContactID:   idOrEmpty(trx.ContactID),
		TermDays:    trx.TermDays,
		Reference:   trx.Reference,
		TotalAmount: trx.TotalAmount.String(),
		ParentID:    idOrEmpty(trx.ParentID),
	}
	for _, line := range lines {
		resp.Lines = append(resp.Lines, lineResponse{
			ID:          line.ID.String(),
			ProductID:   line.ProductID.String(),
			WarehouseID: line.WarehouseID.String(),
			Qty:         line.Qty.String(),
			BaseRatio:   line.BaseRatio.String(),
			Direction:   line.Direction,
			UnitPrice:   line.UnitPrice.String(),
			Amount:      line.Amount.String(),
			UnitCost:    line.UnitCost.String(),
			TotalCost:   line.TotalCost.String(),
		})
	}
	return resp
}

func idOrEmpty(id uuid.UUID) string {
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// actorID reads the acting user from the gateway-injected header. Identity
// and access control live outside this service.
func actorID(r *http.Request) uuid.UUID {
	id, err := uuid.Parse(r.Header.Get("X-Actor-ID"))
	if err != nil {
		return uuid.Nil
	}
	return id
}
