package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/keystone-erp/keystone-erp/internal/platform/httpx"
)

// Handler serves read-only stock queries.
type Handler struct {
	logger *slog.Logger
	repo   *Repository
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, repo *Repository) *Handler {
	return &Handler{logger: logger, repo: repo}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/balance", h.handleBalance)
	r.Get("/movements", h.handleMovements)
	r.Get("/layers", h.handleLayers)
}

type balanceResponse struct {
	ProductID   string `json:"product_id"`
	WarehouseID string `json:"warehouse_id"`
	Qty         string `json:"qty"`
	UpdatedAt   string `json:"updated_at"`
}

type movementResponse struct {
	ID            int64  `json:"id"`
	TransactionID string `json:"transaction_id,omitempty"`
	Direction     string `json:"direction"`
	Qty           string `json:"qty"`
	UnitCost      string `json:"unit_cost"`
	CreatedAt     string `json:"created_at"`
}

type layerResponse struct {
	ID           int64  `json:"id"`
	MovementID   int64  `json:"movement_id"`
	UnitCost     string `json:"unit_cost"`
	RemainingQty string `json:"remaining_qty"`
	CreatedAt    string `json:"created_at"`
}

func stockKey(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	productID, err := uuid.Parse(r.URL.Query().Get("product_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("product_id is required")
	}
	warehouseID, err := uuid.Parse(r.URL.Query().Get("warehouse_id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, errors.New("warehouse_id is required")
	}
	return productID, warehouseID, nil
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := stockKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	bal, err := h.repo.GetBalance(r.Context(), productID, warehouseID)
	if err != nil {
		if errors.Is(err, ErrBalanceNotFound) {
			httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
			return
		}
		h.logger.Error("get balance", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, balanceResponse{
		ProductID:   bal.ProductID.String(),
		WarehouseID: bal.WarehouseID.String(),
		Qty:         bal.Qty.String(),
		UpdatedAt:   bal.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	// A transaction id narrows the history to one posting or void.
	if raw := r.URL.Query().Get("transaction_id"); raw != "" {
		transactionID, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "transaction_id is not a uuid")
			return
		}
		moves, err := h.repo.ListMovementsByTransaction(r.Context(), transactionID)
		if err != nil {
			h.logger.Error("list movements", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusOK, toMovementResponses(moves))
		return
	}
	productID, warehouseID, err := stockKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	moves, err := h.repo.ListMovements(r.Context(), productID, warehouseID, limit)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toMovementResponses(moves))
}

func (h *Handler) handleLayers(w http.ResponseWriter, r *http.Request) {
	productID, warehouseID, err := stockKey(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	layers, err := h.repo.ListLayers(r.Context(), productID, warehouseID)
	if err != nil {
		h.logger.Error("list layers", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := make([]layerResponse, 0, len(layers))
	for _, l := range layers {
		resp = append(resp, layerResponse{
			ID:           l.ID,
			MovementID:   l.MovementID,
			UnitCost:     l.UnitCost.String(),
			RemainingQty: l.RemainingQty.String(),
			CreatedAt:    l.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func toMovementResponses(moves []Movement) []movementResponse {
	resp := make([]movementResponse, 0, len(moves))
	for _, m := range moves {
		mr := movementResponse{
			ID:        m.ID,
			Direction: string(m.Direction),
			Qty:       m.Qty.String(),
			UnitCost:  m.UnitCost.String(),
			CreatedAt: m.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		}
		if m.TransactionID != uuid.Nil {
			mr.TransactionID = m.TransactionID.String()
		}
		resp = append(resp, mr)
	}
	return resp
}
