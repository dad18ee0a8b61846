package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// currencyScale is the ledger's currency precision. Average costs are
// rounded to this scale only when recorded, never mid-computation.
const currencyScale = 2

// Tx exposes the transactional operations the costing engine needs. The
// posting repository implements it over pgx so ledger writes share the
// orchestrator's unit of work; tests implement it in memory.
//
// Lock order is fixed: the balance row first, then its open layers in FIFO
// order. Two concurrent OUT movements on the same key must not both see the
// same unconsumed layer quantity.
type Tx interface {
	// GetOrCreateBalanceForUpdate returns the balance row for the key,
	// creating a zero row when absent, locked for the rest of the unit.
	GetOrCreateBalanceForUpdate(ctx context.Context, in MovementInput) (StockBalance, error)
	// GetOpenLayersForUpdate returns layers with remaining quantity, locked,
	// ordered by (created_at, id) ascending.
	GetOpenLayersForUpdate(ctx context.Context, stockID int64) ([]CostLayer, error)
	UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	InsertLayer(ctx context.Context, layer CostLayer) (int64, error)
	UpdateBalanceQty(ctx context.Context, stockID int64, qty decimal.Decimal) error
}

// Engine applies FIFO-costed stock movements.
type Engine struct{}

// NewEngine builds Engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Apply records one movement inside the caller's unit of work.
//
// Inbound movements create a new cost layer at the supplied unit cost.
// Outbound movements consume open layers oldest-first and fail with
// ErrInsufficientStock when the layers exhaust before the requested
// quantity; the caller must then abort the whole unit.
func (e *Engine) Apply(ctx context.Context, tx Tx, in MovementInput) (MovementResult, error) {
	if in.ProductID == uuid.Nil || in.WarehouseID == uuid.Nil {
		return MovementResult{}, fmt.Errorf("ledger: product and warehouse required")
	}
	if !in.BaseQty.IsPositive() {
		return MovementResult{}, ErrInvalidQuantity
	}
	balance, err := tx.GetOrCreateBalanceForUpdate(ctx, in)
	if err != nil {
		return MovementResult{}, err
	}
	switch in.Direction {
	case DirectionIn:
		return e.applyIn(ctx, tx, in, balance)
	case DirectionOut:
		return e.applyOut(ctx, tx, in, balance)
	default:
		return MovementResult{}, fmt.Errorf("ledger: unknown direction %q", in.Direction)
	}
}

func (e *Engine) applyIn(ctx context.Context, tx Tx, in MovementInput, balance StockBalance) (MovementResult, error) {
	if in.UnitCost.IsNegative() {
		return MovementResult{}, ErrInvalidUnitCost
	}
	movementID, err := tx.InsertMovement(ctx, Movement{
		StockID:       balance.ID,
		TransactionID: in.TransactionID,
		Direction:     DirectionIn,
		Qty:           in.BaseQty,
		UnitCost:      in.UnitCost,
	})
	if err != nil {
		return MovementResult{}, err
	}
	if _, err := tx.InsertLayer(ctx, CostLayer{
		StockID:      balance.ID,
		MovementID:   movementID,
		UnitCost:     in.UnitCost,
		RemainingQty: in.BaseQty,
	}); err != nil {
		return MovementResult{}, err
	}
	newQty := balance.Qty.Add(in.BaseQty)
	if err := tx.UpdateBalanceQty(ctx, balance.ID, newQty); err != nil {
		return MovementResult{}, err
	}
	return MovementResult{
		MovementID: movementID,
		Direction:  DirectionIn,
		Qty:        in.BaseQty,
		UnitCost:   in.UnitCost,
		TotalCost:  in.BaseQty.Mul(in.UnitCost),
		BalanceQty: newQty,
	}, nil
}

func (e *Engine) applyOut(ctx context.Context, tx Tx, in MovementInput, balance StockBalance) (MovementResult, error) {
	layers, err := tx.GetOpenLayersForUpdate(ctx, balance.ID)
	if err != nil {
		return MovementResult{}, err
	}
	outstanding := in.BaseQty
	totalCost := decimal.Zero
	consumed := decimal.Zero
	touched := 0
	for _, layer := range layers {
		if !outstanding.IsPositive() {
			break
		}
		used := decimal.Min(layer.RemainingQty, outstanding)
		outstanding = outstanding.Sub(used)
		totalCost = totalCost.Add(used.Mul(layer.UnitCost))
		consumed = consumed.Add(used)
		touched++
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, layer.RemainingQty.Sub(used)); err != nil {
			return MovementResult{}, err
		}
	}
	if outstanding.IsPositive() {
		return MovementResult{}, fmt.Errorf("%w: product %s short by %s", ErrInsufficientStock, in.ProductID, outstanding)
	}
	avgCost := totalCost.Div(consumed).Round(currencyScale)
	movementID, err := tx.InsertMovement(ctx, Movement{
		StockID:       balance.ID,
		TransactionID: in.TransactionID,
		Direction:     DirectionOut,
		Qty:           in.BaseQty,
		UnitCost:      avgCost,
	})
	if err != nil {
		return MovementResult{}, err
	}
	newQty := balance.Qty.Sub(in.BaseQty)
	if err := tx.UpdateBalanceQty(ctx, balance.ID, newQty); err != nil {
		return MovementResult{}, err
	}
	return MovementResult{
		MovementID:    movementID,
		Direction:     DirectionOut,
		Qty:           in.BaseQty,
		UnitCost:      avgCost,
		TotalCost:     totalCost,
		BalanceQty:    newQty,
		LayersTouched: touched,
	}, nil
}
