package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Direction enumerates stock movement directions.
type Direction string

const (
	// DirectionIn represents an inbound movement.
	DirectionIn Direction = "IN"
	// DirectionOut represents an outbound movement.
	DirectionOut Direction = "OUT"
)

// StockBalance holds the running quantity per product and warehouse.
// Qty always equals the sum of RemainingQty over the key's cost layers.
type StockBalance struct {
	ID          int64
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Qty         decimal.Decimal
	UpdatedAt   time.Time
}

// Movement is one append-only ledger row. Rows are never updated or deleted.
// For IN the unit cost is the acquisition cost; for OUT it is the weighted
// average cost of the layers consumed.
type Movement struct {
	ID            int64
	StockID       int64
	TransactionID uuid.UUID
	Direction     Direction
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	CreatedAt     time.Time
}

// CostLayer is a FIFO lot created by one IN movement. RemainingQty only
// decreases; an exhausted layer (zero remaining) is kept for audit.
type CostLayer struct {
	ID          int64
	StockID     int64
	MovementID  int64
	UnitCost    decimal.Decimal
	RemainingQty decimal.Decimal
	CreatedAt   time.Time
}

// MovementInput describes one stock effect to apply.
type MovementInput struct {
	ProductID     uuid.UUID
	WarehouseID   uuid.UUID
	TransactionID uuid.UUID
	Direction     Direction
	BaseQty       decimal.Decimal
	UnitCost      decimal.Decimal
}

// MovementResult reports the applied effect. For OUT movements UnitCost is
// the weighted average across consumed layers and TotalCost the exact
// consumption cost.
type MovementResult struct {
	MovementID    int64
	Direction     Direction
	Qty           decimal.Decimal
	UnitCost      decimal.Decimal
	TotalCost     decimal.Decimal
	BalanceQty    decimal.Decimal
	LayersTouched int
}

var (
	// ErrInsufficientStock triggered when an outbound movement exceeds the
	// layered quantity available for the stock key.
	ErrInsufficientStock = errors.New("ledger: insufficient stock")
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = errors.New("ledger: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative inbound cost.
	ErrInvalidUnitCost = errors.New("ledger: unit cost must be >= 0")
)
