package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrBalanceNotFound indicates a missing balance row.
var ErrBalanceNotFound = errors.New("ledger: stock balance not found")

// Repository serves committed ledger reads for collaborators. All writes go
// through the posting orchestrator's unit of work, never through here.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetBalance returns the current balance for a stock key.
func (r *Repository) GetBalance(ctx context.Context, productID, warehouseID uuid.UUID) (StockBalance, error) {
	var bal StockBalance
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, warehouse_id, qty, updated_at
FROM stock_balances WHERE product_id=$1 AND warehouse_id=$2`, productID, warehouseID).
		Scan(&bal.ID, &bal.ProductID, &bal.WarehouseID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StockBalance{}, ErrBalanceNotFound
		}
		return StockBalance{}, err
	}
	return bal, nil
}

// ListMovements returns the movement history for a stock key, oldest first.
func (r *Repository) ListMovements(ctx context.Context, productID, warehouseID uuid.UUID, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT m.id, m.stock_id, m.transaction_id, m.direction, m.qty, m.unit_cost, m.created_at
FROM stock_movements m
JOIN stock_balances b ON b.id = m.stock_id
WHERE b.product_id=$1 AND b.warehouse_id=$2
ORDER BY m.created_at ASC, m.id ASC
LIMIT $3`, productID, warehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListMovementsByTransaction returns every movement a transaction produced.
func (r *Repository) ListMovementsByTransaction(ctx context.Context, transactionID uuid.UUID) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, stock_id, transaction_id, direction, qty, unit_cost, created_at
FROM stock_movements WHERE transaction_id=$1 ORDER BY created_at ASC, id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// ListLayers returns the cost layers for a stock key in FIFO order,
// exhausted layers included.
func (r *Repository) ListLayers(ctx context.Context, productID, warehouseID uuid.UUID) ([]CostLayer, error) {
	rows, err := r.pool.Query(ctx, `SELECT l.id, l.stock_id, l.movement_id, l.unit_cost, l.remaining_qty, l.created_at
FROM cost_layers l
JOIN stock_balances b ON b.id = l.stock_id
WHERE b.product_id=$1 AND b.warehouse_id=$2
ORDER BY l.created_at ASC, l.id ASC`, productID, warehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []CostLayer
	for rows.Next() {
		var l CostLayer
		if err := rows.Scan(&l.ID, &l.StockID, &l.MovementID, &l.UnitCost, &l.RemainingQty, &l.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}
	return layers, rows.Err()
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	var moves []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.StockID, &m.TransactionID, &m.Direction, &m.Qty, &m.UnitCost, &m.CreatedAt); err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}
