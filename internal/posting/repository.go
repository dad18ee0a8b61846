package posting

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/keystone-erp/keystone-erp/internal/accounting"
	"github.com/keystone-erp/keystone-erp/internal/ledger"
	"github.com/keystone-erp/keystone-erp/internal/openledger"
	"github.com/keystone-erp/keystone-erp/internal/platform/db"
)

// Repository persists posting data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside one repeatable-read transaction. The
// whole posting or void either commits or rolls back here.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const transactionColumns = `id, code, tx_type, status, date, contact_id, term_days, reference, total_amount, parent_id, created_by, created_at, updated_at`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var trx Transaction
	var contactID, parentID, createdBy *uuid.UUID
	err := row.Scan(&trx.ID, &trx.Code, &trx.Type, &trx.Status, &trx.Date, &contactID, &trx.TermDays,
		&trx.Reference, &trx.TotalAmount, &parentID, &createdBy, &trx.CreatedAt, &trx.UpdatedAt)
	if err != nil {
		return Transaction{}, err
	}
	if contactID != nil {
		trx.ContactID = *contactID
	}
	if parentID != nil {
		trx.ParentID = *parentID
	}
	if createdBy != nil {
		trx.CreatedBy = *createdBy
	}
	return trx, nil
}

// GetTransaction loads a transaction with its lines from committed state.
func (r *Repository) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, []Line, error) {
	trx, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, nil, ErrNotFound
		}
		return Transaction{}, nil, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, product_id, warehouse_id, qty, base_ratio, direction, unit_price, amount, unit_cost, total_cost
FROM transaction_lines WHERE transaction_id=$1 ORDER BY created_at ASC, id ASC`, id)
	if err != nil {
		return Transaction{}, nil, err
	}
	defer rows.Close()
	lines, err := scanLines(rows)
	if err != nil {
		return Transaction{}, nil, err
	}
	return trx, lines, nil
}

func scanLines(rows pgx.Rows) ([]Line, error) {
	var lines []Line
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ProductID, &line.WarehouseID, &line.Qty,
			&line.BaseRatio, &line.Direction, &line.UnitPrice, &line.Amount, &line.UnitCost, &line.TotalCost); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	trx, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return trx, nil
}

func (r *txRepository) GetLines(ctx context.Context, transactionID uuid.UUID) ([]Line, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, transaction_id, product_id, warehouse_id, qty, base_ratio, direction, unit_price, amount, unit_cost, total_cost
FROM transaction_lines WHERE transaction_id=$1 ORDER BY created_at ASC, id ASC`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanLines(rows)
}

func (r *txRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE transactions SET status=$2, updated_at=NOW() WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) UpdateLineCost(ctx context.Context, lineID uuid.UUID, unitCost, totalCost decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE transaction_lines SET unit_cost=$2, total_cost=$3 WHERE id=$1`, lineID, unitCost, totalCost)
	return err
}

func (r *txRepository) InsertTransaction(ctx context.Context, trx Transaction) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transactions (id, code, tx_type, status, date, contact_id, term_days, reference, total_amount, parent_id, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW(),NOW())`,
		trx.ID, trx.Code, string(trx.Type), string(trx.Status), trx.Date, nullUUID(trx.ContactID), trx.TermDays,
		trx.Reference, trx.TotalAmount, nullUUID(trx.ParentID), nullUUID(trx.CreatedBy))
	return err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO transaction_lines (id, transaction_id, product_id, warehouse_id, qty, base_ratio, direction, unit_price, amount, unit_cost, total_cost, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW())`,
		line.ID, line.TransactionID, line.ProductID, line.WarehouseID, line.Qty, line.BaseRatio, line.Direction,
		line.UnitPrice, line.Amount, line.UnitCost, line.TotalCost)
	return err
}

// NextCode allocates the next sequential transaction code for a type, e.g.
// P-20250901-0042. The counter row is locked by the upsert, so codes are
// unique under concurrent posters.
func (r *txRepository) NextCode(ctx context.Context, t Type) (string, error) {
	var number int64
	err := r.tx.QueryRow(ctx, `INSERT INTO transaction_counters (tx_type, last_number) VALUES ($1, 1)
ON CONFLICT (tx_type) DO UPDATE SET last_number = transaction_counters.last_number + 1
RETURNING last_number`, string(t)).Scan(&number)
	if err != nil {
		return "", err
	}
	var today string
	if err := r.tx.QueryRow(ctx, `SELECT to_char(NOW(), 'YYYYMMDD')`).Scan(&today); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%04d", t.Prefix(), today, number), nil
}

func (r *txRepository) HasJournal(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM journals WHERE transaction_id=$1 AND NOT reversal)`, transactionID).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertJournal(ctx context.Context, journal accounting.Journal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO journals (id, transaction_id, date, description, status, reversal, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		journal.ID, journal.TransactionID, journal.Date, journal.Description, string(journal.Status), journal.Reversal)
	if err != nil {
		var pgErr *pgconn.PgError
		// Unique violation on the non-reversal journal index; a concurrent
		// poster got there first.
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateJournal
		}
		return err
	}
	for _, entry := range journal.Entries {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_entries (id, journal_id, gl_account_id, debit, credit, note)
VALUES ($1,$2,$3,$4,$5,$6)`,
			entry.ID, journal.ID, entry.GLAccountID, entry.Debit, entry.Credit, entry.Note); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetOpenItem(ctx context.Context, transactionID uuid.UUID) (openledger.Item, bool, error) {
	var item openledger.Item
	err := r.tx.QueryRow(ctx, `SELECT id, transaction_id, contact_id, kind, due_date, amount, paid_amount, status, created_at
FROM open_ledger_items WHERE transaction_id=$1 FOR UPDATE`, transactionID).
		Scan(&item.ID, &item.TransactionID, &item.ContactID, &item.Kind, &item.DueDate, &item.Amount, &item.PaidAmount, &item.Status, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return openledger.Item{}, false, nil
		}
		return openledger.Item{}, false, err
	}
	return item, true, nil
}

func (r *txRepository) InsertOpenItem(ctx context.Context, item openledger.Item) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO open_ledger_items (id, transaction_id, contact_id, kind, due_date, amount, paid_amount, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW())`,
		item.ID, item.TransactionID, nullUUID(item.ContactID), string(item.Kind), item.DueDate, item.Amount, item.PaidAmount, string(item.Status))
	return err
}

func (r *txRepository) DeleteOpenItem(ctx context.Context, id uuid.UUID) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM open_ledger_items WHERE id=$1`, id)
	return err
}

// Costing engine port. Lock order is fixed: balance row first, then open
// layers in FIFO order.

func (r *txRepository) GetOrCreateBalanceForUpdate(ctx context.Context, in ledger.MovementInput) (ledger.StockBalance, error) {
	if _, err := r.tx.Exec(ctx, `INSERT INTO stock_balances (product_id, warehouse_id, qty, updated_at)
VALUES ($1,$2,0,NOW()) ON CONFLICT (product_id, warehouse_id) DO NOTHING`, in.ProductID, in.WarehouseID); err != nil {
		return ledger.StockBalance{}, err
	}
	var bal ledger.StockBalance
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, warehouse_id, qty, updated_at
FROM stock_balances WHERE product_id=$1 AND warehouse_id=$2 FOR UPDATE`, in.ProductID, in.WarehouseID).
		Scan(&bal.ID, &bal.ProductID, &bal.WarehouseID, &bal.Qty, &bal.UpdatedAt)
	if err != nil {
		return ledger.StockBalance{}, err
	}
	return bal, nil
}

func (r *txRepository) GetOpenLayersForUpdate(ctx context.Context, stockID int64) ([]ledger.CostLayer, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, stock_id, movement_id, unit_cost, remaining_qty, created_at
FROM cost_layers WHERE stock_id=$1 AND remaining_qty > 0
ORDER BY created_at ASC, id ASC
FOR UPDATE`, stockID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var layers []ledger.CostLayer
	for rows.Next() {
		var layer ledger.CostLayer
		if err := rows.Scan(&layer.ID, &layer.StockID, &layer.MovementID, &layer.UnitCost, &layer.RemainingQty, &layer.CreatedAt); err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE cost_layers SET remaining_qty=$2 WHERE id=$1`, layerID, remaining)
	return err
}

func (r *txRepository) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (stock_id, transaction_id, direction, qty, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`,
		m.StockID, nullUUID(m.TransactionID), string(m.Direction), m.Qty, m.UnitCost).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLayer(ctx context.Context, layer ledger.CostLayer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_layers (stock_id, movement_id, unit_cost, remaining_qty, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`,
		layer.StockID, layer.MovementID, layer.UnitCost, layer.RemainingQty).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateBalanceQty(ctx context.Context, stockID int64, qty decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE stock_balances SET qty=$2, updated_at=NOW() WHERE id=$1`, stockID, qty)
	return err
}

func nullUUID(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id
}
