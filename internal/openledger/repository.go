package openledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists open ledger items.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByTransaction returns the open item created for a transaction.
func (r *Repository) GetByTransaction(ctx context.Context, transactionID uuid.UUID) (Item, error) {
	var item Item
	err := r.pool.QueryRow(ctx, `SELECT id, transaction_id, contact_id, kind, due_date, amount, paid_amount, status, created_at
FROM open_ledger_items WHERE transaction_id=$1`, transactionID).
		Scan(&item.ID, &item.TransactionID, &item.ContactID, &item.Kind, &item.DueDate, &item.Amount, &item.PaidAmount, &item.Status, &item.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// ListByContact lists items for one counterparty, optionally filtered by
// status, oldest due first.
func (r *Repository) ListByContact(ctx context.Context, contactID uuid.UUID, status Status) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, contact_id, kind, due_date, amount, paid_amount, status, created_at
FROM open_ledger_items
WHERE contact_id=$1 AND ($2='' OR status=$2)
ORDER BY due_date ASC, created_at ASC`, contactID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.TransactionID, &item.ContactID, &item.Kind, &item.DueDate, &item.Amount, &item.PaidAmount, &item.Status, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ApplyPayment adds a settlement amount to an item inside its own unit of
// work and returns the updated item. The payment module calls this; the
// caller is expected to relay the resulting status to the posting service
// so the transaction can move to partial or paid.
func (r *Repository) ApplyPayment(ctx context.Context, itemID uuid.UUID, amount decimal.Decimal) (Item, error) {
	if !amount.IsPositive() {
		return Item{}, ErrInvalidAmount
	}
	var item Item
	err := pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead}, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `SELECT id, transaction_id, contact_id, kind, due_date, amount, paid_amount, status, created_at
FROM open_ledger_items WHERE id=$1 FOR UPDATE`, itemID).
			Scan(&item.ID, &item.TransactionID, &item.ContactID, &item.Kind, &item.DueDate, &item.Amount, &item.PaidAmount, &item.Status, &item.CreatedAt)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrItemNotFound
			}
			return err
		}
		paid := item.PaidAmount.Add(amount)
		if paid.GreaterThan(item.Amount) {
			return ErrOverpayment
		}
		item.PaidAmount = paid
		item.Status = StatusForPaid(item.Amount, paid)
		_, err = tx.Exec(ctx, `UPDATE open_ledger_items SET paid_amount=$2, status=$3 WHERE id=$1`,
			item.ID, item.PaidAmount, string(item.Status))
		return err
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}
