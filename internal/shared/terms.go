package shared

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ContactTerms resolves counterparty payment terms from master data.
type ContactTerms struct {
	pool *pgxpool.Pool
}

// NewContactTerms constructs ContactTerms.
func NewContactTerms(pool *pgxpool.Pool) *ContactTerms {
	return &ContactTerms{pool: pool}
}

// TermDays returns the contact's payment term in days. Unknown contacts get
// zero, due on the transaction date.
func (c *ContactTerms) TermDays(ctx context.Context, contactID uuid.UUID) (int, error) {
	var days int
	err := c.pool.QueryRow(ctx, `SELECT COALESCE(term_days, 0) FROM contacts WHERE id=$1`, contactID).Scan(&days)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return days, nil
}
