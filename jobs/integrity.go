package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const defaultScanLimit = 1000

// Scanner runs the periodic integrity checks over committed data. It only
// reads; violations are logged and counted, never repaired automatically.
type Scanner struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewScanner constructs Scanner.
func NewScanner(pool *pgxpool.Pool, logger *slog.Logger) *Scanner {
	return &Scanner{pool: pool, logger: logger}
}

// RunLedgerIntegrity reports every stock key whose balance quantity drifted
// from the sum of its layers' remaining quantities. Both are written in the
// same unit of work, so any mismatch means corruption.
func (s *Scanner) RunLedgerIntegrity(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	rows, err := s.pool.Query(ctx, `SELECT b.id, b.product_id, b.warehouse_id, b.qty, COALESCE(SUM(l.remaining_qty), 0) AS layered
FROM stock_balances b
LEFT JOIN cost_layers l ON l.stock_id = b.id
GROUP BY b.id, b.product_id, b.warehouse_id, b.qty
HAVING b.qty <> COALESCE(SUM(l.remaining_qty), 0)
LIMIT $1`, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	violations := 0
	for rows.Next() {
		var stockID int64
		var productID, warehouseID string
		var qty, layered decimal.Decimal
		if err := rows.Scan(&stockID, &productID, &warehouseID, &qty, &layered); err != nil {
			return violations, err
		}
		violations++
		s.logger.Error("stock balance drift",
			slog.Int64("stock_id", stockID),
			slog.String("product_id", productID),
			slog.String("warehouse_id", warehouseID),
			slog.String("balance_qty", qty.String()),
			slog.String("layered_qty", layered.String()))
	}
	if err := rows.Err(); err != nil {
		return violations, err
	}
	s.logger.Info("ledger integrity scan finished", slog.Int("violations", violations))
	return violations, nil
}

// RunJournalBalance reports every journal whose entries do not balance.
func (s *Scanner) RunJournalBalance(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultScanLimit
	}
	rows, err := s.pool.Query(ctx, `SELECT j.id, SUM(e.debit) AS debits, SUM(e.credit) AS credits
FROM journals j
JOIN journal_entries e ON e.journal_id = j.id
GROUP BY j.id
HAVING SUM(e.debit) <> SUM(e.credit)
LIMIT $1`, limit)
	if err != nil {
		return 0, err
	}
	defer rows.Close()
	violations := 0
	for rows.Next() {
		var journalID string
		var debits, credits decimal.Decimal
		if err := rows.Scan(&journalID, &debits, &credits); err != nil {
			return violations, err
		}
		violations++
		s.logger.Error("unbalanced journal",
			slog.String("journal_id", journalID),
			slog.String("debits", debits.String()),
			slog.String("credits", credits.String()))
	}
	if err := rows.Err(); err != nil {
		return violations, err
	}
	s.logger.Info("journal balance scan finished", slog.Int("violations", violations))
	return violations, nil
}

// HandleLedgerIntegrityTask adapts the stock scan to an Asynq handler.
func (s *Scanner) HandleLedgerIntegrityTask(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := s.RunLedgerIntegrity(ctx, payload.Limit)
	return err
}

// HandleJournalBalanceTask adapts the journal scan to an Asynq handler.
func (s *Scanner) HandleJournalBalanceTask(ctx context.Context, t *asynq.Task) error {
	var payload ScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	_, err := s.RunJournalBalance(ctx, payload.Limit)
	return err
}
