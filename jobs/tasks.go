package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerIntegrity verifies stock balances against their cost layers.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskJournalBalance verifies every journal's debits equal its credits.
	TaskJournalBalance = "journal:balance"
)

// ScanPayload bounds one integrity scan run.
type ScanPayload struct {
	Limit int `json:"limit"`
}

// NewLedgerIntegrityTask constructs an Asynq task for the stock scan.
func NewLedgerIntegrityTask(payload ScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, data), nil
}

// NewJournalBalanceTask constructs an Asynq task for the journal scan.
func NewJournalBalanceTask(payload ScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskJournalBalance, data), nil
}
