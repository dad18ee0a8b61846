package accounting

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side tags a mapping or entry as the debit or credit leg.
type Side string

const (
	SideDebit  Side = "debit"
	SideCredit Side = "credit"
)

// JournalStatus enumerates journal lifecycle values.
type JournalStatus string

const (
	JournalStatusPosted JournalStatus = "posted"
)

// Journal is created once per posting event, original or reversal.
type Journal struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	Date          time.Time
	Description   string
	Status        JournalStatus
	Reversal      bool
	CreatedAt     time.Time
	Entries       []Entry
}

// Entry is one debit or credit row of a journal.
type Entry struct {
	ID          uuid.UUID
	JournalID   uuid.UUID
	GLAccountID uuid.UUID
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Note        string
}

var (
	// ErrUnbalanced indicates total debit != total credit.
	ErrUnbalanced = errors.New("accounting: journal entries must balance")
	// ErrNoEntries indicates a journal without entries.
	ErrNoEntries = errors.New("accounting: journal requires entries")
	// ErrMissingMapping indicates a configuration gap; fatal, surfaced to an
	// operator rather than retried.
	ErrMissingMapping = errors.New("accounting: account mapping not found")
)

// Validate ensures the journal holds at least one entry and that debits and
// credits balance exactly.
func (j Journal) Validate() error {
	if len(j.Entries) == 0 {
		return ErrNoEntries
	}
	debit := decimal.Zero
	credit := decimal.Zero
	for idx, e := range j.Entries {
		if e.GLAccountID == uuid.Nil {
			return fmt.Errorf("accounting: entry %d missing account", idx)
		}
		if e.Debit.IsNegative() || e.Credit.IsNegative() {
			return fmt.Errorf("accounting: entry %d negative amount", idx)
		}
		if e.Debit.IsPositive() && e.Credit.IsPositive() {
			return fmt.Errorf("accounting: entry %d cannot be both debit and credit", idx)
		}
		debit = debit.Add(e.Debit)
		credit = credit.Add(e.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalanced, debit, credit)
	}
	return nil
}
