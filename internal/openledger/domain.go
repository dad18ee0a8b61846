package openledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind distinguishes money owed to us from money we owe.
type Kind string

const (
	KindReceivable Kind = "receivable"
	KindPayable    Kind = "payable"
)

// Status tracks settlement progress of an open item.
type Status string

const (
	StatusOpen    Status = "open"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
)

// Item is the unsettled receivable or payable a posted purchase/sales
// family transaction produces. The payment module mutates PaidAmount; the
// posting engine only creates and deletes items.
type Item struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	ContactID     uuid.UUID
	Kind          Kind
	DueDate       time.Time
	Amount        decimal.Decimal
	PaidAmount    decimal.Decimal
	Status        Status
	CreatedAt     time.Time
}

var (
	// ErrItemNotFound indicates a missing open item.
	ErrItemNotFound = errors.New("openledger: item not found")
	// ErrOverpayment indicates a payment exceeding the outstanding amount.
	ErrOverpayment = errors.New("openledger: payment exceeds outstanding amount")
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("openledger: payment amount must be positive")
)

// StatusForPaid derives the settlement status from a paid amount.
func StatusForPaid(amount, paid decimal.Decimal) Status {
	switch {
	case paid.GreaterThanOrEqual(amount):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusOpen
	}
}
