package posting

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Type enumerates transaction families.
type Type string

const (
	TypePurchase       Type = "purchase"
	TypeSales          Type = "sales"
	TypeSalesReturn    Type = "sales_return"
	TypePurchaseReturn Type = "purchase_return"
	TypeTransferStock  Type = "transfer_stock"
	TypeAdjustment     Type = "adjustment"
)

// AllTypes lists every transaction type; the closed set account mappings
// are validated against at boot.
func AllTypes() []Type {
	return []Type{TypePurchase, TypeSales, TypeSalesReturn, TypePurchaseReturn, TypeTransferStock, TypeAdjustment}
}

// Status enumerates transaction lifecycle values.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusOrder     Status = "order"
	StatusPosted    Status = "posted"
	StatusPartial   Status = "partial"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// codePrefixes drive transaction code generation per type.
var codePrefixes = map[Type]string{
	TypePurchase:       "P",
	TypeSales:          "S",
	TypeSalesReturn:    "SR",
	TypePurchaseReturn: "PR",
	TypeTransferStock:  "TS",
	TypeAdjustment:     "ADJ",
}

// typeDirections fixes the line direction per type. Adjustments and
// transfers carry per-line directions instead.
var typeDirections = map[Type]int{
	TypePurchase:       1,
	TypeSales:          -1,
	TypeSalesReturn:    1,
	TypePurchaseReturn: -1,
}

// Direction returns the fixed line direction for a type, or 0 when the
// type carries per-line directions.
func (t Type) Direction() int {
	return typeDirections[t]
}

// Prefix returns the transaction code prefix.
func (t Type) Prefix() string {
	return codePrefixes[t]
}

// Valid reports whether t is a known type.
func (t Type) Valid() bool {
	_, ok := codePrefixes[t]
	return ok
}

// HasOpenItem reports whether posting t creates a receivable or payable.
func (t Type) HasOpenItem() bool {
	switch t {
	case TypePurchase, TypeSales, TypePurchaseReturn, TypeSalesReturn:
		return true
	}
	return false
}

// HasJournal reports whether posting t writes accounting entries.
// Transfers relocate stock without touching the books.
func (t Type) HasJournal() bool {
	return t != TypeTransferStock
}

// Transaction is the header entity. Created in draft/order by the CRUD
// layer; mutated only by the posting and void orchestrators afterwards;
// never physically deleted.
type Transaction struct {
	ID          uuid.UUID
	Code        string
	Type        Type
	Status      Status
	Date        time.Time
	ContactID   uuid.UUID
	TermDays    int
	Reference   string
	TotalAmount decimal.Decimal
	ParentID    uuid.UUID
	CreatedBy   uuid.UUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Line is one product movement of a transaction. UnitCost and TotalCost of
// outbound lines are written by the costing engine at posting time and are
// zero before that.
type Line struct {
	ID            uuid.UUID
	TransactionID uuid.UUID
	ProductID     uuid.UUID
	WarehouseID   uuid.UUID
	Qty           decimal.Decimal
	BaseRatio     decimal.Decimal
	Direction     int
	UnitPrice     decimal.Decimal
	Amount        decimal.Decimal
	UnitCost      decimal.Decimal
	TotalCost     decimal.Decimal
}

// BaseQty converts the line's packaging quantity to base units.
func (l Line) BaseQty() decimal.Decimal {
	return l.Qty.Mul(l.BaseRatio)
}

// PostedResult is returned on a successful posting.
type PostedResult struct {
	Transaction Transaction
	JournalID   uuid.UUID
	OpenItemID  uuid.UUID
	CostTotal   decimal.Decimal
}

// VoidResult is returned on a successful void.
type VoidResult struct {
	Original  Transaction
	Reversal  Transaction
	JournalID uuid.UUID
}

var (
	// ErrNotFound indicates a missing transaction.
	ErrNotFound = errors.New("posting: transaction not found")
	// ErrAlreadyPosted indicates the transaction advanced past its legal
	// pre-posted set; callers must not retry blindly.
	ErrAlreadyPosted = errors.New("posting: transaction already posted")
	// ErrDuplicateJournal indicates a journal already references the
	// transaction; the idempotency guard for retried requests.
	ErrDuplicateJournal = errors.New("posting: journal already exists for transaction")
	// ErrInvalidTransition indicates an illegal status change, such as
	// editing a posted transaction.
	ErrInvalidTransition = errors.New("posting: invalid status transition")
	// ErrInvalidVoidState indicates voiding a transaction that is not posted.
	ErrInvalidVoidState = errors.New("posting: only posted transactions can be voided")
	// ErrHasPayments indicates the open item has settlements; payments must
	// be voided before the transaction can be.
	ErrHasPayments = errors.New("posting: transaction has payments applied")
	// ErrNoLines indicates a transaction without line items.
	ErrNoLines = errors.New("posting: transaction has no lines")
	// ErrUnbalancedTransfer indicates transfer legs that do not move the
	// same base quantity per product.
	ErrUnbalancedTransfer = errors.New("posting: transfer legs must balance per product")
)
