package posting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/keystone-erp/keystone-erp/internal/accounting"
	"github.com/keystone-erp/keystone-erp/internal/ledger"
	"github.com/keystone-erp/keystone-erp/internal/openledger"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, []Line, error)
}

// TxRepository exposes every operation the orchestrators perform inside one
// atomic unit of work. It embeds the costing engine's port so stock effects
// commit or abort together with journals and open items.
type TxRepository interface {
	ledger.Tx
	GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error)
	GetLines(ctx context.Context, transactionID uuid.UUID) ([]Line, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateLineCost(ctx context.Context, lineID uuid.UUID, unitCost, totalCost decimal.Decimal) error
	InsertTransaction(ctx context.Context, trx Transaction) error
	InsertLine(ctx context.Context, line Line) error
	NextCode(ctx context.Context, t Type) (string, error)
	HasJournal(ctx context.Context, transactionID uuid.UUID) (bool, error)
	InsertJournal(ctx context.Context, journal accounting.Journal) error
	GetOpenItem(ctx context.Context, transactionID uuid.UUID) (openledger.Item, bool, error)
	InsertOpenItem(ctx context.Context, item openledger.Item) error
	DeleteOpenItem(ctx context.Context, id uuid.UUID) error
}

// AuditPort records posting events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// TermsPort resolves a counterparty's payment terms in days. Master data
// owns the contact records; the engine only reads the term.
type TermsPort interface {
	TermDays(ctx context.Context, contactID uuid.UUID) (int, error)
}

// Service drives the transaction lifecycle: posting, voiding, and
// settlement transitions.
type Service struct {
	repo     RepositoryPort
	engine   *ledger.Engine
	mappings *accounting.MappingSet
	audit    AuditPort
	terms    TermsPort
	now      func() time.Time
}

// NewService constructs the posting service.
func NewService(repo RepositoryPort, engine *ledger.Engine, mappings *accounting.MappingSet, audit AuditPort, terms TermsPort) *Service {
	return &Service{repo: repo, engine: engine, mappings: mappings, audit: audit, terms: terms, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInput describes a new transaction before posting.
type CreateInput struct {
	Type      Type
	Status    Status
	Date      time.Time
	ContactID uuid.UUID
	TermDays  int
	Reference string
	Lines     []LineInput
}

// LineInput describes one transaction line.
type LineInput struct {
	ProductID   uuid.UUID
	WarehouseID uuid.UUID
	Qty         decimal.Decimal
	BaseRatio   decimal.Decimal
	Direction   int
	UnitPrice   decimal.Decimal
	Amount      decimal.Decimal
	UnitCost    decimal.Decimal
}

// CreateDraft records a new transaction in a pre-posted state and allocates
// its code. Stock and accounting are untouched until Post.
func (s *Service) CreateDraft(ctx context.Context, in CreateInput, actorID uuid.UUID) (Transaction, error) {
	if !in.Type.Valid() {
		return Transaction{}, fmt.Errorf("posting: unknown transaction type %q", in.Type)
	}
	if in.Status == "" {
		in.Status = StatusDraft
	}
	if !CanPost(in.Type, in.Status) {
		return Transaction{}, fmt.Errorf("%w: %s cannot start as %s", ErrInvalidTransition, in.Type, in.Status)
	}
	if len(in.Lines) == 0 {
		return Transaction{}, ErrNoLines
	}
	if in.Type == TypeTransferStock {
		if err := validateTransferLines(in.Lines); err != nil {
			return Transaction{}, err
		}
	}
	date := in.Date
	if date.IsZero() {
		date = s.now().UTC()
	}
	var trx Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		code, err := tx.NextCode(ctx, in.Type)
		if err != nil {
			return err
		}
		trx = Transaction{
			ID:        uuid.New(),
			Code:      code,
			Type:      in.Type,
			Status:    in.Status,
			Date:      date,
			ContactID: in.ContactID,
			TermDays:  in.TermDays,
			Reference: in.Reference,
			CreatedBy: actorID,
		}
		total := decimal.Zero
		lines := make([]Line, 0, len(in.Lines))
		for _, li := range in.Lines {
			ratio := li.BaseRatio
			if ratio.IsZero() {
				ratio = decimal.NewFromInt(1)
			}
			amount := li.Amount
			if amount.IsZero() {
				amount = li.Qty.Mul(li.UnitPrice)
			}
			total = total.Add(amount)
			lines = append(lines, Line{
				ID:            uuid.New(),
				TransactionID: trx.ID,
				ProductID:     li.ProductID,
				WarehouseID:   li.WarehouseID,
				Qty:           li.Qty,
				BaseRatio:     ratio,
				Direction:     li.Direction,
				UnitPrice:     li.UnitPrice,
				Amount:        amount,
				UnitCost:      li.UnitCost,
			})
		}
		trx.TotalAmount = total.Round(2)
		if err := tx.InsertTransaction(ctx, trx); err != nil {
			return err
		}
		for _, line := range lines {
			if err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	s.record(ctx, actorID, "transaction.create", trx)
	return trx, nil
}

// Post commits a transaction's stock and accounting effects in one atomic
// unit of work. Any failure, including insufficient stock on an outbound
// line, aborts the whole unit.
func (s *Service) Post(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (PostedResult, error) {
	var result PostedResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		trx, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !trx.Type.Valid() {
			return fmt.Errorf("posting: unknown transaction type %q", trx.Type)
		}
		if !CanPost(trx.Type, trx.Status) {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyPosted, trx.Code, trx.Status)
		}
		exists, err := tx.HasJournal(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateJournal
		}
		if err := tx.UpdateStatus(ctx, id, StatusPosted); err != nil {
			return err
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}
		totals, err := s.applyLines(ctx, tx, trx, lines, true)
		if err != nil {
			return err
		}
		trx.Status = StatusPosted
		if trx.Type.HasJournal() {
			journal, err := s.buildJournal(trx, trx.Code, totals, false)
			if err != nil {
				return err
			}
			if err := tx.InsertJournal(ctx, journal); err != nil {
				return err
			}
			result.JournalID = journal.ID
		}
		if trx.Type.HasOpenItem() {
			item, err := s.openItemFor(ctx, trx)
			if err != nil {
				return err
			}
			if err := tx.InsertOpenItem(ctx, item); err != nil {
				return err
			}
			result.OpenItemID = item.ID
		}
		result.Transaction = trx
		result.CostTotal = totals.outCost.Round(2)
		return nil
	})
	if err != nil {
		return PostedResult{}, err
	}
	s.record(ctx, actorID, "transaction.post", result.Transaction)
	return result, nil
}

// Void undoes a posted transaction by creating a compensating reversal in
// the same unit of work, then marking the original cancelled. History is
// never deleted; reversing after the layers have been consumed by later
// transactions legitimately fails with insufficient stock.
func (s *Service) Void(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (VoidResult, error) {
	var result VoidResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.GetTransactionForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !CanVoid(original.Type, original.Status) {
			return fmt.Errorf("%w: %s is %s", ErrInvalidVoidState, original.Code, original.Status)
		}
		item, hasItem, err := tx.GetOpenItem(ctx, id)
		if err != nil {
			return err
		}
		if hasItem && item.PaidAmount.IsPositive() {
			return fmt.Errorf("%w: %s paid %s", ErrHasPayments, original.Code, item.PaidAmount)
		}
		lines, err := tx.GetLines(ctx, id)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrNoLines
		}
		code, err := tx.NextCode(ctx, original.Type)
		if err != nil {
			return err
		}
		reversal := Transaction{
			ID:          uuid.New(),
			Code:        code,
			Type:        original.Type,
			Status:      StatusPosted,
			Date:        s.now().UTC(),
			ContactID:   original.ContactID,
			TermDays:    original.TermDays,
			Reference:   fmt.Sprintf("Void of %s", original.Code),
			TotalAmount: original.TotalAmount,
			ParentID:    original.ID,
			CreatedBy:   actorID,
		}
		if err := tx.InsertTransaction(ctx, reversal); err != nil {
			return err
		}
		inverted := make([]Line, 0, len(lines))
		for _, line := range lines {
			dir := lineDirection(original.Type, line)
			if dir == 0 {
				return fmt.Errorf("posting: line %s has no direction", line.ID)
			}
			rev := line
			rev.ID = uuid.New()
			rev.TransactionID = reversal.ID
			rev.Direction = -dir
			if err := tx.InsertLine(ctx, rev); err != nil {
				return err
			}
			inverted = append(inverted, rev)
		}
		totals, err := s.applyLines(ctx, tx, reversal, inverted, true)
		if err != nil {
			return err
		}
		if original.Type.HasJournal() {
			// Purchase/sales family reversals reuse the original mapping with
			// swapped sides; adjustment reversals fall out of the inverted
			// lines on the standard builder.
			swap := original.Type != TypeAdjustment
			journal, err := s.buildJournal(reversal, original.Code, totals, swap)
			if err != nil {
				return err
			}
			journal.Description = fmt.Sprintf("Void %s #%s", original.Type, original.Code)
			journal.Reversal = true
			if err := tx.InsertJournal(ctx, journal); err != nil {
				return err
			}
			result.JournalID = journal.ID
		}
		if hasItem {
			if err := tx.DeleteOpenItem(ctx, item.ID); err != nil {
				return err
			}
		}
		if err := tx.UpdateStatus(ctx, original.ID, StatusCancelled); err != nil {
			return err
		}
		original.Status = StatusCancelled
		result.Original = original
		result.Reversal = reversal
		return nil
	})
	if err != nil {
		return VoidResult{}, err
	}
	s.record(ctx, actorID, "transaction.void", result.Original)
	return result, nil
}

// MarkSettlement moves a posted purchase or sales transaction to partial or
// paid. The payment module calls this after applying a payment to the
// transaction's open item.
func (s *Service) MarkSettlement(ctx context.Context, transactionID uuid.UUID, settlement openledger.Status) (Transaction, error) {
	var to Status
	switch settlement {
	case openledger.StatusPartial:
		to = StatusPartial
	case openledger.StatusPaid:
		to = StatusPaid
	default:
		return Transaction{}, fmt.Errorf("%w: settlement %q", ErrInvalidTransition, settlement)
	}
	var trx Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetTransactionForUpdate(ctx, transactionID)
		if err != nil {
			return err
		}
		if !CanSettle(current.Type, current.Status, to) {
			return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, current.Code, current.Status, to)
		}
		if err := tx.UpdateStatus(ctx, current.ID, to); err != nil {
			return err
		}
		current.Status = to
		trx = current
		return nil
	})
	if err != nil {
		return Transaction{}, err
	}
	return trx, nil
}

// GetTransaction returns a transaction with its lines.
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, []Line, error) {
	return s.repo.GetTransaction(ctx, id)
}

// costTotals accumulates consumption and intake cost while lines apply.
// Journal construction reads these directly; line totals are never
// re-queried after the costing step.
type costTotals struct {
	inCost  decimal.Decimal
	outCost decimal.Decimal
}

// validateTransferLines checks stock conservation before a transfer is
// recorded: every product's inbound base quantity must equal its outbound
// base quantity, so the destination leg always has a matching source leg.
func validateTransferLines(lines []LineInput) error {
	net := make(map[uuid.UUID]decimal.Decimal)
	for _, li := range lines {
		if li.Direction == 0 {
			return fmt.Errorf("%w: line for product %s has no direction", ErrUnbalancedTransfer, li.ProductID)
		}
		ratio := li.BaseRatio
		if ratio.IsZero() {
			ratio = decimal.NewFromInt(1)
		}
		qty := li.Qty.Mul(ratio)
		if li.Direction < 0 {
			qty = qty.Neg()
		}
		net[li.ProductID] = net[li.ProductID].Add(qty)
	}
	for productID, qty := range net {
		if !qty.IsZero() {
			return fmt.Errorf("%w: product %s is off by %s", ErrUnbalancedTransfer, productID, qty)
		}
	}
	return nil
}

func lineDirection(t Type, line Line) int {
	if line.Direction != 0 {
		return line.Direction
	}
	return t.Direction()
}

// applyLines runs the costing engine over every line. Outbound lines get
// their engine-computed unit and total cost persisted back when
// updateCosts is set. Transfers process outbound legs first so the inbound
// leg inherits the computed source cost.
func (s *Service) applyLines(ctx context.Context, tx TxRepository, trx Transaction, lines []Line, updateCosts bool) (costTotals, error) {
	totals := costTotals{inCost: decimal.Zero, outCost: decimal.Zero}
	ordered := lines
	if trx.Type == TypeTransferStock {
		ordered = outboundFirst(trx.Type, lines)
	}
	transferCost := make(map[uuid.UUID]decimal.Decimal)
	for _, line := range ordered {
		dir := lineDirection(trx.Type, line)
		if dir == 0 {
			return totals, fmt.Errorf("posting: line %s has no direction", line.ID)
		}
		input := ledger.MovementInput{
			ProductID:     line.ProductID,
			WarehouseID:   line.WarehouseID,
			TransactionID: trx.ID,
			BaseQty:       line.BaseQty(),
		}
		if dir > 0 {
			input.Direction = ledger.DirectionIn
			input.UnitCost = line.UnitCost
			if trx.Type == TypeTransferStock {
				if cost, ok := transferCost[line.ProductID]; ok {
					input.UnitCost = cost
				}
			}
		} else {
			input.Direction = ledger.DirectionOut
		}
		res, err := s.engine.Apply(ctx, tx, input)
		if err != nil {
			return totals, err
		}
		if dir > 0 {
			totals.inCost = totals.inCost.Add(res.TotalCost)
			continue
		}
		totals.outCost = totals.outCost.Add(res.TotalCost)
		transferCost[line.ProductID] = res.UnitCost
		if updateCosts {
			if err := tx.UpdateLineCost(ctx, line.ID, res.UnitCost, res.TotalCost.Round(2)); err != nil {
				return totals, err
			}
		}
	}
	return totals, nil
}

func outboundFirst(t Type, lines []Line) []Line {
	ordered := make([]Line, 0, len(lines))
	for _, line := range lines {
		if lineDirection(t, line) < 0 {
			ordered = append(ordered, line)
		}
	}
	for _, line := range lines {
		if lineDirection(t, line) >= 0 {
			ordered = append(ordered, line)
		}
	}
	return ordered
}

// buildJournal assembles the balanced journal for a posting event. For
// reversals the per-type mapping sides are swapped; amounts for cost legs
// come from the reversal's own costing outcome.
func (s *Service) buildJournal(trx Transaction, refCode string, totals costTotals, swap bool) (accounting.Journal, error) {
	journal := accounting.Journal{
		ID:            uuid.New(),
		TransactionID: trx.ID,
		Date:          trx.Date,
		Description:   fmt.Sprintf("Posting %s #%s", trx.Type, trx.Code),
		Status:        accounting.JournalStatusPosted,
	}
	var entries []accounting.Entry
	var err error
	switch trx.Type {
	case TypeAdjustment:
		entries, err = s.adjustmentEntries(journal.ID, refCode, totals)
	default:
		entries, err = s.tradeEntries(journal.ID, trx, refCode, totals, swap)
	}
	if err != nil {
		return accounting.Journal{}, err
	}
	journal.Entries = entries
	if err := journal.Validate(); err != nil {
		return accounting.Journal{}, err
	}
	return journal, nil
}

// tradeEntries covers the purchase/sales families: one entry per mapping
// row at the transaction total, plus the COGS pair for sales.
func (s *Service) tradeEntries(journalID uuid.UUID, trx Transaction, refCode string, totals costTotals, swap bool) ([]accounting.Entry, error) {
	total := trx.TotalAmount.Round(2)
	var entries []accounting.Entry
	for _, side := range []accounting.Side{accounting.SideDebit, accounting.SideCredit} {
		mapping, err := s.mappings.Lookup(string(trx.Type), side)
		if err != nil {
			return nil, err
		}
		entry := accounting.Entry{
			ID:          uuid.New(),
			JournalID:   journalID,
			GLAccountID: mapping.GLAccountID,
			Note:        mapping.Note,
		}
		debit := side == accounting.SideDebit
		if swap {
			debit = !debit
			entry.Note = fmt.Sprintf("Void %s", mapping.Note)
		}
		if debit {
			entry.Debit = total
		} else {
			entry.Credit = total
		}
		entries = append(entries, entry)
	}
	if trx.Type != TypeSales {
		return entries, nil
	}
	cogs := totals.outCost
	if swap {
		// The reversal restores stock; its inbound cost is what the void
		// actually un-consumed.
		cogs = totals.inCost
	}
	cogs = cogs.Round(2)
	if !cogs.IsPositive() {
		return entries, nil
	}
	cogsPair, err := s.costPair(journalID, cogsKey, fmt.Sprintf("COGS for #%s", refCode), cogs, swap)
	if err != nil {
		return nil, err
	}
	return append(entries, cogsPair...), nil
}

// adjustmentEntries books inbound lines as Dr Inventory / Cr Adjustment at
// entered cost and outbound lines the other way around at engine cost.
func (s *Service) adjustmentEntries(journalID uuid.UUID, refCode string, totals costTotals) ([]accounting.Entry, error) {
	var entries []accounting.Entry
	if in := totals.inCost.Round(2); in.IsPositive() {
		pair, err := s.costPair(journalID, string(TypeAdjustment), fmt.Sprintf("Stock In (Adjustment #%s)", refCode), in, false)
		if err != nil {
			return nil, err
		}
		entries = append(entries, pair...)
	}
	if out := totals.outCost.Round(2); out.IsPositive() {
		pair, err := s.costPair(journalID, string(TypeAdjustment), fmt.Sprintf("Stock Out (Adjustment #%s)", refCode), out, true)
		if err != nil {
			return nil, err
		}
		entries = append(entries, pair...)
	}
	return entries, nil
}

// cogsKey is the mapping key for the COGS/Inventory pair on sales.
const cogsKey = "cogs"

// costPair builds a balanced debit/credit pair from one mapping key.
func (s *Service) costPair(journalID uuid.UUID, key, note string, amount decimal.Decimal, swap bool) ([]accounting.Entry, error) {
	debitMap, err := s.mappings.Lookup(key, accounting.SideDebit)
	if err != nil {
		return nil, err
	}
	creditMap, err := s.mappings.Lookup(key, accounting.SideCredit)
	if err != nil {
		return nil, err
	}
	if swap {
		debitMap, creditMap = creditMap, debitMap
	}
	return []accounting.Entry{
		{ID: uuid.New(), JournalID: journalID, GLAccountID: debitMap.GLAccountID, Debit: amount, Note: note},
		{ID: uuid.New(), JournalID: journalID, GLAccountID: creditMap.GLAccountID, Credit: amount, Note: note},
	}, nil
}

func (s *Service) openItemFor(ctx context.Context, trx Transaction) (openledger.Item, error) {
	termDays := trx.TermDays
	if termDays == 0 && s.terms != nil && trx.ContactID != uuid.Nil {
		days, err := s.terms.TermDays(ctx, trx.ContactID)
		if err != nil {
			return openledger.Item{}, err
		}
		termDays = days
	}
	kind := openledger.KindPayable
	switch trx.Type {
	case TypeSales, TypePurchaseReturn:
		kind = openledger.KindReceivable
	}
	return openledger.Item{
		ID:            uuid.New(),
		TransactionID: trx.ID,
		ContactID:     trx.ContactID,
		Kind:          kind,
		DueDate:       trx.Date.AddDate(0, 0, termDays),
		Amount:        trx.TotalAmount.Round(2),
		PaidAmount:    decimal.Zero,
		Status:        openledger.StatusOpen,
	}, nil
}

func (s *Service) record(ctx context.Context, actorID uuid.UUID, action string, trx Transaction) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "transaction",
		EntityID: trx.ID.String(),
		Meta: map[string]any{
			"code":   trx.Code,
			"type":   string(trx.Type),
			"status": string(trx.Status),
		},
		At: s.now(),
	})
}

// RequiredMappingKeys lists every mapping key posting resolves at runtime;
// accounting validates the set at startup so a missing row is a boot-time
// failure.
func RequiredMappingKeys() []string {
	return []string{
		string(TypePurchase),
		string(TypeSales),
		string(TypeSalesReturn),
		string(TypePurchaseReturn),
		string(TypeAdjustment),
		cogsKey,
	}
}
