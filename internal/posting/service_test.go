package posting

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/keystone-erp/keystone-erp/internal/accounting"
	"github.com/keystone-erp/keystone-erp/internal/ledger"
	"github.com/keystone-erp/keystone-erp/internal/openledger"
	"github.com/keystone-erp/keystone-erp/internal/shared"
)

// memRepo keeps all state in maps and restores a snapshot when the unit of
// work fails, mirroring the database rollback.
type memRepo struct {
	state storeState
}

type storeState struct {
	transactions map[uuid.UUID]Transaction
	lines        map[uuid.UUID][]Line
	journals     []accounting.Journal
	openItems    map[uuid.UUID]openledger.Item
	counters     map[Type]int
	balances     map[string]ledger.StockBalance
	layers       []ledger.CostLayer
	movements    []ledger.Movement
	nextID       int64
}

func newMemRepo() *memRepo {
	return &memRepo{state: storeState{
		transactions: make(map[uuid.UUID]Transaction),
		lines:        make(map[uuid.UUID][]Line),
		openItems:    make(map[uuid.UUID]openledger.Item),
		counters:     make(map[Type]int),
		balances:     make(map[string]ledger.StockBalance),
	}}
}

func (s storeState) clone() storeState {
	cp := storeState{
		transactions: make(map[uuid.UUID]Transaction, len(s.transactions)),
		lines:        make(map[uuid.UUID][]Line, len(s.lines)),
		journals:     append([]accounting.Journal(nil), s.journals...),
		openItems:    make(map[uuid.UUID]openledger.Item, len(s.openItems)),
		counters:     make(map[Type]int, len(s.counters)),
		balances:     make(map[string]ledger.StockBalance, len(s.balances)),
		layers:       append([]ledger.CostLayer(nil), s.layers...),
		movements:    append([]ledger.Movement(nil), s.movements...),
		nextID:       s.nextID,
	}
	for k, v := range s.transactions {
		cp.transactions[k] = v
	}
	for k, v := range s.lines {
		cp.lines[k] = append([]Line(nil), v...)
	}
	for k, v := range s.openItems {
		cp.openItems[k] = v
	}
	for k, v := range s.counters {
		cp.counters[k] = v
	}
	for k, v := range s.balances {
		cp.balances[k] = v
	}
	return cp
}

func (r *memRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.state.clone()
	if err := fn(ctx, &memTx{repo: r}); err != nil {
		r.state = snapshot
		return err
	}
	return nil
}

func (r *memRepo) GetTransaction(ctx context.Context, id uuid.UUID) (Transaction, []Line, error) {
	trx, ok := r.state.transactions[id]
	if !ok {
		return Transaction{}, nil, ErrNotFound
	}
	return trx, append([]Line(nil), r.state.lines[id]...), nil
}

func (r *memRepo) balanceFor(productID, warehouseID uuid.UUID) ledger.StockBalance {
	return r.state.balances[productID.String()+"|"+warehouseID.String()]
}

func (r *memRepo) journalFor(transactionID uuid.UUID) (accounting.Journal, bool) {
	for _, j := range r.state.journals {
		if j.TransactionID == transactionID {
			return j, true
		}
	}
	return accounting.Journal{}, false
}

func (r *memRepo) openItemFor(transactionID uuid.UUID) (openledger.Item, bool) {
	for _, item := range r.state.openItems {
		if item.TransactionID == transactionID {
			return item, true
		}
	}
	return openledger.Item{}, false
}

type memTx struct {
	repo *memRepo
}

func (t *memTx) id() int64 {
	t.repo.state.nextID++
	return t.repo.state.nextID
}

func (t *memTx) GetTransactionForUpdate(ctx context.Context, id uuid.UUID) (Transaction, error) {
	trx, ok := t.repo.state.transactions[id]
	if !ok {
		return Transaction{}, ErrNotFound
	}
	return trx, nil
}

func (t *memTx) GetLines(ctx context.Context, transactionID uuid.UUID) ([]Line, error) {
	return append([]Line(nil), t.repo.state.lines[transactionID]...), nil
}

func (t *memTx) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	trx, ok := t.repo.state.transactions[id]
	if !ok {
		return ErrNotFound
	}
	trx.Status = status
	t.repo.state.transactions[id] = trx
	return nil
}

func (t *memTx) UpdateLineCost(ctx context.Context, lineID uuid.UUID, unitCost, totalCost decimal.Decimal) error {
	for txID, lines := range t.repo.state.lines {
		for i, line := range lines {
			if line.ID == lineID {
				lines[i].UnitCost = unitCost
				lines[i].TotalCost = totalCost
				t.repo.state.lines[txID] = lines
				return nil
			}
		}
	}
	return ErrNotFound
}

func (t *memTx) InsertTransaction(ctx context.Context, trx Transaction) error {
	t.repo.state.transactions[trx.ID] = trx
	return nil
}

func (t *memTx) InsertLine(ctx context.Context, line Line) error {
	t.repo.state.lines[line.TransactionID] = append(t.repo.state.lines[line.TransactionID], line)
	return nil
}

func (t *memTx) NextCode(ctx context.Context, typ Type) (string, error) {
	t.repo.state.counters[typ]++
	return fmt.Sprintf("%s-%s-%04d", typ.Prefix(), time.Now().UTC().Format("20060102"), t.repo.state.counters[typ]), nil
}

func (t *memTx) HasJournal(ctx context.Context, transactionID uuid.UUID) (bool, error) {
	for _, j := range t.repo.state.journals {
		if j.TransactionID == transactionID && !j.Reversal {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) InsertJournal(ctx context.Context, journal accounting.Journal) error {
	t.repo.state.journals = append(t.repo.state.journals, journal)
	return nil
}

func (t *memTx) GetOpenItem(ctx context.Context, transactionID uuid.UUID) (openledger.Item, bool, error) {
	item, ok := t.repo.openItemFor(transactionID)
	return item, ok, nil
}

func (t *memTx) InsertOpenItem(ctx context.Context, item openledger.Item) error {
	t.repo.state.openItems[item.ID] = item
	return nil
}

func (t *memTx) DeleteOpenItem(ctx context.Context, id uuid.UUID) error {
	delete(t.repo.state.openItems, id)
	return nil
}

func (t *memTx) GetOrCreateBalanceForUpdate(ctx context.Context, in ledger.MovementInput) (ledger.StockBalance, error) {
	key := in.ProductID.String() + "|" + in.WarehouseID.String()
	if bal, ok := t.repo.state.balances[key]; ok {
		return bal, nil
	}
	bal := ledger.StockBalance{ID: t.id(), ProductID: in.ProductID, WarehouseID: in.WarehouseID, Qty: decimal.Zero}
	t.repo.state.balances[key] = bal
	return bal, nil
}

func (t *memTx) GetOpenLayersForUpdate(ctx context.Context, stockID int64) ([]ledger.CostLayer, error) {
	var open []ledger.CostLayer
	for _, l := range t.repo.state.layers {
		if l.StockID == stockID && l.RemainingQty.IsPositive() {
			open = append(open, l)
		}
	}
	return open, nil
}

func (t *memTx) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	for i, l := range t.repo.state.layers {
		if l.ID == layerID {
			t.repo.state.layers[i].RemainingQty = remaining
			return nil
		}
	}
	return ErrNotFound
}

func (t *memTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	m.ID = t.id()
	m.CreatedAt = time.Now()
	t.repo.state.movements = append(t.repo.state.movements, m)
	return m.ID, nil
}

func (t *memTx) InsertLayer(ctx context.Context, layer ledger.CostLayer) (int64, error) {
	layer.ID = t.id()
	layer.CreatedAt = time.Now()
	t.repo.state.layers = append(t.repo.state.layers, layer)
	return layer.ID, nil
}

func (t *memTx) UpdateBalanceQty(ctx context.Context, stockID int64, qty decimal.Decimal) error {
	for key, bal := range t.repo.state.balances {
		if bal.ID == stockID {
			bal.Qty = qty
			t.repo.state.balances[key] = bal
			return nil
		}
	}
	return ErrNotFound
}

type memAudit struct {
	actions []string
}

func (a *memAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.actions = append(a.actions, log.Action)
	return nil
}

type fixedTerms int

func (f fixedTerms) TermDays(ctx context.Context, contactID uuid.UUID) (int, error) {
	return int(f), nil
}

type glAccounts struct {
	payable, inventory, receivable, revenue, cogs, adjustment uuid.UUID
	returnIn, returnOut                                       uuid.UUID
}

func testMappings(acc glAccounts) *accounting.MappingSet {
	return accounting.NewMappingSet([]accounting.Mapping{
		{TxType: "purchase", Side: accounting.SideDebit, GLAccountID: acc.inventory, Note: "Inventory"},
		{TxType: "purchase", Side: accounting.SideCredit, GLAccountID: acc.payable, Note: "Accounts Payable"},
		{TxType: "sales", Side: accounting.SideDebit, GLAccountID: acc.receivable, Note: "Accounts Receivable"},
		{TxType: "sales", Side: accounting.SideCredit, GLAccountID: acc.revenue, Note: "Sales Revenue"},
		{TxType: "sales_return", Side: accounting.SideDebit, GLAccountID: acc.returnIn, Note: "Sales Return"},
		{TxType: "sales_return", Side: accounting.SideCredit, GLAccountID: acc.receivable, Note: "Accounts Receivable"},
		{TxType: "purchase_return", Side: accounting.SideDebit, GLAccountID: acc.payable, Note: "Accounts Payable"},
		{TxType: "purchase_return", Side: accounting.SideCredit, GLAccountID: acc.returnOut, Note: "Purchase Return"},
		{TxType: "adjustment", Side: accounting.SideDebit, GLAccountID: acc.inventory, Note: "Inventory"},
		{TxType: "adjustment", Side: accounting.SideCredit, GLAccountID: acc.adjustment, Note: "Stock Adjustment"},
		{TxType: "cogs", Side: accounting.SideDebit, GLAccountID: acc.cogs, Note: "COGS"},
		{TxType: "cogs", Side: accounting.SideCredit, GLAccountID: acc.inventory, Note: "Inventory"},
	})
}

type fixture struct {
	repo    *memRepo
	svc     *Service
	audit   *memAudit
	acc     glAccounts
	actor   uuid.UUID
	contact uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	acc := glAccounts{
		payable: uuid.New(), inventory: uuid.New(), receivable: uuid.New(),
		revenue: uuid.New(), cogs: uuid.New(), adjustment: uuid.New(),
		returnIn: uuid.New(), returnOut: uuid.New(),
	}
	require.NoError(t, testMappings(acc).ValidateSet(RequiredMappingKeys()))
	repo := newMemRepo()
	audit := &memAudit{}
	svc := NewService(repo, ledger.NewEngine(), testMappings(acc), audit, fixedTerms(14))
	return &fixture{repo: repo, svc: svc, audit: audit, acc: acc, actor: uuid.New(), contact: uuid.New()}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func (f *fixture) createPosted(t *testing.T, in CreateInput) Transaction {
	t.Helper()
	trx, err := f.svc.CreateDraft(context.Background(), in, f.actor)
	require.NoError(t, err)
	res, err := f.svc.Post(context.Background(), trx.ID, f.actor)
	require.NoError(t, err)
	return res.Transaction
}

func (f *fixture) requireStockInvariant(t *testing.T) {
	t.Helper()
	for _, bal := range f.repo.state.balances {
		sum := decimal.Zero
		for _, l := range f.repo.state.layers {
			if l.StockID == bal.ID {
				sum = sum.Add(l.RemainingQty)
			}
		}
		require.True(t, bal.Qty.Equal(sum), "balance %s != layered %s", bal.Qty, sum)
	}
}

func purchaseInput(contact, product, warehouse uuid.UUID, qty, cost string) CreateInput {
	return CreateInput{
		Type:      TypePurchase,
		ContactID: contact,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec(qty), UnitPrice: dec(cost), UnitCost: dec(cost),
		}},
	}
}

func TestPostPurchase(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	date := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)

	in := purchaseInput(f.contact, product, warehouse, "10", "100")
	in.Date = date
	trx, err := f.svc.CreateDraft(context.Background(), in, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, trx.Status)
	require.Regexp(t, `^P-\d{8}-0001$`, trx.Code)
	require.True(t, trx.TotalAmount.Equal(dec("1000")))

	res, err := f.svc.Post(context.Background(), trx.ID, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, res.Transaction.Status)

	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("10")))
	require.Len(t, f.repo.state.movements, 1)
	require.Equal(t, ledger.DirectionIn, f.repo.state.movements[0].Direction)
	f.requireStockInvariant(t)

	journal, ok := f.repo.journalFor(trx.ID)
	require.True(t, ok)
	require.NoError(t, journal.Validate())
	require.Len(t, journal.Entries, 2)
	require.Equal(t, f.acc.inventory, journal.Entries[0].GLAccountID)
	require.True(t, journal.Entries[0].Debit.Equal(dec("1000")))
	require.Equal(t, f.acc.payable, journal.Entries[1].GLAccountID)
	require.True(t, journal.Entries[1].Credit.Equal(dec("1000")))

	item, ok := f.repo.openItemFor(trx.ID)
	require.True(t, ok)
	require.Equal(t, openledger.KindPayable, item.Kind)
	require.Equal(t, openledger.StatusOpen, item.Status)
	require.True(t, item.Amount.Equal(dec("1000")))
	// No explicit term on the transaction, so the contact's 14 days apply.
	require.Equal(t, date.AddDate(0, 0, 14), item.DueDate)

	require.Equal(t, []string{"transaction.create", "transaction.post"}, f.audit.actions)
}

func TestPostSalesBooksCOGSFromCosting(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()

	f.createPosted(t, purchaseInput(f.contact, product, warehouse, "10", "100"))
	f.createPosted(t, purchaseInput(f.contact, product, warehouse, "5", "120"))

	sale := f.createPosted(t, CreateInput{
		Type:      TypeSales,
		ContactID: f.contact,
		TermDays:  30,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("12"), UnitPrice: dec("200"),
		}},
	})

	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("3")))
	f.requireStockInvariant(t)

	// FIFO: 10@100 + 2@120 = 1240 consumed cost.
	lines := f.repo.state.lines[sale.ID]
	require.Len(t, lines, 1)
	require.True(t, lines[0].TotalCost.Equal(dec("1240")), "got %s", lines[0].TotalCost)
	require.True(t, lines[0].UnitCost.Equal(dec("103.33")), "got %s", lines[0].UnitCost)

	journal, ok := f.repo.journalFor(sale.ID)
	require.True(t, ok)
	require.NoError(t, journal.Validate())
	require.Len(t, journal.Entries, 4)
	require.Equal(t, f.acc.receivable, journal.Entries[0].GLAccountID)
	require.True(t, journal.Entries[0].Debit.Equal(dec("2400")))
	require.Equal(t, f.acc.revenue, journal.Entries[1].GLAccountID)
	require.True(t, journal.Entries[1].Credit.Equal(dec("2400")))
	require.Equal(t, f.acc.cogs, journal.Entries[2].GLAccountID)
	require.True(t, journal.Entries[2].Debit.Equal(dec("1240")))
	require.Equal(t, f.acc.inventory, journal.Entries[3].GLAccountID)
	require.True(t, journal.Entries[3].Credit.Equal(dec("1240")))

	item, ok := f.repo.openItemFor(sale.ID)
	require.True(t, ok)
	require.Equal(t, openledger.KindReceivable, item.Kind)
	require.Equal(t, sale.Date.AddDate(0, 0, 30), item.DueDate)
}

func TestPostIsIdempotent(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	trx := f.createPosted(t, purchaseInput(f.contact, product, warehouse, "5", "10"))

	_, err := f.svc.Post(context.Background(), trx.ID, f.actor)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.Len(t, f.repo.state.movements, 1)
	require.Len(t, f.repo.state.journals, 1)
}

func TestPostDuplicateJournalGuard(t *testing.T) {
	f := newFixture(t)
	trx, err := f.svc.CreateDraft(context.Background(),
		purchaseInput(f.contact, uuid.New(), uuid.New(), "1", "10"), f.actor)
	require.NoError(t, err)

	// A journal already linked to the transaction blocks posting even when
	// the status alone would allow it.
	f.repo.state.journals = append(f.repo.state.journals, accounting.Journal{
		ID: uuid.New(), TransactionID: trx.ID, Status: accounting.JournalStatusPosted,
	})
	_, err = f.svc.Post(context.Background(), trx.ID, f.actor)
	require.ErrorIs(t, err, ErrDuplicateJournal)
}

func TestInsufficientStockAbortsWholeUnit(t *testing.T) {
	f := newFixture(t)
	stocked, missing, warehouse := uuid.New(), uuid.New(), uuid.New()
	f.createPosted(t, purchaseInput(f.contact, stocked, warehouse, "10", "100"))

	sale, err := f.svc.CreateDraft(context.Background(), CreateInput{
		Type:      TypeSales,
		ContactID: f.contact,
		Lines: []LineInput{
			{ProductID: stocked, WarehouseID: warehouse, Qty: dec("4"), UnitPrice: dec("150")},
			{ProductID: missing, WarehouseID: warehouse, Qty: dec("1"), UnitPrice: dec("150")},
		},
	}, f.actor)
	require.NoError(t, err)

	_, err = f.svc.Post(context.Background(), sale.ID, f.actor)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)

	// The first line's stock effect rolled back with everything else.
	require.True(t, f.repo.balanceFor(stocked, warehouse).Qty.Equal(dec("10")))
	current, _, err := f.svc.GetTransaction(context.Background(), sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, current.Status)
	_, ok := f.repo.journalFor(sale.ID)
	require.False(t, ok)
	_, ok = f.repo.openItemFor(sale.ID)
	require.False(t, ok)
	require.Len(t, f.repo.state.movements, 1)
	f.requireStockInvariant(t)
}

func TestVoidSales(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	f.createPosted(t, purchaseInput(f.contact, product, warehouse, "10", "100"))
	sale := f.createPosted(t, CreateInput{
		Type:      TypeSales,
		ContactID: f.contact,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("6"), UnitPrice: dec("150"),
		}},
	})
	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("4")))

	res, err := f.svc.Void(context.Background(), sale.ID, f.actor)
	require.NoError(t, err)

	require.Equal(t, StatusCancelled, res.Original.Status)
	require.Equal(t, TypeSales, res.Reversal.Type)
	require.Equal(t, StatusPosted, res.Reversal.Status)
	require.Equal(t, sale.ID, res.Reversal.ParentID)
	require.NotEqual(t, sale.Code, res.Reversal.Code)

	// Stock is restored by the compensating inbound.
	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("10")))
	f.requireStockInvariant(t)

	revLines := f.repo.state.lines[res.Reversal.ID]
	require.Len(t, revLines, 1)
	require.Equal(t, 1, revLines[0].Direction)

	journal, ok := f.repo.journalFor(res.Reversal.ID)
	require.True(t, ok)
	require.True(t, journal.Reversal)
	require.NoError(t, journal.Validate())
	// Sides swapped against the posting journal.
	require.Equal(t, f.acc.receivable, journal.Entries[0].GLAccountID)
	require.True(t, journal.Entries[0].Credit.Equal(dec("900")))
	require.Equal(t, f.acc.revenue, journal.Entries[1].GLAccountID)
	require.True(t, journal.Entries[1].Debit.Equal(dec("900")))
	// COGS pair reversed at the restored cost.
	require.Equal(t, f.acc.inventory, journal.Entries[2].GLAccountID)
	require.True(t, journal.Entries[2].Debit.Equal(dec("600")))
	require.Equal(t, f.acc.cogs, journal.Entries[3].GLAccountID)
	require.True(t, journal.Entries[3].Credit.Equal(dec("600")))

	_, ok = f.repo.openItemFor(sale.ID)
	require.False(t, ok)
}

func TestVoidPurchase(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	purchase := f.createPosted(t, purchaseInput(f.contact, product, warehouse, "10", "100"))
	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("10")))

	res, err := f.svc.Void(context.Background(), purchase.ID, f.actor)
	require.NoError(t, err)

	require.Equal(t, StatusCancelled, res.Original.Status)
	require.Equal(t, TypePurchase, res.Reversal.Type)
	require.Equal(t, StatusPosted, res.Reversal.Status)
	require.Equal(t, purchase.ID, res.Reversal.ParentID)

	// The compensating outbound drains the purchase layer entirely.
	require.True(t, f.repo.balanceFor(product, warehouse).Qty.IsZero())
	f.requireStockInvariant(t)

	revLines := f.repo.state.lines[res.Reversal.ID]
	require.Len(t, revLines, 1)
	require.Equal(t, -1, revLines[0].Direction)

	journal, ok := f.repo.journalFor(res.Reversal.ID)
	require.True(t, ok)
	require.True(t, journal.Reversal)
	require.NoError(t, journal.Validate())
	// Sides swapped against the posting journal: Inventory credited,
	// Accounts Payable debited. No cost pair outside the sales family.
	require.Len(t, journal.Entries, 2)
	require.Equal(t, f.acc.inventory, journal.Entries[0].GLAccountID)
	require.True(t, journal.Entries[0].Credit.Equal(dec("1000")))
	require.Equal(t, f.acc.payable, journal.Entries[1].GLAccountID)
	require.True(t, journal.Entries[1].Debit.Equal(dec("1000")))

	_, ok = f.repo.openItemFor(purchase.ID)
	require.False(t, ok)
}

func TestVoidGuards(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()

	draft, err := f.svc.CreateDraft(context.Background(),
		purchaseInput(f.contact, product, warehouse, "5", "10"), f.actor)
	require.NoError(t, err)
	_, err = f.svc.Void(context.Background(), draft.ID, f.actor)
	require.ErrorIs(t, err, ErrInvalidVoidState)

	posted := f.createPosted(t, purchaseInput(f.contact, product, warehouse, "5", "10"))
	item, ok := f.repo.openItemFor(posted.ID)
	require.True(t, ok)
	item.PaidAmount = dec("10")
	f.repo.state.openItems[item.ID] = item
	_, err = f.svc.Void(context.Background(), posted.ID, f.actor)
	require.ErrorIs(t, err, ErrHasPayments)
}

func TestVoidReturnRejected(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()

	ret := f.createPosted(t, CreateInput{
		Type:      TypeSalesReturn,
		Status:    StatusOrder,
		ContactID: f.contact,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("2"), UnitPrice: dec("50"), UnitCost: dec("30"),
		}},
	})
	_, err := f.svc.Void(context.Background(), ret.ID, f.actor)
	require.ErrorIs(t, err, ErrInvalidVoidState)
}

func TestVoidAfterStockConsumedFails(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	purchase := f.createPosted(t, purchaseInput(f.contact, product, warehouse, "10", "100"))
	f.createPosted(t, CreateInput{
		Type:      TypeSales,
		ContactID: f.contact,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("10"), UnitPrice: dec("150"),
		}},
	})

	// Voiding the purchase would drive stock negative; the whole unit aborts.
	_, err := f.svc.Void(context.Background(), purchase.ID, f.actor)
	require.ErrorIs(t, err, ledger.ErrInsufficientStock)
	current, _, err := f.svc.GetTransaction(context.Background(), purchase.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, current.Status)
	f.requireStockInvariant(t)
}

func TestTransferCarriesCostAcrossWarehouses(t *testing.T) {
	f := newFixture(t)
	product, src, dst := uuid.New(), uuid.New(), uuid.New()
	f.createPosted(t, purchaseInput(f.contact, product, src, "10", "100"))
	f.createPosted(t, purchaseInput(f.contact, product, src, "10", "200"))

	transfer := f.createPosted(t, CreateInput{
		Type: TypeTransferStock,
		Lines: []LineInput{
			{ProductID: product, WarehouseID: src, Qty: dec("12"), Direction: -1},
			{ProductID: product, WarehouseID: dst, Qty: dec("12"), Direction: 1},
		},
	})

	require.True(t, f.repo.balanceFor(product, src).Qty.Equal(dec("8")))
	require.True(t, f.repo.balanceFor(product, dst).Qty.Equal(dec("12")))
	f.requireStockInvariant(t)

	// Destination layer carries the source's consumed cost: 10@100 + 2@200.
	var dstLayer ledger.CostLayer
	dstBal := f.repo.balanceFor(product, dst)
	for _, l := range f.repo.state.layers {
		if l.StockID == dstBal.ID {
			dstLayer = l
		}
	}
	require.True(t, dstLayer.UnitCost.Equal(dec("116.67")), "got %s", dstLayer.UnitCost)

	// Pure relocation: no journal, no open item.
	_, ok := f.repo.journalFor(transfer.ID)
	require.False(t, ok)
	_, ok = f.repo.openItemFor(transfer.ID)
	require.False(t, ok)
}

func TestTransferRequiresBalancedLegs(t *testing.T) {
	f := newFixture(t)
	product, src, dst := uuid.New(), uuid.New(), uuid.New()

	_, err := f.svc.CreateDraft(context.Background(), CreateInput{
		Type: TypeTransferStock,
		Lines: []LineInput{
			{ProductID: product, WarehouseID: src, Qty: dec("12"), Direction: -1},
			{ProductID: product, WarehouseID: dst, Qty: dec("5"), Direction: 1},
		},
	}, f.actor)
	require.ErrorIs(t, err, ErrUnbalancedTransfer)

	// An inbound leg with no matching outbound is rejected too.
	_, err = f.svc.CreateDraft(context.Background(), CreateInput{
		Type: TypeTransferStock,
		Lines: []LineInput{
			{ProductID: product, WarehouseID: dst, Qty: dec("5"), Direction: 1},
		},
	}, f.actor)
	require.ErrorIs(t, err, ErrUnbalancedTransfer)

	// Lines without an explicit direction cannot be matched.
	_, err = f.svc.CreateDraft(context.Background(), CreateInput{
		Type: TypeTransferStock,
		Lines: []LineInput{
			{ProductID: product, WarehouseID: src, Qty: dec("5")},
			{ProductID: product, WarehouseID: dst, Qty: dec("5")},
		},
	}, f.actor)
	require.ErrorIs(t, err, ErrUnbalancedTransfer)

	// Base ratios count: 2 packs of 6 out equals 12 units in.
	trx, err := f.svc.CreateDraft(context.Background(), CreateInput{
		Type: TypeTransferStock,
		Lines: []LineInput{
			{ProductID: product, WarehouseID: src, Qty: dec("2"), BaseRatio: dec("6"), Direction: -1},
			{ProductID: product, WarehouseID: dst, Qty: dec("12"), Direction: 1},
		},
	}, f.actor)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, trx.Status)
}

func TestAdjustmentPostAndVoid(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()

	adj, err := f.svc.CreateDraft(context.Background(), CreateInput{
		Type: TypeAdjustment,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("5"), UnitCost: dec("40"), Direction: 1,
		}},
	}, f.actor)
	require.NoError(t, err)
	_, err = f.svc.Post(context.Background(), adj.ID, f.actor)
	require.NoError(t, err)

	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("5")))
	journal, ok := f.repo.journalFor(adj.ID)
	require.True(t, ok)
	require.NoError(t, journal.Validate())
	require.Len(t, journal.Entries, 2)
	require.Equal(t, f.acc.inventory, journal.Entries[0].GLAccountID)
	require.True(t, journal.Entries[0].Debit.Equal(dec("200")))
	require.Equal(t, f.acc.adjustment, journal.Entries[1].GLAccountID)

	res, err := f.svc.Void(context.Background(), adj.ID, f.actor)
	require.NoError(t, err)
	require.True(t, f.repo.balanceFor(product, warehouse).Qty.IsZero())
	f.requireStockInvariant(t)

	// The reversal books the outbound side of the adjustment pair.
	revJournal, ok := f.repo.journalFor(res.Reversal.ID)
	require.True(t, ok)
	require.True(t, revJournal.Reversal)
	require.NoError(t, revJournal.Validate())
	require.Equal(t, f.acc.adjustment, revJournal.Entries[0].GLAccountID)
	require.True(t, revJournal.Entries[0].Debit.Equal(dec("200")))
	require.Equal(t, f.acc.inventory, revJournal.Entries[1].GLAccountID)
	require.True(t, revJournal.Entries[1].Credit.Equal(dec("200")))
}

func TestPurchaseReturnCreatesReceivable(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	f.createPosted(t, purchaseInput(f.contact, product, warehouse, "10", "100"))

	ret := f.createPosted(t, CreateInput{
		Type:      TypePurchaseReturn,
		Status:    StatusOrder,
		ContactID: f.contact,
		Lines: []LineInput{{
			ProductID: product, WarehouseID: warehouse,
			Qty: dec("3"), UnitPrice: dec("100"),
		}},
	})

	require.True(t, f.repo.balanceFor(product, warehouse).Qty.Equal(dec("7")))
	item, ok := f.repo.openItemFor(ret.ID)
	require.True(t, ok)
	require.Equal(t, openledger.KindReceivable, item.Kind)
}

func TestMarkSettlement(t *testing.T) {
	f := newFixture(t)
	product, warehouse := uuid.New(), uuid.New()
	trx := f.createPosted(t, purchaseInput(f.contact, product, warehouse, "5", "10"))
	ctx := context.Background()

	updated, err := f.svc.MarkSettlement(ctx, trx.ID, openledger.StatusPartial)
	require.NoError(t, err)
	require.Equal(t, StatusPartial, updated.Status)

	updated, err = f.svc.MarkSettlement(ctx, trx.ID, openledger.StatusPaid)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)

	_, err = f.svc.MarkSettlement(ctx, trx.ID, openledger.StatusPartial)
	require.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.MarkSettlement(ctx, trx.ID, openledger.StatusOpen)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCreateDraftValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateDraft(ctx, CreateInput{Type: "bogus"}, f.actor)
	require.Error(t, err)

	_, err = f.svc.CreateDraft(ctx, CreateInput{Type: TypeSales}, f.actor)
	require.ErrorIs(t, err, ErrNoLines)

	// Returns post from order, never draft.
	_, err = f.svc.CreateDraft(ctx, CreateInput{
		Type:   TypeSalesReturn,
		Status: StatusDraft,
		Lines:  []LineInput{{ProductID: uuid.New(), WarehouseID: uuid.New(), Qty: dec("1")}},
	}, f.actor)
	require.ErrorIs(t, err, ErrInvalidTransition)
}
