package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type memLedger struct {
	balances  map[string]*StockBalance
	layers    []*CostLayer
	movements []Movement
	nextID    int64
}

func newMemLedger() *memLedger {
	return &memLedger{balances: make(map[string]*StockBalance)}
}

func (m *memLedger) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memLedger) GetOrCreateBalanceForUpdate(ctx context.Context, in MovementInput) (StockBalance, error) {
	key := in.ProductID.String() + "|" + in.WarehouseID.String()
	if bal, ok := m.balances[key]; ok {
		return *bal, nil
	}
	bal := &StockBalance{ID: m.id(), ProductID: in.ProductID, WarehouseID: in.WarehouseID, Qty: decimal.Zero}
	m.balances[key] = bal
	return *bal, nil
}

func (m *memLedger) GetOpenLayersForUpdate(ctx context.Context, stockID int64) ([]CostLayer, error) {
	var open []CostLayer
	for _, l := range m.layers {
		if l.StockID == stockID && l.RemainingQty.IsPositive() {
			open = append(open, *l)
		}
	}
	return open, nil
}

func (m *memLedger) UpdateLayerRemaining(ctx context.Context, layerID int64, remaining decimal.Decimal) error {
	for _, l := range m.layers {
		if l.ID == layerID {
			l.RemainingQty = remaining
			return nil
		}
	}
	return ErrBalanceNotFound
}

func (m *memLedger) InsertMovement(ctx context.Context, mov Movement) (int64, error) {
	mov.ID = m.id()
	mov.CreatedAt = time.Now()
	m.movements = append(m.movements, mov)
	return mov.ID, nil
}

func (m *memLedger) InsertLayer(ctx context.Context, layer CostLayer) (int64, error) {
	layer.ID = m.id()
	layer.CreatedAt = time.Now()
	m.layers = append(m.layers, &layer)
	return layer.ID, nil
}

func (m *memLedger) UpdateBalanceQty(ctx context.Context, stockID int64, qty decimal.Decimal) error {
	for _, bal := range m.balances {
		if bal.ID == stockID {
			bal.Qty = qty
			return nil
		}
	}
	return ErrBalanceNotFound
}

// requireLayersMatchBalances asserts qty == sum(remaining) per stock key.
func requireLayersMatchBalances(t *testing.T, m *memLedger) {
	t.Helper()
	for _, bal := range m.balances {
		sum := decimal.Zero
		for _, l := range m.layers {
			if l.StockID == bal.ID {
				sum = sum.Add(l.RemainingQty)
			}
		}
		require.True(t, bal.Qty.Equal(sum), "balance %s != layered %s", bal.Qty, sum)
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func apply(t *testing.T, m *memLedger, in MovementInput) MovementResult {
	t.Helper()
	res, err := NewEngine().Apply(context.Background(), m, in)
	require.NoError(t, err)
	return res
}

func TestFIFOConsumption(t *testing.T) {
	m := newMemLedger()
	productID, warehouseID := uuid.New(), uuid.New()
	inKey := MovementInput{ProductID: productID, WarehouseID: warehouseID}

	first := inKey
	first.Direction = DirectionIn
	first.BaseQty = dec("10")
	first.UnitCost = dec("100")
	apply(t, m, first)

	second := inKey
	second.Direction = DirectionIn
	second.BaseQty = dec("5")
	second.UnitCost = dec("120")
	apply(t, m, second)

	out := inKey
	out.Direction = DirectionOut
	out.BaseQty = dec("8")
	res := apply(t, m, out)

	require.True(t, res.TotalCost.Equal(dec("800")), "got %s", res.TotalCost)
	require.True(t, res.UnitCost.Equal(dec("100")))
	require.Equal(t, 1, res.LayersTouched)
	require.True(t, res.BalanceQty.Equal(dec("7")))
	requireLayersMatchBalances(t, m)

	// The next outbound crosses into the second layer.
	out.BaseQty = dec("4")
	res = apply(t, m, out)
	require.True(t, res.TotalCost.Equal(dec("440")), "got %s", res.TotalCost)
	require.True(t, res.UnitCost.Equal(dec("110")))
	require.Equal(t, 2, res.LayersTouched)
	require.True(t, res.BalanceQty.Equal(dec("3")))
	requireLayersMatchBalances(t, m)
}

func TestWeightedAverageRounding(t *testing.T) {
	m := newMemLedger()
	productID, warehouseID := uuid.New(), uuid.New()

	apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("1"), UnitCost: dec("10")})
	apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("2"), UnitCost: dec("20")})

	res := apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, BaseQty: dec("3")})

	// 50 / 3 recorded at currency precision; the total stays exact.
	require.True(t, res.UnitCost.Equal(dec("16.67")), "got %s", res.UnitCost)
	require.True(t, res.TotalCost.Equal(dec("50")))
}

func TestExhaustedLayersSkipped(t *testing.T) {
	m := newMemLedger()
	productID, warehouseID := uuid.New(), uuid.New()

	apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("5"), UnitCost: dec("100")})
	apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("5"), UnitCost: dec("200")})

	// Drain the first layer exactly.
	res := apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, BaseQty: dec("5")})
	require.True(t, res.UnitCost.Equal(dec("100")))

	// Only the second layer remains.
	res = apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, BaseQty: dec("2")})
	require.True(t, res.UnitCost.Equal(dec("200")))
	require.Equal(t, 1, res.LayersTouched)
	requireLayersMatchBalances(t, m)
}

func TestInsufficientStock(t *testing.T) {
	m := newMemLedger()
	productID, warehouseID := uuid.New(), uuid.New()

	apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("3"), UnitCost: dec("50")})

	_, err := NewEngine().Apply(context.Background(), m, MovementInput{
		ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, BaseQty: dec("4"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestOutOnEmptyKey(t *testing.T) {
	m := newMemLedger()
	_, err := NewEngine().Apply(context.Background(), m, MovementInput{
		ProductID: uuid.New(), WarehouseID: uuid.New(),
		Direction: DirectionOut, BaseQty: dec("1"),
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestInputValidation(t *testing.T) {
	m := newMemLedger()
	engine := NewEngine()
	ctx := context.Background()
	productID, warehouseID := uuid.New(), uuid.New()

	_, err := engine.Apply(ctx, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: decimal.Zero, UnitCost: dec("10")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Apply(ctx, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("-2"), UnitCost: dec("10")})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = engine.Apply(ctx, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("1"), UnitCost: dec("-1")})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = engine.Apply(ctx, m, MovementInput{WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("1"), UnitCost: dec("1")})
	require.Error(t, err)
}

func TestZeroCostInbound(t *testing.T) {
	m := newMemLedger()
	productID, warehouseID := uuid.New(), uuid.New()

	res := apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionIn, BaseQty: dec("4"), UnitCost: decimal.Zero})
	require.True(t, res.TotalCost.IsZero())

	out := apply(t, m, MovementInput{ProductID: productID, WarehouseID: warehouseID,
		Direction: DirectionOut, BaseQty: dec("4")})
	require.True(t, out.UnitCost.IsZero())
	require.True(t, out.TotalCost.IsZero())
}
