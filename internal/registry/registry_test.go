package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/sale"
)

func operatorCtx(id int64) context.Context {
	return identity.WithOperator(context.Background(), identity.Operator{ID: id, Name: "cashier"})
}

// seedSale creates a sale with one paracetamol line for the operator.
func seedSale(t *testing.T, svc *facade.Memory, operator int64) sale.Sale {
	t.Helper()
	ctx := operatorCtx(operator)

	s, err := svc.CreateEmptySale(ctx, facade.CreateSaleRequest{})
	require.NoError(t, err)

	res, err := svc.AddSaleItem(ctx, s.ID, facade.AddItemRequest{
		ProductID:   42,
		ProductName: "Paracetamol 500mg",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)
	return res.Sale
}

func TestRegistry_Refresh_LoadsTodaysSales(t *testing.T) {
	svc := facade.NewMemory()
	first := seedSale(t, svc, 7)
	second := seedSale(t, svc, 7)

	r := New(svc)
	require.Equal(t, 0, r.Len())

	require.NoError(t, r.Refresh(context.Background()))

	assert.Equal(t, 2, r.Len())
	got, ok := r.Find(first.ID)
	require.True(t, ok)
	assert.Equal(t, first.OrderNumber, got.OrderNumber)
	_, ok = r.Find(second.ID)
	assert.True(t, ok)
}

func TestRegistry_Refresh_ReplacesWholesale(t *testing.T) {
	svc := facade.NewMemory()
	s := seedSale(t, svc, 7)

	r := New(svc)
	require.NoError(t, r.Refresh(context.Background()))

	before, ok := r.Find(s.ID)
	require.True(t, ok)
	require.True(t, before.TotalAmount.Equal(decimal.RequireFromString("12.50")))

	// Server-side change: quantity bumped to 3.
	_, err := svc.UpdateSaleItem(operatorCtx(7), s.ID, s.Items[0].LineID, facade.UpdateItemRequest{
		Quantity:  3,
		UnitPrice: decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)

	// Stale until the next full reload.
	stale, _ := r.Find(s.ID)
	assert.True(t, stale.TotalAmount.Equal(decimal.RequireFromString("12.50")))

	require.NoError(t, r.Refresh(context.Background()))
	fresh, ok := r.Find(s.ID)
	require.True(t, ok)
	assert.True(t, fresh.TotalAmount.Equal(decimal.RequireFromString("37.50")))
}

func TestRegistry_Refresh_FiltersByOperator(t *testing.T) {
	svc := facade.NewMemory()
	mine := seedSale(t, svc, 7)
	seedSale(t, svc, 8)

	r := New(svc, FilterByOperator(7))
	require.NoError(t, r.Refresh(context.Background()))

	require.Equal(t, 1, r.Len())
	got, ok := r.Find(mine.ID)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.OperatorID)
}

func TestRegistry_Refresh_KeepsCacheOnFailure(t *testing.T) {
	svc := facade.NewMemory()
	s := seedSale(t, svc, 7)

	flaky := &flakyFacade{SaleService: svc, failAfter: 1}
	r := New(flaky)

	require.NoError(t, r.Refresh(context.Background()))
	require.Equal(t, 1, r.Len())

	err := r.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, sale.IsTransport(err))

	assert.Equal(t, 1, r.Len())
	_, ok := r.Find(s.ID)
	assert.True(t, ok)
}

func TestRegistry_Latest_ReturnsNewestSale(t *testing.T) {
	svc := facade.NewMemory()
	seedSale(t, svc, 7)
	newest := seedSale(t, svc, 7)

	r := New(svc)

	_, ok := r.Latest()
	assert.False(t, ok)

	require.NoError(t, r.Refresh(context.Background()))
	got, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, newest.ID, got.ID)
}

func TestRegistry_Find_MissingSale(t *testing.T) {
	r := New(facade.NewMemory())
	require.NoError(t, r.Refresh(context.Background()))

	_, ok := r.Find(999)
	assert.False(t, ok)
}

func TestRegistry_Sales_ReturnsDeepCopies(t *testing.T) {
	svc := facade.NewMemory()
	s := seedSale(t, svc, 7)

	r := New(svc)
	require.NoError(t, r.Refresh(context.Background()))

	got := r.Sales()
	require.Len(t, got, 1)
	got[0].Items[0].Quantity = 99
	got[0].OrderNumber = "tampered"

	again, ok := r.Find(s.ID)
	require.True(t, ok)
	assert.Equal(t, int64(1), again.Items[0].Quantity)
	assert.Equal(t, s.OrderNumber, again.OrderNumber)
}

// flakyFacade serves list calls from the embedded facade until
// failAfter calls have succeeded, then fails with a transport error.
type flakyFacade struct {
	facade.SaleService
	failAfter int
	calls     int
}

func (f *flakyFacade) GetTodaysSales(ctx context.Context, q facade.TodayQuery) ([]sale.Sale, error) {
	f.calls++
	if f.calls > f.failAfter {
		return nil, sale.NewTransportError("get_todays_sales", errors.New("connection refused"))
	}
	return f.SaleService.GetTodaysSales(ctx, q)
}
