package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alryyan1/salesync/internal/catalog"
	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/sale"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testSecret = "server-test-secret"

var testNow = time.Date(2025, time.June, 2, 9, 30, 0, 0, time.UTC)

func newTestRouter(t *testing.T, opts ...Option) (*gin.Engine, *identity.Manager) {
	t.Helper()
	svc := facade.NewMemory(facade.WithNow(func() time.Time { return testNow }))
	ids := identity.NewManager(testSecret, time.Hour)
	srv := New(svc, ids, opts...)
	return srv.Router(), ids
}

func signToken(t *testing.T, ids *identity.Manager, op identity.Operator) string {
	t.Helper()
	token, err := ids.Sign(op)
	require.NoError(t, err)
	return token
}

func doJSON(t *testing.T, router *gin.Engine, method, target, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), "body: %s", rec.Body.String())
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(decimal.RequireFromString(want)), "want %s, got %s", want, got)
}

func addParacetamol(t *testing.T, router *gin.Engine, token string, saleID int64) sale.Sale {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, saleItemsPath(saleID), token, facade.AddItemRequest{
		ProductID:   42,
		ProductName: "Paracetamol 500mg",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("12.50"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp addItemResponse
	decodeBody(t, rec, &resp)
	return resp.Sale
}

func createSale(t *testing.T, router *gin.Engine, token string) sale.Sale {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/api/sales", token, facade.CreateSaleRequest{
		SaleDate: testNow.Format(sale.DateLayout),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created sale.Sale
	decodeBody(t, rec, &created)
	return created
}

func saleItemsPath(saleID int64) string {
	return "/api/sales/" + itoa(saleID) + "/items"
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func TestHealthzNeedsNoAuth(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPIRejectsMissingToken(t *testing.T) {
	router, _ := newTestRouter(t)

	rec := doJSON(t, router, http.MethodGet, "/api/sales/501", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(sale.KindValidation), resp.Error.Kind)
	assert.Equal(t, "missing bearer token", resp.Error.Message)
}

func TestAPIRejectsForgedToken(t *testing.T) {
	router, _ := newTestRouter(t)
	forged := signToken(t, identity.NewManager("other-secret", time.Hour), identity.Operator{ID: 1, Name: "Mallory"})

	rec := doJSON(t, router, http.MethodGet, "/api/sales/501", forged, nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "invalid bearer token", resp.Error.Message)
}

func TestCreateSaleAttributesOperator(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal", Role: "cashier"})

	created := createSale(t, router, token)

	assert.Equal(t, int64(501), created.ID)
	assert.Equal(t, sale.StatusDraft, created.Status)
	assert.Equal(t, int64(7), created.OperatorID)
	assert.Equal(t, "2025-06-02", created.SaleDate)
	assert.NotEmpty(t, created.OrderNumber)
	assert.Empty(t, created.Items)
}

func TestAddItemTwiceReportsConflictAsSuccess(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	created := createSale(t, router, token)

	first := addParacetamol(t, router, token, created.ID)
	require.Len(t, first.Items, 1)
	assert.Equal(t, sale.StatusPending, first.Status)
	assertDecimal(t, "12.5", first.TotalAmount)

	rec := doJSON(t, router, http.MethodPost, saleItemsPath(created.ID), token, facade.AddItemRequest{
		ProductID:   42,
		ProductName: "Paracetamol 500mg",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("12.50"),
	})
	require.Equal(t, http.StatusOK, rec.Code, "duplicate add must not be an HTTP error")

	var resp addItemResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, conflictMessage, resp.Message)
	assert.Len(t, resp.Sale.Items, 1)
	assertDecimal(t, "12.5", resp.Sale.TotalAmount)
}

func TestUpdateItemRecomputesTotals(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	created := createSale(t, router, token)
	withItem := addParacetamol(t, router, token, created.ID)
	lineID := withItem.Items[0].LineID

	rec := doJSON(t, router, http.MethodPut, saleItemsPath(created.ID)+"/"+itoa(lineID), token, facade.UpdateItemRequest{
		Quantity:  3,
		UnitPrice: decimal.RequireFromString("12.50"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated sale.Sale
	decodeBody(t, rec, &updated)
	require.Len(t, updated.Items, 1)
	assert.Equal(t, int64(3), updated.Items[0].Quantity)
	assertDecimal(t, "37.5", updated.TotalAmount)
	assertDecimal(t, "37.5", updated.DueAmount)
}

func TestDeleteLastItemCancelsSale(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	created := createSale(t, router, token)
	withItem := addParacetamol(t, router, token, created.ID)
	lineID := withItem.Items[0].LineID

	rec := doJSON(t, router, http.MethodDelete, saleItemsPath(created.ID)+"/"+itoa(lineID), token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp deleteItemResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "item removed", resp.Message)
	assert.Equal(t, sale.StatusCancelled, resp.SaleStatus)
}

func TestGetSaleMissing(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})

	rec := doJSON(t, router, http.MethodGet, "/api/sales/9999", token, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(sale.KindNotFound), resp.Error.Kind)
	assert.Equal(t, "sale not found", resp.Error.Message)
}

func TestGetSaleMalformedID(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})

	rec := doJSON(t, router, http.MethodGet, "/api/sales/not-a-number", token, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTodayFiltersByOperator(t *testing.T) {
	router, ids := newTestRouter(t)
	amal := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	basim := signToken(t, ids, identity.Operator{ID: 8, Name: "Basim"})
	createSale(t, router, amal)
	second := createSale(t, router, basim)

	rec := doJSON(t, router, http.MethodGet, "/api/sales?today=1", amal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []sale.Sale
	decodeBody(t, rec, &all)
	assert.Len(t, all, 2)

	rec = doJSON(t, router, http.MethodGet, "/api/sales?today=1&operator_id=8", amal, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var mine []sale.Sale
	decodeBody(t, rec, &mine)
	require.Len(t, mine, 1)
	assert.Equal(t, second.ID, mine[0].ID)
	assert.Equal(t, int64(8), mine[0].OperatorID)
}

func TestListRequiresTodayFlag(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})

	rec := doJSON(t, router, http.MethodGet, "/api/sales", token, nil)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var resp errorResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, string(sale.KindValidation), resp.Error.Kind)
}

func TestPaymentRejectionIsNotAnHTTPError(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	created := createSale(t, router, token)
	addParacetamol(t, router, token, created.ID)

	rec := doJSON(t, router, http.MethodPost, "/api/sales/"+itoa(created.ID)+"/payments", token, facade.PaymentRequest{
		Method: sale.MethodCash,
		Amount: decimal.RequireFromString("100.00"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp paymentResponse
	decodeBody(t, rec, &resp)
	assert.Nil(t, resp.Sale)
	assert.Equal(t, []string{"payment exceeds amount due"}, resp.Errors)
}

func TestFullPaymentCompletesSale(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})
	created := createSale(t, router, token)
	addParacetamol(t, router, token, created.ID)

	rec := doJSON(t, router, http.MethodPost, "/api/sales/"+itoa(created.ID)+"/payments", token, facade.PaymentRequest{
		Method: sale.MethodCash,
		Amount: decimal.RequireFromString("12.50"),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp paymentResponse
	decodeBody(t, rec, &resp)
	require.NotNil(t, resp.Sale)
	assert.Empty(t, resp.Errors)
	assert.Equal(t, sale.StatusCompleted, resp.Sale.Status)
	assertDecimal(t, "12.5", resp.Sale.PaidAmount)
	assertDecimal(t, "0", resp.Sale.DueAmount)
	require.Len(t, resp.Sale.Payments, 1)
	assert.Equal(t, int64(7), resp.Sale.Payments[0].OperatorID)
}

func TestProductsWithoutCatalog(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})

	rec := doJSON(t, router, http.MethodGet, "/api/products", token, nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestProductsListsCatalog(t *testing.T) {
	cat, err := catalog.FromProducts([]sale.Product{
		{
			ID:             42,
			SKU:            "PARA-500",
			Name:           "Paracetamol 500mg",
			LastSalePrice:  decimal.RequireFromString("12.50"),
			SuggestedPrice: decimal.RequireFromString("15.00"),
		},
	})
	require.NoError(t, err)

	router, ids := newTestRouter(t, WithCatalog(cat))
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal"})

	rec := doJSON(t, router, http.MethodGet, "/api/products", token, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var products []sale.Product
	decodeBody(t, rec, &products)
	require.Len(t, products, 1)
	assert.Equal(t, "PARA-500", products[0].SKU)
	assertDecimal(t, "12.5", products[0].LastSalePrice)
}

// TestHTTPClientRoundTrip drives the real HTTP binding against this
// server. It is the conformance check that the two halves of the wire
// contract agree: every envelope the client parses is produced here in
// the shape it expects.
func TestHTTPClientRoundTrip(t *testing.T) {
	router, ids := newTestRouter(t)
	token := signToken(t, ids, identity.Operator{ID: 7, Name: "Amal", Role: "cashier"})

	ts := httptest.NewServer(router)
	defer ts.Close()

	client := facade.NewHTTP(ts.URL, facade.WithAuthToken(token))
	ctx := context.Background()

	created, err := client.CreateEmptySale(ctx, facade.CreateSaleRequest{SaleDate: "2025-06-02"})
	require.NoError(t, err)
	assert.Equal(t, int64(501), created.ID)
	assert.Equal(t, sale.StatusDraft, created.Status)

	addReq := facade.AddItemRequest{
		ProductID:   42,
		ProductName: "Paracetamol 500mg",
		Quantity:    1,
		UnitPrice:   decimal.RequireFromString("12.50"),
	}
	first, err := client.AddSaleItem(ctx, created.ID, addReq)
	require.NoError(t, err)
	assert.False(t, first.AlreadyExists)
	require.Len(t, first.Sale.Items, 1)

	dup, err := client.AddSaleItem(ctx, created.ID, addReq)
	require.NoError(t, err, "duplicate add is success on the wire")
	assert.True(t, dup.AlreadyExists)
	assert.Len(t, dup.Sale.Items, 1)

	lineID := first.Sale.Items[0].LineID
	updated, err := client.UpdateSaleItem(ctx, created.ID, lineID, facade.UpdateItemRequest{
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("12.50"),
	})
	require.NoError(t, err)
	assertDecimal(t, "25", updated.TotalAmount)

	rejected, err := client.RecordPayment(ctx, created.ID, facade.PaymentRequest{
		Method: sale.MethodCash,
		Amount: decimal.RequireFromString("999.00"),
	})
	require.NoError(t, err)
	assert.Nil(t, rejected.Sale)
	assert.Equal(t, []string{"payment exceeds amount due"}, rejected.Errors)

	deleted, err := client.DeleteSaleItem(ctx, created.ID, lineID)
	require.NoError(t, err)
	assert.Equal(t, "item removed", deleted.Message)
	assert.Equal(t, sale.StatusCancelled, deleted.SaleStatus)

	_, err = client.GetSale(ctx, 9999)
	assert.True(t, sale.IsNotFound(err), "got %v", err)

	today, err := client.GetTodaysSales(ctx, facade.TodayQuery{})
	require.NoError(t, err)
	assert.Len(t, today, 1)
}
