package facade

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/sale"
)

// Memory is the in-memory reference implementation of SaleService.
//
// It carries the authoritative server semantics the engine is written
// against: duplicate product lines report conflict-as-success, removing
// the last line collapses the sale to cancelled, totals and due amounts
// are recomputed server-side on every mutation, completed sales reject
// further item mutations, and a payment that covers the total completes
// the sale.
//
// Thread-safety model: one mutex guards all state; every method returns
// deep copies, so callers never share memory with the store.
type Memory struct {
	mu    sync.Mutex
	now   func() time.Time
	sales map[int64]*sale.Sale

	saleSeq int64
	lineSeq int64
	paySeq  int64
}

// MemoryOption configures a Memory facade.
type MemoryOption func(*Memory)

// WithNow fixes the clock used for sale dates, payment dates, and
// created-at stamps. Tests and the harness pin this for determinism.
func WithNow(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// WithNumbering sets the next sale, line, and payment identifiers.
func WithNumbering(saleStart, lineStart, paymentStart int64) MemoryOption {
	return func(m *Memory) {
		m.saleSeq = saleStart
		m.lineSeq = lineStart
		m.paySeq = paymentStart
	}
}

// NewMemory creates an empty in-memory sale service.
// Identifier sequences start at 501 (sales), 9001 (lines), and 1
// (payments), mimicking a seeded production database.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		now:     time.Now,
		sales:   make(map[int64]*sale.Sale),
		saleSeq: 501,
		lineSeq: 9001,
		paySeq:  1,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateEmptySale provisions a draft sale with no items.
func (m *Memory) CreateEmptySale(ctx context.Context, req CreateSaleRequest) (sale.Sale, error) {
	const op = "create_sale"

	saleDate := req.SaleDate
	if saleDate == "" {
		saleDate = m.today()
	}
	if _, err := sale.ParseDate(saleDate); err != nil {
		return sale.Sale{}, sale.NewValidationError(op, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.saleSeq
	m.saleSeq++

	s := &sale.Sale{
		ID:          id,
		OrderNumber: fmt.Sprintf("SO-%06d", id),
		OperatorID:  operatorID(ctx),
		SaleDate:    saleDate,
		Status:      sale.StatusDraft,
		TotalAmount: decimal.Zero,
		PaidAmount:  decimal.Zero,
		DueAmount:   decimal.Zero,
		Notes:       req.Notes,
		Items:       []sale.Item{},
		CreatedAt:   m.now().UTC().Format(time.RFC3339),
	}
	if req.ClientID != nil {
		clientID := *req.ClientID
		s.ClientID = &clientID
	}
	m.sales[id] = s

	return s.Clone(), nil
}

// AddSaleItem appends a line, or reports conflict-as-success when the
// product is already on the sale.
func (m *Memory) AddSaleItem(ctx context.Context, saleID int64, req AddItemRequest) (AddItemResult, error) {
	const op = "add_item"

	if req.ProductID <= 0 {
		return AddItemResult{}, sale.NewValidationError(op, "product id must be positive")
	}
	if req.Quantity <= 0 {
		return AddItemResult{}, sale.NewValidationError(op, "quantity must be positive")
	}
	if req.UnitPrice.IsNegative() {
		return AddItemResult{}, sale.NewValidationError(op, "unit price must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return AddItemResult{}, sale.NewNotFoundError(op, saleID)
	}
	if !s.Status.Editable() {
		return AddItemResult{}, &sale.Error{
			Kind:    sale.KindValidation,
			Message: fmt.Sprintf("sale is %s and no longer editable", s.Status),
			Op:      op,
			SaleID:  saleID,
		}
	}

	// Idempotency guard: one line per product, ever. The conflict is a
	// success response, not an error.
	if s.HasProduct(req.ProductID) {
		return AddItemResult{Sale: s.Clone(), AlreadyExists: true}, nil
	}

	lineID := m.lineSeq
	m.lineSeq++

	s.Items = append(s.Items, sale.Item{
		LineID:    lineID,
		ProductID: req.ProductID,
		Name:      req.ProductName,
		Quantity:  req.Quantity,
		UnitPrice: req.UnitPrice,
	})
	if s.Status == sale.StatusDraft {
		s.Status = sale.StatusPending
	}
	recalcTotals(s)

	return AddItemResult{Sale: s.Clone()}, nil
}

// UpdateSaleItem changes quantity and unit price of an existing line.
func (m *Memory) UpdateSaleItem(ctx context.Context, saleID, lineID int64, req UpdateItemRequest) (sale.Sale, error) {
	const op = "update_item"

	if req.Quantity <= 0 {
		return sale.Sale{}, sale.NewValidationError(op, "quantity must be positive")
	}
	if req.UnitPrice.IsNegative() {
		return sale.Sale{}, sale.NewValidationError(op, "unit price must not be negative")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return sale.Sale{}, sale.NewNotFoundError(op, saleID)
	}
	if !s.Status.Editable() {
		return sale.Sale{}, &sale.Error{
			Kind:    sale.KindValidation,
			Message: fmt.Sprintf("sale is %s and no longer editable", s.Status),
			Op:      op,
			SaleID:  saleID,
		}
	}

	idx := lineIndex(s, lineID)
	if idx < 0 {
		return sale.Sale{}, &sale.Error{
			Kind:    sale.KindItemNotFound,
			Message: "no such line on sale",
			Op:      op,
			SaleID:  saleID,
			LineID:  lineID,
		}
	}

	s.Items[idx].Quantity = req.Quantity
	s.Items[idx].UnitPrice = req.UnitPrice
	recalcTotals(s)

	return s.Clone(), nil
}

// DeleteSaleItem removes a line; removing the last line cancels the sale.
func (m *Memory) DeleteSaleItem(ctx context.Context, saleID, lineID int64) (DeleteItemResult, error) {
	const op = "delete_item"

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return DeleteItemResult{}, sale.NewNotFoundError(op, saleID)
	}
	if !s.Status.Editable() {
		return DeleteItemResult{}, &sale.Error{
			Kind:    sale.KindValidation,
			Message: fmt.Sprintf("sale is %s and no longer editable", s.Status),
			Op:      op,
			SaleID:  saleID,
		}
	}

	idx := lineIndex(s, lineID)
	if idx < 0 {
		return DeleteItemResult{}, &sale.Error{
			Kind:    sale.KindItemNotFound,
			Message: "no such line on sale",
			Op:      op,
			SaleID:  saleID,
			LineID:  lineID,
		}
	}

	s.Items = append(s.Items[:idx], s.Items[idx+1:]...)
	recalcTotals(s)

	// Zero-item sale is not a valid in-progress state: collapse to
	// cancelled rather than leaving a hollow pending sale.
	if len(s.Items) == 0 {
		s.Status = sale.StatusCancelled
	}

	return DeleteItemResult{Message: "item removed", SaleStatus: s.Status}, nil
}

// GetSale returns a deep copy of the canonical sale.
func (m *Memory) GetSale(ctx context.Context, saleID int64) (sale.Sale, error) {
	const op = "get_sale"

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return sale.Sale{}, sale.NewNotFoundError(op, saleID)
	}
	return s.Clone(), nil
}

// GetTodaysSales lists sales dated today, ID ascending.
func (m *Memory) GetTodaysSales(ctx context.Context, q TodayQuery) ([]sale.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	today := m.today()
	out := []sale.Sale{}
	for _, s := range m.sales {
		if s.SaleDate != today {
			continue
		}
		if q.OperatorID != nil && s.OperatorID != *q.OperatorID {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// UpdateSale changes the sale date.
func (m *Memory) UpdateSale(ctx context.Context, saleID int64, req UpdateSaleRequest) (sale.Sale, error) {
	const op = "update_sale"

	if _, err := sale.ParseDate(req.SaleDate); err != nil {
		return sale.Sale{}, sale.NewValidationError(op, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return sale.Sale{}, sale.NewNotFoundError(op, saleID)
	}
	if !s.Status.Editable() {
		return sale.Sale{}, &sale.Error{
			Kind:    sale.KindValidation,
			Message: fmt.Sprintf("sale is %s and no longer editable", s.Status),
			Op:      op,
			SaleID:  saleID,
		}
	}

	s.SaleDate = req.SaleDate
	return s.Clone(), nil
}

// RecordPayment applies a payment. Business rejections come back in
// PaymentResult.Errors with a nil error and leave the sale untouched.
func (m *Memory) RecordPayment(ctx context.Context, saleID int64, req PaymentRequest) (PaymentResult, error) {
	const op = "record_payment"

	if !req.Method.Valid() {
		return PaymentResult{}, sale.NewValidationError(op, fmt.Sprintf("unknown payment method %q", req.Method))
	}
	paymentDate := req.PaymentDate
	if paymentDate == "" {
		paymentDate = m.today()
	}
	if _, err := sale.ParseDate(paymentDate); err != nil {
		return PaymentResult{}, sale.NewValidationError(op, err.Error())
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sales[saleID]
	if !ok {
		return PaymentResult{}, sale.NewNotFoundError(op, saleID)
	}

	if rejections := paymentRejections(s, req.Amount); len(rejections) > 0 {
		return PaymentResult{Errors: rejections}, nil
	}

	id := m.paySeq
	m.paySeq++

	s.Payments = append(s.Payments, sale.Payment{
		ID:          id,
		SaleID:      saleID,
		Method:      req.Method,
		Amount:      req.Amount,
		PaymentDate: paymentDate,
		Reference:   req.Reference,
		Notes:       req.Notes,
		OperatorID:  operatorID(ctx),
	})
	s.PaidAmount = s.PaidAmount.Add(req.Amount)
	s.DueAmount = s.TotalAmount.Sub(s.PaidAmount)
	if s.PaidAmount.GreaterThanOrEqual(s.TotalAmount) {
		s.Status = sale.StatusCompleted
	}

	clone := s.Clone()
	return PaymentResult{Sale: &clone}, nil
}

// paymentRejections returns the business-rule failures for applying a
// payment of amount to s. Empty means the payment is acceptable.
func paymentRejections(s *sale.Sale, amount decimal.Decimal) []string {
	var rejections []string
	switch s.Status {
	case sale.StatusCompleted:
		rejections = append(rejections, "sale is already completed")
	case sale.StatusCancelled:
		rejections = append(rejections, "sale is cancelled")
	case sale.StatusDraft:
		rejections = append(rejections, "sale has no items to pay for")
	}
	if !amount.IsPositive() {
		rejections = append(rejections, "payment amount must be positive")
	} else if len(rejections) == 0 && amount.GreaterThan(s.DueAmount) {
		rejections = append(rejections, "payment exceeds amount due")
	}
	return rejections
}

// recalcTotals recomputes line totals, the sale total, and the due
// amount. Called after every item mutation so clients can trust the
// echoed amounts without local arithmetic.
func recalcTotals(s *sale.Sale) {
	total := decimal.Zero
	for i := range s.Items {
		lineTotal := s.Items[i].UnitPrice.Mul(decimal.NewFromInt(s.Items[i].Quantity))
		s.Items[i].LineTotal = lineTotal
		total = total.Add(lineTotal)
	}
	s.TotalAmount = total
	s.DueAmount = total.Sub(s.PaidAmount)
}

func lineIndex(s *sale.Sale, lineID int64) int {
	for i, it := range s.Items {
		if it.LineID == lineID {
			return i
		}
	}
	return -1
}

// operatorID attributes work to the operator on the context, zero when
// the call is unauthenticated (direct test use).
func operatorID(ctx context.Context) int64 {
	if op, ok := identity.FromContext(ctx); ok {
		return op.ID
	}
	return 0
}

func (m *Memory) today() string {
	return m.now().Format(sale.DateLayout)
}
