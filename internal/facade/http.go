package facade

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"resty.dev/v3"

	"github.com/alryyan1/salesync/internal/sale"
)

// HTTP is the HTTP/JSON binding of SaleService.
//
// CRITICAL: no automatic retries. A retried create-sale can provision a
// duplicate sale; retries must stay an explicit caller action. The
// underlying client is configured with retries off and must remain so.
type HTTP struct {
	client *resty.Client
}

// HTTPOption configures the HTTP binding.
type HTTPOption func(*HTTP)

// WithAuthToken sets the bearer token sent on every request.
func WithAuthToken(token string) HTTPOption {
	return func(h *HTTP) {
		h.client.SetAuthToken(token)
	}
}

// WithTimeout overrides the default 10s request timeout.
func WithTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.client.SetTimeout(d)
	}
}

// NewHTTP creates a client bound to baseURL.
func NewHTTP(baseURL string, opts ...HTTPOption) *HTTP {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	h := &HTTP{client: client}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Close releases idle connections.
func (h *HTTP) Close() error {
	return h.client.Close()
}

// Wire envelopes. The conflict-as-success and delete-status shapes are
// part of the normative contract; everything else is a bare sale.
type addItemEnvelope struct {
	Sale    sale.Sale `json:"sale"`
	Message string    `json:"message,omitempty"`
}

type deleteItemEnvelope struct {
	Message    string      `json:"message"`
	SaleStatus sale.Status `json:"sale_status"`
}

type paymentEnvelope struct {
	Sale   *sale.Sale `json:"sale,omitempty"`
	Errors []string   `json:"errors,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Kind    string `json:"kind"`
		Message string `json:"message"`
	} `json:"error"`
}

// conflictMessage is the sentinel the server sends when an added
// product is already a line on the sale.
const conflictMessage = "exists"

func (h *HTTP) CreateEmptySale(ctx context.Context, req CreateSaleRequest) (sale.Sale, error) {
	const op = "create_sale"

	var out sale.Sale
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/api/sales")
	if err != nil {
		return sale.Sale{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return sale.Sale{}, wireError(op, 0, 0, resp, apiErr)
	}
	return out, nil
}

func (h *HTTP) AddSaleItem(ctx context.Context, saleID int64, req AddItemRequest) (AddItemResult, error) {
	const op = "add_item"

	var out addItemEnvelope
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/api/sales/%d/items", saleID))
	if err != nil {
		return AddItemResult{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return AddItemResult{}, wireError(op, saleID, 0, resp, apiErr)
	}
	return AddItemResult{
		Sale:          out.Sale,
		AlreadyExists: out.Message == conflictMessage,
	}, nil
}

func (h *HTTP) UpdateSaleItem(ctx context.Context, saleID, lineID int64, req UpdateItemRequest) (sale.Sale, error) {
	const op = "update_item"

	var out sale.Sale
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Put(fmt.Sprintf("/api/sales/%d/items/%d", saleID, lineID))
	if err != nil {
		return sale.Sale{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return sale.Sale{}, wireError(op, saleID, lineID, resp, apiErr)
	}
	return out, nil
}

func (h *HTTP) DeleteSaleItem(ctx context.Context, saleID, lineID int64) (DeleteItemResult, error) {
	const op = "delete_item"

	var out deleteItemEnvelope
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Delete(fmt.Sprintf("/api/sales/%d/items/%d", saleID, lineID))
	if err != nil {
		return DeleteItemResult{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return DeleteItemResult{}, wireError(op, saleID, lineID, resp, apiErr)
	}
	return DeleteItemResult{Message: out.Message, SaleStatus: out.SaleStatus}, nil
}

func (h *HTTP) GetSale(ctx context.Context, saleID int64) (sale.Sale, error) {
	const op = "get_sale"

	var out sale.Sale
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		Get(fmt.Sprintf("/api/sales/%d", saleID))
	if err != nil {
		return sale.Sale{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return sale.Sale{}, wireError(op, saleID, 0, resp, apiErr)
	}
	return out, nil
}

func (h *HTTP) GetTodaysSales(ctx context.Context, q TodayQuery) ([]sale.Sale, error) {
	const op = "list_today"

	out := []sale.Sale{}
	var apiErr errorEnvelope
	req := h.client.R().
		SetContext(ctx).
		SetResult(&out).
		SetError(&apiErr).
		SetQueryParam("today", "1")
	if q.OperatorID != nil {
		req.SetQueryParam("operator_id", strconv.FormatInt(*q.OperatorID, 10))
	}
	resp, err := req.Get("/api/sales")
	if err != nil {
		return nil, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return nil, wireError(op, 0, 0, resp, apiErr)
	}
	if out == nil {
		out = []sale.Sale{}
	}
	return out, nil
}

func (h *HTTP) UpdateSale(ctx context.Context, saleID int64, req UpdateSaleRequest) (sale.Sale, error) {
	const op = "update_sale"

	var out sale.Sale
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Put(fmt.Sprintf("/api/sales/%d", saleID))
	if err != nil {
		return sale.Sale{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return sale.Sale{}, wireError(op, saleID, 0, resp, apiErr)
	}
	return out, nil
}

func (h *HTTP) RecordPayment(ctx context.Context, saleID int64, req PaymentRequest) (PaymentResult, error) {
	const op = "record_payment"

	var out paymentEnvelope
	var apiErr errorEnvelope
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/api/sales/%d/payments", saleID))
	if err != nil {
		return PaymentResult{}, sale.NewTransportError(op, err)
	}
	if resp.IsError() {
		return PaymentResult{}, wireError(op, saleID, 0, resp, apiErr)
	}
	return PaymentResult{Sale: out.Sale, Errors: out.Errors}, nil
}

// wireError converts an HTTP error response into a *sale.Error.
// The server's error envelope carries the kind when it produced a
// verdict; otherwise the status code decides.
func wireError(op string, saleID, lineID int64, resp *resty.Response, env errorEnvelope) error {
	kind := sale.ErrorKind(env.Error.Kind)
	message := env.Error.Message

	switch kind {
	case sale.KindValidation, sale.KindNotFound, sale.KindItemNotFound, sale.KindTransport:
		// Server identified the failure.
	default:
		switch {
		case resp.StatusCode() == http.StatusNotFound:
			kind, message = sale.KindNotFound, "sale not found"
		case resp.StatusCode() >= http.StatusInternalServerError:
			return sale.NewTransportError(op, fmt.Errorf("server returned %s", resp.Status()))
		default:
			kind, message = sale.KindValidation, fmt.Sprintf("server rejected request: %s", resp.Status())
		}
	}

	return &sale.Error{
		Kind:    kind,
		Message: message,
		Op:      op,
		SaleID:  saleID,
		LineID:  lineID,
	}
}
