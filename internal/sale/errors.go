package sale

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced by the sync engine and facade.
type ErrorKind string

const (
	// KindValidation indicates the server rejected the request payload
	// (bad quantity, missing product, malformed date).
	KindValidation ErrorKind = "VALIDATION_FAILURE"

	// KindNotFound indicates the referenced sale does not exist.
	KindNotFound ErrorKind = "NOT_FOUND"

	// KindItemNotFound indicates the referenced cart line does not exist
	// on the sale. Distinct from KindNotFound so callers can tell a stale
	// line apart from a vanished sale.
	KindItemNotFound ErrorKind = "ITEM_NOT_FOUND"

	// KindTransport indicates the request never produced a server verdict:
	// network failure, timeout, or an unparseable response.
	KindTransport ErrorKind = "TRANSPORT_FAILURE"
)

// Error is the structured error type for all facade and engine failures.
//
// Errors never trigger automatic retries anywhere in salesync; they are
// surfaced to the caller with enough context to retry manually.
type Error struct {
	// Kind identifies the error category.
	Kind ErrorKind

	// Message is a human-readable description.
	Message string

	// Op names the operation that failed (e.g. "add_item").
	Op string

	// SaleID identifies the affected sale, when known.
	SaleID int64

	// LineID identifies the affected cart line (item errors only).
	LineID int64

	// ProductID identifies the affected product, when known.
	ProductID int64

	// Err is the underlying cause (transport errors only).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.SaleID != 0 && e.ProductID != 0:
		return fmt.Sprintf("%s: %s (op=%s, sale=%d, product=%d)", e.Kind, e.Message, e.Op, e.SaleID, e.ProductID)
	case e.SaleID != 0:
		return fmt.Sprintf("%s: %s (op=%s, sale=%d)", e.Kind, e.Message, e.Op, e.SaleID)
	case e.Op != "":
		return fmt.Sprintf("%s: %s (op=%s)", e.Kind, e.Message, e.Op)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a validation failure.
// Uses errors.As to handle wrapped errors.
func IsValidation(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindValidation
}

// IsNotFound reports whether err means the sale does not exist.
func IsNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindNotFound
}

// IsItemNotFound reports whether err means the cart line does not exist.
func IsItemNotFound(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindItemNotFound
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == KindTransport
}

// NewValidationError creates a validation failure for an operation.
func NewValidationError(op, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Message: message,
		Op:      op,
	}
}

// NewNotFoundError creates a sale-not-found error.
func NewNotFoundError(op string, saleID int64) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: "sale not found",
		Op:      op,
		SaleID:  saleID,
	}
}

// NewItemNotFoundError creates a cart-line-not-found error.
func NewItemNotFoundError(op string, saleID, productID int64) *Error {
	return &Error{
		Kind:      KindItemNotFound,
		Message:   "no cart line for product",
		Op:        op,
		SaleID:    saleID,
		ProductID: productID,
	}
}

// NewTransportError wraps a network or decode failure.
func NewTransportError(op string, err error) *Error {
	return &Error{
		Kind:    KindTransport,
		Message: "request did not produce a server verdict",
		Op:      op,
		Err:     err,
	}
}
