package sale

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// MarshalCanonical produces RFC 8785 canonical JSON for hashing and
// journal storage.
// CRITICAL: This is the ONLY serialization that may be used for
// content-addressed identity computation.
//
// Key differences from standard json.Marshal:
//  1. Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//  2. No HTML escaping (< > & are NOT escaped)
//  3. Strings are NFC normalized
//  4. Money is decimal.Decimal, serialized as a quoted string
//  5. No binary floats (returns error)
//  6. No null (returns error)
func MarshalCanonical(v any) ([]byte, error) {
	return marshalCanonical(v)
}

func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case nil:
		return nil, fmt.Errorf("null is forbidden in canonical JSON")
	case string:
		return marshalCanonicalString(val)
	case int64:
		return []byte(fmt.Sprintf("%d", val)), nil
	case int:
		return []byte(fmt.Sprintf("%d", val)), nil
	case bool:
		if val {
			return []byte("true"), nil
		}
		return []byte("false"), nil
	case decimal.Decimal:
		// Money is a quoted decimal string, scale preserved.
		return marshalCanonicalString(val.String())
	case Status:
		return marshalCanonicalString(string(val))
	case PaymentMethod:
		return marshalCanonicalString(string(val))
	case []any:
		return marshalCanonicalArray(val)
	case map[string]any:
		return marshalCanonicalObject(val)
	case float64, float32:
		return nil, fmt.Errorf("binary floats are forbidden in canonical JSON: %v", val)
	default:
		return nil, fmt.Errorf("unsupported type for canonical JSON: %T", v)
	}
}

// marshalCanonicalString produces a canonical JSON string with NFC normalization.
// CRITICAL: RFC 8785 compliance:
//   - No HTML escaping (<, >, & are NOT escaped)
//   - U+2028 (LINE SEPARATOR) and U+2029 (PARAGRAPH SEPARATOR) are NOT escaped
//   - Only control characters (U+0000-U+001F), backslash, and quote are escaped
func marshalCanonicalString(s string) ([]byte, error) {
	// NFC normalize at the serialization boundary
	normalized := norm.NFC.String(s)

	// Use an encoder with HTML escaping disabled
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalized); err != nil {
		return nil, err
	}

	// json.Encoder adds a trailing newline, remove it
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}

	// Go's json.Encoder escapes U+2028/U+2029 for JavaScript compatibility,
	// which violates RFC 8785. Unescape them.
	result = unescapeU2028U2029(result)

	return result, nil
}

// unescapeU2028U2029 converts   and   escape sequences to literal
// characters per RFC 8785.
//
// CRITICAL:   preceded by an odd number of backslashes is a literal
// backslash followed by the text "u2028" (the encoder wrote \\u2028) and
// must stay escaped. Only an even backslash count marks a real escape.
// Unescaping never emits backslashes, so counting in the input is safe.
func unescapeU2028U2029(data []byte) []byte {
	// Fast path: no \u202 sequences at all
	if !bytes.Contains(data, []byte(`\u202`)) {
		return data
	}

	var result []byte
	i := 0
	for i < len(data) {
		if i+6 <= len(data) && data[i] == '\\' && data[i+1] == 'u' &&
			data[i+2] == '2' && data[i+3] == '0' && data[i+4] == '2' &&
			(data[i+5] == '8' || data[i+5] == '9') {

			backslashes := 0
			for j := i - 1; j >= 0 && data[j] == '\\'; j-- {
				backslashes++
			}

			if backslashes%2 == 0 {
				if result == nil {
					result = make([]byte, 0, len(data))
					result = append(result, data[:i]...)
				}
				if data[i+5] == '8' {
					result = append(result, " "...)
				} else {
					result = append(result, " "...)
				}
				i += 6
				continue
			}
		}

		if result != nil {
			result = append(result, data[i])
		}
		i++
	}

	if result == nil {
		return data
	}
	return result
}

// marshalCanonicalArray marshals a slice to canonical JSON.
func marshalCanonicalArray(arr []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')

	for i, elem := range arr {
		if i > 0 {
			buf.WriteByte(',')
		}
		elemBytes, err := marshalCanonical(elem)
		if err != nil {
			return nil, fmt.Errorf("array[%d]: %w", i, err)
		}
		buf.Write(elemBytes)
	}

	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// marshalCanonicalObject marshals a map to canonical JSON with RFC 8785
// key ordering.
func marshalCanonicalObject(obj map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	keys := sortedKeys(obj)
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		keyBytes, err := marshalCanonicalString(k)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		buf.Write(keyBytes)
		buf.WriteByte(':')

		valBytes, err := marshalCanonical(obj[k])
		if err != nil {
			return nil, fmt.Errorf("value for key %q: %w", k, err)
		}
		buf.Write(valBytes)
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// sortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
// CRITICAL: Go's sort.Strings uses UTF-8 which produces a DIFFERENT order.
func sortedKeys(obj map[string]any) []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares strings by UTF-16 code units as required by
// RFC 8785. Must use unicode/utf16.Encode for correct surrogate handling.
func compareKeysRFC8785(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	minLen := len(a16)
	if len(b16) < minLen {
		minLen = len(b16)
	}

	for i := 0; i < minLen; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}

	if len(a16) < len(b16) {
		return -1
	}
	if len(a16) > len(b16) {
		return 1
	}
	return 0
}

// CanonicalSale converts a sale into the map form accepted by
// MarshalCanonical. Optional fields are omitted rather than written as
// null, keeping the output within the canonical JSON subset.
func CanonicalSale(s Sale) map[string]any {
	items := make([]any, len(s.Items))
	for i, it := range s.Items {
		items[i] = CanonicalItem(it)
	}

	m := map[string]any{
		"id":           s.ID,
		"order_number": s.OrderNumber,
		"operator_id":  s.OperatorID,
		"sale_date":    s.SaleDate,
		"status":       s.Status,
		"total_amount": s.TotalAmount,
		"paid_amount":  s.PaidAmount,
		"due_amount":   s.DueAmount,
		"items":        items,
	}
	if s.ClientID != nil {
		m["client_id"] = *s.ClientID
	}
	if s.Notes != "" {
		m["notes"] = s.Notes
	}
	if len(s.Payments) > 0 {
		payments := make([]any, len(s.Payments))
		for i, p := range s.Payments {
			payments[i] = CanonicalPayment(p)
		}
		m["payments"] = payments
	}
	if s.CreatedAt != "" {
		m["created_at"] = s.CreatedAt
	}
	return m
}

// CanonicalItem converts a cart line into canonical map form.
func CanonicalItem(it Item) map[string]any {
	return map[string]any{
		"line_id":    it.LineID,
		"product_id": it.ProductID,
		"name":       it.Name,
		"quantity":   it.Quantity,
		"unit_price": it.UnitPrice,
		"line_total": it.LineTotal,
	}
}

// CanonicalPayment converts a payment into canonical map form.
func CanonicalPayment(p Payment) map[string]any {
	m := map[string]any{
		"id":           p.ID,
		"sale_id":      p.SaleID,
		"method":       p.Method,
		"amount":       p.Amount,
		"payment_date": p.PaymentDate,
		"operator_id":  p.OperatorID,
	}
	if p.Reference != "" {
		m["reference"] = p.Reference
	}
	if p.Notes != "" {
		m["notes"] = p.Notes
	}
	return m
}
