// Package sale provides the domain types shared by every other package
// in salesync.
//
// This package contains type definitions, the error taxonomy, and the
// canonical JSON serialization used for content-addressed journal records.
// All other internal packages import sale; sale imports nothing internal.
// This ensures the domain layer remains foundational with no circular
// dependencies.
//
// Key design constraints:
//   - NO binary floats for money - decimal.Decimal everywhere, serialized
//     as quoted decimal strings on the wire
//   - Totals are never computed locally from cart lines; the server-echoed
//     totals are authoritative
//   - Dates are plain YYYY-MM-DD strings, never wall-clock timestamps
//   - All JSON tags use snake_case
package sale
