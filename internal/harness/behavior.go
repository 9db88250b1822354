package harness

import (
	"fmt"
	"sort"
)

// KnownBehaviors maps behavior tags scenarios may claim to verify to a
// one-line description. The tags give test reports a stable vocabulary
// for what each fixture actually demonstrates.
var KnownBehaviors = map[string]string{
	"conflict_as_success": "a duplicate add reports already_exists without disturbing the cart",
	"server_echo":         "totals and lines always mirror the server's echoed sale",
	"single_writer":       "mutations apply strictly in submission order",
	"no_retry":            "a failed mutation surfaces its error and is never retried",
	"lifecycle_collapse":  "removing the last line cancels the sale and empties the session",
	"deferred_creation":   "no sale exists server-side until the first product is added",
	"settlement":          "a covering payment completes the sale and settles the session",
	"partial_payment":     "an undercovering payment records but leaves the sale pending",
	"local_adjustments":   "discounts and client choice stay local until settlement",
	"date_repair":         "a sale's business date can be corrected while it is pending",
}

// BehaviorTags returns the known behavior tags in sorted order.
func BehaviorTags() []string {
	tags := make([]string, 0, len(KnownBehaviors))
	for tag := range KnownBehaviors {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}

// UnknownBehaviorError is returned when a scenario claims to verify a
// behavior tag the harness does not know.
type UnknownBehaviorError struct {
	Scenario string
	Tag      string
	Index    int
}

// Error implements the error interface.
func (e *UnknownBehaviorError) Error() string {
	return fmt.Sprintf(
		"scenario %q verifies[%d] names unknown behavior %q (known: %v)",
		e.Scenario,
		e.Index,
		e.Tag,
		BehaviorTags(),
	)
}
