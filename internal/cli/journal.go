package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alryyan1/salesync/internal/journal"
	"github.com/alryyan1/salesync/internal/sale"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Token  string // optional - filter to one op token
	SaleID int64  // optional - filter to one sale
}

// JournalOp is one journaled mutation in the listing.
type JournalOp struct {
	Seq        int64           `json:"seq"`
	ID         string          `json:"id"`
	Token      string          `json:"token"`
	Op         string          `json:"op"`
	Args       json.RawMessage `json:"args,omitempty"`
	OutputCase string          `json:"output_case"`
	Outcome    json.RawMessage `json:"outcome,omitempty"`
	SaleID     int64           `json:"sale_id,omitempty"`
	OperatorID int64           `json:"operator_id,omitempty"`
}

// SnapshotView is the latest session snapshot in the listing.
type SnapshotView struct {
	Seq    int64  `json:"seq"`
	State  string `json:"state"`
	SaleID int64  `json:"sale_id,omitempty"`
	Hash   string `json:"hash"`
}

// JournalStats holds summary statistics for the journal.
type JournalStats struct {
	TotalOps int   `json:"total_ops"`
	Failures int   `json:"failures"`
	LastSeq  int64 `json:"last_seq"`
}

// JournalResult holds the complete journal listing.
type JournalResult struct {
	Ops      []JournalOp   `json:"ops"`
	Snapshot *SnapshotView `json:"snapshot,omitempty"`
	Stats    JournalStats  `json:"stats"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal <db>",
		Short: "Inspect the engine's op journal",
		Long: `List the ops recorded in an engine journal database.

Shows every applied mutation in logical order: the op name, its
arguments, and the outcome or error the server returned. The latest
session snapshot and summary statistics are included.

Examples:
  salesync journal ./salesync.db
  salesync journal ./salesync.db --token lifecycle-000003
  salesync journal ./salesync.db --sale 501 --verbose
  salesync journal ./salesync.db --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Token, "token", "", "filter to one op token")
	cmd.Flags().Int64Var(&opts.SaleID, "sale", 0, "filter to one sale id")

	return cmd
}

func runJournal(opts *JournalOptions, dbPath string, cmd *cobra.Command) error {
	if opts.Token != "" && opts.SaleID != 0 {
		return NewExitError(ExitCommandError, "only one of --token and --sale may be set")
	}

	// Open would create a fresh database at a bad path; stat first so a
	// typo is an error instead of an empty listing.
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return NewExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", dbPath))
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	j, err := journal.Open(dbPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	records, err := loadOps(ctx, j, opts)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	result := JournalResult{
		Ops: make([]JournalOp, 0, len(records)),
	}
	for _, rec := range records {
		result.Ops = append(result.Ops, JournalOp{
			Seq:        rec.Seq,
			ID:         rec.ID,
			Token:      rec.Token,
			Op:         rec.Op,
			Args:       rec.Args,
			OutputCase: rec.OutputCase,
			Outcome:    rec.Outcome,
			SaleID:     rec.SaleID,
			OperatorID: rec.OperatorID,
		})
		if isFailureCase(rec.OutputCase) {
			result.Stats.Failures++
		}
	}
	result.Stats.TotalOps = len(records)

	if result.Stats.LastSeq, err = j.LastSeq(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	}

	if snap, found, err := j.LastSnapshot(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read journal", err)
	} else if found {
		result.Snapshot = &SnapshotView{
			Seq:    snap.Seq,
			State:  snap.State,
			SaleID: snap.SaleID,
			Hash:   snap.Hash,
		}
	}

	if opts.Format == "json" {
		return outputJournalJSON(cmd, result)
	}

	return outputJournalText(cmd, dbPath, opts, result)
}

// loadOps reads the op listing with the requested filter applied.
func loadOps(ctx context.Context, j *journal.Journal, opts *JournalOptions) ([]journal.OpRecord, error) {
	switch {
	case opts.Token != "":
		return j.OpsForToken(ctx, opts.Token)
	case opts.SaleID != 0:
		return j.OpsForSale(ctx, opts.SaleID)
	default:
		return j.Ops(ctx)
	}
}

// isFailureCase reports whether an output case is an error kind rather
// than an outcome name.
func isFailureCase(outputCase string) bool {
	switch sale.ErrorKind(outputCase) {
	case sale.KindValidation, sale.KindNotFound, sale.KindItemNotFound, sale.KindTransport:
		return true
	}
	return false
}

// outputJournalJSON outputs the journal listing as JSON.
func outputJournalJSON(cmd *cobra.Command, result JournalResult) error {
	response := CLIResponse{
		Status: "ok",
		Data:   result,
	}

	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(response)
}

// outputJournalText outputs the journal listing as text.
func outputJournalText(cmd *cobra.Command, dbPath string, opts *JournalOptions, result JournalResult) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Journal: %s\n", dbPath)
	switch {
	case opts.Token != "":
		fmt.Fprintf(w, "Filter: token %s\n", opts.Token)
	case opts.SaleID != 0:
		fmt.Fprintf(w, "Filter: sale %d\n", opts.SaleID)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Ops ===")
	if len(result.Ops) == 0 {
		fmt.Fprintln(w, "  (no ops)")
	} else {
		for _, op := range result.Ops {
			formatJournalOp(w, op, opts.Verbose)
		}
	}
	fmt.Fprintln(w)

	if result.Snapshot != nil {
		fmt.Fprintln(w, "=== Snapshot ===")
		fmt.Fprintf(w, "  seq %d  state %s", result.Snapshot.Seq, result.Snapshot.State)
		if result.Snapshot.SaleID != 0 {
			fmt.Fprintf(w, "  sale %d", result.Snapshot.SaleID)
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  hash %s\n", truncateID(result.Snapshot.Hash))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Ops: %d\n", result.Stats.TotalOps)
	fmt.Fprintf(w, "  Failures:  %d\n", result.Stats.Failures)
	fmt.Fprintf(w, "  Last Seq:  %d\n", result.Stats.LastSeq)

	return nil
}

// formatJournalOp formats a single op for text output.
func formatJournalOp(w io.Writer, op JournalOp, verbose bool) {
	verdict := op.OutputCase
	if verdict == "" {
		verdict = "?"
	}
	fmt.Fprintf(w, "  [%d] %s -> %s", op.Seq, op.Op, verdict)
	if op.SaleID != 0 {
		fmt.Fprintf(w, " (sale %d)", op.SaleID)
	}
	fmt.Fprintln(w)

	if verbose {
		fmt.Fprintf(w, "       Token: %s\n", op.Token)
		if args := rawToMap(op.Args); len(args) > 0 {
			fmt.Fprintf(w, "       Args: %s\n", formatArgs(args))
		}
		fmt.Fprintf(w, "       ID: %s\n", truncateID(op.ID))
	}
}

// rawToMap decodes raw JSON into a map for display. Returns nil when
// the payload is empty or not an object.
func rawToMap(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}

// formatArgs formats a map of args for display.
// Uses sorted keys to ensure deterministic output.
func formatArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return "{}"
	}

	// Sort keys for deterministic output
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, formatValue(args[k])))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// formatValue formats a single value for display, handling nested structures deterministically.
func formatValue(v interface{}) string {
	switch val := v.(type) {
	case map[string]interface{}:
		return formatArgs(val)
	case []interface{}:
		parts := make([]string, len(val))
		for i, elem := range val {
			parts[i] = formatValue(elem)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case string:
		return val
	default:
		return fmt.Sprintf("%v", v)
	}
}

// truncateID truncates a long ID for display.
func truncateID(id string) string {
	if len(id) <= 16 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}
