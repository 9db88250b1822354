package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/alryyan1/salesync/internal/config"
	"github.com/alryyan1/salesync/internal/facade"
	"github.com/alryyan1/salesync/internal/identity"
	"github.com/alryyan1/salesync/internal/sale"
)

// TodayOptions holds flags for the today command.
type TodayOptions struct {
	*RootOptions
	ConfigPath string
	Mine       bool
}

// NewTodayCommand creates the today command.
func NewTodayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TodayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "today",
		Short: "List today's sales from the server",
		Long: `List the sales recorded today on the configured sale server.

By default every operator's sales are shown. With --mine (or
registry.filter_by_operator in the config) the listing is restricted
to the operator identified by the configured token.

Example:
  salesync today --config salesync.yaml
  salesync today --config salesync.yaml --mine --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToday(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.Flags().BoolVar(&opts.Mine, "mine", false, "only sales recorded by the configured operator")

	return cmd
}

func runToday(opts *TodayOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	var q facade.TodayQuery
	if opts.Mine || cfg.Registry.FilterByOperator {
		op, err := operatorFromConfig(cfg)
		if err != nil {
			return WrapExitError(ExitCommandError, "cannot determine operator from configured token", err)
		}
		q.OperatorID = &op.ID
		formatter.VerboseLog("filtering to operator %d (%s)", op.ID, op.Name)
	}

	svc := facade.NewHTTP(cfg.Server.BaseURL,
		facade.WithAuthToken(cfg.Server.Token),
		facade.WithTimeout(cfg.ServerTimeout()),
	)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	formatter.VerboseLog("querying %s", cfg.Server.BaseURL)
	sales, err := svc.GetTodaysSales(ctx, q)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list today's sales", err)
	}

	if opts.Format == "json" {
		return formatter.Success(sales)
	}

	renderTodayTable(cmd.OutOrStdout(), sales)
	return nil
}

// operatorFromConfig parses the configured server token to find out
// who "mine" is. Requires auth.secret to match the secret the token
// was signed with.
func operatorFromConfig(cfg config.Config) (identity.Operator, error) {
	if cfg.Server.Token == "" {
		return identity.Operator{}, fmt.Errorf("no server token configured")
	}
	ids := identity.NewManager(cfg.Auth.Secret, cfg.TokenTTL())
	return ids.Parse(cfg.Server.Token)
}

func renderTodayTable(w io.Writer, sales []sale.Sale) {
	if len(sales) == 0 {
		fmt.Fprintln(w, "No sales today.")
		return
	}

	fmt.Fprintf(w, "%-6s %-12s %-10s %-9s %10s %10s %10s\n",
		"ID", "ORDER", "STATUS", "OPERATOR", "TOTAL", "PAID", "DUE")
	total := decimal.Zero
	for _, s := range sales {
		fmt.Fprintf(w, "%-6d %-12s %-10s %-9d %10s %10s %10s\n",
			s.ID, s.OrderNumber, s.Status, s.OperatorID,
			s.TotalAmount.StringFixed(2), s.PaidAmount.StringFixed(2), s.DueAmount.StringFixed(2))
		total = total.Add(s.TotalAmount)
	}
	fmt.Fprintf(w, "\n%d sales, %s total\n", len(sales), total.StringFixed(2))
}
