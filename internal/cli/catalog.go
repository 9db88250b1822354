package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alryyan1/salesync/internal/catalog"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog <file.cue>",
		Short: "Compile and list a CUE product catalog",
		Long: `Compile a CUE product catalog and list its products.

The catalog is validated against the product schema: ids and SKUs must
be unique, prices are decimal strings (floats are rejected), and
unknown fields fail compilation with their source position.

Example:
  salesync catalog products.cue
  salesync catalog products.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, args[0], cmd)
		},
	}

	return cmd
}

func runCatalog(opts *CatalogOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling %s", path)

	cat, err := catalog.Load(path)
	if err != nil {
		return outputCatalogError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(cat.Products())
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %d product(s)\n\n", cat.Len())
	fmt.Fprintf(formatter.Writer, "  %-6s %-12s %-28s %10s %10s\n",
		"ID", "SKU", "NAME", "LAST", "SUGGESTED")
	for _, p := range cat.Products() {
		fmt.Fprintf(formatter.Writer, "  %-6d %-12s %-28s %10s %10s\n",
			p.ID, p.SKU, p.Name,
			p.LastSalePrice.StringFixed(2), p.SuggestedPrice.StringFixed(2))
	}

	return nil
}

// outputCatalogError reports a compilation failure with its source
// position when one is known.
func outputCatalogError(formatter *OutputFormatter, err error) error {
	if formatter.Format == "json" {
		_ = formatter.Error("E_BAD_CATALOG", err.Error(), nil)
		return WrapExitError(ExitCommandError, "catalog compilation failed", err)
	}

	fmt.Fprintln(formatter.Writer, "✗ Catalog compilation failed")
	fmt.Fprintln(formatter.Writer)

	var compileErr *catalog.CompileError
	if errors.As(err, &compileErr) && compileErr.Pos.IsValid() {
		fmt.Fprintf(formatter.Writer, "%s:%d:%d\n",
			compileErr.Pos.Filename(),
			compileErr.Pos.Line(),
			compileErr.Pos.Column())
		fmt.Fprintf(formatter.Writer, "  %s: %s\n", compileErr.Field, compileErr.Message)
	} else {
		fmt.Fprintf(formatter.Writer, "  %v\n", err)
	}

	return WrapExitError(ExitCommandError, "catalog compilation failed", err)
}
