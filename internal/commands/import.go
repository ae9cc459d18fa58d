package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/header"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/logger"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/pipeline"
)

// Exit codes for results that need more input from the user.
const (
	ExitNeedsMapping  = 2
	ExitNeedsPassword = 3
)

// previewRows is how many table rows a mapping prompt shows.
const previewRows = 8

type importOptions struct {
	password  string
	account   string
	mapping   string
	headerRow int
	dryRun    bool
	force     bool
	scan      bool
}

func newImportCommand(g *globalOptions) *cobra.Command {
	opts := &importOptions{}

	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a bank statement (CSV, XLS, XLSX or PDF)",
		Long: `Import a bank statement into the ledger.

Exit status 2 means no header row was found; rerun with --map and
--header-row. Exit status 3 means the file is encrypted; rerun with
--password.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.scan == (len(args) == 1) {
				return fmt.Errorf("pass either a file or --scan")
			}
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			if opts.scan {
				return runImportScan(cmd.Context(), cmd.OutOrStdout(), ws, opts)
			}
			return runImportFile(cmd.Context(), cmd.OutOrStdout(), ws, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.password, "password", "", "password for an encrypted statement")
	cmd.Flags().StringVar(&opts.account, "account", "", "bank account ID or last four digits")
	cmd.Flags().StringVar(&opts.mapping, "map", "", "column mapping, e.g. date=0,description=1,amount=3")
	cmd.Flags().IntVar(&opts.headerRow, "header-row", 0, "zero-based header row for --map, -1 for none")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "show the parsed transactions without writing")
	cmd.Flags().BoolVar(&opts.force, "force", false, "import even if the file was imported before")
	cmd.Flags().BoolVar(&opts.scan, "scan", false, "import every statement in import/")

	return cmd
}

func (o *importOptions) pipelineOptions(ws *pipeline.Workspace) (pipeline.Options, error) {
	popts := pipeline.Options{Force: o.force}
	if o.account != "" {
		acct, err := ws.Accounts.Resolve(o.account)
		if err != nil {
			return popts, err
		}
		popts.AccountID = acct.ID
	}
	if o.mapping != "" {
		m, err := header.ParseMapping(o.mapping)
		if err != nil {
			return popts, err
		}
		if err := m.Validate(); err != nil {
			return popts, err
		}
		popts.Mapping = &m
		popts.HeaderRow = o.headerRow
	}
	return popts, nil
}

func loadStatement(ws *pipeline.Workspace, path, password string) (importer.File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return importer.File{}, err
	}
	if limit := ws.Config.Import.MaxUploadBytes; limit > 0 && info.Size() > limit {
		return importer.File{}, fmt.Errorf("%s is %d bytes, larger than the %d byte limit", info.Name(), info.Size(), limit)
	}
	f, err := importer.LoadFile(path)
	if err != nil {
		return importer.File{}, err
	}
	f.Password = password
	return f, nil
}

func runImportFile(ctx context.Context, out io.Writer, ws *pipeline.Workspace, path string, opts *importOptions) error {
	popts, err := opts.pipelineOptions(ws)
	if err != nil {
		return err
	}
	f, err := loadStatement(ws, path, opts.password)
	if err != nil {
		return err
	}

	res := ws.Pipeline.Run(ctx, f, popts)
	if err := resultError(out, f.Name, res); err != nil {
		return err
	}

	printTransactions(out, res.Transactions, opts.dryRun)
	if opts.dryRun {
		fmt.Fprintf(out, "Dry run: %d transactions parsed from %s, nothing written\n", len(res.Transactions), f.Name)
		return nil
	}

	receipt, err := ws.Pipeline.Commit(ctx, f, res)
	if err != nil {
		return err
	}
	printReceipt(out, f.Name, receipt)
	autoCommit(ctx, ws, fmt.Sprintf("import: %s (%d transactions)", f.Name, len(receipt.TxnIDs)))
	return nil
}

func runImportScan(ctx context.Context, out io.Writer, ws *pipeline.Workspace, opts *importOptions) error {
	log := logger.FromContext(ctx)

	popts, err := opts.pipelineOptions(ws)
	if err != nil {
		return err
	}
	files, err := importer.Scan(ws.Dir, ws.Pipeline.Registry())
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, "No statements in import/")
		return nil
	}

	var imported, pending int
	var names []string
	for _, fi := range files {
		f, err := loadStatement(ws, fi.Path, opts.password)
		if err != nil {
			log.Warn().Err(err).Str("file", fi.Name).Msg("skipping statement")
			pending++
			continue
		}
		res := ws.Pipeline.Run(ctx, f, popts)
		if err := resultError(out, f.Name, res); err != nil {
			log.Warn().Err(err).Str("file", fi.Name).Msg("statement not imported")
			pending++
			continue
		}
		if opts.dryRun {
			printTransactions(out, res.Transactions, true)
			continue
		}
		receipt, err := ws.Pipeline.Commit(ctx, f, res)
		if err != nil {
			return err
		}
		printReceipt(out, f.Name, receipt)
		if err := importer.MarkProcessed(ws.Dir, fi.Name); err != nil {
			return err
		}
		imported++
		names = append(names, fi.Name)
	}

	if imported > 0 {
		autoCommit(ctx, ws, fmt.Sprintf("import: %s", strings.Join(names, ", ")))
	}
	if pending > 0 {
		return fmt.Errorf("%d of %d statements were not imported", pending, len(files))
	}
	return nil
}

// resultError prints guidance for a non-Ok result and returns the error the
// command should exit with.
func resultError(out io.Writer, name string, res pipeline.Result) error {
	switch res.Kind {
	case pipeline.Ok:
		return nil
	case pipeline.NeedsMapping:
		printMappingPrompt(out, res.Table)
		return &ExitError{Code: ExitNeedsMapping, Err: fmt.Errorf("%s: column mapping required", name)}
	case pipeline.NeedsPassword:
		msg := "password required"
		if res.Retry {
			msg = "incorrect password"
		}
		return &ExitError{Code: ExitNeedsPassword, Err: fmt.Errorf("%s: %s", name, msg)}
	default:
		return fmt.Errorf("%s: %s: %w", name, res.Reason, res.Err)
	}
}

func printMappingPrompt(out io.Writer, table model.RawTable) {
	fmt.Fprintln(out, "Could not find a header row. First rows of the statement:")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	width := table.Width()
	fmt.Fprint(tw, "row")
	for col := 0; col < width; col++ {
		fmt.Fprintf(tw, "\t[%d]", col)
	}
	fmt.Fprintln(tw)
	for i := 0; i < len(table) && i < previewRows; i++ {
		fmt.Fprintf(tw, "%d", i)
		for col := 0; col < width; col++ {
			fmt.Fprintf(tw, "\t%s", truncate(table.Cell(i, col), 24))
		}
		fmt.Fprintln(tw)
	}
	tw.Flush()
	fmt.Fprintln(out, "Rerun with --header-row N --map date=C,description=C,amount=C (or debit=C,credit=C)")
}

func printTransactions(out io.Writer, txns []model.ParsedTransaction, verbose bool) {
	if !verbose {
		return
	}
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tAMOUNT\tTYPE\tCATEGORY\tLINK\tDESCRIPTION")
	for _, t := range txns {
		link := t.SIPRuleID
		if t.RecurringID != "" {
			link = t.RecurringID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Date.Format("2006-01-02"), t.Amount.StringFixed(2), t.Type, t.CategoryID, link, truncate(t.Description, 48))
	}
	tw.Flush()
}

func printReceipt(out io.Writer, name string, r pipeline.Receipt) {
	fmt.Fprintf(out, "Imported %d transactions from %s (import %s)\n", len(r.TxnIDs), name, r.ImportID)
	if r.Skipped > 0 {
		fmt.Fprintf(out, "Skipped %d transactions already in the ledger\n", r.Skipped)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
