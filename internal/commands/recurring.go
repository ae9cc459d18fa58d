package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/activity"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/pipeline"
	"github.com/cleared-dev/tally/internal/rules"
)

func newRecurringCommand(g *globalOptions) *cobra.Command {
	recurringCmd := &cobra.Command{
		Use:   "recurring",
		Short: "Manage recurring payment templates",
	}
	recurringCmd.AddCommand(
		newRecurringListCommand(g),
		newRecurringAddCommand(g),
		newRecurringMatchCommand(g),
	)
	return recurringCmd
}

func newRecurringListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recurring templates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tAMOUNT\tNEXT DUE\tFREQUENCY\tCATEGORY\tACTIVE")
			for _, r := range ws.Rules.Recurring() {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
					r.ID, r.Name, r.Amount.StringFixed(2), r.NextDueDate.Format("2006-01-02"), r.Frequency, r.CategoryID, r.Active)
			}
			return tw.Flush()
		},
	}
}

func newRecurringAddCommand(g *globalOptions) *cobra.Command {
	var (
		templateID string
		name       string
		amount     string
		nextDue    string
		frequency  string
		category   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a recurring payment template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			due, err := time.Parse("2006-01-02", nextDue)
			if err != nil {
				return fmt.Errorf("invalid --next-due %q, want YYYY-MM-DD", nextDue)
			}
			freq := model.Frequency(frequency)
			switch freq {
			case model.FrequencyWeekly, model.FrequencyMonthly, model.FrequencyQuarterly, model.FrequencyYearly:
			default:
				return fmt.Errorf("unknown frequency %q", frequency)
			}
			if category != "" && !ws.Config.HasCategory(category) {
				return fmt.Errorf("unknown category %q", category)
			}
			if templateID == "" {
				templateID = slug(name)
			}

			r := model.RecurringTransaction{
				ID:          templateID,
				Name:        name,
				Amount:      amt.Abs(),
				NextDueDate: due,
				Frequency:   freq,
				CategoryID:  category,
				Active:      true,
			}
			if err := ws.Rules.AddRecurring(r); err != nil {
				return err
			}
			return saveRule(cmd, ws, r.ID, fmt.Sprintf("recurring %s %s due %s", r.Name, r.Amount.StringFixed(2), nextDue))
		},
	}

	cmd.Flags().StringVar(&templateID, "id", "", "template ID (derived from --name when empty)")
	cmd.Flags().StringVar(&name, "name", "", "payee name (required)")
	cmd.Flags().StringVar(&amount, "amount", "", "expected amount (required)")
	cmd.Flags().StringVar(&nextDue, "next-due", "", "next due date, YYYY-MM-DD (required)")
	cmd.Flags().StringVar(&frequency, "frequency", string(model.FrequencyMonthly), "weekly, monthly, quarterly or yearly")
	cmd.Flags().StringVar(&category, "category", "", "category applied to linked payments")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("next-due")

	return cmd
}

func newRecurringMatchCommand(g *globalOptions) *cobra.Command {
	var month string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "match",
		Short: "Link ledger transactions to the current cycle of each template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()
			return runRecurringMatch(cmd, ws, month, dryRun)
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "only consider this month (YYYY-MM)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")

	return cmd
}

func runRecurringMatch(cmd *cobra.Command, ws *pipeline.Workspace, month string, dryRun bool) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	stored, err := ledgerTransactions(ws, month)
	if err != nil {
		return err
	}
	pool := make([]model.ParsedTransaction, len(stored))
	for i, t := range stored {
		pool[i] = t.ParsedTransaction
	}

	templates := ws.Rules.ActiveRecurring()
	linked, advanced := rules.LinkRecurring(templates, pool)

	var changed []model.StoredTransaction
	for i := range stored {
		if linked[i].RecurringID != stored[i].RecurringID {
			stored[i].ParsedTransaction = linked[i]
			changed = append(changed, stored[i])
			fmt.Fprintf(out, "%s %s -> %s\n", stored[i].ID, stored[i].Description, linked[i].RecurringID)
		}
	}
	var moved []model.RecurringTransaction
	for i, tmpl := range advanced {
		if !tmpl.NextDueDate.Equal(templates[i].NextDueDate) {
			moved = append(moved, tmpl)
		}
	}

	fmt.Fprintf(out, "Linked %d transactions\n", len(changed))
	if dryRun || len(changed) == 0 {
		return nil
	}

	if err := ws.Ledger.Update(changed...); err != nil {
		return err
	}
	for _, tmpl := range moved {
		if err := ws.Rules.UpdateRecurring(tmpl); err != nil {
			return err
		}
	}
	if err := ws.Rules.Save(); err != nil {
		return err
	}
	if err := activity.Append(ws.Dir, activity.Entry{
		Timestamp: timeNow(),
		Action:    activity.ActionRecurring,
		Count:     len(changed),
	}); err != nil {
		return err
	}
	autoCommit(ctx, ws, fmt.Sprintf("recurring: link %d transactions", len(changed)))
	return nil
}

// slug turns a payee name into a template ID, e.g. "Netflix India" -> "netflix-india".
func slug(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
