package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/activity"
	"github.com/cleared-dev/tally/internal/ledger"
	"github.com/cleared-dev/tally/internal/logger"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/pipeline"
	"github.com/cleared-dev/tally/internal/rules"
)

func newRepairCommand(g *globalOptions) *cobra.Command {
	var month string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Attribute ledger transactions to the category rules that match them",
		Long: `Re-evaluate the current category rules against ledger transactions that
have no rule attribution. A transaction with a generic category takes the
rule's category; one whose category already equals the rule's gains the
attribution; a category the user chose is never replaced.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()
			return runRepair(cmd, ws, month, dryRun)
		},
	}

	cmd.Flags().StringVar(&month, "month", "", "only repair this month (YYYY-MM)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")

	return cmd
}

// ledgerTransactions reads one month when month is set, else the whole ledger.
func ledgerTransactions(ws *pipeline.Workspace, month string) ([]model.StoredTransaction, error) {
	if month == "" {
		return ws.Ledger.ReadAll()
	}
	m, err := ledger.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	return ws.Ledger.ReadMonth(m.Year, m.Month)
}

func runRepair(cmd *cobra.Command, ws *pipeline.Workspace, month string, dryRun bool) error {
	ctx := cmd.Context()
	log := logger.FromContext(ctx)
	out := cmd.OutOrStdout()

	txns, err := ledgerTransactions(ws, month)
	if err != nil {
		return err
	}

	active := ws.Rules.ActiveCategoryRules()
	counts := make(map[rules.RepairState]int)
	used := make(map[string]int)
	var changed []model.StoredTransaction
	now := timeNow()

	for _, txn := range txns {
		if txn.HasRuleAttribution() {
			continue
		}
		outcome := rules.Repair(txn.ParsedTransaction, active)
		counts[outcome.State]++
		if !outcome.Changed() {
			continue
		}
		log.Debug().
			Str("txn", txn.ID).
			Stringer("state", outcome.State).
			Str("rule", outcome.Rule.ID).
			Msg("repaired")
		txn.ParsedTransaction = outcome.Apply(txn.ParsedTransaction)
		changed = append(changed, txn)
		used[outcome.Rule.ID]++
	}

	fmt.Fprintf(out, "attributed %d, reinforced %d, untouched %d, no match %d\n",
		counts[rules.Attributed], counts[rules.Reinforced], counts[rules.Untouched], counts[rules.NoMatch])
	if dryRun || len(changed) == 0 {
		return nil
	}

	if err := ws.Ledger.Update(changed...); err != nil {
		return err
	}
	ruleIDs := make([]string, 0, len(used))
	for ruleID, n := range used {
		if err := ws.Rules.RecordCategoryUsage(ruleID, n, now); err != nil {
			return err
		}
		ruleIDs = append(ruleIDs, ruleID)
	}
	sort.Strings(ruleIDs)
	if err := ws.Rules.Save(); err != nil {
		return err
	}
	if err := activity.Append(ws.Dir, activity.Entry{
		Timestamp: now,
		Action:    activity.ActionRepair,
		Count:     len(changed),
		Details:   "rules: " + strings.Join(ruleIDs, ","),
	}); err != nil {
		return err
	}

	fmt.Fprintf(out, "Updated %d transactions\n", len(changed))
	autoCommit(ctx, ws, fmt.Sprintf("repair: attribute %d transactions", len(changed)))
	return nil
}
