package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/activity"
	"github.com/cleared-dev/tally/internal/id"
	"github.com/cleared-dev/tally/internal/model"
	"github.com/cleared-dev/tally/internal/pipeline"
	"github.com/cleared-dev/tally/internal/rules"
)

func newRulesCommand(g *globalOptions) *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage category and SIP rules",
	}
	rulesCmd.AddCommand(
		newRulesListCommand(g),
		newRulesAddCategoryCommand(g),
		newRulesAddSIPCommand(g),
		newRulesValidateCommand(g),
	)
	return rulesCmd
}

func newRulesListCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List category and SIP rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()
			printRules(cmd.OutOrStdout(), ws)
			return nil
		},
	}
}

func printRules(out io.Writer, ws *pipeline.Workspace) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATTERN\tMATCH\tCATEGORY\tTYPE\tPRIORITY\tACTIVE\tUSED")
	for _, r := range rules.SortByPriority(ws.Rules.CategoryRules(), func(r model.CategoryRule) int { return r.Priority }) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%t\t%d\n",
			r.ID, r.Pattern, r.MatchType, r.CategoryID, r.TxnType, r.Priority, r.Active, r.MatchCount)
	}
	tw.Flush()

	sips := ws.Rules.SIPRules()
	if len(sips) == 0 {
		return
	}
	fmt.Fprintln(out)
	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPATTERN\tAMOUNT\tTOL%\tDAY\tDAY TOL\tASSET\tACTIVE\tUSED")
	for _, r := range sips {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%t\t%d\n",
			r.ID, r.Pattern, r.Amount.StringFixed(2), r.AmountTolerance.String(), r.ExpectedDay, r.DateTolerance, r.AssetID, r.Active, r.MatchCount)
	}
	tw.Flush()
}

func newRulesAddCategoryCommand(g *globalOptions) *cobra.Command {
	var (
		ruleID    string
		pattern   string
		matchType string
		category  string
		txnType   string
		priority  int
	)

	cmd := &cobra.Command{
		Use:   "add-category",
		Short: "Add a rule that assigns a category by description",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			mt, err := model.ParseMatchType(matchType)
			if err != nil {
				return err
			}
			var tt model.TxnType
			if txnType != "" {
				if tt, err = model.ParseTxnType(txnType); err != nil {
					return err
				}
			}
			if ruleID == "" {
				ruleID = id.NewRuleID("cat")
			}
			r := model.CategoryRule{
				ID:         ruleID,
				Pattern:    pattern,
				MatchType:  mt,
				CategoryID: category,
				TxnType:    tt,
				Priority:   priority,
				Active:     true,
			}
			if errs := rules.Validate([]model.CategoryRule{r}, nil, ws.Config); len(errs) > 0 {
				return errs[0]
			}
			if err := ws.Rules.AddCategoryRule(r); err != nil {
				return err
			}
			return saveRule(cmd, ws, r.ID, fmt.Sprintf("category %s <- %q", r.CategoryID, r.Pattern))
		},
	}

	cmd.Flags().StringVar(&ruleID, "id", "", "rule ID (generated when empty)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "description pattern (required)")
	cmd.Flags().StringVar(&matchType, "match", "contains", "contains, equals or regex")
	cmd.Flags().StringVar(&category, "category", "", "category ID (required)")
	cmd.Flags().StringVar(&txnType, "type", "", "only match this transaction type")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher priorities are tried first")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func newRulesAddSIPCommand(g *globalOptions) *cobra.Command {
	var (
		ruleID        string
		pattern       string
		matchType     string
		amount        string
		tolerance     string
		expectedDay   int
		dateTolerance int
		asset         string
		priority      int
	)

	cmd := &cobra.Command{
		Use:   "add-sip",
		Short: "Add a rule that links investment debits to an asset",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			mt, err := model.ParseMatchType(matchType)
			if err != nil {
				return err
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid amount %q: %w", amount, err)
			}
			tol, err := decimal.NewFromString(tolerance)
			if err != nil {
				return fmt.Errorf("invalid tolerance %q: %w", tolerance, err)
			}
			if ruleID == "" {
				ruleID = id.NewRuleID("sip")
			}
			r := model.SIPRule{
				ID:              ruleID,
				Pattern:         pattern,
				MatchType:       mt,
				Amount:          amt,
				AmountTolerance: tol,
				ExpectedDay:     expectedDay,
				DateTolerance:   dateTolerance,
				Priority:        priority,
				Active:          true,
				AssetID:         asset,
			}
			if errs := rules.Validate(nil, []model.SIPRule{r}, nil); len(errs) > 0 {
				return errs[0]
			}
			if err := ws.Rules.AddSIPRule(r); err != nil {
				return err
			}
			return saveRule(cmd, ws, r.ID, fmt.Sprintf("sip %s <- %q %s", r.AssetID, r.Pattern, r.Amount.StringFixed(2)))
		},
	}

	cmd.Flags().StringVar(&ruleID, "id", "", "rule ID (generated when empty)")
	cmd.Flags().StringVar(&pattern, "pattern", "", "description pattern (required)")
	cmd.Flags().StringVar(&matchType, "match", "contains", "contains, equals or regex")
	cmd.Flags().StringVar(&amount, "amount", "", "expected instalment amount (required)")
	cmd.Flags().StringVar(&tolerance, "tolerance", "0", "allowed amount deviation in percent")
	cmd.Flags().IntVar(&expectedDay, "day", 0, "expected day of month, 0 for any")
	cmd.Flags().IntVar(&dateTolerance, "day-tolerance", 3, "allowed distance from --day in days")
	cmd.Flags().StringVar(&asset, "asset", "", "asset the instalment buys")
	cmd.Flags().IntVar(&priority, "priority", 0, "higher priorities are tried first")
	_ = cmd.MarkFlagRequired("pattern")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func saveRule(cmd *cobra.Command, ws *pipeline.Workspace, ruleID, details string) error {
	if err := ws.Rules.Save(); err != nil {
		return err
	}
	if err := activity.Append(ws.Dir, activity.Entry{
		Timestamp: timeNow(),
		Action:    activity.ActionRuleAdd,
		Details:   ruleID + ": " + details,
	}); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s\n", ruleID)
	autoCommit(cmd.Context(), ws, "rules: add "+ruleID)
	return nil
}

func newRulesValidateCommand(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check rule files for problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer ws.Close()

			errs := rules.Validate(ws.Rules.CategoryRules(), ws.Rules.SIPRules(), ws.Config)
			out := cmd.OutOrStdout()
			for _, e := range errs {
				fmt.Fprintln(out, e.Error())
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d rule problems found", len(errs))
			}
			fmt.Fprintln(out, "All rules valid")
			return nil
		},
	}
}
