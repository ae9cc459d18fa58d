package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/accounts"
	"github.com/cleared-dev/tally/internal/config"
	"github.com/cleared-dev/tally/internal/gitops"
	"github.com/cleared-dev/tally/internal/rulestore"
)

func newInitCommand() *cobra.Command {
	var name string
	var bank string

	cmd := &cobra.Command{
		Use:   "init [directory]",
		Short: "Initialize a new tally workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			absDir, err := filepath.Abs(dir)
			if err != nil {
				return fmt.Errorf("resolving path: %w", err)
			}

			return runInit(commandContext(cmd), cmd, absDir, name, bank)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "workspace owner name (required)")
	_ = cmd.MarkFlagRequired("name")
	cmd.Flags().StringVar(&bank, "bank", "", "bank of the default account")

	return cmd
}

func runInit(ctx context.Context, cmd *cobra.Command, dir, name, bank string) error {
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err == nil {
		return fmt.Errorf("%s already contains %s", dir, config.FileName)
	}

	dirs := []string{
		"accounts",
		"rules",
		"ledger",
		"logs",
		"import",
		filepath.Join("import", "processed"),
		".tally",
	}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(dir, d), 0o755); err != nil {
			return fmt.Errorf("creating directory %s: %w", d, err)
		}
	}

	cfg := config.Default(name)
	if err := config.Save(filepath.Join(dir, config.FileName), cfg); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	svc := accounts.NewService(accounts.DefaultAccounts(bank))
	if err := svc.Save(dir); err != nil {
		return fmt.Errorf("writing bank accounts: %w", err)
	}

	if err := rulestore.New(dir).Save(); err != nil {
		return fmt.Errorf("writing rules: %w", err)
	}

	gitignore := ".tally/\n.env\nimport/*\n!import/.gitkeep\n"
	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o644); err != nil {
		return fmt.Errorf("writing .gitignore: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "import", ".gitkeep"), []byte{}, 0o644); err != nil {
		return fmt.Errorf("writing .gitkeep: %w", err)
	}

	repo := gitops.New(dir, cfg.Git.AuthorName, cfg.Git.AuthorEmail)
	if err := repo.Init(ctx); err != nil {
		return err
	}
	hash, err := repo.CommitAll(ctx, "init: Initialize "+name)
	if err != nil {
		return fmt.Errorf("initial commit: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Initialized tally workspace at %s (%s)\n", dir, hash)
	return nil
}
