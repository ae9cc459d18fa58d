package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cleared-dev/tally/internal/buildinfo"
	"github.com/cleared-dev/tally/internal/config"
	"github.com/cleared-dev/tally/internal/gitops"
	"github.com/cleared-dev/tally/internal/logger"
	"github.com/cleared-dev/tally/internal/pipeline"
)

// ExitError carries a process exit code other than 1.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps an error returned by Execute to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// timeNow stamps activity entries.
var timeNow = time.Now

type globalOptions struct {
	workspace string
	logLevel  string
}

// NewRootCommand creates the root CLI command with all subcommands registered.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:     "tally",
		Short:   "Bank statement ingestion and reconciliation",
		Version: buildinfo.String(),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides tally.yaml)")

	rootCmd.AddCommand(
		newInitCommand(),
		newImportCommand(opts),
		newRulesCommand(opts),
		newRepairCommand(opts),
		newRecurringCommand(opts),
		newHistoryCommand(opts),
		newServeCommand(opts),
	)

	return rootCmd
}

// open loads the workspace's config and stores. The logger is attached to
// cmd's context.
func (o *globalOptions) open(cmd *cobra.Command) (*pipeline.Workspace, error) {
	dir, err := filepath.Abs(o.workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, config.FileName)); err != nil {
		return nil, fmt.Errorf("%s is not a tally workspace (run tally init): %w", dir, err)
	}
	cfg, err := pipeline.LoadConfig(dir)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if o.logLevel != "" {
		level = o.logLevel
	}
	log := logger.New(level, cmd.ErrOrStderr())
	cmd.SetContext(logger.WithContext(commandContext(cmd), log))

	return pipeline.OpenWorkspace(dir, cfg, log)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// autoCommit commits the workspace when git.auto_commit is set and the
// workspace is a repository. Failures are logged, not returned.
func autoCommit(ctx context.Context, ws *pipeline.Workspace, message string) {
	log := logger.FromContext(ctx)
	if !ws.Config.Git.AutoCommit || !gitops.IsRepo(ws.Dir) {
		return
	}
	repo := gitops.New(ws.Dir, ws.Config.Git.AuthorName, ws.Config.Git.AuthorEmail)
	hash, err := repo.CommitAll(ctx, message)
	if err != nil {
		log.Warn().Err(err).Msg("auto-commit failed")
		return
	}
	if hash != "" {
		log.Debug().Str("commit", hash).Msg("workspace committed")
	}
}

