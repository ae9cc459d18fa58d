package pipeline

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/tally/internal/accounts"
	"github.com/cleared-dev/tally/internal/config"
	"github.com/cleared-dev/tally/internal/guard"
	"github.com/cleared-dev/tally/internal/history"
	"github.com/cleared-dev/tally/internal/importer"
	"github.com/cleared-dev/tally/internal/ledger"
	"github.com/cleared-dev/tally/internal/rulestore"
)

// EnvFile is the optional overrides file in a workspace.
const EnvFile = ".env"

// Workspace bundles the stores of an initialized workspace directory.
type Workspace struct {
	Dir      string
	Config   *config.Config
	Accounts *accounts.Service
	Rules    *rulestore.Store
	Ledger   *ledger.Service
	History  *history.Store
	Pipeline *Pipeline
}

// LoadConfig reads tally.yaml and .env from dir.
func LoadConfig(dir string) (*config.Config, error) {
	return config.LoadWithEnv(filepath.Join(dir, config.FileName), filepath.Join(dir, EnvFile))
}

// OpenWorkspace loads every store under dir and wires a Pipeline over them.
// The caller must Close the workspace.
func OpenWorkspace(dir string, cfg *config.Config, log zerolog.Logger) (*Workspace, error) {
	accts, err := accounts.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}
	rs, err := rulestore.Load(dir)
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}
	hist, err := history.Open(history.DefaultPath(dir))
	if err != nil {
		return nil, err
	}

	led := ledger.NewService(dir, accts)
	parser := importer.NewParser(
		importer.WithDateLayouts(cfg.Import.DateFormats...),
		importer.WithScanRows(cfg.Import.HeaderScanRows),
		importer.WithLogger(log),
	)
	p := New(Deps{
		Parser:         parser,
		Guard:          guard.New(hist, cfg.GuardPrefs()),
		Rules:          rs,
		Ledger:         led,
		Accounts:       accts,
		Workspace:      dir,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
		Logger:         log,
	})

	return &Workspace{
		Dir:      dir,
		Config:   cfg,
		Accounts: accts,
		Rules:    rs,
		Ledger:   led,
		History:  hist,
		Pipeline: p,
	}, nil
}

// Close releases the history database.
func (w *Workspace) Close() error {
	return w.History.Close()
}
