package commands

import (
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/cleared-dev/splitledger/internal/categories"
	"github.com/cleared-dev/splitledger/internal/config"
	"github.com/cleared-dev/splitledger/internal/logger"
	"github.com/cleared-dev/splitledger/internal/store"
)

// project is an opened splitledger project directory.
type project struct {
	root  string
	cfg   *config.Config
	cats  *categories.Service
	store *store.Store
	log   zerolog.Logger
}

func openProject(cmd *cobra.Command) (*project, error) {
	dir, err := cmd.Flags().GetString("dir")
	if err != nil {
		return nil, err
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}

	cfg, err := config.Load(filepath.Join(root, config.FileName))
	if err != nil {
		return nil, err
	}

	log := logger.FromContext(cmd.Context())
	if v, _ := cmd.Flags().GetBool("verbose"); !v {
		log = logger.WithLevel(log, cfg.Log.Level)
	}

	cats, err := categories.Load(root)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if !filepath.IsAbs(dbPath) {
		dbPath = filepath.Join(root, dbPath)
	}
	st, err := store.Open(dbPath, store.WithCategories(cats))
	if err != nil {
		return nil, err
	}

	return &project{root: root, cfg: cfg, cats: cats, store: st, log: log}, nil
}

func (p *project) Close() error {
	return p.store.Close()
}
