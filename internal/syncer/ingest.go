package syncer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/splitledger/internal/config"
	"github.com/cleared-dev/splitledger/internal/importer"
	"github.com/cleared-dev/splitledger/internal/model"
)

// IngestStats counts the outcome of importing bank files.
type IngestStats struct {
	Files    int
	Parsed   int
	Inserted int // new source records; re-imports of known records are ignored
	Skipped  int // malformed rows
}

// Ingest parses every bank CSV in the import directory with the configured
// format, stores the records and moves each file to processed/.
func Ingest(ctx context.Context, st Store, root string, cfg *config.Config, log zerolog.Logger) (IngestStats, error) {
	var stats IngestStats
	reg := importer.DefaultRegistry(cfg.Import.Source)
	p := reg.Get(cfg.Import.BankFormat)
	if p == nil {
		return stats, fmt.Errorf("unknown bank format %q", cfg.Import.BankFormat)
	}

	dir := importDir(root, cfg)
	files, err := importer.Scan(dir)
	if err != nil {
		return stats, err
	}

	for _, f := range files {
		res, err := importer.ParseFile(p, f.Path)
		if err != nil {
			return stats, err
		}
		for _, skip := range res.Skipped {
			log.Warn().Err(skip.Err).Str("file", skip.File).Int("row", skip.Row).Msg("skipped malformed row")
		}
		n, err := st.InsertSources(ctx, res.Records)
		if err != nil {
			return stats, fmt.Errorf("storing %s: %w", f.Name, err)
		}
		if err := importer.MarkProcessed(dir, f.Name); err != nil {
			return stats, err
		}
		log.Info().Str("file", f.Name).Int("parsed", len(res.Records)).Int("inserted", n).Int("skipped", len(res.Skipped)).Msg("imported bank file")

		stats.Files++
		stats.Parsed += len(res.Records)
		stats.Inserted += n
		stats.Skipped += len(res.Skipped)
	}
	return stats, nil
}

// LoadOrders reads the order reports of every enabled marketplace, keyed by
// lower-cased marketplace name. Returns the number of malformed rows skipped.
func LoadOrders(root string, cfg *config.Config, log zerolog.Logger) (map[string]*model.OrderBook, int, error) {
	dir := importDir(root, cfg)
	books := make(map[string]*model.OrderBook)
	skipped := 0
	for _, m := range cfg.Marketplaces {
		if !m.Enabled || m.OrdersGlob == "" {
			continue
		}
		res, err := importer.LoadOrders(dir, m.OrdersGlob)
		if err != nil {
			return nil, 0, fmt.Errorf("marketplace %s: %w", m.Name, err)
		}
		for _, skip := range res.Skipped {
			log.Warn().Err(skip.Err).Str("marketplace", m.Name).Str("file", skip.File).Int("row", skip.Row).Msg("skipped malformed order row")
		}
		skipped += len(res.Skipped)
		books[strings.ToLower(m.Name)] = res.Book
		log.Debug().Str("marketplace", m.Name).Int("orders", len(res.Book.Orders)).Msg("loaded orders")
	}
	return books, skipped, nil
}

func importDir(root string, cfg *config.Config) string {
	if filepath.IsAbs(cfg.Import.Dir) {
		return cfg.Import.Dir
	}
	return filepath.Join(root, cfg.Import.Dir)
}
