// Package syncer runs one sync batch: it loads the source records of a
// window, derives their records through the mutation registry and writes
// the derived sets back.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cleared-dev/splitledger/internal/config"
	"github.com/cleared-dev/splitledger/internal/marketplace"
	"github.com/cleared-dev/splitledger/internal/model"
	"github.com/cleared-dev/splitledger/internal/mutation"
	"github.com/cleared-dev/splitledger/internal/reconcile"
	"github.com/cleared-dev/splitledger/internal/store"
	"github.com/cleared-dev/splitledger/internal/synclog"
)

// Store is the persistence a sync run reads from and writes to.
type Store interface {
	InsertSources(ctx context.Context, recs []model.SourceRecord) (int, error)
	ListSources(ctx context.Context, f store.SourceFilter) ([]model.SourceRecord, error)
	DerivedBySource(ctx context.Context, f store.SourceFilter) (map[model.SourceKey][]model.DerivedRecord, error)
	ReplaceDerived(ctx context.Context, key model.SourceKey, payloads []model.DerivedPayload) (store.ReplaceStats, error)
}

// Options configures a sync run.
type Options struct {
	// Root is the project root; the run is appended to its sync log.
	// Empty skips the log.
	Root   string
	Window store.SourceFilter
	Config *config.Config
	// Orders holds the order book of each marketplace, keyed by lower-cased
	// marketplace name.
	Orders map[string]*model.OrderBook
	Log    zerolog.Logger
	Now    func() time.Time
}

// Summary reports what a sync run did.
type Summary struct {
	RunID      uuid.UUID
	Records    int
	Split      int // records handled by a marketplace plugin
	Mirrored   int // records derived by the default transform
	Failed     int // records left unchanged after a plugin failure
	Skipped    int // records whose derived set could not be written
	NearMisses int
	Changes    store.ReplaceStats
	Failures   []*mutation.PluginError
	Reports    map[string]*reconcile.Report // by plugin name
}

// Run executes one sync batch.
func Run(ctx context.Context, st Store, opts Options) (*Summary, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	runID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generating run id: %w", err)
	}
	log := opts.Log.With().Str("run_id", runID.String()).Logger()
	started := now()

	records, err := st.ListSources(ctx, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("loading source records: %w", err)
	}
	previous, err := st.DerivedBySource(ctx, opts.Window)
	if err != nil {
		return nil, fmt.Errorf("loading derived records: %w", err)
	}

	sum := &Summary{RunID: runID, Records: len(records), Reports: make(map[string]*reconcile.Report)}
	reg := mutation.NewRegistry(mutation.WithLogger(log))
	plugins := Plugins(cfg, opts.Orders, func(reconcile.NearMiss) { sum.NearMisses++ }, log)
	for _, p := range plugins {
		reg.Register(p)
	}

	batch, err := reg.ProcessBatch(records, previous)
	if errors.Is(err, mutation.ErrNotInitialized) {
		return nil, fmt.Errorf("processing batch: %w", err)
	}
	if err != nil {
		log.Warn().Err(err).Msg("batch ran with plugins disabled")
	}
	for _, p := range plugins {
		if r := p.Report(); r != nil {
			sum.Reports[p.Name()] = r
		}
	}

	sum.Failures = batch.Failures
	sum.Failed = len(batch.Failures)
	for _, out := range batch.Outputs {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		stats, err := st.ReplaceDerived(ctx, out.Source, out.Payloads)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return sum, err
			}
			log.Error().Err(err).Str("source", out.Source.String()).Msg("writing derived records")
			sum.Skipped++
			continue
		}
		sum.Changes.Inserted += stats.Inserted
		sum.Changes.Updated += stats.Updated
		sum.Changes.Deleted += stats.Deleted
		if out.Plugin == mutation.DefaultPluginName {
			sum.Mirrored++
		} else {
			sum.Split++
		}
	}

	log.Info().
		Int("records", sum.Records).
		Int("split", sum.Split).
		Int("mirrored", sum.Mirrored).
		Int("failed", sum.Failed).
		Int("skipped", sum.Skipped).
		Int("inserted", sum.Changes.Inserted).
		Int("updated", sum.Changes.Updated).
		Int("deleted", sum.Changes.Deleted).
		Msg("sync complete")

	if opts.Root != "" {
		entry := synclog.Entry{
			RunID:      runID,
			StartedAt:  started,
			FinishedAt: now(),
			Records:    sum.Records,
			Split:      sum.Split,
			Derived:    sum.Changes.Inserted + sum.Changes.Updated,
			Failed:     sum.Failed,
			Skipped:    sum.Skipped,
		}
		if err := synclog.Append(opts.Root, []synclog.Entry{entry}); err != nil {
			return sum, fmt.Errorf("writing sync log: %w", err)
		}
	}
	return sum, nil
}

// Plugins builds one marketplace plugin per enabled marketplace in cfg.
// onNearMiss is installed as the near-miss hook when near-miss reporting is
// enabled.
func Plugins(cfg *config.Config, orders map[string]*model.OrderBook, onNearMiss func(reconcile.NearMiss), log zerolog.Logger) []*marketplace.Plugin {
	opts := cfg.ReconcileOptions()
	if cfg.Reconcile.NearMiss.Enabled {
		opts.NearMiss = onNearMiss
		if opts.NearMiss == nil {
			opts.NearMiss = func(reconcile.NearMiss) {}
		}
	}

	var out []*marketplace.Plugin
	for _, m := range cfg.Marketplaces {
		if !m.Enabled {
			continue
		}
		out = append(out, marketplace.New(marketplace.Config{
			Name:             m.Name,
			MerchantPatterns: m.MerchantPatterns,
			Priority:         m.Priority,
			Reconcile:        opts,
		}, orders[strings.ToLower(m.Name)], log))
	}
	return out
}
