// Package marketplace is the mutation plugin that splits marketplace
// purchases into one derived record per ordered item.
package marketplace

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/cleared-dev/splitledger/internal/model"
	"github.com/cleared-dev/splitledger/internal/mutation"
	"github.com/cleared-dev/splitledger/internal/reconcile"
	"github.com/cleared-dev/splitledger/internal/split"
)

// DefaultPriority runs marketplace plugins ahead of the default transform.
const DefaultPriority = 10

// Config configures one marketplace.
type Config struct {
	// Name labels split descriptions ("Amazon: ...") and names the plugin.
	Name string
	// MerchantPatterns restrict reconciliation to records whose merchant
	// descriptor contains one of them, case-insensitively. Empty means all.
	MerchantPatterns []string
	Priority         int
	Reconcile        reconcile.Options
}

// Plugin reconciles a batch once in Initialize and splits matched records in
// Process.
type Plugin struct {
	cfg      Config
	patterns []string
	book     *model.OrderBook
	log      zerolog.Logger

	matches map[model.SourceKey]string
	report  *reconcile.Report
}

var _ mutation.Initializer = (*Plugin)(nil)

// New creates a plugin over the orders in book.
func New(cfg Config, book *model.OrderBook, log zerolog.Logger) *Plugin {
	if cfg.Priority == 0 {
		cfg.Priority = DefaultPriority
	}
	if book == nil {
		book = model.NewOrderBook()
	}
	patterns := make([]string, 0, len(cfg.MerchantPatterns))
	for _, p := range cfg.MerchantPatterns {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, strings.ToUpper(p))
		}
	}
	return &Plugin{
		cfg:      cfg,
		patterns: patterns,
		book:     book,
		log:      log.With().Str("plugin", "marketplace").Str("marketplace", cfg.Name).Logger(),
	}
}

// Name returns "marketplace:<name>".
func (p *Plugin) Name() string {
	return "marketplace:" + strings.ToLower(p.cfg.Name)
}

// Priority returns the configured priority.
func (p *Plugin) Priority() int {
	return p.cfg.Priority
}

// Initialize reconciles every order in the book against the batch.
func (p *Plugin) Initialize(records []model.SourceRecord) error {
	candidates := make([]model.SourceRecord, 0, len(records))
	for _, rec := range records {
		if p.merchantMatches(rec.Merchant) {
			candidates = append(candidates, rec)
		}
	}

	opts := p.cfg.Reconcile
	if hook := opts.NearMiss; hook != nil {
		opts.NearMiss = func(nm reconcile.NearMiss) {
			p.logNearMiss(nm)
			hook(nm)
		}
	}

	p.report = reconcile.New(candidates, opts).Reconcile(p.book.Orders)
	p.matches = p.report.Matches()

	for _, rej := range p.report.RejectedOrders {
		p.log.Warn().Str("order", rej.ID).Str("reason", rej.Reason).Msg("order rejected")
	}
	for _, res := range p.report.Unmatched() {
		p.log.Info().Str("order", res.OrderID).Str("reason", string(res.Reason)).Msg("order unmatched")
	}
	p.log.Debug().
		Int("records", len(candidates)).
		Int("orders", len(p.book.Orders)).
		Int("matched", len(p.matches)).
		Msg("reconciled batch")
	return nil
}

// Report returns the reconciliation report of the last Initialize.
func (p *Plugin) Report() *reconcile.Report {
	return p.report
}

// ShouldHandle reports whether rec was matched to an order.
func (p *Plugin) ShouldHandle(rec model.SourceRecord) bool {
	_, ok := p.matches[rec.Key()]
	return ok
}

// Process splits rec across the matched order's items. Orders with invalid
// items are declined so the record falls through to the next plugin.
func (p *Plugin) Process(rec model.SourceRecord, previous []model.DerivedRecord) (mutation.Result, error) {
	orderID, ok := p.matches[rec.Key()]
	if !ok {
		return mutation.Result{}, nil
	}
	order := p.book.Orders[orderID]
	items := p.book.Items[orderID]

	if err := split.ValidateItems(items); err != nil {
		p.log.Warn().Err(err).Str("order", orderID).Str("source", rec.Key().String()).Msg("order items rejected")
		return mutation.Result{}, nil
	}

	payloads := split.Split(rec, order, items, p.cfg.Name)
	payloads = mutation.PreserveEnrichment(payloads, previous)
	return mutation.Result{Payloads: payloads, Handled: true}, nil
}

func (p *Plugin) merchantMatches(merchant string) bool {
	if len(p.patterns) == 0 {
		return true
	}
	m := strings.ToUpper(merchant)
	for _, pat := range p.patterns {
		if strings.Contains(m, pat) {
			return true
		}
	}
	return false
}

func (p *Plugin) logNearMiss(nm reconcile.NearMiss) {
	for _, c := range nm.Candidates {
		p.log.Debug().
			Str("order", nm.OrderID).
			Str("reason", string(nm.Reason)).
			Str("candidate", c.Record.String()).
			Int64("amount_cents", c.AmountCents).
			Int("lag_days", c.LagDays).
			Str("claimed_by", c.ClaimedBy).
			Msg("near miss")
	}
}
