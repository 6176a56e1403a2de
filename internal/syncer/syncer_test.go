package syncer

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/splitledger/internal/config"
	"github.com/cleared-dev/splitledger/internal/model"
	"github.com/cleared-dev/splitledger/internal/store"
	"github.com/cleared-dev/splitledger/internal/synclog"
)

func day(m, d int) time.Time {
	return time.Date(2025, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store) {
	t.Helper()
	_, err := st.InsertSources(context.Background(), []model.SourceRecord{
		{ExternalID: "txn-1", Source: "plaid", Date: day(1, 6), AmountCents: -10000, Currency: "USD", Merchant: "AMAZON MKTPL*2K4LL"},
		{ExternalID: "txn-2", Source: "plaid", Date: day(1, 9), AmountCents: -400, Currency: "USD", Merchant: "GITHUB"},
	})
	require.NoError(t, err)
}

func amazonBook(items int) map[string]*model.OrderBook {
	book := model.NewOrderBook()
	book.Orders["111-1"] = model.MarketplaceOrder{OrderID: "111-1", Date: day(1, 4), TotalCents: 10000}
	for i := 0; i < items; i++ {
		book.Items["111-1"] = append(book.Items["111-1"], model.OrderLineItem{
			OrderID: "111-1", UnitPriceCents: 1000, Quantity: 1, Description: "Item", ProductID: "B0" + string(rune('1'+i)),
		})
	}
	return map[string]*model.OrderBook{"amazon": book}
}

func plaidKey(sourceID, id string) model.DerivedKey {
	return model.SourceKey{ExternalID: sourceID, Source: "plaid"}.Derived(id)
}

func amounts(recs []model.DerivedRecord) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.AmountCents
	}
	return out
}

func TestRun_SplitsAndMirrors(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st)
	root := t.TempDir()

	sum, err := Run(ctx, st, Options{Root: root, Orders: amazonBook(3), Log: zerolog.Nop()})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Records)
	assert.Equal(t, 1, sum.Split)
	assert.Equal(t, 1, sum.Mirrored)
	assert.Zero(t, sum.Failed)
	assert.Equal(t, 4, sum.Changes.Inserted)
	require.Contains(t, sum.Reports, "marketplace:amazon")

	split, err := st.ListDerived(ctx, store.DerivedFilter{SourceKey: &model.SourceKey{ExternalID: "txn-1", Source: "plaid"}})
	require.NoError(t, err)
	assert.Equal(t, []int64{-3334, -3333, -3333}, amounts(split))
	assert.Equal(t, "txn-1_0", split[0].ExternalID)
	assert.Equal(t, "111-1", split[0].OrderID)

	mirrored, err := st.GetDerived(ctx, plaidKey("txn-2", "txn-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(-400), mirrored.AmountCents)

	entries, err := synclog.Read(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, sum.RunID, entries[0].RunID)
	assert.Equal(t, 1, entries[0].Split)
	assert.Equal(t, 4, entries[0].Derived)
}

func TestRun_SharedExternalIDAcrossSources(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st)
	_, err := st.InsertSources(ctx, []model.SourceRecord{
		{ExternalID: "txn-2", Source: "chase", Date: day(1, 9), AmountCents: -900, Currency: "USD", Merchant: "GITHUB"},
		{ExternalID: "txn-1_0", Source: "chase", Date: day(1, 10), AmountCents: -50, Currency: "USD", Merchant: "CAFE"},
	})
	require.NoError(t, err)

	sum, err := Run(ctx, st, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	assert.Equal(t, 4, sum.Records)
	assert.Equal(t, 3, sum.Mirrored)
	assert.Zero(t, sum.Skipped)
	assert.Zero(t, sum.Failed)

	plaid, err := st.GetDerived(ctx, plaidKey("txn-2", "txn-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(-400), plaid.AmountCents)
	chase, err := st.GetDerived(ctx, model.SourceKey{ExternalID: "txn-2", Source: "chase"}.Derived("txn-2"))
	require.NoError(t, err)
	assert.Equal(t, int64(-900), chase.AmountCents)

	split, err := st.GetDerived(ctx, plaidKey("txn-1", "txn-1_0"))
	require.NoError(t, err)
	assert.Equal(t, "111-1", split.OrderID)
}

func TestRun_PreservesVerifiedAcrossResync(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st)

	_, err := Run(ctx, st, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	require.NoError(t, st.Verify(ctx, plaidKey("txn-1", "txn-1_1"), "household.kitchen"))
	require.NoError(t, st.Verify(ctx, plaidKey("txn-2", "txn-2"), "software"))

	sum, err := Run(ctx, st, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	assert.Zero(t, sum.Changes.Inserted)
	assert.Equal(t, 4, sum.Changes.Updated)

	rec, err := st.GetDerived(ctx, plaidKey("txn-1", "txn-1_1"))
	require.NoError(t, err)
	assert.True(t, rec.IsVerified)
	assert.Equal(t, "household.kitchen", rec.Enrichment.CategoryID)

	mirrored, err := st.GetDerived(ctx, plaidKey("txn-2", "txn-2"))
	require.NoError(t, err)
	assert.True(t, mirrored.IsVerified)
	assert.Equal(t, "software", mirrored.Enrichment.CategoryID)

	// A fourth item changes cardinality: nothing is carried forward.
	sum, err = Run(ctx, st, Options{Orders: amazonBook(4)})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Changes.Inserted)

	split, err := st.ListDerived(ctx, store.DerivedFilter{SourceKey: &model.SourceKey{ExternalID: "txn-1", Source: "plaid"}})
	require.NoError(t, err)
	require.Len(t, split, 4)
	for _, r := range split {
		assert.False(t, r.IsVerified)
		assert.Empty(t, r.Enrichment.CategoryID)
	}
	assert.Equal(t, int64(-10000), model.SumCents(payloads(split)))
}

func payloads(recs []model.DerivedRecord) []model.DerivedPayload {
	out := make([]model.DerivedPayload, len(recs))
	for i, r := range recs {
		out[i] = r.DerivedPayload
	}
	return out
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	seed(t, st)

	_, err := Run(ctx, st, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	first, err := st.ListDerived(ctx, store.DerivedFilter{})
	require.NoError(t, err)

	_, err = Run(ctx, st, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	second, err := st.ListDerived(ctx, store.DerivedFilter{})
	require.NoError(t, err)

	assert.Equal(t, payloads(first), payloads(second))
}

func TestRun_DisabledMarketplaceMirrors(t *testing.T) {
	st := openStore(t)
	seed(t, st)
	cfg := config.Default()
	cfg.Marketplaces[0].Enabled = false

	sum, err := Run(context.Background(), st, Options{Config: cfg, Orders: amazonBook(3)})
	require.NoError(t, err)
	assert.Zero(t, sum.Split)
	assert.Equal(t, 2, sum.Mirrored)
	assert.Empty(t, sum.Reports)
}

func TestRun_NearMissReported(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	_, err := st.InsertSources(ctx, []model.SourceRecord{
		{ExternalID: "late", Source: "plaid", Date: day(2, 20), AmountCents: -10000, Merchant: "AMAZON"},
	})
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Reconcile.NearMiss.Enabled = true
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.DebugLevel)

	sum, err := Run(ctx, st, Options{Config: cfg, Orders: amazonBook(2), Log: log})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.NearMisses)
	assert.Equal(t, 1, sum.Mirrored)
	assert.Contains(t, buf.String(), "near miss")
	assert.Contains(t, buf.String(), "date-too-late")
}

// failingStore refuses to write the derived set of one source record.
type failingStore struct {
	*store.Store
	fail string
}

func (f failingStore) ReplaceDerived(ctx context.Context, key model.SourceKey, p []model.DerivedPayload) (store.ReplaceStats, error) {
	if key.ExternalID == f.fail {
		return store.ReplaceStats{}, errors.New("disk full")
	}
	return f.Store.ReplaceDerived(ctx, key, p)
}

func TestRun_WriteFailureSkipsRecord(t *testing.T) {
	st := openStore(t)
	seed(t, st)

	sum, err := Run(context.Background(), failingStore{Store: st, fail: "txn-2"}, Options{Orders: amazonBook(3)})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, 1, sum.Split)

	_, err = st.GetDerived(context.Background(), plaidKey("txn-2", "txn-2"))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRun_Canceled(t *testing.T) {
	st := openStore(t)
	seed(t, st)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, st, Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRun_Window(t *testing.T) {
	st := openStore(t)
	seed(t, st)

	sum, err := Run(context.Background(), st, Options{Window: store.SourceFilter{From: day(1, 8)}})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Records)
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	root := t.TempDir()
	cfg := config.Default()
	dir := filepath.Join(root, cfg.Import.Dir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "jan.csv"), []byte(
		"transaction_id,date,amount,merchant\n"+
			"t1,2025-01-06,-100.00,AMAZON MKTPL\n"+
			"t2,bad,-1.00,X\n"), 0o644))

	stats, err := Ingest(ctx, st, root, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, IngestStats{Files: 1, Parsed: 1, Inserted: 1, Skipped: 1}, stats)

	_, err = os.Stat(filepath.Join(dir, "processed", "jan.csv"))
	assert.NoError(t, err)

	recs, err := st.ListSources(ctx, store.SourceFilter{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "aggregator", recs[0].Source)
}

func TestIngest_UnknownFormat(t *testing.T) {
	cfg := config.Default()
	cfg.Import.BankFormat = "ofx"
	_, err := Ingest(context.Background(), openStore(t), t.TempDir(), cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "unknown bank format")
}

func TestLoadOrders(t *testing.T) {
	root := t.TempDir()
	cfg := config.Default()
	dir := filepath.Join(root, cfg.Import.Dir, "amazon")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "orders.csv"), []byte(
		"order_id,order_date,order_total,description,unit_price\n"+
			"111-1,2025-01-04,100.00,Soap,100.00\n"+
			"bad,,1.00,,\n"), 0o644))

	books, skipped, err := LoadOrders(root, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Contains(t, books, "amazon")
	assert.Len(t, books["amazon"].Items["111-1"], 1)
}
