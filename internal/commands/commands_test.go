package commands_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleared-dev/splitledger/internal/categories"
	"github.com/cleared-dev/splitledger/internal/commands"
	"github.com/cleared-dev/splitledger/internal/synclog"
)

func runSplitledger(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := commands.NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func initProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	_, err := runSplitledger(t, "init", dir)
	require.NoError(t, err)
	return dir
}

const bankCSV = `transaction_id,account_id,date,amount,currency,merchant,item_id
txn-1,acc-1,2025-01-06,-100.00,USD,AMAZON MKTPL*2K4LL0Q92,item-1
txn-2,acc-1,2025-01-09,-4.00,USD,GITHUB,item-1
txn-3,acc-2,2025-01-10,-9.99,USD,NETFLIX,item-2
`

const ordersCSV = `order_id,order_date,order_total,product_id,description,quantity,unit_price
111-1,2025-01-04,100.00,B01,Dish soap,1,10.00
111-1,2025-01-04,100.00,B02,Sponges,1,10.00
111-1,2025-01-04,100.00,B03,Scrub brush,1,10.00
`

func syncedProject(t *testing.T) string {
	t.Helper()
	dir := initProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "bank.csv"), []byte(bankCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "amazon", "orders.csv"), []byte(ordersCSV), 0o644))

	out, err := runSplitledger(t, "sync", "--dir", dir)
	require.NoError(t, err, out)
	return dir
}

func TestInit_CreatesStructure(t *testing.T) {
	dir := initProject(t)

	for _, d := range []string{"categories", "logs", "exports", "import", filepath.Join("import", "processed"), filepath.Join("import", "amazon")} {
		info, err := os.Stat(filepath.Join(dir, d))
		require.NoError(t, err, "directory %s should exist", d)
		assert.True(t, info.IsDir(), "%s should be a directory", d)
	}
	for _, f := range []string{"splitledger.yaml", "splitledger.db", ".gitignore"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, "%s should exist", f)
	}
}

func TestInit_CategoryChart(t *testing.T) {
	dir := initProject(t)

	svc, err := categories.Load(dir)
	require.NoError(t, err)
	assert.Len(t, svc.All(), len(categories.DefaultChart()))
}

func TestInit_RefusesExisting(t *testing.T) {
	dir := initProject(t)
	_, err := runSplitledger(t, "init", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestSync(t *testing.T) {
	dir := initProject(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "bank.csv"), []byte(bankCSV), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "import", "amazon", "orders.csv"), []byte(ordersCSV), 0o644))

	out, err := runSplitledger(t, "sync", "--dir", dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Imported 1 files: 3 new records, 0 rows skipped")
	assert.Contains(t, out, "Synced 3 records: 1 split, 2 unsplit, 0 failed, 0 skipped")

	_, err = os.Stat(filepath.Join(dir, "import", "processed", "bank.csv"))
	assert.NoError(t, err)

	entries, err := synclog.Read(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 5, entries[0].Derived)
}

func TestSync_NotAProject(t *testing.T) {
	_, err := runSplitledger(t, "sync", "--dir", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading config")
}

func TestSync_BadWindow(t *testing.T) {
	dir := initProject(t)
	_, err := runSplitledger(t, "sync", "--dir", dir, "--from", "2025-02-01", "--to", "2025-01-01")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before")
}

func TestRecordsList(t *testing.T) {
	dir := syncedProject(t)

	out, err := runSplitledger(t, "records", "list", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "txn-1_0")
	assert.Contains(t, out, "-33.34")
	assert.Contains(t, out, "Amazon: Sponges")
	assert.Contains(t, out, "txn-2")

	out, err = runSplitledger(t, "records", "list", "--dir", dir, "--source", "aggregator", "--source-id", "txn-1")
	require.NoError(t, err)
	assert.Equal(t, 4, len(strings.Split(strings.TrimSpace(out), "\n")), "header + 3 split records")
}

func TestRecordsVerifyAndCategorize(t *testing.T) {
	dir := syncedProject(t)

	out, err := runSplitledger(t, "records", "verify", "txn-1_0", "--category", "household.cleaning", "--dir", dir)
	require.NoError(t, err, out)

	_, err = runSplitledger(t, "records", "categorize", "txn-1_0", "--category", "groceries", "--model", "rules", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is verified")

	_, err = runSplitledger(t, "records", "categorize", "txn-2", "--category", "no.such.category", "--dir", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown category")

	_, err = runSplitledger(t, "records", "categorize", "txn-2", "--category", "electronics", "--model", "rules", "--version", "1", "--dir", dir)
	require.NoError(t, err)

	out, err = runSplitledger(t, "records", "list", "--uncategorized", "--dir", dir)
	require.NoError(t, err)
	assert.NotContains(t, out, "txn-1_0")
	assert.NotContains(t, out, "txn-2 ")
	assert.Contains(t, out, "txn-3")

	// Verified enrichment survives a resync.
	_, err = runSplitledger(t, "sync", "--dir", dir)
	require.NoError(t, err)
	out, err = runSplitledger(t, "records", "list", "--category", "household.cleaning", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "txn-1_0")
	assert.Contains(t, out, "true")
}

func TestRecordsVerify_SourceFlag(t *testing.T) {
	dir := syncedProject(t)

	_, err := runSplitledger(t, "records", "verify", "txn-1_0", "--source", "chase", "--category", "groceries", "--dir", dir)
	assert.ErrorContains(t, err, "not found")

	_, err = runSplitledger(t, "records", "verify", "txn-1_0", "--source", "aggregator", "--category", "groceries", "--dir", dir)
	require.NoError(t, err)

	out, err := runSplitledger(t, "records", "list", "--category", "groceries", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "aggregator")
}

func TestRecordsVerify_RequiresCategory(t *testing.T) {
	dir := syncedProject(t)
	_, err := runSplitledger(t, "records", "verify", "txn-2", "--dir", dir)
	require.Error(t, err)
}

func TestRecordsTag(t *testing.T) {
	dir := syncedProject(t)

	_, err := runSplitledger(t, "records", "tag", "txn-3", "streaming", "monthly", "--dir", dir)
	require.NoError(t, err)

	out, err := runSplitledger(t, "records", "list", "--tag", "monthly", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "txn-3")
	assert.Contains(t, out, "streaming,monthly")
	assert.NotContains(t, out, "txn-2")
}

func TestRecordsNote(t *testing.T) {
	dir := syncedProject(t)

	_, err := runSplitledger(t, "records", "note", "txn-3", "family plan, shared", "--dir", dir)
	require.NoError(t, err)

	out, err := runSplitledger(t, "export", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, `"family plan, shared"`)

	_, err = runSplitledger(t, "records", "note", "missing", "x", "--dir", dir)
	assert.ErrorContains(t, err, "not found")
}

func TestExport(t *testing.T) {
	dir := syncedProject(t)

	out, err := runSplitledger(t, "export", "--dir", dir)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.True(t, strings.HasPrefix(lines[0], "external_id,"))

	path := filepath.Join(dir, "exports", "all.csv")
	_, err = runSplitledger(t, "export", "--dir", dir, "--out", path)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "txn-1_2,aggregator,txn-1,2,2025-01-06,-33.33,Amazon: Scrub brush")
}

func TestDisconnect(t *testing.T) {
	dir := syncedProject(t)

	out, err := runSplitledger(t, "disconnect", "item-1", "--dir", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "2 source records")

	out, err = runSplitledger(t, "records", "list", "--dir", dir)
	require.NoError(t, err)
	assert.NotContains(t, out, "txn-1")
	assert.Contains(t, out, "txn-3")
}
