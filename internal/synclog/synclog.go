// Package synclog keeps an append-only CSV history of sync runs at
// logs/sync-log.csv.
package synclog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Entry is one row in the sync log.
type Entry struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Records    int // source records processed
	Split      int // records handled by a plugin
	Derived    int // derived records written
	Failed     int // records left with their stored derived set after a plugin failure
	Skipped    int // records whose derived set could not be written
}

// Header is the CSV header for sync-log.csv.
const Header = "run_id,started_at,finished_at,records,split,derived,failed,skipped"

const (
	numFields     = 8
	logDir        = "logs"
	logFile       = "logs/sync-log.csv"
	colRunID      = 0
	colStartedAt  = 1
	colFinishedAt = 2
	colRecords    = 3
	colSplit      = 4
	colDerived    = 5
	colFailed     = 6
	colSkipped    = 7
)

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colRunID] = e.RunID.String()
	row[colStartedAt] = e.StartedAt.UTC().Format(time.RFC3339)
	row[colFinishedAt] = e.FinishedAt.UTC().Format(time.RFC3339)
	row[colRecords] = strconv.Itoa(e.Records)
	row[colSplit] = strconv.Itoa(e.Split)
	row[colDerived] = strconv.Itoa(e.Derived)
	row[colFailed] = strconv.Itoa(e.Failed)
	row[colSkipped] = strconv.Itoa(e.Skipped)
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	runID, err := uuid.Parse(record[colRunID])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing run_id %q: %w", record[colRunID], err)
	}
	started, err := time.Parse(time.RFC3339, record[colStartedAt])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing started_at %q: %w", record[colStartedAt], err)
	}
	finished, err := time.Parse(time.RFC3339, record[colFinishedAt])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing finished_at %q: %w", record[colFinishedAt], err)
	}

	e := Entry{RunID: runID, StartedAt: started, FinishedAt: finished}
	counts := []struct {
		col int
		dst *int
	}{
		{colRecords, &e.Records},
		{colSplit, &e.Split},
		{colDerived, &e.Derived},
		{colFailed, &e.Failed},
		{colSkipped, &e.Skipped},
	}
	for _, c := range counts {
		n, err := strconv.Atoi(record[c.col])
		if err != nil {
			return Entry{}, fmt.Errorf("parsing count %q: %w", record[c.col], err)
		}
		*c.dst = n
	}
	return e, nil
}

// Append writes entries to <root>/logs/sync-log.csv, creating the file and
// header if needed.
func Append(root string, entries []Entry) error {
	dir := filepath.Join(root, logDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(root, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening sync log: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if needsHeader {
		if err := cw.Write(strings.Split(Header, ",")); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}
	for i, e := range entries {
		if err := cw.Write(MarshalEntry(e)); err != nil {
			return fmt.Errorf("writing entry %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read returns all entries from <root>/logs/sync-log.csv.
// Returns nil if the file does not exist.
func Read(root string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(root, logFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening sync log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading sync log CSV: %w", err)
	}
	if len(records) <= 1 {
		return nil, nil
	}

	var entries []Entry
	for i, rec := range records[1:] {
		e, err := UnmarshalEntry(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
