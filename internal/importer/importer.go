package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cleared-dev/splitledger/internal/model"
)

// RowError records a data row that could not be parsed. Row is 1-based and
// counts the header.
type RowError struct {
	File string
	Row  int
	Err  error
}

func (e RowError) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s: row %d: %v", e.File, e.Row, e.Err)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// Result is the outcome of parsing one bank export.
type Result struct {
	Records []model.SourceRecord
	Skipped []RowError
}

// Parser converts a bank CSV file into SourceRecords. Malformed data rows
// are reported in Result.Skipped; only unreadable input is an error.
type Parser interface {
	Parse(r io.Reader) (Result, error)
	Format() string
}

// Registry holds named parsers.
type Registry struct {
	parsers map[string]Parser
}

// FileInfo describes a file in the import directory.
type FileInfo struct {
	Name string
	Path string
	Size int64
}

// NewRegistry creates an empty parser registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

// Register adds a parser. Panics on duplicate format.
func (r *Registry) Register(p Parser) {
	key := strings.ToLower(p.Format())
	if _, ok := r.parsers[key]; ok {
		panic("duplicate parser format: " + key)
	}
	r.parsers[key] = p
}

// Get returns the parser for format, or nil.
func (r *Registry) Get(format string) Parser {
	return r.parsers[strings.ToLower(format)]
}

// DefaultRegistry returns a registry with all built-in parsers. source tags
// the records produced by the aggregator parser.
func DefaultRegistry(source string) *Registry {
	r := NewRegistry()
	r.Register(&ChaseParser{})
	r.Register(&AggregatorParser{Source: source})
	return r
}

// processedDir is the subdirectory of the import dir for processed files.
const processedDir = "processed"

// Scan returns the CSV files directly inside dir. Subdirectories, which hold
// marketplace order reports, are not descended into.
func Scan(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading import dir: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(strings.ToLower(e.Name()), ".csv") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", e.Name(), err)
		}
		files = append(files, FileInfo{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		})
	}
	return files, nil
}

func openFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	return f, nil
}

// ParseFile opens path and runs p over it.
func ParseFile(p Parser, path string) (Result, error) {
	f, err := openFile(path)
	if err != nil {
		return Result{}, err
	}
	defer f.Close()

	name := filepath.Base(path)
	res, err := p.Parse(f)
	if err != nil {
		return Result{}, fmt.Errorf("parsing %s: %w", name, err)
	}
	for i := range res.Skipped {
		res.Skipped[i].File = name
	}
	return res, nil
}

// MarkProcessed moves a file from dir to dir/processed/.
func MarkProcessed(dir, fileName string) error {
	src := filepath.Join(dir, fileName)
	dstDir := filepath.Join(dir, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
