// Package importer reads voucher files dropped into a project's inbox.
package importer

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cleared-dev/ledger/internal/voucher"
)

// Document is one voucher read from a file. Lines may name their account by
// code; AccountCodes[i] is empty when line i carries an account id.
type Document struct {
	Source       string // file name, with "#n" for the n-th voucher of a multi-voucher file
	Submission   voucher.Submission
	AccountCodes []string
}

// Parser converts a voucher file into documents. name is the base name of
// the file, which some formats read header fields from.
type Parser interface {
	Parse(name string, r io.Reader) ([]Document, error)
	Format() string
}

// Registry holds parsers keyed by file extension.
type Registry struct {
	parsers map[string]Parser
}

// FileInfo describes a voucher file in the inbox.
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

// DefaultRegistry returns a registry with all built-in parsers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(&JSONParser{})
	r.Register(&CSVParser{})
	return r
}

// ParseFile parses path with the parser registered for its extension.
func (r *Registry) ParseFile(path string) ([]Document, error) {
	p := r.Get(format(path))
	if p == nil {
		return nil, fmt.Errorf("no parser for %s files", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	docs, err := p.Parse(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return docs, nil
}

func format(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

// inboxDir is the subdirectory holding vouchers waiting to be posted.
const inboxDir = "vouchers"

// processedDir is the subdirectory for posted voucher files.
const processedDir = "vouchers/processed"

// Scan returns the files in <repoRoot>/vouchers/ that a registered parser
// can read, sorted by name.
func (r *Registry) Scan(repoRoot string) ([]FileInfo, error) {
	dir := filepath.Join(repoRoot, inboxDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading voucher inbox: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if e.IsDir() || r.Get(format(e.Name())) == nil {
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
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// MarkProcessed moves a file from vouchers/ to vouchers/processed/.
func MarkProcessed(repoRoot, fileName string) error {
	src := filepath.Join(repoRoot, inboxDir, fileName)
	dstDir := filepath.Join(repoRoot, processedDir)

	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return fmt.Errorf("creating processed dir: %w", err)
	}

	dst := filepath.Join(dstDir, fileName)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("moving %s to processed: %w", fileName, err)
	}
	return nil
}
