// Package audit keeps an append-only trail of ledger actions and failures.
package audit

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Actions written by the voucher service.
const (
	ActionPost          = "post"
	ActionReverse       = "reverse"
	ActionReject        = "reject"
	ActionResubmit      = "resubmit"
	ActionFailure       = "failure"
	ActionPublishFailed = "publish_failed"
)

// Entry is one row in the audit log.
type Entry struct {
	Timestamp time.Time
	TenantID  string
	Action    string
	VoucherID string
	Number    string
	Stage     string
	Code      string
	Details   string
}

// Header is the CSV header for audit-log.csv.
const Header = "timestamp,tenant_id,action,voucher_id,number,stage,code,details"

const (
	numFields    = 8
	logDir       = "logs"
	logFile      = "logs/audit-log.csv"
	colTimestamp = 0
	colTenant    = 1
	colAction    = 2
	colVoucher   = 3
	colNumber    = 4
	colStage     = 5
	colCode      = 6
	colDetails   = 7
)

// Recorder receives audit entries.
type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// MarshalEntry converts an Entry to a CSV row.
func MarshalEntry(e Entry) []string {
	row := make([]string, numFields)
	row[colTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	row[colTenant] = e.TenantID
	row[colAction] = e.Action
	row[colVoucher] = e.VoucherID
	row[colNumber] = e.Number
	row[colStage] = e.Stage
	row[colCode] = e.Code
	row[colDetails] = e.Details
	return row
}

// UnmarshalEntry converts a CSV row to an Entry.
func UnmarshalEntry(record []string) (Entry, error) {
	if len(record) != numFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	ts, err := time.Parse(time.RFC3339Nano, record[colTimestamp])
	if err != nil {
		return Entry{}, fmt.Errorf("parsing timestamp %q: %w", record[colTimestamp], err)
	}

	return Entry{
		Timestamp: ts,
		TenantID:  record[colTenant],
		Action:    record[colAction],
		VoucherID: record[colVoucher],
		Number:    record[colNumber],
		Stage:     record[colStage],
		Code:      record[colCode],
		Details:   record[colDetails],
	}, nil
}

// Append writes entries to <dir>/logs/audit-log.csv, creating the file and header if needed.
func Append(dir string, entries []Entry) error {
	if err := os.MkdirAll(filepath.Join(dir, logDir), 0o755); err != nil {
		return fmt.Errorf("creating logs dir: %w", err)
	}

	path := filepath.Join(dir, logFile)
	needsHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		needsHeader = true
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
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

// Read returns all entries from <dir>/logs/audit-log.csv.
// Returns an empty slice if the file does not exist.
func Read(dir string) ([]Entry, error) {
	f, err := os.Open(filepath.Join(dir, logFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	return readEntries(f)
}

func readEntries(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading audit log CSV: %w", err)
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

// FileRecorder appends every entry to the audit log under Dir.
type FileRecorder struct {
	Dir string

	mu sync.Mutex
}

// NewFileRecorder returns a recorder writing under dir.
func NewFileRecorder(dir string) *FileRecorder {
	return &FileRecorder{Dir: dir}
}

func (r *FileRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Append(r.Dir, []Entry{e})
}

// MemoryRecorder keeps entries in memory.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

func (r *MemoryRecorder) Record(_ context.Context, e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

// Entries returns a copy of the recorded entries.
func (r *MemoryRecorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Entry(nil), r.entries...)
}

// Nop discards entries.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
