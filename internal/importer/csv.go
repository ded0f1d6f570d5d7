package importer

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/cleared-dev/ledger/internal/journal"
	"github.com/cleared-dev/ledger/internal/voucher"
)

// CSVParser reads a voucher line file. The header fields come from the file
// name, <type>_<YYYY-MM-DD>[_<label>].csv, e.g. journal_2025-01-31_rent.csv.
// The name without extension becomes the idempotency key, so a file is
// posted at most once.
type CSVParser struct{}

func (p *CSVParser) Format() string { return "csv" }

func (p *CSVParser) Parse(name string, r io.Reader) ([]Document, error) {
	typ, date, err := parseCSVName(name)
	if err != nil {
		return nil, err
	}

	records, err := journal.ReadLines(r)
	if err != nil {
		return nil, err
	}

	doc := Document{
		Source: name,
		Submission: voucher.Submission{
			Type:           typ,
			Date:           date,
			IdempotencyKey: strings.TrimSuffix(name, filepath.Ext(name)),
			Lines:          make([]voucher.LineInput, 0, len(records)),
		},
		AccountCodes: make([]string, 0, len(records)),
	}
	for _, rec := range records {
		l := rec.Line
		in := voucher.LineInput{
			Description:  l.Description,
			Dimensions:   l.Dimensions,
			TaxCodes:     l.TaxCodes,
			TaxInclusive: l.TaxInclusive,
		}
		if !l.Debit.IsZero() {
			in.Debit = l.Debit.String()
		}
		if !l.Credit.IsZero() {
			in.Credit = l.Credit.String()
		}
		if !l.TaxAmount.IsZero() {
			in.TaxAmount = l.TaxAmount.String()
		}
		doc.Submission.Lines = append(doc.Submission.Lines, in)
		doc.AccountCodes = append(doc.AccountCodes, rec.AccountCode)
	}
	return []Document{doc}, nil
}

func parseCSVName(name string) (typ, date string, err error) {
	parts := strings.SplitN(strings.TrimSuffix(name, filepath.Ext(name)), "_", 3)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("file name %q must look like <type>_<YYYY-MM-DD>[_<label>].csv", name)
	}
	if _, err := time.Parse(time.DateOnly, parts[1]); err != nil {
		return "", "", fmt.Errorf("file name %q: invalid date %q", name, parts[1])
	}
	return strings.ToLower(parts[0]), parts[1], nil
}
