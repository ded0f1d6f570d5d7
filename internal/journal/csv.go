package journal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cleared-dev/ledger/internal/model"
)

// Header is the CSV header of a voucher line file.
const Header = "line_no,account_code,description,debit,credit,tax_codes,tax_inclusive,tax_amount,cost_center,department,project"

const (
	numFields      = 11
	colLineNo      = 0
	colAccountCode = 1
	colDesc        = 2
	colDebit       = 3
	colCredit      = 4
	colTaxCodes    = 5
	colInclusive   = 6
	colTaxAmount   = 7
	colCostCenter  = 8
	colDepartment  = 9
	colProject     = 10

	taxCodeSep = ";"
)

// LineRecord is a voucher line as it appears in a file, keyed by account code.
type LineRecord struct {
	AccountCode string
	Line        model.Line
}

// ReadLines reads all line records from a voucher CSV reader.
func ReadLines(r io.Reader) ([]LineRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading voucher CSV: %w", err)
	}

	if len(records) == 0 {
		return nil, nil
	}

	// Skip header row.
	var lines []LineRecord
	for i, rec := range records[1:] {
		lr, err := UnmarshalLine(rec)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		if lr.Line.LineNo == 0 {
			lr.Line.LineNo = i + 1
		}
		lines = append(lines, lr)
	}
	return lines, nil
}

// WriteLines writes line records to w, including the header.
func WriteLines(w io.Writer, lines []LineRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(strings.Split(Header, ",")); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, lr := range lines {
		if err := cw.Write(MarshalLine(lr)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalLine converts a LineRecord to a CSV row.
func MarshalLine(lr LineRecord) []string {
	l := lr.Line
	row := make([]string, numFields)
	row[colLineNo] = strconv.Itoa(l.LineNo)
	row[colAccountCode] = lr.AccountCode
	row[colDesc] = l.Description

	if !l.Debit.IsZero() {
		row[colDebit] = l.Debit.StringFixed(2)
	}
	if !l.Credit.IsZero() {
		row[colCredit] = l.Credit.StringFixed(2)
	}

	row[colTaxCodes] = strings.Join(l.TaxCodes, taxCodeSep)
	if l.TaxInclusive {
		row[colInclusive] = "true"
	}
	if !l.TaxAmount.IsZero() {
		row[colTaxAmount] = l.TaxAmount.StringFixed(2)
	}

	row[colCostCenter] = l.Dimensions.CostCenter
	row[colDepartment] = l.Dimensions.Department
	row[colProject] = l.Dimensions.Project
	return row
}

// UnmarshalLine converts a CSV row to a LineRecord.
func UnmarshalLine(record []string) (LineRecord, error) {
	if len(record) != numFields {
		return LineRecord{}, fmt.Errorf("expected %d fields, got %d", numFields, len(record))
	}

	var lineNo int
	if s := strings.TrimSpace(record[colLineNo]); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return LineRecord{}, fmt.Errorf("parsing line_no %q: %w", s, err)
		}
		lineNo = n
	}

	code := strings.TrimSpace(record[colAccountCode])
	if code == "" {
		return LineRecord{}, fmt.Errorf("account_code is required")
	}

	debit, err := parseAmount("debit", record[colDebit])
	if err != nil {
		return LineRecord{}, err
	}
	credit, err := parseAmount("credit", record[colCredit])
	if err != nil {
		return LineRecord{}, err
	}
	taxAmount, err := parseAmount("tax_amount", record[colTaxAmount])
	if err != nil {
		return LineRecord{}, err
	}

	var inclusive bool
	if s := strings.TrimSpace(record[colInclusive]); s != "" {
		inclusive, err = strconv.ParseBool(s)
		if err != nil {
			return LineRecord{}, fmt.Errorf("parsing tax_inclusive %q: %w", s, err)
		}
	}

	var taxCodes []string
	for _, c := range strings.Split(record[colTaxCodes], taxCodeSep) {
		if c = strings.TrimSpace(c); c != "" {
			taxCodes = append(taxCodes, c)
		}
	}

	return LineRecord{
		AccountCode: code,
		Line: model.Line{
			LineNo:       lineNo,
			Description:  record[colDesc],
			Debit:        debit,
			Credit:       credit,
			TaxCodes:     taxCodes,
			TaxInclusive: inclusive,
			TaxAmount:    taxAmount,
			Dimensions: model.Dimensions{
				CostCenter: strings.TrimSpace(record[colCostCenter]),
				Department: strings.TrimSpace(record[colDepartment]),
				Project:    strings.TrimSpace(record[colProject]),
			},
		},
	}, nil
}

func parseAmount(name, s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parsing %s %q: %w", name, s, err)
	}
	return d, nil
}
