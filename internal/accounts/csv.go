package accounts

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cleared-dev/ledger/internal/model"
)

// Record is one row of a chart-of-accounts file. Parents are referenced by code.
type Record struct {
	Code              string
	Name              string
	Type              model.AccountType
	Classification    model.Classification
	ParentCode        string
	Active            bool
	RequireCostCenter bool
	RequireDepartment bool
	RequireProject    bool
}

var header = []string{
	"code", "name", "type", "classification", "parent_code", "active",
	"require_cost_center", "require_department", "require_project",
}

const (
	numFields         = 9
	colCode           = 0
	colName           = 1
	colType           = 2
	colClassification = 3
	colParent         = 4
	colActive         = 5
	colReqCostCenter  = 6
	colReqDepartment  = 7
	colReqProject     = 8
)

// ReadAccounts reads chart-of-accounts.csv.
func ReadAccounts(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = numFields

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading accounts CSV: %w", err)
	}
	return parseRows(records)
}

func parseRows(rows [][]string) ([]Record, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	var out []Record
	for i, row := range rows[1:] {
		rec, err := UnmarshalAccount(row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// WriteAccounts writes chart-of-accounts.csv.
func WriteAccounts(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}

	for i, rec := range records {
		if err := cw.Write(MarshalAccount(rec)); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// MarshalAccount converts a Record to a CSV row.
func MarshalAccount(rec Record) []string {
	row := make([]string, numFields)
	row[colCode] = rec.Code
	row[colName] = rec.Name
	row[colType] = string(rec.Type)
	row[colClassification] = string(rec.Classification)
	row[colParent] = rec.ParentCode
	row[colActive] = strconv.FormatBool(rec.Active)
	row[colReqCostCenter] = formatFlag(rec.RequireCostCenter)
	row[colReqDepartment] = formatFlag(rec.RequireDepartment)
	row[colReqProject] = formatFlag(rec.RequireProject)
	return row
}

func formatFlag(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// UnmarshalAccount converts a CSV row to a Record. Rows may be shorter than
// the header when trailing flags are empty, which spreadsheets often produce.
func UnmarshalAccount(row []string) (Record, error) {
	if len(row) > numFields || len(row) < colType+1 {
		return Record{}, fmt.Errorf("expected %d fields, got %d", numFields, len(row))
	}
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := Record{
		Code:           cell(colCode),
		Name:           cell(colName),
		Type:           model.AccountType(cell(colType)),
		Classification: model.Classification(cell(colClassification)),
		ParentCode:     cell(colParent),
		Active:         true,
	}
	if rec.Code == "" {
		return Record{}, fmt.Errorf("code is required")
	}
	if !rec.Type.Valid() {
		return Record{}, fmt.Errorf("unknown account type %q", rec.Type)
	}

	flags := []struct {
		col  int
		name string
		dst  *bool
	}{
		{colActive, "active", &rec.Active},
		{colReqCostCenter, "require_cost_center", &rec.RequireCostCenter},
		{colReqDepartment, "require_department", &rec.RequireDepartment},
		{colReqProject, "require_project", &rec.RequireProject},
	}
	for _, f := range flags {
		s := cell(f.col)
		if s == "" {
			continue
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			return Record{}, fmt.Errorf("parsing %s %q: %w", f.name, s, err)
		}
		*f.dst = v
	}
	return rec, nil
}
