package accounts

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

const sheetName = "Accounts"

// ReadAccountsXLSX reads the first sheet of a workbook laid out like
// chart-of-accounts.csv. Blank rows are skipped.
func ReadAccountsXLSX(r io.Reader) ([]Record, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("reading rows of %s: %w", sheet, err)
	}

	kept := rows[:0]
	for _, row := range rows {
		if !isRowEmpty(row) {
			kept = append(kept, row)
		}
	}
	return parseRows(kept)
}

func isRowEmpty(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// WriteAccountsXLSX writes records to a single-sheet workbook.
func WriteAccountsXLSX(w io.Writer, records []Record) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), sheetName); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}

	rows := make([][]string, 0, len(records)+1)
	rows = append(rows, header)
	for _, rec := range records {
		rows = append(rows, MarshalAccount(rec))
	}
	for i := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &rows[i]); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	return nil
}
