// Package reporting renders and serves the case-count report.
package reporting

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ehr/surveillance/internal/domain/casecount"
)

// Definition describes a report offered by the API.
type Definition struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Parameters  []string `json:"parameters"`
	Formats     []string `json:"formats"`
}

// Definitions is the list of available reports.
var Definitions = []Definition{
	{
		ID:          "case-count",
		Name:        "Case Count by Epi Week",
		Description: "Notified cases per diagnosis and epidemiological week of onset",
		Parameters:  []string{"start", "end", "status"},
		Formats:     []string{FormatJSON, FormatXLSX},
	},
}

// FindDefinition looks up a report definition by ID.
func FindDefinition(id string) *Definition {
	for i := range Definitions {
		if Definitions[i].ID == id {
			return &Definitions[i]
		}
	}
	return nil
}

const (
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

const sheetName = "Case Count"

// Layout of the case-count sheet: three header lines, a blank line, then
// the table whose first column holds the diagnosis.
const (
	tableHeaderRow = 5
	firstWeekCol   = 2
)

// RenderCaseCount writes t as a single-sheet workbook.
func RenderCaseCount(t *casecount.Table) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create header style: %w", err)
	}
	totalStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("create total style: %w", err)
	}

	summary := [][]interface{}{
		{"Case Count by Epi Week"},
		{"Notified from", t.Start, "until", t.End},
		{"Status", t.Status},
	}
	for i, line := range summary {
		for j, v := range line {
			if err := setCellValue(f, j+1, i+1, v); err != nil {
				f.Close()
				return nil, err
			}
		}
	}

	totalCol := firstWeekCol + len(t.Weeks)
	headers := append(append([]string{"Diagnosis"}, t.Weeks...), "Total")
	for col, h := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, tableHeaderRow)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("header cell: %w", err)
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, headerStyle); err != nil {
			f.Close()
			return nil, fmt.Errorf("set header style: %w", err)
		}
	}

	row := tableHeaderRow + 1
	for _, r := range t.Rows {
		values := []interface{}{r.Diagnosis}
		for _, w := range t.Weeks {
			values = append(values, r.Counts[w])
		}
		values = append(values, r.Total)
		if err := setRow(f, row, values); err != nil {
			f.Close()
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		row++
	}

	totals := []interface{}{"Total"}
	for _, w := range t.Weeks {
		totals = append(totals, t.WeekTotals[w])
	}
	totals = append(totals, t.Total)
	if err := setRow(f, row, totals); err != nil {
		f.Close()
		return nil, fmt.Errorf("totals row: %w", err)
	}
	last, _ := excelize.CoordinatesToCellName(totalCol, row)
	first, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetCellStyle(sheetName, first, last, totalStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("set total style: %w", err)
	}

	if err := f.SetColWidth(sheetName, "A", "A", 32); err != nil {
		f.Close()
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		XSplit:      1,
		YSplit:      tableHeaderRow,
		TopLeftCell: "B6",
		ActivePane:  "bottomRight",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("freeze panes: %w", err)
	}

	// The file must stay open while it is written out.
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	for i, v := range values {
		if err := setCellValue(f, i+1, row, v); err != nil {
			return err
		}
	}
	return nil
}

func setCellValue(f *excelize.File, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheetName, cell, value)
}
