// Package export writes extracted voter records to an XLSX workbook.
package export

import (
	"bytes"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

const (
	// VotersSheet holds one row per record under a bold header.
	VotersSheet = "Voters"
	// PagesSheet holds the per-page diagnostics, when requested.
	PagesSheet = "Pages"

	// Filename is the download name of the workbook.
	Filename = "output.xlsx"
	// ContentType is the XLSX MIME type.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// columnWidths of the Voters sheet, A through F.
var columnWidths = map[string]float64{
	"A": 15,
	"B": 25,
	"C": 25,
	"D": 15,
	"E": 5,
	"F": 10,
}

// PageRow is one line of the Pages sheet.
type PageRow struct {
	Page        int
	Status      string
	GridPixels  int
	Candidates  int
	Cells       int
	Records     int
	FailedCells int
	Error       string
}

var pageColumns = []interface{}{"Page", "Status", "GridPixels", "Candidates", "Cells", "Records", "FailedCells", "Error"}

// Write encodes records (and, when pages is non-nil, the page diagnostics)
// as an XLSX workbook into w.
func Write(w io.Writer, records []voter.Record, pages []PageRow) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", VotersSheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}
	if err := writeVoters(f, records); err != nil {
		return err
	}
	if pages != nil {
		if err := writePages(f, pages); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}

// Bytes is Write into a buffer.
func Bytes(records []voter.Record, pages []PageRow) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, records, pages); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeVoters(f *excelize.File, records []voter.Record) error {
	header := make([]interface{}, len(voter.Columns))
	for i, c := range voter.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(VotersSheet, "A1", &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	lastCol, _ := excelize.CoordinatesToCellName(len(voter.Columns), 1)
	if err := f.SetCellStyle(VotersSheet, "A1", lastCol, bold); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, rec := range records {
		values := rec.Values()
		row := make([]interface{}, len(values))
		for j, v := range values {
			row[j] = v
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(VotersSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	for col, width := range columnWidths {
		if err := f.SetColWidth(VotersSheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set width of column %s: %w", col, err)
		}
	}
	return nil
}

func writePages(f *excelize.File, pages []PageRow) error {
	if _, err := f.NewSheet(PagesSheet); err != nil {
		return fmt.Errorf("failed to create pages sheet: %w", err)
	}
	if err := f.SetSheetRow(PagesSheet, "A1", &pageColumns); err != nil {
		return fmt.Errorf("failed to write pages header: %w", err)
	}
	for i, p := range pages {
		row := []interface{}{p.Page, p.Status, p.GridPixels, p.Candidates, p.Cells, p.Records, p.FailedCells, p.Error}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(PagesSheet, cell, &row); err != nil {
			return fmt.Errorf("failed to write page row %d: %w", i+2, err)
		}
	}
	return nil
}
