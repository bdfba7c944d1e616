package export

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

func openWorkbook(t *testing.T, data []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestBytesWritesVotersSheet(t *testing.T) {
	records := []voter.Record{
		{VoterID: "ABC1234567", VoterName: "Ramesh", RelativeName: "Suresh", HouseNumber: "12", Age: "45", Gender: "Male"},
		{VoterID: "XYZ7654321", VoterName: "सीता", Age: "31", Gender: "महिला"},
	}

	data, err := Bytes(records, nil)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	f := openWorkbook(t, data)

	if sheets := f.GetSheetList(); len(sheets) != 1 || sheets[0] != VotersSheet {
		t.Fatalf("sheets = %v, want [%s]", sheets, VotersSheet)
	}

	rows, err := f.GetRows(VotersSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2", len(rows))
	}
	for i, c := range voter.Columns {
		if rows[0][i] != c {
			t.Errorf("header[%d] = %q, want %q", i, rows[0][i], c)
		}
	}
	if got := voter.FromValues(rows[1]); got != records[0] {
		t.Errorf("row 1 = %+v, want %+v", got, records[0])
	}
	if got := voter.FromValues(rows[2]); got != records[1] {
		t.Errorf("row 2 = %+v, want %+v", got, records[1])
	}
}

func TestColumnWidths(t *testing.T) {
	data, err := Bytes(nil, nil)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	f := openWorkbook(t, data)

	for col, want := range columnWidths {
		got, err := f.GetColWidth(VotersSheet, col)
		if err != nil {
			t.Fatalf("GetColWidth(%s) error = %v", col, err)
		}
		if got != want {
			t.Errorf("width of %s = %v, want %v", col, got, want)
		}
	}
}

func TestHeaderIsBold(t *testing.T) {
	data, err := Bytes(nil, nil)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	f := openWorkbook(t, data)

	styleID, err := f.GetCellStyle(VotersSheet, "F1")
	if err != nil {
		t.Fatalf("GetCellStyle() error = %v", err)
	}
	style, err := f.GetStyle(styleID)
	if err != nil {
		t.Fatalf("GetStyle() error = %v", err)
	}
	if style.Font == nil || !style.Font.Bold {
		t.Error("header cell F1 is not bold")
	}
}

func TestPagesSheet(t *testing.T) {
	pages := []PageRow{
		{Page: 1, Status: "ok", GridPixels: 9000, Candidates: 40, Cells: 30, Records: 30},
		{Page: 2, Status: "no_grid"},
	}
	data, err := Bytes(nil, pages)
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}
	f := openWorkbook(t, data)

	rows, err := f.GetRows(PagesSheet)
	if err != nil {
		t.Fatalf("GetRows(Pages) error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d page rows, want 3", len(rows))
	}
	if rows[1][1] != "ok" || rows[2][1] != "no_grid" {
		t.Errorf("statuses = %q, %q", rows[1][1], rows[2][1])
	}
}
