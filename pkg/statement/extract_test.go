package statement

import (
	"errors"
	"testing"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

func buildXLSX(t *testing.T, rows [][]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.SetSheetRow("Sheet1", cell, &r); err != nil {
			t.Fatal(err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestExtractWorkbook(t *testing.T) {
	data := buildXLSX(t, [][]interface{}{
		{"交易时间", "交易对方", "金额(元)"},
		{"2023-01-02 10:00:00", "张三", "100.00"},
		{"2023-01-03 11:00:00", "李四", "-45.20"},
	})
	rows, err := Extract(data, FormatXLSX)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1][1].Text != "张三" {
		t.Fatalf("unexpected cell text %q", rows[1][1].Text)
	}
	if rows[1][2].X != 2 {
		t.Fatalf("expected column index carried as X, got %v", rows[1][2].X)
	}
}

func TestExtractSignatureMismatch(t *testing.T) {
	pdfBytes := []byte("%PDF-1.4 not really")
	if _, err := Extract(pdfBytes, FormatXLSX); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("pdf bytes as xlsx: expected ErrUnsupportedFormat, got %v", err)
	}
	zipBytes := []byte("PK\x03\x04junk")
	if _, err := Extract(zipBytes, FormatPDF); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("zip bytes as pdf: expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtractLegacyOLEWorkbook(t *testing.T) {
	ole := append([]byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, make([]byte, 32)...)
	if _, err := Extract(ole, FormatXLS); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat for legacy xls, got %v", err)
	}
}

func TestExtractUnknownFormat(t *testing.T) {
	if _, err := Extract([]byte("a,b,c"), "csv"); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestExtractEmptyWorkbook(t *testing.T) {
	data := buildXLSX(t, nil)
	if _, err := Extract(data, FormatXLSX); !errors.Is(err, ErrExtractionEmpty) {
		t.Fatalf("expected ErrExtractionEmpty, got %v", err)
	}
}

func frag(s string, x, y, w float64) pdf.Text {
	return pdf.Text{S: s, X: x, Y: y, W: w, FontSize: 10}
}

func TestAssembleRowsGroupsLinesAndCells(t *testing.T) {
	// two visual lines; the second line arrives out of order and with Y
	// jitter inside the line tolerance
	frags := []pdf.Text{
		frag("2023-01-02", 50, 680, 50),
		frag("交易时间", 50, 700, 40),
		frag("交易对方", 150, 699, 40),
		frag("金额", 300, 700, 20),
		frag("10:00:00", 103, 680, 40), // small gap: same cell, space-joined
		frag("张三", 160, 680, 20),
		frag("100.00", 300, 680, 30),
	}
	rows := assembleRows(frags)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	header := rows[0]
	if len(header) != 3 || header[0].Text != "交易时间" || header[2].Text != "金额" {
		t.Fatalf("unexpected header row %+v", header)
	}
	data := rows[1]
	if len(data) != 3 {
		t.Fatalf("expected 3 cells, got %d: %+v", len(data), data)
	}
	if data[0].Text != "2023-01-02 10:00:00" {
		t.Fatalf("expected space-joined timestamp cell, got %q", data[0].Text)
	}
	if data[1].Text != "张三" || data[2].Text != "100.00" {
		t.Fatalf("unexpected data row %+v", data)
	}
}

func TestParseWorkbookEndToEnd(t *testing.T) {
	data := buildXLSX(t, [][]interface{}{
		{"账单明细"},
		{"交易时间", "交易对方", "金额(元)"},
		{"2023-02-01 09:30:00", "超市", "-45.20"},
		{"2023-02-15 12:00:00", "公司", "+8000.00"},
		{"合计", "", "2笔"},
	})
	records, stats, err := Parse(data, FormatXLSX, DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if stats.TotalRows != 3 || stats.RejectedRows != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if records[0].Direction != DirectionExpense || records[1].Direction != DirectionIncome {
		t.Fatalf("unexpected directions %s / %s", records[0].Direction, records[1].Direction)
	}
	if records[0].Counterparty != "超市" {
		t.Fatalf("unexpected counterparty %q", records[0].Counterparty)
	}
}
