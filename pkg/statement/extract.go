package statement

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xuri/excelize/v2"
)

// Supported format tags. The tag declared by the caller is checked against
// the byte signature before any decoding is attempted.
const (
	FormatPDF  = "pdf"
	FormatXLSX = "xlsx"
	FormatXLS  = "xls"
)

var (
	zipSignature = []byte("PK\x03\x04")
	oleSignature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	pdfSignature = []byte("%PDF")
)

// line grouping tolerance in points; fragments whose Y differ by less than
// this are considered the same visual line.
const lineTolerance = 2.0

// Extract pulls raw positioned rows out of a document byte stream.
func Extract(data []byte, format string) ([]RawRow, error) {
	return ExtractContext(context.Background(), data, format)
}

// ExtractContext is Extract with cancellation between PDF pages.
func ExtractContext(ctx context.Context, data []byte, format string) ([]RawRow, error) {
	switch format {
	case FormatPDF:
		if !bytes.HasPrefix(data, pdfSignature) {
			return nil, fmt.Errorf("%w: declared pdf but missing %%PDF signature", ErrUnsupportedFormat)
		}
		return extractPDF(ctx, data)
	case FormatXLSX, FormatXLS:
		if bytes.HasPrefix(data, oleSignature) {
			return nil, fmt.Errorf("%w: legacy OLE .xls workbook, re-export as xlsx", ErrUnsupportedFormat)
		}
		if !bytes.HasPrefix(data, zipSignature) {
			return nil, fmt.Errorf("%w: declared %s but not a zip container", ErrUnsupportedFormat, format)
		}
		return extractWorkbook(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// extractPDF reconstructs table rows from positioned text fragments. A row
// is a Y-position bucket of fragments; cell boundaries are horizontal gaps
// wider than a font-size-aware threshold.
func extractPDF(ctx context.Context, data []byte) (rows []RawRow, err error) {
	// the underlying reader panics on some malformed xref tables
	defer func() {
		if r := recover(); r != nil {
			rows, err = nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	for i := 1; i <= r.NumPage(); i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows = append(rows, assembleRows(page.Content().Text)...)
	}
	if len(rows) == 0 {
		return nil, ErrExtractionEmpty
	}
	return rows, nil
}

// assembleRows groups fragments into visual lines (top to bottom) and splits
// each line into cells.
func assembleRows(frags []pdf.Text) []RawRow {
	if len(frags) == 0 {
		return nil
	}
	sorted := make([]pdf.Text, len(frags))
	copy(sorted, frags)
	sort.SliceStable(sorted, func(i, j int) bool {
		if math.Abs(sorted[i].Y-sorted[j].Y) > lineTolerance {
			return sorted[i].Y > sorted[j].Y
		}
		return sorted[i].X < sorted[j].X
	})

	var rows []RawRow
	var line []pdf.Text
	flush := func() {
		if len(line) == 0 {
			return
		}
		if row := splitCells(line); !rowEmpty(row) {
			rows = append(rows, row)
		}
		line = nil
	}
	for _, f := range sorted {
		if len(line) > 0 && math.Abs(f.Y-line[len(line)-1].Y) > lineTolerance {
			flush()
		}
		line = append(line, f)
	}
	flush()
	return rows
}

// splitCells walks a line left to right and opens a new cell whenever the
// horizontal gap to the previous fragment exceeds the cell threshold.
// Smaller gaps become a single space so latin words stay separated; CJK
// glyph runs have near-zero gaps and are concatenated as-is.
func splitCells(line []pdf.Text) RawRow {
	var row RawRow
	var b strings.Builder
	start := line[0].X
	prevEnd := line[0].X
	for i, f := range line {
		if i > 0 {
			gap := f.X - prevEnd
			if gap > cellGap(f.FontSize) {
				row = append(row, Cell{Text: cleanCell(b.String()), X: start})
				b.Reset()
				start = f.X
			} else if gap > wordGap(f.FontSize) && b.Len() > 0 {
				b.WriteByte(' ')
			}
		}
		b.WriteString(f.S)
		prevEnd = f.X + f.W
	}
	row = append(row, Cell{Text: cleanCell(b.String()), X: start})
	return row
}

func cellGap(fontSize float64) float64 {
	if fontSize <= 0 {
		fontSize = 10
	}
	g := fontSize * 0.9
	if g < 6 {
		g = 6
	}
	return g
}

func wordGap(fontSize float64) float64 {
	if fontSize <= 0 {
		fontSize = 10
	}
	return fontSize * 0.25
}

// extractWorkbook reads every sheet of an xlsx workbook; a row is the
// literal sheet row with the column index carried as position.
func extractWorkbook(data []byte) ([]RawRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	defer f.Close()

	var rows []RawRow
	for _, sheet := range f.GetSheetList() {
		sheetRows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, sr := range sheetRows {
			row := make(RawRow, 0, len(sr))
			for ci, v := range sr {
				row = append(row, Cell{Text: cleanCell(v), X: float64(ci)})
			}
			if !rowEmpty(row) {
				rows = append(rows, row)
			}
		}
	}
	if len(rows) == 0 {
		return nil, ErrExtractionEmpty
	}
	return rows, nil
}
