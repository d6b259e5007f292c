package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

const (
	pageWidth   = 277.0 // A4 landscape minus margins
	rowHeight   = 6.0
	headerSize  = 9.0
	bodySize    = 8.0
	cellPadding = 2.0
)

// PDFExporter renders datasets into a landscape table that repeats its
// header on every page.
type PDFExporter struct {
	now func() time.Time
}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{now: time.Now}
}

// Render creates a PDF document with a title line and the table body.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	widths := columnWidths(data.Columns)
	titles := data.titles()
	drawHeader := func() {
		pdf.SetFont("Arial", "B", headerSize)
		pdf.SetFillColor(230, 230, 230)
		for i, t := range titles {
			pdf.CellFormat(widths[i], rowHeight+1, tr(t), "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", bodySize)
	}

	pdf.SetHeaderFunc(func() {
		if title != "" && pdf.PageNo() == 1 {
			pdf.SetFont("Arial", "B", 13)
			pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
			pdf.SetFont("Arial", "", 8)
			pdf.CellFormat(0, 5, e.now().Format("02/01/2006 15:04"), "", 1, "L", false, 0, "")
			pdf.Ln(2)
		}
		drawHeader()
	})
	pdf.SetFooterFunc(func() {
		pdf.SetY(-10)
		pdf.SetFont("Arial", "I", 7)
		pdf.CellFormat(0, 5, fmt.Sprintf("%d", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	pdf.AddPage()
	for _, row := range data.Rows {
		for i, value := range data.record(row) {
			pdf.CellFormat(widths[i], rowHeight, tr(fit(pdf, value, widths[i])), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(cols []Column) []float64 {
	total := 0.0
	for _, col := range cols {
		total += weight(col)
	}
	out := make([]float64, len(cols))
	for i, col := range cols {
		out[i] = pageWidth * weight(col) / total
	}
	return out
}

func weight(col Column) float64 {
	if col.Weight <= 0 {
		return 1
	}
	return col.Weight
}

// fit shortens value until it fits inside width, appending "..".
func fit(pdf *gofpdf.Fpdf, value string, width float64) string {
	limit := width - cellPadding
	if pdf.GetStringWidth(value) <= limit {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 {
		runes = runes[:len(runes)-1]
		candidate := string(runes) + ".."
		if pdf.GetStringWidth(candidate) <= limit {
			return candidate
		}
	}
	return ""
}
