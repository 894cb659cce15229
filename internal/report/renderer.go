// Package report renders stored datasets as PDF documents.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/chemviz/equipment-visualizer/internal/model"
)

// Title heads every report
const Title = "Chemical Equipment Analysis Report"

type rgb struct{ r, g, b int }

var (
	green     = rgb{0x4C, 0xAF, 0x50}
	blue      = rgb{0x21, 0x96, 0xF3}
	orange    = rgb{0xFF, 0x98, 0x00}
	beige     = rgb{0xF5, 0xF5, 0xDC}
	lightBlue = rgb{0xAD, 0xD8, 0xE6}
	lightYell = rgb{0xFF, 0xFF, 0xE0}
)

// Renderer produces the fixed-layout PDF report
type Renderer struct {
	compress bool
}

// NewRenderer returns a renderer with compressed page streams
func NewRenderer() *Renderer {
	return &Renderer{compress: true}
}

// Filename returns the attachment name for a dataset's report
func Filename(ds *model.Dataset) string {
	stem := strings.TrimSuffix(ds.Filename, ".csv")
	stem = strings.TrimSuffix(stem, ".CSV")
	stem = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '"', '\r', '\n':
			return '_'
		}
		return r
	}, stem)
	return fmt.Sprintf("report_%d_%s.pdf", ds.ID, stem)
}

// Render writes the report for ds to w. The document is built in memory
// first, so w receives nothing if rendering fails.
func (r *Renderer) Render(w io.Writer, ds *model.Dataset) error {
	data, err := r.RenderBytes(ds)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// RenderBytes returns the report for ds
func (r *Renderer) RenderBytes(ds *model.Dataset) ([]byte, error) {
	if ds == nil {
		return nil, errors.New("report: nil dataset")
	}

	pdf := fpdf.New("P", "mm", "Letter", "")
	pdf.SetCompression(r.compress)
	pdf.SetTitle(Title, true)
	pdf.SetMargins(20, 20, 20)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	// Title
	pdf.SetFont("Helvetica", "B", 22)
	pdf.SetTextColor(0x1a, 0x1a, 0x1a)
	pdf.CellFormat(0, 14, Title, "", 1, "C", false, 0, "")
	pdf.Ln(6)

	// Dataset information
	table(pdf, []float64{63, 102}, "L", green, beige,
		[]string{"Dataset Information", ""},
		[][]string{
			{"Filename:", tr(ds.Filename)},
			{"Upload Date:", ds.UploadedAt.Format("2006-01-02 15:04:05")},
			{"Total Equipment Count:", strconv.Itoa(ds.TotalCount)},
		})
	pdf.Ln(8)

	heading(pdf, "Summary Statistics")
	table(pdf, []float64{76, 89}, "C", blue, lightBlue,
		[]string{"Parameter", "Average Value"},
		[][]string{
			{"Flowrate", fmt.Sprintf("%.2f", ds.AvgFlowrate)},
			{"Pressure", fmt.Sprintf("%.2f", ds.AvgPressure)},
			{"Temperature", fmt.Sprintf("%.2f", ds.AvgTemperature)},
		})
	pdf.Ln(8)

	heading(pdf, "Equipment Type Distribution")
	var dist [][]string
	for _, tc := range model.RankTypes(ds.TypeDistribution) {
		dist = append(dist, []string{tr(tc.Type), strconv.Itoa(tc.Count)})
	}
	table(pdf, []float64{76, 89}, "C", orange, lightYell,
		[]string{"Equipment Type", "Count"}, dist)

	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return buf.Bytes(), nil
}

func heading(pdf *fpdf.Fpdf, text string) {
	pdf.SetFont("Helvetica", "B", 16)
	pdf.SetTextColor(0x33, 0x33, 0x33)
	pdf.CellFormat(0, 10, text, "", 1, "L", false, 0, "")
	pdf.Ln(2)
}

// table draws a bordered grid with a colored header row
func table(pdf *fpdf.Fpdf, widths []float64, align string, head, body rgb, header []string, rows [][]string) {
	pdf.SetDrawColor(0, 0, 0)
	pdf.SetLineWidth(0.3)

	pdf.SetFont("Helvetica", "B", 12)
	pdf.SetFillColor(head.r, head.g, head.b)
	pdf.SetTextColor(0xF5, 0xF5, 0xF5)
	for i, h := range header {
		pdf.CellFormat(widths[i], 10, h, "1", 0, align, true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 11)
	pdf.SetFillColor(body.r, body.g, body.b)
	pdf.SetTextColor(0, 0, 0)
	for _, row := range rows {
		for i, cell := range row {
			pdf.CellFormat(widths[i], 8, cell, "1", 0, align, true, 0, "")
		}
		pdf.Ln(-1)
	}
}
