// Package report renders a forensic incident report for download.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/securewatch/securewatch/internal/incidents"
	"github.com/securewatch/securewatch/internal/risk"
)

// ErrRender is returned when a document cannot be produced.
var ErrRender = errors.New("report: render failed")

// Renderer turns an incident record into a document.
type Renderer interface {
	Render(rec *incidents.Record) ([]byte, error)
	ContentType() string
	Extension() string
}

// ShortID is the eight-character prefix used in report titles and filenames.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Filename is the download name for rec's report.
func Filename(r Renderer, id string) string {
	return "report_" + ShortID(id) + "." + r.Extension()
}

// PDFRenderer renders A4 reports with the core Helvetica font.
type PDFRenderer struct {
	compress bool
}

// NewPDFRenderer creates a renderer with stream compression on.
func NewPDFRenderer() *PDFRenderer {
	return &PDFRenderer{compress: true}
}

func (r *PDFRenderer) ContentType() string { return "application/pdf" }
func (r *PDFRenderer) Extension() string   { return "pdf" }

// Render implements Renderer.
func (r *PDFRenderer) Render(rec *incidents.Record) ([]byte, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrRender)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(r.compress)
	pdf.SetTitle("Incident "+ShortID(rec.ID), false)
	pdf.SetCreator("SecureWatch", false)
	pdf.SetHeaderFunc(func() {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 10, "SecureWatch - Forensic Incident Report", "", 1, "C", false, 0, "")
		pdf.Ln(10)
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, "Incident ID: "+latin1(ShortID(rec.ID)), "", 1, "", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Helvetica", "", 12)
	line := func(label, value string) {
		pdf.CellFormat(0, 10, label+": "+latin1(value), "", 1, "", false, 0, "")
	}
	line("Timestamp", rec.Time)
	line("Location", rec.Location)
	line("IP Address", rec.IP)
	line("Device", rec.Device)
	line("Identity", rec.Identity)
	line("Reason", string(rec.Reason))
	line("Risk Score", fmt.Sprintf("%.4f", rec.Risk))

	if rec.Verdict == risk.VerdictBlock || rec.Status == incidents.StatusConfirmedFraud {
		pdf.SetTextColor(220, 53, 69)
	}
	line("Status", string(rec.Status))
	pdf.SetTextColor(0, 0, 0)
	if rec.Feedback != "" {
		line("Analyst Feedback", string(rec.Feedback))
	}

	pdf.Ln(5)
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 10, "Analysis Summary:", "", 1, "", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	summary := rec.Summary
	if strings.TrimSpace(summary) == "" {
		summary = "No summary available."
	}
	pdf.MultiCell(0, 8, latin1(summary), "", "", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// latin1 keeps the characters the core PDF fonts can draw and drops the
// rest (emoji, CJK, C1 controls). Newlines and tabs survive for MultiCell.
func latin1(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t':
			b.WriteRune(r)
		case r >= 0x20 && r < 0x7f:
			b.WriteByte(byte(r))
		case r >= 0xa0 && r <= 0xff:
			b.WriteByte(byte(r))
		}
	}
	return b.String()
}
