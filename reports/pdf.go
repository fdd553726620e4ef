package reports

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-pdf/fpdf"
	"github.com/mmdatafocus/pathway_backend/models"
)

type Renderer interface {
	Render(r *models.Report) ([]byte, error)
}

const (
	pdfMargin     = 18.0
	pdfLineHeight = 5.5
	pdfBodySize   = 11.0
	pdfTitleSize  = 18.0
	pdfHeadSize   = 14.0
	pdfUTF8Family = "report"
)

// PDFRenderer lays the full document out on A4 pages. The core Helvetica font
// covers Latin-1 (cp1252) text; a TTF font is needed for anything wider.
type PDFRenderer struct {
	font     []byte
	compress bool
}

// NewPDFRenderer loads the TTF at fontPath when it is set.
func NewPDFRenderer(fontPath string) (*PDFRenderer, error) {
	p := &PDFRenderer{compress: true}
	if fontPath != "" {
		font, err := os.ReadFile(fontPath)
		if err != nil {
			return nil, fmt.Errorf("load pdf font: %w", err)
		}
		p.font = font
	}
	return p, nil
}

// pdfWriter pairs the document with the text encoder for its font.
type pdfWriter struct {
	pdf    *fpdf.Fpdf
	family string
	text   func(string) string
}

func (p *PDFRenderer) Render(r *models.Report) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("nil report")
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(p.compress)
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(true, pdfMargin)
	pdf.SetTitle(r.Document.Overview.Title, true)
	pdf.SetProducer("pathway", false)
	if !r.CreatedAt.IsZero() {
		pdf.SetCreationDate(r.CreatedAt)
	}

	w := &pdfWriter{pdf: pdf, family: "Helvetica", text: pdf.UnicodeTranslatorFromDescriptor("")}
	if len(p.font) > 0 {
		pdf.AddUTF8FontFromBytes(pdfUTF8Family, "", p.font)
		pdf.AddUTF8FontFromBytes(pdfUTF8Family, "B", p.font)
		w.family = pdfUTF8Family
		w.text = func(s string) string { return s }
	}

	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin + 4)
		pdf.SetFont(w.family, "", 8)
		pdf.CellFormat(0, 4, fmt.Sprintf("%d / {nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	w.document(r.Document)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *pdfWriter) document(doc models.Document) {
	w.heading(doc.Overview.Title, pdfTitleSize)
	w.paragraph(doc.Overview.Summary, 0)
	for _, h := range doc.Overview.Highlights {
		w.paragraph("• "+h, 4)
	}

	w.heading("Timeline", pdfHeadSize)
	for _, p := range doc.Timeline {
		w.subheading(p.Label)
		if p.Summary != "" {
			w.paragraph(p.Summary, 4)
		}
		for _, e := range p.Events {
			w.paragraph(fmt.Sprintf("– %s: %s", e.Title, e.Detail), 4)
		}
	}

	w.heading("Next steps", pdfHeadSize)
	for _, s := range doc.NextSteps {
		w.paragraph(fmt.Sprintf("%d. %s – %s", s.Priority, s.Title, s.Detail), 4)
	}
}

func (w *pdfWriter) heading(s string, size float64) {
	w.pdf.Ln(3)
	w.pdf.SetFont(w.family, "B", size)
	w.pdf.MultiCell(0, size*0.5, w.text(s), "", "L", false)
	w.pdf.Ln(1)
}

func (w *pdfWriter) subheading(s string) {
	w.pdf.Ln(2)
	w.pdf.SetFont(w.family, "B", pdfBodySize+1)
	w.pdf.MultiCell(0, pdfLineHeight+0.5, w.text(s), "", "L", false)
}

// paragraph wraps s to the page width, shifted right by indent millimetres.
func (w *pdfWriter) paragraph(s string, indent float64) {
	if s == "" {
		return
	}
	w.pdf.SetFont(w.family, "", pdfBodySize)
	left, _, _, _ := w.pdf.GetMargins()
	w.pdf.SetX(left + indent)
	w.pdf.MultiCell(0, pdfLineHeight, w.text(s), "", "L", false)
}
