package reports

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/vma-portal/portal/internal/periods"
	"github.com/vma-portal/portal/internal/submissions"
	"github.com/vma-portal/portal/web"
)

// PDFClient exposes the subset of the report client used by the renderer.
type PDFClient interface {
	RenderHTML(ctx context.Context, html string) ([]byte, error)
}

// Renderer turns aggregated figures into a PDF via html/template and Gotenberg.
type Renderer struct {
	tpl    *template.Template
	client PDFClient
	now    func() time.Time
}

// NewRenderer parses the distribution report template and wires the PDF client.
func NewRenderer(client PDFClient) (*Renderer, error) {
	if client == nil {
		return nil, fmt.Errorf("reports renderer: pdf client required")
	}
	printer := message.NewPrinter(language.English)
	funcMap := template.FuncMap{
		"figure": func(v float64) string {
			return printer.Sprintf("%v", number.Decimal(v, number.MaxFractionDigits(2)))
		},
		"metric": func(v submissions.Values, code submissions.MetricCode) float64 {
			return v.Get(code)
		},
		"formatTime": func(t time.Time) string {
			return t.Format("02 Jan 2006 15:04 MST")
		},
	}
	tpl, err := template.New("distribution.html").Funcs(funcMap).ParseFS(web.Templates, "templates/reports/distribution.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tpl: tpl, client: client, now: time.Now}, nil
}

// WithNow overrides the generation timestamp clock.
func (r *Renderer) WithNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// HTML executes the template for doc.
func (r *Renderer) HTML(doc Document) (string, error) {
	buf := &bytes.Buffer{}
	if err := r.tpl.Execute(buf, doc); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Render builds the document for code and converts it to PDF bytes.
func (r *Renderer) Render(ctx context.Context, code periods.Code, valuesByOrg map[string]submissions.Values) ([]byte, error) {
	if r == nil || r.tpl == nil || r.client == nil {
		return nil, fmt.Errorf("reports renderer not initialised")
	}
	html, err := r.HTML(BuildDocument(code, valuesByOrg, r.now()))
	if err != nil {
		return nil, fmt.Errorf("reports: execute template: %w", err)
	}
	return r.client.RenderHTML(ctx, html)
}
