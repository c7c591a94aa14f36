// Package closeout renders a job's closeout sheet (materials used, location
// pins, checklist state) to PDF for handoff to the back office.
package closeout

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"

	"fieldline/api/internal/store"
)

var ErrPDFDependencyMissing = errors.New("pdf dependency missing")

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

type Renderer interface {
	Render(ctx context.Context, sheet store.JobSheet) (Result, error)
}

// ChromeRenderer prints the sheet HTML to PDF with headless Chrome.
type ChromeRenderer struct{}

func NewChromeRenderer() *ChromeRenderer {
	return &ChromeRenderer{}
}

func (r *ChromeRenderer) Render(ctx context.Context, sheet store.JobSheet) (Result, error) {
	html, err := buildHTML(sheet)
	if err != nil {
		return Result{}, err
	}

	data, err := printPDF(ctx, html)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Data:     data,
		Filename: sanitizeFilename(sheet.Job.Name) + "-closeout.pdf",
		MimeType: "application/pdf",
	}, nil
}

var sheetTemplate = template.Must(template.New("closeout").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<style>
  body { font-family: Helvetica, Arial, sans-serif; font-size: 12px; color: #111; }
  h1 { font-size: 20px; margin-bottom: 2px; }
  .chip { display: inline-block; padding: 2px 8px; border-radius: 8px; background: #eee; text-transform: uppercase; font-size: 10px; }
  table { width: 100%; border-collapse: collapse; margin: 12px 0; }
  th, td { border: 1px solid #ccc; padding: 4px 6px; text-align: left; }
  th { background: #f5f5f5; }
  .section { margin-top: 18px; }
</style>
</head>
<body>
<h1>{{.Job.Name}}</h1>
<p>Job {{.Job.ID}} · <span class="chip">{{.Job.ProfitChip}}</span> · last updated {{.Job.UpdatedAt.Format "2006-01-02 15:04 MST"}}</p>

<div class="section">
<h2>Materials</h2>
{{if .Materials}}
<table>
<tr><th>SKU</th><th>Quantity</th></tr>
{{range .Materials}}<tr><td>{{.SKU}}</td><td>{{printf "%g" .Quantity}}</td></tr>
{{end}}</table>
{{else}}<p>No material lines recorded.</p>{{end}}
</div>

<div class="section">
<h2>Location pins</h2>
{{if .Pins}}
<table>
<tr><th>Kind</th><th>Latitude</th><th>Longitude</th></tr>
{{range .Pins}}<tr><td>{{.Kind}}</td><td>{{printf "%.6f" .Lat}}</td><td>{{printf "%.6f" .Lng}}</td></tr>
{{end}}</table>
{{else}}<p>No pins recorded.</p>{{end}}
</div>

<div class="section">
<h2>Checklist</h2>
{{if .Checklist}}
<table>
<tr><th>Prompt</th><th>Required</th></tr>
{{range .Checklist}}<tr><td>{{.Prompt}}</td><td>{{if .Required}}yes{{else}}no{{end}}</td></tr>
{{end}}</table>
{{else}}<p>No checklist items.</p>{{end}}
</div>
</body>
</html>`))

func buildHTML(sheet store.JobSheet) (string, error) {
	var buf bytes.Buffer
	if err := sheetTemplate.Execute(&buf, sheet); err != nil {
		return "", fmt.Errorf("render closeout template: %w", err)
	}
	return buf.String(), nil
}

func sanitizeFilename(title string) string {
	result := ""
	for _, r := range title {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			result += string(r)
		case r == ' ':
			result += "-"
		case r == '-', r == '_':
			result += string(r)
		}
	}
	if len(result) > 50 {
		result = result[:50]
	}
	if result == "" {
		result = "job"
	}
	return result
}
