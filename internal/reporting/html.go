package reporting

import (
	"bytes"
	"fmt"
	"html/template"
	"os"
	"time"

	"github.com/checkdeck/checkdeck/internal/models"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

const htmlShell = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>{{.Title}}</title>
<style>
body { font-family: "Segoe UI", Arial, sans-serif; max-width: 960px; margin: 40px auto; padding: 0 20px; color: #24292f; }
h1 { border-bottom: 1px solid #d0d7de; padding-bottom: 8px; }
table { border-collapse: collapse; width: 100%; margin: 16px 0; }
th, td { border: 1px solid #d0d7de; padding: 6px 12px; text-align: left; }
th { background-color: #f6f8fa; }
code { background-color: #f6f8fa; padding: 2px 4px; border-radius: 4px; }
pre { background-color: #f6f8fa; padding: 12px; border-radius: 6px; overflow-x: auto; }
pre code { padding: 0; }
details { margin: 8px 0; }
summary { cursor: pointer; }
hr { border: none; border-top: 1px solid #d0d7de; margin: 24px 0; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`

var pageTemplate = template.Must(template.New("report").Parse(htmlShell))

// RenderHTML renders the report as a standalone HTML page. The body is the
// Markdown document converted through goldmark; the page shell is fixed.
func RenderHTML(report *models.Report, generatedAt time.Time) (string, error) {
	md := goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		// Raw HTML passthrough keeps the <details> blocks.
		goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe()),
	)

	var body bytes.Buffer
	if err := md.Convert([]byte(RenderMarkdown(report, generatedAt)), &body); err != nil {
		return "", fmt.Errorf("converting markdown: %w", err)
	}

	data := struct {
		Title string
		Body  template.HTML
	}{
		Title: report.Pipeline + " checks",
		Body:  template.HTML(body.String()),
	}

	var page bytes.Buffer
	if err := pageTemplate.Execute(&page, data); err != nil {
		return "", fmt.Errorf("rendering page: %w", err)
	}
	return page.String(), nil
}

// WriteHTML validates the report and writes the HTML page to path.
func WriteHTML(report *models.Report, generatedAt time.Time, path string) error {
	if err := ValidateReport(report); err != nil {
		return err
	}
	page, err := RenderHTML(report, generatedAt)
	if err != nil {
		return err
	}
	return os.WriteFile(path, []byte(page), 0o644)
}
