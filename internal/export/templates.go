package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"helppages/api/internal/markdown"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("page.html").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).ParseFS(templateFS, "templates/page.html"))

// TemplateData holds data for page template rendering.
type TemplateData struct {
	Title       string
	DocName     string
	ContentHTML template.HTML
	TOC         []markdown.Heading
	UpdatedAt   time.Time
}

// RenderPageHTML renders a page as a standalone HTML document.
func RenderPageHTML(p Page) (string, error) {
	body, toc, err := markdown.RenderWithTOC(p.Content)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	err = pageTemplate.Execute(&buf, TemplateData{
		Title:       p.Title,
		DocName:     p.DocName,
		ContentHTML: template.HTML(body),
		TOC:         toc,
		UpdatedAt:   p.UpdatedAt,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
