package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var documentTemplate = template.Must(
	template.New("document.html").
		Funcs(template.FuncMap{
			"formatDate": func(t time.Time, layout string) string { return t.Format(layout) },
		}).
		ParseFS(templateFS, "templates/document.html"),
)

// TemplateData is the view model for templates/document.html. ContentHTML is
// produced by ParagraphsToHTML and is inserted unescaped.
type TemplateData struct {
	Title       string
	Ref         string
	ContentHTML template.HTML
	GeneratedAt time.Time
	Annotations []TemplateAnnotation
}

// TemplateAnnotation is one entry in the annotations appendix. Orphaned
// annotations no longer match any text in the document.
type TemplateAnnotation struct {
	ID         string
	AnchorText string
	Content    string
	Author     string
	Resolved   bool
	Orphaned   bool
	Replies    []TemplateReply
}

type TemplateReply struct {
	Author string
	Body   string
}

func RenderDocumentHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := documentTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
