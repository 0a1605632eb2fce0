package users

import (
	"bytes"
	"html/template"

	"github.com/gomarkdown/markdown"
	mdhtml "github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/kuitang/user-notes/internal/model"
	"github.com/microcosm-cc/bluemonday"
)

const noteTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        :root {
            --text-color: #1a1a1a;
            --bg-color: #ffffff;
            --code-bg: #f5f5f5;
            --muted: #666666;
        }

        @media (prefers-color-scheme: dark) {
            :root {
                --text-color: #e0e0e0;
                --bg-color: #1a1a1a;
                --code-bg: #2d2d2d;
                --muted: #999999;
            }
        }

        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
            line-height: 1.6;
            color: var(--text-color);
            background-color: var(--bg-color);
            max-width: 800px;
            margin: 0 auto;
            padding: 2rem 1rem;
        }

        code, pre {
            background-color: var(--code-bg);
            border-radius: 3px;
        }

        .meta {
            color: var(--muted);
            font-size: 0.875rem;
        }
    </style>
</head>
<body>
    <article>
        <h1>{{.Title}}</h1>
        <p class="meta">Created {{.CreatedAt}}{{if .UpdatedAt}} &middot; updated {{.UpdatedAt}}{{end}}</p>
        {{.Content}}
    </article>
</body>
</html>`

var noteTmpl = template.Must(template.New("note").Parse(noteTemplate))

type noteTemplateData struct {
	Title     string
	CreatedAt string
	UpdatedAt string
	Content   template.HTML
}

// renderMarkdown converts markdown to sanitised HTML.
func renderMarkdown(src string) []byte {
	extensions := parser.CommonExtensions | parser.AutoHeadingIDs | parser.NoEmptyLineBeforeBlock
	p := parser.NewWithExtensions(extensions)
	doc := p.Parse([]byte(src))

	renderer := mdhtml.NewRenderer(mdhtml.RendererOptions{
		Flags: mdhtml.CommonFlags | mdhtml.HrefTargetBlank,
	})
	unsafe := markdown.Render(doc, renderer)

	return bluemonday.UGCPolicy().SanitizeBytes(unsafe)
}

// renderNoteHTML returns a complete HTML document for n. The title is escaped
// by the template; the content is rendered as markdown and sanitised.
func renderNoteHTML(n model.Note) ([]byte, error) {
	data := noteTemplateData{
		Title:     n.Title,
		CreatedAt: n.CreatedAt.UTC().Format("2006-01-02 15:04 MST"),
		Content:   template.HTML(renderMarkdown(n.Content)),
	}
	if n.UpdatedAt != nil {
		data.UpdatedAt = n.UpdatedAt.UTC().Format("2006-01-02 15:04 MST")
	}

	var buf bytes.Buffer
	if err := noteTmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
