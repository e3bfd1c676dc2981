package export

import (
	"bytes"
	"html/template"
	"time"
)

const topicTemplateText = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Subject}} / {{.Title}}</title>
<style>
	@page { size: Letter; margin: 0.75in; }
	body { font-family: Georgia, serif; color: #1a1a1a; line-height: 1.5; }
	header { border-bottom: 2px solid #333; margin-bottom: 1.5em; }
	header .subject { text-transform: uppercase; letter-spacing: .08em; font-size: .8em; color: #666; }
	nav ol { padding-left: 1.2em; }
	article { page-break-before: always; }
	article h1.title { font-size: 1.6em; }
	pre, code { font-family: Menlo, monospace; font-size: .9em; background: #f4f4f4; }
	footer { margin-top: 2em; font-size: .75em; color: #888; }
</style>
</head>
<body>
<header>
	<div class="subject">{{.Subject}}</div>
	<h1>{{.Title}}</h1>
</header>
<nav>
	<ol>
	{{- range .Articles}}
		<li>{{.Title}}</li>
	{{- end}}
	</ol>
</nav>
{{- range .Articles}}
<article>
	<h1 class="title">{{.Title}}</h1>
	{{.BodyHTML}}
</article>
{{- end}}
<footer>Exported {{formatDate .GeneratedAt "2006-01-02 15:04 MST"}}</footer>
</body>
</html>
`

var topicTemplate = template.Must(template.New("topic").Funcs(template.FuncMap{
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
}).Parse(topicTemplateText))

type TemplateData struct {
	Subject     string
	Title       string
	Articles    []TemplateArticle
	GeneratedAt time.Time
}

type TemplateArticle struct {
	Title    string
	BodyHTML template.HTML
}

// RenderTopicHTML renders the printable document for a topic.
func RenderTopicHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := topicTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
