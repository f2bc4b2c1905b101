package web

import (
	"embed"
	"html/template"
)

//go:embed templates/*.html
var files embed.FS

// Templates 解析内嵌的页面模板
func Templates() (*template.Template, error) {
	return template.New("").ParseFS(files, "templates/*.html")
}

func MustTemplates() *template.Template {
	return template.Must(Templates())
}
