package server

import (
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/url"

	"github.com/jrsteele09/neuroscan-portal/internal/utils"
)

//go:embed templates/*
var templateFiles embed.FS

const baseTemplate = "base.html"

var pageTemplates = []string{
	"login.html",
	"mfa.html",
	"landing.html",
	"upload.html",
	"history.html",
	"results.html",
	"not_found.html",
	"loading.html",
}

var templateFuncs = template.FuncMap{
	"predictionLabel": predictionLabel,
	"scanPath": func(id string) string {
		return "/results/" + url.PathEscape(id)
	},
	"intValue": utils.Value[int],
}

func TemplateFilesFS() fs.FS {
	subFS, err := fs.Sub(templateFiles, "templates")
	if err != nil {
		panic("Failed to create templates sub filesystem: " + err.Error())
	}
	return subFS
}

// ParseTemplate parses a page together with the shared layout
func ParseTemplate(name string) (*template.Template, error) {
	return template.New(name).Funcs(templateFuncs).ParseFS(TemplateFilesFS(), baseTemplate, name)
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageTemplates))
	for _, name := range pageTemplates {
		tmpl, err := ParseTemplate(name)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", name, err)
		}
		pages[name] = tmpl
	}
	return pages, nil
}
