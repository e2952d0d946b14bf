package server

import (
	"embed"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

//go:embed static/*
var staticFiles embed.FS

func StaticFilesFS() fs.FS {
	subFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		panic("Failed to create sub filesystem: " + err.Error())
	}
	return subFS
}

func StreamFile(w http.ResponseWriter, _ *http.Request, fileName string) error {
	data, err := fs.ReadFile(StaticFilesFS(), fileName)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", fileName, err)
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	ctype := mime.TypeByExtension(ext)
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}
	if strings.HasPrefix(ctype, "text/") && !strings.Contains(strings.ToLower(ctype), "charset=") {
		ctype += "; charset=utf-8"
	}
	w.Header().Set("Content-Type", ctype)
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write %s content: %w", fileName, err)
	}
	return nil
}
