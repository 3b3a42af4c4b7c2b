// Copyright (c) 2025 Northbound System
// Author: Nicholas Skitch
package server

import (
	"bytes"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
)

//go:embed web/*
var webFS embed.FS

// StaticHandler serves the app shell from staticDir, or from the embedded
// shell when staticDir is empty or missing. Unknown paths get index.html.
// Every asset answers 200 directly, without the redirects http.FileServer
// issues for index.html, so the agent can cache them.
func StaticHandler(staticDir string) http.Handler {
	var root fs.FS
	if staticDir != "" {
		if info, err := os.Stat(staticDir); err == nil && info.IsDir() {
			abs, _ := filepath.Abs(staticDir)
			root = os.DirFS(abs)
		}
	}
	if root == nil {
		root, _ = fs.Sub(webFS, "web")
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowed(w)
			return
		}

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			name = "index.html"
		}
		data, err := fs.ReadFile(root, name)
		if err != nil {
			name = "index.html"
			if data, err = fs.ReadFile(root, name); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	})
}
