package server

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
)

func readIndex(dir string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(dir, "index.html"))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	return data, nil
}

// spa serves a static file when one exists at the request path and the
// app's index.html for every other route.
func (s *Server) spa(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := path.Clean("/" + r.URL.Path)
	if name != "/" {
		file := filepath.Join(s.cfg.StaticDir, filepath.FromSlash(name))
		if info, err := os.Stat(file); err == nil && !info.IsDir() {
			http.ServeFile(w, r, file)
			return
		}
	}
	s.serveIndex(w, r)
}

func (s *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	data, err := readIndex(s.cfg.StaticDir)
	if err != nil {
		s.logger.Error("serve index", "error", err)
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}
