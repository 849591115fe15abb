package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"
)

// themeFile is linked from the page when present in the assets directory.
const themeFile = "theme.css"

// assetHandler serves operator-provided files (theme, icons) by base name
// only, so nested paths cannot escape the directory.
type assetHandler struct {
	dir string
}

func newAssetHandler(dir string) *assetHandler {
	if dir == "" {
		return nil
	}
	return &assetHandler{dir: dir}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(r.URL.Path)
	if filename == "." || filename == "/" || !h.has(filename) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, filepath.Join(h.dir, filename))
}

func (h *assetHandler) has(filename string) bool {
	return h != nil && fileExists(filepath.Join(h.dir, filename))
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
