package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/yegors/stationmap/pkg/logger"
)

// StaticFileHandler serves files from a directory, typically the rendered maps
type StaticFileHandler struct {
	staticDir string
	logger    *logger.Logger
}

// NewStaticFileHandler creates a new static file handler
func NewStaticFileHandler(staticDir string, log *logger.Logger) *StaticFileHandler {
	return &StaticFileHandler{
		staticDir: staticDir,
		logger:    log.Named("static-handler"),
	}
}

// ServeHTTP serves one file without caching so re-rendered maps show up immediately
func (h *StaticFileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	fullPath, status := h.resolve(r.URL.Path)
	if status != http.StatusOK {
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")

	h.logger.Debug("Serving static file",
		logger.String("requested_path", r.URL.Path),
		logger.String("file_path", fullPath))

	http.ServeFile(w, r, fullPath)
}

// resolve maps a URL path onto a file inside staticDir
func (h *StaticFileHandler) resolve(urlPath string) (string, int) {
	rel := strings.TrimPrefix(filepath.Clean("/"+urlPath), string(filepath.Separator))
	if rel == "" {
		rel = "index.html"
	}

	absStaticDir, err := filepath.Abs(h.staticDir)
	if err != nil {
		h.logger.Error("Failed to get absolute path for static directory", logger.Error(err))
		return "", http.StatusInternalServerError
	}

	fullPath := filepath.Join(absStaticDir, rel)
	if fullPath != absStaticDir && !strings.HasPrefix(fullPath, absStaticDir+string(filepath.Separator)) {
		h.logger.Warn("Attempted directory traversal",
			logger.String("requested_path", urlPath),
			logger.String("static_dir", absStaticDir))
		return "", http.StatusForbidden
	}

	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", http.StatusNotFound
		}
		h.logger.Error("Failed to stat file", logger.Error(err), logger.String("path", fullPath))
		return "", http.StatusInternalServerError
	}

	if info.IsDir() {
		index := filepath.Join(fullPath, "index.html")
		if _, err := os.Stat(index); err != nil {
			// No directory listings
			return "", http.StatusForbidden
		}
		fullPath = index
	}

	return fullPath, http.StatusOK
}
