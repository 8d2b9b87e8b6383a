package handlers

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/matrixji/beast-examples/internal/server"
	"github.com/rs/zerolog"
)

var mimeTypes = map[string]string{
	".htm":  "text/html",
	".html": "text/html",
	".css":  "text/css",
	".txt":  "text/plain",
	".js":   "application/javascript",
	".json": "application/json",
	".xml":  "application/xml",
	".png":  "image/png",
	".jpe":  "image/jpeg",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".ico":  "image/vnd.microsoft.icon",
	".tiff": "image/tiff",
	".tif":  "image/tiff",
	".svg":  "image/svg+xml",
	".svgz": "image/svg+xml",
}

// MimeType returns the content type for path by its extension.
func MimeType(path string) string {
	if t, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return t
	}
	return "application/data"
}

// Static serves files below a document root. It is meant to be the
// catch-all route.
type Static struct {
	root string
}

// NewStatic creates a handler serving files below root.
func NewStatic(root string) *Static {
	return &Static{root: root}
}

// ServeRequest answers GET and HEAD with the file named by the request
// path. A trailing slash or a directory resolves to its index.html.
func (s *Static) ServeRequest(req *server.Request, q server.Queue) {
	if req.Method != http.MethodGet && req.Method != http.MethodHead {
		q.Enqueue(htmlResponse(req, http.StatusBadRequest, "Unsupported method."))
		return
	}
	if !strings.HasPrefix(req.Target, "/") || strings.Contains(req.Target, "..") || strings.Contains(req.Path, "..") {
		q.Enqueue(htmlResponse(req, http.StatusBadRequest, "Illegal request-target"))
		return
	}

	path := filepath.Join(s.root, filepath.FromSlash(req.Path))
	if strings.HasSuffix(req.Path, "/") {
		path = filepath.Join(path, "index.html")
	}
	for isDir(path) {
		path = filepath.Join(path, "index.html")
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			q.Enqueue(htmlResponse(req, http.StatusNotFound, "The resource '"+req.Target+"' was not found."))
			return
		}
		zerolog.Ctx(req.Context()).Error().Err(err).Str("path", path).Msg("open file failed")
		q.Enqueue(htmlResponse(req, http.StatusInternalServerError, "An error occurred: '"+err.Error()+"'"))
		return
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		q.Enqueue(htmlResponse(req, http.StatusInternalServerError, "An error occurred: '"+err.Error()+"'"))
		return
	}

	resp := server.NewResponse(req, http.StatusOK)
	resp.SetStream(MimeType(path), f, info.Size())
	q.Enqueue(resp)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func htmlResponse(req *server.Request, status int, body string) *server.Response {
	resp := server.NewResponse(req, status)
	resp.SetBody("text/html", []byte(body))
	return resp
}
