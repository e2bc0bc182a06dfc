// SPDX-License-Identifier: MIT

package api

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"

	xlog "github.com/anypod/anypod/internal/log"
	"github.com/anypod/anypod/internal/metrics"
	"github.com/anypod/anypod/internal/paths"
)

// secureFileServer serves media, thumbnails, transcripts and cover art
// from the data directory, with checks against path traversal, symlink
// escapes and directory listing. Partially written files are never
// served.
func (s *Server) secureFileServer() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := xlog.FromContext(r.Context())

		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		path := r.URL.Path
		if isPathTraversal(path) {
			metrics.FileRequestsDenied.WithLabelValues("path_escape").Inc()
			logger.Warn().Str("event", "file_req.denied").Str("path", path).
				Str("reason", "path_escape").Msg("detected traversal sequence")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if strings.HasSuffix(path, "/") || path == "" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		if strings.HasSuffix(path, paths.IncompleteSuffix) {
			metrics.FileRequestsDenied.WithLabelValues("incomplete").Inc()
			logger.Warn().Str("event", "file_req.denied").Str("path", path).
				Str("reason", "incomplete").Msg("partial download requested")
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if strings.HasSuffix(path, "/"+paths.FeedXMLName) {
			// The document is served from /feeds, not the media store.
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}

		absDataDir, err := filepath.Abs(s.deps.Paths.DataDir())
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		fullPath := filepath.Join(absDataDir, path)

		realPath, err := filepath.EvalSymlinks(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				http.Error(w, "Not found", http.StatusNotFound)
				return
			}
			logger.Error().Str("event", "file_req.internal_error").Str("path", fullPath).
				Err(err).Msg("could not evaluate symlinks")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		realDataDir, err := filepath.EvalSymlinks(absDataDir)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		relPath, err := filepath.Rel(realDataDir, realPath)
		if err != nil || strings.HasPrefix(relPath, "..") || filepath.IsAbs(relPath) {
			metrics.FileRequestsDenied.WithLabelValues("path_escape").Inc()
			logger.Warn().Str("event", "file_req.denied").Str("path", path).
				Str("resolved_path", realPath).Str("reason", "path_escape").
				Msg("path escapes data directory")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		// #nosec G304 -- realPath is confined to the data directory above
		f, err := os.Open(realPath)
		if err != nil {
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		etag := fmt.Sprintf(`W/"%x-%x"`, info.ModTime().UnixNano(), info.Size())
		w.Header().Set("ETag", etag)
		w.Header().Set("Cache-Control", "public, max-age=3600")
		if match := r.Header.Get("If-None-Match"); match == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	})
}

// isPathTraversal checks for traversal attempts, decoding multiple times
// to catch double encodings and applying Unicode normalization.
func isPathTraversal(p string) bool {
	decoded := p
	for i := 0; i < 3; i++ {
		prev := decoded
		if d, err := url.PathUnescape(decoded); err == nil {
			decoded = d
		} else if d2, err2 := url.QueryUnescape(decoded); err2 == nil {
			decoded = d2
		}
		if decoded == prev {
			break
		}
	}

	lower := strings.ToLower(decoded)
	for _, pat := range []string{"..", "..\\", "%00", "%c0%ae", "%e0%80%ae"} {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	if strings.IndexByte(decoded, 0x00) >= 0 {
		return true
	}

	normalized := strings.ToLower(norm.NFC.String(decoded))
	return strings.Contains(normalized, "..")
}
