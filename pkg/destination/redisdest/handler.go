package redisdest

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// Handler serves public blobs over HTTP so the URLs returned by Upload
// resolve. Mount it at the path of the configured public base URL.
func (s *Store) Handler(prefix string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		path, err := url.PathUnescape(strings.TrimPrefix(r.URL.EscapedPath(), prefix))
		if err != nil {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		path = strings.TrimPrefix(path, "/")

		obj, err := s.Blob(r.Context(), path)
		if errors.Is(err, ErrNotFound) || (err == nil && !obj.Public) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			s.logger.Error().Err(err).Str("path", path).Msg("Failed to read blob")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		if obj.ContentType != "" {
			w.Header().Set("Content-Type", obj.ContentType)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.Data)
		}
	})
}
