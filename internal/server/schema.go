package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/wesm/dashai/internal/db"
	"github.com/wesm/dashai/internal/logging"
	"github.com/wesm/dashai/internal/metrics"
)

// schemaDiagramFile is served from the static dir.
const schemaDiagramFile = "schema.png"

func (s *Server) handleSchema(
	w http.ResponseWriter, r *http.Request,
) {
	schema, err := s.cachedSchema(r)
	if err != nil {
		if handleContextError(w, err) {
			return
		}
		logging.Ctx(r.Context()).Error().Err(err).
			Msg("schema query failed")
		writeError(w, http.StatusInternalServerError,
			"internal server error")
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

// cachedSchema returns the cached table info, loading it on first
// use. Failures are not cached.
func (s *Server) cachedSchema(
	r *http.Request,
) (map[string][]db.Column, error) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if s.schema != nil {
		return s.schema, nil
	}
	schema, err := s.db.GetSchema(r.Context())
	if err != nil {
		return nil, err
	}
	s.schema = schema
	return schema, nil
}

// InvalidateSchema drops the cached schema. The database watcher
// calls it when the loader rewrites the file.
func (s *Server) InvalidateSchema() {
	s.schemaMu.Lock()
	s.schema = nil
	s.schemaMu.Unlock()
	metrics.SchemaCacheInvalidations.Inc()
}

func (s *Server) handleSchemaDiagram(
	w http.ResponseWriter, r *http.Request,
) {
	path := filepath.Join(s.cfg.Server.StaticDir, schemaDiagramFile)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			logging.Ctx(r.Context()).Warn().Err(err).
				Str("path", path).Msg("schema diagram")
		}
		writeError(w, http.StatusNotFound,
			"schema diagram not found")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	http.ServeFile(w, r, path)
}
