package web

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/csvio"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
)

// handleTile serves /tiles/{layer}/{z}/{x}/{y}, where y may carry an image
// extension.
func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	y, _, _ := strings.Cut(chi.URLParam(r, "y"), ".")
	c, err := tiles.ParseKey(chi.URLParam(r, "z") + "/" + chi.URLParam(r, "x") + "/" + y)
	if err != nil {
		http.Error(w, "invalid tile coordinates", http.StatusBadRequest)
		return
	}

	tile, err := s.tiles.Tile(r.Context(), chi.URLParam(r, "layer"), c)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			s.logger.Error("tile failed", "path", r.URL.Path, "error", err)
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", tile.MimeType)
	w.Header().Set("Content-Length", strconv.Itoa(len(tile.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Header().Set("X-Tile-Source", tile.Source)
	if _, err := w.Write(tile.Data); err != nil {
		s.logger.Debug("write tile failed", "path", r.URL.Path, "error", err)
	}
}

func (s *Server) handleLayers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"online": s.tiles.Online(),
		"layers": s.tiles.Layers(),
	})
}

// handleMissingReport returns the missing-tile report; ?download=yes serves
// it as a file.
func (s *Server) handleMissingReport(w http.ResponseWriter, r *http.Request) {
	report := s.tiles.Tracker().Report()
	if csvio.ParseBoolean(r.URL.Query().Get("download")) {
		name := "missing-tiles-" + report.Generated.Format("2006-01-02") + ".json"
		w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleClearMissing(w http.ResponseWriter, r *http.Request) {
	if err := s.tiles.Tracker().Clear(r.Context(), r.URL.Query().Get("layer")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRevalidate(w http.ResponseWriter, r *http.Request) {
	n, err := s.tiles.Revalidate(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"cleared": n, "remaining": s.tiles.Tracker().Count()})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	layer, err := s.tiles.Layer(chi.URLParam(r, "layer"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	m, err := tiles.BuildManifest(r.Context(), s.tiles.Store(), layer, time.Now())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, m)
}
