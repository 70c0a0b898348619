package web

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/csvio"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

const maxCSVSize = 10 << 20

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Store().Stats())
}

// filtersFromQuery reads resource filters from the query string, e.g.
// ?specialNeeds=yes&medicalSkills=nurse,doctor. Without any filter
// parameters the stored filters apply.
func (s *Server) filtersFromQuery(r *http.Request) domain.Filters {
	q := r.URL.Query()
	f := domain.Filters{Tags: make(map[domain.ResourceCategory][]string)}
	given := false
	if v, ok := q["specialNeeds"]; ok {
		f.SpecialNeeds = csvio.ParseBoolean(v[0])
		given = true
	}
	for _, c := range domain.ResourceCategories {
		if v := q.Get(string(c)); v != "" {
			f.Tags[c] = domain.SplitTags(v)
			given = true
		}
	}
	if !given {
		return s.service.Store().Filters()
	}
	return f
}

func (s *Server) handleMarkers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Markers(s.filtersFromQuery(r)))
}

func (s *Server) handleBoundaries(w http.ResponseWriter, r *http.Request) {
	if csvio.ParseBoolean(r.URL.Query().Get("refresh")) {
		s.service.RefreshBoundaries()
	}
	w.Header().Set("Content-Type", "application/geo+json")
	s.writeJSON(w, http.StatusOK, s.service.BoundariesGeoJSON())
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.service.Store().Resources())
}

func (s *Server) handleSetFilters(w http.ResponseWriter, r *http.Request) {
	var f domain.Filters
	if err := decodeJSON(r, &f); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.service.Store().SetFilters(f)
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleSetHighlight(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []string `json:"ids"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.service.Store().SetHighlighted(req.IDs)
	s.writeJSON(w, http.StatusOK, map[string][]string{"ids": s.service.Store().Highlighted()})
}

func (s *Server) handleListHouseholds(w http.ResponseWriter, r *http.Request) {
	st := s.service.Store()
	q := r.URL.Query()
	if region, ok := q["region"]; ok {
		cluster, err := parseClusterID(q.Get("cluster"))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, nonNil(st.HouseholdsIn(region[0], cluster)))
		return
	}
	s.writeJSON(w, http.StatusOK, nonNil(st.Households()))
}

func (s *Server) handleGetHousehold(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h := s.service.Store().Household(id)
	if h == nil {
		s.writeError(w, r, &domain.NotFoundError{Kind: "household", ID: id})
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleCreateHousehold(w http.ResponseWriter, r *http.Request) {
	var in domain.Household
	if err := decodeJSON(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.service.Store().AddHousehold(in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, h)
}

func (s *Server) handleUpdateHousehold(w http.ResponseWriter, r *http.Request) {
	var patch domain.HouseholdPatch
	if err := decodeJSON(r, &patch); err != nil {
		s.writeError(w, r, err)
		return
	}
	h, err := s.service.Store().UpdateHousehold(chi.URLParam(r, "id"), patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeleteHousehold(w http.ResponseWriter, r *http.Request) {
	if _, err := s.service.Store().DeleteHousehold(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListChanges(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.service.Store().Changes()))
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	entry := s.service.Store().UndoLastChange()
	if entry == nil {
		s.writeError(w, r, &domain.NotFoundError{Kind: "change", ID: "last"})
		return
	}
	s.writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Save(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleImport accepts either a multipart form with a "file" field or a raw
// CSV body.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = http.MaxBytesReader(w, r.Body, maxCSVSize)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxCSVSize); err != nil {
			s.writeError(w, r, &domain.ValidationError{Messages: []string{"failed to parse form"}})
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			s.writeError(w, r, &domain.ValidationError{Messages: []string{"csv file required"}})
			return
		}
		defer closeWithLog(file, "import file", s.logger)
		body = file
	}

	res, err := s.service.ImportCSV(r.Context(), body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="households.csv"`)
	if err := s.service.ExportCSV(w); err != nil {
		s.logger.Error("export failed", "error", err)
	}
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
