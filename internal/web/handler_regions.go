package web

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

func (s *Server) handleListRegions(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.service.Store().Regions()))
}

func (s *Server) handleCreateRegion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	region, err := s.service.Store().CreateRegion(req.Name)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, region)
}

func (s *Server) handleRenameRegion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	st := s.service.Store()
	if err := st.RenameRegion(chi.URLParam(r, "name"), req.Name); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st.Region(strings.TrimSpace(req.Name)))
}

func (s *Server) handleDeleteRegion(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Store().DeleteRegion(chi.URLParam(r, "name")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, nonNil(s.service.Store().ClusterGroups()))
}

// handleCreateCluster reserves a cluster id. An empty region creates an
// independent cluster.
func (s *Server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Region string `json:"region"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.service.Store().CreateCluster(req.Region)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, g)
}

// handleDeleteCluster removes the cluster named by the path and the
// ?region= query parameter, which is empty for independent clusters.
func (s *Server) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	id, err := parseClusterID(chi.URLParam(r, "cluster"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.service.Store().DeleteCluster(r.URL.Query().Get("region"), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReassignCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromRegion string `json:"fromRegion"`
		ClusterID  int    `json:"clusterId"`
		ToRegion   string `json:"toRegion"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	g, err := s.service.Store().ReassignClusterToRegion(req.FromRegion, req.ClusterID, req.ToRegion)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, g)
}

func (s *Server) handleBulkAssign(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs       []string `json:"ids"`
		Region    string   `json:"region"`
		ClusterID int      `json:"clusterId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.service.Store().BulkAssign(req.IDs, req.Region, req.ClusterID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"assigned": n})
}

// parseClusterID accepts an empty string as zero.
func parseClusterID(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, &domain.ValidationError{Messages: []string{"invalid cluster id " + strconv.Quote(raw)}}
	}
	return id, nil
}
