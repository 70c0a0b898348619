package web

import (
	"net/http"

	"github.com/paulmach/orb"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
)

type selectionView struct {
	Mode     string   `json:"mode"`
	Selected []string `json:"selected"`
}

func (s *Server) selection() selectionView {
	return selectionView{Mode: s.session.Mode().String(), Selected: s.session.Selection()}
}

func (s *Server) handleGetSelection(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.selection())
}

// handleStartMode enters one of the selection modes, discarding any previous
// selection.
func (s *Server) handleStartMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode      string `json:"mode"`
		Region    string `json:"region"`
		ClusterID int    `json:"clusterId"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	switch req.Mode {
	case "creating-region":
		s.session.StartCreateRegion(req.Region)
	case "creating-cluster":
		s.session.StartCreateCluster(req.Region)
	case "selecting-households":
		s.session.StartSelectHouseholds(req.Region, req.ClusterID)
	case "selecting-clusters":
		s.session.StartSelectClusters(req.Region)
	default:
		s.writeError(w, r, &domain.ValidationError{Messages: []string{"unknown mode " + req.Mode}})
		return
	}
	s.writeJSON(w, http.StatusOK, s.selection())
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if _, err := s.session.Toggle(req.ID); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.selection())
}

// handleSelectRect adds everything inside a dragged rectangle to the
// selection.
func (s *Server) handleSelectRect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		South float64 `json:"south"`
		West  float64 `json:"west"`
		North float64 `json:"north"`
		East  float64 `json:"east"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	bound := orb.MultiPoint{{req.West, req.South}, {req.East, req.North}}.Bound()
	if _, err := s.session.SelectWithin(bound); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.selection())
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	res, err := s.session.Apply(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	s.session.Cancel()
	s.writeJSON(w, http.StatusOK, s.selection())
}
