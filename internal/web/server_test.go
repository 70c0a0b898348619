package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/assign"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/db"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/domain"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/service"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/state"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/store"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tiles"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore/local"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/web"
)

const fixtureCSV = `HouseholdName,Latitude,Longitude,MedicalSkills,CommunicationsRegionName,CommunicationsClusterId
Anderson,40.0000,-75.0000,Nurse,Alpha,1
Baker,40.0010,-75.0010,,Alpha,1
Carter,40.0200,-75.0200,,,3
Dixon,40.0300,-75.0300,,,
`

type testEnv struct {
	srv     *httptest.Server
	svc     *service.DirectoryService
	tileDir string
	tiles   *tiles.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()
	database, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	st := state.NewStore(slog.Default())
	svc := service.NewDirectoryService(st, store.NewSnapshotStore(database), service.DefaultBuffers(), slog.Default())
	t.Cleanup(svc.Close)

	tileDir := t.TempDir()
	ts, err := local.NewLocalTileStore(tileDir)
	require.NoError(t, err)
	tracker, err := tiles.NewTracker(ctx, store.NewMissingTileStore(database), slog.Default())
	require.NoError(t, err)
	tileSrv := tiles.NewServer(tiles.DefaultLayers(), ts, nil, tracker, slog.Default())

	session := assign.NewSession(st, svc, slog.Default())
	srv := httptest.NewServer(web.NewServer(svc, session, tileSrv, slog.Default()))
	t.Cleanup(srv.Close)

	_, err = svc.ImportCSV(ctx, strings.NewReader(fixtureCSV))
	require.NoError(t, err)
	return &testEnv{srv: srv, svc: svc, tileDir: tileDir, tiles: tileSrv}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) householdID(t *testing.T, name string) string {
	t.Helper()
	for _, h := range e.svc.Store().Households() {
		if h.Name == name {
			return h.ID
		}
	}
	t.Fatalf("household %s not found", name)
	return ""
}

func TestSecurityHeaders(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
	assert.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
}

func TestStats(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st := decode[domain.Stats](t, resp)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 1, st.Isolated)
	assert.Equal(t, 1, st.Independent)
	assert.Equal(t, 2, st.InRegions)
}

func TestMarkersFilter(t *testing.T) {
	e := newTestEnv(t)

	all := decode[[]service.Marker](t, e.do(t, http.MethodGet, "/api/markers", nil))
	assert.Len(t, all, 4)

	nurses := decode[[]service.Marker](t, e.do(t, http.MethodGet, "/api/markers?medicalSkills=nurse", nil))
	require.Len(t, nurses, 1)
	assert.Equal(t, "Anderson", nurses[0].Name)

	resp := e.do(t, http.MethodPut, "/api/filters", domain.Filters{Tags: map[domain.ResourceCategory][]string{
		domain.ResourceMedicalSkills: {"NURSE"},
	}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	stored := decode[[]service.Marker](t, e.do(t, http.MethodGet, "/api/markers", nil))
	assert.Len(t, stored, 1)
}

func TestBoundariesGeoJSON(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodGet, "/api/boundaries?refresh=yes", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))

	fc := decode[struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type string `json:"type"`
			} `json:"geometry"`
			Properties map[string]any `json:"properties"`
		} `json:"features"`
	}](t, resp)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 3)
	assert.Equal(t, "Polygon", fc.Features[0].Geometry.Type)
	assert.Equal(t, "region", fc.Features[0].Properties["kind"])
	assert.Equal(t, "independent", fc.Features[2].Properties["kind"])
	assert.Equal(t, true, fc.Features[2].Properties["dashed"])
}

func TestHouseholdCRUD(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/households", map[string]any{"name": "Evans", "lat": 40.05, "lon": -75.05})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[domain.Household](t, resp)
	assert.NotEmpty(t, created.ID)

	resp = e.do(t, http.MethodPatch, "/api/households/"+created.ID, map[string]any{"regionName": "Alpha", "clusterId": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[domain.Household](t, resp)
	assert.Equal(t, "Alpha", updated.RegionName)

	resp = e.do(t, http.MethodGet, "/api/households?region=Alpha&cluster=1", nil)
	assert.Len(t, decode[[]domain.Household](t, resp), 3)

	resp = e.do(t, http.MethodDelete, "/api/households/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/api/households/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestErrorStatuses(t *testing.T) {
	e := newTestEnv(t)
	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"invalid household", http.MethodPost, "/api/households", map[string]any{"name": "", "lat": 1, "lon": 1}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/regions", map[string]any{"title": "x"}, http.StatusBadRequest},
		{"missing household", http.MethodPatch, "/api/households/nope", map[string]any{"name": "x"}, http.StatusNotFound},
		{"duplicate region", http.MethodPost, "/api/regions", map[string]any{"name": "Alpha"}, http.StatusConflict},
		{"missing region", http.MethodDelete, "/api/regions/Nowhere", nil, http.StatusNotFound},
		{"bad cluster id", http.MethodDelete, "/api/clusters/x?region=Alpha", nil, http.StatusBadRequest},
		{"apply while idle", http.MethodPost, "/api/selection/apply", nil, http.StatusConflict},
		{"unknown mode", http.MethodPost, "/api/selection/mode", map[string]any{"mode": "dancing"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := e.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestRegionLifecycle(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/regions", map[string]any{"name": ""})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Region 2", decode[domain.Region](t, resp).Name)

	resp = e.do(t, http.MethodPut, "/api/regions/Alpha", map[string]any{"name": "North"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "North", decode[domain.Region](t, resp).Name)

	resp = e.do(t, http.MethodPost, "/api/clusters/reassign", map[string]any{"fromRegion": "", "clusterId": 3, "toRegion": "North"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	g := decode[domain.ClusterGroup](t, resp)
	assert.Equal(t, "North", g.RegionName)
	assert.Equal(t, 2, g.ClusterID)

	resp = e.do(t, http.MethodDelete, "/api/regions/North", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, 4, e.svc.Store().Stats().Total)

	resp = e.do(t, http.MethodPost, "/api/undo", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, e.svc.Store().Region("North"))

	changes := decode[[]domain.ChangeEntry](t, e.do(t, http.MethodGet, "/api/changes", nil))
	assert.Len(t, changes, 3)
}

func TestUndoWithEmptyLog(t *testing.T) {
	e := newTestEnv(t)
	resp := e.do(t, http.MethodPost, "/api/undo", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestBulkAssign(t *testing.T) {
	e := newTestEnv(t)
	ids := []string{e.householdID(t, "Carter"), e.householdID(t, "Dixon")}

	resp := e.do(t, http.MethodPost, "/api/assign", map[string]any{"ids": ids, "region": "Alpha", "clusterId": 1})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, map[string]int{"assigned": 2}, decode[map[string]int](t, resp))
	assert.Zero(t, e.svc.Store().Stats().Isolated)
}

func TestSelectionFlow(t *testing.T) {
	e := newTestEnv(t)

	resp := e.do(t, http.MethodPost, "/api/selection/mode", map[string]any{"mode": "creating-region", "region": "South"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/selection/apply", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/selection/rect", map[string]any{"south": 40.025, "west": -75.035, "north": 40.035, "east": -75.025})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	sel := decode[struct {
		Mode     string   `json:"mode"`
		Selected []string `json:"selected"`
	}](t, resp)
	assert.Equal(t, "creating-region", sel.Mode)
	assert.Equal(t, []string{e.householdID(t, "Dixon")}, sel.Selected)

	resp = e.do(t, http.MethodPost, "/api/selection/toggle", map[string]any{"id": e.householdID(t, "Carter")})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = e.do(t, http.MethodPost, "/api/selection/apply", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[assign.Result](t, resp)
	assert.Equal(t, "South", res.RegionName)
	assert.Equal(t, 1, res.ClusterID)
	assert.Equal(t, 2, res.Assigned)

	assert.Len(t, e.svc.Store().HouseholdsIn("South", 1), 2)
	assert.False(t, e.svc.Dirty())

	resp = e.do(t, http.MethodGet, "/api/selection", nil)
	assert.Equal(t, "idle", decode[map[string]any](t, resp)["mode"])
}

func TestImportExport(t *testing.T) {
	e := newTestEnv(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "households.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("HouseholdName,Latitude,Longitude\nZed,41,-76\n,0,0\nBad,x,1\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(e.srv.URL+"/api/import", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[service.ImportResult](t, resp)
	assert.Equal(t, 1, res.Loaded)
	assert.Len(t, res.Rejected, 1)

	resp = e.do(t, http.MethodGet, "/api/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "households.csv")
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "HouseholdName,Latitude,Longitude,Address,IsIsolated,SpecialNeeds,MedicalSkills,RecoverySkills,RecoveryEquipment,CommunicationSkillsAndEquipment,CommunicationsRegionName,CommunicationsClusterId\nZed,41,-76,,true,,,,,,,\n", string(data))

	resp, err = http.Post(e.srv.URL+"/api/import", "text/csv", strings.NewReader("Nothing,Useful\n"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTiles(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	ts, err := local.NewLocalTileStore(e.tileDir)
	require.NoError(t, err)
	require.NoError(t, ts.Put(ctx, "osm/14/4700/6100.png", strings.NewReader("png")))

	resp := e.do(t, http.MethodGet, "/tiles/osm/14/4700/6100.png", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "local", resp.Header.Get("X-Tile-Source"))

	resp = e.do(t, http.MethodGet, "/tiles/osm/14/1/2.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/tiles/topo/14/1/2.png", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = e.do(t, http.MethodGet, "/tiles/osm/1/9/9.png", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = e.do(t, http.MethodGet, "/api/tiles/missing?download=true", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "missing-tiles-")
	report := decode[tiles.Report](t, resp)
	assert.Equal(t, 1, report.TotalMissing)
	assert.Equal(t, []string{"14/1/2"}, report.Layers["osm"].Tiles)

	require.NoError(t, ts.Put(ctx, "osm/14/1/2.png", strings.NewReader("png")))
	resp = e.do(t, http.MethodPost, "/api/tiles/revalidate", nil)
	assert.Equal(t, map[string]int{"cleared": 1, "remaining": 0}, decode[map[string]int](t, resp))

	resp = e.do(t, http.MethodGet, "/api/tiles/manifest/osm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	m := decode[tiles.Manifest](t, resp)
	assert.Equal(t, 2, m.TileCount)
	assert.Equal(t, []int{14}, m.ZoomLevels)

	resp = e.do(t, http.MethodDelete, "/api/tiles/missing", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	layers := decode[map[string]any](t, e.do(t, http.MethodGet, "/api/tiles/layers", nil))
	assert.Equal(t, false, layers["online"])
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.do(t, http.MethodGet, "/api/stats", nil)

	resp := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), `wardmap_http_requests_total{route="/api/stats",status="200"}`)
}
