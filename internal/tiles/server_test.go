package tiles

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvilburn/EmergencyPrepWebpage/internal/db"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/store"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore"
	"github.com/jvilburn/EmergencyPrepWebpage/internal/tilestore/local"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake")

// tileServer answers tile requests, returning 404 for any path containing
// "missing" and failing the first failFirst requests with a 500.
func tileServer(t *testing.T, failFirst int32) (*httptest.Server, *atomic.Int32, *sync.Map) {
	t.Helper()
	var calls atomic.Int32
	agents := &sync.Map{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		agents.Store(r.Header.Get("User-Agent"), true)
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		if n <= failFirst {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngBytes)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, agents
}

func testLayer(url string) Layer {
	return Layer{Name: "osm", Type: "street", URL: url + "/{z}/{x}/{y}.png", Path: PathZXY, Format: "png", MinZoom: 0, MaxZoom: 16}
}

func newFetcher() *Fetcher {
	return NewFetcher(1000, slog.Default()).WithBackoff(time.Millisecond)
}

func newTracker(t *testing.T) *Tracker {
	t.Helper()
	tr, err := NewTracker(context.Background(), nil, slog.Default())
	require.NoError(t, err)
	return tr
}

func newTileStore(t *testing.T) tilestore.TileStore {
	t.Helper()
	s, err := local.NewLocalTileStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestFetcherSendsUserAgent(t *testing.T) {
	srv, calls, agents := tileServer(t, 0)

	data, err := newFetcher().Fetch(context.Background(), testLayer(srv.URL), Coord{Z: 3, X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, int32(1), calls.Load())
	_, ok := agents.Load(UserAgent)
	assert.True(t, ok)
}

func TestFetcherRetriesServerErrors(t *testing.T) {
	srv, calls, _ := tileServer(t, 2)

	data, err := newFetcher().Fetch(context.Background(), testLayer(srv.URL), Coord{Z: 3, X: 1, Y: 2})
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestFetcherGivesUpAfterAttempts(t *testing.T) {
	srv, calls, _ := tileServer(t, 100)

	_, err := newFetcher().Fetch(context.Background(), testLayer(srv.URL), Coord{Z: 3, X: 1, Y: 2})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTileUnavailable))
	assert.Equal(t, int32(fetchAttempts), calls.Load())
}

func TestFetcherNotFoundIsNotRetried(t *testing.T) {
	srv, calls, _ := tileServer(t, 0)
	layer := testLayer(srv.URL + "/missing")

	_, err := newFetcher().Fetch(context.Background(), layer, Coord{Z: 3, X: 1, Y: 2})
	assert.ErrorIs(t, err, ErrTileUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetcherHonoursContext(t *testing.T) {
	srv, _, _ := tileServer(t, 100)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newFetcher().Fetch(ctx, testLayer(srv.URL), Coord{Z: 3, X: 1, Y: 2})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTrackerReport(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	require.NoError(t, tr.MarkMissing(ctx, "osm", Coord{Z: 14, X: 5, Y: 6}))
	require.NoError(t, tr.MarkMissing(ctx, "osm", Coord{Z: 12, X: 1, Y: 2}))
	require.NoError(t, tr.MarkMissing(ctx, "osm", Coord{Z: 12, X: 1, Y: 2}))
	require.NoError(t, tr.MarkMissing(ctx, "satellite", Coord{Z: 14, X: 5, Y: 6}))

	assert.Equal(t, 3, tr.Count())
	assert.True(t, tr.IsMissing("osm", Coord{Z: 12, X: 1, Y: 2}))

	r := tr.Report()
	assert.Equal(t, fixed, r.Generated)
	assert.Equal(t, 3, r.TotalMissing)
	assert.Equal(t, []int{12, 14}, r.ZoomLevels)
	assert.Equal(t, LayerReport{Count: 2, Tiles: []string{"12/1/2", "14/5/6"}}, r.Layers["osm"])
	assert.Equal(t, 1, r.Layers["satellite"].Count)

	coords := r.Coords()
	assert.Equal(t, []Coord{{Z: 12, X: 1, Y: 2}, {Z: 14, X: 5, Y: 6}}, coords["osm"])

	require.NoError(t, tr.MarkFound(ctx, "osm", Coord{Z: 14, X: 5, Y: 6}))
	assert.Equal(t, 2, tr.Count())

	require.NoError(t, tr.Clear(ctx, "satellite"))
	assert.Equal(t, 1, tr.Count())
	require.NoError(t, tr.Clear(ctx, ""))
	assert.Zero(t, tr.Count())
	assert.Empty(t, tr.Report().ZoomLevels)
}

func TestTrackerPersists(t *testing.T) {
	ctx := context.Background()
	conn, err := db.OpenForTesting()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	repo := store.NewMissingTileStore(conn)

	tr, err := NewTracker(ctx, repo, slog.Default())
	require.NoError(t, err)
	require.NoError(t, tr.MarkMissing(ctx, "osm", Coord{Z: 14, X: 5, Y: 6}))
	require.NoError(t, tr.MarkMissing(ctx, "osm", Coord{Z: 15, X: 10, Y: 12}))
	require.NoError(t, tr.MarkFound(ctx, "osm", Coord{Z: 15, X: 10, Y: 12}))

	reloaded, err := NewTracker(ctx, repo, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []Coord{{Z: 14, X: 5, Y: 6}}, reloaded.Missing("osm"))

	require.NoError(t, reloaded.Clear(ctx, ""))
	rows, err := repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestServerServesLocalTiles(t *testing.T) {
	ctx := context.Background()
	ts := newTileStore(t)
	layer := testLayer("http://unused.invalid")
	c := Coord{Z: 14, X: 4700, Y: 6100}
	require.NoError(t, ts.Put(ctx, layer.StorageKey(c), strings.NewReader("local")))

	s := NewServer([]Layer{layer}, ts, nil, newTracker(t), slog.Default())
	tile, err := s.Tile(ctx, "osm", c)
	require.NoError(t, err)
	assert.Equal(t, "local", string(tile.Data))
	assert.Equal(t, "local", tile.Source)
	assert.Equal(t, "image/png", tile.MimeType)

	ok, err := s.Exists(ctx, "osm", c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServerFetchesAndCachesOnline(t *testing.T) {
	ctx := context.Background()
	srv, calls, _ := tileServer(t, 0)
	ts := newTileStore(t)
	tr := newTracker(t)
	layer := testLayer(srv.URL)
	c := Coord{Z: 14, X: 4700, Y: 6100}
	require.NoError(t, tr.MarkMissing(ctx, "osm", c))

	s := NewServer([]Layer{layer}, ts, newFetcher(), tr, slog.Default())
	assert.True(t, s.Online())

	tile, err := s.Tile(ctx, "osm", c)
	require.NoError(t, err)
	assert.Equal(t, "online", tile.Source)
	assert.Equal(t, pngBytes, tile.Data)
	assert.Zero(t, tr.Count())

	tile, err = s.Tile(ctx, "osm", c)
	require.NoError(t, err)
	assert.Equal(t, "local", tile.Source)
	assert.Equal(t, int32(1), calls.Load())
}

func TestServerRecordsMissingTiles(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := tileServer(t, 0)
	tests := []struct {
		name    string
		fetcher tileFetcher
		url     string
	}{
		{"offline", nil, srv.URL},
		{"upstream 404", newFetcher(), srv.URL + "/missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTracker(t)
			s := NewServer([]Layer{testLayer(tt.url)}, newTileStore(t), tt.fetcher, tr, slog.Default())
			c := Coord{Z: 12, X: 1, Y: 2}

			_, err := s.Tile(ctx, "osm", c)
			assert.ErrorIs(t, err, ErrTileMissing)
			assert.True(t, tr.IsMissing("osm", c))
		})
	}
}

func TestServerRejectsBadRequests(t *testing.T) {
	s := NewServer(DefaultLayers(), newTileStore(t), nil, newTracker(t), slog.Default())

	_, err := s.Tile(context.Background(), "topo", Coord{Z: 1})
	assert.ErrorIs(t, err, ErrUnknownLayer)

	_, err = s.Tile(context.Background(), "osm", Coord{Z: 1, X: 5})
	assert.ErrorIs(t, err, ErrInvalidTile)

	assert.Equal(t, []string{"osm", "satellite"}, []string{s.Layers()[0].Name, s.Layers()[1].Name})
}

func TestServerRevalidate(t *testing.T) {
	ctx := context.Background()
	ts := newTileStore(t)
	tr := newTracker(t)
	layer := testLayer("http://unused.invalid")
	have, lack := Coord{Z: 12, X: 1, Y: 2}, Coord{Z: 12, X: 3, Y: 4}
	require.NoError(t, tr.MarkMissing(ctx, "osm", have))
	require.NoError(t, tr.MarkMissing(ctx, "osm", lack))
	require.NoError(t, ts.Put(ctx, layer.StorageKey(have), strings.NewReader("x")))

	s := NewServer([]Layer{layer}, ts, nil, tr, slog.Default())
	n, err := s.Revalidate(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []Coord{lack}, tr.Missing("osm"))
}

func TestDownloader(t *testing.T) {
	ctx := context.Background()
	srv, _, _ := tileServer(t, 0)
	ts := newTileStore(t)
	tr := newTracker(t)
	layer := testLayer(srv.URL)
	layer.MaxZoom = 14

	existing := Coord{Z: 12, X: 1, Y: 2}
	fresh := Coord{Z: 12, X: 3, Y: 4}
	tooDeep := Coord{Z: 15, X: 1, Y: 1}
	require.NoError(t, ts.Put(ctx, layer.StorageKey(existing), strings.NewReader("x")))
	require.NoError(t, tr.MarkMissing(ctx, "osm", fresh))

	var calls []int
	d := NewDownloader(ts, newFetcher(), tr, slog.Default())
	stats, err := d.Download(ctx, layer, []Coord{existing, fresh, tooDeep}, func(done, total int, _ DownloadStats) {
		assert.Equal(t, 3, total)
		calls = append(calls, done)
	})
	require.NoError(t, err)
	assert.Equal(t, DownloadStats{Downloaded: 1, Skipped: 2}, stats)
	assert.Equal(t, 3, stats.Total())
	assert.Equal(t, []int{1, 2, 3}, calls)
	assert.Zero(t, tr.Count())

	ok, err := ts.Exists(ctx, layer.StorageKey(fresh))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDownloaderCountsUnavailable(t *testing.T) {
	srv, _, _ := tileServer(t, 0)
	layer := testLayer(srv.URL + "/missing")

	d := NewDownloader(newTileStore(t), newFetcher(), nil, slog.Default())
	stats, err := d.Download(context.Background(), layer, []Coord{{Z: 3, X: 1, Y: 1}}, nil)
	require.NoError(t, err)
	assert.Equal(t, DownloadStats{Unavailable: 1}, stats)
}

func TestBuildManifest(t *testing.T) {
	ctx := context.Background()
	ts := newTileStore(t)
	sat := DefaultLayers()[1]
	for _, c := range []Coord{{Z: 14, X: 10, Y: 20}, {Z: 12, X: 3, Y: 4}} {
		require.NoError(t, ts.Put(ctx, sat.StorageKey(c), strings.NewReader("x")))
	}
	require.NoError(t, ts.Put(ctx, "satellite/readme.txt", strings.NewReader("x")))
	require.NoError(t, ts.Put(ctx, "osm/1/1/1.png", strings.NewReader("x")))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m, err := BuildManifest(ctx, ts, sat, now)
	require.NoError(t, err)
	assert.Equal(t, &Manifest{
		Name:       "satellite",
		Type:       "satellite",
		Format:     "png",
		TileCount:  2,
		Tiles:      []string{"12/3/4", "14/10/20"},
		ZoomLevels: []int{12, 14},
		Generated:  now,
	}, m)

	empty, err := BuildManifest(ctx, newTileStore(t), sat, now)
	require.NoError(t, err)
	assert.Zero(t, empty.TileCount)
	assert.Equal(t, []int{}, empty.ZoomLevels)
}
