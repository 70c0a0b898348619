package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wardmap_http_requests_total",
		Help: "HTTP requests by route pattern and status code",
	}, []string{"route", "status"})
	HTTPDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wardmap_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	TileRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wardmap_tile_requests_total",
		Help: "Tile requests by layer and result (local, online, missing)",
	}, []string{"layer", "result"})
	TileFetchDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "wardmap_tile_fetch_duration_ms",
		Help:    "Upstream tile fetch duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	MissingTiles = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "wardmap_missing_tiles",
		Help: "Tiles requested but not available offline, by layer",
	}, []string{"layer"})
	StoreEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wardmap_store_events_total",
		Help: "Directory store events by name",
	}, []string{"event"})
	Households = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "wardmap_households",
		Help: "Households in the directory",
	})
	SnapshotSavesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "wardmap_snapshot_saves_total",
		Help: "Directory snapshot saves by status",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPDurationMs)
	prometheus.MustRegister(TileRequestsTotal)
	prometheus.MustRegister(TileFetchDurationMs)
	prometheus.MustRegister(MissingTiles)
	prometheus.MustRegister(StoreEventsTotal)
	prometheus.MustRegister(Households)
	prometheus.MustRegister(SnapshotSavesTotal)
}

// Handler exposes the registered collectors for scraping.
func Handler() http.Handler { return promhttp.Handler() }
