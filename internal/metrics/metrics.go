package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_scans_total",
		Help: "Total number of scans by outcome",
	}, []string{"outcome"})
	ScanDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "regions_scan_duration_ms",
		Help:    "Scan duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 5000},
	})
	RegionsCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_created_total",
		Help: "Total regions created",
	})
	RegionCreateConflictsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_create_conflicts_total",
		Help: "Region inserts that lost a race and re-read the winner",
	})
	RegionCreateFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_create_failures_total",
		Help: "Region creations that could not be completed or salvaged",
	})
	ResourcesCreatedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_resources_created_total",
		Help: "Total resources created by population",
	})
	ResourcePopulateFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_resource_populate_failures_total",
		Help: "Resource inserts dropped during population",
	})
	RefreshesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "regions_refresh_total",
		Help: "Region refreshes by outcome",
	}, []string{"outcome"})
	RegionCacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_cache_hits_total",
		Help: "Region cache hits",
	})
	RegionCacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "regions_cache_misses_total",
		Help: "Region cache misses",
	})
)

const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeTimeout     = "timeout"
	OutcomeRegenerated = "regenerated"
	OutcomeTouched     = "touched"
	OutcomeRolledBack  = "rolled_back"
)

func init() {
	prometheus.MustRegister(ScansTotal)
	prometheus.MustRegister(ScanDurationMs)
	prometheus.MustRegister(RegionsCreatedTotal)
	prometheus.MustRegister(RegionCreateConflictsTotal)
	prometheus.MustRegister(RegionCreateFailuresTotal)
	prometheus.MustRegister(ResourcesCreatedTotal)
	prometheus.MustRegister(ResourcePopulateFailuresTotal)
	prometheus.MustRegister(RefreshesTotal)
	prometheus.MustRegister(RegionCacheHitsTotal)
	prometheus.MustRegister(RegionCacheMissesTotal)
}

func Handler() http.Handler {
	return promhttp.Handler()
}
