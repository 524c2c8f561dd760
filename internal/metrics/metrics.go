package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streetlight_http_requests_total",
		Help: "Total HTTP requests by route and status class",
	}, []string{"route", "code"})
	RequestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streetlight_http_request_duration_ms",
		Help:    "HTTP request duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"route"})
	MutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streetlight_mutations_total",
		Help: "Total reconcile mutations by action and outcome kind",
	}, []string{"action", "kind"})
	MutationDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streetlight_mutation_duration_ms",
		Help:    "Reconcile mutation duration in milliseconds (lock wait included)",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000, 30000},
	}, []string{"action"})
	LockWaitMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "streetlight_lock_wait_ms",
		Help:    "Time spent waiting for the single-writer lock",
		Buckets: []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 30000},
	})
	LockTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streetlight_lock_timeouts_total",
		Help: "Total mutations rejected because the lock could not be acquired",
	})
	VillageResolveTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streetlight_village_resolve_total",
		Help: "Village resolutions by source (hit, fallback, cache)",
	}, []string{"source"})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streetlight_redis_hits_total",
		Help: "Total redis cache hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streetlight_redis_misses_total",
		Help: "Total redis cache misses",
	})
	EventsPublishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streetlight_events_published_total",
		Help: "Mutation events delivered by sink and status",
	}, []string{"sink", "status"})
	AttachmentUploadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "streetlight_attachment_uploads_total",
		Help: "Attachment uploads by status",
	}, []string{"status"})
	DependencyUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "streetlight_dependency_up",
		Help: "Dependency check status (1 up, 0 down)",
	}, []string{"dependency"})
	DependencyCheckMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "streetlight_dependency_check_duration_ms",
		Help:    "Dependency check duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000},
	}, []string{"dependency"})
	RowsImportedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "streetlight_seed_rows_imported_total",
		Help: "Total light rows imported from the seed source",
	})
)

func init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(RequestDurationMs)
	prometheus.MustRegister(MutationsTotal)
	prometheus.MustRegister(MutationDurationMs)
	prometheus.MustRegister(LockWaitMs)
	prometheus.MustRegister(LockTimeoutsTotal)
	prometheus.MustRegister(VillageResolveTotal)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(AttachmentUploadsTotal)
	prometheus.MustRegister(DependencyUp)
	prometheus.MustRegister(DependencyCheckMs)
	prometheus.MustRegister(RowsImportedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
