package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	MutationsTotal   *prometheus.CounterVec
	RollbacksTotal   *prometheus.CounterVec
	CatalogRefreshes prometheus.Counter
	ProviderCalls    *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	HTTPRequests     *prometheus.CounterVec
	RateLimited      prometheus.Counter
}

var (
	once   sync.Once
	global *Metrics
)

func Global() *Metrics {
	once.Do(func() {
		global = &Metrics{
			MutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "chat_mutations_total",
				Help:      "Total optimistic chat mutations attempted",
			}, []string{"op"}),
			RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "chat_rollbacks_total",
				Help:      "Total optimistic mutations rolled back after remote failure",
			}, []string{"op"}),
			CatalogRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "catalog_refreshes_total",
				Help:      "Total model catalog cache recomputations",
			}),
			ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "provider_calls_total",
				Help:      "Total completion calls per provider",
			}, []string{"provider"}),
			ProviderErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "provider_errors_total",
				Help:      "Total failed completion calls per provider",
			}, []string{"provider"}),
			HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests by route and status",
			}, []string{"route", "status"}),
			RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tenai",
				Name:      "rate_limited_total",
				Help:      "Total message sends rejected by the rate limiter",
			}),
		}
		prometheus.MustRegister(
			global.MutationsTotal,
			global.RollbacksTotal,
			global.CatalogRefreshes,
			global.ProviderCalls,
			global.ProviderErrors,
			global.HTTPRequests,
			global.RateLimited,
		)
	})
	return global
}
