package infra

import (
	"context"

	"innerhue-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusStats expõe as decisões do rate limit como métricas.
// Key não vira label (cardinalidade).
type PrometheusStats struct {
	Decisions *prometheus.CounterVec
	Remaining *prometheus.HistogramVec
}

// NewPrometheusStats cria e registra as métricas no registry informado.
func NewPrometheusStats(reg prometheus.Registerer) *PrometheusStats {
	return &PrometheusStats{
		Decisions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "innerhue",
				Subsystem: "ratelimit",
				Name:      "decisions_total",
				Help:      "Total rate limit decisions",
			},
			[]string{"limiter", "result"}, // result=allowed/denied
		),
		Remaining: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "innerhue",
				Subsystem: "ratelimit",
				Name:      "remaining_quota",
				Help:      "Remaining quota observed after each admitted request",
				Buckets:   []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"limiter"},
		),
	}
}

func (p *PrometheusStats) Record(_ context.Context, ev domain.StatsEvent) error {
	result := "denied"
	if ev.Allowed {
		result = "allowed"
		p.Remaining.WithLabelValues(ev.Limiter).Observe(float64(ev.Remaining))
	}
	p.Decisions.WithLabelValues(ev.Limiter, result).Inc()
	return nil
}
