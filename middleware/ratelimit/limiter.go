package ratelimit

import (
	"innerhue-gateway/middleware/ratelimit/application"
	"innerhue-gateway/middleware/ratelimit/infra"
)

// NewLimiter monta um Limiter com cache LRU+TTL próprio.
// Cada chamada cria estado independente: use uma instância por grupo de rotas.
func NewLimiter(name string, cfg application.Config, opts ...application.LimiterOption) *application.Limiter {
	cfg = cfg.Normalize()
	cache := infra.NewRecordCache(cfg.Capacity, infra.TTLFor(cfg.Window))

	opts = append([]application.LimiterOption{application.WithName(name)}, opts...)
	return application.NewLimiter(cfg, cache, opts...)
}
