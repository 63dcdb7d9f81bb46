package infra

import (
	"context"
	"sync"

	"innerhue-gateway/middleware/ratelimit/domain"
)

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

func (c *Counters) add(allowed bool) {
	if allowed {
		c.Allowed++
		return
	}
	c.Denied++
}

// MemoryStatsStore acumula contadores em memória.
// Não faz expiração; serve para o endpoint de diagnóstico e para testes.
type MemoryStatsStore struct {
	mu        sync.Mutex
	total     Counters
	byRoute   map[string]Counters
	byLimiter map[string]Counters
	byKey     map[string]Counters

	trackKeys bool
}

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		byRoute:   make(map[string]Counters),
		byLimiter: make(map[string]Counters),
		byKey:     make(map[string]Counters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	route := ev.Method + " " + ev.Path

	s.mu.Lock()
	defer s.mu.Unlock()

	s.total.add(ev.Allowed)
	bump(s.byRoute, route, ev.Allowed)
	if ev.Limiter != "" {
		bump(s.byLimiter, ev.Limiter, ev.Allowed)
	}
	if s.trackKeys {
		bump(s.byKey, string(ev.Key), ev.Allowed)
	}
	return nil
}

func bump(m map[string]Counters, k string, allowed bool) {
	c := m[k]
	c.add(allowed)
	m[k] = c
}

func (s *MemoryStatsStore) Total() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *MemoryStatsStore) ByRoute() map[string]Counters   { return s.snapshot(s.byRoute) }
func (s *MemoryStatsStore) ByLimiter() map[string]Counters { return s.snapshot(s.byLimiter) }
func (s *MemoryStatsStore) ByKey() map[string]Counters     { return s.snapshot(s.byKey) }

func (s *MemoryStatsStore) snapshot(src map[string]Counters) map[string]Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Counters, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
