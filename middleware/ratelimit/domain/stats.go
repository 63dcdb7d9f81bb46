package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do rate limit.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	// Limiter é o nome da instância (ex.: "chat", "public").
	Limiter string
	Key     Key
	Allowed bool

	Current   int
	Remaining int

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// O middleware trata erro como best-effort (não derruba o request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
