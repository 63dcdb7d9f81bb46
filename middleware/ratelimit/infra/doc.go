// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RecordCache: cache LRU com TTL por entrada (hashicorp/golang-lru/v2/expirable)
//   - ChanPool: semáforo simples para limite de concorrência
//   - MemoryStatsStore, RedisStatsStore, PrometheusStats: destinos de estatísticas
package infra
