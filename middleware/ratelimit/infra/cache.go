package infra

import (
	"time"

	"innerhue-gateway/middleware/ratelimit/domain"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const DefaultCacheSize = 500

// RecordCache guarda o Record de cada chave com despejo LRU e TTL por entrada.
//
// Get atualiza a recência. Put reinicia o TTL da entrada.
// A limpeza de entradas expiradas roda numa goroutine da lib que vive até o fim do processo,
// então crie um cache por limiter e não um por request.
type RecordCache struct {
	lru      *expirable.LRU[domain.Key, domain.Record]
	capacity int
}

var _ domain.RecordCache = (*RecordCache)(nil)

// NewRecordCache cria o cache. capacity <= 0 usa DefaultCacheSize.
func NewRecordCache(capacity int, ttl time.Duration) *RecordCache {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &RecordCache{
		lru:      expirable.NewLRU[domain.Key, domain.Record](capacity, nil, ttl),
		capacity: capacity,
	}
}

// TTLFor retorna um TTL um pouco maior que a janela, para que a entrada
// sobreviva até o reset mesmo com pequenas diferenças de relógio.
func TTLFor(window time.Duration) time.Duration {
	margin := window / 10
	if margin < time.Second {
		margin = time.Second
	}
	return window + margin
}

func (c *RecordCache) Get(key domain.Key) (domain.Record, bool) { return c.lru.Get(key) }

func (c *RecordCache) Put(key domain.Key, rec domain.Record) { c.lru.Add(key, rec) }

func (c *RecordCache) Remove(key domain.Key) { c.lru.Remove(key) }

func (c *RecordCache) Purge() { c.lru.Purge() }

func (c *RecordCache) Len() int { return c.lru.Len() }

func (c *RecordCache) Cap() int { return c.capacity }
