package application

import (
	"sync"
	"time"

	"innerhue-gateway/middleware/ratelimit/domain"
)

const (
	DefaultMaxRequests = 100
	DefaultWindow      = 15 * time.Minute
)

// Config é imutável depois de NewLimiter.
type Config struct {
	MaxRequests  int
	Window       time.Duration
	KeyGenerator domain.KeyGenerator
	// Capacity é o número máximo de chaves no cache (LRU).
	// Lido por quem constrói o cache (ratelimit.NewLimiter), não pelo Limiter.
	Capacity int
}

// Normalize troca valores inválidos pelos defaults.
func (c Config) Normalize() Config {
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.KeyGenerator == nil {
		c.KeyGenerator = DefaultKeyGenerator
	}
	return c
}

// ChatConfig é o preset restrito das rotas de chat: 30 requisições por minuto.
func ChatConfig() Config {
	return Config{MaxRequests: 30, Window: time.Minute}
}

// PublicConfig é o preset das rotas públicas de leitura: 100 requisições a cada 15 minutos.
func PublicConfig() Config {
	return Config{MaxRequests: DefaultMaxRequests, Window: DefaultWindow}
}

// Limiter é um contador de janela fixa por chave de cliente.
//
// Cada instância tem seu próprio cache; instâncias nunca compartilham estado.
// Valores inválidos de configuração são trocados por defaults, sem erro.
type Limiter struct {
	name   string
	max    int
	window time.Duration
	keyGen domain.KeyGenerator
	now    func() time.Time

	mu    sync.Mutex
	cache domain.RecordCache
}

type LimiterOption func(*Limiter)

// WithClock troca o relógio (testes).
func WithClock(now func() time.Time) LimiterOption {
	return func(l *Limiter) { l.now = now }
}

// WithName identifica a instância em logs e estatísticas.
func WithName(name string) LimiterOption {
	return func(l *Limiter) { l.name = name }
}

// NewLimiter cria o limiter sobre o cache informado.
// O cache deve ser exclusivo desta instância.
func NewLimiter(cfg Config, cache domain.RecordCache, opts ...LimiterOption) *Limiter {
	cfg = cfg.Normalize()

	l := &Limiter{
		name:   "default",
		max:    cfg.MaxRequests,
		window: cfg.Window,
		keyGen: cfg.KeyGenerator,
		now:    time.Now,
		cache:  cache,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// IsAllowed conta a requisição e decide se ela passa.
//
// Não é idempotente: cada chamada consome uma unidade da quota, mesmo quando negada.
// Chame exatamente uma vez por requisição.
func (l *Limiter) IsAllowed(h domain.Headers) domain.Result {
	return l.Check(l.keyGen(h))
}

// Check é IsAllowed com a chave já calculada.
func (l *Limiter) Check(key domain.Key) domain.Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	rec, ok := l.cache.Get(key)
	if !ok || rec.Expired(now) {
		rec = domain.Record{Count: 1, ResetAt: now.Add(l.window)}
	} else {
		rec.Count++
	}
	l.cache.Put(key, rec)

	remaining := l.max - rec.Count
	if remaining < 0 {
		remaining = 0
	}
	return domain.Result{
		Allowed:   rec.Count <= l.max,
		Current:   rec.Count,
		Limit:     l.max,
		Remaining: remaining,
		ResetAt:   rec.ResetAt,
	}
}

// Reset apaga a janela das chaves informadas. Sem chaves, apaga todas.
func (l *Limiter) Reset(keys ...domain.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(keys) == 0 {
		l.cache.Purge()
		return
	}
	for _, k := range keys {
		l.cache.Remove(k)
	}
}

func (l *Limiter) Stats() domain.Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.Stats{
		Size:     l.cache.Len(),
		Capacity: l.cache.Cap(),
		Limit:    l.max,
		Window:   l.window,
	}
}

// Key aplica o gerador de chave configurado.
func (l *Limiter) Key(h domain.Headers) domain.Key { return l.keyGen(h) }

func (l *Limiter) Name() string          { return l.name }
func (l *Limiter) Limit() int            { return l.max }
func (l *Limiter) Window() time.Duration { return l.window }
func (l *Limiter) Now() time.Time        { return l.now() }
