package domain

// Camada de domínio do rate limit (janela fixa).
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import "time"

type Key string

// Headers é a capacidade mínima que o gerador de chave precisa: ler um header.
// Retorna "" quando o header não existe. http.Header já satisfaz a interface.
type Headers interface {
	Get(name string) string
}

// KeyGenerator mapeia uma requisição (apenas seus headers) para a chave do cliente.
type KeyGenerator func(h Headers) Key

// Record é o estado de um cliente na janela atual.
type Record struct {
	// Count começa em 1 na criação da janela e incrementa a cada checagem,
	// inclusive as que forem negadas.
	Count int
	// ResetAt é o instante em que a janela expira.
	ResetAt time.Time
}

// Expired reporta se a janela já passou. now == ResetAt ainda pertence à janela atual.
func (r Record) Expired(now time.Time) bool {
	return now.After(r.ResetAt)
}

// RecordCache é um mapa limitado chave -> Record.
//
// A implementação deve expulsar a entrada menos usada recentemente quando cheia,
// expirar entradas por TTL e atualizar a recência em Get.
type RecordCache interface {
	Get(key Key) (Record, bool)
	Put(key Key, rec Record)
	Remove(key Key)
	Purge()
	Len() int
	Cap() int
}

// Result é o resultado de uma checagem de quota.
type Result struct {
	Allowed   bool
	Current   int
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// ResetMillis retorna ResetAt em epoch milissegundos (valor de X-RateLimit-Reset).
func (r Result) ResetMillis() int64 {
	return r.ResetAt.UnixMilli()
}

// RetryAfterSeconds arredonda para cima o tempo até o reset, nunca negativo.
func (r Result) RetryAfterSeconds(now time.Time) int {
	ms := r.ResetAt.Sub(now).Milliseconds()
	if ms <= 0 {
		return 0
	}
	return int((ms + 999) / 1000)
}

// Stats é um retrato do limiter para diagnóstico.
type Stats struct {
	Size     int
	Capacity int
	Limit    int
	Window   time.Duration
}
