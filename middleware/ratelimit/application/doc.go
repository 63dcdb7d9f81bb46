// Package application contém os casos de uso (regras de aplicação) para rate limit
// e limite de concorrência.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Limiter.IsAllowed(headers) retorna um domain.Result (allow/deny + quota).
package application
