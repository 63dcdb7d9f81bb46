// Package ratelimit fornece adapters HTTP (net/http) para rate limit e limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: janela fixa por chave, geração de chave, acquire/timeout, sem net/http
//   - infra: implementações concretas (cache LRU+TTL, semáforo, estatísticas)
//   - ratelimit (este pacote): middlewares HTTP + wiring + tradução para status/headers
//
// Fluxo por requisição:
//
//  1. Extrai a chave do cliente (X-Forwarded-For, X-Real-IP ou "unknown")
//  2. Conta a requisição no Limiter (uma única vez)
//  3. Se negada, responde 429 com Retry-After e corpo JSON, sem chamar o handler
//  4. Se permitida, chama o handler; X-RateLimit-* vão em qualquer resposta,
//     inclusive no 500 gerado quando o handler falha
//
// Há duas formas equivalentes: Middleware (cadeia, func(http.Handler) http.Handler)
// e Wrap (decorator sobre um handler que retorna error).
package ratelimit
