package application

import (
	"strings"

	"innerhue-gateway/middleware/ratelimit/domain"
)

// KeyPrefix separa as chaves deste limiter de qualquer outro uso de cache no processo.
const KeyPrefix = "ratelimit:"

// UnknownClient é o bucket compartilhado por quem não manda header de identificação.
// Todos esses clientes dividem a mesma quota.
const UnknownClient = "unknown"

// DefaultKeyGenerator usa o primeiro IP de X-Forwarded-For, depois X-Real-IP,
// e por fim o bucket "unknown".
func DefaultKeyGenerator(h domain.Headers) domain.Key {
	return domain.Key(KeyPrefix + clientIP(h))
}

// HeaderKeyGenerator usa o valor de um header (ex: X-Api-Key) e cai no
// DefaultKeyGenerator quando ele está vazio.
func HeaderKeyGenerator(header string) domain.KeyGenerator {
	return func(h domain.Headers) domain.Key {
		if header != "" {
			if v := strings.TrimSpace(h.Get(header)); v != "" {
				return domain.Key(KeyPrefix + v)
			}
		}
		return DefaultKeyGenerator(h)
	}
}

func clientIP(h domain.Headers) string {
	if h == nil {
		return UnknownClient
	}
	// pega o primeiro IP do X-Forwarded-For (cliente original)
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(h.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return UnknownClient
}
