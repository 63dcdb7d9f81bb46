package ratelimit

import (
	"encoding/json"
	"net/http"
	"strconv"

	"innerhue-gateway/middleware/ratelimit/domain"
)

const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

const fallbackErrorMessage = "An unexpected error occurred"

func errorMessage(err error) string {
	if err == nil || err.Error() == "" {
		return fallbackErrorMessage
	}
	return err.Error()
}

type deniedBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func setQuotaHeaders(h http.Header, res domain.Result) {
	h.Set(HeaderLimit, formatInt(res.Limit))
	h.Set(HeaderRemaining, formatInt(res.Remaining))
	h.Set(HeaderReset, formatInt64(res.ResetMillis()))
}

// writeDenied escreve o 429. Remaining é sempre "0" aqui.
func writeDenied(w http.ResponseWriter, res domain.Result, retryAfter int) {
	h := w.Header()
	setQuotaHeaders(h, res)
	h.Set(HeaderRemaining, "0")
	h.Set(HeaderRetryAfter, formatInt(retryAfter))

	writeJSON(w, http.StatusTooManyRequests, deniedBody{
		Error:      "Too many requests",
		Message:    "Rate limit exceeded. Try again in " + strconv.Itoa(retryAfter) + " seconds",
		RetryAfter: res.ResetMillis(),
	})
}

// writeHandlerError escreve o 500 que substitui a resposta de um handler que falhou.
func writeHandlerError(w http.ResponseWriter, res domain.Result, err error) {
	setQuotaHeaders(w.Header(), res)
	writeJSON(w, http.StatusInternalServerError, errorBody{
		Error:   "Internal server error",
		Message: errorMessage(err),
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Content-Length")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
