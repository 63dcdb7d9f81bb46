package ratelimit

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"innerhue-gateway/middleware/ratelimit/application"
	"innerhue-gateway/middleware/ratelimit/domain"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Options struct {
	// Limiter decide e conta. Nil desliga o rate limit (handler sempre chamado).
	Limiter *application.Limiter
	// Stats é best-effort: erro vira log, nunca derruba a requisição.
	Stats  domain.StatsStore
	Logger logrus.FieldLogger
	// DenyLogInterval limita a frequência do log de 429 (padrão 1s).
	DenyLogInterval time.Duration
}

// HandlerFunc é um handler que pode falhar. O erro vira um 500 com os headers de quota.
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

// Middleware é a forma de cadeia: func(next http.Handler) http.Handler.
// Um panic em next é tratado como falha do handler.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	g := newGuard(opts)
	return func(next http.Handler) http.Handler {
		return g.handler(func(w http.ResponseWriter, r *http.Request) error {
			next.ServeHTTP(w, r)
			return nil
		})
	}
}

// Wrap é a forma decorator: envolve um HandlerFunc diretamente.
// Para as mesmas entradas, produz os mesmos status e headers que Middleware.
func Wrap(fn HandlerFunc, opts Options) http.Handler {
	return newGuard(opts).handler(fn)
}

type guard struct {
	limiter *application.Limiter
	stats   domain.StatsStore
	log     logrus.FieldLogger
	denyLog *rate.Sometimes
}

func newGuard(opts Options) *guard {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.DenyLogInterval <= 0 {
		opts.DenyLogInterval = time.Second
	}
	log := opts.Logger
	if opts.Limiter != nil {
		log = log.WithField("limiter", opts.Limiter.Name())
	}
	return &guard{
		limiter: opts.Limiter,
		stats:   opts.Stats,
		log:     log,
		denyLog: &rate.Sometimes{Interval: opts.DenyLogInterval},
	}
}

func (g *guard) handler(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.limiter == nil {
			g.serve(w, r, fn, nil)
			return
		}

		key := g.limiter.Key(r.Header)
		res := g.limiter.Check(key)
		g.record(r, key, res)

		if !res.Allowed {
			retryAfter := res.RetryAfterSeconds(g.limiter.Now())
			g.denyLog.Do(func() {
				g.log.WithFields(logrus.Fields{
					"key":         key,
					"current":     res.Current,
					"limit":       res.Limit,
					"retry_after": retryAfter,
					"path":        r.URL.Path,
				}).Warn("rate limit exceeded")
			})
			writeDenied(w, res, retryAfter)
			return
		}

		setQuotaHeaders(w.Header(), res)
		g.serve(w, r, fn, &res)
	})
}

// serve chama o handler e converte erro ou panic em 500.
// res nil significa rate limit desligado (sem headers de quota).
func (g *guard) serve(w http.ResponseWriter, r *http.Request, fn HandlerFunc, res *domain.Result) {
	sw := &statusWriter{ResponseWriter: w, quota: res, base: w.Header().Clone()}

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p == http.ErrAbortHandler {
			panic(p)
		}
		g.fail(sw, r, panicError(p), res)
	}()

	if err := fn(sw, r); err != nil {
		g.fail(sw, r, err, res)
		return
	}
	// handler não escreveu nada: o net/http manda 200 com o header atual
	if !sw.wroteHeader && res != nil {
		setQuotaHeaders(sw.Header(), *res)
	}
}

func (g *guard) fail(sw *statusWriter, r *http.Request, err error, res *domain.Result) {
	entry := g.log.WithError(err).WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	})
	if sw.wroteHeader {
		// status já foi enviado; só dá para registrar
		entry.WithField("status", sw.status).Error("handler failed after writing response")
		return
	}
	entry.Error("handler failed")

	// descarta o que o handler colocou no header (Content-Encoding, ETag...)
	sw.resetHeader()

	if res == nil {
		writeJSON(sw, http.StatusInternalServerError, errorBody{Error: "Internal server error", Message: errorMessage(err)})
		return
	}
	writeHandlerError(sw, *res, err)
}

func (g *guard) record(r *http.Request, key domain.Key, res domain.Result) {
	if g.stats == nil {
		return
	}
	err := g.stats.Record(r.Context(), domain.StatsEvent{
		Limiter:   g.limiter.Name(),
		Key:       key,
		Allowed:   res.Allowed,
		Current:   res.Current,
		Remaining: res.Remaining,
		Method:    r.Method,
		Path:      r.URL.Path,
		At:        g.limiter.Now(),
	})
	if err != nil {
		g.log.WithError(err).Debug("rate limit stats record failed")
	}
}

func panicError(p any) error {
	switch v := p.(type) {
	case error:
		return v
	case string:
		return errors.New(v)
	default:
		return fmt.Errorf("%v", v)
	}
}

// statusWriter registra se o status já foi enviado, para saber se ainda dá
// para trocar a resposta por um 500.
//
// quota é reaplicada no momento do WriteHeader: os X-RateLimit-* da resposta
// são sempre os da decisão tomada antes do handler.
type statusWriter struct {
	http.ResponseWriter
	quota       *domain.Result
	base        http.Header
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
		if w.quota != nil {
			setQuotaHeaders(w.Header(), *w.quota)
		}
	}
	w.ResponseWriter.WriteHeader(code)
}

// resetHeader volta o header ao estado de antes do handler.
func (w *statusWriter) resetHeader() {
	h := w.Header()
	for k := range h {
		delete(h, k)
	}
	for k, v := range w.base {
		h[k] = v
	}
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush mantém streaming (ex: respostas de chat em SSE) funcionando atrás do middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		if !w.wroteHeader {
			w.WriteHeader(http.StatusOK)
		}
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
