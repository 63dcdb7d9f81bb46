package ratelimit

import (
	"net/http"
	"time"

	"innerhue-gateway/middleware/ratelimit/application"
	"innerhue-gateway/middleware/ratelimit/domain"
	"innerhue-gateway/middleware/ratelimit/infra"

	"github.com/sirupsen/logrus"
)

type ConcurrencyOptions struct {
	// Pool, se informado, é usado no lugar de um pool novo de Max vagas
	// (permite que o dono consulte a ocupação).
	Pool domain.SlotPool

	// Max <= 0 desliga o limite quando Pool é nil.
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
	Logger         logrus.FieldLogger
}

// ConcurrencyMiddleware limita quantas requisições chegam ao próximo handler ao mesmo tempo.
// No gateway ele fica depois do rate limit, protegendo as chamadas ao upstream.
func ConcurrencyMiddleware(opts ConcurrencyOptions) func(next http.Handler) http.Handler {
	if opts.Pool == nil {
		if opts.Max <= 0 {
			return func(next http.Handler) http.Handler { return next }
		}
		opts.Pool = infra.NewChanPool(opts.Max)
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	svc := application.ConcurrencyService{
		Pool:           opts.Pool,
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				opts.Logger.WithFields(logrus.Fields{
					"path": r.URL.Path,
					"max":  opts.Max,
				}).Warn("no concurrency slot available")
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
