package application

import (
	"context"
	"time"

	"innerhue-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService limita quantas chamadas ao upstream rodam ao mesmo tempo,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	Pool           domain.SlotPool
	AcquireTimeout time.Duration
}

// Acquire tenta ocupar uma vaga.
//   - AcquireTimeout <= 0: espera até o ctx encerrar.
//   - AcquireTimeout > 0: desiste depois do timeout.
//
// Com ok=false nenhuma vaga foi ocupada e release é nil.
func (s ConcurrencyService) Acquire(ctx context.Context) (release func(), ok bool) {
	if s.Pool == nil {
		return func() {}, true
	}
	if s.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.AcquireTimeout)
		defer cancel()
	}
	return s.Pool.Acquire(ctx)
}
