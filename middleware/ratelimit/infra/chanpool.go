package infra

import (
	"context"

	"innerhue-gateway/middleware/ratelimit/domain"
)

// ChanPool limita chamadas simultâneas ao upstream: cada vaga é um slot no buffer do channel.
// InUse e Cap alimentam o endpoint de diagnóstico do gateway.
type ChanPool struct {
	slots chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria um pool com `size` vagas. size <= 0 vira 1.
func NewChanPool(size int) *ChanPool {
	if size <= 0 {
		size = 1
	}
	return &ChanPool{slots: make(chan struct{}, size)}
}

func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	// vaga livre ganha de ctx já encerrado
	select {
	case p.slots <- struct{}{}:
		return p.release, true
	default:
	}
	select {
	case p.slots <- struct{}{}:
		return p.release, true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *ChanPool) release() { <-p.slots }

// InUse retorna quantas vagas estão ocupadas agora.
func (p *ChanPool) InUse() int { return len(p.slots) }

func (p *ChanPool) Cap() int { return cap(p.slots) }
