package outreach

import (
	"context"
	"math/rand"
	"time"
)

// Pause задаёт диапазон случайной паузы между действиями.
type Pause struct {
	Min time.Duration
	Max time.Duration
}

func (p Pause) pick(randN func(n int64) int64) time.Duration {
	if p.Max <= p.Min {
		return p.Min
	}
	return p.Min + time.Duration(randN(int64(p.Max-p.Min)+1))
}

func defaultRandN(n int64) int64 {
	return rand.Int63n(n)
}

// sleepCtx ждёт d или отмены контекста.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
