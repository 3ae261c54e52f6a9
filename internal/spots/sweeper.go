package spots

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically expires spots whose expiresAt passed without a
// session ever starting on them.
type Sweeper struct {
	Spots    *Service
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
}

// Run sweeps until ctx is cancelled.
func (w *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(w.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.sweep(ctx)
		}
	}
}

func (w *Sweeper) sweep(ctx context.Context) {
	for {
		n, err := w.Spots.ExpireOverdue(ctx, w.Batch)
		if err != nil {
			w.Logger.Error("expiry sweep failed", "err", err)
			return
		}
		if n > 0 {
			w.Logger.Info("expired overdue spots", "count", n)
		}
		// a short batch means nothing is left
		if n < w.Batch {
			return
		}
	}
}
