package server

import (
	"context"
	"time"

	"surgiplan/internal/assistant"
	"surgiplan/pkg/logger"
)

const defaultSweepInterval = time.Minute

// RunSessionSweeper ends idle assistant sessions until ctx is done.
func RunSessionSweeper(ctx context.Context, svc *assistant.Service, every time.Duration, log *logger.Logger) {
	if every <= 0 {
		every = defaultSweepInterval
	}
	if log == nil {
		log = logger.NewNop()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := svc.Sweep(ctx); n > 0 {
				log.Info("expired assistant sessions", logger.Int("count", n))
			}
		}
	}
}
