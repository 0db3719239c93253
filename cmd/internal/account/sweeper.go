package account

import (
	"context"
	"time"
)

// RunSweeper purges expired secrets every interval until ctx is cancelled.
// A non-positive interval falls back to Config.SweepInterval; if that is zero too, it returns at once.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.cfg.SweepInterval
	}
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("account.sweeper.start", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			s.log.Info("account.sweeper.stop")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Service) sweepOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	res, err := s.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Warn("account.sweep.fail", "err", err)
		}
		return
	}
	if res.PendingSignups > 0 || res.ResetTokens > 0 {
		s.log.Info("account.sweep",
			"pending_signups", res.PendingSignups,
			"reset_tokens", res.ResetTokens,
		)
	}
}
