package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// RunSweeper releases expired holds every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info().Dur("interval", interval).Msg("Hold sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Hold sweeper stopped")
			return
		case <-ticker.C:
			n, err := s.ReleaseExpired(ctx, s.now())
			if err != nil {
				log.Error().Err(err).Int("released", n).Msg("Hold sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int("released", n).Msg("Expired holds released")
			}
		}
	}
}
