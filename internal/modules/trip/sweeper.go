package trip

import (
	"context"
	"time"

	"go.uber.org/zap"

	"tripmatch/internal/types"
)

const (
	sweepBatch        = 100
	staleCancelReason = "driver did not start before the acceptance timeout"
)

// RunAcceptTimeoutSweeper cancels ACCEPTED trips that were not started within
// timeout. It never reopens a trip: the assigned driver stays on record.
func (s *Service) RunAcceptTimeoutSweeper(ctx context.Context, timeout, every time.Duration) {
	if timeout <= 0 {
		return
	}
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepStaleAccepted(ctx, timeout)
			if err != nil {
				s.log.Error("accept timeout sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				s.log.Info("cancelled stale accepted trips", zap.Int("count", n))
			}
		}
	}
}

// SweepStaleAccepted runs one sweep and returns how many trips it cancelled.
// Trips that moved on since they were listed lose the CAS and are skipped.
func (s *Service) SweepStaleAccepted(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.now().UTC().Add(-timeout)
	stale, err := s.store.ListStaleAccepted(ctx, cutoff, sweepBatch)
	if err != nil {
		return 0, err
	}
	reason := staleCancelReason
	cancelled := 0
	for _, t := range stale {
		if _, err := s.apply(ctx, t, StatusCancelled, types.RoleSystem, nil, &reason, nil); err != nil {
			s.log.Debug("skip stale trip", zap.String("trip_id", string(t.ID)), zap.Error(err))
			continue
		}
		cancelled++
	}
	return cancelled, nil
}
