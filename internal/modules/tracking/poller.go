// README: Client-side status polling bound to a context; stops on terminal status.
package tracking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

const DefaultInterval = 4 * time.Second

// Snapshot is the part of a status response the poller compares.
type Snapshot struct {
	TripID       string
	Status       string
	DriverID     string
	Version      int
	UpdatedAt    time.Time
	Terminal     bool
	PollInterval time.Duration
}

func (s Snapshot) changedFrom(prev Snapshot) bool {
	return s.Status != prev.Status || s.Version != prev.Version || !s.UpdatedAt.Equal(prev.UpdatedAt)
}

type StatusFetcher interface {
	FetchStatus(ctx context.Context, tripID string) (Snapshot, error)
}

// Permanent is implemented by fetch errors that retrying cannot fix, such as
// not found or forbidden.
type Permanent interface {
	Permanent() bool
}

func isPermanent(err error) bool {
	var p Permanent
	return errors.As(err, &p) && p.Permanent()
}

// Poller repeatedly reads a trip's status. Reads are safe to retry, so
// transient failures are reported and polling continues.
type Poller struct {
	Fetcher StatusFetcher
	// Interval overrides the server's suggested interval when set.
	Interval time.Duration
	OnChange func(Snapshot)
	OnError  func(error)
	Logger   *zap.Logger
}

// Run polls tripID until a terminal status (nil error), a permanent fetch
// error, or ctx cancellation (ctx.Err()). It returns the last snapshot seen.
func (p *Poller) Run(ctx context.Context, tripID string) (Snapshot, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var last Snapshot
	seen := false
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-timer.C:
		}

		snap, err := p.Fetcher.FetchStatus(ctx, tripID)
		switch {
		case err != nil && ctx.Err() != nil:
			return last, ctx.Err()
		case err != nil:
			log.Debug("status poll failed", zap.String("trip_id", tripID), zap.Error(err))
			if p.OnError != nil {
				p.OnError(err)
			}
			if isPermanent(err) {
				return last, err
			}
		default:
			if !seen || snap.changedFrom(last) {
				seen = true
				last = snap
				if p.OnChange != nil {
					p.OnChange(snap)
				}
			}
			if snap.Terminal {
				return last, nil
			}
		}
		timer.Reset(p.interval(last))
	}
}

func (p *Poller) interval(last Snapshot) time.Duration {
	switch {
	case p.Interval > 0:
		return p.Interval
	case last.PollInterval > 0:
		return last.PollInterval
	default:
		return DefaultInterval
	}
}
