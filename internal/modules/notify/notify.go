// README: Trip change notifications; publish after committed writes, subscribe for live status.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Change describes one committed trip transition.
type Change struct {
	TripID     string    `json:"tripId"`
	FromStatus string    `json:"fromStatus"`
	Status     string    `json:"status"`
	OwnerID    string    `json:"ownerId"`
	DriverID   string    `json:"driverId,omitempty"`
	Version    int       `json:"version"`
	ActorRole  string    `json:"actorRole"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, c Change) error
}

// Subscriber delivers changes for a single trip until cancel is called or ctx
// ends. Delivery is best effort; consumers re-read state after each change.
type Subscriber interface {
	Subscribe(ctx context.Context, tripID string) (changes <-chan Change, cancel func(), err error)
}

type Bus interface {
	Publisher
	Subscriber
}

// Fanout publishes to every publisher. Individual failures are logged and the
// first one is returned after all publishers have been tried.
type Fanout struct {
	publishers []Publisher
	log        *zap.Logger
}

func NewFanout(log *zap.Logger, publishers ...Publisher) *Fanout {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fanout{publishers: publishers, log: log}
}

func (f *Fanout) Publish(ctx context.Context, c Change) error {
	var first error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, c); err != nil {
			f.log.Warn("trip change publish failed",
				zap.String("trip_id", c.TripID),
				zap.String("status", c.Status),
				zap.Error(err),
			)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
