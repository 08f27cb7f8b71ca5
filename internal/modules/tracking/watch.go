package tracking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tripmatch/internal/modules/notify"
	"tripmatch/internal/modules/trip"
	"tripmatch/internal/types"
)

var ErrSubscriptionClosed = errors.New("tracking: subscription closed")

type StatusSource interface {
	Status(ctx context.Context, tripID types.ID, caller types.Caller) (*trip.StatusView, error)
}

// Frame is one server-push message. View is nil for heartbeats.
type Frame struct {
	Event string
	View  *trip.StatusView
}

const (
	EventStatus    = "status"
	EventHeartbeat = "heartbeat"
)

// Watcher pushes status views to one party as the trip changes, replacing
// client polling. Without a bus it re-reads on the poll interval instead.
type Watcher struct {
	Source    StatusSource
	Bus       notify.Subscriber
	Heartbeat time.Duration
	// Resync re-reads even without notifications, covering dropped messages.
	Resync time.Duration
	Logger *zap.Logger
}

// Stream emits the current view, then one view per observed change, and
// returns nil once a terminal status has been emitted.
func (w *Watcher) Stream(ctx context.Context, tripID types.ID, caller types.Caller, emit func(Frame) error) error {
	log := w.Logger
	if log == nil {
		log = zap.NewNop()
	}

	// Subscribe before the first read so no change can slip in between.
	var changes <-chan notify.Change
	if w.Bus != nil {
		ch, cancel, err := w.Bus.Subscribe(ctx, string(tripID))
		if err != nil {
			log.Warn("trip subscription failed, falling back to resync", zap.String("trip_id", string(tripID)), zap.Error(err))
		} else {
			defer cancel()
			changes = ch
		}
	}

	view, err := w.Source.Status(ctx, tripID, caller)
	if err != nil {
		return err
	}
	if err := emit(Frame{Event: EventStatus, View: view}); err != nil {
		return err
	}
	if view.Terminal {
		return nil
	}
	version := view.Trip.StatusVersion

	resync := w.Resync
	if changes == nil || resync <= 0 {
		resync = view.PollInterval
	}
	resyncTicker := time.NewTicker(resync)
	defer resyncTicker.Stop()

	var heartbeat <-chan time.Time
	if w.Heartbeat > 0 {
		t := time.NewTicker(w.Heartbeat)
		defer t.Stop()
		heartbeat = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat:
			if err := emit(Frame{Event: EventHeartbeat}); err != nil {
				return err
			}
			continue
		case c, ok := <-changes:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return ErrSubscriptionClosed
			}
			if c.Version <= version {
				continue
			}
		case <-resyncTicker.C:
		}

		view, err := w.Source.Status(ctx, tripID, caller)
		if err != nil {
			return err
		}
		if view.Trip.StatusVersion == version {
			continue
		}
		version = view.Trip.StatusVersion
		if err := emit(Frame{Event: EventStatus, View: view}); err != nil {
			return err
		}
		if view.Terminal {
			return nil
		}
	}
}
