package trip

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"tripmatch/internal/modules/profile"
	"tripmatch/internal/types"
)

// StatusView is what a polling party sees.
type StatusView struct {
	Trip         *Trip
	Counterpart  *profile.Public
	Terminal     bool
	PollInterval time.Duration
}

// Status returns the trip as seen by caller. Parties always see it; other
// drivers only while it is OPEN. Concurrent reads of one trip share a single
// store round trip.
func (s *Service) Status(ctx context.Context, tripID types.ID, caller types.Caller) (*StatusView, error) {
	v, err, _ := s.statuses.Do(string(tripID), func() (any, error) {
		// Shared by every waiter, so one caller hanging up must not fail the rest.
		return s.store.Get(context.WithoutCancel(ctx), tripID)
	})
	if err != nil {
		return nil, err
	}
	shared := v.(*Trip)
	t := cloneTrip(shared)

	if !canView(t, caller) {
		return nil, ErrUnauthorized
	}

	view := &StatusView{
		Trip:         t,
		Terminal:     t.Status.IsTerminal(),
		PollInterval: s.pollInterval,
	}
	view.Counterpart = s.counterpart(ctx, t, caller)
	return view, nil
}

func canView(t *Trip, caller types.Caller) bool {
	if t.IsParty(caller.ID) {
		return true
	}
	return t.Status == StatusOpen && caller.Role == types.RoleDriver
}

func (s *Service) counterpart(ctx context.Context, t *Trip, caller types.Caller) *profile.Public {
	if s.profiles == nil {
		return nil
	}
	var other types.ID
	switch {
	case t.OwnerID == caller.ID:
		if t.DriverID == nil {
			return nil
		}
		other = *t.DriverID
	case t.IsDriver(caller.ID):
		other = t.OwnerID
	default:
		return nil
	}
	p, err := s.profiles.PublicProfile(ctx, other)
	if err != nil {
		if !errors.Is(err, profile.ErrNotFound) {
			s.log.Warn("counterpart lookup failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
		}
		return nil
	}
	return p
}
