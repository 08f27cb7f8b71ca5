package trip

import (
	"context"
	"sort"
	"sync"
	"time"

	"tripmatch/internal/types"
)

// MemoryStore keeps trips in process. A single mutex makes every conditional
// write atomic, matching the database stores.
type MemoryStore struct {
	mu     sync.Mutex
	trips  map[types.ID]*Trip
	events map[types.ID][]Event
	seq    int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:  make(map[types.ID]*Trip),
		events: make(map[types.ID][]Event),
	}
}

func (s *MemoryStore) Create(_ context.Context, t *Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = cloneTrip(t)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTrip(t), nil
}

func (s *MemoryStore) ListOpen(_ context.Context, f FeedFilter) ([]*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Trip
	for _, t := range s.trips {
		if t.Status != StatusOpen || !matchesVehicle(f.VehicleType, t.VehicleType) {
			continue
		}
		if f.ExcludeOwner != "" && t.OwnerID == f.ExcludeOwner {
			continue
		}
		if f.Box != nil && (t.Pickup.Point == nil || !f.Box.Contains(*t.Pickup.Point)) {
			continue
		}
		out = append(out, cloneTrip(t))
	}
	return truncate(newestFirst(out), listLimit(f.Limit)), nil
}

func (s *MemoryStore) ListByParty(_ context.Context, partyID types.ID, role types.Role, page types.Page) ([]*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Trip
	for _, t := range s.trips {
		owner := t.OwnerID == partyID
		driver := t.IsDriver(partyID)
		switch {
		case role == types.RoleOwner && owner,
			role == types.RoleDriver && driver,
			role != types.RoleOwner && role != types.RoleDriver && (owner || driver):
			out = append(out, cloneTrip(t))
		}
	}
	out = newestFirst(out)
	page = page.Normalize()
	if off := page.Offset(); off < len(out) {
		out = out[off:]
	} else {
		out = nil
	}
	return truncate(out, page.Size), nil
}

func (s *MemoryStore) Accept(_ context.Context, id, driverID types.ID, at time.Time) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[id]
	if !ok || t.Status != StatusOpen || t.DriverID != nil || t.OwnerID == driverID {
		return nil, nil
	}
	d := driverID
	ts := at
	t.DriverID = &d
	t.Status = StatusAccepted
	t.StatusVersion++
	t.UpdatedAt = at
	t.AcceptedAt = &ts
	return cloneTrip(t), nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, tr Transition) (*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.trips[tr.TripID]
	if !ok || t.Status != tr.From || t.StatusVersion != tr.Version {
		return nil, nil
	}
	at := tr.At
	t.Status = tr.To
	t.StatusVersion++
	t.UpdatedAt = at
	switch tr.To {
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		t.CompletedAt = &at
	case StatusCancelled:
		role := tr.ActorRole
		t.CancelledAt = &at
		t.CancelledBy = &role
		if tr.Reason != nil {
			reason := *tr.Reason
			t.CancelReason = &reason
		}
	}
	if tr.FinalPrice != nil {
		fp := *tr.FinalPrice
		t.FinalPrice = &fp
	}
	return cloneTrip(t), nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	e.ID = s.seq
	s.events[e.TripID] = append(s.events[e.TripID], *e)
	return nil
}

func (s *MemoryStore) ListEvents(_ context.Context, id types.ID) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events[id]...), nil
}

func (s *MemoryStore) ListStaleAccepted(_ context.Context, before time.Time, limit int) ([]*Trip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Trip
	for _, t := range s.trips {
		if t.Status == StatusAccepted && t.AcceptedAt != nil && t.AcceptedAt.Before(before) {
			out = append(out, cloneTrip(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcceptedAt.Before(*out[j].AcceptedAt) })
	return truncate(out, listLimit(limit)), nil
}

func (s *MemoryStore) CountActiveByDriver(_ context.Context, driverID types.ID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.trips {
		if t.IsDriver(driverID) && (t.Status == StatusAccepted || t.Status == StatusInProgress) {
			n++
		}
	}
	return n, nil
}

func newestFirst(ts []*Trip) []*Trip {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.After(ts[j].CreatedAt)
		}
		return ts[i].ID > ts[j].ID
	})
	return ts
}

func truncate(ts []*Trip, n int) []*Trip {
	if len(ts) > n {
		return ts[:n]
	}
	return ts
}

func cloneTrip(t *Trip) *Trip {
	c := *t
	c.DriverID = cloneRef(t.DriverID)
	c.Pickup.Point = cloneRef(t.Pickup.Point)
	c.Drop.Point = cloneRef(t.Drop.Point)
	c.FinalPrice = cloneRef(t.FinalPrice)
	c.EstimatedDistanceKm = cloneRef(t.EstimatedDistanceKm)
	c.EstimatedDurationMin = cloneRef(t.EstimatedDurationMin)
	c.AcceptedAt = cloneRef(t.AcceptedAt)
	c.StartedAt = cloneRef(t.StartedAt)
	c.CompletedAt = cloneRef(t.CompletedAt)
	c.CancelledAt = cloneRef(t.CancelledAt)
	c.CancelledBy = cloneRef(t.CancelledBy)
	c.CancelReason = cloneRef(t.CancelReason)
	return &c
}

func cloneRef[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
