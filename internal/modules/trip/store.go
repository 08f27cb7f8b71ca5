package trip

import (
	"context"
	"time"

	"tripmatch/internal/modules/geo"
	"tripmatch/internal/types"
)

// Store persists trips. Every status write is a conditional update: it returns
// the trip as written, or nil without error when the expected precondition no
// longer holds.
type Store interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	ListOpen(ctx context.Context, f FeedFilter) ([]*Trip, error)
	ListByParty(ctx context.Context, partyID types.ID, role types.Role, page types.Page) ([]*Trip, error)

	// Accept sets driver and ACCEPTED only where status is OPEN and the driver
	// is not the owner.
	Accept(ctx context.Context, id, driverID types.ID, at time.Time) (*Trip, error)
	// UpdateStatus applies tr only where status and status_version still match.
	UpdateStatus(ctx context.Context, tr Transition) (*Trip, error)

	AppendEvent(ctx context.Context, e *Event) error
	ListEvents(ctx context.Context, id types.ID) ([]Event, error)
	ListStaleAccepted(ctx context.Context, before time.Time, limit int) ([]*Trip, error)
	CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error)
}

type FeedFilter struct {
	// VehicleType matches trips requesting it or requesting "any". Empty matches all.
	VehicleType  string
	ExcludeOwner types.ID
	// Box restricts to trips whose pickup has coordinates inside it.
	Box   *geo.Box
	Limit int
}

// Transition is a conditional status write keyed by (TripID, From, Version).
type Transition struct {
	TripID     types.ID
	From       Status
	To         Status
	Version    int
	At         time.Time
	ActorRole  types.Role
	Reason     *string
	FinalPrice *types.Money
}

func matchesVehicle(filter, requested string) bool {
	return filter == "" || requested == filter || requested == VehicleAny
}
