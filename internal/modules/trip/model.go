// README: Trip aggregate, status definitions and the lifecycle state machine.
package trip

import (
	"time"

	"tripmatch/internal/types"
)

type Status string

const (
	StatusNone       Status = "NONE"
	StatusOpen       Status = "OPEN"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// HasDriver reports whether a trip in this status must carry a driver.
func (s Status) HasDriver() bool {
	return s == StatusAccepted || s == StatusInProgress || s == StatusCompleted
}

// VehicleAny on a trip matches every driver vehicle filter.
const VehicleAny = "any"

var VehicleTypes = []string{"sedan", "suv", "hatchback", "van", "luxury", VehicleAny}

func IsVehicleType(v string) bool {
	for _, t := range VehicleTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Trip struct {
	ID                   types.ID
	OwnerID              types.ID
	DriverID             *types.ID
	Pickup               types.Location
	Drop                 types.Location
	VehicleType          string
	Passengers           int
	Price                types.Money
	FinalPrice           *types.Money
	Status               Status
	StatusVersion        int
	StartTime            time.Time
	EstimatedDistanceKm  *float64
	EstimatedDurationMin *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
	AcceptedAt           *time.Time
	StartedAt            *time.Time
	CompletedAt          *time.Time
	CancelledAt          *time.Time
	CancelledBy          *types.Role
	CancelReason         *string
}

// IsParty reports whether id is the owner or the assigned driver.
func (t *Trip) IsParty(id types.ID) bool {
	return t.OwnerID == id || t.IsDriver(id)
}

func (t *Trip) IsDriver(id types.ID) bool {
	return t.DriverID != nil && *t.DriverID == id
}

// Event is one row of the append-only transition log.
type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  types.Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the trip state flow as code. Cancellation is
// the escape edge from every non-terminal state.
var AllowedTransitions = map[Status][]Status{
	StatusOpen:       {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
