// Package dto holds the JSON wire types shared by the HTTP handlers and the API client.
package dto

import (
	"time"

	"tripmatch/internal/modules/profile"
	"tripmatch/internal/modules/trip"
	"tripmatch/internal/types"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type CreateTripRequest struct {
	PickupLocation       types.Location `json:"pickupLocation"`
	DropLocation         types.Location `json:"dropLocation"`
	VehicleTypeRequested string         `json:"vehicleTypeRequested"`
	Passengers           int            `json:"passengers"`
	StartTime            time.Time      `json:"startTime"`
	Price                int64          `json:"price"`
	Currency             string         `json:"currency,omitempty"`
}

type CompleteTripRequest struct {
	FinalPrice *int64 `json:"finalPrice,omitempty"`
}

type CancelTripRequest struct {
	Reason string `json:"reason,omitempty"`
}

type UpsertProfileRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone,omitempty"`
	VehicleType  string `json:"vehicleType,omitempty"`
	VehiclePlate string `json:"vehiclePlate,omitempty"`
}

type Trip struct {
	ID                   string         `json:"id"`
	OwnerID              string         `json:"ownerId"`
	DriverID             *string        `json:"driverId"`
	PickupLocation       types.Location `json:"pickupLocation"`
	DropLocation         types.Location `json:"dropLocation"`
	VehicleTypeRequested string         `json:"vehicleTypeRequested"`
	Passengers           int            `json:"passengers"`
	Price                int64          `json:"price"`
	FinalPrice           *int64         `json:"finalPrice,omitempty"`
	Currency             string         `json:"currency"`
	Status               string         `json:"status"`
	StatusVersion        int            `json:"statusVersion"`
	StartTime            time.Time      `json:"startTime"`
	EstimatedDistanceKm  *float64       `json:"estimatedDistanceKm,omitempty"`
	EstimatedDurationMin *int           `json:"estimatedDurationMin,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	UpdatedAt            time.Time      `json:"updatedAt"`
	AcceptedAt           *time.Time     `json:"acceptedAt,omitempty"`
	StartedAt            *time.Time     `json:"startedAt,omitempty"`
	CompletedAt          *time.Time     `json:"completedAt,omitempty"`
	CancelledAt          *time.Time     `json:"cancelledAt,omitempty"`
	CancelledBy          *string        `json:"cancelledBy,omitempty"`
	CancelReason         *string        `json:"cancelReason,omitempty"`
	// DistanceKm is set in geography-filtered feeds only.
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

type TripResponse struct {
	Trip Trip `json:"trip"`
}

type TripsResponse struct {
	Trips []Trip `json:"trips"`
}

type HistoryResponse struct {
	Trips []Trip `json:"trips"`
	Page  int    `json:"page"`
	Limit int    `json:"limit"`
}

type StatusResponse struct {
	Trip           Trip            `json:"trip"`
	Counterpart    *profile.Public `json:"counterpart,omitempty"`
	Terminal       bool            `json:"terminal"`
	PollIntervalMs int64           `json:"pollIntervalMs"`
}

type Event struct {
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	ActorRole  string    `json:"actorRole"`
	ActorID    *string   `json:"actorId,omitempty"`
	At         time.Time `json:"at"`
}

type EventsResponse struct {
	Events []Event `json:"events"`
}

type ProfileResponse struct {
	Profile profile.Public `json:"profile"`
}

func FromTrip(t *trip.Trip) Trip {
	out := Trip{
		ID:                   string(t.ID),
		OwnerID:              string(t.OwnerID),
		PickupLocation:       t.Pickup,
		DropLocation:         t.Drop,
		VehicleTypeRequested: t.VehicleType,
		Passengers:           t.Passengers,
		Price:                t.Price.Amount,
		Currency:             t.Price.Currency,
		Status:               string(t.Status),
		StatusVersion:        t.StatusVersion,
		StartTime:            t.StartTime.UTC(),
		EstimatedDistanceKm:  t.EstimatedDistanceKm,
		EstimatedDurationMin: t.EstimatedDurationMin,
		CreatedAt:            t.CreatedAt.UTC(),
		UpdatedAt:            t.UpdatedAt.UTC(),
		AcceptedAt:           utc(t.AcceptedAt),
		StartedAt:            utc(t.StartedAt),
		CompletedAt:          utc(t.CompletedAt),
		CancelledAt:          utc(t.CancelledAt),
		CancelReason:         t.CancelReason,
	}
	if t.DriverID != nil {
		d := string(*t.DriverID)
		out.DriverID = &d
	}
	if t.FinalPrice != nil {
		fp := t.FinalPrice.Amount
		out.FinalPrice = &fp
	}
	if t.CancelledBy != nil {
		by := string(*t.CancelledBy)
		out.CancelledBy = &by
	}
	return out
}

func FromTrips(ts []*trip.Trip) []Trip {
	out := make([]Trip, 0, len(ts))
	for _, t := range ts {
		out = append(out, FromTrip(t))
	}
	return out
}

func FromFeed(items []trip.FeedItem) []Trip {
	out := make([]Trip, 0, len(items))
	for _, it := range items {
		t := FromTrip(it.Trip)
		t.DistanceKm = it.DistanceKm
		out = append(out, t)
	}
	return out
}

func FromStatus(v *trip.StatusView) StatusResponse {
	return StatusResponse{
		Trip:           FromTrip(v.Trip),
		Counterpart:    v.Counterpart,
		Terminal:       v.Terminal,
		PollIntervalMs: v.PollInterval.Milliseconds(),
	}
}

func FromEvents(es []trip.Event) []Event {
	out := make([]Event, 0, len(es))
	for _, e := range es {
		ev := Event{
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			ActorRole:  string(e.ActorRole),
			At:         e.CreatedAt.UTC(),
		}
		if e.ActorID != nil {
			id := string(*e.ActorID)
			ev.ActorID = &id
		}
		out = append(out, ev)
	}
	return out
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
