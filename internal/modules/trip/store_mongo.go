// README: Trip store backed by MongoDB; status writes are single-document conditional updates.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripmatch/internal/types"
)

type MongoStore struct {
	trips    *mongo.Collection
	events   *mongo.Collection
	counters *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		trips:    db.Collection("trips"),
		events:   db.Collection("trip_events"),
		counters: db.Collection("trip_event_counters"),
	}
}

// EnsureIndexes creates the indexes the feed and history queries rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.trips.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "driver_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "accepted_at", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("trip.EnsureIndexes: trips: %w", err)
	}
	_, err = s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "trip_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("trip.EnsureIndexes: trip_events: %w", err)
	}
	return nil
}

type tripDoc struct {
	ID                   string         `bson:"_id"`
	OwnerID              string         `bson:"owner_id"`
	DriverID             *string        `bson:"driver_id"`
	Pickup               types.Location `bson:"pickup"`
	Drop                 types.Location `bson:"drop"`
	VehicleType          string         `bson:"vehicle_type"`
	Passengers           int            `bson:"passengers"`
	Price                types.Money    `bson:"price"`
	FinalPrice           *types.Money   `bson:"final_price,omitempty"`
	Status               string         `bson:"status"`
	StatusVersion        int            `bson:"status_version"`
	StartTime            time.Time      `bson:"start_time"`
	EstimatedDistanceKm  *float64       `bson:"estimated_distance_km,omitempty"`
	EstimatedDurationMin *int           `bson:"estimated_duration_min,omitempty"`
	CreatedAt            time.Time      `bson:"created_at"`
	UpdatedAt            time.Time      `bson:"updated_at"`
	AcceptedAt           *time.Time     `bson:"accepted_at,omitempty"`
	StartedAt            *time.Time     `bson:"started_at,omitempty"`
	CompletedAt          *time.Time     `bson:"completed_at,omitempty"`
	CancelledAt          *time.Time     `bson:"cancelled_at,omitempty"`
	CancelledBy          *string        `bson:"cancelled_by,omitempty"`
	CancelReason         *string        `bson:"cancel_reason,omitempty"`
}

type eventDoc struct {
	TripID     string    `bson:"trip_id"`
	Seq        int64     `bson:"seq"`
	FromStatus string    `bson:"from_status"`
	ToStatus   string    `bson:"to_status"`
	ActorRole  string    `bson:"actor_role"`
	ActorID    *string   `bson:"actor_id,omitempty"`
	CreatedAt  time.Time `bson:"created_at"`
}

func toDoc(t *Trip) tripDoc {
	d := tripDoc{
		ID:                   string(t.ID),
		OwnerID:              string(t.OwnerID),
		DriverID:             idArg(t.DriverID),
		Pickup:               t.Pickup,
		Drop:                 t.Drop,
		VehicleType:          t.VehicleType,
		Passengers:           t.Passengers,
		Price:                t.Price,
		FinalPrice:           t.FinalPrice,
		Status:               string(t.Status),
		StatusVersion:        t.StatusVersion,
		StartTime:            t.StartTime,
		EstimatedDistanceKm:  t.EstimatedDistanceKm,
		EstimatedDurationMin: t.EstimatedDurationMin,
		CreatedAt:            t.CreatedAt,
		UpdatedAt:            t.UpdatedAt,
		AcceptedAt:           t.AcceptedAt,
		StartedAt:            t.StartedAt,
		CompletedAt:          t.CompletedAt,
		CancelledAt:          t.CancelledAt,
		CancelReason:         t.CancelReason,
	}
	if t.CancelledBy != nil {
		r := string(*t.CancelledBy)
		d.CancelledBy = &r
	}
	return d
}

func (d tripDoc) toTrip() *Trip {
	t := &Trip{
		ID:                   types.ID(d.ID),
		OwnerID:              types.ID(d.OwnerID),
		DriverID:             toIDPtr(d.DriverID),
		Pickup:               d.Pickup,
		Drop:                 d.Drop,
		VehicleType:          d.VehicleType,
		Passengers:           d.Passengers,
		Price:                d.Price,
		FinalPrice:           d.FinalPrice,
		Status:               Status(d.Status),
		StatusVersion:        d.StatusVersion,
		StartTime:            d.StartTime.UTC(),
		EstimatedDistanceKm:  d.EstimatedDistanceKm,
		EstimatedDurationMin: d.EstimatedDurationMin,
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
		AcceptedAt:           d.AcceptedAt,
		StartedAt:            d.StartedAt,
		CompletedAt:          d.CompletedAt,
		CancelledAt:          d.CancelledAt,
		CancelReason:         d.CancelReason,
	}
	if d.CancelledBy != nil {
		r := types.Role(*d.CancelledBy)
		t.CancelledBy = &r
	}
	return t
}

func (s *MongoStore) Create(ctx context.Context, t *Trip) error {
	if _, err := s.trips.InsertOne(ctx, toDoc(t)); err != nil {
		return fmt.Errorf("trip.Create: %w", err)
	}
	return nil
}

func (s *MongoStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	var d tripDoc
	err := s.trips.FindOne(ctx, bson.M{"_id": string(id)}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trip.Get: %w", err)
	}
	return d.toTrip(), nil
}

func (s *MongoStore) ListOpen(ctx context.Context, f FeedFilter) ([]*Trip, error) {
	filter := bson.M{"status": string(StatusOpen)}
	if f.VehicleType != "" {
		filter["vehicle_type"] = bson.M{"$in": bson.A{f.VehicleType, VehicleAny}}
	}
	if f.ExcludeOwner != "" {
		filter["owner_id"] = bson.M{"$ne": string(f.ExcludeOwner)}
	}
	if f.Box != nil {
		filter["pickup.point.lat"] = bson.M{"$gte": f.Box.MinLat, "$lte": f.Box.MaxLat}
		filter["pickup.point.lng"] = bson.M{"$gte": f.Box.MinLng, "$lte": f.Box.MaxLng}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(listLimit(f.Limit)))
	return s.find(ctx, "trip.ListOpen", filter, opts)
}

func (s *MongoStore) ListByParty(ctx context.Context, partyID types.ID, role types.Role, page types.Page) ([]*Trip, error) {
	page = page.Normalize()
	var filter bson.M
	switch role {
	case types.RoleOwner:
		filter = bson.M{"owner_id": string(partyID)}
	case types.RoleDriver:
		filter = bson.M{"driver_id": string(partyID)}
	default:
		filter = bson.M{"$or": bson.A{
			bson.M{"owner_id": string(partyID)},
			bson.M{"driver_id": string(partyID)},
		}}
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(page.Offset())).
		SetLimit(int64(page.Size))
	return s.find(ctx, "trip.ListByParty", filter, opts)
}

func (s *MongoStore) Accept(ctx context.Context, id, driverID types.ID, at time.Time) (*Trip, error) {
	filter := bson.M{
		"_id":       string(id),
		"status":    string(StatusOpen),
		"driver_id": nil,
		"owner_id":  bson.M{"$ne": string(driverID)},
	}
	update := bson.M{
		"$set": bson.M{
			"status":      string(StatusAccepted),
			"driver_id":   string(driverID),
			"updated_at":  at,
			"accepted_at": at,
		},
		"$inc": bson.M{"status_version": 1},
	}
	return s.findAndUpdate(ctx, "trip.Accept", filter, update)
}

func (s *MongoStore) UpdateStatus(ctx context.Context, tr Transition) (*Trip, error) {
	set := bson.M{
		"status":     string(tr.To),
		"updated_at": tr.At,
	}
	switch tr.To {
	case StatusInProgress:
		set["started_at"] = tr.At
	case StatusCompleted:
		set["completed_at"] = tr.At
	case StatusCancelled:
		set["cancelled_at"] = tr.At
		set["cancelled_by"] = string(tr.ActorRole)
		if tr.Reason != nil {
			set["cancel_reason"] = *tr.Reason
		}
	}
	if tr.FinalPrice != nil {
		set["final_price"] = *tr.FinalPrice
	}
	filter := bson.M{
		"_id":            string(tr.TripID),
		"status":         string(tr.From),
		"status_version": tr.Version,
	}
	return s.findAndUpdate(ctx, "trip.UpdateStatus", filter, bson.M{"$set": set, "$inc": bson.M{"status_version": 1}})
}

// findAndUpdate applies update to the single document matching filter and
// returns it as written. No match yields nil, nil.
func (s *MongoStore) findAndUpdate(ctx context.Context, op string, filter, update bson.M) (*Trip, error) {
	var d tripDoc
	err := s.trips.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return d.toTrip(), nil
}

// AppendEvent numbers events per trip from a $inc counter, so ordering does
// not depend on timestamp precision.
func (s *MongoStore) AppendEvent(ctx context.Context, e *Event) error {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := s.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": string(e.TripID)},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return fmt.Errorf("trip.AppendEvent: next seq: %w", err)
	}
	e.ID = counter.Seq
	_, err = s.events.InsertOne(ctx, eventDoc{
		TripID:     string(e.TripID),
		Seq:        e.ID,
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorRole:  string(e.ActorRole),
		ActorID:    idArg(e.ActorID),
		CreatedAt:  e.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("trip.AppendEvent: %w", err)
	}
	return nil
}

func (s *MongoStore) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	cur, err := s.events.Find(ctx, bson.M{"trip_id": string(id)}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("trip.ListEvents: %w", err)
	}
	var docs []eventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("trip.ListEvents: %w", err)
	}
	out := make([]Event, 0, len(docs))
	for _, d := range docs {
		out = append(out, Event{
			ID:         d.Seq,
			TripID:     types.ID(d.TripID),
			FromStatus: Status(d.FromStatus),
			ToStatus:   Status(d.ToStatus),
			ActorRole:  types.Role(d.ActorRole),
			ActorID:    toIDPtr(d.ActorID),
			CreatedAt:  d.CreatedAt.UTC(),
		})
	}
	return out, nil
}

func (s *MongoStore) ListStaleAccepted(ctx context.Context, before time.Time, limit int) ([]*Trip, error) {
	filter := bson.M{
		"status":      string(StatusAccepted),
		"accepted_at": bson.M{"$lt": before},
	}
	opts := options.Find().SetSort(bson.D{{Key: "accepted_at", Value: 1}}).SetLimit(int64(listLimit(limit)))
	return s.find(ctx, "trip.ListStaleAccepted", filter, opts)
}

func (s *MongoStore) CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error) {
	n, err := s.trips.CountDocuments(ctx, bson.M{
		"driver_id": string(driverID),
		"status":    bson.M{"$in": bson.A{string(StatusAccepted), string(StatusInProgress)}},
	})
	if err != nil {
		return 0, fmt.Errorf("trip.CountActiveByDriver: %w", err)
	}
	return int(n), nil
}

func (s *MongoStore) find(ctx context.Context, op string, filter bson.M, opts *options.FindOptions) ([]*Trip, error) {
	cur, err := s.trips.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var docs []tripDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]*Trip, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toTrip())
	}
	return out, nil
}
