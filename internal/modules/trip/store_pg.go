// README: Trip store backed by PostgreSQL; status writes are single conditional UPDATEs.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripmatch/internal/types"
)

const defaultListLimit = 200

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const tripColumns = `
	       id, owner_id, driver_id,
	       pickup_address, pickup_lat, pickup_lng,
	       drop_address, drop_lat, drop_lng,
	       vehicle_type, passengers, price, final_price, currency,
	       status, status_version, start_time,
	       estimated_distance_km, estimated_duration_min,
	       created_at, updated_at, accepted_at, started_at, completed_at, cancelled_at,
	       cancelled_by, cancel_reason`

const selectTrip = `SELECT ` + tripColumns + ` FROM trips`

func (s *PGStore) Create(ctx context.Context, t *Trip) error {
	pickupLat, pickupLng := pointArgs(t.Pickup)
	dropLat, dropLng := pointArgs(t.Drop)
	_, err := s.db.Exec(ctx, `
		INSERT INTO trips (
			id, owner_id, driver_id,
			pickup_address, pickup_lat, pickup_lng,
			drop_address, drop_lat, drop_lng,
			vehicle_type, passengers, price, currency,
			status, status_version, start_time,
			estimated_distance_km, estimated_duration_min,
			created_at, updated_at
		) VALUES (
			@id, @owner_id, @driver_id,
			@pickup_address, @pickup_lat, @pickup_lng,
			@drop_address, @drop_lat, @drop_lng,
			@vehicle_type, @passengers, @price, @currency,
			@status, @status_version, @start_time,
			@estimated_distance_km, @estimated_duration_min,
			@created_at, @updated_at
		)`,
		pgx.NamedArgs{
			"id":                     string(t.ID),
			"owner_id":               string(t.OwnerID),
			"driver_id":              idArg(t.DriverID),
			"pickup_address":         t.Pickup.Address,
			"pickup_lat":             pickupLat,
			"pickup_lng":             pickupLng,
			"drop_address":           t.Drop.Address,
			"drop_lat":               dropLat,
			"drop_lng":               dropLng,
			"vehicle_type":           t.VehicleType,
			"passengers":             t.Passengers,
			"price":                  t.Price.Amount,
			"currency":               t.Price.Currency,
			"status":                 string(t.Status),
			"status_version":         t.StatusVersion,
			"start_time":             t.StartTime,
			"estimated_distance_km":  t.EstimatedDistanceKm,
			"estimated_duration_min": t.EstimatedDurationMin,
			"created_at":             t.CreatedAt,
			"updated_at":             t.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("trip.Create: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, selectTrip+` WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trip.Get: %w", err)
	}
	return t, nil
}

func (s *PGStore) ListOpen(ctx context.Context, f FeedFilter) ([]*Trip, error) {
	where := []string{"status = 'OPEN'"}
	args := pgx.NamedArgs{"limit": listLimit(f.Limit)}
	if f.VehicleType != "" {
		where = append(where, "(vehicle_type = @vehicle_type OR vehicle_type = 'any')")
		args["vehicle_type"] = f.VehicleType
	}
	if f.ExcludeOwner != "" {
		where = append(where, "owner_id <> @exclude_owner")
		args["exclude_owner"] = string(f.ExcludeOwner)
	}
	if f.Box != nil {
		where = append(where,
			"pickup_lat BETWEEN @min_lat AND @max_lat",
			"pickup_lng BETWEEN @min_lng AND @max_lng",
		)
		args["min_lat"], args["max_lat"] = f.Box.MinLat, f.Box.MaxLat
		args["min_lng"], args["max_lng"] = f.Box.MinLng, f.Box.MaxLng
	}
	query := selectTrip + " WHERE " + strings.Join(where, " AND ") +
		" ORDER BY created_at DESC, id DESC LIMIT @limit"
	return s.list(ctx, "trip.ListOpen", query, args)
}

func (s *PGStore) ListByParty(ctx context.Context, partyID types.ID, role types.Role, page types.Page) ([]*Trip, error) {
	page = page.Normalize()
	var cond string
	switch role {
	case types.RoleOwner:
		cond = "owner_id = @party"
	case types.RoleDriver:
		cond = "driver_id = @party"
	default:
		cond = "(owner_id = @party OR driver_id = @party)"
	}
	query := selectTrip + " WHERE " + cond + " ORDER BY created_at DESC, id DESC LIMIT @limit OFFSET @offset"
	return s.list(ctx, "trip.ListByParty", query, pgx.NamedArgs{
		"party":  string(partyID),
		"limit":  page.Size,
		"offset": page.Offset(),
	})
}

func (s *PGStore) Accept(ctx context.Context, id, driverID types.ID, at time.Time) (*Trip, error) {
	return s.updateReturning(ctx, "trip.Accept", `
		UPDATE trips
		SET status = 'ACCEPTED',
		    driver_id = $2,
		    status_version = status_version + 1,
		    updated_at = $3,
		    accepted_at = $3
		WHERE id = $1
		  AND status = 'OPEN'
		  AND driver_id IS NULL
		  AND owner_id <> $2
		RETURNING`+tripColumns,
		string(id), string(driverID), at,
	)
}

func (s *PGStore) UpdateStatus(ctx context.Context, tr Transition) (*Trip, error) {
	var finalPrice *int64
	if tr.FinalPrice != nil {
		finalPrice = &tr.FinalPrice.Amount
	}
	return s.updateReturning(ctx, "trip.UpdateStatus", `
		UPDATE trips
		SET status = @to::text,
		    status_version = status_version + 1,
		    updated_at = @at::timestamptz,
		    started_at = CASE WHEN @to::text = 'IN_PROGRESS' THEN @at::timestamptz ELSE started_at END,
		    completed_at = CASE WHEN @to::text = 'COMPLETED' THEN @at::timestamptz ELSE completed_at END,
		    cancelled_at = CASE WHEN @to::text = 'CANCELLED' THEN @at::timestamptz ELSE cancelled_at END,
		    cancelled_by = CASE WHEN @to::text = 'CANCELLED' THEN @actor_role::text ELSE cancelled_by END,
		    cancel_reason = CASE WHEN @to::text = 'CANCELLED' THEN @reason::text ELSE cancel_reason END,
		    final_price = COALESCE(@final_price::bigint, final_price)
		WHERE id = @id AND status = @from AND status_version = @version
		RETURNING`+tripColumns,
		pgx.NamedArgs{
			"id":          string(tr.TripID),
			"from":        string(tr.From),
			"to":          string(tr.To),
			"version":     tr.Version,
			"at":          tr.At,
			"actor_role":  string(tr.ActorRole),
			"reason":      tr.Reason,
			"final_price": finalPrice,
		},
	)
}

// updateReturning runs a conditional UPDATE ... RETURNING and scans the row
// as written. No matching row yields nil, nil.
func (s *PGStore) updateReturning(ctx context.Context, op, query string, args ...any) (*Trip, error) {
	t, err := scanTrip(s.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	err := s.db.QueryRow(ctx, `
		INSERT INTO trip_events (trip_id, from_status, to_status, actor_role, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorRole),
		idArg(e.ActorID),
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("trip.AppendEvent: %w", err)
	}
	return nil
}

func (s *PGStore) ListEvents(ctx context.Context, id types.ID) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, trip_id, from_status, to_status, actor_role, actor_id, created_at
		FROM trip_events
		WHERE trip_id = $1
		ORDER BY id`, string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("trip.ListEvents: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var actorID *string
		if err := rows.Scan(&e.ID, &e.TripID, &e.FromStatus, &e.ToStatus, &e.ActorRole, &actorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("trip.ListEvents: scan: %w", err)
		}
		e.ActorID = toIDPtr(actorID)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trip.ListEvents: %w", err)
	}
	return out, nil
}

func (s *PGStore) ListStaleAccepted(ctx context.Context, before time.Time, limit int) ([]*Trip, error) {
	return s.list(ctx, "trip.ListStaleAccepted",
		selectTrip+` WHERE status = 'ACCEPTED' AND accepted_at < @before ORDER BY accepted_at LIMIT @limit`,
		pgx.NamedArgs{"before": before, "limit": listLimit(limit)},
	)
}

func (s *PGStore) CountActiveByDriver(ctx context.Context, driverID types.ID) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM trips
		WHERE driver_id = $1 AND status IN ('ACCEPTED', 'IN_PROGRESS')`,
		string(driverID),
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("trip.CountActiveByDriver: %w", err)
	}
	return n, nil
}

func (s *PGStore) list(ctx context.Context, op, query string, args pgx.NamedArgs) ([]*Trip, error) {
	rows, err := s.db.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []*Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*Trip, error) {
	var t Trip
	var driverID *string
	var pickupLat, pickupLng, dropLat, dropLng *float64
	var finalPrice *int64
	var cancelledBy *string

	err := row.Scan(
		&t.ID, &t.OwnerID, &driverID,
		&t.Pickup.Address, &pickupLat, &pickupLng,
		&t.Drop.Address, &dropLat, &dropLng,
		&t.VehicleType, &t.Passengers, &t.Price.Amount, &finalPrice, &t.Price.Currency,
		&t.Status, &t.StatusVersion, &t.StartTime,
		&t.EstimatedDistanceKm, &t.EstimatedDurationMin,
		&t.CreatedAt, &t.UpdatedAt, &t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt,
		&cancelledBy, &t.CancelReason,
	)
	if err != nil {
		return nil, err
	}

	t.DriverID = toIDPtr(driverID)
	t.Pickup.Point = toPoint(pickupLat, pickupLng)
	t.Drop.Point = toPoint(dropLat, dropLng)
	if finalPrice != nil {
		t.FinalPrice = &types.Money{Amount: *finalPrice, Currency: t.Price.Currency}
	}
	if cancelledBy != nil {
		r := types.Role(*cancelledBy)
		t.CancelledBy = &r
	}
	return &t, nil
}

func pointArgs(l types.Location) (*float64, *float64) {
	if l.Point == nil {
		return nil, nil
	}
	lat, lng := l.Point.Lat, l.Point.Lng
	return &lat, &lng
}

func toPoint(lat, lng *float64) *types.Point {
	if lat == nil || lng == nil {
		return nil
	}
	return &types.Point{Lat: *lat, Lng: *lng}
}

func idArg(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v *string) *types.ID {
	if v == nil {
		return nil
	}
	id := types.ID(*v)
	return &id
}

func listLimit(n int) int {
	if n <= 0 || n > defaultListLimit {
		return defaultListLimit
	}
	return n
}
