// README: Trip service implements creation, the driver feed and the acceptance race.
package trip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"tripmatch/internal/modules/geo"
	"tripmatch/internal/modules/notify"
	"tripmatch/internal/modules/profile"
	"tripmatch/internal/types"
)

const (
	DefaultFeedLimit    = 50
	MaxFeedLimit        = 200
	DefaultFeedRadiusKm = 25.0
	DefaultPollInterval = 4 * time.Second
	DefaultCurrency     = "INR"
)

// RouteEstimator returns driving distance and duration between two locations.
type RouteEstimator interface {
	EstimateRoute(ctx context.Context, from, to types.Location) (distanceKm float64, duration time.Duration, err error)
}

// Geocoder resolves an address to coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (*types.Point, error)
}

// ProfileDirectory supplies counterpart details for status views.
type ProfileDirectory interface {
	PublicProfile(ctx context.Context, userID types.ID) (*profile.Public, error)
}

// Observer receives outcome counts; the metrics package implements it.
type Observer interface {
	AcceptOutcome(result string)
	Transitioned(from, to string)
}

type Options struct {
	Estimator          RouteEstimator
	Geocoder           Geocoder
	Notifier           notify.Publisher
	Profiles           ProfileDirectory
	Observer           Observer
	Logger             *zap.Logger
	MaxActivePerDriver int
	PollInterval       time.Duration
	FeedRadiusKm       float64
	Currency           string
	Now                func() time.Time
}

type Service struct {
	store     Store
	estimator RouteEstimator
	geocoder  Geocoder
	notifier  notify.Publisher
	profiles  ProfileDirectory
	observer  Observer
	log       *zap.Logger
	validate  *validator.Validate
	statuses  singleflight.Group

	maxActivePerDriver int
	pollInterval       time.Duration
	feedRadiusKm       float64
	currency           string
	now                func() time.Time
}

func NewService(store Store, opts Options) *Service {
	s := &Service{
		store:              store,
		estimator:          opts.Estimator,
		geocoder:           opts.Geocoder,
		notifier:           opts.Notifier,
		profiles:           opts.Profiles,
		observer:           opts.Observer,
		log:                opts.Logger,
		validate:           newValidator(),
		maxActivePerDriver: opts.MaxActivePerDriver,
		pollInterval:       opts.PollInterval,
		feedRadiusKm:       opts.FeedRadiusKm,
		currency:           opts.Currency,
		now:                opts.Now,
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.pollInterval <= 0 {
		s.pollInterval = DefaultPollInterval
	}
	if s.feedRadiusKm <= 0 {
		s.feedRadiusKm = DefaultFeedRadiusKm
	}
	if s.currency == "" {
		s.currency = DefaultCurrency
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type CreateCommand struct {
	OwnerID     types.ID       `validate:"required"`
	Pickup      types.Location `validate:"required"`
	Drop        types.Location `validate:"required"`
	VehicleType string         `validate:"required,vehicletype"`
	Passengers  int            `validate:"gt=0,lte=50"`
	StartTime   time.Time      `validate:"required"`
	Price       types.Money
}

type AcceptCommand struct {
	TripID   types.ID
	DriverID types.ID
}

type FeedQuery struct {
	DriverID    types.ID
	VehicleType string
	Near        *types.Point
	RadiusKm    float64
	Limit       int
	// SortByDistance orders geo-filtered results nearest first instead of newest first.
	SortByDistance bool
}

type FeedItem struct {
	Trip       *Trip
	DistanceKm *float64
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Trip, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, validationError(err)
	}
	if cmd.Price.IsNegative() {
		return nil, fmt.Errorf("%w: Price must be >= 0", ErrValidation)
	}
	if cmd.Price.Currency == "" {
		cmd.Price.Currency = s.currency
	}

	now := s.now().UTC()
	t := &Trip{
		ID:            types.NewID(),
		OwnerID:       cmd.OwnerID,
		Pickup:        cmd.Pickup,
		Drop:          cmd.Drop,
		VehicleType:   cmd.VehicleType,
		Passengers:    cmd.Passengers,
		Price:         cmd.Price,
		Status:        StatusOpen,
		StatusVersion: 0,
		StartTime:     cmd.StartTime.UTC(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.geocode(ctx, &t.Pickup)
	s.geocode(ctx, &t.Drop)
	s.estimate(ctx, t)

	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	s.recordTransition(ctx, t, StatusNone, types.RoleOwner, &cmd.OwnerID)
	return t, nil
}

func (s *Service) geocode(ctx context.Context, l *types.Location) {
	if s.geocoder == nil || l.Point != nil {
		return
	}
	p, err := s.geocoder.Geocode(ctx, l.Address)
	if err != nil {
		s.log.Warn("geocode failed", zap.String("address", l.Address), zap.Error(err))
		return
	}
	l.Point = p
}

// estimate fills route estimates. Failures never block creation.
func (s *Service) estimate(ctx context.Context, t *Trip) {
	if s.estimator != nil {
		km, dur, err := s.estimator.EstimateRoute(ctx, t.Pickup, t.Drop)
		if err == nil {
			mins := int(dur.Round(time.Minute) / time.Minute)
			t.EstimatedDistanceKm = &km
			t.EstimatedDurationMin = &mins
			return
		}
		s.log.Warn("route estimate failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
	}
	if t.Pickup.Point != nil && t.Drop.Point != nil {
		km := geo.DistanceKm(*t.Pickup.Point, *t.Drop.Point)
		t.EstimatedDistanceKm = &km
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Trip, error) {
	return s.store.Get(ctx, id)
}

// Feed lists OPEN trips for a driver, newest first.
func (s *Service) Feed(ctx context.Context, q FeedQuery) ([]FeedItem, error) {
	vehicle := q.VehicleType
	if vehicle == VehicleAny {
		vehicle = ""
	}
	if vehicle != "" && !IsVehicleType(vehicle) {
		return nil, fmt.Errorf("%w: unknown vehicle type %q", ErrValidation, q.VehicleType)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultFeedLimit
	}
	if limit > MaxFeedLimit {
		limit = MaxFeedLimit
	}

	filter := FeedFilter{VehicleType: vehicle, ExcludeOwner: q.DriverID, Limit: limit}
	radius := q.RadiusKm
	if q.Near != nil {
		if err := s.validate.Struct(q.Near); err != nil {
			return nil, validationError(err)
		}
		if radius <= 0 {
			radius = s.feedRadiusKm
		}
		box := geo.BoundingBox(*q.Near, radius)
		filter.Box = &box
	}

	trips, err := s.store.ListOpen(ctx, filter)
	if err != nil {
		return nil, err
	}

	items := make([]FeedItem, 0, len(trips))
	for _, t := range trips {
		item := FeedItem{Trip: t}
		if q.Near != nil {
			d := geo.DistanceKm(*q.Near, *t.Pickup.Point)
			if d > radius {
				continue
			}
			item.DistanceKm = &d
		}
		items = append(items, item)
	}
	if q.Near != nil && q.SortByDistance {
		geo.SortByDistance(items, func(i FeedItem) float64 { return *i.DistanceKm })
	}
	return items, nil
}

// Accept assigns the driver with one conditional write. Of any number of
// concurrent calls for the same trip at most one returns a trip.
func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*Trip, error) {
	if cmd.TripID == "" || cmd.DriverID == "" {
		return nil, fmt.Errorf("%w: trip id and driver id are required", ErrValidation)
	}
	if s.maxActivePerDriver > 0 {
		n, err := s.store.CountActiveByDriver(ctx, cmd.DriverID)
		if err != nil {
			s.observeAccept("error")
			return nil, err
		}
		if n >= s.maxActivePerDriver {
			s.observeAccept("driver_busy")
			return nil, fmt.Errorf("%w: %d active trips", ErrDriverBusy, n)
		}
	}

	now := s.now().UTC()
	t, err := s.store.Accept(ctx, cmd.TripID, cmd.DriverID, now)
	if err != nil {
		s.observeAccept("error")
		return nil, err
	}
	if t == nil {
		err := s.classifyAcceptMiss(ctx, cmd)
		s.observeAccept(acceptResult(err))
		return nil, err
	}
	s.observeAccept("accepted")
	s.recordTransition(ctx, t, StatusOpen, types.RoleDriver, &cmd.DriverID)
	return t, nil
}

// classifyAcceptMiss reads the trip only to explain a failed conditional write.
func (s *Service) classifyAcceptMiss(ctx context.Context, cmd AcceptCommand) error {
	t, err := s.store.Get(ctx, cmd.TripID)
	if err != nil {
		return err
	}
	if t.OwnerID == cmd.DriverID {
		return fmt.Errorf("%w: owners cannot accept their own trip", ErrUnauthorized)
	}
	return fmt.Errorf("%w: trip is %s", ErrAlreadyTaken, t.Status)
}

func acceptResult(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyTaken):
		return "already_taken"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	default:
		return "error"
	}
}

// History lists trips where the caller is the owner (owners) or the driver (drivers).
func (s *Service) History(ctx context.Context, caller types.Caller, page types.Page) ([]*Trip, error) {
	if caller.ID == "" {
		return nil, fmt.Errorf("%w: caller id is required", ErrValidation)
	}
	return s.store.ListByParty(ctx, caller.ID, caller.Role, page)
}

// Events returns the transition log of a trip to one of its parties.
func (s *Service) Events(ctx context.Context, tripID types.ID, caller types.Caller) ([]Event, error) {
	t, err := s.store.Get(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !t.IsParty(caller.ID) {
		return nil, ErrUnauthorized
	}
	return s.store.ListEvents(ctx, tripID)
}

// recordTransition appends the audit event and publishes the change. t must be
// the trip as returned by the conditional write, never a later read. The
// write is already committed, so failures here are logged only.
func (s *Service) recordTransition(ctx context.Context, t *Trip, from Status, role types.Role, actorID *types.ID) {
	ctx = context.WithoutCancel(ctx)
	if err := s.store.AppendEvent(ctx, &Event{
		TripID:     t.ID,
		FromStatus: from,
		ToStatus:   t.Status,
		ActorRole:  role,
		ActorID:    actorID,
		CreatedAt:  t.UpdatedAt,
	}); err != nil {
		s.log.Error("append trip event failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
	}
	if s.observer != nil {
		s.observer.Transitioned(string(from), string(t.Status))
	}
	s.log.Info("trip transition",
		zap.String("trip_id", string(t.ID)),
		zap.String("from", string(from)),
		zap.String("to", string(t.Status)),
		zap.String("actor_role", string(role)),
	)
	if s.notifier == nil {
		return
	}
	c := notify.Change{
		TripID:     string(t.ID),
		FromStatus: string(from),
		Status:     string(t.Status),
		OwnerID:    string(t.OwnerID),
		Version:    t.StatusVersion,
		ActorRole:  string(role),
		At:         t.UpdatedAt,
	}
	if t.DriverID != nil {
		c.DriverID = string(*t.DriverID)
	}
	if err := s.notifier.Publish(ctx, c); err != nil {
		s.log.Warn("publish trip change failed", zap.String("trip_id", string(t.ID)), zap.Error(err))
	}
}

func (s *Service) observeAccept(result string) {
	if s.observer != nil {
		s.observer.AcceptOutcome(result)
	}
}
