// README: Probe cases: environment, the end-to-end trip scenario, error mapping, acceptance race and throughput.
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"tripmatch/internal/client"
	"tripmatch/internal/http/dto"
	"tripmatch/internal/infra"
	"tripmatch/internal/modules/tracking"
	"tripmatch/internal/types"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg    Config
	minter *infra.JWTVerifier
	db     *pgxpool.Pool
	redis  *redis.Client
	// runID keeps user ids unique across runs against a persistent store.
	runID string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) (*Runner, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("bench: base url is required")
	}
	r := &Runner{cfg: cfg, runID: uuid.NewString()[:8]}
	if cfg.JWTSecret != "" {
		r.minter = infra.NewJWTVerifier(cfg.JWTSecret, cfg.JWTIssuer)
	}
	return r, nil
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		start := time.Now()
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		if res.Latency == 0 {
			res.Latency = time.Since(start)
		}
		results = append(results, res)
		fmt.Printf("%-5s %s (%s)", res.Status, tc.Name, res.Latency.Round(time.Millisecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

// as returns a client authenticated as uid in role.
func (r *Runner) as(uid string, role types.Role) (*client.Client, error) {
	if r.minter == nil {
		return nil, errors.New("jwt secret not configured")
	}
	tok, err := r.minter.Mint(r.runID+"-"+uid, string(role), time.Hour)
	if err != nil {
		return nil, err
	}
	return client.New(r.cfg.BaseURL, tok), nil
}

func pass(note string, args ...any) Result {
	return Result{Status: StatusPass, Note: fmt.Sprintf(note, args...)}
}

func fail(note string, args ...any) Result {
	return Result{Status: StatusFail, Note: fmt.Sprintf(note, args...)}
}

func skip(note string) Result {
	return Result{Status: StatusSkip, Note: note}
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.db.Ping(ctx); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return skip("redis not configured")
			}
			ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
			defer cancel()
			if err := r.redis.Ping(ctx).Err(); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return skip("dsn not configured")
			}
			for _, t := range []string{"trips", "trip_events", "profiles"} {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return fail("%v", err)
				}
				if !exists {
					return fail("missing table: %s", t)
				}
			}
			return pass("")
		}},
		{Name: "API: health", Run: func(ctx context.Context, r *Runner) Result {
			if err := client.New(r.cfg.BaseURL, "").Health(ctx); err != nil {
				return fail("%v", err)
			}
			return pass("")
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			_, err := client.New(r.cfg.BaseURL, "").Feed(ctx, client.FeedParams{})
			var ae *client.APIError
			if errors.As(err, &ae) && ae.Status == 401 {
				return pass("")
			}
			return fail("got %v", err)
		}},
		{Name: "Trip: full lifecycle", Run: scenario},
		{Name: "Trip: invalid create -> validation_error", Run: func(ctx context.Context, r *Runner) Result {
			owner, err := r.as("owner-invalid", types.RoleOwner)
			if err != nil {
				return skip(err.Error())
			}
			req := tripRequest()
			req.Passengers = 0
			_, err = owner.CreateTrip(ctx, req)
			if client.IsCode(err, "validation_error") {
				return pass("")
			}
			return fail("got %v", err)
		}},
		{Name: "Trip: cancelled cannot be accepted", Run: func(ctx context.Context, r *Runner) Result {
			owner, err := r.as("owner-cancel", types.RoleOwner)
			if err != nil {
				return skip(err.Error())
			}
			driver, _ := r.as("driver-cancel", types.RoleDriver)
			t, err := owner.CreateTrip(ctx, tripRequest())
			if err != nil {
				return fail("create: %v", err)
			}
			if _, err := owner.Cancel(ctx, t.ID, "plans changed"); err != nil {
				return fail("cancel: %v", err)
			}
			_, err = driver.Accept(ctx, t.ID)
			if client.IsCode(err, "already_taken") {
				return pass("")
			}
			return fail("accept after cancel: %v", err)
		}},
		{Name: "Trip: stranger cannot start", Run: func(ctx context.Context, r *Runner) Result {
			owner, err := r.as("owner-stranger", types.RoleOwner)
			if err != nil {
				return skip(err.Error())
			}
			driver, _ := r.as("driver-stranger", types.RoleDriver)
			stranger, _ := r.as("stranger", types.RoleDriver)
			t, err := owner.CreateTrip(ctx, tripRequest())
			if err != nil {
				return fail("create: %v", err)
			}
			if _, err := driver.Accept(ctx, t.ID); err != nil {
				return fail("accept: %v", err)
			}
			_, err = stranger.Start(ctx, t.ID)
			if client.IsCode(err, "unauthorized") {
				return pass("")
			}
			return fail("got %v", err)
		}},
		{Name: "Concurrency: multi accept same trip", Run: concurrentAccept},
		{Name: "Concurrency: cancel vs accept", Run: cancelVsAccept},
		{Name: "Poller: stops on terminal status", Run: pollUntilTerminal},
		{Name: "Perf: create trip throughput", Run: perfCreate},
	}
}

func tripRequest() dto.CreateTripRequest {
	return dto.CreateTripRequest{
		PickupLocation:       types.Location{Address: "MG Road, Bengaluru", Point: &types.Point{Lat: 12.9756, Lng: 77.6066}},
		DropLocation:         types.Location{Address: "Kempegowda Airport", Point: &types.Point{Lat: 13.1986, Lng: 77.7066}},
		VehicleTypeRequested: "sedan",
		Passengers:           2,
		StartTime:            time.Now().Add(time.Hour),
		Price:                1500,
	}
}

// scenario walks a trip through create, feed, accept, start, complete and
// checks the illegal moves on the way.
func scenario(ctx context.Context, r *Runner) Result {
	owner, err := r.as("owner-a", types.RoleOwner)
	if err != nil {
		return skip(err.Error())
	}
	driverB, _ := r.as("driver-b", types.RoleDriver)
	driverC, _ := r.as("driver-c", types.RoleDriver)

	t, err := owner.CreateTrip(ctx, tripRequest())
	if err != nil {
		return fail("create: %v", err)
	}
	if t.Status != "OPEN" || t.DriverID != nil {
		return fail("created trip is %s", t.Status)
	}

	feed, err := driverB.Feed(ctx, client.FeedParams{VehicleType: "sedan", Limit: 200})
	if err != nil {
		return fail("feed: %v", err)
	}
	if !containsTrip(feed, t.ID) {
		return fail("trip %s missing from feed", t.ID)
	}

	if _, err := driverB.Accept(ctx, t.ID); err != nil {
		return fail("accept: %v", err)
	}
	if _, err := driverC.Accept(ctx, t.ID); !client.IsCode(err, "already_taken") {
		return fail("second accept: %v", err)
	}
	if _, err := driverB.Complete(ctx, t.ID, nil); !client.IsCode(err, "illegal_transition") {
		return fail("complete before start: %v", err)
	}
	if _, err := driverB.Start(ctx, t.ID); err != nil {
		return fail("start: %v", err)
	}
	done, err := driverB.Complete(ctx, t.ID, nil)
	if err != nil {
		return fail("complete: %v", err)
	}
	if done.Status != "COMPLETED" {
		return fail("final status %s", done.Status)
	}
	if _, err := owner.Cancel(ctx, t.ID, ""); !client.IsCode(err, "illegal_transition") {
		return fail("cancel after complete: %v", err)
	}
	st, err := owner.Status(ctx, t.ID)
	if err != nil {
		return fail("status: %v", err)
	}
	if !st.Terminal {
		return fail("status not terminal")
	}
	return pass("trip=%s", t.ID)
}

func containsTrip(ts []dto.Trip, id string) bool {
	for _, t := range ts {
		if t.ID == id {
			return true
		}
	}
	return false
}

func concurrentAccept(ctx context.Context, r *Runner) Result {
	owner, err := r.as("owner-race", types.RoleOwner)
	if err != nil {
		return skip(err.Error())
	}
	t, err := owner.CreateTrip(ctx, tripRequest())
	if err != nil {
		return fail("create: %v", err)
	}

	var (
		wg    sync.WaitGroup
		won   atomic.Int32
		taken atomic.Int32
		other atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < r.cfg.Concurrency; i++ {
		driver, err := r.as(fmt.Sprintf("driver-race-%d", i), types.RoleDriver)
		if err != nil {
			return fail("%v", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := driver.Accept(ctx, t.ID)
			switch {
			case err == nil:
				won.Add(1)
			case client.IsCode(err, "already_taken"):
				taken.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	if won.Load() != 1 || other.Load() != 0 {
		return fail("winners=%d already_taken=%d other=%d", won.Load(), taken.Load(), other.Load())
	}
	return pass("winners=1 already_taken=%d", taken.Load())
}

func cancelVsAccept(ctx context.Context, r *Runner) Result {
	owner, err := r.as("owner-cva", types.RoleOwner)
	if err != nil {
		return skip(err.Error())
	}
	driver, _ := r.as("driver-cva", types.RoleDriver)
	t, err := owner.CreateTrip(ctx, tripRequest())
	if err != nil {
		return fail("create: %v", err)
	}

	var wg sync.WaitGroup
	var acceptErr, cancelErr error
	wg.Add(2)
	go func() { defer wg.Done(); _, acceptErr = driver.Accept(ctx, t.ID) }()
	go func() { defer wg.Done(); _, cancelErr = owner.Cancel(ctx, t.ID, "race") }()
	wg.Wait()
	// A cancel that read OPEN and lost the CAS to accept is retried once, as a client would.
	if client.IsCode(cancelErr, "illegal_transition") {
		_, cancelErr = owner.Cancel(ctx, t.ID, "race")
	}

	st, err := owner.Status(ctx, t.ID)
	if err != nil {
		return fail("status: %v", err)
	}
	if cancelErr != nil {
		return fail("cancel lost: %v", cancelErr)
	}
	if st.Trip.Status != "CANCELLED" {
		return fail("final status %s", st.Trip.Status)
	}
	// Either order is valid; the driver is on record only if accept won.
	if (acceptErr == nil) != (st.Trip.DriverID != nil) {
		return fail("accept err=%v driver=%v", acceptErr, st.Trip.DriverID)
	}
	return pass("accept first=%t", acceptErr == nil)
}

func pollUntilTerminal(ctx context.Context, r *Runner) Result {
	owner, err := r.as("owner-poll", types.RoleOwner)
	if err != nil {
		return skip(err.Error())
	}
	t, err := owner.CreateTrip(ctx, tripRequest())
	if err != nil {
		return fail("create: %v", err)
	}
	changes := 0
	p := &tracking.Poller{
		Fetcher:  owner,
		Interval: 200 * time.Millisecond,
		OnChange: func(tracking.Snapshot) { changes++ },
	}
	go func() {
		time.Sleep(500 * time.Millisecond)
		_, _ = owner.Cancel(ctx, t.ID, "")
	}()
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	last, err := p.Run(ctx, t.ID)
	if err != nil {
		return fail("poll: %v", err)
	}
	if last.Status != "CANCELLED" {
		return fail("last status %s", last.Status)
	}
	return pass("changes=%d", changes)
}

func perfCreate(ctx context.Context, r *Runner) Result {
	owner, err := r.as("owner-perf", types.RoleOwner)
	if err != nil {
		return skip(err.Error())
	}
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				if _, err := owner.CreateTrip(ctx, tripRequest()); err != nil {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return fail("no requests completed")
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return pass("rps=%.1f errors=%d", rps, errCount.Load())
}
