// README: Concurrency tests for the acceptance race and lifecycle writes (run with -race).
package trip

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripmatch/internal/modules/notify"
	"tripmatch/internal/types"
)

func TestConcurrentAcceptSameTrip(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		svc := NewService(store, Options{})
		owner := uniq("owner")

		tr, err := svc.Create(ctx, sampleCreate(owner))
		require.NoError(t, err)

		const drivers = 32
		var wg sync.WaitGroup
		start := make(chan struct{})
		type outcome struct {
			driver types.ID
			err    error
		}
		results := make(chan outcome, drivers)

		for i := 0; i < drivers; i++ {
			driver := types.ID(fmt.Sprintf("%s-d%02d", owner, i))
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: driver})
				results <- outcome{driver: driver, err: err}
			}()
		}
		close(start)
		wg.Wait()
		close(results)

		var winners []types.ID
		for r := range results {
			if r.err == nil {
				winners = append(winners, r.driver)
				continue
			}
			if !errors.Is(r.err, ErrAlreadyTaken) {
				t.Fatalf("unexpected error for %s: %v", r.driver, r.err)
			}
		}
		require.Len(t, winners, 1, "exactly one driver must win")

		got, err := svc.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, got.Status)
		require.NotNil(t, got.DriverID)
		assert.Equal(t, winners[0], *got.DriverID)
		assert.Equal(t, 1, got.StatusVersion)

		events, err := store.ListEvents(ctx, tr.ID)
		require.NoError(t, err)
		accepted := 0
		for _, e := range events {
			if e.ToStatus == StatusAccepted {
				accepted++
			}
		}
		assert.Equal(t, 1, accepted)
	})
}

func TestConcurrentAcceptVsCancel(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		svc := NewService(store, Options{})
		owner, d := uniq("owner"), uniq("driver")

		tr, err := svc.Create(ctx, sampleCreate(owner))
		require.NoError(t, err)

		var wg sync.WaitGroup
		var acceptErr, cancelErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, acceptErr = svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: d})
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: owner})
		}()
		wg.Wait()

		got, err := svc.Get(ctx, tr.ID)
		require.NoError(t, err)

		switch {
		case acceptErr == nil && cancelErr == nil:
			// Accept landed first and the owner cancelled the accepted trip.
			assert.Equal(t, StatusCancelled, got.Status)
			require.NotNil(t, got.DriverID)
		case acceptErr == nil:
			assert.ErrorIs(t, cancelErr, ErrIllegalTransition)
			assert.Equal(t, StatusAccepted, got.Status)
		case cancelErr == nil:
			assert.ErrorIs(t, acceptErr, ErrAlreadyTaken)
			assert.Equal(t, StatusCancelled, got.Status)
			assert.Nil(t, got.DriverID)
		default:
			t.Fatalf("both failed: accept=%v cancel=%v", acceptErr, cancelErr)
		}
	})
}

func TestConcurrentCancelAppliesOnce(t *testing.T) {
	eachStore(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		svc := NewService(store, Options{})
		owner := uniq("owner")

		tr, err := svc.Create(ctx, sampleCreate(owner))
		require.NoError(t, err)

		const callers = 8
		var wg sync.WaitGroup
		errs := make(chan error, callers)
		for i := 0; i < callers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: owner})
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		success := 0
		for err := range errs {
			if err == nil {
				success++
				continue
			}
			assert.ErrorIs(t, err, ErrIllegalTransition)
		}
		assert.Equal(t, 1, success)

		got, err := svc.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.StatusVersion)
	})
}

// interleavingStore runs afterWrite once, straight after the first successful
// conditional write, so another party's write lands before the service logs.
type interleavingStore struct {
	Store
	fired      atomic.Bool
	afterWrite func()
}

func (s *interleavingStore) fire() {
	if s.fired.CompareAndSwap(false, true) {
		s.afterWrite()
	}
}

func (s *interleavingStore) Accept(ctx context.Context, id, driverID types.ID, at time.Time) (*Trip, error) {
	t, err := s.Store.Accept(ctx, id, driverID, at)
	if t != nil {
		s.fire()
	}
	return t, err
}

func (s *interleavingStore) UpdateStatus(ctx context.Context, tr Transition) (*Trip, error) {
	t, err := s.Store.UpdateStatus(ctx, tr)
	if t != nil {
		s.fire()
	}
	return t, err
}

type recordingPublisher struct {
	mu      sync.Mutex
	changes []notify.Change
}

func (p *recordingPublisher) Publish(_ context.Context, c notify.Change) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, c)
	return nil
}

func edges(events []Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		out = append(out, fmt.Sprintf("%s->%s by %s", e.FromStatus, e.ToStatus, e.ActorRole))
	}
	return out
}

func TestWriteThenForeignCancel_LogsWrittenState(t *testing.T) {
	ctx := context.Background()
	owner, d := types.ID("owner-1"), types.ID("driver-1")

	t.Run("accept", func(t *testing.T) {
		base := NewMemoryStore()
		store := &interleavingStore{Store: base}
		pub := &recordingPublisher{}
		svc := NewService(store, Options{Notifier: pub})

		tr, err := svc.Create(ctx, sampleCreate(owner))
		require.NoError(t, err)
		store.afterWrite = func() {
			_, err := svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: owner})
			require.NoError(t, err)
		}

		accepted, err := svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: d})
		require.NoError(t, err)
		assert.Equal(t, StatusAccepted, accepted.Status)
		assert.Equal(t, 1, accepted.StatusVersion)

		events, err := base.ListEvents(ctx, tr.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"NONE->OPEN by owner",
			"ACCEPTED->CANCELLED by owner",
			"OPEN->ACCEPTED by driver",
		}, edges(events))

		var accepts []notify.Change
		for _, c := range pub.changes {
			if c.Status == string(StatusAccepted) {
				accepts = append(accepts, c)
			}
		}
		require.Len(t, accepts, 1)
		assert.Equal(t, "OPEN", accepts[0].FromStatus)
		assert.Equal(t, 1, accepts[0].Version)
	})

	t.Run("start", func(t *testing.T) {
		base := NewMemoryStore()
		svc := NewService(base, Options{})
		tr, err := svc.Create(ctx, sampleCreate(owner))
		require.NoError(t, err)
		_, err = svc.Accept(ctx, AcceptCommand{TripID: tr.ID, DriverID: d})
		require.NoError(t, err)

		store := &interleavingStore{Store: base}
		svc = NewService(store, Options{})
		store.afterWrite = func() {
			_, err := svc.Cancel(ctx, CancelCommand{TripID: tr.ID, CallerID: owner})
			require.NoError(t, err)
		}

		started, err := svc.Start(ctx, StartCommand{TripID: tr.ID, CallerID: d})
		require.NoError(t, err)
		assert.Equal(t, StatusInProgress, started.Status)
		assert.Equal(t, 2, started.StatusVersion)

		events, err := base.ListEvents(ctx, tr.ID)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{
			"NONE->OPEN by owner",
			"OPEN->ACCEPTED by driver",
			"IN_PROGRESS->CANCELLED by owner",
			"ACCEPTED->IN_PROGRESS by driver",
		}, edges(events))

		got, err := base.Get(ctx, tr.ID)
		require.NoError(t, err)
		assert.Equal(t, StatusCancelled, got.Status)
	})
}
