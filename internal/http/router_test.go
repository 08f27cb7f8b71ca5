package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmhttp "tripmatch/internal/http"
	"tripmatch/internal/http/dto"
	"tripmatch/internal/http/handlers"
	"tripmatch/internal/infra"
	"tripmatch/internal/metrics"
	"tripmatch/internal/modules/notify"
	"tripmatch/internal/modules/profile"
	"tripmatch/internal/modules/tracking"
	"tripmatch/internal/modules/trip"
)

// tokenTable resolves "Bearer <uid>:<role>" without any signature check.
type tokenTable struct{}

func (tokenTable) VerifyIDToken(_ context.Context, raw string) (*infra.Token, error) {
	uid, role, ok := strings.Cut(raw, ":")
	if !ok || uid == "" {
		return nil, errors.New("bad token")
	}
	return &infra.Token{UID: uid, Claims: map[string]interface{}{"role": role}}, nil
}

type fixture struct {
	router   http.Handler
	trips    *trip.Service
	profiles *profile.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bus := notify.NewMemoryBus()
	profiles := profile.NewService(profile.NewMemoryStore())
	trips := trip.NewService(trip.NewMemoryStore(), trip.Options{
		Notifier:     bus,
		Profiles:     profiles,
		PollInterval: 50 * time.Millisecond,
	})
	reg := prometheus.NewRegistry()
	router := tmhttp.NewRouter(tmhttp.RouterDeps{
		Trips:    trips,
		Profiles: profiles,
		Watcher:  &tracking.Watcher{Source: trips, Bus: bus},
		Verifier: tokenTable{},
		Metrics:  metrics.New(reg),
		Gatherer: reg,
		Checks: map[string]handlers.Pinger{
			"store": func(context.Context) error { return nil },
		},
	})
	return &fixture{router: router, trips: trips, profiles: profiles}
}

func (f *fixture) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

const (
	ownerTok   = "owner1:owner"
	driverTok  = "driver1:driver"
	driver2Tok = "driver2:driver"
)

func createBody() map[string]any {
	return map[string]any{
		"pickupLocation":       map[string]any{"address": "MG Road", "coordinates": map[string]any{"lat": 12.975, "lng": 77.606}},
		"dropLocation":         map[string]any{"address": "Airport"},
		"vehicleTypeRequested": "sedan",
		"passengers":           2,
		"startTime":            time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		"price":                1500,
	}
}

func (f *fixture) createTrip(t *testing.T) dto.Trip {
	t.Helper()
	w := f.do(t, http.MethodPost, "/trips", ownerTok, createBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.TripResponse](t, w).Trip
}

func TestTripFlow(t *testing.T) {
	f := newFixture(t)

	created := f.createTrip(t)
	assert.Equal(t, "OPEN", created.Status)
	assert.Nil(t, created.DriverID)
	assert.Equal(t, "owner1", created.OwnerID)

	feed := decode[dto.TripsResponse](t, f.do(t, http.MethodGet, "/trips/feed?vehicleType=sedan", driverTok, nil))
	require.Len(t, feed.Trips, 1)
	assert.Equal(t, created.ID, feed.Trips[0].ID)

	w := f.do(t, http.MethodPost, "/trips/"+created.ID+"/accept", driverTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	accepted := decode[dto.TripResponse](t, w).Trip
	assert.Equal(t, "ACCEPTED", accepted.Status)
	require.NotNil(t, accepted.DriverID)
	assert.Equal(t, "driver1", *accepted.DriverID)

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/accept", driver2Tok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "already_taken", decode[dto.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/complete", driverTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "illegal_transition", decode[dto.ErrorResponse](t, w).Code)

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/start", driver2Tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/start", driverTok, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/complete", driverTok, map[string]any{"finalPrice": 1650})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[dto.TripResponse](t, w).Trip
	assert.Equal(t, "COMPLETED", done.Status)
	require.NotNil(t, done.FinalPrice)
	assert.EqualValues(t, 1650, *done.FinalPrice)

	status := decode[dto.StatusResponse](t, f.do(t, http.MethodGet, "/trips/"+created.ID+"/status", ownerTok, nil))
	assert.True(t, status.Terminal)
	assert.Equal(t, int64(50), status.PollIntervalMs)

	w = f.do(t, http.MethodGet, "/trips/"+created.ID+"/status", driver2Tok, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	hist := decode[dto.HistoryResponse](t, f.do(t, http.MethodGet, "/trips/history?page=1&limit=10", driverTok, nil))
	require.Len(t, hist.Trips, 1)
	assert.Equal(t, 10, hist.Limit)

	audit := decode[dto.EventsResponse](t, f.do(t, http.MethodGet, "/trips/"+created.ID+"/audit", ownerTok, nil))
	require.Len(t, audit.Events, 4)
	assert.Equal(t, "COMPLETED", audit.Events[3].ToStatus)
}

func TestCancelByOwnerWithReason(t *testing.T) {
	f := newFixture(t)
	created := f.createTrip(t)

	w := f.do(t, http.MethodPost, "/trips/"+created.ID+"/cancel", ownerTok, map[string]any{"reason": "plans changed"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	got := decode[dto.TripResponse](t, w).Trip
	assert.Equal(t, "CANCELLED", got.Status)
	require.NotNil(t, got.CancelledBy)
	assert.Equal(t, "owner", *got.CancelledBy)

	w = f.do(t, http.MethodPost, "/trips/"+created.ID+"/cancel", ownerTok, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestRequestErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		status int
		code   string
	}{
		{"no token", http.MethodGet, "/trips/feed", "", nil, http.StatusUnauthorized, "unauthenticated"},
		{"driver cannot create", http.MethodPost, "/trips", driverTok, createBody(), http.StatusForbidden, "unauthorized"},
		{"owner cannot browse feed", http.MethodGet, "/trips/feed", ownerTok, nil, http.StatusForbidden, "unauthorized"},
		{"missing fields", http.MethodPost, "/trips", ownerTok, map[string]any{"passengers": 1}, http.StatusBadRequest, "validation_error"},
		{"bad vehicle filter", http.MethodGet, "/trips/feed?vehicleType=bus", driverTok, nil, http.StatusBadRequest, "validation_error"},
		{"half a point", http.MethodGet, "/trips/feed?lat=12.9", driverTok, nil, http.StatusBadRequest, "validation_error"},
		{"bad limit", http.MethodGet, "/trips/feed?limit=x", driverTok, nil, http.StatusBadRequest, "validation_error"},
		{"malformed id", http.MethodPost, "/trips/not-an-id!/accept", driverTok, nil, http.StatusNotFound, "not_found"},
		{"unknown trip", http.MethodGet, "/trips/0123456789abcdef0123456789abcdef/status", ownerTok, nil, http.StatusNotFound, "not_found"},
		{"no profile yet", http.MethodGet, "/profiles/me", ownerTok, nil, http.StatusNotFound, "not_found"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decode[dto.ErrorResponse](t, w).Code)
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/trips", strings.NewReader("{"))
	req.Header.Set("Authorization", "Bearer "+ownerTok)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusCounterpartAfterProfileUpsert(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodPut, "/profiles/me", driverTok, map[string]any{
		"name": "Ravi", "phone": "+91-900", "vehicleType": "sedan", "vehiclePlate": "KA01AB1234",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	created := f.createTrip(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/trips/"+created.ID+"/accept", driverTok, nil).Code)

	status := decode[dto.StatusResponse](t, f.do(t, http.MethodGet, "/trips/"+created.ID+"/status", ownerTok, nil))
	require.NotNil(t, status.Counterpart)
	assert.Equal(t, "Ravi", status.Counterpart.Name)
	assert.False(t, status.Terminal)
}

func TestEventsStreamEndsOnTerminal(t *testing.T) {
	f := newFixture(t)
	created := f.createTrip(t)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = f.do(t, http.MethodPost, "/trips/"+created.ID+"/cancel", ownerTok, nil)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/trips/"+created.ID+"/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer "+ownerTok)
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	require.NoError(t, ctx.Err(), "stream should end on its own")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event:status"), body)
	assert.Contains(t, body, `"status":"CANCELLED"`)
}

func TestEventsStreamUnknownTrip(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/trips/0123456789abcdef0123456789abcdef/events", ownerTok, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode[dto.ErrorResponse](t, w).Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/readyz", "", nil).Code)

	f.createTrip(t)
	w := f.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "tripmatch_http_requests_total")
}
