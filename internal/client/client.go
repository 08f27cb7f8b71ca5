// README: Typed HTTP client for the trip API; also the poller's StatusFetcher.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/modules/tracking"
)

// APIError is a non-2xx response decoded from the error body.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api: status %d %s: %s", e.Status, e.Code, e.Message)
}

// Permanent reports whether repeating the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.Status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// IsCode reports whether err is an APIError carrying code.
func IsCode(err error, code string) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.Code == code
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// WithToken returns a copy of the client acting as another caller.
func (c *Client) WithToken(token string) *Client {
	cp := *c
	cp.token = token
	return &cp
}

func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) CreateTrip(ctx context.Context, req dto.CreateTripRequest) (*dto.Trip, error) {
	var out dto.TripResponse
	if err := c.do(ctx, http.MethodPost, "/trips", req, &out); err != nil {
		return nil, err
	}
	return &out.Trip, nil
}

type FeedParams struct {
	VehicleType string
	Lat, Lng    *float64
	RadiusKm    float64
	Limit       int
}

func (c *Client) Feed(ctx context.Context, p FeedParams) ([]dto.Trip, error) {
	q := url.Values{}
	if p.VehicleType != "" {
		q.Set("vehicleType", p.VehicleType)
	}
	if p.Lat != nil && p.Lng != nil {
		q.Set("lat", strconv.FormatFloat(*p.Lat, 'f', -1, 64))
		q.Set("lng", strconv.FormatFloat(*p.Lng, 'f', -1, 64))
	}
	if p.RadiusKm > 0 {
		q.Set("radiusKm", strconv.FormatFloat(p.RadiusKm, 'f', -1, 64))
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	var out dto.TripsResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/trips/feed", q), nil, &out); err != nil {
		return nil, err
	}
	return out.Trips, nil
}

func (c *Client) Accept(ctx context.Context, tripID string) (*dto.Trip, error) {
	return c.tripAction(ctx, tripID, "accept", nil)
}

func (c *Client) Start(ctx context.Context, tripID string) (*dto.Trip, error) {
	return c.tripAction(ctx, tripID, "start", nil)
}

func (c *Client) Complete(ctx context.Context, tripID string, finalPrice *int64) (*dto.Trip, error) {
	return c.tripAction(ctx, tripID, "complete", dto.CompleteTripRequest{FinalPrice: finalPrice})
}

func (c *Client) Cancel(ctx context.Context, tripID, reason string) (*dto.Trip, error) {
	return c.tripAction(ctx, tripID, "cancel", dto.CancelTripRequest{Reason: reason})
}

func (c *Client) tripAction(ctx context.Context, tripID, action string, body any) (*dto.Trip, error) {
	var out dto.TripResponse
	if err := c.do(ctx, http.MethodPost, "/trips/"+url.PathEscape(tripID)+"/"+action, body, &out); err != nil {
		return nil, err
	}
	return &out.Trip, nil
}

func (c *Client) Status(ctx context.Context, tripID string) (*dto.StatusResponse, error) {
	var out dto.StatusResponse
	if err := c.do(ctx, http.MethodGet, "/trips/"+url.PathEscape(tripID)+"/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) History(ctx context.Context, page, limit int) (*dto.HistoryResponse, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out dto.HistoryResponse
	if err := c.do(ctx, http.MethodGet, withQuery("/trips/history", q), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Audit(ctx context.Context, tripID string) ([]dto.Event, error) {
	var out dto.EventsResponse
	if err := c.do(ctx, http.MethodGet, "/trips/"+url.PathEscape(tripID)+"/audit", nil, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

func (c *Client) UpsertProfile(ctx context.Context, req dto.UpsertProfileRequest) error {
	return c.do(ctx, http.MethodPut, "/profiles/me", req, nil)
}

// FetchStatus satisfies tracking.StatusFetcher.
func (c *Client) FetchStatus(ctx context.Context, tripID string) (tracking.Snapshot, error) {
	st, err := c.Status(ctx, tripID)
	if err != nil {
		return tracking.Snapshot{}, err
	}
	snap := tracking.Snapshot{
		TripID:       st.Trip.ID,
		Status:       st.Trip.Status,
		Version:      st.Trip.StatusVersion,
		UpdatedAt:    st.Trip.UpdatedAt,
		Terminal:     st.Terminal,
		PollInterval: time.Duration(st.PollIntervalMs) * time.Millisecond,
	}
	if st.Trip.DriverID != nil {
		snap.DriverID = *st.Trip.DriverID
	}
	return snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		var eb dto.ErrorResponse
		if json.Unmarshal(raw, &eb) == nil && eb.Error != "" {
			apiErr.Code, apiErr.Message = eb.Code, eb.Error
		} else {
			apiErr.Message = strings.TrimSpace(string(raw))
		}
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
