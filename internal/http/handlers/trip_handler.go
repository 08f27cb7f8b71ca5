// README: Trip handlers: create, feed, accept, lifecycle, status, history, audit.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/http/middleware"
	"tripmatch/internal/modules/trip"
	"tripmatch/internal/types"
)

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

func (h *TripHandler) Create(c *gin.Context) {
	var req dto.CreateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	t, err := h.trips.Create(c.Request.Context(), trip.CreateCommand{
		OwnerID:     middleware.CallerUID(c),
		Pickup:      req.PickupLocation,
		Drop:        req.DropLocation,
		VehicleType: req.VehicleTypeRequested,
		Passengers:  req.Passengers,
		StartTime:   req.StartTime,
		Price:       types.Money{Amount: req.Price, Currency: req.Currency},
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, dto.TripResponse{Trip: dto.FromTrip(t)})
}

// Feed serves GET /trips/feed?vehicleType=&lat=&lng=&radiusKm=&limit=&sort=distance.
func (h *TripHandler) Feed(c *gin.Context) {
	q := trip.FeedQuery{
		DriverID:       middleware.CallerUID(c),
		VehicleType:    c.Query("vehicleType"),
		SortByDistance: c.Query("sort") == "distance",
	}
	var err error
	if q.Limit, err = queryInt(c, "limit"); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if q.RadiusKm, err = queryFloat(c, "radiusKm"); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	lat, lng := c.Query("lat"), c.Query("lng")
	switch {
	case lat == "" && lng == "":
	case lat == "" || lng == "":
		writeError(c, http.StatusBadRequest, "validation_error", "lat and lng must be given together")
		return
	default:
		p := &types.Point{}
		if p.Lat, err = queryFloat(c, "lat"); err != nil {
			writeError(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		if p.Lng, err = queryFloat(c, "lng"); err != nil {
			writeError(c, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		q.Near = p
	}

	items, err := h.trips.Feed(c.Request.Context(), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.TripsResponse{Trips: dto.FromFeed(items)})
}

func (h *TripHandler) Accept(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	t, err := h.trips.Accept(c.Request.Context(), trip.AcceptCommand{
		TripID:   types.ID(id),
		DriverID: middleware.CallerUID(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.TripResponse{Trip: dto.FromTrip(t)})
}

func (h *TripHandler) Start(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	t, err := h.trips.Start(c.Request.Context(), trip.StartCommand{
		TripID:   types.ID(id),
		CallerID: middleware.CallerUID(c),
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.TripResponse{Trip: dto.FromTrip(t)})
}

func (h *TripHandler) Complete(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	var req dto.CompleteTripRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	cmd := trip.CompleteCommand{TripID: types.ID(id), CallerID: middleware.CallerUID(c)}
	if req.FinalPrice != nil {
		cmd.FinalPrice = &types.Money{Amount: *req.FinalPrice}
	}
	t, err := h.trips.Complete(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.TripResponse{Trip: dto.FromTrip(t)})
}

func (h *TripHandler) Cancel(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	var req dto.CancelTripRequest
	if !bindOptionalJSON(c, &req) {
		return
	}
	t, err := h.trips.Cancel(c.Request.Context(), trip.CancelCommand{
		TripID:   types.ID(id),
		CallerID: middleware.CallerUID(c),
		Reason:   req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.TripResponse{Trip: dto.FromTrip(t)})
}

func (h *TripHandler) Status(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	view, err := h.trips.Status(c.Request.Context(), types.ID(id), middleware.CurrentSession(c).Caller())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.FromStatus(view))
}

// History serves GET /trips/history?page=&limit=.
func (h *TripHandler) History(c *gin.Context) {
	number, err := queryInt(c, "page")
	if err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	size, err := queryInt(c, "limit")
	if err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	page := types.Page{Number: number, Size: size}.Normalize()
	trips, err := h.trips.History(c.Request.Context(), middleware.CurrentSession(c).Caller(), page)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.HistoryResponse{Trips: dto.FromTrips(trips), Page: page.Number, Limit: page.Size})
}

// Audit serves the transition log of one trip to its parties.
func (h *TripHandler) Audit(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	events, err := h.trips.Events(c.Request.Context(), types.ID(id), middleware.CurrentSession(c).Caller())
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.EventsResponse{Events: dto.FromEvents(events)})
}

// bindOptionalJSON decodes the body when there is one. Lifecycle endpoints
// accept an empty body.
func bindOptionalJSON(c *gin.Context, v any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(v); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return false
	}
	return true
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, &queryError{key: key}
	}
	return n, nil
}

func queryFloat(c *gin.Context, key string) (float64, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &queryError{key: key}
	}
	return f, nil
}

type queryError struct{ key string }

func (e *queryError) Error() string { return "invalid query parameter " + e.key }
