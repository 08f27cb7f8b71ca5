// README: Server-Sent Events stream of trip status changes.
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/http/middleware"
	"tripmatch/internal/modules/tracking"
	"tripmatch/internal/types"
)

type EventsHandler struct {
	watcher *tracking.Watcher
	log     *zap.Logger
}

func NewEventsHandler(w *tracking.Watcher, log *zap.Logger) *EventsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &EventsHandler{watcher: w, log: log}
}

// Stream serves GET /trips/:id/events. Errors before the first frame are
// answered as ordinary JSON errors; after that the stream just ends.
func (h *EventsHandler) Stream(c *gin.Context) {
	id, ok := tripID(c)
	if !ok {
		return
	}
	started := false
	emit := func(f tracking.Frame) error {
		if !started {
			started = true
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
		}
		if f.View == nil {
			c.SSEvent(f.Event, gin.H{})
		} else {
			c.SSEvent(f.Event, dto.FromStatus(f.View))
		}
		c.Writer.Flush()
		return c.Request.Context().Err()
	}

	err := h.watcher.Stream(c.Request.Context(), types.ID(id), middleware.CurrentSession(c).Caller(), emit)
	switch {
	case err == nil:
	case !started:
		writeServiceError(c, err)
	case errors.Is(err, context.Canceled):
	default:
		h.log.Warn("trip event stream ended", zap.String("trip_id", id), zap.Error(err))
	}
}
