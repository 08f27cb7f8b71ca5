// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/modules/profile"
	"tripmatch/internal/modules/trip"
)

// isValidID ensures IDs are hex and at most 32 chars (matches current ID generator).
func isValidID(v string) bool {
	if v == "" || len(v) > 32 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F') {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, code, msg string) {
	writeJSON(c, status, dto.ErrorResponse{Error: msg, Code: code})
}

// tripErrorStatus maps service errors onto HTTP status and error code.
func tripErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, trip.ErrValidation), errors.Is(err, profile.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, trip.ErrNotFound), errors.Is(err, profile.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, trip.ErrAlreadyTaken):
		return http.StatusConflict, "already_taken"
	case errors.Is(err, trip.ErrDriverBusy):
		return http.StatusConflict, "driver_busy"
	case errors.Is(err, trip.ErrIllegalTransition):
		return http.StatusConflict, "illegal_transition"
	case errors.Is(err, trip.ErrUnauthorized):
		return http.StatusForbidden, "unauthorized"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func writeServiceError(c *gin.Context, err error) {
	status, code := tripErrorStatus(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, code, "internal error")
		return
	}
	writeError(c, status, code, err.Error())
}

// tripID reads and checks the :id path parameter, writing 404 when malformed.
func tripID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusNotFound, "not_found", trip.ErrNotFound.Error())
		return "", false
	}
	return id, true
}
