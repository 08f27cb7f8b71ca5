// README: Profile handlers for the caller's own public profile.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"tripmatch/internal/http/dto"
	"tripmatch/internal/http/middleware"
	"tripmatch/internal/modules/profile"
)

type ProfileHandler struct {
	profiles *profile.Service
}

func NewProfileHandler(svc *profile.Service) *ProfileHandler {
	return &ProfileHandler{profiles: svc}
}

func (h *ProfileHandler) Me(c *gin.Context) {
	p, err := h.profiles.Get(c.Request.Context(), middleware.CallerUID(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.ProfileResponse{Profile: *p.PublicView()})
}

func (h *ProfileHandler) UpsertMe(c *gin.Context) {
	var req dto.UpsertProfileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "validation_error", "invalid json")
		return
	}
	s := middleware.CurrentSession(c)
	p, err := h.profiles.Upsert(c.Request.Context(), profile.UpsertCommand{
		UserID:       s.UserID,
		Role:         s.Role,
		Name:         req.Name,
		Phone:        req.Phone,
		VehicleType:  req.VehicleType,
		VehiclePlate: req.VehiclePlate,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, dto.ProfileResponse{Profile: *p.PublicView()})
}
