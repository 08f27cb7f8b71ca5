// README: Public profile directory; supplies counterpart details for trip status views.
package profile

import (
	"errors"
	"time"

	"tripmatch/internal/types"
)

var (
	ErrNotFound   = errors.New("profile not found")
	ErrValidation = errors.New("validation error")
)

type Profile struct {
	UserID       types.ID   `bson:"_id"`
	Role         types.Role `bson:"role"`
	Name         string     `bson:"name"`
	Phone        string     `bson:"phone"`
	VehicleType  string     `bson:"vehicle_type"`
	VehiclePlate string     `bson:"vehicle_plate"`
	Rating       float64    `bson:"rating"`
	UpdatedAt    time.Time  `bson:"updated_at"`
}

// Public is what the other party of a trip may see.
type Public struct {
	UserID       types.ID   `json:"userId"`
	Role         types.Role `json:"role"`
	Name         string     `json:"name"`
	Phone        string     `json:"phone,omitempty"`
	VehicleType  string     `json:"vehicleType,omitempty"`
	VehiclePlate string     `json:"vehiclePlate,omitempty"`
	Rating       float64    `json:"rating,omitempty"`
}

// PublicView hides vehicle details for owners; drivers expose them so the
// owner can identify the car.
func (p *Profile) PublicView() *Public {
	out := &Public{
		UserID: p.UserID,
		Role:   p.Role,
		Name:   p.Name,
		Phone:  p.Phone,
	}
	if p.Role == types.RoleDriver {
		out.VehicleType = p.VehicleType
		out.VehiclePlate = p.VehiclePlate
		out.Rating = p.Rating
	}
	return out
}
