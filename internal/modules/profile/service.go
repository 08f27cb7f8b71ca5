package profile

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"tripmatch/internal/types"
)

type Service struct {
	store    Store
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store) *Service {
	return &Service{
		store:    store,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		now:      time.Now,
	}
}

type UpsertCommand struct {
	UserID       types.ID   `validate:"required"`
	Role         types.Role `validate:"required,oneof=owner driver"`
	Name         string     `validate:"required,max=120"`
	Phone        string     `validate:"omitempty,max=32"`
	VehicleType  string     `validate:"omitempty,max=32"`
	VehiclePlate string     `validate:"omitempty,max=32"`
}

func (s *Service) Upsert(ctx context.Context, cmd UpsertCommand) (*Profile, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrValidation, types.ValidationMessage(err))
	}
	p := &Profile{
		UserID:       cmd.UserID,
		Role:         cmd.Role,
		Name:         cmd.Name,
		Phone:        cmd.Phone,
		VehicleType:  cmd.VehicleType,
		VehiclePlate: cmd.VehiclePlate,
		UpdatedAt:    s.now().UTC(),
	}
	if err := s.store.Upsert(ctx, p); err != nil {
		return nil, err
	}
	return s.store.Get(ctx, cmd.UserID)
}

func (s *Service) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	return s.store.Get(ctx, userID)
}

// PublicProfile returns the counterpart view of a user.
func (s *Service) PublicProfile(ctx context.Context, userID types.ID) (*Public, error) {
	p, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.PublicView(), nil
}
