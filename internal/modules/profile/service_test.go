package profile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tripmatch/internal/types"
)

func TestUpsertAndPublicView(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	_, err := svc.Upsert(ctx, UpsertCommand{
		UserID:       "drv-1",
		Role:         types.RoleDriver,
		Name:         "Ravi",
		Phone:        "+919800000001",
		VehicleType:  "sedan",
		VehiclePlate: "KA01AB1234",
	})
	require.NoError(t, err)

	pub, err := svc.PublicProfile(ctx, "drv-1")
	require.NoError(t, err)
	assert.Equal(t, "Ravi", pub.Name)
	assert.Equal(t, "KA01AB1234", pub.VehiclePlate)

	_, err = svc.Upsert(ctx, UpsertCommand{
		UserID:      "own-1",
		Role:        types.RoleOwner,
		Name:        "Asha",
		Phone:       "+919800000002",
		VehicleType: "suv",
	})
	require.NoError(t, err)

	pub, err = svc.PublicProfile(ctx, "own-1")
	require.NoError(t, err)
	assert.Equal(t, "+919800000002", pub.Phone)
	assert.Empty(t, pub.VehicleType, "owner vehicle details stay private")
}

func TestUpsertValidation(t *testing.T) {
	svc := NewService(NewMemoryStore())

	_, err := svc.Upsert(context.Background(), UpsertCommand{UserID: "u1", Role: "admin", Name: "x"})
	assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
	assert.EqualError(t, err, "validation error: Role must satisfy oneof=owner driver")

	_, err = svc.Upsert(context.Background(), UpsertCommand{UserID: "u1", Role: types.RoleOwner})
	assert.True(t, errors.Is(err, ErrValidation), "got %v", err)
	assert.EqualError(t, err, "validation error: Name must satisfy required")
}

func TestPublicProfileNotFound(t *testing.T) {
	_, err := NewService(NewMemoryStore()).PublicProfile(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
