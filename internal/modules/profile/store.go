package profile

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripmatch/internal/types"
)

type Store interface {
	Get(ctx context.Context, userID types.ID) (*Profile, error)
	Upsert(ctx context.Context, p *Profile) error
}

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT user_id, role, name, phone, vehicle_type, vehicle_plate, rating, updated_at
		FROM profiles
		WHERE user_id = $1`, string(userID),
	)
	var p Profile
	err := row.Scan(&p.UserID, &p.Role, &p.Name, &p.Phone, &p.VehicleType, &p.VehiclePlate, &p.Rating, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile.Get: %w", err)
	}
	return &p, nil
}

func (s *PGStore) Upsert(ctx context.Context, p *Profile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (user_id, role, name, phone, vehicle_type, vehicle_plate, rating, updated_at)
		VALUES (@user_id, @role, @name, @phone, @vehicle_type, @vehicle_plate, @rating, @updated_at)
		ON CONFLICT (user_id) DO UPDATE SET
			role = EXCLUDED.role,
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			vehicle_type = EXCLUDED.vehicle_type,
			vehicle_plate = EXCLUDED.vehicle_plate,
			updated_at = EXCLUDED.updated_at`,
		pgx.NamedArgs{
			"user_id":       string(p.UserID),
			"role":          string(p.Role),
			"name":          p.Name,
			"phone":         p.Phone,
			"vehicle_type":  p.VehicleType,
			"vehicle_plate": p.VehiclePlate,
			"rating":        p.Rating,
			"updated_at":    p.UpdatedAt,
		},
	)
	if err != nil {
		return fmt.Errorf("profile.Upsert: %w", err)
	}
	return nil
}

// MongoStore keeps one document per user in the profiles collection.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{coll: db.Collection("profiles")}
}

func (s *MongoStore) Get(ctx context.Context, userID types.ID) (*Profile, error) {
	var p Profile
	err := s.coll.FindOne(ctx, bson.M{"_id": string(userID)}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("profile.Get: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) Upsert(ctx context.Context, p *Profile) error {
	// Rating is owned by the ratings collaborator, so it is only set on insert.
	update := bson.M{
		"$set": bson.M{
			"role":          p.Role,
			"name":          p.Name,
			"phone":         p.Phone,
			"vehicle_type":  p.VehicleType,
			"vehicle_plate": p.VehiclePlate,
			"updated_at":    p.UpdatedAt,
		},
		"$setOnInsert": bson.M{"rating": p.Rating},
	}
	_, err := s.coll.UpdateOne(ctx, bson.M{"_id": string(p.UserID)}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("profile.Upsert: %w", err)
	}
	return nil
}

type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[types.ID]Profile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[types.ID]Profile)}
}

func (s *MemoryStore) Get(_ context.Context, userID types.ID) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) Upsert(_ context.Context, p *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := *p
	if prev, ok := s.profiles[p.UserID]; ok {
		next.Rating = prev.Rating
	}
	s.profiles[p.UserID] = next
	return nil
}
