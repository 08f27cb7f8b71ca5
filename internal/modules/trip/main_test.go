package trip

import (
	"context"
	"database/sql"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"tripmatch/internal/types"
	"tripmatch/migrations"
)

// TestMain applies the goose migrations once when a test database is configured.
// Without TRIPMATCH_TEST_DSN the Postgres-backed cases skip themselves.
func TestMain(m *testing.M) {
	if dsn := os.Getenv("TRIPMATCH_TEST_DSN"); dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("TestMain: open db: %v", err)
		}
		provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations.FS)
		if err != nil {
			log.Fatalf("TestMain: create goose provider: %v", err)
		}
		if _, err := provider.Up(context.Background()); err != nil {
			log.Fatalf("TestMain: run migrations: %v", err)
		}
		_ = db.Close()
	}
	os.Exit(m.Run())
}

func setupPGStore(t *testing.T) *PGStore {
	t.Helper()
	dsn := os.Getenv("TRIPMATCH_TEST_DSN")
	if dsn == "" {
		t.Skip("TRIPMATCH_TEST_DSN not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(pool.Close)
	return NewPGStore(pool)
}

func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("TRIPMATCH_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TRIPMATCH_TEST_MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("connect mongo: %v", err)
	}
	db := client.Database("tripmatch_test_" + string(types.NewID())[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	store := NewMongoStore(db)
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("ensure indexes: %v", err)
	}
	return store
}

// eachStore runs fn against the memory store and every configured database store.
func eachStore(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
	t.Run("postgres", func(t *testing.T) { fn(t, setupPGStore(t)) })
	t.Run("mongo", func(t *testing.T) { fn(t, setupMongoStore(t)) })
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func sampleCreate(owner types.ID) CreateCommand {
	return CreateCommand{
		OwnerID:     owner,
		Pickup:      types.Location{Address: "A", Point: &types.Point{Lat: 12.9716, Lng: 77.5946}},
		Drop:        types.Location{Address: "B", Point: &types.Point{Lat: 12.9352, Lng: 77.6245}},
		VehicleType: "sedan",
		Passengers:  2,
		StartTime:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Price:       types.Money{Amount: 450},
	}
}

// uniq keeps party ids distinct across tests sharing one database.
func uniq(prefix string) types.ID {
	return types.ID(prefix + "-" + string(types.NewID())[:12])
}
