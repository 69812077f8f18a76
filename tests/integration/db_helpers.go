package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/pulsepoll/voteguard/internal/database"
	"github.com/pulsepoll/voteguard/internal/repositories"
	"github.com/pulsepoll/voteguard/internal/services"
	"github.com/pulsepoll/voteguard/pkg/crypto"
)

// The lookup salt stays fixed across key generations; rotation tests
// derive multiple encryption keys against the same salt secret.
const lookupSaltSecret = "integration-lookup-salt-secret"

// TestDB manages the PostgreSQL testcontainer and database handles.
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer and runs the
// embedded migrations against it.
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("voteguard"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := &database.DB{Pool: pool}
	if err := db.Migrate(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         db,
	}, nil
}

// Teardown stops the container and closes the connection pool.
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation.
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"poll_tallies",
		"key_rotation_state",
		"accounts",
		"polls",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// DeriveTestKeys produces a key set for the given encryption master,
// always against the shared lookup salt secret.
func DeriveTestKeys(encryptionMaster string) (*crypto.KeySet, error) {
	return crypto.DeriveKeySet([]byte(encryptionMaster), []byte(lookupSaltSecret))
}

// NewAccountStack wires an account repository and service against the
// test database with the given key set.
func NewAccountStack(db *database.DB, keys *crypto.KeySet) (*repositories.AccountRepository, *services.AccountService) {
	repo := repositories.NewAccountRepository(db)
	log := discardLogger()
	svc := services.NewAccountService(repo, keys, services.NewLogAlertService(log), log)
	return repo, svc
}

// SeedPoll inserts a poll with the given voting window and returns its id.
func SeedPoll(ctx context.Context, pool *pgxpool.Pool, question string, opensAt, closesAt time.Time) (string, error) {
	query := `
		INSERT INTO polls (question, opens_at, closes_at)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id string
	if err := pool.QueryRow(ctx, query, question, opensAt, closesAt).Scan(&id); err != nil {
		return "", fmt.Errorf("failed to insert poll: %w", err)
	}
	return id, nil
}
