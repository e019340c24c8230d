package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/schoolclinic/clinic-backend/pkg/database"
	"github.com/schoolclinic/clinic-backend/pkg/logger"
)

var (
	// Global test container (shared across all integration tests)
	globalContainer *PostgresContainer
	globalDB        *database.DB
	containerOnce   sync.Once
	containerErr    error
)

// IntegrationSuite provides a base for integration tests with real PostgreSQL.
// The schema is created by running the repository migrations.
type IntegrationSuite struct {
	Container *PostgresContainer
	DB        *database.DB
	Fixtures  *FixtureFactory
	Logger    *logger.Logger
}

// NewIntegrationSuite starts (or reuses) the shared container and migrates it.
//
// Usage:
//
//	func TestLedger(t *testing.T) {
//	    testutil.SkipIfShort(t)
//	    suite := testutil.NewIntegrationSuite(t)
//	    suite.Reset(t)
//	    // ... run tests against suite.DB
//	}
func NewIntegrationSuite(t *testing.T) *IntegrationSuite {
	t.Helper()

	ctx := context.Background()
	container, db, err := getOrCreateContainer(ctx)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}

	return &IntegrationSuite{
		Container: container,
		DB:        db,
		Fixtures:  NewFixtureFactory(),
		Logger:    logger.Nop(),
	}
}

// getOrCreateContainer returns the shared test container with migrations applied
func getOrCreateContainer(ctx context.Context) (*PostgresContainer, *database.DB, error) {
	containerOnce.Do(func() {
		globalContainer, containerErr = NewPostgresContainer(ctx, DefaultPostgresConfig())
		if containerErr != nil {
			return
		}

		globalDB, containerErr = database.NewWithDSN(globalContainer.DSN, logger.Nop())
		if containerErr != nil {
			return
		}

		// The migrator gets its own connection; closing it closes that handle only.
		migrationDB, err := database.NewWithDSN(globalContainer.DSN, logger.Nop())
		if err != nil {
			containerErr = err
			return
		}
		migrator, err := database.NewMigrator(migrationDB, MigrationsDir(), logger.Nop())
		if err != nil {
			containerErr = err
			return
		}
		defer migrator.Close()

		if err := migrator.Up(); err != nil {
			containerErr = fmt.Errorf("failed to migrate test database: %w", err)
		}
	})

	return globalContainer, globalDB, containerErr
}

// Reset empties every ledger table. TRUNCATE does not fire the row-level
// append-only triggers.
func (s *IntegrationSuite) Reset(t *testing.T) {
	t.Helper()
	_, err := s.DB.ExecContext(context.Background(),
		`TRUNCATE stock_disposals, stock_adjustments, medicine_batches, medicine_items CASCADE`)
	if err != nil {
		t.Fatalf("failed to reset ledger tables: %v", err)
	}
}
