package integration

import (
	"context"
	"fmt"
	"os"

	"github.com/stretchr/testify/suite"

	"github.com/papochat/papo/internal/db"
)

// IntegrationSuite is the base suite: it owns a migrated database connection.
// The PostgreSQL container is created once in TestMain; each suite gets an
// isolated schema through acquireSchema().
type IntegrationSuite struct {
	suite.Suite
	db  *db.DB
	ctx context.Context
}

// SetupSuite runs once before all tests in the suite.
func (s *IntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	// DB_ADDR overrides the container (for CI/CD)
	dbAddr := os.Getenv("DB_ADDR")
	if dbAddr == "" {
		dbAddr = acquireSchema(s.T())
	}

	if err := db.RunMigrations(s.ctx, dbAddr); err != nil {
		s.T().Fatalf("failed to run migrations: %v", err)
	}

	var err error
	s.db, err = db.New(s.ctx, dbAddr)
	if err != nil {
		s.T().Fatalf("failed to connect to database: %v", err)
	}
}

// SetupTest wipes the chat tables before each test.
func (s *IntegrationSuite) SetupTest() {
	if err := s.cleanupTestData(); err != nil {
		s.T().Fatalf("failed to cleanup test data: %v", err)
	}
}

// TearDownSuite runs once after all tests in the suite.
func (s *IntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	// The container is terminated in TestMain; the schema via t.Cleanup.
}

// cleanupTestData truncates every chat table.
func (s *IntegrationSuite) cleanupTestData() error {
	_, err := s.db.Pool().Exec(s.ctx,
		"TRUNCATE TABLE users, offline_messages, chat_history CASCADE")
	if err != nil {
		return fmt.Errorf("truncating test tables: %w", err)
	}
	return nil
}
