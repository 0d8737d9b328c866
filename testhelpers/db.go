//go:build integration

// Copyright (C) 2025-2026 OpsGate, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package testhelpers

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsgate/oms/masterdb"
	masterdbmigrations "github.com/opsgate/oms/masterdb/migrations"
	tenantdbmigrations "github.com/opsgate/oms/tenantdb/migrations"
)

// SetupTestMasterDB creates a clean test master database with migrations
// applied. Returns a connection pool and registers cleanup with t.Cleanup.
func SetupTestMasterDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	return setupTestDB(t, "test_omsmaster", masterdbmigrations.RunMigrationsUp)
}

// SetupTestTenantDB creates a clean tenant-schema database with migrations
// applied. Returns a connection pool and registers cleanup with t.Cleanup.
func SetupTestTenantDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	return setupTestDB(t, "test_omstenant", tenantdbmigrations.RunMigrationsUp)
}

func setupTestDB(t *testing.T, prefix string, migrate func(context.Context, *pgxpool.Pool) error) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()
	dbName := fmt.Sprintf("%s_%d_%d", prefix, time.Now().Unix(), rand.Intn(10000))

	// Get connection details from environment
	host := getEnvOrDefault("TEST_DB_HOST", "localhost")
	port := getEnvOrDefault("TEST_DB_PORT", "5432")
	user := getEnvOrDefault("TEST_DB_USER", os.Getenv("USER"))
	baseDB := getEnvOrDefault("TEST_DB_DBNAME", "postgres")

	// Connect to base database to create test database
	password := os.Getenv("TEST_DB_PASSWORD")
	basePool, err := pgxpool.New(ctx, connString(user, password, host, port, baseDB))
	if err != nil {
		t.Fatalf("Failed to connect to base database: %v", err)
	}

	// Create test database
	_, err = basePool.Exec(ctx, fmt.Sprintf("CREATE DATABASE %s", dbName))
	if err != nil {
		t.Fatalf("Failed to create test database %s: %v", dbName, err)
	}

	// Connect to test database
	testPool, err := pgxpool.New(ctx, connString(user, password, host, port, dbName))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Run migrations
	if err := migrate(ctx, testPool); err != nil {
		testPool.Close()
		t.Fatalf("Failed to run migrations for %s: %v", dbName, err)
	}

	// Register cleanup
	t.Cleanup(func() {
		testPool.Close()

		// Drop test database
		_, err := basePool.Exec(context.Background(), fmt.Sprintf("DROP DATABASE IF EXISTS %s", dbName))
		if err != nil {
			slog.Error("Failed to drop test database", slog.String("dbName", dbName), slog.Any("error", err))
		}

		// Close base pool after cleanup
		basePool.Close()
	})

	return testPool
}

func connString(user, password, host, port, dbName string) string {
	if password != "" {
		return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbName)
	}
	return fmt.Sprintf("postgresql://%s@%s:%s/%s", user, host, port, dbName)
}

// NewTestMasterStore creates a masterdb store connected to a test database.
func NewTestMasterStore(t *testing.T) *masterdb.Store {
	pool := SetupTestMasterDB(t)
	store := masterdb.NewStore(pool)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
