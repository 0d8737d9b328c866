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

//go:build integration
// +build integration

package tenantdb_test

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/tenantdb"
)

func integrationConfig(t *testing.T) *config.Config {
	t.Helper()

	host := os.Getenv("TEST_DB_HOST")
	if host == "" {
		host = "localhost"
	}
	port := 5432
	if p := os.Getenv("TEST_DB_PORT"); p != "" {
		var err error
		port, err = strconv.Atoi(p)
		require.NoError(t, err)
	}
	user := os.Getenv("TEST_DB_USER")
	if user == "" {
		user = "postgres"
	}

	return &config.Config{
		TenantDB: config.TenantDBConfig{
			Host:     host,
			Port:     port,
			User:     user,
			Password: os.Getenv("TEST_DB_PASSWORD"),
			Prefix:   "test_omstenant_",
		},
		Pool: config.PoolConfig{
			MinConns:       0,
			MaxConns:       4,
			IdleTimeout:    30 * time.Second,
			AcquireTimeout: 10 * time.Second,
		},
		Cache:    config.CacheConfig{MaxSize: 10, TTL: time.Minute},
		Registry: config.RegistryConfig{TTL: 15 * time.Second},
	}
}

func dropDatabase(t *testing.T, cfg *config.Config, dbName string) {
	t.Helper()

	admin := config.TenantDBConfig{
		Host: cfg.TenantDB.Host, Port: cfg.TenantDB.Port,
		User: cfg.TenantDB.User, Password: cfg.TenantDB.Password,
	}
	connStr := fmt.Sprintf("postgresql://%s:%s@%s:%d/postgres",
		admin.User, admin.Password, admin.Host, admin.Port)
	pool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		t.Logf("Failed to connect for cleanup of %s: %v", dbName, err)
		return
	}
	defer pool.Close()
	stmt := fmt.Sprintf("DROP DATABASE IF EXISTS %s WITH (FORCE)", pgx.Identifier{dbName}.Sanitize())
	if _, err := pool.Exec(context.Background(), stmt); err != nil {
		t.Logf("Failed to drop test database %s: %v", dbName, err)
	}
}

func TestFactoryProvisionLifecycle(t *testing.T) {
	ctx := context.Background()
	cfg := integrationConfig(t)
	factory := tenantdb.NewFactory(cfg)

	slug := "it-" + uuid.New().String()[:8]
	tenant := masterdb.Tenant{
		ID:           uuid.New(),
		Slug:         slug,
		Name:         "Integration Tenant",
		DatabaseName: cfg.TenantDB.DatabaseName(slug),
		Status:       masterdb.TenantStatusActive,
	}
	t.Cleanup(func() { dropDatabase(t, cfg, tenant.DatabaseName) })

	require.NoError(t, factory.CreateDatabase(ctx, tenant))
	// Replay must be a no-op, not an error.
	require.NoError(t, factory.CreateDatabase(ctx, tenant))

	require.NoError(t, factory.MigrateUp(ctx, tenant))
	require.NoError(t, factory.MigrateUp(ctx, tenant))

	require.NoError(t, factory.Seed(ctx, tenant))
	require.NoError(t, factory.Seed(ctx, tenant))

	client, err := factory.Open(ctx, tenant)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Ping(ctx))
	assert.Equal(t, slug, client.Slug())

	var roleCount int
	err = client.Pool().QueryRow(ctx, "SELECT count(*) FROM roles WHERE is_system").Scan(&roleCount)
	require.NoError(t, err)
	assert.Equal(t, 4, roleCount)

	var leaveTypes int
	err = client.Pool().QueryRow(ctx, "SELECT count(*) FROM leave_types").Scan(&leaveTypes)
	require.NoError(t, err)
	assert.Equal(t, 4, leaveTypes)
}

func TestFactoryOpenMissingDatabase(t *testing.T) {
	ctx := context.Background()
	cfg := integrationConfig(t)
	cfg.Pool.AcquireTimeout = 3 * time.Second
	factory := tenantdb.NewFactory(cfg)

	tenant := masterdb.Tenant{
		ID:           uuid.New(),
		Slug:         "ghost",
		DatabaseName: "test_omstenant_does_not_exist",
		Status:       masterdb.TenantStatusActive,
	}

	_, err := factory.Open(ctx, tenant)
	require.Error(t, err)

	var connErr *tenantdb.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "ghost", connErr.Slug)
	assert.Contains(t, connErr.Error(), "test_omstenant_does_not_exist")
}
