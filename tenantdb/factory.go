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

package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgx-contrib/pgxotel"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/tenantdb/migrations"
)

// Factory opens connections to tenant databases and performs the
// database-level provisioning steps. It holds no per-tenant state and is
// safe for concurrent use.
type Factory struct {
	cfg *config.Config
}

func NewFactory(cfg *config.Config) *Factory {
	return &Factory{cfg: cfg}
}

// Open establishes a pooled connection to the tenant's database and
// verifies it with a ping. The context and the configured acquire
// timeout both bound the attempt; whichever is shorter wins. Opening is
// the only slow path in the subsystem and it never retries internally.
func (f *Factory) Open(ctx context.Context, tenant masterdb.Tenant) (*Client, error) {
	cc := BuildConfig(tenant, f.cfg)

	poolCfg, err := pgxpool.ParseConfig(cc.URL())
	if err != nil {
		return nil, &ConnectionError{Slug: tenant.Slug, Err: err}
	}
	poolCfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "tenantdb",
	}

	openCtx := ctx
	if cc.AcquireTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, cc.AcquireTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(openCtx, poolCfg)
	if err != nil {
		return nil, &ConnectionError{Slug: tenant.Slug, Err: err}
	}

	// NewWithConfig dials lazily; ping so auth failures, unreachable
	// hosts, and missing databases surface here instead of on first use.
	if err := pool.Ping(openCtx); err != nil {
		pool.Close()
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.InvalidCatalogName {
			// The registry row exists but its database does not, which
			// means provisioning never finished for this tenant.
			err = fmt.Errorf("tenant database %s does not exist: %w", cc.DatabaseName, err)
		}
		return nil, &ConnectionError{Slug: tenant.Slug, Err: err}
	}

	return &Client{tenant: tenant, pool: pool}, nil
}

// CreateDatabase creates the tenant's database on its target host by
// connecting to the maintenance database. A duplicate-database error
// means a previous attempt already got this far and is treated as
// success so provisioning retries stay idempotent.
func (f *Factory) CreateDatabase(ctx context.Context, tenant masterdb.Tenant) error {
	cc := BuildConfig(tenant, f.cfg)

	admin, err := newPool(ctx, cc.adminURL())
	if err != nil {
		return fmt.Errorf("connect to maintenance database on %s: %w", cc.Host, err)
	}
	defer admin.Close()

	// Slugs may contain hyphens, so the identifier must be quoted.
	stmt := fmt.Sprintf("CREATE DATABASE %s", pgx.Identifier{cc.DatabaseName}.Sanitize())
	if _, err := admin.Exec(ctx, stmt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.DuplicateDatabase {
			slog.Info("Tenant database already exists",
				slog.String("database", cc.DatabaseName))
			return nil
		}
		return fmt.Errorf("create database %s: %w", cc.DatabaseName, err)
	}
	return nil
}

// MigrateUp applies the embedded tenant schema migrations over a
// short-lived pool. Provisioning and the migrate-tenants command call
// this; cached handles never run migrations.
func (f *Factory) MigrateUp(ctx context.Context, tenant masterdb.Tenant) error {
	cc := BuildConfig(tenant, f.cfg)

	pool, err := newPool(ctx, cc.URL())
	if err != nil {
		return fmt.Errorf("connect to tenant database %s: %w", cc.DatabaseName, err)
	}
	defer pool.Close()

	return migrations.RunMigrationsUp(ctx, pool)
}

// Seed loads the default reference data into the tenant database. Every
// statement is idempotent, so re-running after a partial failure is safe.
func (f *Factory) Seed(ctx context.Context, tenant masterdb.Tenant) error {
	cc := BuildConfig(tenant, f.cfg)

	pool, err := newPool(ctx, cc.URL())
	if err != nil {
		return fmt.Errorf("connect to tenant database %s: %w", cc.DatabaseName, err)
	}
	defer pool.Close()

	return seedReferenceData(ctx, pool)
}

func newPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.Tracer = &pgxotel.QueryTracer{
		Name: "tenantdb",
	}
	return pgxpool.NewWithConfig(ctx, cfg)
}
