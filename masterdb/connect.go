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

package masterdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	masterdbmigrations "github.com/opsgate/oms/masterdb/migrations"
	"github.com/opsgate/oms/internal/dbopen"
	"github.com/opsgate/oms/migrations"
)

// ConnectToMasterDB opens a pooled connection to the master database and
// verifies its schema version before handing the pool out.
func ConnectToMasterDB(ctx context.Context, opts ...dbopen.Options) (*pgxpool.Pool, error) {
	connectionString, err := dbopen.MasterDatabaseURL()
	if err != nil {
		return nil, errors.Join(dbopen.ErrDatabaseNotConfigured, fmt.Errorf("failed to get master database connection string: %w", err))
	}

	pool, err := newConnectionPool(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	// Apply migration check options
	var migrationCheckOptions []migrations.CheckOption
	if len(opts) > 0 && len(opts[0].MigrationCheckOptions) > 0 {
		migrationCheckOptions = opts[0].MigrationCheckOptions
	}

	if err := masterdbmigrations.CheckVersion(ctx, pool, migrationCheckOptions...); err != nil {
		pool.Close()
		return nil, fmt.Errorf("master database migration version check failed: %w", err)
	}

	return pool, nil
}

// MasterDBStore connects to the master database and wraps the pool in a Store.
func MasterDBStore(ctx context.Context) (*Store, error) {
	pool, err := ConnectToMasterDB(ctx)
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}

// MasterDBStoreForAdmin connects to the master database with admin-friendly
// migration checking that warns and continues instead of failing on
// migration mismatches.
func MasterDBStoreForAdmin(ctx context.Context) (*Store, error) {
	pool, err := ConnectToMasterDB(ctx, dbopen.WarnOnMigrationMismatch())
	if err != nil {
		return nil, err
	}
	return NewStore(pool), nil
}
