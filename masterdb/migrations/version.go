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

package migrations

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/opsgate/oms/migrations"
)

// CheckVersion verifies that the master database is at the expected
// migration version. Behavior is controlled by CheckOptions: wait for
// migrations to land (default), warn and continue, or skip the check.
// Environment variables provide deployment-wide defaults which explicit
// options override.
func CheckVersion(ctx context.Context, pool *pgxpool.Pool, opts ...migrations.CheckOption) error {
	options := checkOptionsFromEnv()
	for _, opt := range opts {
		opt(&options)
	}

	switch options.Mode {
	case migrations.CheckModeSkip:
		slog.Debug("Migration version checking disabled for masterdb")
		return nil
	case migrations.CheckModeWarn:
		if err := checkMigrationVersionOnce(ctx, pool, options); err != nil {
			slog.Warn("Master database migration version mismatch",
				slog.String("error", err.Error()))
		}
		return nil
	default:
		return checkMigrationVersion(ctx, pool, options)
	}
}

// checkOptionsFromEnv builds CheckOptions from defaults plus the
// MIGRATION_CHECK_* environment variables.
func checkOptionsFromEnv() migrations.CheckOptions {
	options := migrations.DefaultCheckOptions()

	if val := os.Getenv("MASTERDB_MIGRATION_CHECK_ENABLED"); val != "" {
		if strings.ToLower(val) != "true" {
			options.Mode = migrations.CheckModeSkip
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			options.Timeout = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_RETRY_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			options.RetryInterval = d
		}
	}
	if val := os.Getenv("MIGRATION_CHECK_ALLOW_DIRTY"); val != "" {
		options.AllowDirty = strings.ToLower(val) == "true"
	}

	return options
}

// extractLatestMigrationVersion extracts the highest migration version from embedded migration files
func extractLatestMigrationVersion(migrationFiles embed.FS) (uint, error) {
	entries, err := migrationFiles.ReadDir(".")
	if err != nil {
		return 0, fmt.Errorf("failed to read migration directory: %w", err)
	}

	var maxVersion uint
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".up.sql") {
			continue
		}

		// Extract version from filename like "1734560000_initial.up.sql"
		parts := strings.SplitN(name, "_", 2)
		if len(parts) < 1 {
			continue
		}

		version, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			continue
		}

		if uint(version) > maxVersion {
			maxVersion = uint(version)
		}
	}

	if maxVersion == 0 {
		return 0, fmt.Errorf("no valid migration files found")
	}

	return maxVersion, nil
}

// checkMigrationVersionOnce performs a single version comparison without waiting.
func checkMigrationVersionOnce(ctx context.Context, pool *pgxpool.Pool, options migrations.CheckOptions) error {
	expectedVersion, err := extractLatestMigrationVersion(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version: %w", err)
	}

	currentVersion, dirty, err := getCurrentMigrationVersion(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty && !options.AllowDirty {
		return fmt.Errorf("masterdb migration is in dirty state")
	}
	if currentVersion != expectedVersion {
		return fmt.Errorf("masterdb at version %d, expected %d", currentVersion, expectedVersion)
	}
	return nil
}

// checkMigrationVersion verifies that the database is at the expected
// migration version, waiting for migrations to land until the timeout.
func checkMigrationVersion(ctx context.Context, pool *pgxpool.Pool, options migrations.CheckOptions) error {
	expectedVersion, err := extractLatestMigrationVersion(migrationFiles)
	if err != nil {
		return fmt.Errorf("failed to extract expected migration version for masterdb: %w", err)
	}

	slog.Info("Checking migration version",
		slog.String("database", "masterdb"),
		slog.Uint64("expected_version", uint64(expectedVersion)),
		slog.Duration("timeout", options.Timeout))

	deadline := time.Now().Add(options.Timeout)
	ticker := time.NewTicker(options.RetryInterval)
	defer ticker.Stop()

	for {
		currentVersion, dirty, err := getCurrentMigrationVersion(ctx, pool)
		if err != nil {
			return fmt.Errorf("failed to get current migration version for masterdb: %w", err)
		}

		if dirty && !options.AllowDirty {
			return fmt.Errorf("masterdb migration is in dirty state, please fix before proceeding")
		}

		if dirty {
			slog.Warn("Database migration is dirty but allowed to continue", slog.String("database", "masterdb"))
		}

		slog.Debug("Migration version check",
			slog.String("database", "masterdb"),
			slog.Uint64("current_version", uint64(currentVersion)),
			slog.Uint64("expected_version", uint64(expectedVersion)),
			slog.Bool("dirty", dirty))

		if currentVersion == expectedVersion {
			slog.Info("Migration version check passed",
				slog.String("database", "masterdb"),
				slog.Uint64("version", uint64(currentVersion)))
			return nil
		}

		if currentVersion > expectedVersion {
			return fmt.Errorf("masterdb version %d is newer than expected version %d - you may need to update the application",
				currentVersion, expectedVersion)
		}

		// currentVersion < expectedVersion
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for masterdb migration to complete: current version %d, expected %d",
				currentVersion, expectedVersion)
		}

		slog.Info("Waiting for migrations to complete",
			slog.String("database", "masterdb"),
			slog.Uint64("current_version", uint64(currentVersion)),
			slog.Uint64("expected_version", uint64(expectedVersion)),
			slog.Duration("remaining_timeout", time.Until(deadline)))

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled while waiting for masterdb migrations")
		case <-ticker.C:
			// Continue checking
		}
	}
}

// getCurrentMigrationVersion gets the current migration version from the database
func getCurrentMigrationVersion(ctx context.Context, pool *pgxpool.Pool) (uint, bool, error) {
	sourceDriver, err := iofs.New(migrationFiles, ".")
	if err != nil {
		return 0, false, fmt.Errorf("failed to create iofs driver: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() {
		_ = sqlDB.Close()
	}()

	dbDriver, err := pgx.WithInstance(sqlDB, &pgx.Config{
		MigrationsTable: migrationsTable,
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to create pgx driver: %w", err)
	}
	defer func() {
		_ = dbDriver.Close()
	}()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return 0, false, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		if err == migrate.ErrNilVersion {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to get current version: %w", err)
	}

	return version, dirty, nil
}
