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

package cmd

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/tenantdb"
)

var migrateTenantsSlug string

func init() {
	MigrateTenantsCmd.Flags().StringVar(&migrateTenantsSlug, "slug", "", "Migrate only this tenant instead of the whole fleet")
	rootCmd.AddCommand(MigrateTenantsCmd)
}

var MigrateTenantsCmd = &cobra.Command{
	Use:   "migrate-tenants",
	Short: "Run tenant database migrations",
	Long:  "Apply any pending schema migrations to every provisioned tenant database, or to one tenant with --slug",
	RunE:  migrateTenants,
}

func migrateTenants(_ *cobra.Command, _ []string) error {
	servicename := "oms-migrate-tenants"
	ctx, doneFx, err := setupTelemetry(servicename, nil)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := masterdb.MasterDBStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to master database: %w", err)
	}
	defer store.Close()

	var tenants []masterdb.Tenant
	if migrateTenantsSlug != "" {
		tenant, err := store.GetTenantBySlug(ctx, migrateTenantsSlug)
		if err != nil {
			return fmt.Errorf("failed to look up tenant %s: %w", migrateTenantsSlug, err)
		}
		tenants = []masterdb.Tenant{tenant}
	} else {
		tenants, err = store.ListProvisionedTenants(ctx)
		if err != nil {
			return fmt.Errorf("failed to list provisioned tenants: %w", err)
		}
	}

	factory := tenantdb.NewFactory(cfg)

	var result *multierror.Error
	migrated := 0
	for _, tenant := range tenants {
		if ctx.Err() != nil {
			result = multierror.Append(result, fmt.Errorf("migration run interrupted: %w", ctx.Err()))
			break
		}
		ll := slog.With(slog.String("tenant", tenant.Slug), slog.String("database", tenant.DatabaseName))
		start := time.Now()
		err := factory.MigrateUp(ctx, tenant)
		tenantMigrationDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributeSet(commonAttributes),
			metric.WithAttributes(attribute.Bool("success", err == nil)))
		if err != nil {
			ll.Error("Tenant migration failed", slog.Any("error", err))
			result = multierror.Append(result, fmt.Errorf("tenant %s: %w", tenant.Slug, err))
			continue
		}
		ll.Info("Tenant migration completed", slog.Duration("elapsed", time.Since(start)))
		migrated++
	}

	slog.Info("Tenant migration run finished",
		slog.Int("migrated", migrated),
		slog.Int("failed", len(tenants)-migrated))
	return result.ErrorOrNil()
}
