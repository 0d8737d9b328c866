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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/provision"
	"github.com/opsgate/oms/tenantdb"
)

var (
	provisionSlug      string
	provisionName      string
	provisionPlan      string
	provisionTrialDays int
	provisionRetry     bool
)

func init() {
	ProvisionCmd.Flags().StringVar(&provisionSlug, "slug", "", "URL-safe tenant identifier (required)")
	ProvisionCmd.Flags().StringVar(&provisionName, "name", "", "Display name for the tenant")
	ProvisionCmd.Flags().StringVar(&provisionPlan, "plan", "", "Subscription plan (default standard)")
	ProvisionCmd.Flags().IntVar(&provisionTrialDays, "trial-days", 0, "Days of trial; tenant activates with TRIAL status")
	ProvisionCmd.Flags().BoolVar(&provisionRetry, "retry", false, "Resume a previously failed provisioning run for --slug")
	_ = ProvisionCmd.MarkFlagRequired("slug")
	rootCmd.AddCommand(ProvisionCmd)
}

var ProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision a new tenant",
	Long:  "Create the master registry record and the dedicated tenant database, migrate and seed it, and activate the tenant",
	RunE:  provisionTenant,
}

func provisionTenant(_ *cobra.Command, _ []string) error {
	servicename := "oms-provision"
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

	provisioner := provision.New(cfg, store, tenantdb.NewFactory(cfg))

	start := time.Now()
	var tenant masterdb.Tenant
	if provisionRetry {
		tenant, err = provisioner.Retry(ctx, provisionSlug)
	} else {
		tenant, err = provisioner.Provision(ctx, provision.TenantDraft{
			Slug:      provisionSlug,
			Name:      provisionName,
			Plan:      provisionPlan,
			TrialDays: provisionTrialDays,
		})
	}
	provisionDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributeSet(commonAttributes),
		metric.WithAttributes(attribute.Bool("success", err == nil)))

	if err != nil {
		var provErr *provision.ProvisioningError
		if errors.As(err, &provErr) {
			slog.Error("Provisioning failed; rerun with --retry once the cause is fixed",
				slog.String("tenant", provErr.Slug),
				slog.String("stage", string(provErr.Stage)),
				slog.Any("error", provErr.Err))
		}
		return err
	}

	slog.Info("Tenant provisioned",
		slog.String("tenant", tenant.Slug),
		slog.String("database", tenant.DatabaseName),
		slog.String("status", string(tenant.Status)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
