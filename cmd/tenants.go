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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/opsgate/oms/masterdb"
)

var (
	tenantsListStatus string
	tenantsSlug       string
)

func init() {
	tenantsListCmd.Flags().StringVar(&tenantsListStatus, "status", "", "Only list tenants with this status")

	for _, c := range []*cobra.Command{tenantsShowCmd, tenantsSuspendCmd, tenantsReactivateCmd, tenantsTerminateCmd} {
		c.Flags().StringVar(&tenantsSlug, "slug", "", "Tenant slug (required)")
		_ = c.MarkFlagRequired("slug")
	}

	TenantsCmd.AddCommand(tenantsListCmd)
	TenantsCmd.AddCommand(tenantsShowCmd)
	TenantsCmd.AddCommand(tenantsSuspendCmd)
	TenantsCmd.AddCommand(tenantsReactivateCmd)
	TenantsCmd.AddCommand(tenantsTerminateCmd)
	rootCmd.AddCommand(TenantsCmd)
}

var TenantsCmd = &cobra.Command{
	Use:   "tenants",
	Short: "Administer tenant registry entries",
}

var tenantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants in the master registry",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, store, cleanup, err := tenantsAdminSetup()
		if err != nil {
			return err
		}
		defer cleanup()

		var tenants []masterdb.Tenant
		if tenantsListStatus != "" {
			status := masterdb.TenantStatus(tenantsListStatus)
			if !status.Valid() {
				return fmt.Errorf("unknown tenant status %q", tenantsListStatus)
			}
			tenants, err = store.ListTenantsByStatus(ctx, status)
		} else {
			tenants, err = store.ListTenants(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to list tenants: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		if _, err := fmt.Fprintln(w, "SLUG\tNAME\tSTATUS\tPROVISIONING\tDATABASE\tCREATED"); err != nil {
			return err
		}
		for _, t := range tenants {
			if _, err := fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				t.Slug, t.Name, t.Status, t.ProvisioningState, t.DatabaseName,
				t.CreatedAt.Format(time.RFC3339)); err != nil {
				return err
			}
		}
		return w.Flush()
	},
}

var tenantsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show one tenant's registry entry",
	RunE: func(_ *cobra.Command, _ []string) error {
		ctx, store, cleanup, err := tenantsAdminSetup()
		if err != nil {
			return err
		}
		defer cleanup()

		tenant, err := store.GetTenantBySlug(ctx, tenantsSlug)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("tenant %s not found", tenantsSlug)
			}
			return fmt.Errorf("failed to look up tenant %s: %w", tenantsSlug, err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "ID\t%s\n", tenant.ID)
		fmt.Fprintf(w, "Slug\t%s\n", tenant.Slug)
		fmt.Fprintf(w, "Name\t%s\n", tenant.Name)
		fmt.Fprintf(w, "Status\t%s\n", tenant.Status)
		fmt.Fprintf(w, "Provisioning\t%s\n", tenant.ProvisioningState)
		if tenant.ProvisioningError != nil {
			fmt.Fprintf(w, "Provisioning error\t%s\n", *tenant.ProvisioningError)
		}
		fmt.Fprintf(w, "Database\t%s\n", tenant.DatabaseName)
		if tenant.DBHost != nil {
			fmt.Fprintf(w, "Database host override\t%s\n", *tenant.DBHost)
		}
		if tenant.DBPort != nil {
			fmt.Fprintf(w, "Database port override\t%d\n", *tenant.DBPort)
		}
		fmt.Fprintf(w, "Plan\t%s\n", tenant.Plan)
		if tenant.TrialEndsAt != nil {
			fmt.Fprintf(w, "Trial ends\t%s\n", tenant.TrialEndsAt.Format(time.RFC3339))
		}
		fmt.Fprintf(w, "Created\t%s\n", tenant.CreatedAt.Format(time.RFC3339))
		if tenant.ActivatedAt != nil {
			fmt.Fprintf(w, "Activated\t%s\n", tenant.ActivatedAt.Format(time.RFC3339))
		}
		return w.Flush()
	},
}

var tenantsSuspendCmd = &cobra.Command{
	Use:   "suspend",
	Short: "Suspend a tenant",
	Long:  "Set a tenant's status to SUSPENDED; connection requests are rejected until it is reactivated",
	RunE: func(_ *cobra.Command, _ []string) error {
		return changeTenantStatus(masterdb.TenantStatusSuspended)
	},
}

var tenantsReactivateCmd = &cobra.Command{
	Use:   "reactivate",
	Short: "Reactivate a suspended tenant",
	RunE: func(_ *cobra.Command, _ []string) error {
		return changeTenantStatus(masterdb.TenantStatusActive)
	},
}

var tenantsTerminateCmd = &cobra.Command{
	Use:   "terminate",
	Short: "Terminate a tenant",
	Long:  "Set a tenant's status to TERMINATED; the tenant disappears from lookups for good. The tenant database is left in place for retention handling.",
	RunE: func(_ *cobra.Command, _ []string) error {
		return changeTenantStatus(masterdb.TenantStatusTerminated)
	},
}

func tenantsAdminSetup() (context.Context, *masterdb.Store, func(), error) {
	ctx, doneFx, err := setupTelemetry("oms-tenants", nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to setup telemetry: %w", err)
	}

	store, err := masterdb.MasterDBStoreForAdmin(ctx)
	if err != nil {
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
		return nil, nil, nil, fmt.Errorf("failed to connect to master database: %w", err)
	}

	cleanup := func() {
		store.Close()
		if err := doneFx(); err != nil {
			slog.Error("Error shutting down telemetry", slog.Any("error", err))
		}
	}
	return ctx, store, cleanup, nil
}

func changeTenantStatus(status masterdb.TenantStatus) error {
	ctx, store, cleanup, err := tenantsAdminSetup()
	if err != nil {
		return err
	}
	defer cleanup()

	if status == masterdb.TenantStatusTerminated {
		tenant, err := store.GetTenantBySlug(ctx, tenantsSlug)
		if err == nil && tenant.Status == masterdb.TenantStatusTerminated {
			slog.Info("Tenant already terminated", slog.String("tenant", tenantsSlug))
			return nil
		}
	}

	before, after, err := store.ReplaceTenantStatus(ctx, tenantsSlug, status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("tenant %s not found", tenantsSlug)
		}
		return fmt.Errorf("failed to change status of tenant %s: %w", tenantsSlug, err)
	}

	slog.Info("Tenant status changed",
		slog.String("tenant", after.Slug),
		slog.String("before", string(before.Status)),
		slog.String("after", string(after.Status)))
	return nil
}
