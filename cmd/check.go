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
	"time"

	"github.com/spf13/cobra"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/connmgr"
	"github.com/opsgate/oms/masterdb"
)

var (
	checkSlug  string
	checkFresh bool
)

func init() {
	CheckCmd.Flags().StringVar(&checkSlug, "slug", "", "Tenant slug (required)")
	CheckCmd.Flags().BoolVar(&checkFresh, "fresh", false, "Verify tenant status against the master database, bypassing the metadata cache")
	_ = CheckCmd.MarkFlagRequired("slug")
	rootCmd.AddCommand(CheckCmd)
}

var CheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check connectivity to one tenant database",
	Long:  "Resolve a tenant through the connection manager, open its database, and ping it once",
	RunE:  checkTenant,
}

func checkTenant(_ *cobra.Command, _ []string) error {
	servicename := "oms-check"
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

	store, err := masterdb.MasterDBStoreForAdmin(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to master database: %w", err)
	}
	defer store.Close()

	manager, err := connmgr.NewManager(cfg, store)
	if err != nil {
		return fmt.Errorf("failed to build connection manager: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error shutting down connection manager", slog.Any("error", err))
		}
	}()

	var opts []connmgr.GetOption
	if checkFresh {
		opts = append(opts, connmgr.WithVerifyFresh())
	}

	start := time.Now()
	client, err := manager.GetClient(ctx, checkSlug, opts...)
	if err != nil {
		var unavailErr *connmgr.TenantUnavailableError
		switch {
		case connmgr.IsNotFound(err):
			return fmt.Errorf("tenant %s not found", checkSlug)
		case errors.As(err, &unavailErr):
			return fmt.Errorf("tenant %s is not connectable: status %s", checkSlug, unavailErr.Status)
		default:
			return fmt.Errorf("failed to open tenant database: %w", err)
		}
	}

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed for tenant %s: %w", checkSlug, err)
	}

	tenant := client.Tenant()
	slog.Info("Tenant database reachable",
		slog.String("tenant", tenant.Slug),
		slog.String("database", tenant.DatabaseName),
		slog.String("status", string(tenant.Status)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}
