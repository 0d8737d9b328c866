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
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsgate/oms/internal/dbopen"
	"github.com/opsgate/oms/masterdb"
	masterdbmigrations "github.com/opsgate/oms/masterdb/migrations"
)

func init() {
	rootCmd.AddCommand(MigrateCmd)
}

var MigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run master database migrations",
	Long:  "Apply any pending schema migrations to the master tenant registry database",
	RunE:  migrate,
}

func migrate(_ *cobra.Command, _ []string) error {
	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(5*time.Minute))
	defer cancel()

	slog.Info("Running master database migrations")
	pool, err := masterdb.ConnectToMasterDB(ctx, dbopen.SkipMigrationCheck())
	if err != nil {
		return fmt.Errorf("failed to connect to master database: %w", err)
	}
	defer pool.Close()

	if err := masterdbmigrations.RunMigrationsUp(ctx, pool); err != nil {
		return fmt.Errorf("failed to migrate master database: %w", err)
	}
	slog.Info("Master database migrations completed successfully")
	return nil
}
