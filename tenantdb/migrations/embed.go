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

// Package migrations manages the tenant database schema. Every tenant
// database runs the same migration set; the version table is kept
// separate from the master database's so the two schemas can move
// independently.
package migrations

import "embed"

//go:embed *.sql
var migrationFiles embed.FS

const migrationsTable = "gomigrate_omstenant"

// GetMigrationFiles returns the embedded migration files for version checking.
func GetMigrationFiles() embed.FS {
	return migrationFiles
}
