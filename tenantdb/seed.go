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
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// seedStatements load the reference rows every new tenant starts with.
// ON CONFLICT DO NOTHING keeps them safe to replay on provisioning retry.
var seedStatements = []string{
	`INSERT INTO roles (name, description, is_system) VALUES
		('admin', 'Full administrative access', TRUE),
		('office_manager', 'Manages offices, desks and bookings', TRUE),
		('employee', 'Regular employee access', TRUE),
		('receptionist', 'Front-desk visitor management', TRUE)
	ON CONFLICT (name) DO NOTHING`,

	`INSERT INTO leave_types (code, name, paid, max_days_per_year) VALUES
		('vacation', 'Vacation', TRUE, 25),
		('sick', 'Sick leave', TRUE, NULL),
		('parental', 'Parental leave', TRUE, NULL),
		('unpaid', 'Unpaid leave', FALSE, NULL)
	ON CONFLICT (code) DO NOTHING`,
}

func seedReferenceData(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin seed transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, stmt := range seedStatements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("seed reference data: %w", err)
		}
	}

	return tx.Commit(ctx)
}
