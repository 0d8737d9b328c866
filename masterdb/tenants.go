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
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const tenantColumns = `id, slug, name, database_name, db_host, db_port,
	status, provisioning_state, provisioning_error, plan, trial_ends_at,
	created_at, updated_at, activated_at`

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(
		&t.ID,
		&t.Slug,
		&t.Name,
		&t.DatabaseName,
		&t.DBHost,
		&t.DBPort,
		&t.Status,
		&t.ProvisioningState,
		&t.ProvisioningError,
		&t.Plan,
		&t.TrialEndsAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.ActivatedAt,
	)
	return t, err
}

func scanTenants(rows pgx.Rows) ([]Tenant, error) {
	defer rows.Close()
	var items []Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

const getTenantBySlug = `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`

func (q *Queries) GetTenantBySlug(ctx context.Context, slug string) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, getTenantBySlug, slug))
}

const getTenantByID = `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`

func (q *Queries) GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, getTenantByID, id))
}

const insertTenant = `INSERT INTO tenants (
	id, slug, name, database_name, db_host, db_port,
	status, provisioning_state, plan, trial_ends_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING ` + tenantColumns

type InsertTenantParams struct {
	ID           uuid.UUID
	Slug         string
	Name         string
	DatabaseName string
	DBHost       *string
	DBPort       *int32
	Status       TenantStatus
	Plan         string
	TrialEndsAt  *time.Time
}

func (q *Queries) InsertTenant(ctx context.Context, arg InsertTenantParams) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, insertTenant,
		arg.ID,
		arg.Slug,
		arg.Name,
		arg.DatabaseName,
		arg.DBHost,
		arg.DBPort,
		arg.Status,
		ProvisioningStateCreatedRecord,
		arg.Plan,
		arg.TrialEndsAt,
	))
}

const listTenants = `SELECT ` + tenantColumns + ` FROM tenants ORDER BY slug`

func (q *Queries) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, listTenants)
	if err != nil {
		return nil, err
	}
	return scanTenants(rows)
}

const listTenantsByStatus = `SELECT ` + tenantColumns + ` FROM tenants WHERE status = $1 ORDER BY slug`

func (q *Queries) ListTenantsByStatus(ctx context.Context, status TenantStatus) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, listTenantsByStatus, status)
	if err != nil {
		return nil, err
	}
	return scanTenants(rows)
}

const listProvisionedTenants = `SELECT ` + tenantColumns + ` FROM tenants
WHERE status <> 'terminated' AND provisioning_state <> 'created_record'
ORDER BY slug`

// ListProvisionedTenants returns every tenant whose database exists,
// including suspended and inactive ones. Used for fleet-wide schema rollout.
func (q *Queries) ListProvisionedTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := q.db.Query(ctx, listProvisionedTenants)
	if err != nil {
		return nil, err
	}
	return scanTenants(rows)
}

const updateTenantStatus = `UPDATE tenants
SET status = $2, updated_at = now()
WHERE id = $1
RETURNING ` + tenantColumns

type UpdateTenantStatusParams struct {
	ID     uuid.UUID
	Status TenantStatus
}

func (q *Queries) UpdateTenantStatus(ctx context.Context, arg UpdateTenantStatusParams) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, updateTenantStatus, arg.ID, arg.Status))
}

const updateTenantProvisioningState = `UPDATE tenants
SET provisioning_state = $2, provisioning_error = $3, updated_at = now()
WHERE id = $1`

type UpdateTenantProvisioningStateParams struct {
	ID                uuid.UUID
	ProvisioningState ProvisioningState
	ProvisioningError *string
}

func (q *Queries) UpdateTenantProvisioningState(ctx context.Context, arg UpdateTenantProvisioningStateParams) error {
	_, err := q.db.Exec(ctx, updateTenantProvisioningState, arg.ID, arg.ProvisioningState, arg.ProvisioningError)
	return err
}

const setTenantActivated = `UPDATE tenants
SET status = $2,
	provisioning_state = 'activated',
	provisioning_error = NULL,
	activated_at = now(),
	updated_at = now()
WHERE id = $1
RETURNING ` + tenantColumns

type SetTenantActivatedParams struct {
	ID     uuid.UUID
	Status TenantStatus
}

func (q *Queries) SetTenantActivated(ctx context.Context, arg SetTenantActivatedParams) (Tenant, error) {
	return scanTenant(q.db.QueryRow(ctx, setTenantActivated, arg.ID, arg.Status))
}

const countTenants = `SELECT count(*) FROM tenants`

func (q *Queries) CountTenants(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRow(ctx, countTenants).Scan(&n)
	return n, err
}

const deleteTenant = `DELETE FROM tenants WHERE id = $1`

func (q *Queries) DeleteTenant(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteTenant, id)
	return err
}
