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

	"github.com/google/uuid"
)

// Querier is the full query surface of the master database.
type Querier interface {
	GetTenantBySlug(ctx context.Context, slug string) (Tenant, error)
	GetTenantByID(ctx context.Context, id uuid.UUID) (Tenant, error)
	InsertTenant(ctx context.Context, arg InsertTenantParams) (Tenant, error)
	ListTenants(ctx context.Context) ([]Tenant, error)
	ListTenantsByStatus(ctx context.Context, status TenantStatus) ([]Tenant, error)
	ListProvisionedTenants(ctx context.Context) ([]Tenant, error)
	UpdateTenantStatus(ctx context.Context, arg UpdateTenantStatusParams) (Tenant, error)
	UpdateTenantProvisioningState(ctx context.Context, arg UpdateTenantProvisioningStateParams) error
	SetTenantActivated(ctx context.Context, arg SetTenantActivatedParams) (Tenant, error)
	CountTenants(ctx context.Context) (int64, error)
	DeleteTenant(ctx context.Context, id uuid.UUID) error
}

var _ Querier = (*Queries)(nil)
