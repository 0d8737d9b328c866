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
	"time"

	"github.com/google/uuid"
)

// TenantStatus is the lifecycle status of a tenant organization.
type TenantStatus string

const (
	// TenantStatusPending means the tenant record exists but provisioning
	// has not completed yet.
	TenantStatusPending TenantStatus = "pending"
	// TenantStatusTrial is a fully provisioned tenant inside its trial window.
	TenantStatusTrial TenantStatus = "trial"
	// TenantStatusActive is a fully provisioned, paying tenant.
	TenantStatusActive TenantStatus = "active"
	// TenantStatusSuspended blocks access, typically for billing reasons.
	// The tenant database is kept.
	TenantStatusSuspended TenantStatus = "suspended"
	// TenantStatusInactive is a tenant that chose to pause service.
	TenantStatusInactive TenantStatus = "inactive"
	// TenantStatusTerminated is a tombstone. The row is kept so the slug
	// cannot be reused, but the tenant is gone for all other purposes.
	TenantStatusTerminated TenantStatus = "terminated"
)

// Valid reports whether s is one of the known statuses.
func (s TenantStatus) Valid() bool {
	switch s {
	case TenantStatusPending, TenantStatusTrial, TenantStatusActive,
		TenantStatusSuspended, TenantStatusInactive, TenantStatusTerminated:
		return true
	}
	return false
}

// CanConnect reports whether tenants in this status may open database
// connections through the connection manager.
func (s TenantStatus) CanConnect() bool {
	return s == TenantStatusActive || s == TenantStatusTrial
}

// ProvisioningState records the last completed stage of the provisioning
// workflow. A failed run leaves the state at the last stage that finished,
// so a retry can resume from there.
type ProvisioningState string

const (
	ProvisioningStateCreatedRecord   ProvisioningState = "created_record"
	ProvisioningStateDatabaseCreated ProvisioningState = "database_created"
	ProvisioningStateMigrated        ProvisioningState = "migrated"
	ProvisioningStateSeeded          ProvisioningState = "seeded"
	ProvisioningStateActivated       ProvisioningState = "activated"
)

// Tenant is a row in the master tenants table.
type Tenant struct {
	ID                uuid.UUID
	Slug              string
	Name              string
	DatabaseName      string
	DBHost            *string
	DBPort            *int32
	Status            TenantStatus
	ProvisioningState ProvisioningState
	ProvisioningError *string
	Plan              string
	TrialEndsAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ActivatedAt       *time.Time
}
