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

package connmgr

import (
	"errors"
	"fmt"

	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/registry"
	"github.com/opsgate/oms/tenantdb"
)

// ErrTenantNotFound is returned for unknown slugs and for terminated
// tenants, which are indistinguishable from missing ones on purpose.
var ErrTenantNotFound = registry.ErrNotFound

// ConnectionError is the typed failure for opening a tenant database
// connection. Re-exported so facade callers only import this package.
type ConnectionError = tenantdb.ConnectionError

// ErrCapacityExceeded is returned when the connection cache is full and
// every slot belongs to a build still in flight, so nothing can be evicted.
var ErrCapacityExceeded = errors.New("connection cache capacity exceeded")

// ErrManagerClosed is returned once Shutdown has begun.
var ErrManagerClosed = errors.New("tenant connection manager is shut down")

// TenantUnavailableError is returned when the tenant exists but its
// status forbids connections (suspended, inactive, or not yet provisioned).
type TenantUnavailableError struct {
	Slug   string
	Status masterdb.TenantStatus
}

func (e *TenantUnavailableError) Error() string {
	return fmt.Sprintf("tenant %s is not available (status %s)", e.Slug, e.Status)
}
