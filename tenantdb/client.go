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

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opsgate/oms/masterdb"
)

// Client is a live handle to one tenant database. The embedded pool does
// its own connection checkout and return; callers query through Pool()
// and must not close the pool themselves while the handle is shared.
type Client struct {
	tenant masterdb.Tenant
	pool   *pgxpool.Pool
}

// Tenant returns the metadata snapshot the client was opened with.
func (c *Client) Tenant() masterdb.Tenant {
	return c.tenant
}

// Slug returns the tenant slug this client belongs to.
func (c *Client) Slug() string {
	return c.tenant.Slug
}

// Pool exposes the underlying pgx pool.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Close releases every pooled connection. It blocks until checked-out
// connections are returned, so an in-flight query finishes before the
// handle dies. Safe on a nil receiver.
func (c *Client) Close() {
	if c == nil || c.pool == nil {
		return
	}
	c.pool.Close()
}

// Ping verifies the handle still reaches its database.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}
