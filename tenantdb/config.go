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
	"fmt"
	"net/url"
	"time"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
)

// ConnectionConfig is the fully resolved recipe for one tenant database
// connection pool. It is derived on every cache miss from the tenant row
// plus the global defaults and is never persisted.
type ConnectionConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	DatabaseName   string
	SSLEnabled     bool
	SSLRootCert    string
	SSLCert        string
	SSLKey         string
	PoolMin        int32
	PoolMax        int32
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

// BuildConfig combines the tenant row with the global defaults.
// Per-tenant host/port overrides from the master database take precedence.
func BuildConfig(tenant masterdb.Tenant, cfg *config.Config) ConnectionConfig {
	cc := ConnectionConfig{
		Host:           cfg.TenantDB.Host,
		Port:           cfg.TenantDB.Port,
		User:           cfg.TenantDB.User,
		Password:       cfg.TenantDB.Password,
		DatabaseName:   tenant.DatabaseName,
		SSLEnabled:     cfg.TenantDB.SSLEnabled,
		SSLRootCert:    cfg.TenantDB.SSLRootCert,
		SSLCert:        cfg.TenantDB.SSLCert,
		SSLKey:         cfg.TenantDB.SSLKey,
		PoolMin:        cfg.Pool.MinConns,
		PoolMax:        cfg.Pool.MaxConns,
		IdleTimeout:    cfg.Pool.IdleTimeout,
		AcquireTimeout: cfg.Pool.AcquireTimeout,
	}
	if tenant.DBHost != nil && *tenant.DBHost != "" {
		cc.Host = *tenant.DBHost
	}
	if tenant.DBPort != nil && *tenant.DBPort > 0 {
		cc.Port = int(*tenant.DBPort)
	}
	return cc
}

// URL renders the config as a pgx connection URL. Pool bounds and the
// connect timeout ride along as query parameters so every handle opened
// from this URL enforces them without further setup. connect_timeout is
// whole seconds per libpq convention, rounded up so sub-second settings
// do not become "no timeout".
func (c ConnectionConfig) URL() string {
	u := &url.URL{
		Scheme: "postgresql",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:   c.DatabaseName,
	}

	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}

	q := u.Query()
	q.Set("pool_max_conns", fmt.Sprintf("%d", c.PoolMax))
	q.Set("pool_min_conns", fmt.Sprintf("%d", c.PoolMin))
	if c.IdleTimeout > 0 {
		q.Set("pool_max_conn_idle_time", c.IdleTimeout.String())
	}
	if c.AcquireTimeout > 0 {
		secs := int64((c.AcquireTimeout + time.Second - 1) / time.Second)
		q.Set("connect_timeout", fmt.Sprintf("%d", secs))
	}
	if c.SSLEnabled {
		q.Set("sslmode", "require")
		if c.SSLRootCert != "" {
			q.Set("sslrootcert", c.SSLRootCert)
		}
		if c.SSLCert != "" {
			q.Set("sslcert", c.SSLCert)
		}
		if c.SSLKey != "" {
			q.Set("sslkey", c.SSLKey)
		}
	}
	u.RawQuery = q.Encode()

	return u.String()
}

// adminURL points at the maintenance database on the same host with the
// same credentials. CREATE DATABASE cannot run inside the target
// database, so provisioning connects here first.
func (c ConnectionConfig) adminURL() string {
	admin := c
	admin.DatabaseName = "postgres"
	admin.PoolMin = 0
	admin.PoolMax = 2
	return admin.URL()
}
