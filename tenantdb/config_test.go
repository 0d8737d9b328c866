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
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
)

func testGlobalConfig() *config.Config {
	return &config.Config{
		TenantDB: config.TenantDBConfig{
			Host:     "tenant-db.internal",
			Port:     5432,
			User:     "oms_app",
			Password: "s3cret",
			Prefix:   "oms_tenant_",
		},
		Pool: config.PoolConfig{
			MinConns:       2,
			MaxConns:       10,
			IdleTimeout:    30 * time.Second,
			AcquireTimeout: 10 * time.Second,
		},
		Cache:    config.CacheConfig{MaxSize: 50, TTL: 30 * time.Minute},
		Registry: config.RegistryConfig{TTL: 15 * time.Second},
	}
}

func TestBuildConfigDefaults(t *testing.T) {
	tenant := masterdb.Tenant{
		Slug:         "acme",
		DatabaseName: "oms_tenant_acme",
	}

	cc := BuildConfig(tenant, testGlobalConfig())

	assert.Equal(t, "tenant-db.internal", cc.Host)
	assert.Equal(t, 5432, cc.Port)
	assert.Equal(t, "oms_app", cc.User)
	assert.Equal(t, "s3cret", cc.Password)
	assert.Equal(t, "oms_tenant_acme", cc.DatabaseName)
	assert.Equal(t, int32(2), cc.PoolMin)
	assert.Equal(t, int32(10), cc.PoolMax)
	assert.Equal(t, 30*time.Second, cc.IdleTimeout)
	assert.Equal(t, 10*time.Second, cc.AcquireTimeout)
}

func TestBuildConfigTenantOverridesWin(t *testing.T) {
	host := "dedicated-db.internal"
	port := int32(6432)
	tenant := masterdb.Tenant{
		Slug:         "bigcorp",
		DatabaseName: "oms_tenant_bigcorp",
		DBHost:       &host,
		DBPort:       &port,
	}

	cc := BuildConfig(tenant, testGlobalConfig())

	assert.Equal(t, "dedicated-db.internal", cc.Host)
	assert.Equal(t, 6432, cc.Port)
}

func TestBuildConfigIgnoresEmptyOverrides(t *testing.T) {
	host := ""
	port := int32(0)
	tenant := masterdb.Tenant{
		Slug:         "acme",
		DatabaseName: "oms_tenant_acme",
		DBHost:       &host,
		DBPort:       &port,
	}

	cc := BuildConfig(tenant, testGlobalConfig())

	assert.Equal(t, "tenant-db.internal", cc.Host)
	assert.Equal(t, 5432, cc.Port)
}

func TestURLCarriesPoolAndTimeoutParams(t *testing.T) {
	tenant := masterdb.Tenant{Slug: "acme", DatabaseName: "oms_tenant_acme"}
	cc := BuildConfig(tenant, testGlobalConfig())

	u, err := url.Parse(cc.URL())
	require.NoError(t, err)

	assert.Equal(t, "postgresql", u.Scheme)
	assert.Equal(t, "tenant-db.internal:5432", u.Host)
	assert.Equal(t, "/oms_tenant_acme", u.Path)
	assert.Equal(t, "oms_app", u.User.Username())
	pass, _ := u.User.Password()
	assert.Equal(t, "s3cret", pass)

	q := u.Query()
	assert.Equal(t, "10", q.Get("pool_max_conns"))
	assert.Equal(t, "2", q.Get("pool_min_conns"))
	assert.Equal(t, "30s", q.Get("pool_max_conn_idle_time"))
	assert.Equal(t, "10", q.Get("connect_timeout"))
	assert.Empty(t, q.Get("sslmode"))
}

func TestURLEncodesPassword(t *testing.T) {
	cfg := testGlobalConfig()
	cfg.TenantDB.Password = "p@ss/word"
	tenant := masterdb.Tenant{Slug: "acme", DatabaseName: "oms_tenant_acme"}

	raw := BuildConfig(tenant, cfg).URL()
	assert.Contains(t, raw, "p%40ss%2Fword")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	pass, _ := u.User.Password()
	assert.Equal(t, "p@ss/word", pass)
}

func TestURLSSLMode(t *testing.T) {
	cfg := testGlobalConfig()
	cfg.TenantDB.SSLEnabled = true
	cfg.TenantDB.SSLRootCert = "/etc/oms/ca.pem"
	tenant := masterdb.Tenant{Slug: "acme", DatabaseName: "oms_tenant_acme"}

	u, err := url.Parse(BuildConfig(tenant, cfg).URL())
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "require", q.Get("sslmode"))
	assert.Equal(t, "/etc/oms/ca.pem", q.Get("sslrootcert"))
}

func TestURLRoundsAcquireTimeoutUp(t *testing.T) {
	cfg := testGlobalConfig()
	cfg.Pool.AcquireTimeout = 2500 * time.Millisecond
	tenant := masterdb.Tenant{Slug: "acme", DatabaseName: "oms_tenant_acme"}

	u, err := url.Parse(BuildConfig(tenant, cfg).URL())
	require.NoError(t, err)
	assert.Equal(t, "3", u.Query().Get("connect_timeout"))
}

func TestAdminURLTargetsMaintenanceDatabase(t *testing.T) {
	tenant := masterdb.Tenant{Slug: "acme", DatabaseName: "oms_tenant_acme"}
	cc := BuildConfig(tenant, testGlobalConfig())

	u, err := url.Parse(cc.adminURL())
	require.NoError(t, err)
	assert.Equal(t, "/postgres", u.Path)
	assert.Equal(t, "2", u.Query().Get("pool_max_conns"))
}

func TestConnectionErrorUnwraps(t *testing.T) {
	cause := assert.AnError
	err := &ConnectionError{Slug: "acme", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "acme")
}
