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

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates configuration for the application.
// Each field is owned by its respective package.
type Config struct {
	TenantDB TenantDBConfig `mapstructure:"tenantdb"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Registry RegistryConfig `mapstructure:"registry"`
}

// TenantDBConfig carries the global defaults used to reach tenant
// databases. Per-tenant host/port overrides stored in the master
// database take precedence over Host and Port.
type TenantDBConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	Prefix      string `mapstructure:"prefix"`
	SSLEnabled  bool   `mapstructure:"ssl_enabled"`
	SSLRootCert string `mapstructure:"ssl_root_cert"`
	SSLCert     string `mapstructure:"ssl_cert"`
	SSLKey      string `mapstructure:"ssl_key"`
}

// PoolConfig bounds every per-tenant pgx pool.
type PoolConfig struct {
	MinConns       int32         `mapstructure:"min"`
	MaxConns       int32         `mapstructure:"max"`
	IdleTimeout    time.Duration `mapstructure:"-"`
	AcquireTimeout time.Duration `mapstructure:"-"`
}

// CacheConfig bounds the shared connection cache.
type CacheConfig struct {
	MaxSize int           `mapstructure:"max_size"`
	TTL     time.Duration `mapstructure:"-"`
}

// RegistryConfig controls the tenant-metadata cache.
type RegistryConfig struct {
	TTL time.Duration `mapstructure:"-"`
}

// DatabaseName derives the tenant database name from a slug.
func (c TenantDBConfig) DatabaseName(slug string) string {
	return c.Prefix + slug
}

// envAliases maps viper keys to the raw environment names honored in
// addition to the OMS_-prefixed forms. First name found wins.
var envAliases = map[string][]string{
	"tenantdb.host":           {"OMS_TENANTDB_HOST", "TENANT_DB_HOST"},
	"tenantdb.port":           {"OMS_TENANTDB_PORT", "TENANT_DB_PORT"},
	"tenantdb.user":           {"OMS_TENANTDB_USER", "TENANT_DB_USER"},
	"tenantdb.password":       {"OMS_TENANTDB_PASSWORD", "TENANT_DB_PASSWORD"},
	"tenantdb.prefix":         {"OMS_TENANTDB_PREFIX", "TENANT_DB_PREFIX"},
	"tenantdb.ssl_enabled":    {"OMS_TENANTDB_SSL_ENABLED", "DB_SSL_ENABLED"},
	"tenantdb.ssl_root_cert":  {"OMS_TENANTDB_SSL_ROOT_CERT", "DB_SSL_ROOT_CERT"},
	"tenantdb.ssl_cert":       {"OMS_TENANTDB_SSL_CERT", "DB_SSL_CERT"},
	"tenantdb.ssl_key":        {"OMS_TENANTDB_SSL_KEY", "DB_SSL_KEY"},
	"pool.min":                {"OMS_POOL_MIN", "POOL_MIN"},
	"pool.max":                {"OMS_POOL_MAX", "POOL_MAX"},
	"pool.idle_timeout_ms":    {"OMS_POOL_IDLE_TIMEOUT_MS", "POOL_IDLE_TIMEOUT_MS"},
	"pool.acquire_timeout_ms": {"OMS_POOL_ACQUIRE_TIMEOUT_MS", "POOL_ACQUIRE_TIMEOUT_MS"},
	"cache.max_size":          {"OMS_CACHE_MAX_SIZE", "CACHE_MAX_SIZE"},
	"cache.ttl_ms":            {"OMS_CACHE_TTL_MS", "CACHE_TTL_MS"},
	"registry.ttl_ms":         {"OMS_REGISTRY_CACHE_TTL_MS", "REGISTRY_CACHE_TTL_MS"},
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tenantdb.host", "localhost")
	v.SetDefault("tenantdb.port", 5432)
	v.SetDefault("tenantdb.user", "postgres")
	v.SetDefault("tenantdb.password", "")
	v.SetDefault("tenantdb.prefix", "oms_tenant_")
	v.SetDefault("tenantdb.ssl_enabled", false)
	v.SetDefault("pool.min", 2)
	v.SetDefault("pool.max", 10)
	v.SetDefault("pool.idle_timeout_ms", 30_000)
	v.SetDefault("pool.acquire_timeout_ms", 10_000)
	v.SetDefault("cache.max_size", 50)
	v.SetDefault("cache.ttl_ms", 1_800_000)
	v.SetDefault("registry.ttl_ms", 15_000)
}

// Load reads configuration from an optional config file and the
// environment. Environment variables use the prefix "OMS" with dots
// replaced by underscores; the bare names from envAliases (TENANT_DB_HOST,
// POOL_MAX, ...) are honored as well. The returned value is treated as
// immutable: callers pass it around and never re-read the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("OMS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, names := range envAliases {
		_ = v.BindEnv(append([]string{key}, names...)...)
	}
	_ = v.ReadInConfig()

	cfg := &Config{
		TenantDB: TenantDBConfig{
			Host:        v.GetString("tenantdb.host"),
			Port:        v.GetInt("tenantdb.port"),
			User:        v.GetString("tenantdb.user"),
			Password:    v.GetString("tenantdb.password"),
			Prefix:      v.GetString("tenantdb.prefix"),
			SSLEnabled:  v.GetBool("tenantdb.ssl_enabled"),
			SSLRootCert: v.GetString("tenantdb.ssl_root_cert"),
			SSLCert:     v.GetString("tenantdb.ssl_cert"),
			SSLKey:      v.GetString("tenantdb.ssl_key"),
		},
		Pool: PoolConfig{
			MinConns:       v.GetInt32("pool.min"),
			MaxConns:       v.GetInt32("pool.max"),
			IdleTimeout:    time.Duration(v.GetInt64("pool.idle_timeout_ms")) * time.Millisecond,
			AcquireTimeout: time.Duration(v.GetInt64("pool.acquire_timeout_ms")) * time.Millisecond,
		},
		Cache: CacheConfig{
			MaxSize: v.GetInt("cache.max_size"),
			TTL:     time.Duration(v.GetInt64("cache.ttl_ms")) * time.Millisecond,
		},
		Registry: RegistryConfig{
			TTL: time.Duration(v.GetInt64("registry.ttl_ms")) * time.Millisecond,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the subsystem cannot run with.
func (c *Config) Validate() error {
	if c.TenantDB.Host == "" {
		return fmt.Errorf("tenantdb.host must not be empty")
	}
	if c.TenantDB.Port <= 0 || c.TenantDB.Port > 65535 {
		return fmt.Errorf("tenantdb.port %d out of range", c.TenantDB.Port)
	}
	if c.TenantDB.Prefix == "" {
		return fmt.Errorf("tenantdb.prefix must not be empty")
	}
	if c.Pool.MaxConns < 1 {
		return fmt.Errorf("pool.max must be at least 1, got %d", c.Pool.MaxConns)
	}
	if c.Pool.MinConns < 0 || c.Pool.MinConns > c.Pool.MaxConns {
		return fmt.Errorf("pool.min %d must be between 0 and pool.max %d", c.Pool.MinConns, c.Pool.MaxConns)
	}
	if c.Pool.AcquireTimeout <= 0 {
		return fmt.Errorf("pool.acquire_timeout_ms must be positive")
	}
	if c.Cache.MaxSize < 1 {
		return fmt.Errorf("cache.max_size must be at least 1, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl_ms must be positive")
	}
	if c.Registry.TTL <= 0 {
		return fmt.Errorf("registry.ttl_ms must be positive")
	}
	return nil
}
