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

// Package registry provides cached resolution of tenant slugs to master
// database metadata.
package registry

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/sync/singleflight"

	"github.com/opsgate/oms/masterdb"
)

// ErrNotFound is returned for slugs with no usable tenant row. Terminated
// tenants are tombstones and resolve to this error as well.
var ErrNotFound = errors.New("tenant not found")

// TenantQuerier is the minimal master-database interface the registry needs.
type TenantQuerier interface {
	GetTenantBySlug(ctx context.Context, slug string) (masterdb.Tenant, error)
}

// cacheValue holds a cached tenant row or lookup error. Negative results
// are cached for the same TTL so a storm of lookups for a missing slug
// does not hammer the master database.
type cacheValue struct {
	Tenant masterdb.Tenant
	Err    error
}

// Registry resolves tenant slugs with a short-lived metadata cache. The
// TTL bounds how stale a cached row can be, so hits must not extend
// entry lifetimes; admin status changes that cannot wait for expiry go
// through ResolveFresh or Invalidate.
type Registry struct {
	querier TenantQuerier
	cache   *ttlcache.Cache[string, cacheValue]
	fresh   singleflight.Group
}

// New creates a Registry with the given querier and metadata cache TTL.
func New(querier TenantQuerier, ttl time.Duration) *Registry {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, cacheValue](ttl),
		ttlcache.WithDisableTouchOnHit[string, cacheValue](),
	)
	go cache.Start()
	return &Registry{
		querier: querier,
		cache:   cache,
	}
}

// Stop halts the cache's expiration goroutine.
func (r *Registry) Stop() {
	r.cache.Stop()
}

// Resolve returns the tenant row for slug, served from cache when a
// fresh-enough copy exists. The loader is created per call so it captures
// the caller's context; ttlcache only invokes it synchronously on miss.
func (r *Registry) Resolve(ctx context.Context, slug string) (masterdb.Tenant, error) {
	loader := ttlcache.LoaderFunc[string, cacheValue](
		func(cache *ttlcache.Cache[string, cacheValue], key string) *ttlcache.Item[string, cacheValue] {
			tenant, err := r.lookup(ctx, key)
			return cache.Set(key, cacheValue{
				Tenant: tenant,
				Err:    err,
			}, ttlcache.DefaultTTL)
		},
	)

	cached := r.cache.Get(slug, ttlcache.WithLoader(loader)).Value()
	return cached.Tenant, cached.Err
}

// ResolveFresh bypasses the cache, reads the master database, and
// refills the cache with whatever it finds. Concurrent fresh reads for
// the same slug coalesce into one query.
func (r *Registry) ResolveFresh(ctx context.Context, slug string) (masterdb.Tenant, error) {
	v, err, _ := r.fresh.Do(slug, func() (any, error) {
		tenant, err := r.lookup(ctx, slug)
		r.cache.Set(slug, cacheValue{Tenant: tenant, Err: err}, ttlcache.DefaultTTL)
		return tenant, err
	})
	tenant, _ := v.(masterdb.Tenant)
	return tenant, err
}

// Invalidate drops the cached row for slug. The next Resolve reloads.
func (r *Registry) Invalidate(slug string) {
	r.cache.Delete(slug)
}

func (r *Registry) lookup(ctx context.Context, slug string) (masterdb.Tenant, error) {
	tenant, err := r.querier.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return masterdb.Tenant{}, ErrNotFound
		}
		return masterdb.Tenant{}, err
	}
	if tenant.Status == masterdb.TenantStatusTerminated {
		return masterdb.Tenant{}, ErrNotFound
	}
	return tenant, nil
}
