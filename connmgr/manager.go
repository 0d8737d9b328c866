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

// Package connmgr hands out pooled tenant database connections. It ties
// the tenant registry, the connection factory, and the bounded connection
// cache together behind one facade the request path calls.
package connmgr

import (
	"context"
	"errors"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/registry"
	"github.com/opsgate/oms/tenantdb"
)

// tenantResolver is the slice of the registry the manager uses.
type tenantResolver interface {
	Resolve(ctx context.Context, slug string) (masterdb.Tenant, error)
	ResolveFresh(ctx context.Context, slug string) (masterdb.Tenant, error)
	Invalidate(slug string)
	Stop()
}

// clientOpener is the slice of the connection factory the manager uses.
type clientOpener interface {
	Open(ctx context.Context, tenant masterdb.Tenant) (*tenantdb.Client, error)
}

// Manager is the tenant connection facade. One instance serves the whole
// process; every handler-level lookup goes through GetClient.
type Manager struct {
	resolver tenantResolver
	opener   clientOpener
	cache    *Cache[*tenantdb.Client]
	closed   atomic.Bool
}

// NewManager wires a Manager from the master store and the global
// configuration.
func NewManager(cfg *config.Config, store *masterdb.Store) (*Manager, error) {
	cache, err := NewCache[*tenantdb.Client](cfg.Cache.MaxSize, cfg.Cache.TTL)
	if err != nil {
		return nil, err
	}
	registerEntriesGauge(cache)
	return &Manager{
		resolver: registry.New(store, cfg.Registry.TTL),
		opener:   tenantdb.NewFactory(cfg),
		cache:    cache,
	}, nil
}

func newManager(resolver tenantResolver, opener clientOpener, cache *Cache[*tenantdb.Client]) *Manager {
	return &Manager{resolver: resolver, opener: opener, cache: cache}
}

// GetOption adjusts a single GetClient call.
type GetOption func(*getOptions)

type getOptions struct {
	verifyFresh bool
}

// WithVerifyFresh makes GetClient re-read tenant metadata from the master
// database instead of trusting the short-lived registry cache. Use it on
// auth-critical paths that must observe a suspension immediately.
func WithVerifyFresh() GetOption {
	return func(o *getOptions) {
		o.verifyFresh = true
	}
}

// GetClient returns a live connection handle for the tenant. The handle
// is shared: callers use it and walk away, they never close it. Policy:
// unknown or terminated slugs get ErrTenantNotFound; tenants whose
// status forbids connections get TenantUnavailableError; open failures
// get *ConnectionError.
func (m *Manager) GetClient(ctx context.Context, slug string, opts ...GetOption) (*tenantdb.Client, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	var o getOptions
	for _, opt := range opts {
		opt(&o)
	}

	tracer := otel.Tracer("github.com/opsgate/oms/connmgr")
	ctx, span := tracer.Start(ctx, "connmgr.get_client")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.slug", slug),
		attribute.Bool("verify_fresh", o.verifyFresh),
	)

	var tenant masterdb.Tenant
	var err error
	if o.verifyFresh {
		tenant, err = m.resolver.ResolveFresh(ctx, slug)
	} else {
		tenant, err = m.resolver.Resolve(ctx, slug)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "resolve failed")
		return nil, err
	}

	if !tenant.Status.CanConnect() {
		err := &TenantUnavailableError{Slug: slug, Status: tenant.Status}
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant unavailable")
		return nil, err
	}

	client, err := m.cache.GetOrCreate(ctx, slug, func(ctx context.Context) (*tenantdb.Client, error) {
		return m.opener.Open(ctx, tenant)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "connection unavailable")
		return nil, err
	}
	return client, nil
}

// Invalidate drops both the cached connection and the cached metadata
// for slug. Admin status changes call this so the next GetClient sees
// the new state instead of a cached one.
func (m *Manager) Invalidate(slug string) {
	m.cache.Invalidate(slug)
	m.resolver.Invalidate(slug)
}

// Shutdown makes further GetClient calls fail fast, then closes every
// cached connection. ctx bounds how long to wait for in-use handles.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.resolver.Stop()
	return m.cache.CloseAll(ctx)
}

// Stats reports connection cache occupancy and lifetime counters.
func (m *Manager) Stats() Stats {
	return m.cache.Stats()
}

// IsNotFound reports whether err means the tenant does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}
