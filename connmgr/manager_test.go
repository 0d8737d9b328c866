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
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/registry"
	"github.com/opsgate/oms/tenantdb"
)

// fakeResolver is a test double for the registry.
type fakeResolver struct {
	mu           sync.Mutex
	tenants      map[string]masterdb.Tenant
	resolveCalls atomic.Int32
	freshCalls   atomic.Int32
	invalidated  []string
	stopped      bool
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{tenants: make(map[string]masterdb.Tenant)}
}

func (f *fakeResolver) put(t masterdb.Tenant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.Slug] = t
}

func (f *fakeResolver) lookup(slug string) (masterdb.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tenant, ok := f.tenants[slug]
	if !ok || tenant.Status == masterdb.TenantStatusTerminated {
		return masterdb.Tenant{}, registry.ErrNotFound
	}
	return tenant, nil
}

func (f *fakeResolver) Resolve(ctx context.Context, slug string) (masterdb.Tenant, error) {
	f.resolveCalls.Add(1)
	return f.lookup(slug)
}

func (f *fakeResolver) ResolveFresh(ctx context.Context, slug string) (masterdb.Tenant, error) {
	f.freshCalls.Add(1)
	return f.lookup(slug)
}

func (f *fakeResolver) Invalidate(slug string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, slug)
}

func (f *fakeResolver) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

// fakeOpener is a test double for the connection factory.
type fakeOpener struct {
	opens   atomic.Int32
	openErr error
}

func (f *fakeOpener) Open(ctx context.Context, tenant masterdb.Tenant) (*tenantdb.Client, error) {
	f.opens.Add(1)
	if f.openErr != nil {
		return nil, &tenantdb.ConnectionError{Slug: tenant.Slug, Err: f.openErr}
	}
	return &tenantdb.Client{}, nil
}

func newTestManager(t *testing.T) (*Manager, *fakeResolver, *fakeOpener) {
	t.Helper()
	cache, err := NewCache[*tenantdb.Client](10, time.Minute)
	require.NoError(t, err)
	resolver := newFakeResolver()
	opener := &fakeOpener{}
	mgr := newManager(resolver, opener, cache)
	t.Cleanup(func() {
		_ = mgr.Shutdown(context.Background())
	})
	return mgr, resolver, opener
}

func tenantWithStatus(slug string, status masterdb.TenantStatus) masterdb.Tenant {
	return masterdb.Tenant{
		ID:           uuid.New(),
		Slug:         slug,
		Name:         slug,
		DatabaseName: "oms_tenant_" + slug,
		Status:       status,
	}
}

func TestGetClientCachesAcrossCalls(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, opener := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	first, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.Same(t, first, second)

	// Metadata is resolved on every call; the connection is opened once.
	assert.Equal(t, int32(2), resolver.resolveCalls.Load())
	assert.Equal(t, int32(1), opener.opens.Load())
	assert.Equal(t, int64(1), mgr.Stats().Hits)
}

func TestGetClientUnknownTenant(t *testing.T) {
	ctx := context.Background()
	mgr, _, opener := newTestManager(t)

	_, err := mgr.GetClient(ctx, "nope")
	require.ErrorIs(t, err, ErrTenantNotFound)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, int32(0), opener.opens.Load())
}

func TestGetClientTerminatedTenant(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, _ := newTestManager(t)
	resolver.put(tenantWithStatus("gone", masterdb.TenantStatusTerminated))

	_, err := mgr.GetClient(ctx, "gone")
	require.ErrorIs(t, err, ErrTenantNotFound)
}

func TestGetClientRejectsUnavailableStatuses(t *testing.T) {
	ctx := context.Background()

	for _, status := range []masterdb.TenantStatus{
		masterdb.TenantStatusPending,
		masterdb.TenantStatusSuspended,
		masterdb.TenantStatusInactive,
	} {
		t.Run(string(status), func(t *testing.T) {
			mgr, resolver, opener := newTestManager(t)
			resolver.put(tenantWithStatus("acme", status))

			_, err := mgr.GetClient(ctx, "acme")
			require.Error(t, err)

			var unavailable *TenantUnavailableError
			require.ErrorAs(t, err, &unavailable)
			assert.Equal(t, "acme", unavailable.Slug)
			assert.Equal(t, status, unavailable.Status)
			assert.Equal(t, int32(0), opener.opens.Load())
		})
	}
}

func TestGetClientAllowsTrialTenants(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, _ := newTestManager(t)
	resolver.put(tenantWithStatus("fresh-co", masterdb.TenantStatusTrial))

	client, err := mgr.GetClient(ctx, "fresh-co")
	require.NoError(t, err)
	assert.NotNil(t, client)
}

func TestGetClientVerifyFresh(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, _ := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	_, err := mgr.GetClient(ctx, "acme", WithVerifyFresh())
	require.NoError(t, err)

	assert.Equal(t, int32(0), resolver.resolveCalls.Load())
	assert.Equal(t, int32(1), resolver.freshCalls.Load())
}

func TestGetClientOpenFailureIsNotCached(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, opener := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	cause := errors.New("connection refused")
	opener.openErr = cause

	_, err := mgr.GetClient(ctx, "acme")
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "acme", connErr.Slug)
	assert.ErrorIs(t, err, cause)

	// The failure cleared the in-flight marker; recovery is immediate.
	opener.openErr = nil
	client, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestInvalidateDropsConnectionAndMetadata(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, opener := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	first, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)

	mgr.Invalidate("acme")
	assert.Contains(t, resolver.invalidated, "acme")

	second, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestSuspendThenReactivate(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, opener := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	_, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)

	// Admin suspends: status flips and the caches are purged.
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusSuspended))
	mgr.Invalidate("acme")

	_, err = mgr.GetClient(ctx, "acme", WithVerifyFresh())
	var unavailable *TenantUnavailableError
	require.ErrorAs(t, err, &unavailable)

	// Reactivation restores service with a fresh connection.
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))
	mgr.Invalidate("acme")

	client, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)
	assert.NotNil(t, client)
	assert.Equal(t, int32(2), opener.opens.Load())
}

func TestShutdownStopsEverything(t *testing.T) {
	ctx := context.Background()
	mgr, resolver, _ := newTestManager(t)
	resolver.put(tenantWithStatus("acme", masterdb.TenantStatusActive))

	_, err := mgr.GetClient(ctx, "acme")
	require.NoError(t, err)

	require.NoError(t, mgr.Shutdown(ctx))
	assert.True(t, resolver.stopped)

	_, err = mgr.GetClient(ctx, "acme")
	require.ErrorIs(t, err, ErrManagerClosed)

	// Shutdown is idempotent.
	require.NoError(t, mgr.Shutdown(ctx))
}
