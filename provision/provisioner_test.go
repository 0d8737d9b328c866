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

package provision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/registry"
)

// mockStore keeps tenant rows in memory and records state transitions.
type mockStore struct {
	mu          sync.Mutex
	tenants     map[string]masterdb.Tenant
	insertErr   error
	updateErr   error
	activateErr error
	transitions []masterdb.ProvisioningState
}

func newMockStore() *mockStore {
	return &mockStore{tenants: make(map[string]masterdb.Tenant)}
}

func (m *mockStore) GetTenantBySlug(ctx context.Context, slug string) (masterdb.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tenant, ok := m.tenants[slug]
	if !ok {
		return masterdb.Tenant{}, pgx.ErrNoRows
	}
	return tenant, nil
}

func (m *mockStore) InsertTenant(ctx context.Context, arg masterdb.InsertTenantParams) (masterdb.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return masterdb.Tenant{}, m.insertErr
	}
	if _, exists := m.tenants[arg.Slug]; exists {
		return masterdb.Tenant{}, &pgconn.PgError{Code: pgerrcode.UniqueViolation}
	}
	tenant := masterdb.Tenant{
		ID:                arg.ID,
		Slug:              arg.Slug,
		Name:              arg.Name,
		DatabaseName:      arg.DatabaseName,
		Status:            arg.Status,
		ProvisioningState: masterdb.ProvisioningStateCreatedRecord,
		Plan:              arg.Plan,
		TrialEndsAt:       arg.TrialEndsAt,
		CreatedAt:         time.Now(),
	}
	m.tenants[arg.Slug] = tenant
	return tenant, nil
}

func (m *mockStore) UpdateTenantProvisioningState(ctx context.Context, arg masterdb.UpdateTenantProvisioningStateParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	for slug, tenant := range m.tenants {
		if tenant.ID == arg.ID {
			tenant.ProvisioningState = arg.ProvisioningState
			tenant.ProvisioningError = arg.ProvisioningError
			m.tenants[slug] = tenant
			m.transitions = append(m.transitions, arg.ProvisioningState)
			return nil
		}
	}
	return pgx.ErrNoRows
}

func (m *mockStore) SetTenantActivated(ctx context.Context, arg masterdb.SetTenantActivatedParams) (masterdb.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activateErr != nil {
		return masterdb.Tenant{}, m.activateErr
	}
	for slug, tenant := range m.tenants {
		if tenant.ID == arg.ID {
			now := time.Now()
			tenant.Status = arg.Status
			tenant.ProvisioningState = masterdb.ProvisioningStateActivated
			tenant.ProvisioningError = nil
			tenant.ActivatedAt = &now
			m.tenants[slug] = tenant
			return tenant, nil
		}
	}
	return masterdb.Tenant{}, pgx.ErrNoRows
}

func (m *mockStore) row(slug string) masterdb.Tenant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tenants[slug]
}

// mockTenantDBs records database-level stage executions.
type mockTenantDBs struct {
	mu          sync.Mutex
	order       []string
	createErr   error
	migrateErr  error
	seedErr     error
	createCalls int
	migrateCall int
	seedCalls   int
}

func (m *mockTenantDBs) CreateDatabase(ctx context.Context, tenant masterdb.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	m.order = append(m.order, "create")
	return m.createErr
}

func (m *mockTenantDBs) MigrateUp(ctx context.Context, tenant masterdb.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.migrateCall++
	m.order = append(m.order, "migrate")
	return m.migrateErr
}

func (m *mockTenantDBs) Seed(ctx context.Context, tenant masterdb.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seedCalls++
	m.order = append(m.order, "seed")
	return m.seedErr
}

func testProvisioner() (*Provisioner, *mockStore, *mockTenantDBs) {
	cfg := &config.Config{
		TenantDB: config.TenantDBConfig{
			Host:   "localhost",
			Port:   5432,
			Prefix: "oms_tenant_",
		},
	}
	store := newMockStore()
	dbs := &mockTenantDBs{}
	return New(cfg, store, dbs), store, dbs
}

func TestProvisionHappyPath(t *testing.T) {
	ctx := context.Background()
	p, store, dbs := testProvisioner()

	tenant, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme Offices"})
	require.NoError(t, err)

	assert.Equal(t, "acme", tenant.Slug)
	assert.Equal(t, "oms_tenant_acme", tenant.DatabaseName)
	assert.Equal(t, masterdb.TenantStatusActive, tenant.Status)
	assert.Equal(t, masterdb.ProvisioningStateActivated, tenant.ProvisioningState)
	assert.Equal(t, "standard", tenant.Plan)
	assert.NotNil(t, tenant.ActivatedAt)
	assert.Nil(t, tenant.ProvisioningError)

	assert.Equal(t, []string{"create", "migrate", "seed"}, dbs.order)
	assert.Equal(t, []masterdb.ProvisioningState{
		masterdb.ProvisioningStateDatabaseCreated,
		masterdb.ProvisioningStateMigrated,
		masterdb.ProvisioningStateSeeded,
	}, store.transitions)
}

func TestProvisionTrialTenant(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProvisioner()

	tenant, err := p.Provision(ctx, TenantDraft{
		Slug:      "fresh-co",
		Name:      "Fresh Co",
		Plan:      "trial",
		TrialDays: 14,
	})
	require.NoError(t, err)

	assert.Equal(t, masterdb.TenantStatusTrial, tenant.Status)
	require.NotNil(t, tenant.TrialEndsAt)
	assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 14), *tenant.TrialEndsAt, time.Minute)
}

func TestProvisionRejectsBadDrafts(t *testing.T) {
	ctx := context.Background()
	p, store, _ := testProvisioner()

	for _, draft := range []TenantDraft{
		{Slug: "", Name: "x"},
		{Slug: "Has-Caps", Name: "x"},
		{Slug: "-leading", Name: "x"},
		{Slug: "trailing-", Name: "x"},
		{Slug: "under_score", Name: "x"},
		{Slug: "acme", Name: ""},
		{Slug: "acme", Name: "x", TrialDays: -1},
	} {
		_, err := p.Provision(ctx, draft)
		assert.ErrorIs(t, err, ErrInvalidDraft, "draft %+v", draft)
	}
	assert.Empty(t, store.tenants)
}

func TestProvisionDuplicateSlug(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProvisioner()

	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "First"})
	require.NoError(t, err)

	_, err = p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Second"})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestProvisionFailureKeepsRecoverableRow(t *testing.T) {
	ctx := context.Background()
	p, store, dbs := testProvisioner()

	cause := errors.New("broken DDL")
	dbs.migrateErr = cause

	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme"})
	require.Error(t, err)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, StageMigrate, provErr.Stage)
	assert.Equal(t, "acme", provErr.Slug)
	assert.ErrorIs(t, err, cause)

	row := store.row("acme")
	assert.Equal(t, masterdb.TenantStatusPending, row.Status)
	assert.Equal(t, masterdb.ProvisioningStateDatabaseCreated, row.ProvisioningState)
	require.NotNil(t, row.ProvisioningError)
	assert.Contains(t, *row.ProvisioningError, "broken DDL")
}

func TestRetryResumesFromRecordedStage(t *testing.T) {
	ctx := context.Background()
	p, store, dbs := testProvisioner()

	dbs.migrateErr = errors.New("broken DDL")
	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme"})
	require.Error(t, err)
	require.Equal(t, 1, dbs.createCalls)

	dbs.migrateErr = nil
	tenant, err := p.Retry(ctx, "acme")
	require.NoError(t, err)

	assert.Equal(t, masterdb.TenantStatusActive, tenant.Status)
	assert.Equal(t, masterdb.ProvisioningStateActivated, tenant.ProvisioningState)
	assert.Nil(t, tenant.ProvisioningError)

	// The database_created stage was not repeated; migrate and seed ran
	// on the retry.
	assert.Equal(t, 1, dbs.createCalls)
	assert.Equal(t, 2, dbs.migrateCall)
	assert.Equal(t, 1, dbs.seedCalls)

	row := store.row("acme")
	assert.Equal(t, masterdb.ProvisioningStateActivated, row.ProvisioningState)
}

func TestRetryFailedFirstStageRunsEverything(t *testing.T) {
	ctx := context.Background()
	p, _, dbs := testProvisioner()

	dbs.createErr = errors.New("host unreachable")
	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme"})
	require.Error(t, err)

	var provErr *ProvisioningError
	require.ErrorAs(t, err, &provErr)
	assert.Equal(t, StageCreateDatabase, provErr.Stage)

	dbs.createErr = nil
	tenant, err := p.Retry(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, masterdb.ProvisioningStateActivated, tenant.ProvisioningState)
	assert.Equal(t, []string{"create", "create", "migrate", "seed"}, dbs.order)
}

func TestRetryActivatedTenantIsNoop(t *testing.T) {
	ctx := context.Background()
	p, _, dbs := testProvisioner()

	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme"})
	require.NoError(t, err)
	callsBefore := dbs.createCalls + dbs.migrateCall + dbs.seedCalls

	tenant, err := p.Retry(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, masterdb.ProvisioningStateActivated, tenant.ProvisioningState)
	assert.Equal(t, callsBefore, dbs.createCalls+dbs.migrateCall+dbs.seedCalls)
}

func TestRetryUnknownSlug(t *testing.T) {
	ctx := context.Background()
	p, _, _ := testProvisioner()

	_, err := p.Retry(ctx, "nope")
	require.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRetryTerminatedTenant(t *testing.T) {
	ctx := context.Background()
	p, store, _ := testProvisioner()

	_, err := p.Provision(ctx, TenantDraft{Slug: "acme", Name: "Acme"})
	require.NoError(t, err)

	row := store.row("acme")
	row.Status = masterdb.TenantStatusTerminated
	store.mu.Lock()
	store.tenants["acme"] = row
	store.mu.Unlock()

	_, err = p.Retry(ctx, "acme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "terminated")
}

func TestTrialStatusPreservedOnRetry(t *testing.T) {
	ctx := context.Background()
	p, _, dbs := testProvisioner()

	dbs.seedErr = errors.New("seed failed")
	_, err := p.Provision(ctx, TenantDraft{Slug: "fresh-co", Name: "Fresh", TrialDays: 30})
	require.Error(t, err)

	dbs.seedErr = nil
	tenant, err := p.Retry(ctx, "fresh-co")
	require.NoError(t, err)
	assert.Equal(t, masterdb.TenantStatusTrial, tenant.Status)
}
