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

// Package provision creates tenant databases and walks new tenants
// through the provisioning state machine: created_record,
// database_created, migrated, seeded, activated. A failed run records
// its error on the master row and resumes from the last completed stage
// on retry; every stage tolerates re-execution.
package provision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/opsgate/oms/config"
	"github.com/opsgate/oms/internal/idgen"
	"github.com/opsgate/oms/internal/logctx"
	"github.com/opsgate/oms/masterdb"
	"github.com/opsgate/oms/registry"
)

// Slugs become part of a database name, so they are restricted to
// lowercase DNS-label shape. The prefix takes 11 of Postgres's 63
// identifier bytes; 40 leaves comfortable headroom.
var slugPattern = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9-]{0,38}[a-z0-9])?$`)

// TenantDraft is the request to provision a new tenant.
type TenantDraft struct {
	Slug      string
	Name      string
	Plan      string
	TrialDays int
}

// masterStore is the slice of the master database the provisioner uses.
type masterStore interface {
	GetTenantBySlug(ctx context.Context, slug string) (masterdb.Tenant, error)
	InsertTenant(ctx context.Context, arg masterdb.InsertTenantParams) (masterdb.Tenant, error)
	UpdateTenantProvisioningState(ctx context.Context, arg masterdb.UpdateTenantProvisioningStateParams) error
	SetTenantActivated(ctx context.Context, arg masterdb.SetTenantActivatedParams) (masterdb.Tenant, error)
}

// tenantDatabases is the slice of the connection factory the provisioner
// uses to act on tenant databases.
type tenantDatabases interface {
	CreateDatabase(ctx context.Context, tenant masterdb.Tenant) error
	MigrateUp(ctx context.Context, tenant masterdb.Tenant) error
	Seed(ctx context.Context, tenant masterdb.Tenant) error
}

// Provisioner runs the tenant provisioning workflow.
type Provisioner struct {
	cfg   *config.Config
	store masterStore
	dbs   tenantDatabases
}

// New creates a Provisioner over the master store and a tenant database
// factory.
func New(cfg *config.Config, store masterStore, dbs tenantDatabases) *Provisioner {
	return &Provisioner{cfg: cfg, store: store, dbs: dbs}
}

// Provision creates the master row for draft and runs the full workflow.
// On failure the row survives in PENDING with provisioning_error set;
// Retry picks it up from the last completed stage. The returned tenant
// is the activated row on success.
func (p *Provisioner) Provision(ctx context.Context, draft TenantDraft) (masterdb.Tenant, error) {
	if err := draft.validate(); err != nil {
		return masterdb.Tenant{}, err
	}

	opID := idgen.GenerateShortBase32ID()
	ll := logctx.FromContext(ctx).With(
		slog.String("op_id", opID),
		slog.String("slug", draft.Slug),
	)
	ctx = logctx.WithLogger(ctx, ll)

	plan := draft.Plan
	if plan == "" {
		plan = "standard"
	}
	var trialEndsAt *time.Time
	if draft.TrialDays > 0 {
		t := time.Now().UTC().AddDate(0, 0, draft.TrialDays)
		trialEndsAt = &t
	}

	ll.Info("Provisioning tenant", slog.String("plan", plan))

	tenant, err := p.store.InsertTenant(ctx, masterdb.InsertTenantParams{
		ID:           uuid.New(),
		Slug:         draft.Slug,
		Name:         draft.Name,
		DatabaseName: p.cfg.TenantDB.DatabaseName(draft.Slug),
		Status:       masterdb.TenantStatusPending,
		Plan:         plan,
		TrialEndsAt:  trialEndsAt,
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return masterdb.Tenant{}, fmt.Errorf("slug %s: %w", draft.Slug, ErrAlreadyExists)
		}
		return masterdb.Tenant{}, &ProvisioningError{Slug: draft.Slug, Stage: StageCreateRecord, Err: err}
	}

	return p.run(ctx, tenant)
}

// Retry resumes a failed provisioning run. Stages that already completed
// are skipped based on the recorded provisioning_state; the create and
// seed stages are idempotent anyway, so overlap is harmless.
func (p *Provisioner) Retry(ctx context.Context, slug string) (masterdb.Tenant, error) {
	tenant, err := p.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return masterdb.Tenant{}, registry.ErrNotFound
		}
		return masterdb.Tenant{}, err
	}
	if tenant.Status == masterdb.TenantStatusTerminated {
		return masterdb.Tenant{}, fmt.Errorf("tenant %s is terminated", slug)
	}
	if tenant.ProvisioningState == masterdb.ProvisioningStateActivated {
		return tenant, nil
	}

	opID := idgen.GenerateShortBase32ID()
	ll := logctx.FromContext(ctx).With(
		slog.String("op_id", opID),
		slog.String("slug", slug),
	)
	ctx = logctx.WithLogger(ctx, ll)
	ll.Info("Retrying tenant provisioning",
		slog.String("resume_from", string(tenant.ProvisioningState)))

	return p.run(ctx, tenant)
}

// stateRank orders provisioning states so run knows which stages remain.
var stateRank = map[masterdb.ProvisioningState]int{
	masterdb.ProvisioningStateCreatedRecord:   0,
	masterdb.ProvisioningStateDatabaseCreated: 1,
	masterdb.ProvisioningStateMigrated:        2,
	masterdb.ProvisioningStateSeeded:          3,
	masterdb.ProvisioningStateActivated:       4,
}

func (p *Provisioner) run(ctx context.Context, tenant masterdb.Tenant) (masterdb.Tenant, error) {
	ll := logctx.FromContext(ctx)
	tracer := otel.Tracer("github.com/opsgate/oms/provision")

	stages := []struct {
		stage Stage
		state masterdb.ProvisioningState
		fn    func(context.Context, masterdb.Tenant) error
	}{
		{StageCreateDatabase, masterdb.ProvisioningStateDatabaseCreated, p.dbs.CreateDatabase},
		{StageMigrate, masterdb.ProvisioningStateMigrated, p.dbs.MigrateUp},
		{StageSeed, masterdb.ProvisioningStateSeeded, p.dbs.Seed},
	}

	for _, s := range stages {
		if stateRank[s.state] <= stateRank[tenant.ProvisioningState] {
			continue
		}

		stageCtx, span := tracer.Start(ctx, "provision."+string(s.stage))
		span.SetAttributes(attribute.String("tenant.slug", tenant.Slug))
		err := s.fn(stageCtx, tenant)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "stage failed")
			span.End()
			p.recordFailure(ctx, tenant, s.stage, err)
			return masterdb.Tenant{}, &ProvisioningError{Slug: tenant.Slug, Stage: s.stage, Err: err}
		}
		span.End()

		if err := p.store.UpdateTenantProvisioningState(ctx, masterdb.UpdateTenantProvisioningStateParams{
			ID:                tenant.ID,
			ProvisioningState: s.state,
		}); err != nil {
			p.recordFailure(ctx, tenant, s.stage, err)
			return masterdb.Tenant{}, &ProvisioningError{Slug: tenant.Slug, Stage: s.stage, Err: err}
		}
		tenant.ProvisioningState = s.state
		ll.Info("Provisioning stage complete", slog.String("stage", string(s.stage)))
	}

	finalStatus := masterdb.TenantStatusActive
	if tenant.TrialEndsAt != nil {
		finalStatus = masterdb.TenantStatusTrial
	}
	activated, err := p.store.SetTenantActivated(ctx, masterdb.SetTenantActivatedParams{
		ID:     tenant.ID,
		Status: finalStatus,
	})
	if err != nil {
		p.recordFailure(ctx, tenant, StageActivate, err)
		return masterdb.Tenant{}, &ProvisioningError{Slug: tenant.Slug, Stage: StageActivate, Err: err}
	}

	ll.Info("Tenant provisioned",
		slog.String("database", activated.DatabaseName),
		slog.String("status", string(activated.Status)))
	return activated, nil
}

// recordFailure stores the failure cause on the master row without
// advancing provisioning_state, keeping the tenant recoverable.
func (p *Provisioner) recordFailure(ctx context.Context, tenant masterdb.Tenant, stage Stage, cause error) {
	msg := fmt.Sprintf("%s: %v", stage, cause)
	if err := p.store.UpdateTenantProvisioningState(ctx, masterdb.UpdateTenantProvisioningStateParams{
		ID:                tenant.ID,
		ProvisioningState: tenant.ProvisioningState,
		ProvisioningError: &msg,
	}); err != nil {
		logctx.FromContext(ctx).Error("Failed to record provisioning error",
			slog.String("slug", tenant.Slug),
			slog.Any("error", err))
	}
}

func (d TenantDraft) validate() error {
	if !slugPattern.MatchString(d.Slug) {
		return fmt.Errorf("%w: slug %q must be lowercase letters, digits, and hyphens", ErrInvalidDraft, d.Slug)
	}
	if d.Name == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidDraft)
	}
	if d.TrialDays < 0 {
		return fmt.Errorf("%w: trial days must not be negative", ErrInvalidDraft)
	}
	return nil
}
