// Package provisioning creates tenants end to end: registry row, physical
// database, schema install, admin user, activation. Any failure after the
// registry row exists triggers a full rollback so no half-provisioned
// tenant is ever visible.
package provisioning

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/clock"
	obsmetrics "github.com/smallbiznis/tenantplane/internal/observability/metrics"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	pkgdb "github.com/smallbiznis/tenantplane/pkg/db"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	StepValidate  = "validate"
	StepSlug      = "slug"
	StepRegistry  = "registry"
	StepDatabase  = "database"
	StepSchema    = "schema"
	StepVerify    = "verify"
	StepWorkspace = "workspace"
	StepAdminUser = "admin_user"
	StepRecords   = "records"
	StepActivate  = "activate"
)

// Request describes a tenant to provision. AdminPasswordHash must already
// be an Argon2id hash; plaintext never reaches the engine. AdminEmail and
// AdminPasswordHash may be empty when ExternalOrgID is set: the external
// identity provider owns the users and attaches them after activation.
type Request struct {
	OrganizationName  string
	AdminEmail        string
	AdminPasswordHash string
	Plan              registrydomain.Plan
	ExternalOrgID     string
}

type Result struct {
	TenantID    snowflake.ID
	Slug        string
	StorageID   string
	AdminUserID snowflake.ID
}

// ProgressFunc receives step transitions as the engine advances. The queue
// uses it to persist progress onto the job record.
type ProgressFunc func(step string, percent int)

type Engine struct {
	repo      registrydomain.Repository
	storage   StorageAdmin
	schema    SchemaProvisioner
	workspace WorkspaceBootstrapper
	node      *snowflake.Node
	clk       clock.Clock
	log       *zap.Logger
	dbPrefix  string

	suffixFn func() string
}

func NewEngine(repo registrydomain.Repository, storage StorageAdmin, schema SchemaProvisioner, workspace WorkspaceBootstrapper, node *snowflake.Node, clk clock.Clock, dbPrefix string, log *zap.Logger) *Engine {
	return &Engine{
		repo:      repo,
		storage:   storage,
		schema:    schema,
		workspace: workspace,
		node:      node,
		clk:       clk,
		log:       log.Named("provisioning"),
		dbPrefix:  dbPrefix,
		suffixFn:  randomSuffix,
	}
}

// Provision runs every provisioning step in order. The tenant row is
// written first with status pending so rollback always has an anchor; it
// only becomes active after the schema has been verified and the admin
// user exists.
func (e *Engine) Provision(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	if progress == nil {
		progress = func(string, int) {}
	}
	start := e.clk.Now()

	result, err := e.provision(ctx, req, progress)
	if err != nil {
		obsmetrics.ControlPlane().ObserveProvision("failure", e.clk.Now().Sub(start))
		return nil, err
	}
	obsmetrics.ControlPlane().ObserveProvision("success", e.clk.Now().Sub(start))
	return result, nil
}

func (e *Engine) provision(ctx context.Context, req Request, progress ProgressFunc) (*Result, error) {
	progress(StepValidate, 5)
	if err := e.validate(ctx, req); err != nil {
		return nil, err
	}

	progress(StepSlug, 15)
	tenantSlug, err := e.uniqueSlug(ctx, req.OrganizationName)
	if err != nil {
		return nil, &Error{Step: StepSlug, Err: err}
	}

	progress(StepRegistry, 25)
	tenant, err := e.createTenant(ctx, req, tenantSlug)
	if err != nil {
		return nil, &Error{Step: StepRegistry, Err: err}
	}

	// Everything past this point rolls back on failure.
	fail := func(step string, cause error) (*Result, error) {
		e.rollback(context.WithoutCancel(ctx), tenant)
		return nil, &Error{Step: step, Err: cause}
	}

	progress(StepDatabase, 40)
	if err := e.storage.EnsureDatabase(ctx, tenant.StorageID); err != nil {
		return fail(StepDatabase, err)
	}

	progress(StepSchema, 50)
	if err := e.schema.Install(ctx, tenant.StorageID); err != nil {
		return fail(StepSchema, err)
	}

	progress(StepVerify, 60)
	if err := e.schema.Verify(ctx, tenant.StorageID); err != nil {
		return fail(StepVerify, err)
	}

	admin := e.newAdmin(req, tenant)

	progress(StepWorkspace, 70)
	if err := e.workspace.Bootstrap(ctx, tenant.StorageID, workspaceOf(tenant, admin)); err != nil {
		return fail(StepWorkspace, err)
	}

	progress(StepAdminUser, 80)
	if admin != nil {
		if err := e.persistAdmin(ctx, admin); err != nil {
			return fail(StepAdminUser, err)
		}
	}

	progress(StepRecords, 90)
	if err := e.createRecords(ctx, tenant); err != nil {
		return fail(StepRecords, err)
	}

	progress(StepActivate, 95)
	if err := e.activate(ctx, tenant, admin); err != nil {
		return fail(StepActivate, err)
	}

	progress(StepActivate, 100)
	e.log.Info("tenant provisioned",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("slug", tenant.Slug),
		zap.String("storage_id", tenant.StorageID),
		zap.Bool("external_identity", admin == nil),
	)
	result := &Result{
		TenantID:  tenant.ID,
		Slug:      tenant.Slug,
		StorageID: tenant.StorageID,
	}
	if admin != nil {
		result.AdminUserID = admin.ID
	}
	return result, nil
}

func (e *Engine) validate(ctx context.Context, req Request) error {
	if req.OrganizationName == "" {
		return &Error{Step: StepValidate, Err: fmt.Errorf("%w: organization_name", ErrMissingField)}
	}
	if req.AdminEmail == "" {
		// Credential-less provisioning is only valid when an external
		// identity provider owns the tenant's users.
		if req.ExternalOrgID == "" {
			return &Error{Step: StepValidate, Err: fmt.Errorf("%w: admin_email", ErrMissingField)}
		}
		return nil
	}
	taken, err := e.repo.EmailTaken(ctx, req.AdminEmail)
	if err != nil {
		return &Error{Step: StepValidate, Err: err}
	}
	if taken {
		return &Error{Step: StepValidate, Err: ErrEmailTaken}
	}
	return nil
}

// uniqueSlug retries with a random numeric suffix until the slug is free.
// This only defends against pre-check collisions; a concurrent insert can
// still collide and is handled again at createTenant.
func (e *Engine) uniqueSlug(ctx context.Context, name string) (string, error) {
	base := slugify(name)
	if base == "" {
		return "", ErrSlugGeneration
	}
	candidate := base
	for attempt := 0; attempt < slugAttempts; attempt++ {
		taken, err := e.repo.SlugTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%s", base, e.suffixFn())
		if len(candidate) > maxSlugLen {
			trim := maxSlugLen - len(candidate) + len(base)
			candidate = fmt.Sprintf("%s-%s", base[:trim], e.suffixFn())
		}
	}
	return "", ErrSlugGeneration
}

func (e *Engine) createTenant(ctx context.Context, req Request, tenantSlug string) (*registrydomain.Tenant, error) {
	plan := req.Plan
	if plan == "" {
		plan = registrydomain.PlanFree
	}

	tenant := registrydomain.Tenant{
		ID:            e.node.Generate(),
		Slug:          tenantSlug,
		Name:          req.OrganizationName,
		StorageID:     databaseName(e.dbPrefix, tenantSlug),
		Status:        registrydomain.StatusPending,
		Plan:          plan,
		ExternalOrgID: req.ExternalOrgID,
	}
	err := e.repo.CreateTenant(ctx, tenant)
	if pkgdb.IsDuplicateKeyErr(err) {
		// Lost a race on the unique slug index. One re-roll is enough;
		// a second loss means something is systematically wrong.
		tenant.Slug = fmt.Sprintf("%s-%s", tenantSlug, e.suffixFn())
		tenant.StorageID = databaseName(e.dbPrefix, tenant.Slug)
		err = e.repo.CreateTenant(ctx, tenant)
	}
	if err != nil {
		return nil, err
	}
	return &tenant, nil
}

// newAdmin builds the admin user record, or nil when no email was given
// and the identity provider attaches users later. The ID is generated up
// front so the workspace bootstrap and the registry row agree on it.
func (e *Engine) newAdmin(req Request, tenant *registrydomain.Tenant) *registrydomain.GlobalUser {
	if req.AdminEmail == "" {
		return nil
	}
	user := &registrydomain.GlobalUser{
		ID:       e.node.Generate(),
		Email:    req.AdminEmail,
		TenantID: tenant.ID,
		Role:     "admin",
		IsActive: true,
	}
	if req.AdminPasswordHash != "" {
		hash := req.AdminPasswordHash
		user.PasswordHash = &hash
	}
	return user
}

func (e *Engine) persistAdmin(ctx context.Context, admin *registrydomain.GlobalUser) error {
	if err := e.repo.CreateUser(ctx, *admin); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return ErrEmailTaken
		}
		return err
	}
	return nil
}

func (e *Engine) createRecords(ctx context.Context, tenant *registrydomain.Tenant) error {
	if err := e.repo.CreateSettings(ctx, registrydomain.TenantSettings{
		TenantID: tenant.ID,
		Settings: datatypes.JSONMap{},
	}); err != nil {
		return err
	}
	return e.repo.CreateUsage(ctx, registrydomain.TenantUsage{
		TenantID:        tenant.ID,
		APICallsResetAt: e.clk.Now(),
	})
}

func (e *Engine) activate(ctx context.Context, tenant *registrydomain.Tenant, admin *registrydomain.GlobalUser) error {
	if admin != nil {
		if err := e.repo.SetTenantAdmin(ctx, tenant.ID, admin.ID); err != nil {
			return err
		}
	}
	return e.repo.UpdateTenantStatus(ctx, tenant.ID, registrydomain.StatusActive)
}

// AttachUser joins an externally managed identity to an existing tenant.
// The identity provider keeps the credential, so no hash is stored; the
// user can only authenticate through provider-issued tokens.
func (e *Engine) AttachUser(ctx context.Context, tenantID snowflake.ID, email, role string) (*registrydomain.GlobalUser, error) {
	if email == "" {
		return nil, ErrMissingField
	}
	if role == "" {
		role = "member"
	}

	tenant, err := e.repo.GetTenantByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, registrydomain.ErrTenantNotFound
		}
		return nil, err
	}
	if tenant.Status == registrydomain.StatusDeleted {
		return nil, registrydomain.ErrInvalidStatus
	}

	user := registrydomain.GlobalUser{
		ID:       e.node.Generate(),
		Email:    email,
		TenantID: tenant.ID,
		Role:     role,
		IsActive: true,
	}
	if err := e.repo.CreateUser(ctx, user); err != nil {
		if pkgdb.IsDuplicateKeyErr(err) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	e.log.Info("user attached",
		zap.String("tenant_id", tenant.ID.String()),
		zap.String("email", email),
		zap.String("role", role),
	)
	return &user, nil
}

// rollback deletes every record created for the tenant, children first,
// then drops the physical database best effort. Rollback failures are
// logged and swallowed so the original provisioning error is the one the
// caller sees.
func (e *Engine) rollback(ctx context.Context, tenant *registrydomain.Tenant) {
	e.log.Warn("rolling back tenant", zap.String("tenant_id", tenant.ID.String()))

	if err := e.repo.DeleteUsersByTenant(ctx, tenant.ID); err != nil {
		e.log.Error("rollback: delete users", zap.Error(err))
	}
	if err := e.repo.DeleteSettings(ctx, tenant.ID); err != nil {
		e.log.Error("rollback: delete settings", zap.Error(err))
	}
	if err := e.repo.DeleteUsage(ctx, tenant.ID); err != nil {
		e.log.Error("rollback: delete usage", zap.Error(err))
	}
	if err := e.repo.DeleteTenant(ctx, tenant.ID); err != nil {
		e.log.Error("rollback: delete tenant", zap.Error(err))
	}
	if err := e.storage.DropDatabase(ctx, tenant.StorageID); err != nil {
		e.log.Error("rollback: drop database",
			zap.String("database", tenant.StorageID),
			zap.Error(err),
		)
	}
}
