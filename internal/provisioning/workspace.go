package provisioning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tenantplane/internal/config"
	registrydomain "github.com/smallbiznis/tenantplane/internal/registry/domain"
	"go.uber.org/zap"
)

// Workspace is the scaffold written into a tenant's own database right
// after the schema is verified.
type Workspace struct {
	TenantID snowflake.ID
	Name     string
	Slug     string

	// Admin is nil when an external identity provider owns the users;
	// in that case only the scaffold and roles are written.
	Admin *WorkspaceAdmin
}

type WorkspaceAdmin struct {
	ID    snowflake.ID
	Email string
}

// WorkspaceBootstrapper seeds a freshly installed tenant database with
// its workspace scaffold, role definitions, and admin user. Bootstrap
// must be idempotent: queue retries can replay it against a database
// that was already partially seeded.
type WorkspaceBootstrapper interface {
	Bootstrap(ctx context.Context, database string, ws Workspace) error
}

func workspaceOf(tenant *registrydomain.Tenant, admin *registrydomain.GlobalUser) Workspace {
	ws := Workspace{
		TenantID: tenant.ID,
		Name:     tenant.Name,
		Slug:     tenant.Slug,
	}
	if admin != nil {
		ws.Admin = &WorkspaceAdmin{ID: admin.ID, Email: admin.Email}
	}
	return ws
}

// roleGrants is the default role set seeded into every new workspace.
var roleGrants = map[string]map[string]bool{
	"admin": {
		"manage_settings": true,
		"manage_objects":  true,
		"manage_records":  true,
	},
	"member": {
		"manage_settings": false,
		"manage_objects":  false,
		"manage_records":  true,
	},
}

type pgBootstrapper struct {
	cfg config.Config
	log *zap.Logger
}

func NewWorkspaceBootstrapper(cfg config.Config, log *zap.Logger) WorkspaceBootstrapper {
	return &pgBootstrapper{cfg: cfg, log: log.Named("workspace_bootstrap")}
}

func (b *pgBootstrapper) Bootstrap(ctx context.Context, database string, ws Workspace) error {
	db, err := sql.Open("pgx", tenantDSN(b.cfg, database))
	if err != nil {
		return err
	}
	defer db.Close()

	scaffold, err := json.Marshal(map[string]any{
		"tenant_id":    ws.TenantID.String(),
		"display_name": ws.Name,
		"subdomain":    ws.Slug,
		"status":       "active",
	})
	if err != nil {
		return err
	}
	if err := upsertSetting(ctx, db, "workspace", scaffold); err != nil {
		return fmt.Errorf("seed workspace: %w", err)
	}

	roles, err := json.Marshal(roleGrants)
	if err != nil {
		return err
	}
	if err := upsertSetting(ctx, db, "roles", roles); err != nil {
		return fmt.Errorf("seed roles: %w", err)
	}

	if ws.Admin != nil {
		_, err = db.ExecContext(ctx,
			`INSERT INTO users (id, email, role, is_active)
			 VALUES ($1, $2, 'admin', TRUE)
			 ON CONFLICT (id) DO NOTHING`,
			ws.Admin.ID.Int64(), ws.Admin.Email,
		)
		if err != nil {
			return fmt.Errorf("seed admin user: %w", err)
		}
	}

	detail, err := json.Marshal(map[string]any{"slug": ws.Slug})
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx,
		`INSERT INTO audit_log (action, entity, detail) VALUES ('tenant_provisioned', 'workspace', $1)`,
		detail,
	)
	if err != nil {
		return fmt.Errorf("record bootstrap: %w", err)
	}

	b.log.Info("workspace bootstrapped",
		zap.String("database", database),
		zap.String("slug", ws.Slug),
		zap.Bool("external_identity", ws.Admin == nil),
	)
	return nil
}

func upsertSetting(ctx context.Context, db *sql.DB, key string, value []byte) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO settings (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	return err
}
