package provisioning

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os/exec"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/smallbiznis/tenantplane/internal/config"
	"go.uber.org/zap"
)

// SchemaProvisioner installs the application schema into a freshly created
// tenant database and verifies the result.
type SchemaProvisioner interface {
	Install(ctx context.Context, database string) error
	Verify(ctx context.Context, database string) error
}

// migrateProvisioner replays the embedded canonical DDL into the tenant
// database. This is the default installer: it needs no external binaries
// and produces the same schema on every run.
type migrateProvisioner struct {
	cfg config.Config
	log *zap.Logger
}

func newMigrateProvisioner(cfg config.Config, log *zap.Logger) *migrateProvisioner {
	return &migrateProvisioner{cfg: cfg, log: log.Named("schema_installer")}
}

func (p *migrateProvisioner) Install(ctx context.Context, database string) error {
	db, err := p.open(database)
	if err != nil {
		return err
	}
	defer db.Close()

	sub, err := fs.Sub(tenantSchema, tenantSchemaDir)
	if err != nil {
		return fmt.Errorf("open tenant schema: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create schema source: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create schema driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create schema migrator: %w", err)
	}
	if upErr := migrator.Up(); upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("install tenant schema: %w", upErr)
	}
	p.log.Info("tenant schema installed", zap.String("database", database))
	return nil
}

func (p *migrateProvisioner) Verify(ctx context.Context, database string) error {
	db, err := p.open(database)
	if err != nil {
		return err
	}
	defer db.Close()
	return verifyTables(ctx, db, p.cfg.Storage.MinSchemaTables)
}

func (p *migrateProvisioner) open(database string) (*sql.DB, error) {
	return sql.Open("pgx", tenantDSN(p.cfg, database))
}

// dumpProvisioner clones the schema of an existing source database through
// pg_dump and psql. It reproduces whatever the source currently looks like,
// which is useful when the canonical DDL lags behind hotfixes applied in
// production.
type dumpProvisioner struct {
	cfg config.Config
	log *zap.Logger
}

func newDumpProvisioner(cfg config.Config, log *zap.Logger) *dumpProvisioner {
	return &dumpProvisioner{cfg: cfg, log: log.Named("schema_installer")}
}

func (p *dumpProvisioner) Install(ctx context.Context, database string) error {
	st := p.cfg.Storage
	dump := exec.CommandContext(ctx, "pg_dump",
		"--schema-only", "--no-owner", "--no-privileges",
		"-h", st.AdminHost, "-p", st.AdminPort, "-U", st.AdminUser,
		st.SourceDatabase,
	)
	restore := exec.CommandContext(ctx, "psql",
		"-h", st.AdminHost, "-p", st.AdminPort, "-U", st.AdminUser,
		"-v", "ON_ERROR_STOP=1",
		"-d", database,
	)
	dump.Env = append(dump.Environ(), "PGPASSWORD="+st.AdminPassword)
	restore.Env = append(restore.Environ(), "PGPASSWORD="+st.AdminPassword)

	pipe, err := dump.StdoutPipe()
	if err != nil {
		return err
	}
	restore.Stdin = pipe

	if err := restore.Start(); err != nil {
		return fmt.Errorf("start psql: %w", err)
	}
	if err := dump.Run(); err != nil {
		_ = restore.Process.Kill()
		return fmt.Errorf("pg_dump %s: %w", st.SourceDatabase, err)
	}
	if err := restore.Wait(); err != nil {
		return fmt.Errorf("restore into %s: %w", database, err)
	}
	p.log.Info("tenant schema cloned",
		zap.String("source", st.SourceDatabase),
		zap.String("database", database),
	)
	return nil
}

func (p *dumpProvisioner) Verify(ctx context.Context, database string) error {
	db, err := sql.Open("pgx", tenantDSN(p.cfg, database))
	if err != nil {
		return err
	}
	defer db.Close()
	return verifyTables(ctx, db, p.cfg.Storage.MinSchemaTables)
}

// NewSchemaProvisioner selects the installer named in configuration.
func NewSchemaProvisioner(cfg config.Config, log *zap.Logger) SchemaProvisioner {
	if cfg.Storage.SchemaInstaller == "pg_dump" {
		return newDumpProvisioner(cfg, log)
	}
	return newMigrateProvisioner(cfg, log)
}

func tenantDSN(cfg config.Config, database string) string {
	st := cfg.Storage
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		st.AdminHost, st.AdminPort, st.AdminUser, st.AdminPassword, database, st.SSLMode)
}

func verifyTables(ctx context.Context, db *sql.DB, minTables int) error {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = 'public' AND table_type = 'BASE TABLE'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaVerification, err)
	}
	if count < minTables {
		return fmt.Errorf("%w: found %d tables, expected at least %d", ErrSchemaVerification, count, minTables)
	}
	return nil
}
