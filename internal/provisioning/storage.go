package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/smallbiznis/tenantplane/internal/config"
	pkgdb "github.com/smallbiznis/tenantplane/pkg/db"
	"go.uber.org/zap"
)

// StorageAdmin manages physical tenant databases through a server-level
// administrative connection.
type StorageAdmin interface {
	EnsureDatabase(ctx context.Context, name string) error
	DropDatabase(ctx context.Context, name string) error
	Close() error
}

type pgAdmin struct {
	db  *sql.DB
	log *zap.Logger
}

func NewStorageAdmin(cfg config.Config, log *zap.Logger) (StorageAdmin, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Storage.AdminHost,
		cfg.Storage.AdminPort,
		cfg.Storage.AdminUser,
		cfg.Storage.AdminPassword,
		cfg.Storage.AdminDatabase,
		cfg.Storage.SSLMode,
	)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	return &pgAdmin{db: db, log: log.Named("storage_admin")}, nil
}

// EnsureDatabase creates the database if it does not already exist. A
// duplicate is not an error so retried provisioning runs converge.
func (a *pgAdmin) EnsureDatabase(ctx context.Context, name string) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE %s", quoteIdent(name)))
	if err != nil {
		if pkgdb.IsDuplicateDatabaseErr(err) {
			a.log.Warn("database already exists", zap.String("database", name))
			return nil
		}
		return err
	}
	a.log.Info("database created", zap.String("database", name))
	return nil
}

func (a *pgAdmin) DropDatabase(ctx context.Context, name string) error {
	_, err := a.db.ExecContext(ctx, fmt.Sprintf("DROP DATABASE IF EXISTS %s", quoteIdent(name)))
	if err != nil {
		return err
	}
	a.log.Info("database dropped", zap.String("database", name))
	return nil
}

func (a *pgAdmin) Close() error { return a.db.Close() }

// quoteIdent double-quotes a PostgreSQL identifier. DDL statements cannot
// take the name as a bind parameter.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
