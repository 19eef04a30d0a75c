package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/bagqueue/internal/dbx"
	"github.com/dmitrijs2005/bagqueue/internal/server/migrations"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/actions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/files"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/topics"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories bound either
// to the pool or, inside WithTx, to a transaction.
type PostgresRepositoryManager struct {
	db   *sql.DB
	conn dbx.DBTX
	inTx bool
}

// NewPostgresRepositoryManager constructs a manager over an open pool.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db, conn: db}
}

// sqlOpen is a seam for tests.
var sqlOpen = sql.Open

// OpenPostgres opens a pgx-backed pool and verifies connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sqlOpen("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func (m *PostgresRepositoryManager) Files() files.Repository {
	return files.NewPostgresRepository(m.conn)
}

func (m *PostgresRepositoryManager) Sessions() sessions.Repository {
	return sessions.NewPostgresRepository(m.conn)
}

func (m *PostgresRepositoryManager) Topics() topics.Repository {
	return topics.NewPostgresRepository(m.conn)
}

func (m *PostgresRepositoryManager) Actions() actions.Repository {
	return actions.NewPostgresRepository(m.conn)
}

func (m *PostgresRepositoryManager) Catalog() catalog.Repository {
	return catalog.NewPostgresRepository(m.conn)
}

func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, rm RepositoryManager) error) error {
	if m.inTx {
		return fn(ctx, m)
	}
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, &PostgresRepositoryManager{db: m.db, conn: tx, inTx: true})
	})
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and applies them.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	return gooseUpContext(ctx, m.db, ".")
}

var _ RepositoryManager = (*PostgresRepositoryManager)(nil)
