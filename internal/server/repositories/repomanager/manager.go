// Package repomanager vends the repositories used by the services and runs
// schema migrations. A manager returned to a WithTx callback binds every
// repository it vends to the same transaction.
package repomanager

import (
	"context"

	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/actions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/catalog"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/files"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/sessions"
	"github.com/dmitrijs2005/bagqueue/internal/server/repositories/topics"
)

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Files() files.Repository
	Sessions() sessions.Repository
	Topics() topics.Repository
	Actions() actions.Repository
	Catalog() catalog.Repository
	// WithTx runs fn in one transaction: it commits when fn returns nil and
	// rolls back otherwise. Calling WithTx on a transactional manager joins
	// the outer transaction.
	WithTx(ctx context.Context, fn func(ctx context.Context, rm RepositoryManager) error) error
}
