package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"

	"github.com/alovak/bankcards/bank/models"
)

// Store is the set of queries available inside one unit of work. Records are
// returned by value semantics: changing a returned record has no effect until
// it is written back with an Update call.
type Store interface {
	CreateCardholder(ctx context.Context, h *models.Cardholder) error
	GetCardholder(ctx context.Context, id string) (*models.Cardholder, error)
	GetCardholderByEmail(ctx context.Context, email string) (*models.Cardholder, error)
	GetCardholderByUsername(ctx context.Context, username string) (*models.Cardholder, error)
	UpdateCardholder(ctx context.Context, h *models.Cardholder) error
	// DeleteCardholder removes the cardholder, its cards and every
	// transaction touching those cards.
	DeleteCardholder(ctx context.Context, id string) error

	CreateCard(ctx context.Context, c *models.Card) error
	GetCard(ctx context.Context, id string) (*models.Card, error)
	// LockCards loads the given cards for update, acquiring row locks in
	// ascending id order. Missing ids are absent from the result.
	LockCards(ctx context.Context, ids ...string) (map[string]*models.Card, error)
	UpdateCard(ctx context.Context, c *models.Card) error
	DeleteCard(ctx context.Context, id string) error
	ExistsPANHash(ctx context.Context, hash string) (bool, error)
	ListCardsByCardholder(ctx context.Context, cardholderID string) ([]*models.Card, error)
	// FindCardsOwnedBy filters by substring of the masked number when search
	// is not empty.
	FindCardsOwnedBy(ctx context.Context, username, search string, page models.PageRequest) ([]*models.Card, int, error)
	GetCardOwnedBy(ctx context.Context, cardID, username string) (*models.Card, error)
	// ListCardsExpiredBefore returns non-EXPIRED cards whose expiry date is
	// strictly before day.
	ListCardsExpiredBefore(ctx context.Context, day time.Time) ([]*models.Card, error)

	CreateTransaction(ctx context.Context, t *models.Transaction) error
	ListTransactionsByCard(ctx context.Context, cardID string, page models.PageRequest) ([]*models.Transaction, int, error)
}

const defaultStatementTimeout = 3 * time.Second

// Repository hands out units of work over either the in-memory store or
// Postgres.
type Repository struct {
	mu  sync.Mutex
	mem *memStore

	db               *sql.DB
	statementTimeout time.Duration
}

func NewRepository() *Repository {
	return &Repository{mem: newMemStore()}
}

// NewPGRepository constructs a db-backed repository.
func NewPGRepository(db *sql.DB, statementTimeout time.Duration) *Repository {
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	return &Repository{db: db, statementTimeout: statementTimeout}
}

// RunInTx runs fn as one unit of work. Any error returned by fn rolls back
// every write fn made.
func (r *Repository) RunInTx(ctx context.Context, fn func(Store) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.db == nil {
		r.mu.Lock()
		defer r.mu.Unlock()

		tx := &memTx{memStore: r.mem}
		if err := fn(tx); err != nil {
			if tx.snapshot != nil {
				r.mem = tx.snapshot
			}
			return err
		}
		return nil
	}

	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// set per-transaction statement timeout to avoid long hangs
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("set local statement_timeout = %d", r.statementTimeout.Milliseconds())); err != nil {
		return fmt.Errorf("set statement timeout: %w", err)
	}

	if err := fn(&pgStore{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Ping returns DB readiness
func (r *Repository) Ping(ctx context.Context) error {
	if r.db == nil {
		return nil
	}
	return r.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pe *pq.Error
	if errors.As(err, &pe) && pe.Code == "23505" {
		return true
	}
	var pgerr *pgconn.PgError
	if errors.As(err, &pgerr) && pgerr.Code == "23505" {
		return true
	}
	return false
}
