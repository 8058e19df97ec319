package bank

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/alovak/bankcards/bank/models"
)

type pgStore struct {
	tx *sql.Tx
}

const cardholderColumns = `id, username, email, first_name, last_name, enabled, created_at, updated_at`

const cardColumns = `c.id, c.cardholder_id, c.owner_name, c.number_encrypted, c.number_masked, c.pan_hash,
	c.status, c.balance, c.expiry_date, c.block_requested, c.block_requested_at, c.created_at, c.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCardholder(row rowScanner) (*models.Cardholder, error) {
	var h models.Cardholder
	if err := row.Scan(&h.ID, &h.Username, &h.Email, &h.FirstName, &h.LastName, &h.Enabled, &h.CreatedAt, &h.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func scanCard(row rowScanner) (*models.Card, error) {
	var (
		c           models.Card
		status      string
		requestedAt sql.NullTime
	)
	err := row.Scan(&c.ID, &c.CardholderID, &c.OwnerName, &c.NumberEncrypted, &c.NumberMasked, &c.PANHash,
		&status, &c.Balance, &c.ExpiryDate, &c.BlockRequested, &requestedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.Status = models.CardStatus(status)
	if requestedAt.Valid {
		t := requestedAt.Time
		c.BlockRequestedAt = &t
	}
	return &c, nil
}

func scanCards(rows *sql.Rows) ([]*models.Card, error) {
	defer rows.Close()
	var out []*models.Card
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// validID keeps malformed ids away from uuid columns, where they would fail
// the whole transaction.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (s *pgStore) CreateCardholder(ctx context.Context, h *models.Cardholder) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO bank.cardholders(`+cardholderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, h.ID, h.Username, h.Email, h.FirstName, h.LastName, h.Enabled, h.CreatedAt, h.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("cardholder exists: %w", ErrConflict)
	}
	return err
}

func (s *pgStore) GetCardholder(ctx context.Context, id string) (*models.Cardholder, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return scanCardholder(s.tx.QueryRowContext(ctx, `SELECT `+cardholderColumns+` FROM bank.cardholders WHERE id=$1`, id))
}

func (s *pgStore) GetCardholderByEmail(ctx context.Context, email string) (*models.Cardholder, error) {
	return scanCardholder(s.tx.QueryRowContext(ctx, `SELECT `+cardholderColumns+` FROM bank.cardholders WHERE lower(email)=lower($1)`, email))
}

func (s *pgStore) GetCardholderByUsername(ctx context.Context, username string) (*models.Cardholder, error) {
	return scanCardholder(s.tx.QueryRowContext(ctx, `SELECT `+cardholderColumns+` FROM bank.cardholders WHERE username=$1`, username))
}

func (s *pgStore) UpdateCardholder(ctx context.Context, h *models.Cardholder) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE bank.cardholders
		   SET first_name=$2, last_name=$3, enabled=$4, updated_at=$5
		 WHERE id=$1
	`, h.ID, h.FirstName, h.LastName, h.Enabled, h.UpdatedAt)
	return affectedOne(res, err)
}

// DeleteCardholder relies on ON DELETE CASCADE for cards and transactions.
func (s *pgStore) DeleteCardholder(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := s.tx.ExecContext(ctx, `DELETE FROM bank.cardholders WHERE id=$1`, id)
	return affectedOne(res, err)
}

func (s *pgStore) CreateCard(ctx context.Context, c *models.Card) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO bank.cards(id, cardholder_id, owner_name, number_encrypted, number_masked, pan_hash,
		                       status, balance, expiry_date, block_requested, block_requested_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, c.ID, c.CardholderID, c.OwnerName, c.NumberEncrypted, c.NumberMasked, c.PANHash,
		string(c.Status), c.Balance, c.ExpiryDate, c.BlockRequested, c.BlockRequestedAt, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("card number exists: %w", ErrConflict)
	}
	return err
}

func (s *pgStore) GetCard(ctx context.Context, id string) (*models.Card, error) {
	if !validID(id) {
		return nil, ErrNotFound
	}
	return scanCard(s.tx.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM bank.cards c WHERE c.id=$1`, id))
}

func (s *pgStore) LockCards(ctx context.Context, ids ...string) (map[string]*models.Card, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if validID(id) {
			valid = append(valid, id)
		}
	}
	out := make(map[string]*models.Card, len(valid))
	if len(valid) == 0 {
		return out, nil
	}
	sort.Strings(valid)

	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+cardColumns+`
		  FROM bank.cards c
		 WHERE c.id = ANY($1::uuid[])
		 ORDER BY c.id
		   FOR UPDATE
	`, pq.Array(valid))
	if err != nil {
		return nil, err
	}
	cards, err := scanCards(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range cards {
		out[c.ID] = c
	}
	return out, nil
}

func (s *pgStore) UpdateCard(ctx context.Context, c *models.Card) error {
	res, err := s.tx.ExecContext(ctx, `
		UPDATE bank.cards
		   SET owner_name=$2, status=$3, balance=$4, expiry_date=$5,
		       block_requested=$6, block_requested_at=$7, updated_at=$8
		 WHERE id=$1
	`, c.ID, c.OwnerName, string(c.Status), c.Balance, c.ExpiryDate, c.BlockRequested, c.BlockRequestedAt, c.UpdatedAt)
	return affectedOne(res, err)
}

func (s *pgStore) DeleteCard(ctx context.Context, id string) error {
	if !validID(id) {
		return ErrNotFound
	}
	res, err := s.tx.ExecContext(ctx, `DELETE FROM bank.cards WHERE id=$1`, id)
	return affectedOne(res, err)
}

func (s *pgStore) ExistsPANHash(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM bank.cards WHERE pan_hash=$1)`, hash).Scan(&exists)
	return exists, err
}

func (s *pgStore) ListCardsByCardholder(ctx context.Context, cardholderID string) ([]*models.Card, error) {
	if !validID(cardholderID) {
		return nil, nil
	}
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+cardColumns+` FROM bank.cards c WHERE c.cardholder_id=$1 ORDER BY c.created_at, c.id
	`, cardholderID)
	if err != nil {
		return nil, err
	}
	return scanCards(rows)
}

func orderBy(page models.PageRequest) string {
	col := "c.created_at"
	if page.Sort == models.SortBalance {
		col = "c.balance"
	}
	dir := "DESC"
	if page.Asc {
		dir = "ASC"
	}
	return col + " " + dir + ", c.id " + dir
}

func (s *pgStore) FindCardsOwnedBy(ctx context.Context, username, search string, page models.PageRequest) ([]*models.Card, int, error) {
	page = page.Normalize()

	var total int
	err := s.tx.QueryRowContext(ctx, `
		SELECT count(*)
		  FROM bank.cards c JOIN bank.cardholders h ON h.id = c.cardholder_id
		 WHERE h.username=$1 AND ($2 = '' OR strpos(c.number_masked, $2) > 0)
	`, username, search).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+cardColumns+`
		  FROM bank.cards c JOIN bank.cardholders h ON h.id = c.cardholder_id
		 WHERE h.username=$1 AND ($2 = '' OR strpos(c.number_masked, $2) > 0)
		 ORDER BY `+orderBy(page)+`
		 LIMIT $3 OFFSET $4
	`, username, search, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	cards, err := scanCards(rows)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

func (s *pgStore) GetCardOwnedBy(ctx context.Context, cardID, username string) (*models.Card, error) {
	if !validID(cardID) {
		return nil, ErrNotFound
	}
	return scanCard(s.tx.QueryRowContext(ctx, `
		SELECT `+cardColumns+`
		  FROM bank.cards c JOIN bank.cardholders h ON h.id = c.cardholder_id
		 WHERE c.id=$1 AND h.username=$2
	`, cardID, username))
}

func (s *pgStore) ListCardsExpiredBefore(ctx context.Context, day time.Time) ([]*models.Card, error) {
	rows, err := s.tx.QueryContext(ctx, `
		SELECT `+cardColumns+`
		  FROM bank.cards c
		 WHERE c.status <> 'EXPIRED' AND c.expiry_date < $1::date
		 ORDER BY c.id
		   FOR UPDATE SKIP LOCKED
	`, day.Format(time.DateOnly))
	if err != nil {
		return nil, err
	}
	return scanCards(rows)
}

func (s *pgStore) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := s.tx.ExecContext(ctx, `
		INSERT INTO bank.transactions(id, from_card_id, to_card_id, amount, description, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, t.ID, t.FromCardID, t.ToCardID, t.Amount, t.Description, t.Status, t.CreatedAt)
	return err
}

func (s *pgStore) ListTransactionsByCard(ctx context.Context, cardID string, page models.PageRequest) ([]*models.Transaction, int, error) {
	page = page.Normalize()
	if !validID(cardID) {
		return nil, 0, nil
	}

	var total int
	if err := s.tx.QueryRowContext(ctx, `
		SELECT count(*) FROM bank.transactions WHERE from_card_id=$1 OR to_card_id=$1
	`, cardID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.tx.QueryContext(ctx, `
		SELECT id, from_card_id, to_card_id, amount, description, status, created_at
		  FROM bank.transactions
		 WHERE from_card_id=$1 OR to_card_id=$1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3
	`, cardID, page.Size, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := rows.Scan(&t.ID, &t.FromCardID, &t.ToCardID, &t.Amount, &t.Description, &t.Status, &t.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, &t)
	}
	return out, total, rows.Err()
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
