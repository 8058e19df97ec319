package bank

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/alovak/bankcards/bank/models"
)

type memCard struct {
	models.Card
	seq int64
}

// memStore keeps records by value so that a shallow map copy is a full
// snapshot for rollback. Units of work are serialised by the repository mutex.
type memStore struct {
	cardholders  map[string]models.Cardholder
	cards        map[string]memCard
	transactions []models.Transaction
	panIndex     map[string]string
	seq          int64
}

func newMemStore() *memStore {
	return &memStore{
		cardholders: make(map[string]models.Cardholder),
		cards:       make(map[string]memCard),
		panIndex:    make(map[string]string),
	}
}

func (m *memStore) clone() *memStore {
	out := &memStore{
		cardholders:  make(map[string]models.Cardholder, len(m.cardholders)),
		cards:        make(map[string]memCard, len(m.cards)),
		transactions: make([]models.Transaction, len(m.transactions)),
		panIndex:     make(map[string]string, len(m.panIndex)),
		seq:          m.seq,
	}
	for k, v := range m.cardholders {
		out.cardholders[k] = v
	}
	for k, v := range m.cards {
		out.cards[k] = v
	}
	copy(out.transactions, m.transactions)
	for k, v := range m.panIndex {
		out.panIndex[k] = v
	}
	return out
}

// memTx is the Store for one in-memory unit of work. Reads go straight to
// the store; the first write takes the rollback snapshot.
type memTx struct {
	*memStore
	snapshot *memStore
}

func (t *memTx) beforeWrite() {
	if t.snapshot == nil {
		t.snapshot = t.memStore.clone()
	}
}

func (t *memTx) CreateCardholder(ctx context.Context, h *models.Cardholder) error {
	t.beforeWrite()
	return t.memStore.CreateCardholder(ctx, h)
}

func (t *memTx) UpdateCardholder(ctx context.Context, h *models.Cardholder) error {
	t.beforeWrite()
	return t.memStore.UpdateCardholder(ctx, h)
}

func (t *memTx) DeleteCardholder(ctx context.Context, id string) error {
	t.beforeWrite()
	return t.memStore.DeleteCardholder(ctx, id)
}

func (t *memTx) CreateCard(ctx context.Context, c *models.Card) error {
	t.beforeWrite()
	return t.memStore.CreateCard(ctx, c)
}

func (t *memTx) UpdateCard(ctx context.Context, c *models.Card) error {
	t.beforeWrite()
	return t.memStore.UpdateCard(ctx, c)
}

func (t *memTx) DeleteCard(ctx context.Context, id string) error {
	t.beforeWrite()
	return t.memStore.DeleteCard(ctx, id)
}

func (t *memTx) CreateTransaction(ctx context.Context, tr *models.Transaction) error {
	t.beforeWrite()
	return t.memStore.CreateTransaction(ctx, tr)
}

func (m *memStore) CreateCardholder(_ context.Context, h *models.Cardholder) error {
	if _, ok := m.cardholders[h.ID]; ok {
		return fmt.Errorf("cardholder id exists: %w", ErrConflict)
	}
	for _, existing := range m.cardholders {
		if strings.EqualFold(existing.Email, h.Email) {
			return fmt.Errorf("email exists: %w", ErrConflict)
		}
		if existing.Username == h.Username {
			return fmt.Errorf("username exists: %w", ErrConflict)
		}
	}
	m.cardholders[h.ID] = *h
	return nil
}

func (m *memStore) GetCardholder(_ context.Context, id string) (*models.Cardholder, error) {
	h, ok := m.cardholders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &h, nil
}

func (m *memStore) GetCardholderByEmail(_ context.Context, email string) (*models.Cardholder, error) {
	for _, h := range m.cardholders {
		if strings.EqualFold(h.Email, email) {
			return &h, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetCardholderByUsername(_ context.Context, username string) (*models.Cardholder, error) {
	for _, h := range m.cardholders {
		if h.Username == username {
			return &h, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) UpdateCardholder(_ context.Context, h *models.Cardholder) error {
	if _, ok := m.cardholders[h.ID]; !ok {
		return ErrNotFound
	}
	m.cardholders[h.ID] = *h
	return nil
}

func (m *memStore) DeleteCardholder(ctx context.Context, id string) error {
	if _, ok := m.cardholders[id]; !ok {
		return ErrNotFound
	}
	for cardID, c := range m.cards {
		if c.CardholderID == id {
			if err := m.DeleteCard(ctx, cardID); err != nil {
				return err
			}
		}
	}
	delete(m.cardholders, id)
	return nil
}

func (m *memStore) CreateCard(_ context.Context, c *models.Card) error {
	if _, ok := m.cardholders[c.CardholderID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.cards[c.ID]; ok {
		return fmt.Errorf("card id exists: %w", ErrConflict)
	}
	if _, ok := m.panIndex[c.PANHash]; ok {
		return fmt.Errorf("card number exists: %w", ErrConflict)
	}
	m.seq++
	m.cards[c.ID] = memCard{Card: *c, seq: m.seq}
	m.panIndex[c.PANHash] = c.ID
	return nil
}

func (m *memStore) GetCard(_ context.Context, id string) (*models.Card, error) {
	c, ok := m.cards[id]
	if !ok {
		return nil, ErrNotFound
	}
	card := c.Card
	return &card, nil
}

// LockCards needs no row locks here: the repository mutex already
// serialises every unit of work.
func (m *memStore) LockCards(_ context.Context, ids ...string) (map[string]*models.Card, error) {
	out := make(map[string]*models.Card, len(ids))
	for _, id := range ids {
		if c, ok := m.cards[id]; ok {
			card := c.Card
			out[id] = &card
		}
	}
	return out, nil
}

func (m *memStore) UpdateCard(_ context.Context, c *models.Card) error {
	existing, ok := m.cards[c.ID]
	if !ok {
		return ErrNotFound
	}
	if c.Balance.IsNegative() {
		return fmt.Errorf("card %s: negative balance %s", c.ID, c.Balance)
	}
	existing.Card = *c
	m.cards[c.ID] = existing
	return nil
}

func (m *memStore) DeleteCard(_ context.Context, id string) error {
	c, ok := m.cards[id]
	if !ok {
		return ErrNotFound
	}
	kept := m.transactions[:0]
	for _, t := range m.transactions {
		if t.FromCardID != id && t.ToCardID != id {
			kept = append(kept, t)
		}
	}
	m.transactions = kept
	delete(m.panIndex, c.PANHash)
	delete(m.cards, id)
	return nil
}

func (m *memStore) ExistsPANHash(_ context.Context, hash string) (bool, error) {
	_, ok := m.panIndex[hash]
	return ok, nil
}

func (m *memStore) ListCardsByCardholder(_ context.Context, cardholderID string) ([]*models.Card, error) {
	var list []memCard
	for _, c := range m.cards {
		if c.CardholderID == cardholderID {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	return unwrapCards(list), nil
}

func (m *memStore) FindCardsOwnedBy(_ context.Context, username, search string, page models.PageRequest) ([]*models.Card, int, error) {
	page = page.Normalize()
	holder, ok := m.cardholderByUsername(username)
	if !ok {
		return nil, 0, nil
	}

	var list []memCard
	for _, c := range m.cards {
		if c.CardholderID != holder.ID {
			continue
		}
		if search != "" && !strings.Contains(c.NumberMasked, search) {
			continue
		}
		list = append(list, c)
	}

	sort.Slice(list, func(i, j int) bool {
		a, b := list[i], list[j]
		var cmp int
		switch page.Sort {
		case models.SortBalance:
			cmp = a.Balance.Cmp(b.Balance)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}
		if cmp == 0 {
			cmp = compareInt64(a.seq, b.seq)
		}
		if page.Asc {
			return cmp < 0
		}
		return cmp > 0
	})

	total := len(list)
	from := page.Offset()
	if from > total {
		from = total
	}
	to := from + page.Size
	if to > total {
		to = total
	}
	return unwrapCards(list[from:to]), total, nil
}

func (m *memStore) GetCardOwnedBy(_ context.Context, cardID, username string) (*models.Card, error) {
	c, ok := m.cards[cardID]
	if !ok {
		return nil, ErrNotFound
	}
	holder, ok := m.cardholders[c.CardholderID]
	if !ok || holder.Username != username {
		return nil, ErrNotFound
	}
	card := c.Card
	return &card, nil
}

func (m *memStore) ListCardsExpiredBefore(_ context.Context, day time.Time) ([]*models.Card, error) {
	var list []memCard
	for _, c := range m.cards {
		if c.Status != models.CardStatusExpired && c.ExpiryDate.Before(day) {
			list = append(list, c)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return unwrapCards(list), nil
}

func (m *memStore) CreateTransaction(_ context.Context, t *models.Transaction) error {
	if _, ok := m.cards[t.FromCardID]; !ok {
		return ErrNotFound
	}
	if _, ok := m.cards[t.ToCardID]; !ok {
		return ErrNotFound
	}
	m.transactions = append(m.transactions, *t)
	return nil
}

func (m *memStore) ListTransactionsByCard(_ context.Context, cardID string, page models.PageRequest) ([]*models.Transaction, int, error) {
	page = page.Normalize()
	var matched []*models.Transaction
	// newest first
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if t.FromCardID == cardID || t.ToCardID == cardID {
			matched = append(matched, &t)
		}
	}
	total := len(matched)
	from := page.Offset()
	if from > total {
		from = total
	}
	to := from + page.Size
	if to > total {
		to = total
	}
	return matched[from:to], total, nil
}

func (m *memStore) cardholderByUsername(username string) (models.Cardholder, bool) {
	for _, h := range m.cardholders {
		if h.Username == username {
			return h, true
		}
	}
	return models.Cardholder{}, false
}

func unwrapCards(list []memCard) []*models.Card {
	out := make([]*models.Card, 0, len(list))
	for i := range list {
		card := list[i].Card
		out = append(out, &card)
	}
	return out
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
