package bank_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alovak/bankcards/bank"
	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
	"github.com/alovak/bankcards/internal/cardcrypto"
)

const testCryptoKey = "12345678123456781234567812345678"

type testEnv struct {
	svc      *bank.Services
	repo     *bank.Repository
	recorder *audit.Recorder
	metrics  *bank.Metrics
	clock    *clock
}

type clock struct {
	now time.Time
}

func (c *clock) Now() time.Time { return c.now }

func newEnv(t *testing.T) *testEnv {
	t.Helper()

	e := &testEnv{
		repo:     bank.NewRepository(),
		recorder: &audit.Recorder{},
		metrics:  bank.NewMetrics(prometheus.NewRegistry()),
		clock:    &clock{now: time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)},
	}
	e.svc = e.services(t, testCryptoKey, nil)
	return e
}

// services builds another set of services over the same repository, audit
// recorder, metrics and clock.
func (e *testEnv) services(t *testing.T, key string, publisher bank.BlockPublisher) *bank.Services {
	t.Helper()

	crypto, err := cardcrypto.New(cardcrypto.AlgorithmAESGCM, []byte(key))
	require.NoError(t, err)
	return e.servicesWithCrypto(t, crypto, publisher)
}

func (e *testEnv) servicesWithCrypto(t *testing.T, crypto *cardcrypto.Service, publisher bank.BlockPublisher) *bank.Services {
	t.Helper()

	svc, err := bank.NewServices(e.repo, crypto, bank.DefaultConfig(), bank.Deps{
		Auditor:   e.recorder,
		Metrics:   e.metrics,
		Publisher: publisher,
		Now:       e.clock.Now,
	})
	require.NoError(t, err)
	return svc
}

func rewirePublisher(t *testing.T, e *testEnv, p bank.BlockPublisher) *bank.CardRegistry {
	return e.services(t, testCryptoKey, p).Cards
}

func rewireCrypto(t *testing.T, e *testEnv, key string) *bank.CardRegistry {
	return e.services(t, key, nil).Cards
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.BlockRequested
	err    error
}

func (p *recordingPublisher) PublishBlockRequested(_ context.Context, ev models.BlockRequested) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func decimalOf(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// provision registers a cardholder and returns it together with its first
// card.
func (e *testEnv) provision(t *testing.T, username string) (models.Cardholder, models.CardView) {
	t.Helper()
	ctx := context.Background()

	created, err := e.svc.Cardholders.OnIdentityCreated(ctx, models.IdentityCreated{
		Username:  username,
		Email:     username + "@example.com",
		FirstName: "Jane",
		LastName:  "Doe",
	})
	require.NoError(t, err)
	require.True(t, created)

	page, err := e.svc.Cards.FindOwnedBy(ctx, username, "", models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	holder, err := e.svc.Cardholders.Get(ctx, page.Items[0].CardholderID)
	require.NoError(t, err)
	return holder, page.Items[0]
}

func (e *testEnv) fund(t *testing.T, cardID, amount string) {
	t.Helper()
	require.NoError(t, e.repo.SetBalance(context.Background(), cardID, decimal.RequireFromString(amount)))
}

func (e *testEnv) balance(t *testing.T, cardID string) string {
	t.Helper()
	card, err := e.svc.Cards.Get(context.Background(), cardID)
	require.NoError(t, err)
	return card.Balance.StringFixed(2)
}
