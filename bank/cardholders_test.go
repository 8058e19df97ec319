package bank_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/alovak/bankcards/bank"
	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
	"github.com/alovak/bankcards/internal/cardcrypto"
)

func TestOnIdentityCreated(t *testing.T) {
	e := newEnv(t)
	holder, card := e.provision(t, "jane")

	require.Equal(t, "jane", holder.Username)
	require.Equal(t, "jane@example.com", holder.Email)
	require.True(t, holder.Enabled)
	require.Equal(t, models.CardStatusActive, card.Status)
	require.Equal(t, "0.00", card.Balance.StringFixed(2))
	require.Equal(t, "JANE DOE", card.OwnerName)

	require.Equal(t, []audit.Action{audit.CardholderRegistered, audit.CardCreated, audit.CardsListViewed}, e.recorder.Actions())
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.CardholdersProvisioned))
}

func TestOnIdentityCreated_Idempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.provision(t, "jane")

	tests := []struct {
		name string
		ev   models.IdentityCreated
	}{
		{"same event", models.IdentityCreated{Username: "jane", Email: "jane@example.com"}},
		{"same email other case", models.IdentityCreated{Username: "jane2", Email: "JANE@example.com"}},
		{"same username", models.IdentityCreated{Username: "jane", Email: "other@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := e.svc.Cardholders.OnIdentityCreated(ctx, tt.ev)
			require.NoError(t, err)
			require.False(t, created)
		})
	}

	page, err := e.svc.Cards.FindOwnedBy(ctx, "jane", "", models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.CardholdersProvisioned))
}

func TestOnIdentityCreated_CardFailureRollsBackCardholder(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	ev := models.IdentityCreated{Username: "jane", Email: "jane@example.com", FirstName: "Jane", LastName: "Doe"}

	broken := e.servicesWithCrypto(t, cardcrypto.NewWithCipher(nil), nil)
	created, err := broken.Cardholders.OnIdentityCreated(ctx, ev)
	require.ErrorIs(t, err, bank.ErrCrypto)
	require.False(t, created)

	page, err := e.svc.Cards.FindOwnedBy(ctx, "jane", "", models.PageRequest{})
	require.NoError(t, err)
	require.Zero(t, page.Total)
	require.Zero(t, testutil.ToFloat64(e.metrics.CardholdersProvisioned))
	require.NotContains(t, e.recorder.Actions(), audit.CardholderRegistered)
	require.NoError(t, e.repo.RunInTx(ctx, func(st bank.Store) error {
		_, err := st.GetCardholderByEmail(ctx, ev.Email)
		require.ErrorIs(t, err, bank.ErrNotFound)
		return nil
	}))

	// redelivery after the key is fixed provisions normally
	created, err = e.svc.Cardholders.OnIdentityCreated(ctx, ev)
	require.NoError(t, err)
	require.True(t, created)

	page, err = e.svc.Cards.FindOwnedBy(ctx, "jane", "", models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
}

func TestOnIdentityCreated_Invalid(t *testing.T) {
	e := newEnv(t)

	_, err := e.svc.Cardholders.OnIdentityCreated(context.Background(), models.IdentityCreated{Username: " ", Email: "x@example.com"})
	require.ErrorIs(t, err, bank.ErrInvalidArgument)

	_, err = e.svc.Cardholders.OnIdentityCreated(context.Background(), models.IdentityCreated{Username: "x"})
	require.ErrorIs(t, err, bank.ErrInvalidArgument)
}

func TestCardholderBlock(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	holder, active := e.provision(t, "jane")
	expired, err := e.svc.Cards.Create(ctx, holder.ID)
	require.NoError(t, err)
	require.NoError(t, e.svc.Cards.SetStatus(ctx, expired.ID, "EXPIRED"))
	_, bystander := e.provision(t, "john")

	require.NoError(t, e.svc.Cardholders.Block(ctx, holder.ID))

	got, err := e.svc.Cardholders.Get(ctx, holder.ID)
	require.NoError(t, err)
	require.False(t, got.Enabled)

	for id, want := range map[string]models.CardStatus{
		active.ID:    models.CardStatusBlocked,
		expired.ID:   models.CardStatusExpired,
		bystander.ID: models.CardStatusActive,
	} {
		card, err := e.svc.Cards.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, want, card.Status)
	}

	events := e.recorder.Events()
	last := events[len(events)-1]
	require.Equal(t, audit.CardholderBlocked, last.Action)
	require.Equal(t, "1", last.Details["cards_blocked"])

	err = e.svc.Cardholders.Block(ctx, uuid.NewString())
	require.ErrorIs(t, err, bank.ErrNotFound)
}

func TestCardholderDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	holder, card := e.provision(t, "jane")

	require.NoError(t, e.svc.Cardholders.Delete(ctx, holder.ID))

	_, err := e.svc.Cardholders.Get(ctx, holder.ID)
	require.ErrorIs(t, err, bank.ErrNotFound)
	_, err = e.svc.Cards.Get(ctx, card.ID)
	require.ErrorIs(t, err, bank.ErrNotFound)

	err = e.svc.Cardholders.Delete(ctx, holder.ID)
	require.ErrorIs(t, err, bank.ErrNotFound)

	// the identity can be provisioned again
	created, err := e.svc.Cardholders.OnIdentityCreated(ctx, models.IdentityCreated{Username: "jane", Email: "jane@example.com"})
	require.NoError(t, err)
	require.True(t, created)
}
