package bank_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alovak/bankcards/bank"
	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
)

// twoCards provisions jane with two cards funded with the given balances.
func twoCards(t *testing.T, e *testEnv, fromBalance, toBalance string) (models.CardView, models.CardView) {
	t.Helper()
	holder, from := e.provision(t, "jane")
	to, err := e.svc.Cards.Create(context.Background(), holder.ID)
	require.NoError(t, err)
	e.fund(t, from.ID, fromBalance)
	e.fund(t, to.ID, toBalance)
	return from, to
}

func TestTransfer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	from, to := twoCards(t, e, "1000.00", "500.00")

	err := e.svc.Transfers.Transfer(ctx, "jane", models.TransferRequest{
		FromCardID: from.ID,
		ToCardID:   to.ID,
		Amount:     decimalOf("200.00"),
	})
	require.NoError(t, err)

	require.Equal(t, "800.00", e.balance(t, from.ID))
	require.Equal(t, "700.00", e.balance(t, to.ID))

	history, err := e.svc.Transfers.History(ctx, "jane", from.ID, models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, history.Items, 1)
	tx := history.Items[0]
	require.Equal(t, from.ID, tx.FromCardID)
	require.Equal(t, to.ID, tx.ToCardID)
	require.Equal(t, "200.00", tx.Amount.StringFixed(2))
	require.Equal(t, models.TransactionStatusCompleted, tx.Status)
	require.Equal(t, "Transfer between own cards", tx.Description)

	received, err := e.svc.Transfers.History(ctx, "jane", to.ID, models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, received.Items, 1)

	require.Contains(t, e.recorder.Actions(), audit.TransferExecuted)
	require.Equal(t, float64(1), testutil.ToFloat64(e.metrics.Transfers.WithLabelValues("ok")))
	require.Equal(t, float64(200), testutil.ToFloat64(e.metrics.TransferredAmount))
}

func TestTransfer_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		setup  func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest
		kind   error
		msg    string
	}{
		{
			name:   "insufficient funds",
			amount: "100.00",
			kind:   bank.ErrInsufficientFunds,
		},
		{
			name:   "zero amount",
			amount: "0",
			kind:   bank.ErrInvalidArgument,
		},
		{
			name:   "negative amount",
			amount: "-1.00",
			kind:   bank.ErrInvalidArgument,
		},
		{
			name:   "three decimal places",
			amount: "1.005",
			kind:   bank.ErrInvalidArgument,
		},
		{
			name:   "above ceiling",
			amount: "1000000000.01",
			kind:   bank.ErrInvalidArgument,
		},
		{
			name:   "same card",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				return models.TransferRequest{FromCardID: from.ID, ToCardID: from.ID}
			},
			kind: bank.ErrInvalidArgument,
		},
		{
			name:   "source blocked",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), from.ID, "BLOCKED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			},
			kind: bank.ErrInvalidState,
		},
		{
			name:   "destination expired",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), to.ID, "EXPIRED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			},
			kind: bank.ErrInvalidState,
		},
		{
			name:   "unknown destination",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				return models.TransferRequest{FromCardID: from.ID, ToCardID: uuid.NewString()}
			},
			kind: bank.ErrNotFound,
		},
		{
			name:   "destination owned by someone else",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				_, foreign := e.provision(t, "john")
				return models.TransferRequest{FromCardID: from.ID, ToCardID: foreign.ID}
			},
			kind: bank.ErrNotFound,
		},
		{
			name:   "blocked source checked before balance",
			amount: "100.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), from.ID, "BLOCKED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			},
			kind: bank.ErrInvalidState,
			msg:  "source card blocked",
		},
		{
			name:   "blocked destination checked before balance",
			amount: "100.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), to.ID, "BLOCKED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			},
			kind: bank.ErrInvalidState,
			msg:  "destination card blocked",
		},
		{
			name:   "both cards blocked reports source",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), from.ID, "BLOCKED"))
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), to.ID, "BLOCKED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			},
			kind: bank.ErrInvalidState,
			msg:  "source card blocked",
		},
		{
			name:   "both cards missing reports source",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				return models.TransferRequest{FromCardID: uuid.NewString(), ToCardID: uuid.NewString()}
			},
			kind: bank.ErrNotFound,
			msg:  "source card not found",
		},
		{
			name:   "missing destination checked before blocked source",
			amount: "10.00",
			setup: func(t *testing.T, e *testEnv, from, to models.CardView) models.TransferRequest {
				require.NoError(t, e.svc.Cards.SetStatus(context.Background(), from.ID, "BLOCKED"))
				return models.TransferRequest{FromCardID: from.ID, ToCardID: uuid.NewString()}
			},
			kind: bank.ErrNotFound,
			msg:  "destination card not found",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			from, to := twoCards(t, e, "50.00", "5.00")

			req := models.TransferRequest{FromCardID: from.ID, ToCardID: to.ID}
			if tt.setup != nil {
				req = tt.setup(t, e, from, to)
			}
			req.Amount = decimalOf(tt.amount)

			err := e.svc.Transfers.Transfer(context.Background(), "jane", req)
			require.ErrorIs(t, err, tt.kind)
			require.Equal(t, tt.kind, bank.KindOf(err))
			if tt.msg != "" {
				require.ErrorContains(t, err, tt.msg)
			}

			require.Equal(t, "50.00", e.balance(t, from.ID))
			require.Equal(t, "5.00", e.balance(t, to.ID))
			history, err := e.svc.Transfers.History(context.Background(), "jane", from.ID, models.PageRequest{})
			require.NoError(t, err)
			require.Empty(t, history.Items)
			require.Contains(t, e.recorder.Actions(), audit.TransferRejected)
		})
	}
}

func TestTransfer_SourceNotOwned(t *testing.T) {
	e := newEnv(t)
	from, to := twoCards(t, e, "50.00", "5.00")
	e.provision(t, "john")

	err := e.svc.Transfers.Transfer(context.Background(), "john", models.TransferRequest{
		FromCardID: from.ID,
		ToCardID:   to.ID,
		Amount:     decimalOf("1.00"),
	})
	require.ErrorIs(t, err, bank.ErrNotFound)
	require.Equal(t, "50.00", e.balance(t, from.ID))
}

func TestTransfer_ExactBalance(t *testing.T) {
	e := newEnv(t)
	from, to := twoCards(t, e, "50.00", "0.00")

	require.NoError(t, e.svc.Transfers.Transfer(context.Background(), "jane", models.TransferRequest{
		FromCardID:  from.ID,
		ToCardID:    to.ID,
		Amount:      decimalOf("50"),
		Description: "rent",
	}))
	require.Equal(t, "0.00", e.balance(t, from.ID))
	require.Equal(t, "50.00", e.balance(t, to.ID))
}

func TestTransfer_ConcurrentConservesTotal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := twoCards(t, e, "100.00", "100.00")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = e.svc.Transfers.Transfer(ctx, "jane", models.TransferRequest{FromCardID: a.ID, ToCardID: b.ID, Amount: decimalOf("7.00")})
		}()
		go func() {
			defer wg.Done()
			_ = e.svc.Transfers.Transfer(ctx, "jane", models.TransferRequest{FromCardID: b.ID, ToCardID: a.ID, Amount: decimalOf("3.00")})
		}()
	}
	wg.Wait()

	balanceA := decimalOf(e.balance(t, a.ID))
	balanceB := decimalOf(e.balance(t, b.ID))
	require.True(t, balanceA.Add(balanceB).Equal(decimal.NewFromInt(200)))
	require.False(t, balanceA.IsNegative())
	require.False(t, balanceB.IsNegative())
}

func TestBalance(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	from, _ := twoCards(t, e, "12.5", "0")
	e.provision(t, "john")

	balance, err := e.svc.Transfers.Balance(ctx, "jane", from.ID)
	require.NoError(t, err)
	require.Equal(t, "12.50", balance.StringFixed(2))
	require.Contains(t, e.recorder.Actions(), audit.BalanceViewed)

	_, err = e.svc.Transfers.Balance(ctx, "john", from.ID)
	require.ErrorIs(t, err, bank.ErrAccessDenied)

	_, err = e.svc.Transfers.Balance(ctx, "jane", uuid.NewString())
	require.ErrorIs(t, err, bank.ErrAccessDenied)
}

func TestHistory_NotOwned(t *testing.T) {
	e := newEnv(t)
	from, _ := twoCards(t, e, "10", "0")
	e.provision(t, "john")

	_, err := e.svc.Transfers.History(context.Background(), "john", from.ID, models.PageRequest{})
	require.ErrorIs(t, err, bank.ErrAccessDenied)
}
