package bank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alovak/bankcards/bank/models"
)

func TestMemRunInTx_SnapshotOnFirstWrite(t *testing.T) {
	repo := NewRepository()
	ctx := context.Background()
	holder := &models.Cardholder{ID: "h1", Username: "jane", Email: "jane@example.com", CreatedAt: time.Now()}

	var reads *memTx
	err := repo.RunInTx(ctx, func(st Store) error {
		reads = st.(*memTx)
		_, err := st.GetCardholder(ctx, "h1")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	})
	require.NoError(t, err)
	require.Nil(t, reads.snapshot)

	require.NoError(t, repo.RunInTx(ctx, func(st Store) error {
		return st.CreateCardholder(ctx, holder)
	}))

	boom := errors.New("boom")
	err = repo.RunInTx(ctx, func(st Store) error {
		h, err := st.GetCardholder(ctx, "h1")
		require.NoError(t, err)
		h.Enabled = false
		h.FirstName = "changed"
		require.NoError(t, st.UpdateCardholder(ctx, h))
		require.NotNil(t, st.(*memTx).snapshot)
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.NoError(t, repo.RunInTx(ctx, func(st Store) error {
		h, err := st.GetCardholder(ctx, "h1")
		require.NoError(t, err)
		require.Empty(t, h.FirstName)
		return nil
	}))
}
