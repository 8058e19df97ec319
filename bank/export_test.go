package bank

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SetBalance overwrites a card balance. Tests use it to fund cards.
func (r *Repository) SetBalance(ctx context.Context, cardID string, balance decimal.Decimal) error {
	return r.RunInTx(ctx, func(st Store) error {
		card, err := st.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		card.Balance = balance
		return st.UpdateCard(ctx, card)
	})
}

// SetExpiry overwrites a card expiry date.
func (r *Repository) SetExpiry(ctx context.Context, cardID string, day time.Time) error {
	return r.RunInTx(ctx, func(st Store) error {
		card, err := st.GetCard(ctx, cardID)
		if err != nil {
			return err
		}
		card.ExpiryDate = day
		return st.UpdateCard(ctx, card)
	})
}

var StatusFor = statusFor
