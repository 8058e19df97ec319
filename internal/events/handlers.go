package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank/models"
)

// Provisioner creates cardholders from identity events.
type Provisioner interface {
	OnIdentityCreated(ctx context.Context, ev models.IdentityCreated) (bool, error)
}

// IdentityCreatedHandler decodes IdentityCreated records and provisions the
// cardholder. isPermanent classifies provisioning errors that retrying cannot
// fix.
func IdentityCreatedHandler(logger *slog.Logger, p Provisioner, isPermanent func(error) bool) Handler {
	return func(ctx context.Context, rec *kgo.Record) error {
		var ev models.IdentityCreated
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			return fmt.Errorf("decode identity event: %w: %w", ErrPermanent, err)
		}
		logger.Info("received identity event", slog.String("username", ev.Username))

		created, err := p.OnIdentityCreated(ctx, ev)
		if err != nil {
			if isPermanent != nil && isPermanent(err) {
				return fmt.Errorf("provision %s: %w: %w", ev.Username, ErrPermanent, err)
			}
			return fmt.Errorf("provision %s: %w", ev.Username, err)
		}
		if !created {
			logger.Info("identity already provisioned", slog.String("username", ev.Username))
		}
		return nil
	}
}

// BlockRequestedHandler logs block requests seen on the bus.
func BlockRequestedHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, rec *kgo.Record) error {
		var ev models.BlockRequested
		if err := json.Unmarshal(rec.Value, &ev); err != nil {
			return fmt.Errorf("decode block request: %w: %w", ErrPermanent, err)
		}
		logger.Info("received block request",
			slog.String("card_id", ev.CardID), slog.String("owner_id", ev.OwnerID),
			slog.Time("requested_at", ev.RequestedAt.Time))
		return nil
	}
}
