package bank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
)

// CardholderDirectory owns cardholder identities and provisions them from
// identity events.
type CardholderDirectory struct {
	repo   *Repository
	cards  *CardRegistry
	deps   Deps
	logger *slog.Logger
}

// OnIdentityCreated creates the cardholder and its default card in one unit
// of work. Deliveries are at-least-once, so a known email or username is
// reported as created=false without error.
func (d *CardholderDirectory) OnIdentityCreated(ctx context.Context, ev models.IdentityCreated) (bool, error) {
	ev.Username = strings.TrimSpace(ev.Username)
	ev.Email = strings.TrimSpace(ev.Email)
	if ev.Username == "" || ev.Email == "" {
		return false, fmt.Errorf("username and email are required: %w", ErrInvalidArgument)
	}

	var (
		holder *models.Cardholder
		card   *models.Card
	)
	err := d.cards.runIssuing(ctx, func(st Store) error {
		holder, card = nil, nil

		if _, err := st.GetCardholderByEmail(ctx, ev.Email); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if _, err := st.GetCardholderByUsername(ctx, ev.Username); err == nil {
			return nil
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		now := d.deps.Now()
		created := ev.CreatedAt.Time
		if created.IsZero() {
			created = now
		}
		h := &models.Cardholder{
			ID:        uuid.NewString(),
			Username:  ev.Username,
			Email:     ev.Email,
			FirstName: strings.TrimSpace(ev.FirstName),
			LastName:  strings.TrimSpace(ev.LastName),
			Enabled:   true,
			CreatedAt: created.UTC(),
			UpdatedAt: now,
		}
		if err := st.CreateCardholder(ctx, h); err != nil {
			return fmt.Errorf("creating cardholder: %w", err)
		}
		c, err := d.cards.issue(ctx, st, h)
		if err != nil {
			return err
		}
		holder, card = h, c
		return nil
	})
	if err != nil && errors.Is(err, ErrConflict) && !errors.Is(err, errCardNumberTaken) {
		// a concurrent delivery of the same identity won the insert
		d.logger.Info("cardholder already provisioned", slog.String("username", ev.Username))
		return false, nil
	}
	if err != nil {
		return false, systemError(ctx, d.deps.Auditor, "provision cardholder", err)
	}
	if holder == nil {
		d.logger.Info("duplicate identity event ignored", slog.String("username", ev.Username))
		return false, nil
	}

	d.deps.Metrics.IncrementCardholdersProvisioned()
	d.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.CardholderRegistered,
		Actor:        holder.Username,
		CardholderID: holder.ID,
	})
	d.cards.recordIssued(ctx, card)
	return true, nil
}

func (d *CardholderDirectory) Get(ctx context.Context, id string) (models.Cardholder, error) {
	var holder *models.Cardholder
	err := d.repo.RunInTx(ctx, func(st Store) error {
		var err error
		holder, err = st.GetCardholder(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("cardholder %s: %w", id, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return models.Cardholder{}, systemError(ctx, d.deps.Auditor, "get cardholder", err)
	}
	return *holder, nil
}

// Block disables the cardholder and blocks every card it owns. EXPIRED cards
// stay EXPIRED.
func (d *CardholderDirectory) Block(ctx context.Context, id string) error {
	var blocked int
	err := d.repo.RunInTx(ctx, func(st Store) error {
		holder, err := st.GetCardholder(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("cardholder %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}

		now := d.deps.Now()
		holder.Enabled = false
		holder.UpdatedAt = now
		if err := st.UpdateCardholder(ctx, holder); err != nil {
			return fmt.Errorf("disabling cardholder: %w", err)
		}

		owned, err := st.ListCardsByCardholder(ctx, holder.ID)
		if err != nil {
			return err
		}
		ids := make([]string, 0, len(owned))
		for _, c := range owned {
			ids = append(ids, c.ID)
		}
		locked, err := st.LockCards(ctx, ids...)
		if err != nil {
			return err
		}
		for _, c := range locked {
			if c.Status != models.CardStatusActive {
				continue
			}
			c.Status = models.CardStatusBlocked
			c.UpdatedAt = now
			if err := st.UpdateCard(ctx, c); err != nil {
				return fmt.Errorf("blocking card %s: %w", c.ID, err)
			}
			blocked++
		}
		return nil
	})
	if err != nil {
		return systemError(ctx, d.deps.Auditor, "block cardholder", err)
	}

	d.deps.Metrics.IncrementStatusChange(string(models.CardStatusBlocked), blocked)
	d.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.CardholderBlocked,
		CardholderID: id,
		Details:      map[string]string{"cards_blocked": strconv.Itoa(blocked)},
	})
	return nil
}

// Delete removes the cardholder together with its cards and their
// transactions.
func (d *CardholderDirectory) Delete(ctx context.Context, id string) error {
	err := d.repo.RunInTx(ctx, func(st Store) error {
		err := st.DeleteCardholder(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("cardholder %s: %w", id, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return systemError(ctx, d.deps.Auditor, "delete cardholder", err)
	}

	d.deps.Auditor.Record(ctx, audit.Event{Action: audit.CardholderDeleted, CardholderID: id})
	return nil
}
