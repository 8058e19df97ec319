package bank

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
	"github.com/alovak/bankcards/internal/cardcrypto"
	"github.com/alovak/bankcards/internal/cardgen"
	"github.com/alovak/bankcards/internal/expiry"
)

const (
	// maxPANRetries bounds lookups against the PAN hash index per unit of work.
	maxPANRetries = 10
	// maxIssueAttempts bounds whole units of work lost to a concurrent insert of
	// the same card number.
	maxIssueAttempts = 5
)

// errCardNumberTaken is the store's answer to a duplicate PAN hash.
var errCardNumberTaken = fmt.Errorf("card number exists: %w", ErrConflict)

// CardRegistry owns card identity, status and balance records.
type CardRegistry struct {
	repo       *Repository
	crypto     *cardcrypto.Service
	policy     expiry.Policy
	bin        string
	panHashKey []byte
	deps       Deps
	logger     *slog.Logger
}

// Create issues a new ACTIVE card with a zero balance for the cardholder.
func (r *CardRegistry) Create(ctx context.Context, cardholderID string) (models.CardView, error) {
	var card *models.Card
	err := r.runIssuing(ctx, func(st Store) error {
		holder, err := st.GetCardholder(ctx, cardholderID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("cardholder %s: %w", cardholderID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		card, err = r.issue(ctx, st, holder)
		return err
	})
	if err != nil {
		return models.CardView{}, systemError(ctx, r.deps.Auditor, "create card", err)
	}

	r.recordIssued(ctx, card)
	return card.View(), nil
}

// runIssuing retries fn in a fresh unit of work when a concurrent insert took
// the generated card number.
func (r *CardRegistry) runIssuing(ctx context.Context, fn func(Store) error) error {
	var err error
	for attempt := 0; attempt < maxIssueAttempts; attempt++ {
		err = r.repo.RunInTx(ctx, fn)
		if !errors.Is(err, errCardNumberTaken) {
			return err
		}
		r.logger.Debug("card number collision, retrying", slog.Int("attempt", attempt+1))
	}
	return fmt.Errorf("could not create unique card after %d attempts: %w", maxIssueAttempts, err)
}

// issue mints and stores a card inside an existing unit of work.
func (r *CardRegistry) issue(ctx context.Context, st Store, holder *models.Cardholder) (*models.Card, error) {
	exists := func(pan string) (bool, error) {
		return st.ExistsPANHash(ctx, cardgen.HashPAN(pan, r.panHashKey))
	}
	pan, err := cardgen.GenerateUnique(r.bin, maxPANRetries, exists)
	if err != nil {
		return nil, fmt.Errorf("generate unique pan: %w", err)
	}

	encrypted, err := r.crypto.Encrypt(pan)
	if err != nil {
		return nil, fmt.Errorf("encrypt card number: %w: %w", ErrCrypto, err)
	}

	now := r.deps.Now()
	card := &models.Card{
		ID:              uuid.NewString(),
		CardholderID:    holder.ID,
		OwnerName:       models.NormalizeOwnerName(holder.FirstName, holder.LastName),
		NumberEncrypted: encrypted,
		NumberMasked:    cardcrypto.Mask(pan),
		PANHash:         cardgen.HashPAN(pan, r.panHashKey),
		Status:          models.CardStatusActive,
		Balance:         decimal.New(0, -2),
		ExpiryDate:      r.policy.Date(now),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := st.CreateCard(ctx, card); err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, errCardNumberTaken
		}
		return nil, fmt.Errorf("creating card: %w", err)
	}
	return card, nil
}

func (r *CardRegistry) recordIssued(ctx context.Context, card *models.Card) {
	r.deps.Metrics.IncrementCardsIssued()
	r.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.CardCreated,
		CardID:       card.ID,
		CardholderID: card.CardholderID,
		MaskedNumber: card.NumberMasked,
	})
	r.logger.Info("card issued", slog.String("card_id", card.ID), slog.String("masked", card.NumberMasked))
}

func (r *CardRegistry) Get(ctx context.Context, cardID string) (models.CardView, error) {
	var card *models.Card
	err := r.repo.RunInTx(ctx, func(st Store) error {
		var err error
		card, err = st.GetCard(ctx, cardID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		return err
	})
	if err != nil {
		return models.CardView{}, systemError(ctx, r.deps.Auditor, "get card", err)
	}
	return card.View(), nil
}

// SetStatus moves a card to any status. Direction policy is left to the
// administrator.
func (r *CardRegistry) SetStatus(ctx context.Context, cardID, newStatus string) error {
	status, err := models.ParseCardStatus(newStatus)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	var (
		previous models.CardStatus
		masked   string
	)
	err = r.repo.RunInTx(ctx, func(st Store) error {
		locked, err := st.LockCards(ctx, cardID)
		if err != nil {
			return err
		}
		card, ok := locked[cardID]
		if !ok {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		previous, masked = card.Status, card.NumberMasked
		if card.Status == status {
			return nil
		}
		card.Status = status
		card.UpdatedAt = r.deps.Now()
		return st.UpdateCard(ctx, card)
	})
	if err != nil {
		return systemError(ctx, r.deps.Auditor, "set card status", err)
	}

	if previous != status {
		r.deps.Metrics.IncrementStatusChange(string(status), 1)
	}
	r.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.CardStatusChanged,
		CardID:       cardID,
		MaskedNumber: masked,
		Details: map[string]string{
			"previous_status": string(previous),
			"new_status":      string(status),
		},
	})
	return nil
}

func (r *CardRegistry) Delete(ctx context.Context, cardID string) error {
	var masked string
	err := r.repo.RunInTx(ctx, func(st Store) error {
		card, err := st.GetCard(ctx, cardID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		masked = card.NumberMasked
		return st.DeleteCard(ctx, cardID)
	})
	if err != nil {
		return systemError(ctx, r.deps.Auditor, "delete card", err)
	}

	r.deps.Auditor.Record(ctx, audit.Event{Action: audit.CardDeleted, CardID: cardID, MaskedNumber: masked})
	return nil
}

// FindOwnedBy lists the caller's cards, newest first unless page says
// otherwise. A non-blank search keeps cards whose masked number contains it.
func (r *CardRegistry) FindOwnedBy(ctx context.Context, username, search string, page models.PageRequest) (models.Page[models.CardView], error) {
	page = page.Normalize()
	search = strings.TrimSpace(search)

	var (
		cards []*models.Card
		total int
	)
	err := r.repo.RunInTx(ctx, func(st Store) error {
		var err error
		cards, total, err = st.FindCardsOwnedBy(ctx, username, search, page)
		return err
	})
	if err != nil {
		return models.Page[models.CardView]{}, systemError(ctx, r.deps.Auditor, "find cards", err)
	}

	query := "by_owner"
	if search != "" {
		query = "by_owner_with_filter"
	}
	r.deps.Auditor.Record(ctx, audit.Event{
		Action:  audit.CardsListViewed,
		Actor:   username,
		Details: map[string]string{"page_size": strconv.Itoa(page.Size), "query": query},
	})

	out := models.Page[models.CardView]{
		Items: make([]models.CardView, 0, len(cards)),
		Page:  page.Page,
		Size:  page.Size,
		Total: total,
	}
	for _, c := range cards {
		out.Items = append(out.Items, c.View())
	}
	return out, nil
}

// RequestBlock is the cardholder's own block request. It sets the block
// requested flag and blocks an ACTIVE card; an EXPIRED card keeps its status.
// Repeating the call is a no-op.
func (r *CardRegistry) RequestBlock(ctx context.Context, username, cardID string) error {
	var (
		card    *models.Card
		changed bool
	)
	err := r.repo.RunInTx(ctx, func(st Store) error {
		holder, err := st.GetCardholderByUsername(ctx, username)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("card %s not found or not owned by caller: %w", cardID, ErrAccessDenied)
		}
		if err != nil {
			return err
		}
		locked, err := st.LockCards(ctx, cardID)
		if err != nil {
			return err
		}
		var ok bool
		card, ok = locked[cardID]
		if !ok || card.CardholderID != holder.ID {
			return fmt.Errorf("card %s not found or not owned by caller: %w", cardID, ErrAccessDenied)
		}

		if card.Status == models.CardStatusBlocked {
			return nil
		}
		if card.Status == models.CardStatusExpired && card.BlockRequested {
			return nil
		}

		now := r.deps.Now()
		card.BlockRequested = true
		card.BlockRequestedAt = &now
		if card.Status == models.CardStatusActive {
			card.Status = models.CardStatusBlocked
		}
		card.UpdatedAt = now
		changed = true
		return st.UpdateCard(ctx, card)
	})
	if errors.Is(err, ErrAccessDenied) {
		r.deps.Auditor.Record(ctx, audit.Event{Action: audit.AccessDenied, Actor: username, CardID: cardID,
			Details: map[string]string{"op": "request block"}})
		return err
	}
	if err != nil {
		return systemError(ctx, r.deps.Auditor, "request block", err)
	}
	if !changed {
		r.logger.Debug("block requested for already blocked card", slog.String("card_id", cardID))
		return nil
	}

	if card.Status == models.CardStatusBlocked {
		r.deps.Metrics.IncrementStatusChange(string(models.CardStatusBlocked), 1)
	}
	r.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.CardBlockRequested,
		Actor:        username,
		CardID:       card.ID,
		CardholderID: card.CardholderID,
		MaskedNumber: card.NumberMasked,
	})

	if r.deps.Publisher != nil {
		ev := models.BlockRequested{
			CardID:      card.ID,
			OwnerID:     card.CardholderID,
			RequestedAt: models.EventTime{Time: *card.BlockRequestedAt},
		}
		if err := r.deps.Publisher.PublishBlockRequested(ctx, ev); err != nil {
			r.logger.Warn("publishing block request", slog.String("card_id", card.ID), slog.Any("err", err))
		}
	}
	return nil
}

// ExpireDue marks every card whose expiry day has passed as EXPIRED and
// returns how many were changed.
func (r *CardRegistry) ExpireDue(ctx context.Context) (int, error) {
	now := r.deps.Now()
	today := r.policy.Today(now)

	var expired int
	err := r.repo.RunInTx(ctx, func(st Store) error {
		due, err := st.ListCardsExpiredBefore(ctx, today)
		if err != nil {
			return err
		}
		for _, card := range due {
			if !r.policy.IsExpired(card.ExpiryDate, now) {
				continue
			}
			card.Status = models.CardStatusExpired
			card.UpdatedAt = now
			if err := st.UpdateCard(ctx, card); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, systemError(ctx, r.deps.Auditor, "expire cards", err)
	}

	if expired > 0 {
		r.deps.Metrics.IncrementStatusChange(string(models.CardStatusExpired), expired)
		r.deps.Auditor.Record(ctx, audit.Event{
			Action:  audit.CardsExpired,
			Details: map[string]string{"count": strconv.Itoa(expired)},
		})
	}
	return expired, nil
}

// RevealNumber decrypts a card number. Only the CLI uses it; no HTTP route
// exposes it. Every successful reveal is audited with the masked number.
func (r *CardRegistry) RevealNumber(ctx context.Context, cardID string) (string, error) {
	var encrypted, masked string
	err := r.repo.RunInTx(ctx, func(st Store) error {
		card, err := st.GetCard(ctx, cardID)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("card %s: %w", cardID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		encrypted, masked = card.NumberEncrypted, card.NumberMasked
		return nil
	})
	if err != nil {
		return "", systemError(ctx, r.deps.Auditor, "reveal card number", err)
	}
	pan, err := r.crypto.Decrypt(encrypted)
	if err != nil {
		return "", systemError(ctx, r.deps.Auditor, "reveal card number", fmt.Errorf("%w: %w", ErrCrypto, err))
	}

	r.deps.Auditor.Record(ctx, audit.Event{Action: audit.CardNumberRevealed, CardID: cardID, MaskedNumber: masked})
	return pan, nil
}
