package bank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
)

const defaultTransferDescription = "Transfer between own cards"

// TransferEngine moves money between two cards of the same cardholder.
type TransferEngine struct {
	repo    *Repository
	ceiling decimal.Decimal
	deps    Deps
	logger  *slog.Logger
}

// Transfer debits the source card and credits the destination card in one
// unit of work together with a COMPLETED transaction record. Card rows are
// locked in ascending id order. Failed transfers are not retried.
func (e *TransferEngine) Transfer(ctx context.Context, username string, req models.TransferRequest) error {
	start := time.Now()

	tx, err := e.transfer(ctx, username, req)
	if err != nil {
		kind := KindOf(err)
		e.deps.Metrics.ObserveTransfer(start, resultLabel(kind), req.Amount)
		if kind == ErrSystem || kind == ErrCrypto {
			return systemError(ctx, e.deps.Auditor, "transfer", err)
		}
		e.deps.Auditor.Record(ctx, audit.Event{
			Action: audit.TransferRejected,
			Actor:  username,
			CardID: req.FromCardID,
			Details: map[string]string{
				"to_card_id": req.ToCardID,
				"amount":     req.Amount.String(),
				"reason":     err.Error(),
			},
		})
		return err
	}

	e.deps.Metrics.ObserveTransfer(start, "ok", tx.Amount)
	e.deps.Auditor.Record(ctx, audit.Event{
		Action: audit.TransferExecuted,
		Actor:  username,
		CardID: tx.FromCardID,
		Details: map[string]string{
			"transaction_id": tx.ID,
			"to_card_id":     tx.ToCardID,
			"amount":         tx.Amount.StringFixed(2),
		},
	})
	e.logger.Info("transfer completed", slog.String("transaction_id", tx.ID))
	return nil
}

func (e *TransferEngine) validate(req models.TransferRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %w", ErrInvalidArgument)
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return fmt.Errorf("amount must have at most 2 decimal places: %w", ErrInvalidArgument)
	}
	if req.Amount.GreaterThan(e.ceiling) {
		return fmt.Errorf("amount exceeds %s: %w", e.ceiling.StringFixed(2), ErrInvalidArgument)
	}
	if req.FromCardID == req.ToCardID {
		return fmt.Errorf("cannot transfer to the same card: %w", ErrInvalidArgument)
	}
	return nil
}

func (e *TransferEngine) transfer(ctx context.Context, username string, req models.TransferRequest) (*models.Transaction, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}
	amount := req.Amount.Round(2)

	var tx *models.Transaction
	err := e.repo.RunInTx(ctx, func(st Store) error {
		holder, err := st.GetCardholderByUsername(ctx, username)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		locked, err := st.LockCards(ctx, req.FromCardID, req.ToCardID)
		if err != nil {
			return err
		}
		owned := func(id string) (*models.Card, bool) {
			c, ok := locked[id]
			if !ok || holder == nil || c.CardholderID != holder.ID {
				return nil, false
			}
			return c, true
		}

		from, ok := owned(req.FromCardID)
		if !ok {
			return fmt.Errorf("source card not found: %w", ErrNotFound)
		}
		to, ok := owned(req.ToCardID)
		if !ok {
			return fmt.Errorf("destination card not found: %w", ErrNotFound)
		}
		if from.Status != models.CardStatusActive {
			return fmt.Errorf("source card blocked: %w", ErrInvalidState)
		}
		if to.Status != models.CardStatusActive {
			return fmt.Errorf("destination card blocked: %w", ErrInvalidState)
		}
		if from.Balance.LessThan(amount) {
			return fmt.Errorf("balance %s is below %s: %w", from.Balance.StringFixed(2), amount.StringFixed(2), ErrInsufficientFunds)
		}

		now := e.deps.Now()
		from.Balance = from.Balance.Sub(amount)
		from.UpdatedAt = now
		to.Balance = to.Balance.Add(amount)
		to.UpdatedAt = now
		if err := st.UpdateCard(ctx, from); err != nil {
			return fmt.Errorf("debit source card: %w", err)
		}
		if err := st.UpdateCard(ctx, to); err != nil {
			return fmt.Errorf("credit destination card: %w", err)
		}

		description := strings.TrimSpace(req.Description)
		if description == "" {
			description = defaultTransferDescription
		}
		tx = &models.Transaction{
			ID:          uuid.NewString(),
			FromCardID:  from.ID,
			ToCardID:    to.ID,
			Amount:      amount,
			Description: description,
			Status:      models.TransactionStatusCompleted,
			CreatedAt:   now,
		}
		if err := st.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("creating transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return tx, nil
}

// Balance returns the balance of one of the caller's own cards.
func (e *TransferEngine) Balance(ctx context.Context, username, cardID string) (decimal.Decimal, error) {
	card, err := e.ownedCard(ctx, username, cardID, "balance")
	if err != nil {
		return decimal.Decimal{}, err
	}

	e.deps.Auditor.Record(ctx, audit.Event{
		Action:       audit.BalanceViewed,
		Actor:        username,
		CardID:       card.ID,
		MaskedNumber: card.NumberMasked,
	})
	return card.Balance.Round(2), nil
}

// History lists transactions touching one of the caller's cards, newest first.
func (e *TransferEngine) History(ctx context.Context, username, cardID string, page models.PageRequest) (models.Page[models.Transaction], error) {
	page = page.Normalize()
	if _, err := e.ownedCard(ctx, username, cardID, "history"); err != nil {
		return models.Page[models.Transaction]{}, err
	}

	var (
		list  []*models.Transaction
		total int
	)
	err := e.repo.RunInTx(ctx, func(st Store) error {
		var err error
		list, total, err = st.ListTransactionsByCard(ctx, cardID, page)
		return err
	})
	if err != nil {
		return models.Page[models.Transaction]{}, systemError(ctx, e.deps.Auditor, "transaction history", err)
	}

	out := models.Page[models.Transaction]{
		Items: make([]models.Transaction, 0, len(list)),
		Page:  page.Page,
		Size:  page.Size,
		Total: total,
	}
	for _, t := range list {
		out.Items = append(out.Items, *t)
	}
	return out, nil
}

func (e *TransferEngine) ownedCard(ctx context.Context, username, cardID, op string) (*models.Card, error) {
	var card *models.Card
	err := e.repo.RunInTx(ctx, func(st Store) error {
		var err error
		card, err = st.GetCardOwnedBy(ctx, cardID, username)
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("card %s not found or not owned by caller: %w", cardID, ErrAccessDenied)
		}
		return err
	})
	if errors.Is(err, ErrAccessDenied) {
		e.deps.Auditor.Record(ctx, audit.Event{Action: audit.AccessDenied, Actor: username, CardID: cardID,
			Details: map[string]string{"op": op}})
		return nil, err
	}
	if err != nil {
		return nil, systemError(ctx, e.deps.Auditor, op, err)
	}
	return card, nil
}

func resultLabel(kind error) string {
	switch kind {
	case ErrNotFound:
		return "not_found"
	case ErrAccessDenied:
		return "access_denied"
	case ErrInvalidState:
		return "invalid_state"
	case ErrInsufficientFunds:
		return "insufficient_funds"
	case ErrInvalidArgument:
		return "invalid_argument"
	case ErrCrypto:
		return "crypto"
	default:
		return "system"
	}
}
