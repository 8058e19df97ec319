// Package audit records security relevant card and transfer events. Events
// never carry a full card number.
package audit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/exp/slog"
)

type Action string

const (
	CardCreated          Action = "CARD_CREATED"
	CardStatusChanged    Action = "CARD_STATUS_CHANGED"
	CardDeleted          Action = "CARD_DELETED"
	CardBlockRequested   Action = "CARD_BLOCK_REQUESTED"
	CardsExpired         Action = "CARDS_EXPIRED"
	CardNumberRevealed   Action = "CARD_NUMBER_REVEALED"
	CardholderRegistered Action = "CARDHOLDER_REGISTERED"
	CardholderBlocked    Action = "CARDHOLDER_BLOCKED"
	CardholderDeleted    Action = "CARDHOLDER_DELETED"
	TransferExecuted     Action = "TRANSFER_EXECUTED"
	TransferRejected     Action = "TRANSFER_REJECTED"
	BalanceViewed        Action = "BALANCE_VIEWED"
	CardsListViewed      Action = "CARDS_LIST_VIEWED"
	AccessDenied         Action = "ACCESS_DENIED"
	SystemError          Action = "SYSTEM_ERROR"
)

// Event is one audit line. Fields that do not apply stay empty.
type Event struct {
	Timestamp    time.Time
	Action       Action
	Actor        string
	CardID       string
	CardholderID string
	MaskedNumber string
	Details      map[string]string
}

type Auditor interface {
	Record(ctx context.Context, e Event)
}

// LogAuditor writes events as structured log records.
type LogAuditor struct {
	logger *slog.Logger
}

func NewLogAuditor(logger *slog.Logger) *LogAuditor {
	return &LogAuditor{logger: logger.With(slog.String("component", "audit"))}
}

func (a *LogAuditor) Record(ctx context.Context, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	attrs := []slog.Attr{
		slog.String("action", string(e.Action)),
		slog.Time("at", e.Timestamp),
	}
	if e.Actor != "" {
		attrs = append(attrs, slog.String("actor", e.Actor))
	}
	if e.CardID != "" {
		attrs = append(attrs, slog.String("card_id", e.CardID))
	}
	if e.CardholderID != "" {
		attrs = append(attrs, slog.String("cardholder_id", e.CardholderID))
	}
	if e.MaskedNumber != "" {
		attrs = append(attrs, slog.String("masked_number", e.MaskedNumber))
	}
	for k, v := range e.Details {
		attrs = append(attrs, slog.String(k, v))
	}

	a.logger.LogAttrs(ctx, levelFor(e.Action), "audit", attrs...)
}

func levelFor(a Action) slog.Level {
	switch a {
	case SystemError:
		return slog.LevelError
	case CardStatusChanged, CardDeleted, CardBlockRequested, CardholderBlocked,
		CardholderDeleted, TransferRejected, AccessDenied, CardsExpired, CardNumberRevealed:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Record(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Actions returns the recorded actions in order.
func (r *Recorder) Actions() []Action {
	events := r.Events()
	out := make([]Action, 0, len(events))
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

// Nop discards every event.
type Nop struct{}

func (Nop) Record(context.Context, Event) {}
