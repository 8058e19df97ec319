package bank

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/exp/slog"

	"github.com/alovak/bankcards/bank/models"
	"github.com/alovak/bankcards/internal/audit"
	"github.com/alovak/bankcards/internal/cardcrypto"
	"github.com/alovak/bankcards/internal/cardgen"
	"github.com/alovak/bankcards/internal/expiry"
)

// BlockPublisher announces self-service block requests to other services.
type BlockPublisher interface {
	PublishBlockRequested(ctx context.Context, ev models.BlockRequested) error
}

// Deps are the collaborators shared by the services. Zero values fall back to
// no-op implementations.
type Deps struct {
	Auditor   audit.Auditor
	Metrics   *Metrics
	Logger    *slog.Logger
	Publisher BlockPublisher
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Auditor == nil {
		d.Auditor = audit.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	d.Auditor = clockedAuditor{next: d.Auditor, now: d.Now}
	return d
}

// clockedAuditor stamps events with the services clock so audit times match
// record timestamps.
type clockedAuditor struct {
	next audit.Auditor
	now  func() time.Time
}

func (a clockedAuditor) Record(ctx context.Context, e audit.Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = a.now()
	}
	a.next.Record(ctx, e)
}

// Services bundles the card registry, cardholder directory and transfer
// engine over one repository.
type Services struct {
	Cards       *CardRegistry
	Cardholders *CardholderDirectory
	Transfers   *TransferEngine
}

func NewServices(repo *Repository, crypto *cardcrypto.Service, cfg *Config, deps Deps) (*Services, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cardgen.ValidateBIN(cfg.BIN); err != nil {
		return nil, fmt.Errorf("card bin: %w", err)
	}
	policy, err := expiry.NewPolicy(cfg.ValidityYears, cfg.ExpiryTZ)
	if err != nil {
		return nil, fmt.Errorf("expiry policy: %w", err)
	}
	deps = deps.withDefaults()

	cards := &CardRegistry{
		repo:       repo,
		crypto:     crypto,
		policy:     policy,
		bin:        cfg.BIN,
		panHashKey: []byte(cfg.PANHashKey),
		deps:       deps,
		logger:     deps.Logger.With(slog.String("component", "cards")),
	}
	return &Services{
		Cards: cards,
		Cardholders: &CardholderDirectory{
			repo:   repo,
			cards:  cards,
			deps:   deps,
			logger: deps.Logger.With(slog.String("component", "cardholders")),
		},
		Transfers: &TransferEngine{
			repo:    repo,
			ceiling: cfg.TransferCeiling,
			deps:    deps,
			logger:  deps.Logger.With(slog.String("component", "transfers")),
		},
	}, nil
}
