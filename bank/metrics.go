package bank

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

// Metrics provides observability for cards and transfers. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Transfers              *prometheus.CounterVec
	TransferredAmount      prometheus.Counter
	TransferDuration       prometheus.Histogram
	CardsIssued            prometheus.Counter
	CardStatusChanges      *prometheus.CounterVec
	CardholdersProvisioned prometheus.Counter
}

// NewMetrics registers all bank metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Transfers: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcards_transfers_total",
			Help: "Transfers by result (ok or the error kind)",
		}, []string{"result"}),
		TransferredAmount: f.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_transferred_amount_total",
			Help: "Sum of successfully transferred amounts",
		}),
		TransferDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bankcards_transfer_duration_seconds",
			Help:    "Duration of transfer units of work",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		CardsIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_cards_issued_total",
			Help: "Total number of cards issued",
		}),
		CardStatusChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bankcards_card_status_changes_total",
			Help: "Card status transitions by new status",
		}, []string{"status"}),
		CardholdersProvisioned: f.NewCounter(prometheus.CounterOpts{
			Name: "bankcards_cardholders_provisioned_total",
			Help: "Cardholders created from identity events",
		}),
	}
}

// ObserveTransfer records one transfer attempt. Call with time.Now() at the
// start of the operation.
func (m *Metrics) ObserveTransfer(start time.Time, result string, amount decimal.Decimal) {
	if m == nil {
		return
	}
	m.Transfers.WithLabelValues(result).Inc()
	m.TransferDuration.Observe(time.Since(start).Seconds())
	if result == "ok" {
		m.TransferredAmount.Add(amount.InexactFloat64())
	}
}

func (m *Metrics) IncrementCardsIssued() {
	if m == nil {
		return
	}
	m.CardsIssued.Inc()
}

func (m *Metrics) IncrementStatusChange(status string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.CardStatusChanges.WithLabelValues(status).Add(float64(n))
}

func (m *Metrics) IncrementCardholdersProvisioned() {
	if m == nil {
		return
	}
	m.CardholdersProvisioned.Inc()
}
