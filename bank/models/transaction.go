package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const TransactionStatusCompleted = "COMPLETED"

// Transaction is the immutable record of one completed transfer.
type Transaction struct {
	ID          string          `json:"id"`
	FromCardID  string          `json:"fromCardId"`
	ToCardID    string          `json:"toCardId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type TransferRequest struct {
	FromCardID  string          `json:"fromCardId"`
	ToCardID    string          `json:"toCardId"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description,omitempty"`
}
