package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

func ParseCardStatus(s string) (CardStatus, error) {
	st := CardStatus(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return st, nil
	}
	return "", fmt.Errorf("unknown card status %q", s)
}

// MaxOwnerNameLen is the embossing limit for the name on the card face.
const MaxOwnerNameLen = 26

// Card is the stored card record. NumberEncrypted and PANHash never leave the
// service layer; callers get a CardView.
type Card struct {
	ID               string
	CardholderID     string
	OwnerName        string
	NumberEncrypted  string
	NumberMasked     string
	PANHash          string
	Status           CardStatus
	Balance          decimal.Decimal
	ExpiryDate       time.Time
	BlockRequested   bool
	BlockRequestedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type CardView struct {
	ID               string          `json:"id"`
	CardholderID     string          `json:"cardholderId"`
	OwnerName        string          `json:"ownerName"`
	MaskedNumber     string          `json:"maskedNumber"`
	Status           CardStatus      `json:"status"`
	Balance          decimal.Decimal `json:"balance"`
	ExpiryDate       string          `json:"expiryDate"`
	BlockRequested   bool            `json:"blockRequested"`
	BlockRequestedAt *time.Time      `json:"blockRequestedAt,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

func (c *Card) View() CardView {
	return CardView{
		ID:               c.ID,
		CardholderID:     c.CardholderID,
		OwnerName:        c.OwnerName,
		MaskedNumber:     c.NumberMasked,
		Status:           c.Status,
		Balance:          c.Balance.Round(2),
		ExpiryDate:       c.ExpiryDate.Format(time.DateOnly),
		BlockRequested:   c.BlockRequested,
		BlockRequestedAt: c.BlockRequestedAt,
		CreatedAt:        c.CreatedAt,
	}
}

// NormalizeOwnerName builds the card face name: upper case, single spaces,
// at most MaxOwnerNameLen runes.
func NormalizeOwnerName(first, last string) string {
	name := strings.ToUpper(strings.Join(strings.Fields(first+" "+last), " "))
	if r := []rune(name); len(r) > MaxOwnerNameLen {
		name = strings.TrimSpace(string(r[:MaxOwnerNameLen]))
	}
	return name
}

type CreateCardRequest struct {
	CardholderID string `json:"cardholderId"`
}

type UpdateStatusRequest struct {
	CardID    string `json:"cardId"`
	NewStatus string `json:"newStatus"`
}
