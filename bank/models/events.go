package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// EventTimeLayout is the timestamp format used on the event bus.
const EventTimeLayout = "2006-01-02 15:04:05"

// EventTime marshals as "2006-01-02 15:04:05" and also accepts RFC 3339.
type EventTime struct {
	time.Time
}

func (t EventTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.Format(EventTimeLayout))
}

func (t *EventTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	for _, layout := range []string{EventTimeLayout, time.RFC3339Nano, "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unsupported time format %q", s)
}

// IdentityCreated is published by the identity service when a user signs up.
type IdentityCreated struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	CreatedAt EventTime `json:"createdAt"`
}

// BlockRequested is published after a cardholder asks to block a card.
type BlockRequested struct {
	CardID      string    `json:"cardId"`
	OwnerID     string    `json:"ownerId"`
	RequestedAt EventTime `json:"requestedAt"`
}
