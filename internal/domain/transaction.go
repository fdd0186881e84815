package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction is the read-only snapshot a rule set is evaluated against.
// The engine never mutates it.
type Transaction struct {
	// Core identifiers
	ID     string `json:"transaction_id"`
	UserID string `json:"user_id,omitempty"`

	// Parties involved
	FromAccount string `json:"from_account,omitempty"`
	ToAccount   string `json:"to_account,omitempty"`

	// Financial details
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency,omitempty"`

	// Temporal
	Timestamp Timestamp `json:"timestamp"`

	// Optional context flags
	IsNewUser       bool   `json:"is_new_user,omitempty"`
	IsInternational bool   `json:"is_international,omitempty"`
	UserCountry     string `json:"user_country,omitempty"`
	TransactionType string `json:"transaction_type,omitempty"`

	// Extra fields addressable by threshold rules
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ErrNegativeAmount is returned by Validate for amounts below zero.
var ErrNegativeAmount = errors.New("amount must not be negative")

// Validate checks the invariants the engine relies on.
func (t *Transaction) Validate() error {
	if t.Amount.IsNegative() {
		return ErrNegativeAmount
	}
	return nil
}

// AmountFloat returns the amount as a float64 for rule comparisons.
func (t *Transaction) AmountFloat() float64 {
	f, _ := t.Amount.Float64()
	return f
}

// Field looks up a named field of the snapshot. Well-known fields are
// resolved first, anything else falls through to Metadata.
func (t *Transaction) Field(name string) (interface{}, bool) {
	switch name {
	case "amount":
		return t.Amount, true
	case "transaction_id", "id":
		return t.ID, t.ID != ""
	case "user_id":
		return t.UserID, t.UserID != ""
	case "from_account":
		return t.FromAccount, t.FromAccount != ""
	case "to_account":
		return t.ToAccount, t.ToAccount != ""
	case "currency":
		return t.Currency, t.Currency != ""
	case "user_country":
		return t.UserCountry, t.UserCountry != ""
	case "transaction_type":
		return t.TransactionType, t.TransactionType != ""
	case "is_new_user":
		return t.IsNewUser, true
	case "is_international":
		return t.IsInternational, true
	}
	if t.Metadata == nil {
		return nil, false
	}
	v, ok := t.Metadata[name]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// timestampLayouts are tried in order when decoding a timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
}

// epochMillisCutoff separates epoch seconds from epoch milliseconds. As
// seconds it would be in the year 5138.
const epochMillisCutoff = 1e11

// Timestamp is a transaction instant that may be absent or unparseable.
// Decoding never fails; a value that cannot be parsed is kept in Raw and
// reported as invalid so time-based conditions evaluate to false.
type Timestamp struct {
	Time  time.Time
	Valid bool
	Raw   string
}

// NewTimestamp wraps a known instant.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: true}
}

// ParseTimestamp parses an ISO-8601 string, with or without a UTC offset,
// or a Unix epoch in seconds or milliseconds. Epoch values carry no offset
// and are read on UTC.
func ParseTimestamp(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return Timestamp{Time: t, Valid: true, Raw: s}
		}
	}
	if t, ok := parseEpoch(s); ok {
		ts := NewTimestamp(t)
		ts.Raw = s
		return ts
	}
	return Timestamp{Raw: s}
}

func parseEpoch(s string) (time.Time, bool) {
	d, err := decimal.NewFromString(s)
	if err != nil || d.IsNegative() {
		return time.Time{}, false
	}
	if d.GreaterThanOrEqual(decimal.NewFromFloat(epochMillisCutoff)) {
		d = d.Shift(-3)
	}
	sec := d.IntPart()
	nsec := d.Sub(decimal.NewFromInt(sec)).Shift(9).IntPart()
	return time.Unix(sec, nsec).UTC(), true
}

// Hour returns the hour of day on the transaction's own clock.
func (ts Timestamp) Hour() (int, bool) {
	if !ts.Valid {
		return 0, false
	}
	return ts.Time.Hour(), true
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	if ts.Valid {
		return json.Marshal(ts.Time.Format(time.RFC3339Nano))
	}
	if ts.Raw != "" {
		return json.Marshal(ts.Raw)
	}
	return []byte("null"), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*ts = Timestamp{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*ts = ParseTimestamp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*ts = ParseTimestamp(n.String())
		return nil
	}
	*ts = Timestamp{Raw: string(data)}
	return nil
}
