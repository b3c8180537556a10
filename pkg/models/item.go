package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies which of the two reconciled collections an item came from
type Side int

const (
	SideOne Side = 1
	SideTwo Side = 2
)

// Valid reports whether the side is one of the two labeled sources
func (s Side) Valid() bool {
	return s == SideOne || s == SideTwo
}

// Other returns the opposite side
func (s Side) Other() Side {
	if s == SideOne {
		return SideTwo
	}
	return SideOne
}

// Item is a single record from one of the two sources. Items are immutable once ingested.
type Item struct {
	ID           string          `json:"item_id" validate:"required"`
	Source       Side            `json:"source" validate:"required,oneof=1 2"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency" validate:"required,len=3"`
	Date         time.Time       `json:"date"`
	Counterparty *string         `json:"counterparty,omitempty"`
	Description  *string         `json:"description,omitempty"`
	Extra        map[string]any  `json:"extra,omitempty"`
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as plain YYYY-MM-DD dates
func (it *Item) UnmarshalJSON(data []byte) error {
	type alias Item
	aux := struct {
		*alias
		Date string `json:"date"`
	}{alias: (*alias)(it)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	it.Date = time.Time{}
	if aux.Date == "" {
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.DateOnly} {
		if t, err := time.Parse(layout, aux.Date); err == nil {
			it.Date = t
			return nil
		}
	}
	return fmt.Errorf("invalid date %q: expected YYYY-MM-DD or RFC 3339", aux.Date)
}

// IngestItemsRequest is the request body for item ingestion
type IngestItemsRequest struct {
	Items []Item `json:"items" validate:"required,min=1"`
}

// ItemState is an item together with its current match ownership
type ItemState struct {
	Item
	MatchID *string `json:"match_id,omitempty"`
}

// IsMatched reports whether the item currently belongs to a confirmed match
func (s ItemState) IsMatched() bool {
	return s.MatchID != nil && *s.MatchID != ""
}

// DateOnly truncates a timestamp to its UTC calendar date
func DateOnly(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
