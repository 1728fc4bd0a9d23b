// CLAUDE:SUMMARY Public aliases over the internal portal types plus the service-level request/result shapes.
// Package booking aggregates court and trainer availability across several
// reservation portals and executes bookings against them. It is the public
// surface of the service; the portal adapters, the throttle, the executor
// and the store live underneath it.
package booking

import (
	"github.com/hazyhaar/platz/booking/internal/portal"
)

// Aliases for the shared domain types, so callers never import internal
// packages.
type (
	Query        = portal.Query
	Slot         = portal.Slot
	SlotIdentity = portal.SlotIdentity
	TrainerRef   = portal.TrainerRef
	Credential   = portal.Credential
)

// BookingRequest asks for one exact slot. The tuple (Portal, CourtName,
// Date, TimeStart) identifies the slot; no fuzzy matching is ever applied.
type BookingRequest struct {
	UserID    string `json:"user_id"`
	Portal    string `json:"portal"`
	CourtName string `json:"court_name"`
	Date      string `json:"date"`
	TimeStart string `json:"time_start"`
}

// BookingResult is the terminal outcome of a booking request.
type BookingResult struct {
	Status  string `json:"status"` // confirmed, conflict, failed, unknown
	Message string `json:"message"`

	// Alternatives lists currently free slots when Status is "conflict".
	Alternatives []Slot `json:"alternatives,omitempty"`
}

// RankedSlot is a slot with its preference score attached.
type RankedSlot struct {
	Slot
	Score     float64 `json:"score"`
	Preferred bool    `json:"preferred,omitempty"`
}

// PreferenceSummary describes what the selection stream says about a user.
type PreferenceSummary struct {
	Selections int                `json:"selections"`
	Active     bool               `json:"active"` // enough history to rank
	Venues     map[string]float64 `json:"venues,omitempty"`
	TimesOfDay map[string]float64 `json:"times_of_day,omitempty"`
	DaysOfWeek map[string]float64 `json:"days_of_week,omitempty"`
	AvgPrice   *float64           `json:"avg_price,omitempty"`
}
