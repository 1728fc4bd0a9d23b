// CLAUDE:SUMMARY Canonical domain types: Query, RawSlot, Slot, SlotIdentity, Credential, execution outcomes.
// Package portal defines the contract between the booking service and the
// per-portal adapters: the canonical domain types, the Adapter interface,
// and the shared error taxonomy.
package portal

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Query is the immutable search input. Times are canonical "HH:MM" and the
// date is "2006-01-02"; Validate enforces both before any network call.
type Query struct {
	Date        string   `json:"date"`
	StartTime   string   `json:"start_time"`
	EndTime     string   `json:"end_time"`
	Venues      []string `json:"venues,omitempty"` // empty = all portals
	TrainerName string   `json:"trainer_name,omitempty"`
	Kind        string   `json:"kind,omitempty"` // "", "court", "trainer"
}

// TrainerRef identifies one trainer offered on a slot.
type TrainerRef struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	TrainingTypes []string `json:"training_types,omitempty"`
}

// RawSlot is the parsed-but-not-yet-canonical product of one adapter fetch.
// Time strings keep the portal's own format ("18:00" vs "18:00:00"); the
// normalizer canonicalizes them before an identity is ever computed.
// RawSlot never crosses the service boundary.
type RawSlot struct {
	Portal      string
	Venue       string
	CourtName   string
	Date        string
	TimeStart   string
	TimeEnd     string
	RawPrice    string // portal text, "" / "N/A" when absent
	IndoorOut   string
	BookingLink string // postsv reservation href, "" elsewhere
	SquareID    string // dasspiel court UUID, "" elsewhere
	Trainers    []TrainerRef
}

// Slot is the canonical, deduplicated representation of one bookable window.
type Slot struct {
	Venue         string       `json:"venue"`
	CourtName     string       `json:"court_name"`
	Date          string       `json:"date"`
	StartTime     string       `json:"start_time"`
	EndTime       string       `json:"end_time"`
	Price         *float64     `json:"price"`
	IndoorOutdoor string       `json:"indoor_outdoor"`
	SourcePortal  string       `json:"source_portal"`
	Trainers      []TrainerRef `json:"trainers,omitempty"`
}

// SlotIdentity is the equality key for slots: two payloads describing the
// same physical slot must produce equal identities after normalization.
type SlotIdentity struct {
	SourcePortal string `json:"source_portal"`
	CourtName    string `json:"court_name"`
	Date         string `json:"date"`
	StartTime    string `json:"start_time"`
}

// Identity derives the slot's identity tuple. Fields are assumed canonical.
func (s *Slot) Identity() SlotIdentity {
	return SlotIdentity{
		SourcePortal: s.SourcePortal,
		CourtName:    s.CourtName,
		Date:         s.Date,
		StartTime:    s.StartTime,
	}
}

// String renders the identity for logs. Never contains credentials.
func (id SlotIdentity) String() string {
	return id.SourcePortal + "/" + id.CourtName + "/" + id.Date + "/" + id.StartTime
}

// Credential carries one user's login for one portal. Supplied per call,
// never cached beyond a single fetch batch or booking attempt, never logged.
type Credential struct {
	Portal   string
	Username string
	Password string
}

// Outcome is the adapter-level result of a booking execution. The executor,
// not the adapter, owns the mapping to a user-facing BookingResult.
type Outcome int

const (
	OutcomeApplied   Outcome = iota // remote side accepted the booking
	OutcomeNotFound                 // slot disappeared between verify and execute
	OutcomeAmbiguous                // response could not be interpreted either way
)

func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeAmbiguous:
		return "ambiguous"
	}
	return "unknown"
}

// ExecRequest is the input to ExecuteBooking/VerifyBooking: the live RawSlot
// that was verified to match the user's selection, plus the credential.
type ExecRequest struct {
	Slot       RawSlot
	Credential *Credential
}

// CanonicalTime normalizes a portal time string to "HH:MM". Accepted inputs
// are "H:MM", "HH:MM" and "HH:MM:SS" with optional surrounding whitespace.
// The identity rule depends on this: "18:00:00" and "18:00" must collapse to
// the same canonical value.
func CanonicalTime(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("empty time")
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return "", fmt.Errorf("malformed time %q", raw)
	}
	h, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || h < 0 || h > 23 {
		return "", fmt.Errorf("malformed hour in %q", raw)
	}
	m, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || m < 0 || m > 59 {
		return "", fmt.Errorf("malformed minute in %q", raw)
	}
	if len(parts) == 3 {
		sec, err := strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || sec < 0 || sec > 59 {
			return "", fmt.Errorf("malformed second in %q", raw)
		}
	}
	return fmt.Sprintf("%02d:%02d", h, m), nil
}

// TimeMatches reports whether a live portal time string refers to the same
// moment as a canonical "HH:MM" want. This is strict canonical equality,
// never a substring test, so "7:00" can never satisfy a request for "17:00".
func TimeMatches(rawLive, want string) bool {
	live, err := CanonicalTime(rawLive)
	if err != nil {
		return false
	}
	return live == want
}

// ParsePrice extracts a numeric price from portal text ("€ 26,00", "26.00").
// Absent or unparseable prices return nil, never 0 and never a sentinel.
func ParsePrice(raw string) *float64 {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	switch strings.ToLower(s) {
	case "n/a", "na", "-", "–":
		return nil
	}
	s = strings.TrimPrefix(s, "€")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ",", ".")
	// "26.000,50"-style thousands separators do not occur on these portals;
	// a second dot means garbage.
	if strings.Count(s, ".") > 1 {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 {
		return nil
	}
	return &v
}

// MinutesOf converts a canonical "HH:MM" to minutes since midnight.
// Callers must pass canonical input; malformed input returns -1.
func MinutesOf(canonical string) int {
	parts := strings.Split(canonical, ":")
	if len(parts) != 2 {
		return -1
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return -1
	}
	return h*60 + m
}

// ValidDate reports whether d is a well-formed "2006-01-02" date.
func ValidDate(d string) bool {
	_, err := time.Parse("2006-01-02", d)
	return err == nil
}
