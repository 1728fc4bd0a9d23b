// CLAUDE:SUMMARY Raw portal payloads to canonical slots: time canon, price parse, identity dedupe, stable order.
package booking

import (
	"log/slog"
	"sort"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

// Normalize converts raw portal payloads into canonical slots: times are
// canonicalized, price text is parsed, duplicates describing the same
// physical slot collapse into one. Payloads that cannot be canonicalized
// are dropped and logged, never silently coerced.
func Normalize(raw []portal.RawSlot, log *slog.Logger) []Slot {
	if log == nil {
		log = slog.Default()
	}

	byIdentity := make(map[SlotIdentity]Slot)
	order := make([]SlotIdentity, 0, len(raw))

	for _, r := range raw {
		s, ok := canonicalize(r)
		if !ok {
			log.Warn("dropping malformed slot payload",
				"portal", r.Portal, "court", r.CourtName, "date", r.Date, "time", r.TimeStart)
			continue
		}
		id := s.Identity()
		prev, seen := byIdentity[id]
		if !seen {
			byIdentity[id] = s
			order = append(order, id)
			continue
		}
		// Keep the richer duplicate: a priced payload beats an unpriced
		// one, otherwise first seen wins.
		if prev.Price == nil && s.Price != nil {
			byIdentity[id] = s
		}
	}

	out := make([]Slot, 0, len(order))
	for _, id := range order {
		out = append(out, byIdentity[id])
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Date != b.Date {
			return a.Date < b.Date
		}
		if a.StartTime != b.StartTime {
			return a.StartTime < b.StartTime
		}
		if a.Venue != b.Venue {
			return a.Venue < b.Venue
		}
		return a.CourtName < b.CourtName
	})
	return out
}

func canonicalize(r portal.RawSlot) (Slot, bool) {
	if r.Portal == "" || r.CourtName == "" || !portal.ValidDate(r.Date) {
		return Slot{}, false
	}
	start, err := portal.CanonicalTime(r.TimeStart)
	if err != nil {
		return Slot{}, false
	}
	end := ""
	if r.TimeEnd != "" {
		if end, err = portal.CanonicalTime(r.TimeEnd); err != nil {
			return Slot{}, false
		}
	}
	return Slot{
		Venue:         r.Venue,
		CourtName:     r.CourtName,
		Date:          r.Date,
		StartTime:     start,
		EndTime:       end,
		Price:         portal.ParsePrice(r.RawPrice),
		IndoorOutdoor: r.IndoorOut,
		SourcePortal:  r.Portal,
		Trainers:      r.Trainers,
	}, true
}
