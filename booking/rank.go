// CLAUDE:SUMMARY Preference scoring from the selection stream: weighted venue, time-of-day, weekday and price affinity.
package booking

import (
	"sort"
	"time"

	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/store"
)

// Attribute weights. Venue loyalty dominates, the preferred hour of day
// comes next, weekday habit and price sensitivity trail.
const (
	weightVenue     = 3.0
	weightTimeOfDay = 2.0
	weightDayOfWeek = 1.5
	weightPrice     = 1.0
	maxScore        = weightVenue + weightTimeOfDay + weightDayOfWeek + weightPrice

	// minSelections is how much history the model needs before it marks
	// anything preferred. Below it, scores are informational noise.
	minSelections = 5
)

// profile is the aggregated selection stream of one user.
type profile struct {
	total      int
	venues     map[string]float64 // fraction of selections per venue
	timesOfDay map[string]float64
	daysOfWeek map[string]float64
	avgPrice   float64 // 0 = no priced selections
}

// Rank scores slots against the user's selection history and orders them
// best first. With fewer than minSelections events the input order (date,
// then time) is preserved and nothing is marked preferred.
func Rank(slots []Slot, selections []store.Selection) []RankedSlot {
	out := make([]RankedSlot, len(slots))
	for i, s := range slots {
		out[i] = RankedSlot{Slot: s}
	}
	p := buildProfile(selections)
	if p.total < minSelections {
		return out
	}

	for i := range out {
		out[i].Score = p.score(out[i].Slot)
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
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

	// Preferred goes to the top slot. Score ties resolve to the earliest
	// start, which the stable sort already places first.
	if len(out) > 0 && out[0].Score > 0 {
		out[0].Preferred = true
	}
	return out
}

// Summarize renders a user's profile for display.
func Summarize(selections []store.Selection) PreferenceSummary {
	p := buildProfile(selections)
	sum := PreferenceSummary{
		Selections: p.total,
		Active:     p.total >= minSelections,
	}
	if p.total == 0 {
		return sum
	}
	sum.Venues = p.venues
	sum.TimesOfDay = p.timesOfDay
	sum.DaysOfWeek = p.daysOfWeek
	if p.avgPrice > 0 {
		avg := p.avgPrice
		sum.AvgPrice = &avg
	}
	return sum
}

func buildProfile(selections []store.Selection) profile {
	p := profile{
		venues:     make(map[string]float64),
		timesOfDay: make(map[string]float64),
		daysOfWeek: make(map[string]float64),
	}
	var priced int
	var priceSum float64
	for _, sel := range selections {
		p.total++
		p.venues[sel.Venue]++
		p.timesOfDay[timeOfDay(sel.TimeStart)]++
		if wd, ok := weekday(sel.Date); ok {
			p.daysOfWeek[wd]++
		}
		if sel.Price != nil && *sel.Price > 0 {
			priced++
			priceSum += *sel.Price
		}
	}
	if p.total > 0 {
		n := float64(p.total)
		for k := range p.venues {
			p.venues[k] /= n
		}
		for k := range p.timesOfDay {
			p.timesOfDay[k] /= n
		}
		for k := range p.daysOfWeek {
			p.daysOfWeek[k] /= n
		}
	}
	if priced > 0 {
		p.avgPrice = priceSum / float64(priced)
	}
	return p
}

// score is the weighted affinity between a slot and the profile, scaled
// into [0, 1].
func (p profile) score(s Slot) float64 {
	total := weightVenue * p.venues[s.Venue]
	total += weightTimeOfDay * p.timesOfDay[timeOfDay(s.StartTime)]
	if wd, ok := weekday(s.Date); ok {
		total += weightDayOfWeek * p.daysOfWeek[wd]
	}
	if s.Price != nil && *s.Price > 0 && p.avgPrice > 0 {
		if *s.Price <= p.avgPrice {
			total += weightPrice
		} else {
			total += weightPrice * p.avgPrice / *s.Price
		}
	}
	return total / maxScore
}

// timeOfDay buckets a canonical HH:MM start: morning before 12:00,
// afternoon before 17:00, evening after.
func timeOfDay(start string) string {
	h := portal.MinutesOf(start) / 60
	switch {
	case h < 12:
		return "morning"
	case h < 17:
		return "afternoon"
	default:
		return "evening"
	}
}

func weekday(date string) (string, bool) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return "", false
	}
	return t.Weekday().String(), true
}
