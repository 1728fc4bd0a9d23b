// CLAUDE:SUMMARY Das Spiel trainer discovery over the booking-data endpoint, with breadth caps and cross-court dedupe.
package dasspiel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

// bookingData is the wire shape of the /calendar/booking-data/ endpoint.
// The portal reports success as the number 1, not a string.
type bookingData struct {
	Status int `json:"status"`
	Data   struct {
		SquareName  string `json:"square_name"`
		TrainerData []struct {
			TimeStart string `json:"time_start"`
			TimeEnd   string `json:"time_end"`
			Price     string `json:"price"`
			Trainers  []struct {
				Name string `json:"name"`
			} `json:"trainers"`
		} `json:"trainer_data"`
	} `json:"data"`
}

// FetchTrainers probes the booking-data endpoint for trainer availability.
// The endpoint is per-court and per-start-time, so the scan is capped: at
// most MaxCourts courts and one probe every TrainerHourStep hours. The same
// trainer offer shows up on several courts; offers are deduplicated by their
// time window plus the sorted trainer names.
func (a *Adapter) FetchTrainers(ctx context.Context, q portal.Query, cred *portal.Credential) ([]portal.RawSlot, error) {
	client, err := a.login(ctx, cred)
	if err != nil {
		return nil, err
	}
	courts, err := a.fetchCalendarWith(ctx, client, q.Date)
	if err != nil {
		return nil, err
	}
	if max := a.limiter.MaxCourts(); len(courts) > max {
		courts = courts[:max]
	}

	fromHour := portal.MinutesOf(q.StartTime) / 60
	untilHour := portal.MinutesOf(q.EndTime) / 60
	step := a.limiter.TrainerHourStep()

	wantName := strings.ToLower(strings.TrimSpace(q.TrainerName))

	seen := make(map[string]bool)
	var out []portal.RawSlot
	for _, court := range courts {
		for hour := fromHour; hour < untilHour; hour += step {
			data, err := a.fetchBookingData(ctx, client, q.Date, fmt.Sprintf("%02d:00", hour), court.UUID)
			if err != nil {
				return nil, err
			}
			if data.Status != 1 {
				continue
			}
			for _, offer := range data.Data.TrainerData {
				names := trainerNames(offer.Trainers)
				if len(names) == 0 {
					continue
				}
				if wantName != "" && !matchesTrainer(names, wantName) {
					continue
				}
				key := offer.TimeStart + "|" + offer.TimeEnd + "|" + strings.Join(names, ",")
				if seen[key] {
					continue
				}
				seen[key] = true

				start, errS := portal.CanonicalTime(offer.TimeStart)
				end, errE := portal.CanonicalTime(offer.TimeEnd)
				if errS != nil || errE != nil {
					continue
				}
				slot := portal.RawSlot{
					Portal:    PortalKey,
					Venue:     VenueName,
					CourtName: data.Data.SquareName,
					Date:      q.Date,
					TimeStart: start,
					TimeEnd:   end,
					RawPrice:  offer.Price,
					IndoorOut: indoorOutdoor(data.Data.SquareName),
					SquareID:  court.UUID,
				}
				for _, n := range names {
					slot.Trainers = append(slot.Trainers, portal.TrainerRef{Name: n})
				}
				out = append(out, slot)
			}
		}
	}
	a.cfg.Logger.Debug("dasspiel: trainer scan done", "date", q.Date, "offers", len(out))
	return out, nil
}

func (a *Adapter) fetchBookingData(ctx context.Context, client *http.Client, date, timeStart, squareID string) (*bookingData, error) {
	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return nil, err
	}

	params := url.Values{}
	params.Set("date", date)
	params.Set("time_start", timeStart)
	params.Set("square_id", squareID)
	params.Set("is_half_hour", "0")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		a.cfg.BaseURL+"/calendar/booking-data/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("dasspiel: new booking-data request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Referer", a.cfg.BaseURL+"/?date="+date)

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()
	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var data bookingData
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&data); err != nil {
		return nil, fmt.Errorf("dasspiel: decode booking-data: %w", err)
	}
	return &data, nil
}

func trainerNames(trainers []struct {
	Name string `json:"name"`
}) []string {
	var names []string
	for _, t := range trainers {
		if n := strings.TrimSpace(t.Name); n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

func matchesTrainer(names []string, want string) bool {
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), want) {
			return true
		}
	}
	return false
}
