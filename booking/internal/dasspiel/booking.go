// CLAUDE:SUMMARY Das Spiel booking execution over the form endpoint and verification against the rentals list.
package dasspiel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

// ExecuteBooking places a reservation. When a browser strategy was selected
// at construction the call is delegated to it; the default path drives the
// portal's booking/create form endpoint directly.
func (a *Adapter) ExecuteBooking(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error) {
	if a.exec != nil {
		return a.exec.ExecuteBooking(ctx, req)
	}
	return a.executeHTTP(ctx, req)
}

func (a *Adapter) executeHTTP(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error) {
	client, err := a.login(ctx, req.Credential)
	if err != nil {
		return portal.OutcomeNotFound, err
	}

	// The CSRF token rotates per session; read it off the day page we are
	// about to book on.
	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return portal.OutcomeNotFound, err
	}
	doc, err := a.getHTMLWith(ctx, client, a.cfg.BaseURL+"/?date="+req.Slot.Date, a.cfg.BaseURL)
	if err != nil {
		return portal.OutcomeNotFound, fmt.Errorf("dasspiel: load booking page: %w", err)
	}
	token := csrfToken(doc)
	if token == "" {
		return portal.OutcomeNotFound, fmt.Errorf("dasspiel: csrf token not found on booking page")
	}

	form := url.Values{}
	form.Set("_token", token)
	form.Set("date", req.Slot.Date)
	form.Set("time", req.Slot.TimeStart)
	form.Set("court", req.Slot.SquareID)
	form.Set("duration", "60")
	form.Set("agb_accepted", "1")

	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return portal.OutcomeNotFound, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.cfg.BaseURL+"/booking/create", strings.NewReader(form.Encode()))
	if err != nil {
		return portal.OutcomeNotFound, fmt.Errorf("dasspiel: new booking request: %w", err)
	}
	httpReq.Header.Set("User-Agent", a.cfg.UserAgent)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Referer", a.cfg.BaseURL+"/?date="+req.Slot.Date)

	resp, err := client.Do(httpReq)
	if err != nil {
		// The POST may have landed before the deadline hit. Never report
		// failure for an effect we cannot rule out.
		if errors.Is(err, context.DeadlineExceeded) {
			return portal.OutcomeAmbiguous, nil
		}
		return portal.OutcomeNotFound, classifyTransport(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.cfg.Logger.Info("dasspiel: booking placed",
			"date", req.Slot.Date, "time", req.Slot.TimeStart, "court", req.Slot.CourtName)
		return portal.OutcomeApplied, nil
	case resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusGone,
		resp.StatusCode == http.StatusUnprocessableEntity:
		// Slot taken between verify and execute.
		return portal.OutcomeNotFound, nil
	default:
		return portal.OutcomeNotFound, classifyStatus(resp.StatusCode)
	}
}

// VerifyBooking re-reads the day calendar and confirms a rental owned by the
// session exists on the requested court starting at the requested time.
// Requires a logged-in session so is_own_booking is populated.
func (a *Adapter) VerifyBooking(ctx context.Context, req portal.ExecRequest) (bool, error) {
	client, err := a.login(ctx, req.Credential)
	if err != nil {
		return false, err
	}
	courts, err := a.fetchCalendarWith(ctx, client, req.Slot.Date)
	if err != nil {
		return false, err
	}

	want, err := portal.CanonicalTime(req.Slot.TimeStart)
	if err != nil {
		return false, fmt.Errorf("dasspiel: verify: %w", err)
	}
	for _, court := range courts {
		if court.Name != req.Slot.CourtName {
			continue
		}
		for _, r := range court.Rentals {
			if !r.IsOwnBooking {
				continue
			}
			if portal.TimeMatches(r.TimeStart, want) {
				return true, nil
			}
		}
	}
	return false, nil
}
