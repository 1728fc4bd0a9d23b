package postsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hazyhaar/platz/booking/internal/htmlq"
	"github.com/hazyhaar/platz/booking/internal/portal"
)

// ExecuteBooking follows the slot's reservation link, harvests the Contao
// form it renders, and posts it back unchanged. The portal redirects to a
// confirmation page on success; the final URL is the only reliable signal.
func (a *Adapter) ExecuteBooking(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error) {
	link := req.Slot.BookingLink
	if link == "" {
		// Re-locate the cell; the slot may come from a stored identity
		// rather than a live fetch.
		found, err := a.findLiveSlot(ctx, req)
		if err != nil {
			return portal.OutcomeNotFound, err
		}
		if found == nil {
			return portal.OutcomeNotFound, nil
		}
		link = found.BookingLink
	}
	formURL := a.absoluteURL(link)

	doc, err := a.getPage(ctx, formURL, req.Credential)
	if err != nil {
		return portal.OutcomeNotFound, fmt.Errorf("postsv: load reservation form: %w", err)
	}
	form := htmlq.Find(doc, htmlq.ByTag("form"))
	if form == nil {
		// The link resolved but no form rendered: the slot was taken in
		// the meantime.
		return portal.OutcomeNotFound, nil
	}

	values := url.Values{}
	for k, v := range htmlq.FormValues(form) {
		values.Set(k, v)
	}
	postURL := formURL
	if action := htmlq.Attr(form, "action"); action != "" {
		postURL = a.absoluteURL(action)
	}

	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return portal.OutcomeNotFound, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, postURL, strings.NewReader(values.Encode()))
	if err != nil {
		return portal.OutcomeNotFound, fmt.Errorf("postsv: new booking request: %w", err)
	}
	httpReq.Header.Set("User-Agent", a.cfg.UserAgent)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Referer", formURL)

	resp, err := a.session(req.Credential).client.Do(httpReq)
	if err != nil {
		// The POST may have landed before the deadline hit.
		if errors.Is(err, context.DeadlineExceeded) {
			return portal.OutcomeAmbiguous, nil
		}
		return portal.OutcomeNotFound, classifyTransport(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if err := classifyStatus(resp.StatusCode); err != nil {
		return portal.OutcomeNotFound, err
	}

	final := strings.ToLower(resp.Request.URL.String())
	switch {
	case strings.Contains(final, "fehler") || strings.Contains(final, "error"):
		return portal.OutcomeNotFound, nil
	case strings.Contains(final, "reservierung"):
		a.cfg.Logger.Info("postsv: booking placed",
			"date", req.Slot.Date, "time", req.Slot.TimeStart, "court", req.Slot.CourtName)
		return portal.OutcomeApplied, nil
	default:
		// Neither confirmation nor error marker: the portal changed its
		// flow, or the booking landed on an unexpected page.
		return portal.OutcomeAmbiguous, nil
	}
}

// VerifyBooking re-reads the day page. The portal offers no per-member
// booking list on the reservation table, so corroboration is limited to the
// cell no longer being free at the exact requested time.
func (a *Adapter) VerifyBooking(ctx context.Context, req portal.ExecRequest) (bool, error) {
	doc, err := a.getPage(ctx, a.dayURL(req.Slot.Date), req.Credential)
	if err != nil {
		return false, err
	}
	want, err := portal.CanonicalTime(req.Slot.TimeStart)
	if err != nil {
		return false, fmt.Errorf("postsv: verify: %w", err)
	}
	for _, s := range parseDayPage(doc, req.Slot.Date) {
		if s.CourtName == req.Slot.CourtName && portal.TimeMatches(s.TimeStart, want) {
			// Still listed free: the booking did not take.
			return false, nil
		}
	}
	return true, nil
}

// findLiveSlot re-fetches the day page and locates the cell matching the
// request by court name and exact canonical start time.
func (a *Adapter) findLiveSlot(ctx context.Context, req portal.ExecRequest) (*portal.RawSlot, error) {
	doc, err := a.getPage(ctx, a.dayURL(req.Slot.Date), req.Credential)
	if err != nil {
		return nil, err
	}
	want, err := portal.CanonicalTime(req.Slot.TimeStart)
	if err != nil {
		return nil, fmt.Errorf("postsv: %w", err)
	}
	for _, s := range parseDayPage(doc, req.Slot.Date) {
		if s.CourtName == req.Slot.CourtName && portal.TimeMatches(s.TimeStart, want) {
			return &s, nil
		}
	}
	return nil, nil
}

func (a *Adapter) absoluteURL(link string) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if !strings.HasPrefix(link, "/") {
		link = "/" + link
	}
	return a.cfg.BaseURL + link
}
