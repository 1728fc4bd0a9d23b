// CLAUDE:SUMMARY Das Spiel (Arsenal) session adapter: calendar meta-tag JSON parsing and free-slot grid generation.
// Package dasspiel implements the portal adapter for reservierung.dasspiel.at
// (Tenniszentrum Arsenal). Availability reads are anonymous: the SPA embeds
// the full day calendar as JSON in a meta tag. Booking and trainer reads
// require a CSRF-protected JSON sign-in.
package dasspiel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/platz/booking/internal/htmlq"
	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/throttle"
)

// PortalKey is the stable identity key for this portal.
const PortalKey = "dasspiel"

// VenueName is the display name used on canonical slots.
const VenueName = "Tenniszentrum Arsenal (Das Spiel)"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// ExecStrategy performs the terminal booking step. The default is the HTTP
// form flow; a browser automation strategy can be selected at construction
// for deployments where the SPA endpoint rejects non-browser clients.
type ExecStrategy interface {
	ExecuteBooking(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error)
}

// Config configures the adapter.
type Config struct {
	BaseURL   string        // default: https://reservierung.dasspiel.at
	UserAgent string        // default: desktop Chrome UA
	Timeout   time.Duration // per-request timeout. Default: 30s.
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://reservierung.dasspiel.at"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Adapter is the Das Spiel portal adapter.
type Adapter struct {
	cfg     Config
	client  *http.Client // anonymous reads only; login issues per-call clients
	limiter *throttle.Limiter
	exec    ExecStrategy // nil = HTTP strategy
}

// Option configures an Adapter during creation.
type Option func(*Adapter)

// WithExecStrategy selects a non-default booking execution strategy
// (browser automation). Chosen once at construction, per the portal.
func WithExecStrategy(s ExecStrategy) Option {
	return func(a *Adapter) { a.exec = s }
}

// New creates a Das Spiel adapter gated by the given limiter.
func New(cfg Config, limiter *throttle.Limiter, opts ...Option) *Adapter {
	cfg.defaults()
	jar, _ := cookiejar.New(nil)
	a := &Adapter{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		limiter: limiter,
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *Adapter) Name() string  { return PortalKey }
func (a *Adapter) Venue() string { return VenueName }

// RequiresCredentials is false: the day calendar is public.
func (a *Adapter) RequiresCredentials() bool { return false }

// --- Calendar wire format ---

// courtCalendar is one court's day calendar from the transfer-data meta tag.
type courtCalendar struct {
	UUID      string   `json:"uuid"`
	Name      string   `json:"name"`
	TimeStart string   `json:"time_start"` // court opening, "07:00:00"
	TimeEnd   string   `json:"time_end"`   // court closing, "22:00:00"
	Timeblock int      `json:"timeblock"`  // slot length in minutes
	Rentals   []rental `json:"rentals"`
}

type rental struct {
	TimeStart    string `json:"time_start"`
	TimeEnd      string `json:"time_end"`
	IsOwnBooking bool   `json:"is_own_booking"`
}

// FetchAvailability reads the day calendar and derives the free slots inside
// the query window. No login needed.
func (a *Adapter) FetchAvailability(ctx context.Context, q portal.Query, _ *portal.Credential) ([]portal.RawSlot, error) {
	courts, err := a.fetchCalendar(ctx, q.Date)
	if err != nil {
		return nil, err
	}

	var out []portal.RawSlot
	for _, court := range courts {
		out = append(out, a.freeSlots(court, q)...)
	}
	a.cfg.Logger.Debug("dasspiel: availability fetched",
		"date", q.Date, "courts", len(courts), "free_slots", len(out))
	return out, nil
}

// freeSlots walks the court's timeblock grid inside the intersection of the
// court's opening hours and the query window, skipping rented blocks.
func (a *Adapter) freeSlots(court courtCalendar, q portal.Query) []portal.RawSlot {
	block := court.Timeblock
	if block <= 0 {
		block = 60
	}

	courtOpen, err1 := portal.CanonicalTime(court.TimeStart)
	courtClose, err2 := portal.CanonicalTime(court.TimeEnd)
	if err1 != nil || err2 != nil {
		return nil
	}

	from := portal.MinutesOf(q.StartTime)
	if open := portal.MinutesOf(courtOpen); open > from {
		from = open
	}
	until := portal.MinutesOf(q.EndTime)
	if closeAt := portal.MinutesOf(courtClose); closeAt < until {
		until = closeAt
	}

	// Rented blocks, keyed by canonical start time of each occupied hour.
	booked := make(map[string]bool)
	for _, r := range court.Rentals {
		rs, errS := portal.CanonicalTime(r.TimeStart)
		re, errE := portal.CanonicalTime(r.TimeEnd)
		if errS != nil || errE != nil {
			continue
		}
		for m := portal.MinutesOf(rs); m < portal.MinutesOf(re); m += block {
			booked[minutesToClock(m)] = true
		}
	}

	var out []portal.RawSlot
	for m := from; m+block <= until; m += block {
		start := minutesToClock(m)
		if booked[start] {
			continue
		}
		out = append(out, portal.RawSlot{
			Portal:    PortalKey,
			Venue:     VenueName,
			CourtName: court.Name,
			Date:      q.Date,
			TimeStart: start,
			TimeEnd:   minutesToClock(m + block),
			RawPrice:  "", // calendar carries no price
			IndoorOut: indoorOutdoor(court.Name),
			SquareID:  court.UUID,
		})
	}
	return out
}

func minutesToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

// indoorOutdoor classifies a court by its name: the hall courts carry
// "HALLE" in their label.
func indoorOutdoor(courtName string) string {
	if strings.Contains(strings.ToUpper(courtName), "HALLE") {
		return "Indoor"
	}
	return "Outdoor"
}

// fetchCalendar GETs the day page anonymously and decodes the embedded
// calendar JSON.
func (a *Adapter) fetchCalendar(ctx context.Context, date string) ([]courtCalendar, error) {
	return a.fetchCalendarWith(ctx, a.client, date)
}

// fetchCalendarWith reads the day calendar on the given client. Logged-in
// flows pass their session client so is_own_booking is populated.
func (a *Adapter) fetchCalendarWith(ctx context.Context, client *http.Client, date string) ([]courtCalendar, error) {
	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return nil, err
	}

	doc, err := a.getHTMLWith(ctx, client, a.cfg.BaseURL+"/?date="+date, a.cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	return parseCalendar(doc)
}

// parseCalendar extracts the transfer-data-calendar meta tag. The HTML
// parser already decodes the &quot; entity escaping in the attribute.
func parseCalendar(doc *html.Node) ([]courtCalendar, error) {
	meta := htmlq.Find(doc, htmlq.ByTagAttr("meta", "id", "transfer-data-calendar"))
	if meta == nil {
		return nil, fmt.Errorf("dasspiel: calendar meta tag not found")
	}
	content := htmlq.Attr(meta, "data-content")
	if content == "" {
		return nil, fmt.Errorf("dasspiel: calendar meta tag empty")
	}

	var courts []courtCalendar
	if err := json.Unmarshal([]byte(content), &courts); err != nil {
		return nil, fmt.Errorf("dasspiel: decode calendar: %w", err)
	}
	return courts, nil
}

// --- HTTP plumbing ---

func (a *Adapter) getHTMLWith(ctx context.Context, client *http.Client, url, referer string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dasspiel: new request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	doc, err := html.Parse(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("dasspiel: parse html: %w", err)
	}
	return doc, nil
}

func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", portal.ErrNetwork, err)
}

func classifyStatus(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http %d", portal.ErrRateLimited, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: http %d", portal.ErrAuth, code)
	case code >= 400:
		return fmt.Errorf("%w: http %d", portal.ErrNetwork, code)
	}
	return nil
}
