// CLAUDE:SUMMARY PostSV adapter: Contao login, scroll-table day-page parsing, second-of-day slot links.
// Package postsv implements the portal adapter for the PostSV court
// reservation site. The site is a Contao CMS installation: classic form
// login, server-rendered reservation table, and one form POST per booking.
// All reads require a logged-in session.
package postsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/platz/booking/internal/htmlq"
	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/throttle"
)

// PortalKey is the stable identity key for this portal.
const PortalKey = "postsv"

// VenueName is the display name used on canonical slots.
const VenueName = "PostSV Tennisanlage"

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// maxLoginAttempts bounds session re-establishment when the portal
// redirects an expired session back to the login page.
const maxLoginAttempts = 2

// Config configures the adapter.
type Config struct {
	BaseURL   string        // portal root, no trailing slash
	DayPath   string        // day page path. Default: /tennis.html
	LoginPath string        // login page path. Default: /login.html
	UserAgent string        // default: desktop Chrome UA
	Timeout   time.Duration // per-request timeout. Default: 30s.
	Logger    *slog.Logger
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.DayPath == "" {
		c.DayPath = "/tennis.html"
	}
	if c.LoginPath == "" {
		c.LoginPath = "/login.html"
	}
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

// Adapter is the PostSV portal adapter.
type Adapter struct {
	cfg     Config
	limiter *throttle.Limiter

	mu       sync.Mutex
	sessions map[string]*session
}

// session is one credential's authenticated state: its own cookie jar and
// login flag. Sessions are keyed by username and never shared, so one
// user's reads and bookings can never ride another user's login.
type session struct {
	client *http.Client

	mu       sync.Mutex
	loggedIn bool
}

func (s *session) ok() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loggedIn
}

func (s *session) drop() {
	s.mu.Lock()
	s.loggedIn = false
	s.mu.Unlock()
}

// New creates a PostSV adapter gated by the given limiter.
func New(cfg Config, limiter *throttle.Limiter) *Adapter {
	cfg.defaults()
	return &Adapter{
		cfg:      cfg,
		limiter:  limiter,
		sessions: make(map[string]*session),
	}
}

// session returns the per-credential session, creating it on first use.
func (a *Adapter) session(cred *portal.Credential) *session {
	key := ""
	if cred != nil {
		key = cred.Username
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.sessions[key]
	if !ok {
		jar, _ := cookiejar.New(nil)
		s = &session{client: &http.Client{Timeout: a.cfg.Timeout, Jar: jar}}
		a.sessions[key] = s
	}
	return s
}

func (a *Adapter) Name() string  { return PortalKey }
func (a *Adapter) Venue() string { return VenueName }

// RequiresCredentials is true: even the reservation table is behind login.
func (a *Adapter) RequiresCredentials() bool { return true }

// --- Session ---

// login performs the Contao member login on the given session. Contao
// validates the Referer header and answers a successful login with a
// redirect away from the login page; a failed login redirects back to it.
func (a *Adapter) login(ctx context.Context, s *session, cred *portal.Credential) error {
	if cred == nil || cred.Username == "" || cred.Password == "" {
		return fmt.Errorf("%w: postsv: missing credentials", portal.ErrAuth)
	}
	if err := a.limiter.Wait(ctx, PortalKey); err != nil {
		return err
	}

	loginURL := a.cfg.BaseURL + a.cfg.LoginPath
	form := url.Values{}
	form.Set("FORM_SUBMIT", "tl_login")
	form.Set("username", cred.Username)
	form.Set("password", cred.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("postsv: new login request: %w", err)
	}
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", loginURL)

	resp, err := s.client.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if err := classifyStatus(resp.StatusCode); err != nil {
		return err
	}

	// resp.Request.URL is the final URL after redirects.
	if strings.Contains(strings.ToLower(resp.Request.URL.Path), "login") {
		return fmt.Errorf("%w: postsv: login rejected", portal.ErrAuth)
	}

	s.mu.Lock()
	s.loggedIn = true
	s.mu.Unlock()
	a.cfg.Logger.Debug("postsv: login ok", "user", cred.Username)
	return nil
}

// getPage fetches a page inside the member area on the credential's own
// session, re-logging-in when the portal bounces an expired session to the
// login page. Attempts are bounded.
func (a *Adapter) getPage(ctx context.Context, pageURL string, cred *portal.Credential) (*html.Node, error) {
	s := a.session(cred)
	for attempt := 0; attempt < maxLoginAttempts; attempt++ {
		if !s.ok() {
			if err := a.login(ctx, s, cred); err != nil {
				return nil, err
			}
		}
		if err := a.limiter.Wait(ctx, PortalKey); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("postsv: new request: %w", err)
		}
		req.Header.Set("User-Agent", a.cfg.UserAgent)
		req.Header.Set("Referer", a.cfg.BaseURL+"/")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, classifyTransport(err)
		}
		if strings.Contains(strings.ToLower(resp.Request.URL.Path), "login") {
			resp.Body.Close()
			s.drop()
			continue
		}
		if err := classifyStatus(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}
		doc, err := html.Parse(io.LimitReader(resp.Body, 10<<20))
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("postsv: parse html: %w", err)
		}
		return doc, nil
	}
	return nil, fmt.Errorf("%w: postsv: session expired and re-login failed", portal.ErrAuth)
}

// --- Day page ---

func (a *Adapter) dayURL(date string) string {
	return a.cfg.BaseURL + a.cfg.DayPath + "?day=" + strings.ReplaceAll(date, "-", "")
}

// FetchAvailability loads the reservation table for the query date and
// returns the free cells inside the query window.
func (a *Adapter) FetchAvailability(ctx context.Context, q portal.Query, cred *portal.Credential) ([]portal.RawSlot, error) {
	doc, err := a.getPage(ctx, a.dayURL(q.Date), cred)
	if err != nil {
		return nil, err
	}
	slots := parseDayPage(doc, q.Date)

	from := portal.MinutesOf(q.StartTime)
	until := portal.MinutesOf(q.EndTime)
	var out []portal.RawSlot
	for _, s := range slots {
		m := portal.MinutesOf(s.TimeStart)
		if m >= from && m < until {
			out = append(out, s)
		}
	}
	a.cfg.Logger.Debug("postsv: availability fetched", "date", q.Date, "free_slots", len(out))
	return out, nil
}

var priceRe = regexp.MustCompile(`€\s*([\d]+(?:,\d+)?)`)

// parseDayPage walks the scroll-table. Each row carries the court name in a
// td.ressourcename cell; free slots are td.reservationcell.free cells whose
// reservation link encodes the start time as seconds of day in its query.
func parseDayPage(doc *html.Node, date string) []portal.RawSlot {
	table := htmlq.Find(doc, htmlq.ByTagClass("table", "scroll-table"))
	if table == nil {
		return nil
	}

	var out []portal.RawSlot
	for _, row := range htmlq.FindAll(table, htmlq.ByTag("tr")) {
		nameCell := htmlq.Find(row, htmlq.ByTagClass("td", "ressourcename"))
		if nameCell == nil {
			continue
		}
		court := strings.TrimSpace(htmlq.Text(nameCell))
		if court == "" {
			continue
		}

		for _, cell := range htmlq.FindAll(row, htmlq.ByTagClass("td", "reservationcell")) {
			if !htmlq.HasClass(cell, "free") {
				continue
			}
			link := htmlq.Find(cell, htmlq.ByTagClass("a", "reservationlink"))
			if link == nil {
				continue
			}
			start, ok := startFromHref(htmlq.Attr(link, "href"))
			if !ok {
				continue
			}
			out = append(out, portal.RawSlot{
				Portal:      PortalKey,
				Venue:       VenueName,
				CourtName:   court,
				Date:        date,
				TimeStart:   start,
				TimeEnd:     addHour(start),
				RawPrice:    priceFromTitle(htmlq.Attr(link, "title")),
				IndoorOut:   "Outdoor",
				BookingLink: htmlq.Attr(link, "href"),
			})
		}
	}
	return out
}

// startFromHref decodes the time query parameter (seconds since midnight)
// of a reservation link into a canonical HH:MM start time.
func startFromHref(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	secs, err := strconv.Atoi(u.Query().Get("time"))
	if err != nil || secs < 0 || secs >= 24*3600 {
		return "", false
	}
	return fmt.Sprintf("%02d:%02d", secs/3600, secs%3600/60), true
}

func priceFromTitle(title string) string {
	m := priceRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1]
}

func addHour(start string) string {
	m := portal.MinutesOf(start) + 60
	return fmt.Sprintf("%02d:%02d", m/60%24, m%60)
}

// --- HTTP plumbing ---

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
