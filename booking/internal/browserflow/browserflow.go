// CLAUDE:SUMMARY Chrome-driven booking execution via Rod with stealth: login, grid click-through, confirmation wait.
// Package browserflow executes bookings through a real Chrome instance for
// portals whose booking endpoint rejects plain HTTP clients. It is an
// execution strategy only: availability reads stay on HTTP, Chrome is
// brought up lazily for the rare terminal booking step.
package browserflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

// Config configures the Booker.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// BaseURL is the portal root the flow navigates.
	BaseURL string

	// Headless controls the local launcher. Default: true.
	Headful bool

	// Timeout bounds one booking flow end to end. Default: 2m.
	Timeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Timeout <= 0 {
		c.Timeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Booker drives one booking at a time through Chrome. Flows are serialized:
// a shared browser profile holds one portal session, and interleaved flows
// would race on it.
type Booker struct {
	cfg Config

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
}

// New creates a Booker. Chrome is not launched until the first booking.
func New(cfg Config) *Booker {
	cfg.defaults()
	return &Booker{cfg: cfg}
}

// connect launches or attaches Chrome. Caller holds b.mu.
func (b *Booker) connect() (*rod.Browser, error) {
	if b.browser != nil {
		return b.browser, nil
	}

	wsURL := b.cfg.RemoteURL
	if wsURL == "" {
		b.lnch = launcher.New().Headless(!b.cfg.Headful)
		u, err := b.lnch.Launch()
		if err != nil {
			return nil, fmt.Errorf("browserflow: launch chrome: %w", err)
		}
		wsURL = u
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("browserflow: connect chrome: %w", err)
	}
	b.browser = br
	b.cfg.Logger.Info("browserflow: chrome connected", "remote", b.cfg.RemoteURL != "")
	return br, nil
}

// Close shuts Chrome down. Safe to call once at process exit.
func (b *Booker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		if err := b.browser.Close(); err != nil {
			return err
		}
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}

// ExecuteBooking runs the full click-through: sign in, open the day grid,
// click the slot, accept the terms, confirm. Once the confirm button has
// been clicked the outcome can no longer be "not booked": a timeout past
// that point reports ambiguous, never failure.
func (b *Booker) ExecuteBooking(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error) {
	if req.Credential == nil || req.Credential.Username == "" || req.Credential.Password == "" {
		return portal.OutcomeNotFound, fmt.Errorf("%w: browserflow: missing credentials", portal.ErrAuth)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	br, err := b.connect()
	if err != nil {
		return portal.OutcomeNotFound, err
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	defer cancel()

	page, err := stealth.Page(br)
	if err != nil {
		return portal.OutcomeNotFound, fmt.Errorf("browserflow: create page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := b.signIn(page, req.Credential); err != nil {
		return portal.OutcomeNotFound, err
	}

	confirmed, err := b.clickThrough(page, req.Slot)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return portal.OutcomeAmbiguous, nil
		}
		return portal.OutcomeNotFound, err
	}
	if !confirmed {
		// The slot cell was gone from the grid.
		return portal.OutcomeNotFound, nil
	}

	b.cfg.Logger.Info("browserflow: booking flow completed",
		"date", req.Slot.Date, "time", req.Slot.TimeStart, "court", req.Slot.CourtName)
	return portal.OutcomeApplied, nil
}

// signIn fills the portal's sign-in form and waits for the session to take.
func (b *Booker) signIn(page *rod.Page, cred *portal.Credential) error {
	if err := page.Navigate(b.cfg.BaseURL + "/signin"); err != nil {
		return fmt.Errorf("%w: browserflow: navigate signin: %v", portal.ErrNetwork, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: browserflow: load signin: %v", portal.ErrNetwork, err)
	}

	email, err := page.Element(`input[type="email"], input[name="email"]`)
	if err != nil {
		return fmt.Errorf("browserflow: email field: %w", err)
	}
	if err := email.Input(cred.Username); err != nil {
		return fmt.Errorf("browserflow: fill email: %w", err)
	}
	pw, err := page.Element(`input[type="password"]`)
	if err != nil {
		return fmt.Errorf("browserflow: password field: %w", err)
	}
	if err := pw.Input(cred.Password); err != nil {
		return fmt.Errorf("browserflow: fill password: %w", err)
	}
	submit, err := page.Element(`button[type="submit"], input[type="submit"]`)
	if err != nil {
		return fmt.Errorf("browserflow: submit button: %w", err)
	}
	if err := submit.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return fmt.Errorf("browserflow: click submit: %w", err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("%w: browserflow: post-login load: %v", portal.ErrNetwork, err)
	}

	info, err := page.Info()
	if err != nil {
		return fmt.Errorf("browserflow: page info: %w", err)
	}
	if strings.Contains(strings.ToLower(info.URL), "signin") {
		return fmt.Errorf("%w: browserflow: login rejected", portal.ErrAuth)
	}
	return nil
}

// clickThrough opens the day grid and walks the booking dialog. Returns
// false when the slot cell is no longer on the grid.
func (b *Booker) clickThrough(page *rod.Page, slot portal.RawSlot) (bool, error) {
	if err := page.Navigate(b.cfg.BaseURL + "/?date=" + slot.Date); err != nil {
		return false, fmt.Errorf("%w: browserflow: navigate day grid: %v", portal.ErrNetwork, err)
	}
	if err := page.WaitLoad(); err != nil {
		return false, fmt.Errorf("%w: browserflow: load day grid: %v", portal.ErrNetwork, err)
	}

	cellSel := fmt.Sprintf(`[data-court=%q][data-time=%q]`, slot.SquareID, slot.TimeStart)
	cell, err := page.Timeout(10 * time.Second).Element(cellSel)
	if err != nil {
		// Not rendered: taken since the availability read.
		return false, nil
	}
	if err := cell.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("browserflow: click slot cell: %w", err)
	}

	rent, err := page.ElementR("button", "Platz mieten")
	if err != nil {
		return false, fmt.Errorf("browserflow: rent button: %w", err)
	}
	if err := rent.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("browserflow: click rent: %w", err)
	}

	agb, err := page.Element(`input[name="agb_accepted"], input[type="checkbox"]`)
	if err != nil {
		return false, fmt.Errorf("browserflow: terms checkbox: %w", err)
	}
	if err := agb.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("browserflow: accept terms: %w", err)
	}

	confirm, err := page.ElementR("button", "verbindlich reservieren")
	if err != nil {
		return false, fmt.Errorf("browserflow: confirm button: %w", err)
	}
	if err := confirm.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return false, fmt.Errorf("browserflow: click confirm: %w", err)
	}

	// Past the point of no return: any failure from here is ambiguous.
	if _, err := page.ElementR("body", "reserviert|Reservierung"); err != nil {
		return false, context.DeadlineExceeded
	}
	return true, nil
}
