// CLAUDE:SUMMARY Booking lifecycle state machine: verify against live availability, execute once, corroborate, never lie about unknowns.
// Package executor drives one booking attempt through its lifecycle:
// re-verify the slot against live availability, execute exactly once, then
// corroborate against portal state. The machine is deliberately pessimistic:
// whenever the portal's state cannot be established after the terminal call
// went out, the result is unknown, never a fabricated success or failure.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/platz/booking/internal/portal"
)

// Status is the terminal state of a booking attempt.
type Status int

const (
	StatusPending Status = iota
	StatusVerifying
	StatusExecuting
	StatusConfirmed // booked and corroborated on the portal
	StatusConflict  // slot not available; alternatives attached
	StatusFailed    // attempt failed before any effect could have landed
	StatusUnknown   // effect may have landed; portal state not establishable
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusVerifying:
		return "verifying"
	case StatusExecuting:
		return "executing"
	case StatusConfirmed:
		return "confirmed"
	case StatusConflict:
		return "conflict"
	case StatusFailed:
		return "failed"
	case StatusUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// ErrInFlight is returned when the user already has a booking attempt
// running. One attempt per user at a time; parallel attempts against the
// same portal session corrupt each other.
var ErrInFlight = errors.New("executor: booking already in flight for user")

// Request is one booking attempt.
type Request struct {
	UserID     string
	Slot       portal.RawSlot
	Credential *portal.Credential
}

// Result is the terminal outcome of a booking attempt.
type Result struct {
	Status  Status
	Message string

	// Live is the verified live slot the attempt executed against, with
	// the portal-enriched fields (price, indoor/outdoor, end time) the
	// request itself lacks. Zero when verification never found a match.
	Live portal.RawSlot

	// Alternatives carries the currently free slots when Status is
	// StatusConflict, so the caller can offer a retry without another
	// round trip.
	Alternatives []portal.RawSlot
}

// Config configures the Executor.
type Config struct {
	// VerifyRetries is how many extra availability fetches are attempted
	// when the first one fails with a retryable error. Default: 2.
	VerifyRetries int

	// RetryBackoff is the initial wait before a verify retry; it doubles
	// per attempt. Default: 500ms.
	RetryBackoff time.Duration

	// ExecuteTimeout bounds the execute plus corroborate phase. Default: 2m.
	ExecuteTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.VerifyRetries <= 0 {
		c.VerifyRetries = 2
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.ExecuteTimeout <= 0 {
		c.ExecuteTimeout = 2 * time.Minute
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Executor runs booking attempts with per-user exclusivity.
type Executor struct {
	cfg Config

	mu       sync.Mutex
	inflight map[string]bool

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an Executor.
func New(cfg Config) *Executor {
	cfg.defaults()
	return &Executor{
		cfg:      cfg,
		inflight: make(map[string]bool),
		sleep:    sleepCtx,
	}
}

// SetSleep replaces the backoff sleeper. Test hook only.
func (e *Executor) SetSleep(fn func(ctx context.Context, d time.Duration) error) {
	e.sleep = fn
}

// Run drives one attempt to a terminal status. The returned error is
// non-nil only when no terminal judgement could be formed (invalid input,
// exclusivity violation); portal-level failures land in Result.Status.
func (e *Executor) Run(ctx context.Context, adapter portal.Adapter, req Request) (Result, error) {
	if req.UserID == "" {
		return Result{}, fmt.Errorf("executor: empty user id")
	}
	if err := e.acquire(req.UserID); err != nil {
		return Result{}, err
	}
	defer e.release(req.UserID)

	log := e.cfg.Logger.With(
		"user", req.UserID,
		"portal", adapter.Name(),
		"date", req.Slot.Date,
		"time", req.Slot.TimeStart,
		"court", req.Slot.CourtName,
	)
	log.Info("booking attempt started", "status", StatusVerifying.String())

	live, res, done := e.verify(ctx, adapter, req, log)
	if done {
		return res, nil
	}

	log.Info("slot verified free", "status", StatusExecuting.String())
	res = e.execute(ctx, adapter, req, live, log)
	res.Live = live
	return res, nil
}

// verify re-fetches availability and locates the requested slot by exact
// identity. Returns (match, _, false) to proceed, or (_, result, true) for
// a terminal verdict.
func (e *Executor) verify(ctx context.Context, adapter portal.Adapter, req Request, log *slog.Logger) (portal.RawSlot, Result, bool) {
	// The window spans the whole day so a conflict verdict can carry
	// alternatives beyond the requested hour.
	q := portal.Query{
		Date:      req.Slot.Date,
		StartTime: "00:00",
		EndTime:   "23:59",
	}

	var slots []portal.RawSlot
	backoff := e.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		var err error
		slots, err = adapter.FetchAvailability(ctx, q, req.Credential)
		if err == nil {
			break
		}
		if errors.Is(err, portal.ErrAuth) {
			log.Warn("verification failed: credentials rejected")
			return portal.RawSlot{}, Result{
				Status:  StatusFailed,
				Message: "credentials rejected by the portal",
			}, true
		}
		if !portal.Retryable(err) || attempt >= e.cfg.VerifyRetries {
			log.Warn("verification failed", "error", err, "attempts", attempt+1)
			return portal.RawSlot{}, Result{
				Status:  StatusFailed,
				Message: fmt.Sprintf("could not verify availability: %v", err),
			}, true
		}
		if serr := e.sleep(ctx, backoff); serr != nil {
			return portal.RawSlot{}, Result{
				Status:  StatusFailed,
				Message: "cancelled during verification",
			}, true
		}
		backoff *= 2
	}

	want, err := portal.CanonicalTime(req.Slot.TimeStart)
	if err != nil {
		return portal.RawSlot{}, Result{
			Status:  StatusFailed,
			Message: fmt.Sprintf("invalid start time %q", req.Slot.TimeStart),
		}, true
	}
	for _, s := range slots {
		if s.CourtName == req.Slot.CourtName && portal.TimeMatches(s.TimeStart, want) {
			return s, Result{}, false
		}
	}

	log.Info("slot no longer available", "status", StatusConflict.String(), "alternatives", len(slots))
	return portal.RawSlot{}, Result{
		Status:       StatusConflict,
		Message:      fmt.Sprintf("%s at %s on %s is no longer available", req.Slot.CourtName, req.Slot.TimeStart, req.Slot.Date),
		Alternatives: slots,
	}, true
}

// execute fires the terminal booking call and corroborates the outcome.
// The phase runs detached from the caller's cancellation: once the call may
// have gone out, abandoning it would leave an unobserved booking behind.
func (e *Executor) execute(ctx context.Context, adapter portal.Adapter, req Request, live portal.RawSlot, log *slog.Logger) Result {
	execCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.ExecuteTimeout)
	defer cancel()

	outcome, err := adapter.ExecuteBooking(execCtx, portal.ExecRequest{
		Slot:       live,
		Credential: req.Credential,
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			log.Warn("execution timed out", "status", StatusUnknown.String())
			return Result{
				Status:  StatusUnknown,
				Message: "the portal did not answer in time; check your booking history before retrying",
			}
		}
		if errors.Is(err, portal.ErrAuth) {
			log.Warn("execution failed: credentials rejected")
			return Result{Status: StatusFailed, Message: "credentials rejected by the portal"}
		}
		log.Warn("execution failed", "error", err)
		return Result{Status: StatusFailed, Message: fmt.Sprintf("booking failed: %v", err)}
	}

	switch outcome {
	case portal.OutcomeNotFound:
		log.Info("slot vanished during execution", "status", StatusFailed.String())
		return Result{
			Status:  StatusFailed,
			Message: "the slot was taken while booking; no reservation was made",
		}
	case portal.OutcomeAmbiguous:
		log.Warn("execution outcome ambiguous", "status", StatusUnknown.String())
		return Result{
			Status:  StatusUnknown,
			Message: "the portal gave no clear answer; check your booking history before retrying",
		}
	}

	// Applied. Corroborate before claiming success.
	verified, err := adapter.VerifyBooking(execCtx, portal.ExecRequest{
		Slot:       live,
		Credential: req.Credential,
	})
	switch {
	case errors.Is(err, portal.ErrVerifyUnsupported):
		log.Info("portal cannot corroborate bookings", "status", StatusUnknown.String())
		return Result{
			Status:  StatusUnknown,
			Message: "the booking was submitted but this portal offers no confirmation; check your booking history",
		}
	case err != nil:
		log.Warn("corroboration failed", "error", err, "status", StatusUnknown.String())
		return Result{
			Status:  StatusUnknown,
			Message: "the booking was submitted but could not be confirmed; check your booking history",
		}
	case !verified:
		log.Warn("corroboration negative", "status", StatusUnknown.String())
		return Result{
			Status:  StatusUnknown,
			Message: "the booking was submitted but does not show on the portal yet; check your booking history",
		}
	}

	log.Info("booking confirmed", "status", StatusConfirmed.String())
	return Result{
		Status:  StatusConfirmed,
		Message: fmt.Sprintf("%s booked on %s at %s", live.CourtName, live.Date, live.TimeStart),
	}
}

func (e *Executor) acquire(userID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inflight[userID] {
		return ErrInFlight
	}
	e.inflight[userID] = true
	return nil
}

func (e *Executor) release(userID string) {
	e.mu.Lock()
	delete(e.inflight, userID)
	e.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
