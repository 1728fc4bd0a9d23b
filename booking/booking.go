// CLAUDE:SUMMARY Service facade: adapter wiring, fan-out search with partial results, exact-slot booking, history, preferences.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/platz/booking/internal/browserflow"
	"github.com/hazyhaar/platz/booking/internal/dasspiel"
	"github.com/hazyhaar/platz/booking/internal/executor"
	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/postsv"
	"github.com/hazyhaar/platz/booking/internal/store"
	"github.com/hazyhaar/platz/booking/internal/throttle"
	"github.com/hazyhaar/platz/kit"
)

// Schema is the service's persistence DDL, applied idempotently when the
// database is opened.
const Schema = store.Schema

// HistoryEntry is one past booking attempt, as exposed to callers.
type HistoryEntry struct {
	Portal    string    `json:"portal"`
	Venue     string    `json:"venue"`
	CourtName string    `json:"court_name"`
	Date      string    `json:"date"`
	TimeStart string    `json:"time_start"`
	TimeEnd   string    `json:"time_end,omitempty"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is the aggregation and booking facade.
type Service struct {
	cfg      *Config
	log      *slog.Logger
	store    *store.Store
	exec     *executor.Executor
	adapters map[string]portal.Adapter
	names    []string // adapter keys, sorted, for deterministic fan-in
	browser  *browserflow.Booker
}

// ServiceOption configures a Service during creation.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *Service) { s.log = log }
}

// WithExecutor replaces the booking executor.
func WithExecutor(e *executor.Executor) ServiceOption {
	return func(s *Service) { s.exec = e }
}

// WithAdapter registers or replaces a portal adapter under its key.
// Applied after the built-in adapters, so tests can swap in fakes.
func WithAdapter(key string, a portal.Adapter) ServiceOption {
	return func(s *Service) { s.adapters[key] = a }
}

// NewService wires the configured portal adapters behind one facade. The
// database must carry Schema; key seals credential secrets at rest.
func NewService(cfg *Config, db *sql.DB, key [32]byte, opts ...ServiceOption) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Service{
		cfg:      cfg,
		log:      slog.Default(),
		store:    store.New(db, key),
		adapters: make(map[string]portal.Adapter),
	}

	limiter := throttle.New(throttle.Config{
		MinInterval:     cfg.Throttle.MinInterval,
		PerPortal:       cfg.Throttle.PerPortal,
		MaxCourts:       cfg.Throttle.MaxCourts,
		TrainerHourStep: cfg.Throttle.TrainerHourStep,
	})

	if pc, ok := cfg.Portals[dasspiel.PortalKey]; ok && !pc.Disabled {
		var dsOpts []dasspiel.Option
		if pc.BookVia == "browser" {
			s.browser = browserflow.New(browserflow.Config{
				RemoteURL: cfg.Browser.RemoteURL,
				Headful:   cfg.Browser.Headful,
				BaseURL:   pc.BaseURL,
			})
			dsOpts = append(dsOpts, dasspiel.WithExecStrategy(s.browser))
		}
		s.adapters[dasspiel.PortalKey] = dasspiel.New(
			dasspiel.Config{BaseURL: pc.BaseURL}, limiter, dsOpts...)
	}
	if pc, ok := cfg.Portals[postsv.PortalKey]; ok && !pc.Disabled {
		s.adapters[postsv.PortalKey] = postsv.New(
			postsv.Config{BaseURL: pc.BaseURL}, limiter)
	}

	for _, o := range opts {
		o(s)
	}
	if s.exec == nil {
		s.exec = executor.New(executor.Config{Logger: s.log})
	}

	s.names = make([]string, 0, len(s.adapters))
	for k := range s.adapters {
		s.names = append(s.names, k)
	}
	sort.Strings(s.names)
	return s
}

// Close releases adapter resources (the Chrome instance, if one ran).
func (s *Service) Close() error {
	if s.browser != nil {
		return s.browser.Close()
	}
	return nil
}

// Portals lists the active portal keys.
func (s *Service) Portals() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// --- Search ---

// Search fans the query out to every active portal, normalizes and ranks
// the union. Portals that fail or lack credentials degrade the result to a
// partial one instead of failing the whole search; only a total blackout is
// an error.
func (s *Service) Search(ctx context.Context, userID string, q Query) ([]RankedSlot, error) {
	cq, err := canonicalQuery(q)
	if err != nil {
		return nil, err
	}

	targets := s.selectTargets(cq)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no portal matches the requested venues", ErrInvalidQuery)
	}

	buckets := make(map[string][]portal.RawSlot, len(targets))
	errsByPortal := make(map[string]error, len(targets))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, key := range targets {
		adapter := s.adapters[key]
		wg.Add(1)
		go func(key string, adapter portal.Adapter) {
			defer wg.Done()
			raw, err := s.fetchPortal(ctx, userID, adapter, cq)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errsByPortal[key] = err
				return
			}
			buckets[key] = raw
		}(key, adapter)
	}
	wg.Wait()

	for key, err := range errsByPortal {
		s.log.Warn("portal skipped", "portal", key, "error", err)
	}
	if len(errsByPortal) == len(targets) {
		return nil, fmt.Errorf("booking: all portals failed; first: %w", firstErr(errsByPortal, targets))
	}

	// Deterministic fan-in: concatenate in sorted portal order.
	var raw []portal.RawSlot
	for _, key := range targets {
		raw = append(raw, buckets[key]...)
	}
	slots := Normalize(raw, s.log)

	selections, err := s.store.Selections(ctx, userID)
	if err != nil {
		s.log.Warn("preference lookup failed; returning unranked", "error", err)
		selections = nil
	}
	return Rank(slots, selections), nil
}

// fetchPortal runs one portal's availability or trainer read, resolving
// credentials from the store when the portal needs them.
func (s *Service) fetchPortal(ctx context.Context, userID string, adapter portal.Adapter, q Query) ([]portal.RawSlot, error) {
	trainerSearch := q.Kind == "trainer"

	var cred *portal.Credential
	if adapter.RequiresCredentials() || trainerSearch {
		c, err := s.store.GetCredential(ctx, userID, adapter.Name())
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoCredential, adapter.Name())
		}
		if err != nil {
			return nil, err
		}
		cred = c
	}

	if trainerSearch {
		tf, ok := adapter.(portal.TrainerFinder)
		if !ok {
			return nil, nil // portal has no trainer offering
		}
		return tf.FetchTrainers(ctx, q, cred)
	}
	return adapter.FetchAvailability(ctx, q, cred)
}

// selectTargets resolves the query's venue filter to adapter keys.
func (s *Service) selectTargets(q Query) []string {
	if len(q.Venues) == 0 {
		return s.names
	}
	want := make(map[string]bool, len(q.Venues))
	for _, v := range q.Venues {
		want[v] = true
	}
	var out []string
	for _, key := range s.names {
		if want[key] || want[s.adapters[key].Venue()] {
			out = append(out, key)
		}
	}
	return out
}

// --- Booking ---

// Book drives one exact-slot booking attempt to a terminal status. The
// attempt is always recorded in the history, unknown outcomes included.
func (s *Service) Book(ctx context.Context, req BookingRequest) (BookingResult, error) {
	if req.UserID == "" || req.CourtName == "" {
		return BookingResult{}, fmt.Errorf("%w: user and court are required", ErrInvalidQuery)
	}
	if ctxUser := kit.GetUserID(ctx); ctxUser != "" && ctxUser != req.UserID {
		s.log.Warn("context user differs from request user",
			"ctx_user", ctxUser, "user", req.UserID)
	}
	if !portal.ValidDate(req.Date) {
		return BookingResult{}, fmt.Errorf("%w: bad date %q", ErrInvalidQuery, req.Date)
	}
	start, err := portal.CanonicalTime(req.TimeStart)
	if err != nil {
		return BookingResult{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	adapter, ok := s.adapters[req.Portal]
	if !ok {
		return BookingResult{}, fmt.Errorf("%w: %s", ErrUnknownPortal, req.Portal)
	}

	cred, err := s.store.GetCredential(ctx, req.UserID, req.Portal)
	if errors.Is(err, store.ErrNotFound) {
		return BookingResult{}, fmt.Errorf("%w: %s", ErrNoCredential, req.Portal)
	}
	if err != nil {
		return BookingResult{}, err
	}

	res, err := s.exec.Run(ctx, adapter, executor.Request{
		UserID: req.UserID,
		Slot: portal.RawSlot{
			Portal:    req.Portal,
			Venue:     adapter.Venue(),
			CourtName: req.CourtName,
			Date:      req.Date,
			TimeStart: start,
		},
		Credential: cred,
	})
	if errors.Is(err, executor.ErrInFlight) {
		return BookingResult{}, ErrBookingInFlight
	}
	if err != nil {
		return BookingResult{}, err
	}

	out := BookingResult{
		Status:       res.Status.String(),
		Message:      res.Message,
		Alternatives: Normalize(res.Alternatives, s.log),
	}
	s.log.Info("booking attempt finished",
		"user", req.UserID, "portal", req.Portal, "status", out.Status,
		"transport", kit.GetTransport(ctx))
	s.record(ctx, req, adapter, res, out)
	return out, nil
}

// record writes the attempt to the history and, on confirmation, appends a
// selection event feeding the preference model.
func (s *Service) record(ctx context.Context, req BookingRequest, adapter portal.Adapter, res executor.Result, out BookingResult) {
	if err := s.store.RecordBooking(ctx, store.HistoryEntry{
		UserID:    req.UserID,
		Portal:    req.Portal,
		Venue:     adapter.Venue(),
		CourtName: req.CourtName,
		Date:      req.Date,
		TimeStart: req.TimeStart,
		TimeEnd:   res.Live.TimeEnd,
		Status:    out.Status,
		Message:   out.Message,
	}); err != nil {
		s.log.Warn("history write failed", "error", err)
	}

	if res.Status != executor.StatusConfirmed {
		return
	}
	// The verified live slot carries the portal-enriched fields the
	// request lacks; without them the price affinity of the preference
	// model would never see real data.
	if err := s.store.RecordSelection(ctx, store.Selection{
		UserID:    req.UserID,
		Venue:     adapter.Venue(),
		CourtName: req.CourtName,
		Date:      req.Date,
		TimeStart: req.TimeStart,
		Price:     portal.ParsePrice(res.Live.RawPrice),
		IndoorOut: res.Live.IndoorOut,
	}); err != nil {
		s.log.Warn("selection write failed", "error", err)
	}
}

// --- History, preferences, credentials ---

// History returns the user's past booking attempts, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	rows, err := s.store.History(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, len(rows))
	for i, r := range rows {
		out[i] = HistoryEntry{
			Portal:    r.Portal,
			Venue:     r.Venue,
			CourtName: r.CourtName,
			Date:      r.Date,
			TimeStart: r.TimeStart,
			TimeEnd:   r.TimeEnd,
			Status:    r.Status,
			Message:   r.Message,
			CreatedAt: r.CreatedAt,
		}
	}
	return out, nil
}

// Preferences summarizes the user's selection stream.
func (s *Service) Preferences(ctx context.Context, userID string) (PreferenceSummary, error) {
	selections, err := s.store.Selections(ctx, userID)
	if err != nil {
		return PreferenceSummary{}, err
	}
	return Summarize(selections), nil
}

// SaveCredential stores a portal login for a user. The password is sealed
// at rest and never logged.
func (s *Service) SaveCredential(ctx context.Context, userID, portalKey, username, password string) error {
	if _, ok := s.adapters[portalKey]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPortal, portalKey)
	}
	return s.store.PutCredential(ctx, userID, portalKey, username, password)
}

// DeleteCredential removes a stored portal login.
func (s *Service) DeleteCredential(ctx context.Context, userID, portalKey string) error {
	return s.store.DeleteCredential(ctx, userID, portalKey)
}

// --- Helpers ---

// canonicalQuery validates and canonicalizes a search query.
func canonicalQuery(q Query) (Query, error) {
	if !portal.ValidDate(q.Date) {
		return q, fmt.Errorf("%w: bad date %q", ErrInvalidQuery, q.Date)
	}
	start, err := portal.CanonicalTime(q.StartTime)
	if err != nil {
		return q, fmt.Errorf("%w: start time: %v", ErrInvalidQuery, err)
	}
	end, err := portal.CanonicalTime(q.EndTime)
	if err != nil {
		return q, fmt.Errorf("%w: end time: %v", ErrInvalidQuery, err)
	}
	if portal.MinutesOf(start) >= portal.MinutesOf(end) {
		return q, fmt.Errorf("%w: start %s is not before end %s", ErrInvalidQuery, start, end)
	}
	switch q.Kind {
	case "", "court", "trainer":
	default:
		return q, fmt.Errorf("%w: kind %q", ErrInvalidQuery, q.Kind)
	}
	q.StartTime, q.EndTime = start, end
	return q, nil
}

func firstErr(errs map[string]error, order []string) error {
	for _, key := range order {
		if err := errs[key]; err != nil {
			return err
		}
	}
	return errors.New("unknown failure")
}
