package booking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/store"
	"github.com/hazyhaar/platz/dbopen"
	_ "modernc.org/sqlite"
)

// fakePortal is a scriptable adapter for service tests.
type fakePortal struct {
	mu        sync.Mutex
	name      string
	venue     string
	needsCred bool

	slots    []portal.RawSlot
	trainers []portal.RawSlot
	fetchErr error

	execOutcome portal.Outcome
	verifyOK    bool

	lastCred *portal.Credential
}

func (f *fakePortal) Name() string              { return f.name }
func (f *fakePortal) Venue() string             { return f.venue }
func (f *fakePortal) RequiresCredentials() bool { return f.needsCred }

func (f *fakePortal) FetchAvailability(ctx context.Context, q portal.Query, cred *portal.Credential) ([]portal.RawSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCred = cred
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.slots, nil
}

func (f *fakePortal) FetchTrainers(ctx context.Context, q portal.Query, cred *portal.Credential) ([]portal.RawSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCred = cred
	return f.trainers, nil
}

func (f *fakePortal) ExecuteBooking(ctx context.Context, req portal.ExecRequest) (portal.Outcome, error) {
	return f.execOutcome, nil
}

func (f *fakePortal) VerifyBooking(ctx context.Context, req portal.ExecRequest) (bool, error) {
	return f.verifyOK, nil
}

func raw(p, court, start string) portal.RawSlot {
	return portal.RawSlot{
		Portal: p, Venue: p + " venue", CourtName: court,
		Date: "2026-09-01", TimeStart: start, TimeEnd: "",
	}
}

func testService(t *testing.T, adapters ...*fakePortal) (*Service, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	key := [32]byte{1}

	cfg := DefaultConfig()
	for k, pc := range cfg.Portals {
		pc.Disabled = true
		cfg.Portals[k] = pc
	}
	opts := []ServiceOption{}
	for _, a := range adapters {
		opts = append(opts, WithAdapter(a.name, a))
	}
	// A second store view over the same handle, for direct fixture access.
	return NewService(cfg, db, key, opts...), store.New(db, key)
}

func dayQuery() Query {
	return Query{Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00"}
}

// WHAT: fan-out merges portals, dedupes, and orders deterministically.
func TestSearchMerge(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		slots: []portal.RawSlot{raw("alpha", "Platz 1", "10:00"), raw("alpha", "Platz 1", "18:00")}}
	b := &fakePortal{name: "beta", venue: "Beta Venue",
		slots: []portal.RawSlot{raw("beta", "Platz 1", "10:00")}}
	s, _ := testService(t, a, b)

	got, err := s.Search(context.Background(), "u1", dayQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d slots, want 3", len(got))
	}
	if got[0].StartTime != "10:00" || got[2].StartTime != "18:00" {
		t.Fatalf("order = %s..%s, want time-sorted", got[0].StartTime, got[2].StartTime)
	}
}

// WHAT: one failing portal degrades to partial results, not an error.
func TestSearchPartial(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		slots: []portal.RawSlot{raw("alpha", "Platz 1", "10:00")}}
	b := &fakePortal{name: "beta", venue: "Beta Venue",
		fetchErr: fmt.Errorf("%w: down", portal.ErrNetwork)}
	s, _ := testService(t, a, b)

	got, err := s.Search(context.Background(), "u1", dayQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SourcePortal != "alpha" {
		t.Fatalf("got %+v, want only alpha's slot", got)
	}
}

// WHAT: every portal failing is an error, not a silent empty result.
func TestSearchTotalBlackout(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		fetchErr: fmt.Errorf("%w: down", portal.ErrNetwork)}
	s, _ := testService(t, a)

	if _, err := s.Search(context.Background(), "u1", dayQuery()); err == nil {
		t.Fatal("expected error when all portals fail")
	}
}

func TestSearchInvalidQuery(t *testing.T) {
	s, _ := testService(t, &fakePortal{name: "alpha", venue: "Alpha Venue"})
	cases := []Query{
		{Date: "bad", StartTime: "08:00", EndTime: "20:00"},
		{Date: "2026-09-01", StartTime: "20:00", EndTime: "08:00"},
		{Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00", Kind: "padel"},
	}
	for _, q := range cases {
		if _, err := s.Search(context.Background(), "u1", q); !errors.Is(err, ErrInvalidQuery) {
			t.Errorf("query %+v: err = %v, want ErrInvalidQuery", q, err)
		}
	}
}

// WHAT: the venue filter resolves both portal keys and display names.
func TestSearchVenueFilter(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		slots: []portal.RawSlot{raw("alpha", "Platz 1", "10:00")}}
	b := &fakePortal{name: "beta", venue: "Beta Venue",
		slots: []portal.RawSlot{raw("beta", "Platz 1", "11:00")}}
	s, _ := testService(t, a, b)

	q := dayQuery()
	q.Venues = []string{"Beta Venue"}
	got, err := s.Search(context.Background(), "u1", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SourcePortal != "beta" {
		t.Fatalf("got %+v, want only beta", got)
	}
}

// WHAT: a credential-gated portal without a stored login is skipped; the
// stored login is decrypted and handed to the portal when present.
func TestSearchCredentialGate(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue", needsCred: true,
		slots: []portal.RawSlot{raw("alpha", "Platz 1", "10:00")}}
	open := &fakePortal{name: "open", venue: "Open Venue",
		slots: []portal.RawSlot{raw("open", "Platz 1", "11:00")}}
	s, st := testService(t, a, open)
	ctx := context.Background()

	got, err := s.Search(ctx, "u1", dayQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].SourcePortal != "open" {
		t.Fatalf("got %+v, want gated portal skipped", got)
	}

	if err := st.PutCredential(ctx, "u1", "alpha", "member", "pw"); err != nil {
		t.Fatal(err)
	}
	got, err = s.Search(ctx, "u1", dayQuery())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d slots, want both portals after storing credentials", len(got))
	}
	if a.lastCred == nil || a.lastCred.Password != "pw" {
		t.Fatal("stored credential did not reach the adapter")
	}
}

// WHAT: trainer searches only hit portals with a trainer offering and need
// credentials even on otherwise open portals.
func TestSearchTrainers(t *testing.T) {
	trainerSlot := raw("alpha", "Platz 1", "18:00")
	trainerSlot.Trainers = []portal.TrainerRef{{Name: "Maria Berger"}}
	a := &fakePortal{name: "alpha", venue: "Alpha Venue", trainers: []portal.RawSlot{trainerSlot}}
	s, st := testService(t, a)
	ctx := context.Background()

	q := dayQuery()
	q.Kind = "trainer"

	if _, err := s.Search(ctx, "u1", q); err == nil {
		t.Fatal("trainer search without credentials must fail, not return courts")
	}

	if err := st.PutCredential(ctx, "u1", "alpha", "member", "pw"); err != nil {
		t.Fatal(err)
	}
	got, err := s.Search(ctx, "u1", q)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || len(got[0].Trainers) != 1 {
		t.Fatalf("got %+v, want the trainer offer", got)
	}
}

// WHAT: a confirmed booking lands in history and feeds the preference
// stream, carrying the live slot's price into the selection.
// WHY: the request has no price; only the verified live slot does. Dropping
// it would starve the price affinity of the preference model.
func TestBookConfirmedRecords(t *testing.T) {
	live := raw("alpha", "Platz 1", "18:00")
	live.RawPrice = "12,50"
	live.IndoorOut = "Outdoor"
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		slots:       []portal.RawSlot{live},
		execOutcome: portal.OutcomeApplied, verifyOK: true}
	s, st := testService(t, a)
	ctx := context.Background()

	if err := st.PutCredential(ctx, "u1", "alpha", "member", "pw"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Book(ctx, BookingRequest{
		UserID: "u1", Portal: "alpha", CourtName: "Platz 1",
		Date: "2026-09-01", TimeStart: "18:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "confirmed" {
		t.Fatalf("status = %q, want confirmed", res.Status)
	}

	hist, err := s.History(ctx, "u1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != "confirmed" {
		t.Fatalf("history = %+v, want one confirmed entry", hist)
	}

	prefs, err := s.Preferences(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if prefs.Selections != 1 {
		t.Fatalf("selections = %d, want 1", prefs.Selections)
	}

	sels, err := st.Selections(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sels) != 1 || sels[0].Price == nil || *sels[0].Price != 12.5 {
		t.Fatalf("selection = %+v, want the live slot's price 12.5 recorded", sels)
	}
	if sels[0].IndoorOut != "Outdoor" {
		t.Fatalf("IndoorOut = %q, want Outdoor from the live slot", sels[0].IndoorOut)
	}
}

// WHAT: a conflict carries normalized alternatives and is still recorded.
func TestBookConflict(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue",
		slots: []portal.RawSlot{raw("alpha", "Platz 1", "07:00")}}
	s, st := testService(t, a)
	ctx := context.Background()

	if err := st.PutCredential(ctx, "u1", "alpha", "member", "pw"); err != nil {
		t.Fatal(err)
	}

	res, err := s.Book(ctx, BookingRequest{
		UserID: "u1", Portal: "alpha", CourtName: "Platz 1",
		Date: "2026-09-01", TimeStart: "18:00",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != "conflict" {
		t.Fatalf("status = %q, want conflict", res.Status)
	}
	if len(res.Alternatives) != 1 || res.Alternatives[0].StartTime != "07:00" {
		t.Fatalf("alternatives = %+v, want the 07:00 slot", res.Alternatives)
	}

	hist, _ := s.History(ctx, "u1", 10)
	if len(hist) != 1 || hist[0].Status != "conflict" {
		t.Fatalf("history = %+v, want the conflict recorded", hist)
	}
	prefs, _ := s.Preferences(ctx, "u1")
	if prefs.Selections != 0 {
		t.Fatal("a conflict must not feed the preference stream")
	}
}

func TestBookGuards(t *testing.T) {
	a := &fakePortal{name: "alpha", venue: "Alpha Venue"}
	s, _ := testService(t, a)
	ctx := context.Background()

	_, err := s.Book(ctx, BookingRequest{
		UserID: "u1", Portal: "nowhere", CourtName: "Platz 1",
		Date: "2026-09-01", TimeStart: "18:00",
	})
	if !errors.Is(err, ErrUnknownPortal) {
		t.Fatalf("err = %v, want ErrUnknownPortal", err)
	}

	_, err = s.Book(ctx, BookingRequest{
		UserID: "u1", Portal: "alpha", CourtName: "Platz 1",
		Date: "2026-09-01", TimeStart: "18:00",
	})
	if !errors.Is(err, ErrNoCredential) {
		t.Fatalf("err = %v, want ErrNoCredential", err)
	}

	_, err = s.Book(ctx, BookingRequest{
		UserID: "u1", Portal: "alpha", CourtName: "Platz 1",
		Date: "2026-09-01", TimeStart: "27:00",
	})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}

// WHAT: credentials can only be saved for portals this deployment carries.
func TestSaveCredentialUnknownPortal(t *testing.T) {
	s, _ := testService(t, &fakePortal{name: "alpha", venue: "Alpha Venue"})
	err := s.SaveCredential(context.Background(), "u1", "nowhere", "u", "pw")
	if !errors.Is(err, ErrUnknownPortal) {
		t.Fatalf("err = %v, want ErrUnknownPortal", err)
	}
}
