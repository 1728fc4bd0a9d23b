package postsv

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/platz/booking/internal/portal"
	"github.com/hazyhaar/platz/booking/internal/throttle"
)

func fastLimiter() *throttle.Limiter {
	lim := throttle.New(throttle.Config{})
	var mu sync.Mutex
	now := time.Now()
	lim.SetClock(
		func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			now = now.Add(time.Second)
			return now
		},
		func(context.Context, time.Duration) error { return nil },
	)
	return lim
}

// dayPage renders a reservation table with two courts. Times in the links
// are seconds of day, the way the portal encodes them.
const dayPage = `<!DOCTYPE html><html><body>
<table class="scroll-table">
<tr>
  <td class="ressourcename">Platz 3</td>
  <td class="reservationcell free"><a class="reservationlink" href="/tennis.html?time=61200&court=3" title="Platz 3, € 12,50">frei</a></td>
  <td class="reservationcell booked">belegt</td>
  <td class="reservationcell free"><a class="reservationlink" href="/tennis.html?time=68400&court=3" title="Platz 3, € 12,50">frei</a></td>
</tr>
<tr>
  <td class="ressourcename">Platz 4</td>
  <td class="reservationcell free"><a class="reservationlink" href="/tennis.html?time=64800&court=4" title="Platz 4, € 10">frei</a></td>
</tr>
</table>
</body></html>`

// contaoServer is a minimal fixture: Contao-style login redirects plus a
// member-area day page and reservation form.
type contaoServer struct {
	t        *testing.T
	mu       sync.Mutex
	sessions map[string]bool
	// bookingPosted records the form values of the last reservation POST.
	bookingPosted url.Values
	// failBooking redirects the booking POST to an error page.
	failBooking bool
	logins      int
	// users records the username of every accepted login, in order.
	users []string
}

func (s *contaoServer) loggedIn(r *http.Request) bool {
	c, err := r.Cookie("sid")
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[c.Value]
}

func (s *contaoServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/login.html", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			io.WriteString(w, `<html><body>login</body></html>`)
			return
		}
		r.ParseForm()
		if r.Header.Get("Referer") == "" || r.PostForm.Get("FORM_SUBMIT") != "tl_login" {
			http.Redirect(w, r, "/login.html", http.StatusSeeOther)
			return
		}
		user := r.PostForm.Get("username")
		if user == "" || r.PostForm.Get("password") != "pw" {
			http.Redirect(w, r, "/login.html", http.StatusSeeOther)
			return
		}
		s.mu.Lock()
		s.logins++
		s.users = append(s.users, user)
		sid := fmt.Sprintf("sid-%d", s.logins)
		s.sessions[sid] = true
		s.mu.Unlock()
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: sid, Path: "/"})
		http.Redirect(w, r, "/index.html", http.StatusSeeOther)
	})
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>home</body></html>`)
	})
	mux.HandleFunc("/tennis.html", func(w http.ResponseWriter, r *http.Request) {
		if !s.loggedIn(r) {
			http.Redirect(w, r, "/login.html", http.StatusSeeOther)
			return
		}
		if r.Method == http.MethodPost {
			r.ParseForm()
			s.mu.Lock()
			s.bookingPosted = r.PostForm
			fail := s.failBooking
			s.mu.Unlock()
			if fail {
				http.Redirect(w, r, "/fehler.html", http.StatusSeeOther)
				return
			}
			http.Redirect(w, r, "/reservierung-bestaetigt.html", http.StatusSeeOther)
			return
		}
		if r.URL.Query().Get("time") != "" {
			// Reservation form for one cell.
			io.WriteString(w, `<html><body><form action="/tennis.html" method="post">
				<input type="hidden" name="FORM_SUBMIT" value="tl_reservation">
				<input type="hidden" name="REQUEST_TOKEN" value="rt-99">
				<select name="duration"><option value="3600">1 Stunde</option><option value="7200">2 Stunden</option></select>
				<input type="submit" name="book" value="Reservieren">
			</form></body></html>`)
			return
		}
		io.WriteString(w, dayPage)
	})
	mux.HandleFunc("/fehler.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>Fehler</body></html>`)
	})
	mux.HandleFunc("/reservierung-bestaetigt.html", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `<html><body>Danke</body></html>`)
	})
	return mux
}

func newTestAdapter(t *testing.T) (*Adapter, *contaoServer) {
	t.Helper()
	cs := &contaoServer{t: t, sessions: make(map[string]bool)}
	srv := httptest.NewServer(cs.handler())
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL}, fastLimiter()), cs
}

func memberCred() *portal.Credential {
	return &portal.Credential{Username: "member", Password: "pw"}
}

// WHAT: day-page parsing pulls courts, free cells, second-of-day times and
// title prices.
// WHY: this table is the only availability source for the portal; every
// field of the canonical slot derives from it.
func TestParseDayPage(t *testing.T) {
	doc, err := html.Parse(strings.NewReader(dayPage))
	if err != nil {
		t.Fatal(err)
	}
	slots := parseDayPage(doc, "2026-09-01")
	if len(slots) != 3 {
		t.Fatalf("got %d slots, want 3 (booked cells excluded)", len(slots))
	}

	s := slots[0]
	if s.CourtName != "Platz 3" || s.TimeStart != "17:00" || s.TimeEnd != "18:00" {
		t.Errorf("slot[0] = %s %s-%s, want Platz 3 17:00-18:00", s.CourtName, s.TimeStart, s.TimeEnd)
	}
	if s.RawPrice != "12,50" {
		t.Errorf("RawPrice = %q, want 12,50", s.RawPrice)
	}
	if slots[2].CourtName != "Platz 4" || slots[2].TimeStart != "18:00" {
		t.Errorf("slot[2] = %s %s, want Platz 4 18:00", slots[2].CourtName, slots[2].TimeStart)
	}
	if slots[2].RawPrice != "10" {
		t.Errorf("slot[2] RawPrice = %q, want 10", slots[2].RawPrice)
	}
}

// WHAT: availability requires login and respects the query window.
func TestFetchAvailability(t *testing.T) {
	a, _ := newTestAdapter(t)

	slots, err := a.FetchAvailability(context.Background(), portal.Query{
		Date: "2026-09-01", StartTime: "17:00", EndTime: "18:30",
	}, memberCred())
	if err != nil {
		t.Fatal(err)
	}
	if len(slots) != 2 {
		t.Fatalf("got %d slots, want 2 inside 17:00-18:30", len(slots))
	}
	for _, s := range slots {
		if s.TimeStart == "19:00" {
			t.Error("19:00 slot leaked past the window")
		}
	}
}

// WHAT: missing credentials fail up front with an auth error.
func TestFetchAvailabilityNoCredential(t *testing.T) {
	a, _ := newTestAdapter(t)
	_, err := a.FetchAvailability(context.Background(), portal.Query{
		Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00",
	}, nil)
	if !errors.Is(err, portal.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

// WHAT: an expired session triggers exactly one re-login, then succeeds.
// WHY: Contao sessions lapse mid-run; bouncing to the login page must not
// surface as a failure, and retries must stay bounded.
func TestSessionReLogin(t *testing.T) {
	a, cs := newTestAdapter(t)

	// Establish a session, then force expiry for the next request.
	if _, err := a.FetchAvailability(context.Background(), portal.Query{
		Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00",
	}, memberCred()); err != nil {
		t.Fatal(err)
	}
	cs.mu.Lock()
	cs.sessions = make(map[string]bool)
	cs.mu.Unlock()

	if _, err := a.FetchAvailability(context.Background(), portal.Query{
		Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00",
	}, memberCred()); err != nil {
		t.Fatalf("after expiry: %v", err)
	}
	cs.mu.Lock()
	logins := cs.logins
	cs.mu.Unlock()
	if logins != 2 {
		t.Fatalf("logins = %d, want 2", logins)
	}
}

// WHAT: each credential gets its own session; a second user triggers a
// fresh login instead of riding the first user's cookies.
// WHY: member pages are account-scoped. A shared jar would serve user B
// from user A's session and book on A's account.
func TestSessionsKeyedPerUser(t *testing.T) {
	a, cs := newTestAdapter(t)
	q := portal.Query{Date: "2026-09-01", StartTime: "08:00", EndTime: "20:00"}

	alice := &portal.Credential{Username: "alice", Password: "pw"}
	bob := &portal.Credential{Username: "bob", Password: "pw"}

	if _, err := a.FetchAvailability(context.Background(), q, alice); err != nil {
		t.Fatal(err)
	}
	if _, err := a.FetchAvailability(context.Background(), q, bob); err != nil {
		t.Fatal(err)
	}

	cs.mu.Lock()
	users := append([]string(nil), cs.users...)
	cs.mu.Unlock()
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("logins observed: %v, want [alice bob]", users)
	}
}

func TestLoginRejected(t *testing.T) {
	a, _ := newTestAdapter(t)
	cred := &portal.Credential{Username: "member", Password: "nope"}
	err := a.login(context.Background(), a.session(cred), cred)
	if !errors.Is(err, portal.ErrAuth) {
		t.Fatalf("err = %v, want auth error", err)
	}
}

// WHAT: booking harvests the rendered form and posts it back verbatim.
// WHY: the hidden REQUEST_TOKEN and the submit button name are mandatory;
// dropping either makes Contao discard the POST silently.
func TestExecuteBooking(t *testing.T) {
	a, cs := newTestAdapter(t)

	outcome, err := a.ExecuteBooking(context.Background(), portal.ExecRequest{
		Slot: portal.RawSlot{
			Portal: PortalKey, Date: "2026-09-01", TimeStart: "17:00",
			CourtName: "Platz 3", BookingLink: "/tennis.html?time=61200&court=3",
		},
		Credential: memberCred(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != portal.OutcomeApplied {
		t.Fatalf("outcome = %v, want applied", outcome)
	}

	cs.mu.Lock()
	posted := cs.bookingPosted
	cs.mu.Unlock()
	if posted.Get("REQUEST_TOKEN") != "rt-99" {
		t.Errorf("REQUEST_TOKEN = %q, want rt-99", posted.Get("REQUEST_TOKEN"))
	}
	if posted.Get("FORM_SUBMIT") != "tl_reservation" {
		t.Errorf("FORM_SUBMIT = %q, want tl_reservation", posted.Get("FORM_SUBMIT"))
	}
	if posted.Get("duration") != "3600" {
		t.Errorf("duration = %q, want first option 3600", posted.Get("duration"))
	}
	if posted.Get("book") != "Reservieren" {
		t.Errorf("submit button = %q, want Reservieren", posted.Get("book"))
	}
}

// WHAT: an error-page redirect maps to a not-found outcome, not an error.
func TestExecuteBookingErrorRedirect(t *testing.T) {
	a, cs := newTestAdapter(t)
	cs.mu.Lock()
	cs.failBooking = true
	cs.mu.Unlock()

	outcome, err := a.ExecuteBooking(context.Background(), portal.ExecRequest{
		Slot: portal.RawSlot{
			Date: "2026-09-01", TimeStart: "17:00", CourtName: "Platz 3",
			BookingLink: "/tennis.html?time=61200&court=3",
		},
		Credential: memberCred(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != portal.OutcomeNotFound {
		t.Fatalf("outcome = %v, want not-found on error redirect", outcome)
	}
}

// WHAT: booking without a live link re-locates the cell; a vanished slot
// maps to not-found.
func TestExecuteBookingSlotGone(t *testing.T) {
	a, _ := newTestAdapter(t)

	outcome, err := a.ExecuteBooking(context.Background(), portal.ExecRequest{
		Slot: portal.RawSlot{
			Date: "2026-09-01", TimeStart: "06:00", CourtName: "Platz 3",
		},
		Credential: memberCred(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if outcome != portal.OutcomeNotFound {
		t.Fatalf("outcome = %v, want not-found for vanished slot", outcome)
	}
}

// WHAT: verification is negative while the cell is still free.
func TestVerifyBooking(t *testing.T) {
	a, _ := newTestAdapter(t)

	// 17:00 on Platz 3 is free in the fixture, so the booking did not take.
	ok, err := a.VerifyBooking(context.Background(), portal.ExecRequest{
		Slot:       portal.RawSlot{Date: "2026-09-01", TimeStart: "17:00", CourtName: "Platz 3"},
		Credential: memberCred(),
	})
	if err != nil || ok {
		t.Fatalf("free cell: ok=%v err=%v, want false", ok, err)
	}

	// 18:00 on Platz 3 is booked in the fixture.
	ok, err = a.VerifyBooking(context.Background(), portal.ExecRequest{
		Slot:       portal.RawSlot{Date: "2026-09-01", TimeStart: "18:00", CourtName: "Platz 3"},
		Credential: memberCred(),
	})
	if err != nil || !ok {
		t.Fatalf("occupied cell: ok=%v err=%v, want true", ok, err)
	}
}
