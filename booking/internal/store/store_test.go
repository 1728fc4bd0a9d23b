package store

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/platz/dbopen"
	_ "modernc.org/sqlite"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return New(db, testKey(1), opts...), db
}

// WHAT: credential round-trip through sealing.
// WHY: the password must come back intact while the stored blob never
// contains it in the clear.
func TestCredentialRoundTrip(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	if err := s.PutCredential(ctx, "u1", "dasspiel", "u@example.com", "s3cret-pw"); err != nil {
		t.Fatal(err)
	}

	cred, err := s.GetCredential(ctx, "u1", "dasspiel")
	if err != nil {
		t.Fatal(err)
	}
	if cred.Username != "u@example.com" || cred.Password != "s3cret-pw" {
		t.Fatalf("got %q/%q", cred.Username, cred.Password)
	}
	if cred.Portal != "dasspiel" {
		t.Errorf("Portal = %q", cred.Portal)
	}

	// The raw row must not contain the plaintext.
	var blob []byte
	if err := db.QueryRow(`SELECT secret FROM credentials WHERE user_id = 'u1'`).Scan(&blob); err != nil {
		t.Fatal(err)
	}
	if bytes.Contains(blob, []byte("s3cret-pw")) {
		t.Fatal("plaintext password found in stored blob")
	}
}

// WHAT: replacing a credential keeps one row per (user, portal).
func TestPutCredentialReplaces(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	if err := s.PutCredential(ctx, "u1", "postsv", "old", "old-pw"); err != nil {
		t.Fatal(err)
	}
	if err := s.PutCredential(ctx, "u1", "postsv", "new", "new-pw"); err != nil {
		t.Fatal(err)
	}

	cred, err := s.GetCredential(ctx, "u1", "postsv")
	if err != nil {
		t.Fatal(err)
	}
	if cred.Username != "new" || cred.Password != "new-pw" {
		t.Fatalf("got %q/%q, want replacement", cred.Username, cred.Password)
	}

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
}

// WHAT: a store opened with a different key refuses to unseal.
// WHY: failing loudly beats handing an adapter a garbage password.
func TestGetCredentialWrongKey(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	ctx := context.Background()

	if err := New(db, testKey(1)).PutCredential(ctx, "u1", "dasspiel", "u", "pw"); err != nil {
		t.Fatal(err)
	}
	if _, err := New(db, testKey(2)).GetCredential(ctx, "u1", "dasspiel"); err == nil {
		t.Fatal("expected unseal failure with wrong key")
	}
}

func TestGetCredentialNotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.GetCredential(context.Background(), "u1", "dasspiel")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestDeleteCredential(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.PutCredential(ctx, "u1", "dasspiel", "u", "pw"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteCredential(ctx, "u1", "dasspiel"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCredential(ctx, "u1", "dasspiel"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound after delete", err)
	}
	// Idempotent.
	if err := s.DeleteCredential(ctx, "u1", "dasspiel"); err != nil {
		t.Fatal(err)
	}
}

// WHAT: selections come back in append order, per user.
func TestSelectionsAppendOnly(t *testing.T) {
	var tick int64
	s, _ := newTestStore(t, WithClock(func() time.Time {
		tick++
		return time.Unix(1_756_000_000+tick, 0)
	}))
	ctx := context.Background()

	price := 12.5
	events := []Selection{
		{UserID: "u1", Venue: "Tenniszentrum Arsenal (Das Spiel)", Date: "2026-09-01", TimeStart: "18:00", Price: &price},
		{UserID: "u1", Venue: "PostSV Tennisanlage", Date: "2026-09-02", TimeStart: "19:00"},
		{UserID: "u2", Venue: "PostSV Tennisanlage", Date: "2026-09-02", TimeStart: "08:00"},
	}
	for _, e := range events {
		if err := s.RecordSelection(ctx, e); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.Selections(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].TimeStart != "18:00" || got[1].TimeStart != "19:00" {
		t.Fatalf("order = %s, %s; want append order", got[0].TimeStart, got[1].TimeStart)
	}
	if got[0].Price == nil || *got[0].Price != 12.5 {
		t.Errorf("price = %v, want 12.5", got[0].Price)
	}
	if got[1].Price != nil {
		t.Errorf("price = %v, want nil for unpriced selection", got[1].Price)
	}
}

func TestRecordSelectionRequiredFields(t *testing.T) {
	s, _ := newTestStore(t)
	err := s.RecordSelection(context.Background(), Selection{UserID: "u1"})
	if err == nil {
		t.Fatal("expected error for missing fields")
	}
}

// WHAT: history pages newest first and respects the limit.
func TestHistoryPaging(t *testing.T) {
	var tick int64
	s, _ := newTestStore(t, WithClock(func() time.Time {
		tick++
		return time.Unix(1_756_000_000+tick, 0)
	}))
	ctx := context.Background()

	for _, st := range []string{"confirmed", "conflict", "unknown"} {
		if err := s.RecordBooking(ctx, HistoryEntry{
			UserID: "u1", Portal: "dasspiel", Venue: "Tenniszentrum Arsenal (Das Spiel)",
			CourtName: "Platz 1", Date: "2026-09-01", TimeStart: "18:00", Status: st,
		}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.History(ctx, "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Status != "unknown" || got[1].Status != "conflict" {
		t.Fatalf("order = %s, %s; want newest first", got[0].Status, got[1].Status)
	}

	all, err := s.History(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("default page returned %d, want 3", len(all))
	}
}

// WHAT: generated row ids carry their type prefix.
// WHY: once an id surfaces in a log line it must identify its table alone.
func TestRowIDPrefixes(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.RecordBooking(ctx, HistoryEntry{
		UserID: "u1", Portal: "dasspiel", Venue: "Tenniszentrum Arsenal (Das Spiel)",
		CourtName: "Platz 1", Date: "2026-09-01", TimeStart: "18:00", Status: "confirmed",
	}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSelection(ctx, Selection{
		UserID: "u1", Venue: "Tenniszentrum Arsenal (Das Spiel)",
		Date: "2026-09-01", TimeStart: "18:00",
	}); err != nil {
		t.Fatal(err)
	}

	hist, err := s.History(ctx, "u1", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || !strings.HasPrefix(hist[0].ID, "bkg_") {
		t.Fatalf("history id = %q, want bkg_ prefix", hist[0].ID)
	}
	sels, err := s.Selections(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(sels) != 1 || !strings.HasPrefix(sels[0].ID, "sel_") {
		t.Fatalf("selection id = %q, want sel_ prefix", sels[0].ID)
	}
}
