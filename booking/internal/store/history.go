package store

import (
	"context"
	"fmt"
	"time"
)

// HistoryEntry is one terminal booking attempt. Unknown outcomes are
// recorded like any other so the user can reconcile them against the
// portal later.
type HistoryEntry struct {
	ID        string
	UserID    string
	Portal    string
	Venue     string
	CourtName string
	Date      string
	TimeStart string
	TimeEnd   string
	Status    string
	Message   string
	CreatedAt time.Time
}

// RecordBooking appends one attempt to the history.
func (s *Store) RecordBooking(ctx context.Context, e HistoryEntry) error {
	if e.UserID == "" || e.Portal == "" || e.Status == "" {
		return fmt.Errorf("store: record booking: missing required fields")
	}
	if e.ID == "" {
		e.ID = s.bookingID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO booking_history (id, user_id, portal, venue, court, date, time_start, time_end, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Portal, e.Venue, e.CourtName, e.Date, e.TimeStart,
		e.TimeEnd, e.Status, e.Message, s.timestamp())
	if err != nil {
		return fmt.Errorf("store: record booking: %w", err)
	}
	return nil
}

// History returns a user's booking attempts, newest first. limit <= 0 means
// a default page of 50.
func (s *Store) History(ctx context.Context, userID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, portal, venue, court, date, time_start, time_end, status, message, created_at
		FROM booking_history
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Portal, &e.Venue, &e.CourtName,
			&e.Date, &e.TimeStart, &e.TimeEnd, &e.Status, &e.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("store: history: %w", err)
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}
