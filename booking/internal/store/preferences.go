package store

import (
	"context"
	"fmt"
	"time"
)

// Selection is one recorded slot choice. The stream is append-only; the
// preference weights are always recomputed from the full stream, so a bad
// event can be compensated by later ones instead of edited away.
type Selection struct {
	ID        string
	UserID    string
	Venue     string
	CourtName string
	Date      string // YYYY-MM-DD of the booked slot
	TimeStart string // HH:MM
	Price     *float64
	IndoorOut string
	CreatedAt time.Time
}

// RecordSelection appends one selection event.
func (s *Store) RecordSelection(ctx context.Context, sel Selection) error {
	if sel.UserID == "" || sel.Venue == "" || sel.Date == "" || sel.TimeStart == "" {
		return fmt.Errorf("store: record selection: missing required fields")
	}
	if sel.ID == "" {
		sel.ID = s.selectionID()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO selection_events (id, user_id, venue, court, date, time_start, price, indoor_out, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sel.ID, sel.UserID, sel.Venue, sel.CourtName, sel.Date, sel.TimeStart,
		sel.Price, sel.IndoorOut, s.timestamp())
	if err != nil {
		return fmt.Errorf("store: record selection: %w", err)
	}
	return nil
}

// Selections returns a user's full selection stream, oldest first.
func (s *Store) Selections(ctx context.Context, userID string) ([]Selection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, venue, court, date, time_start, price, indoor_out, created_at
		FROM selection_events
		WHERE user_id = ?
		ORDER BY created_at ASC, id ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: selections: %w", err)
	}
	defer rows.Close()

	var out []Selection
	for rows.Next() {
		var sel Selection
		var createdAt string
		if err := rows.Scan(&sel.ID, &sel.UserID, &sel.Venue, &sel.CourtName,
			&sel.Date, &sel.TimeStart, &sel.Price, &sel.IndoorOut, &createdAt); err != nil {
			return nil, fmt.Errorf("store: selections: %w", err)
		}
		sel.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, sel)
	}
	return out, rows.Err()
}
