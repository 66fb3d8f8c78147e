package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sydlexius/bodyscanmock/internal/event"
)

// Entry is one finished scan in the journal.
type Entry struct {
	ID           string    `json:"id"`
	BodyPart     string    `json:"bodyPart"`
	Side         string    `json:"side,omitempty"`
	StartedAt    time.Time `json:"startedAt"`
	FinishedAt   time.Time `json:"finishedAt"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
}

// MaxLimit caps how many entries List returns.
const MaxLimit = 100

// Service records finished scans. The database is expected to be in-memory,
// so the journal lasts as long as the process.
type Service struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewService creates a history service over a migrated database.
func NewService(db *sql.DB, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		logger: logger.With(slog.String("component", "scan-history")),
	}
}

// Record stores e. Recording the same scan twice keeps the first entry.
func (s *Service) Record(ctx context.Context, e Entry) error {
	success := 0
	if e.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO scan_history (id, body_part, side, started_at, finished_at, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.BodyPart, e.Side, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(), success, e.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("inserting scan %s: %w", e.ID, err)
	}
	return nil
}

// List returns up to limit entries, most recently finished first.
func (s *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > MaxLimit {
		limit = MaxLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body_part, side, started_at, finished_at, success, error_message
		FROM scan_history
		ORDER BY finished_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing scan history: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	entries := []Entry{}
	for rows.Next() {
		var (
			e                 Entry
			started, finished int64
			success           int
		)
		if err := rows.Scan(&e.ID, &e.BodyPart, &e.Side, &started, &finished, &success, &e.ErrorMessage); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.FinishedAt = time.UnixMilli(finished).UTC()
		e.Success = success == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// HandleEvent is an event.Handler that journals scan.completed events.
func (s *Service) HandleEvent(e event.Event) {
	if e.Type != event.ScanCompleted {
		return
	}
	entry, err := entryFromEvent(e)
	if err != nil {
		s.logger.Warn("ignoring malformed completion event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Record(ctx, entry); err != nil {
		s.logger.Error("recording scan history", "scan_id", entry.ID, "error", err)
		return
	}
	s.logger.Debug("scan recorded", "scan_id", entry.ID, "success", entry.Success)
}

func entryFromEvent(e event.Event) (Entry, error) {
	var entry Entry
	var ok bool
	if entry.ID, ok = e.Data["scan_id"].(string); !ok || entry.ID == "" {
		return Entry{}, fmt.Errorf("missing scan_id")
	}
	if entry.StartedAt, ok = e.Data["started_at"].(time.Time); !ok {
		return Entry{}, fmt.Errorf("scan %s: missing started_at", entry.ID)
	}
	if entry.FinishedAt, ok = e.Data["finished_at"].(time.Time); !ok {
		return Entry{}, fmt.Errorf("scan %s: missing finished_at", entry.ID)
	}
	if entry.Success, ok = e.Data["success"].(bool); !ok {
		return Entry{}, fmt.Errorf("scan %s: missing success", entry.ID)
	}
	entry.BodyPart, _ = e.Data["body_part"].(string)
	entry.Side, _ = e.Data["side"].(string)
	entry.ErrorMessage, _ = e.Data["error_message"].(string)
	return entry, nil
}
