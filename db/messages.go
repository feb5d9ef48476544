package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelotc/stream-pal-ai/domain"
)

// MessageStore is the append-only chat event log.
type MessageStore struct {
	db *sql.DB
}

func NewMessageStore(db *sql.DB) *MessageStore { return &MessageStore{db: db} }

const eventColumns = `id, broadcaster_id, provider_message_id, chatter_id, chatter_name, text, source_type, responded_to, created_at`

func scanEvent(row interface{ Scan(...any) error }) (domain.Event, error) {
	var ev domain.Event
	var source string
	err := row.Scan(&ev.ID, &ev.BroadcasterID, &ev.ProviderMessageID, &ev.ChatterID, &ev.ChatterName, &ev.Text, &source, &ev.RespondedTo, &ev.CreatedAt)
	ev.Source = domain.SourceType(source)
	return ev, err
}

// Insert appends ev. A repeat of (broadcaster, provider message id) is not an
// error: the stored event is returned with inserted=false.
func (s *MessageStore) Insert(ctx context.Context, ev domain.Event) (domain.Event, bool, error) {
	if ev.BroadcasterID == "" {
		return domain.Event{}, false, fmt.Errorf("insert event: broadcaster id empty")
	}
	if !ev.Source.Valid() {
		return domain.Event{}, false, fmt.Errorf("insert event: unknown source %q", ev.Source)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.ProviderMessageID == "" {
		ev.ProviderMessageID = ev.ID
	}
	if ev.ChatterName == "" {
		ev.ChatterName = domain.AnonymousChatter
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO chat_events (id, broadcaster_id, provider_message_id, chatter_id, chatter_name, text, source_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (broadcaster_id, provider_message_id) DO NOTHING`,
		ev.ID, ev.BroadcasterID, ev.ProviderMessageID, ev.ChatterID, ev.ChatterName, ev.Text, string(ev.Source), ev.CreatedAt)
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("insert event: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.Event{}, false, err
	}
	if n == 1 {
		return ev, true, nil
	}
	existing, err := scanEvent(s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM chat_events WHERE broadcaster_id = $1 AND provider_message_id = $2`,
		ev.BroadcasterID, ev.ProviderMessageID))
	if err != nil {
		return domain.Event{}, false, fmt.Errorf("load duplicate event: %w", err)
	}
	return existing, false, nil
}

// QueryRecent returns up to limit events for the broadcaster, newest first.
func (s *MessageStore) QueryRecent(ctx context.Context, broadcasterID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM chat_events WHERE broadcaster_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		broadcasterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// MarkResponded flips responded_to for the given event ids.
func (s *MessageStore) MarkResponded(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE chat_events SET responded_to = TRUE WHERE id = ANY($1) AND responded_to = FALSE`, ids)
	return err
}

// Get loads a single event by id.
func (s *MessageStore) Get(ctx context.Context, id string) (domain.Event, error) {
	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM chat_events WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, fmt.Errorf("event %s: %w", id, sql.ErrNoRows)
	}
	return ev, err
}
