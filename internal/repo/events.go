package repo

import (
	"context"

	"todobook/internal/domain"
)

const eventColumns = `id,ts,type,COALESCE(todobook_id,'') AS todobook_id,entity_kind,COALESCE(entity_id,'') AS entity_id,user_id,COALESCE(payload_json,'') AS payload_json`

// ListEventsAfter returns up to limit events with id greater than afterID,
// oldest first. Webhook dispatch and the log command both read through here.
func (r Repo) ListEventsAfter(ctx context.Context, afterID int64, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := r.DB.SelectContext(ctx, &events, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id LIMIT ?`, afterID, limit)
	return events, err
}

func (r Repo) ListEventsByBook(ctx context.Context, bookID string, limit int) ([]domain.Event, error) {
	var events []domain.Event
	err := r.DB.SelectContext(ctx, &events, `SELECT `+eventColumns+` FROM events WHERE todobook_id=? ORDER BY id DESC LIMIT ?`, bookID, limit)
	return events, err
}

// LatestEventID seeds webhook cursors so a fresh dispatcher only delivers
// events recorded after startup.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id int64
	err := r.DB.GetContext(ctx, &id, `SELECT COALESCE(MAX(id),0) FROM events`)
	return id, err
}
