package engine

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"todobook/internal/domain"
	"todobook/internal/repo"
)

// CreateAPIKey mints a key for a user and returns the raw value once; only
// its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, userID, name string) (domain.APIKey, string, error) {
	if userID == "" {
		return domain.APIKey{}, "", invalidf("user is required")
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	raw := fmt.Sprintf("tbk_%s", hex.EncodeToString(buf))
	k := domain.APIKey{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.nowString(),
	}
	if err := e.Repo.InsertAPIKey(ctx, k); err != nil {
		return domain.APIKey{}, "", err
	}
	return k, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, userID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, id string) error {
	return e.Repo.DeleteAPIKey(ctx, id)
}

// ListBookEvents returns a book's recent activity, newest first. Any active
// member may read the log.
func (e Engine) ListBookEvents(ctx context.Context, bookID string, limit int, actorID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = e.Config.Limits.DefaultPageSize
	}
	if _, err := e.GetBookDetail(ctx, bookID, actorID); err != nil {
		return nil, err
	}
	return e.Repo.ListEventsByBook(ctx, bookID, limit)
}
