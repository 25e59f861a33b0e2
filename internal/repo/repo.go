package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
)

type Repo struct {
	DB *sqlx.DB
}

var ErrNotFound = errors.New("not found")

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

const bookColumns = `id,title,COALESCE(description,'') AS description,COALESCE(color,'') AS color,COALESCE(icon,'') AS icon,creator_id,is_archived,archived_at,item_count,completed_count,member_count,created_at,updated_at,last_activity_at`

func (r Repo) InsertBookTx(ctx context.Context, tx *sqlx.Tx, b domain.TodoBook) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO todobooks(id,title,description,color,icon,creator_id,is_archived,archived_at,item_count,completed_count,member_count,created_at,updated_at,last_activity_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		b.ID, b.Title, nullable(b.Description), nullable(b.Color), nullable(b.Icon), b.CreatorID,
		b.IsArchived, b.ArchivedAt, b.ItemCount, b.CompletedCount, b.MemberCount,
		b.CreatedAt, b.UpdatedAt, b.LastActivityAt)
	return err
}

func (r Repo) GetBook(ctx context.Context, id string) (domain.TodoBook, error) {
	var b domain.TodoBook
	err := r.DB.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM todobooks WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

func (r Repo) GetBookTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.TodoBook, error) {
	var b domain.TodoBook
	err := tx.GetContext(ctx, &b, `SELECT `+bookColumns+` FROM todobooks WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return b, ErrNotFound
	}
	return b, err
}

// TitleTakenTx reports whether another non-archived book created by the same
// user already carries the title. excludeID skips the book being renamed.
func (r Repo) TitleTakenTx(ctx context.Context, tx *sqlx.Tx, creatorID, title, excludeID string) (bool, error) {
	var n int
	err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM todobooks WHERE creator_id=? AND title=? AND is_archived=0 AND id<>?`,
		creatorID, title, excludeID)
	return n > 0, err
}

// ListBooksByUser returns books where the user holds an active membership,
// most recently active first.
func (r Repo) ListBooksByUser(ctx context.Context, userID string, includeArchived bool) ([]domain.TodoBook, error) {
	q := `SELECT ` + bookColumns + ` FROM todobooks
		WHERE id IN (SELECT todobook_id FROM memberships WHERE user_id=? AND is_active=1)`
	if !includeArchived {
		q += ` AND is_archived=0`
	}
	q += ` ORDER BY last_activity_at DESC, id`
	var books []domain.TodoBook
	err := r.DB.SelectContext(ctx, &books, q, userID)
	return books, err
}

type BookUpdate struct {
	Title       *string
	Description *string
	Color       *string
	Icon        *string
}

func (r Repo) UpdateBookTx(ctx context.Context, tx *sqlx.Tx, id string, upd BookUpdate, now string) error {
	fields := []string{"updated_at=?"}
	args := []any{now}
	if upd.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.Color != nil {
		fields = append(fields, "color=?")
		args = append(args, nullable(*upd.Color))
	}
	if upd.Icon != nil {
		fields = append(fields, "icon=?")
		args = append(args, nullable(*upd.Icon))
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE todobooks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) SetBookArchivedTx(ctx context.Context, tx *sqlx.Tx, id string, archived bool, now string) error {
	var archivedAt any
	if archived {
		archivedAt = now
	}
	res, err := tx.ExecContext(ctx, `UPDATE todobooks SET is_archived=?, archived_at=?, updated_at=? WHERE id=?`,
		archived, archivedAt, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteBookTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM todobooks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdjustBookCountersTx applies deltas to the cached counters and stamps
// last_activity_at. Deltas may be negative; counters never drop below zero.
func (r Repo) AdjustBookCountersTx(ctx context.Context, tx *sqlx.Tx, id string, itemDelta, completedDelta, memberDelta int, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE todobooks SET
		item_count=MAX(0,item_count+?),
		completed_count=MAX(0,completed_count+?),
		member_count=MAX(0,member_count+?),
		last_activity_at=?
		WHERE id=?`,
		itemDelta, completedDelta, memberDelta, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) TouchBookTx(ctx context.Context, tx *sqlx.Tx, id, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE todobooks SET last_activity_at=? WHERE id=?`, now, id)
	return err
}
