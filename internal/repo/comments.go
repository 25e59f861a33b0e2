package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
)

const commentColumns = `id,task_id,user_id,content,reply_to,is_deleted,created_at,updated_at`

func (r Repo) InsertCommentTx(ctx context.Context, tx *sqlx.Tx, c domain.Comment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO comments(id,task_id,user_id,content,reply_to,is_deleted,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?)`,
		c.ID, c.TaskID, c.UserID, c.Content, c.ReplyTo, c.IsDeleted, c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetComment(ctx context.Context, id string) (domain.Comment, error) {
	var c domain.Comment
	err := r.DB.GetContext(ctx, &c, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) GetCommentTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Comment, error) {
	var c domain.Comment
	err := tx.GetContext(ctx, &c, `SELECT `+commentColumns+` FROM comments WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) UpdateCommentTx(ctx context.Context, tx *sqlx.Tx, id, content, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE comments SET content=?, updated_at=? WHERE id=? AND is_deleted=0`, content, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteCommentTx marks a comment deleted without breaking reply chains.
func (r Repo) SoftDeleteCommentTx(ctx context.Context, tx *sqlx.Tx, id, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE comments SET is_deleted=1, updated_at=? WHERE id=? AND is_deleted=0`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListComments(ctx context.Context, taskID string, page, pageSize int) ([]domain.Comment, int, error) {
	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM comments WHERE task_id=?`, taskID); err != nil {
		return nil, 0, err
	}
	var comments []domain.Comment
	err := r.DB.SelectContext(ctx, &comments, `SELECT `+commentColumns+` FROM comments WHERE task_id=? ORDER BY created_at, id LIMIT ? OFFSET ?`,
		taskID, pageSize, (page-1)*pageSize)
	return comments, total, err
}

func (r Repo) ListCommentsTx(ctx context.Context, tx *sqlx.Tx, taskID string) ([]domain.Comment, error) {
	var comments []domain.Comment
	err := tx.SelectContext(ctx, &comments, `SELECT `+commentColumns+` FROM comments WHERE task_id=? ORDER BY created_at, id`, taskID)
	return comments, err
}

type commentCountRow struct {
	TaskID string `db:"task_id"`
	N      int    `db:"n"`
}

// CommentCounts returns per-task visible comment totals for a listing.
func (r Repo) CommentCounts(ctx context.Context, taskIDs []string) (map[string]int, error) {
	result := make(map[string]int)
	if len(taskIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT task_id, COUNT(*) AS n FROM comments WHERE task_id IN (?) AND is_deleted=0 GROUP BY task_id`, taskIDs)
	if err != nil {
		return nil, err
	}
	var rows []commentCountRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.TaskID] = row.N
	}
	return result, nil
}
