package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
)

const shareColumns = `code,todobook_id,creator_id,include_comments,created_at,import_count,last_imported_at`

func (r Repo) InsertShareTx(ctx context.Context, tx *sqlx.Tx, s domain.Share) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO shares(code,todobook_id,creator_id,include_comments,created_at,import_count,last_imported_at) VALUES (?,?,?,?,?,?,?)`,
		s.Code, s.TodoBookID, s.CreatorID, s.IncludeComments, s.CreatedAt, s.ImportCount, s.LastImportedAt)
	return err
}

func (r Repo) GetShare(ctx context.Context, code string) (domain.Share, error) {
	var s domain.Share
	err := r.DB.GetContext(ctx, &s, `SELECT `+shareColumns+` FROM shares WHERE code=?`, code)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetShareTx(ctx context.Context, tx *sqlx.Tx, code string) (domain.Share, error) {
	var s domain.Share
	err := tx.GetContext(ctx, &s, `SELECT `+shareColumns+` FROM shares WHERE code=?`, code)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) GetShareByBookTx(ctx context.Context, tx *sqlx.Tx, bookID string) (domain.Share, error) {
	var s domain.Share
	err := tx.GetContext(ctx, &s, `SELECT `+shareColumns+` FROM shares WHERE todobook_id=?`, bookID)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSharesByUser(ctx context.Context, userID string) ([]domain.Share, error) {
	var shares []domain.Share
	err := r.DB.SelectContext(ctx, &shares, `SELECT `+shareColumns+` FROM shares WHERE creator_id=? ORDER BY created_at DESC, code`, userID)
	return shares, err
}

func (r Repo) SetShareIncludeCommentsTx(ctx context.Context, tx *sqlx.Tx, code string, include bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE shares SET include_comments=? WHERE code=?`, include, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ShareCodeExistsTx(ctx context.Context, tx *sqlx.Tx, code string) (bool, error) {
	var n int
	err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM shares WHERE code=?`, code)
	return n > 0, err
}

func (r Repo) DeleteShareTx(ctx context.Context, tx *sqlx.Tx, code string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM shares WHERE code=?`, code)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) BumpShareImportTx(ctx context.Context, tx *sqlx.Tx, code, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE shares SET import_count=import_count+1, last_imported_at=? WHERE code=?`, now, code)
	return err
}
