package repo

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
)

const membershipColumns = `id,todobook_id,user_id,role,is_active,joined_at,left_at`

func (r Repo) InsertMembershipTx(ctx context.Context, tx *sqlx.Tx, m domain.Membership) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO memberships(id,todobook_id,user_id,role,is_active,joined_at,left_at) VALUES (?,?,?,?,?,?,?)`,
		m.ID, m.TodoBookID, m.UserID, m.Role, m.IsActive, m.JoinedAt, m.LeftAt)
	return err
}

func (r Repo) GetActiveMembership(ctx context.Context, bookID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := r.DB.GetContext(ctx, &m, `SELECT `+membershipColumns+` FROM memberships WHERE todobook_id=? AND user_id=? AND is_active=1`, bookID, userID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) GetActiveMembershipTx(ctx context.Context, tx *sqlx.Tx, bookID, userID string) (domain.Membership, error) {
	var m domain.Membership
	err := tx.GetContext(ctx, &m, `SELECT `+membershipColumns+` FROM memberships WHERE todobook_id=? AND user_id=? AND is_active=1`, bookID, userID)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	return m, err
}

func (r Repo) DeactivateMembershipTx(ctx context.Context, tx *sqlx.Tx, bookID, userID, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE memberships SET is_active=0, left_at=? WHERE todobook_id=? AND user_id=? AND is_active=1`,
		now, bookID, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ListActiveMembers(ctx context.Context, bookID string) ([]domain.Membership, error) {
	var members []domain.Membership
	err := r.DB.SelectContext(ctx, &members, `SELECT `+membershipColumns+` FROM memberships WHERE todobook_id=? AND is_active=1 ORDER BY joined_at, id`, bookID)
	return members, err
}

func (r Repo) CountActiveMembersTx(ctx context.Context, tx *sqlx.Tx, bookID string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM memberships WHERE todobook_id=? AND is_active=1`, bookID)
	return n, err
}
