package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
)

const taskColumns = `id,todobook_id,parent_id,title,COALESCE(description,'') AS description,status,priority,due_date,estimated_hours,budget,actual_cost,sort_order,created_at,updated_at,completed_at,last_activity_at`

func (r Repo) InsertTaskTx(ctx context.Context, tx *sqlx.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,todobook_id,parent_id,title,description,status,priority,due_date,estimated_hours,budget,actual_cost,sort_order,created_at,updated_at,completed_at,last_activity_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.TodoBookID, t.ParentID, t.Title, nullable(t.Description), t.Status, t.Priority,
		t.DueDate, t.EstimatedHours, t.Budget, t.ActualCost, t.SortOrder,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.LastActivityAt)
	if err != nil {
		return err
	}
	return r.ReplaceTaskTagsTx(ctx, tx, t.ID, t.Tags)
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var t domain.Task
	err := r.DB.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sqlx.Tx, id string) (domain.Task, error) {
	var t domain.Task
	err := tx.GetContext(ctx, &t, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

type TaskUpdate struct {
	Title          *string
	Description    *string
	Priority       *string
	DueDate        *string
	ClearDueDate   bool
	EstimatedHours *float64
	Budget         *float64
	ActualCost     *float64
	Tags           []domain.Tag
	TagsSet        bool
}

func (r Repo) UpdateTaskTx(ctx context.Context, tx *sqlx.Tx, id string, upd TaskUpdate, now string) error {
	fields := []string{"updated_at=?", "last_activity_at=?"}
	args := []any{now, now}
	if upd.Title != nil {
		fields = append(fields, "title=?")
		args = append(args, *upd.Title)
	}
	if upd.Description != nil {
		fields = append(fields, "description=?")
		args = append(args, nullable(*upd.Description))
	}
	if upd.Priority != nil {
		fields = append(fields, "priority=?")
		args = append(args, *upd.Priority)
	}
	if upd.ClearDueDate {
		fields = append(fields, "due_date=NULL")
	} else if upd.DueDate != nil {
		fields = append(fields, "due_date=?")
		args = append(args, *upd.DueDate)
	}
	if upd.EstimatedHours != nil {
		fields = append(fields, "estimated_hours=?")
		args = append(args, *upd.EstimatedHours)
	}
	if upd.Budget != nil {
		fields = append(fields, "budget=?")
		args = append(args, *upd.Budget)
	}
	if upd.ActualCost != nil {
		fields = append(fields, "actual_cost=?")
		args = append(args, *upd.ActualCost)
	}
	args = append(args, id)
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE tasks SET %s WHERE id=?`, strings.Join(fields, ",")), args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if upd.TagsSet {
		return r.ReplaceTaskTagsTx(ctx, tx, id, upd.Tags)
	}
	return nil
}

func (r Repo) SetTaskStatusTx(ctx context.Context, tx *sqlx.Tx, id, status string, completedAt *string, now string) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET status=?, completed_at=?, updated_at=?, last_activity_at=? WHERE id=?`,
		status, completedAt, now, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteTaskTx removes a task; subtasks, tags and comments go with it via
// cascading foreign keys.
func (r Repo) DeleteTaskTx(ctx context.Context, tx *sqlx.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SubtasksForTasks loads the subtasks of every listed parent in one query,
// grouped by parent id and ordered for display.
func (r Repo) SubtasksForTasks(ctx context.Context, parentIDs []string) (map[string][]domain.Task, error) {
	result := make(map[string][]domain.Task)
	if len(parentIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+taskColumns+` FROM tasks WHERE parent_id IN (?) ORDER BY parent_id, sort_order, created_at, id`, parentIDs)
	if err != nil {
		return nil, err
	}
	var tasks []domain.Task
	if err := r.DB.SelectContext(ctx, &tasks, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		result[*t.ParentID] = append(result[*t.ParentID], t)
	}
	return result, nil
}

func (r Repo) ListSubtasksTx(ctx context.Context, tx *sqlx.Tx, parentID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := tx.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE parent_id=? ORDER BY sort_order, created_at, id`, parentID)
	return tasks, err
}

func (r Repo) CountSubtasksByStatusTx(ctx context.Context, tx *sqlx.Tx, parentID, status string) (int, error) {
	var n int
	err := tx.GetContext(ctx, &n, `SELECT COUNT(*) FROM tasks WHERE parent_id=? AND status=?`, parentID, status)
	return n, err
}

func (r Repo) MaxSortOrderTx(ctx context.Context, tx *sqlx.Tx, bookID string, parentID *string) (int, error) {
	var n int
	var err error
	if parentID == nil {
		err = tx.GetContext(ctx, &n, `SELECT COALESCE(MAX(sort_order),0) FROM tasks WHERE todobook_id=? AND parent_id IS NULL`, bookID)
	} else {
		err = tx.GetContext(ctx, &n, `SELECT COALESCE(MAX(sort_order),0) FROM tasks WHERE parent_id=?`, *parentID)
	}
	return n, err
}

// ListSiblingsTx returns all tasks sharing a parent slot, in display order.
func (r Repo) ListSiblingsTx(ctx context.Context, tx *sqlx.Tx, bookID string, parentID *string) ([]domain.Task, error) {
	var tasks []domain.Task
	var err error
	if parentID == nil {
		err = tx.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE todobook_id=? AND parent_id IS NULL ORDER BY sort_order, created_at, id`, bookID)
	} else {
		err = tx.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE parent_id=? ORDER BY sort_order, created_at, id`, *parentID)
	}
	return tasks, err
}

func (r Repo) SetSortOrderTx(ctx context.Context, tx *sqlx.Tx, id string, order int, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE tasks SET sort_order=?, updated_at=? WHERE id=?`, order, now, id)
	return err
}

func (r Repo) ReplaceTaskTagsTx(ctx context.Context, tx *sqlx.Tx, taskID string, tags []domain.Tag) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM task_tags WHERE task_id=?`, taskID); err != nil {
		return err
	}
	for i, tag := range tags {
		_, err := tx.ExecContext(ctx, `INSERT INTO task_tags(task_id,position,kind,tag_id,label) VALUES (?,?,?,?,?)`,
			taskID, i, tag.Kind, nullable(tag.TagID), nullable(tag.Label))
		if err != nil {
			return err
		}
	}
	return nil
}

type taskTagRow struct {
	TaskID string `db:"task_id"`
	Kind   string `db:"kind"`
	TagID  string `db:"tag_id"`
	Label  string `db:"label"`
}

// TagsForTasks loads the tags of every listed task in one query.
func (r Repo) TagsForTasks(ctx context.Context, taskIDs []string) (map[string][]domain.Tag, error) {
	result := make(map[string][]domain.Tag)
	if len(taskIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT task_id,kind,COALESCE(tag_id,'') AS tag_id,COALESCE(label,'') AS label FROM task_tags WHERE task_id IN (?) ORDER BY task_id,position`, taskIDs)
	if err != nil {
		return nil, err
	}
	var rows []taskTagRow
	if err := r.DB.SelectContext(ctx, &rows, r.DB.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.TaskID] = append(result[row.TaskID], domain.Tag{Kind: row.Kind, TagID: row.TagID, Label: row.Label})
	}
	return result, nil
}

// TaskFilters narrows and orders a top-level task listing.
type TaskFilters struct {
	Status   string // "", "all", "todo" or "completed"
	Keyword  string
	Tag      string
	SortBy   string // created_at, due_date, priority or tags
	SortDesc bool
	Page     int
	PageSize int
}

func taskListWhere(bookID string, f TaskFilters) (string, []any) {
	where := []string{"todobook_id=?", "parent_id IS NULL"}
	args := []any{bookID}
	if f.Status != "" && f.Status != "all" {
		where = append(where, "status=?")
		args = append(args, f.Status)
	}
	if f.Keyword != "" {
		where = append(where, "(title LIKE ? COLLATE NOCASE OR COALESCE(description,'') LIKE ? COLLATE NOCASE)")
		pattern := "%" + f.Keyword + "%"
		args = append(args, pattern, pattern)
	}
	if f.Tag != "" {
		where = append(where, "id IN (SELECT task_id FROM task_tags WHERE tag_id=? OR label=?)")
		args = append(args, f.Tag, f.Tag)
	}
	return strings.Join(where, " AND "), args
}

func taskListOrder(f TaskFilters) string {
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	switch f.SortBy {
	case "created_at":
		return fmt.Sprintf("created_at %s, id", dir)
	case "updated_at":
		return fmt.Sprintf("updated_at %s, id", dir)
	case "due_date":
		// NULL due dates sink to the end in both directions.
		return fmt.Sprintf("due_date IS NULL, due_date %s, id", dir)
	case "priority":
		return fmt.Sprintf("CASE priority WHEN 'urgent' THEN 3 WHEN 'high' THEN 2 WHEN 'medium' THEN 1 ELSE 0 END %s, id", dir)
	case "tags":
		return fmt.Sprintf("(SELECT COALESCE(tag_id,label) FROM task_tags WHERE task_id=tasks.id ORDER BY position LIMIT 1) %s, id", dir)
	default:
		return "sort_order, created_at, id"
	}
}

// ListTasks pages through a book's top-level tasks. Total counts every match
// regardless of page.
func (r Repo) ListTasks(ctx context.Context, bookID string, f TaskFilters) ([]domain.Task, int, error) {
	where, args := taskListWhere(bookID, f)

	var total int
	if err := r.DB.GetContext(ctx, &total, `SELECT COUNT(*) FROM tasks WHERE `+where, args...); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM tasks WHERE %s ORDER BY %s LIMIT ? OFFSET ?`, taskColumns, where, taskListOrder(f))
	listArgs := append(args, f.PageSize, (f.Page-1)*f.PageSize)
	var tasks []domain.Task
	if err := r.DB.SelectContext(ctx, &tasks, q, listArgs...); err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

func (r Repo) ListAllTasksTx(ctx context.Context, tx *sqlx.Tx, bookID string) ([]domain.Task, error) {
	var tasks []domain.Task
	err := tx.SelectContext(ctx, &tasks, `SELECT `+taskColumns+` FROM tasks WHERE todobook_id=? ORDER BY parent_id IS NOT NULL, sort_order, created_at, id`, bookID)
	return tasks, err
}

func (r Repo) TagsForTasksTx(ctx context.Context, tx *sqlx.Tx, taskIDs []string) (map[string][]domain.Tag, error) {
	result := make(map[string][]domain.Tag)
	if len(taskIDs) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT task_id,kind,COALESCE(tag_id,'') AS tag_id,COALESCE(label,'') AS label FROM task_tags WHERE task_id IN (?) ORDER BY task_id,position`, taskIDs)
	if err != nil {
		return nil, err
	}
	var rows []taskTagRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, row := range rows {
		result[row.TaskID] = append(result[row.TaskID], domain.Tag{Kind: row.Kind, TagID: row.TagID, Label: row.Label})
	}
	return result, nil
}
