package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"todobook/internal/domain"
	"todobook/internal/engine/access"
	"todobook/internal/events"
	"todobook/internal/repo"
)

var validPriorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

func (e Engine) validateTags(tags []domain.Tag) error {
	if len(tags) > e.Config.Limits.MaxTagsPerTask {
		return invalidf("at most %d tags per task", e.Config.Limits.MaxTagsPerTask)
	}
	for _, t := range tags {
		switch t.Kind {
		case domain.TagKindRef:
			if t.TagID == "" || t.Label != "" {
				return invalidf("ref tags carry tag_id only")
			}
		case domain.TagKindLabel:
			if t.Label == "" || t.TagID != "" {
				return invalidf("label tags carry label only")
			}
		default:
			return invalidf("tag kind must be ref or label")
		}
	}
	return nil
}

func validateDueDate(due string) error {
	if _, err := time.Parse(time.RFC3339, due); err != nil {
		return invalidf("due_date must be RFC3339")
	}
	return nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	BookID         string
	ParentID       string
	Title          string
	Description    string
	Priority       string
	Tags           []domain.Tag
	DueDate        string
	EstimatedHours *float64
	Budget         *float64
	ActualCost     *float64
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if err := e.validateTitle(opts.Title); err != nil {
		return domain.Task{}, err
	}
	if err := e.validateDescription(opts.Description); err != nil {
		return domain.Task{}, err
	}
	if opts.Priority == "" {
		opts.Priority = "medium"
	}
	if !validPriorities[opts.Priority] {
		return domain.Task{}, invalidf("priority must be one of low, medium, high, urgent")
	}
	if err := e.validateTags(opts.Tags); err != nil {
		return domain.Task{}, err
	}
	if opts.DueDate != "" {
		if err := validateDueDate(opts.DueDate); err != nil {
			return domain.Task{}, err
		}
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if _, err := e.Access.CheckBook(ctx, tx, opts.BookID, opts.ActorID, access.ActionEdit); err != nil {
		return domain.Task{}, err
	}
	var parentID *string
	if opts.ParentID != "" {
		parent, err := e.Repo.GetTaskTx(ctx, tx, opts.ParentID)
		if err != nil {
			return domain.Task{}, err
		}
		if parent.TodoBookID != opts.BookID {
			return domain.Task{}, invalidf("parent task belongs to a different book")
		}
		if parent.ParentID != nil {
			return domain.Task{}, invalidf("subtasks cannot have their own subtasks")
		}
		parentID = &opts.ParentID
	}
	maxOrder, err := e.Repo.MaxSortOrderTx(ctx, tx, opts.BookID, parentID)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	t := domain.Task{
		ID:             uuid.NewString(),
		TodoBookID:     opts.BookID,
		ParentID:       parentID,
		Title:          opts.Title,
		Description:    opts.Description,
		Status:         domain.TaskStatusTodo,
		Priority:       opts.Priority,
		Tags:           opts.Tags,
		DueDate:        optionalString(opts.DueDate),
		EstimatedHours: opts.EstimatedHours,
		Budget:         opts.Budget,
		ActualCost:     opts.ActualCost,
		SortOrder:      maxOrder + 1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := e.Repo.InsertTaskTx(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.AdjustBookCountersTx(ctx, tx, opts.BookID, 1, 0, 0, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", opts.BookID, "task", t.ID, opts.ActorID, events.EventPayload{"title": t.Title}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// TaskUpdateOptions carry optional field changes; nil means leave as is.
type TaskUpdateOptions struct {
	Title          *string
	Description    *string
	Priority       *string
	DueDate        *string // empty string clears the due date
	EstimatedHours *float64
	Budget         *float64
	ActualCost     *float64
	Tags           []domain.Tag
	TagsSet        bool
	ActorID        string
}

func (e Engine) UpdateTask(ctx context.Context, taskID string, opts TaskUpdateOptions) (domain.Task, error) {
	if opts.Title != nil {
		if err := e.validateTitle(*opts.Title); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.Description != nil {
		if err := e.validateDescription(*opts.Description); err != nil {
			return domain.Task{}, err
		}
	}
	if opts.Priority != nil && !validPriorities[*opts.Priority] {
		return domain.Task{}, invalidf("priority must be one of low, medium, high, urgent")
	}
	if opts.TagsSet {
		if err := e.validateTags(opts.Tags); err != nil {
			return domain.Task{}, err
		}
	}
	upd := repo.TaskUpdate{
		Title:          opts.Title,
		Description:    opts.Description,
		Priority:       opts.Priority,
		EstimatedHours: opts.EstimatedHours,
		Budget:         opts.Budget,
		ActualCost:     opts.ActualCost,
		Tags:           opts.Tags,
		TagsSet:        opts.TagsSet,
	}
	if opts.DueDate != nil {
		if *opts.DueDate == "" {
			upd.ClearDueDate = true
		} else {
			if err := validateDueDate(*opts.DueDate); err != nil {
				return domain.Task{}, err
			}
			upd.DueDate = opts.DueDate
		}
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	task, _, err := e.Access.CheckTask(ctx, tx, taskID, opts.ActorID, access.ActionEdit)
	if err != nil {
		return domain.Task{}, err
	}
	now := e.nowString()
	if err := e.Repo.UpdateTaskTx(ctx, tx, taskID, upd, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Repo.TouchBookTx(ctx, tx, task.TodoBookID, now); err != nil {
		return domain.Task{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.updated", task.TodoBookID, "task", taskID, opts.ActorID, nil); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	updated.Tags = opts.Tags
	if !opts.TagsSet {
		tags, err := e.Repo.TagsForTasks(ctx, []string{taskID})
		if err != nil {
			return domain.Task{}, err
		}
		updated.Tags = tags[taskID]
	}
	return updated, nil
}

// DeleteTask removes a task and its subtasks, keeping the book counters in
// step with what disappears.
func (e Engine) DeleteTask(ctx context.Context, taskID, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionEdit)
	if err != nil {
		return err
	}
	removed := []domain.Task{task}
	if task.ParentID == nil {
		subs, err := e.Repo.ListSubtasksTx(ctx, tx, taskID)
		if err != nil {
			return err
		}
		removed = append(removed, subs...)
	}
	itemDelta, completedDelta := 0, 0
	for _, t := range removed {
		itemDelta--
		if t.Status == domain.TaskStatusCompleted {
			completedDelta--
		}
	}
	if err := e.Repo.DeleteTaskTx(ctx, tx, taskID); err != nil {
		return err
	}
	now := e.nowString()
	if err := e.Repo.AdjustBookCountersTx(ctx, tx, task.TodoBookID, itemDelta, completedDelta, 0, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.deleted", task.TodoBookID, "task", taskID, actorID, events.EventPayload{"title": task.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

// SetTaskStatus toggles a task between todo and completed, adjusting the
// book's completed counter and keeping parent status consistent. Completing
// a parent requires every subtask to be completed first; reopening a subtask
// reopens a completed parent.
func (e Engine) SetTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	if status != domain.TaskStatusTodo && status != domain.TaskStatusCompleted {
		return domain.Task{}, invalidf("status must be todo or completed")
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	task, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionEdit)
	if err != nil {
		return domain.Task{}, err
	}
	if task.Status == status {
		return task, tx.Commit()
	}
	now := e.nowString()
	completedDelta := 0

	if status == domain.TaskStatusCompleted {
		if task.ParentID == nil {
			pending, err := e.Repo.CountSubtasksByStatusTx(ctx, tx, taskID, domain.TaskStatusTodo)
			if err != nil {
				return domain.Task{}, err
			}
			if pending > 0 {
				return domain.Task{}, invalidf("%d subtasks are still todo", pending)
			}
		}
		if err := e.Repo.SetTaskStatusTx(ctx, tx, taskID, status, &now, now); err != nil {
			return domain.Task{}, err
		}
		completedDelta++
	} else {
		if err := e.Repo.SetTaskStatusTx(ctx, tx, taskID, status, nil, now); err != nil {
			return domain.Task{}, err
		}
		completedDelta--
		if task.ParentID != nil {
			parent, err := e.Repo.GetTaskTx(ctx, tx, *task.ParentID)
			if err != nil {
				return domain.Task{}, err
			}
			if parent.Status == domain.TaskStatusCompleted {
				if err := e.Repo.SetTaskStatusTx(ctx, tx, parent.ID, domain.TaskStatusTodo, nil, now); err != nil {
					return domain.Task{}, err
				}
				completedDelta--
				if err := e.Events.Append(ctx, tx, "task.reopened", task.TodoBookID, "task", parent.ID, actorID, nil); err != nil {
					return domain.Task{}, err
				}
			}
		}
	}

	if err := e.Repo.AdjustBookCountersTx(ctx, tx, task.TodoBookID, 0, completedDelta, 0, now); err != nil {
		return domain.Task{}, err
	}
	evt := "task.completed"
	if status == domain.TaskStatusTodo {
		evt = "task.reopened"
	}
	if err := e.Events.Append(ctx, tx, evt, task.TodoBookID, "task", taskID, actorID, nil); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return updated, tx.Commit()
}

// ReorderTask moves a task to position among its siblings, then renumbers
// every sibling sequentially from 1 so repeated calls settle to the same
// layout.
func (e Engine) ReorderTask(ctx context.Context, taskID string, position int, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	task, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionEdit)
	if err != nil {
		return err
	}
	siblings, err := e.Repo.ListSiblingsTx(ctx, tx, task.TodoBookID, task.ParentID)
	if err != nil {
		return err
	}
	ordered := make([]domain.Task, 0, len(siblings))
	for _, s := range siblings {
		if s.ID != taskID {
			ordered = append(ordered, s)
		}
	}
	if position < 0 {
		position = 0
	}
	if position > len(ordered) {
		position = len(ordered)
	}
	ordered = append(ordered[:position], append([]domain.Task{task}, ordered[position:]...)...)

	now := e.nowString()
	for i, s := range ordered {
		if s.SortOrder != i+1 {
			if err := e.Repo.SetSortOrderTx(ctx, tx, s.ID, i+1, now); err != nil {
				return err
			}
		}
	}
	if err := e.Repo.TouchBookTx(ctx, tx, task.TodoBookID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "task.reordered", task.TodoBookID, "task", taskID, actorID, events.EventPayload{"position": position}); err != nil {
		return err
	}
	return tx.Commit()
}

// TaskPage is one page of a book's top-level tasks. Total is computed only
// for the first page; later pages return -1 to spare the count query's cost
// on deep scrolls.
type TaskPage struct {
	Tasks    []domain.Task
	Total    int
	Page     int
	PageSize int
}

func (e Engine) ListTasks(ctx context.Context, bookID string, f repo.TaskFilters, actorID string) (TaskPage, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = e.Config.Limits.DefaultPageSize
	}
	if f.PageSize > e.Config.Limits.MaxPageSize {
		f.PageSize = e.Config.Limits.MaxPageSize
	}
	switch f.SortBy {
	case "", "created_at", "updated_at", "due_date", "priority", "tags":
	default:
		return TaskPage{}, invalidf("sort must be one of created_at, updated_at, due_date, priority, tags")
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return TaskPage{}, err
	}
	defer tx.Rollback()
	if _, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionView); err != nil {
		return TaskPage{}, err
	}
	if err := tx.Commit(); err != nil {
		return TaskPage{}, err
	}

	tasks, total, err := e.Repo.ListTasks(ctx, bookID, f)
	if err != nil {
		return TaskPage{}, err
	}
	if err := e.attachTaskExtras(ctx, tasks); err != nil {
		return TaskPage{}, err
	}
	page := TaskPage{Tasks: tasks, Total: total, Page: f.Page, PageSize: f.PageSize}
	if f.Page > 1 {
		page.Total = -1
	}
	return page, nil
}

// attachTaskExtras loads subtasks, tags and comment counts for a slice of
// top-level tasks.
func (e Engine) attachTaskExtras(ctx context.Context, tasks []domain.Task) error {
	parentIDs := make([]string, len(tasks))
	for i := range tasks {
		parentIDs[i] = tasks[i].ID
	}
	subsByParent, err := e.Repo.SubtasksForTasks(ctx, parentIDs)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(tasks))
	for i := range tasks {
		tasks[i].Subtasks = subsByParent[tasks[i].ID]
		ids = append(ids, tasks[i].ID)
		for _, s := range tasks[i].Subtasks {
			ids = append(ids, s.ID)
		}
	}
	tags, err := e.Repo.TagsForTasks(ctx, ids)
	if err != nil {
		return err
	}
	counts, err := e.Repo.CommentCounts(ctx, ids)
	if err != nil {
		return err
	}
	for i := range tasks {
		tasks[i].Tags = tags[tasks[i].ID]
		tasks[i].CommentCount = counts[tasks[i].ID]
		for j := range tasks[i].Subtasks {
			sub := &tasks[i].Subtasks[j]
			sub.Tags = tags[sub.ID]
			sub.CommentCount = counts[sub.ID]
		}
	}
	return nil
}

func (e Engine) GetTaskDetail(ctx context.Context, taskID, actorID string) (domain.Task, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	task, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionView)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	tasks := []domain.Task{task}
	if err := e.attachTaskExtras(ctx, tasks); err != nil {
		return domain.Task{}, err
	}
	return tasks[0], nil
}
