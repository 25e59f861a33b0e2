package engine

import (
	"context"

	"github.com/google/uuid"

	"todobook/internal/domain"
	"todobook/internal/engine/access"
	"todobook/internal/events"
	"todobook/internal/repo"
)

func (e Engine) validateComment(content string) error {
	if content == "" {
		return invalidf("content is required")
	}
	if len([]rune(content)) > e.Config.Limits.CommentMaxLength {
		return invalidf("content exceeds %d characters", e.Config.Limits.CommentMaxLength)
	}
	return nil
}

func (e Engine) AddComment(ctx context.Context, taskID, content, replyTo, actorID string) (domain.Comment, error) {
	if err := e.validateComment(content); err != nil {
		return domain.Comment{}, err
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	task, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionEdit)
	if err != nil {
		return domain.Comment{}, err
	}
	if replyTo != "" {
		target, err := e.Repo.GetCommentTx(ctx, tx, replyTo)
		if err == repo.ErrNotFound {
			return domain.Comment{}, invalidf("reply target %s does not exist", replyTo)
		}
		if err != nil {
			return domain.Comment{}, err
		}
		if target.TaskID != taskID {
			return domain.Comment{}, invalidf("reply target belongs to a different task")
		}
		if target.IsDeleted {
			return domain.Comment{}, invalidf("reply target is deleted")
		}
		// Threads are two levels deep at most: replies to replies are out.
		if target.ReplyTo != nil {
			return domain.Comment{}, invalidf("cannot reply to a reply")
		}
	}
	now := e.nowString()
	c := domain.Comment{
		ID:        uuid.NewString(),
		TaskID:    taskID,
		UserID:    actorID,
		Content:   content,
		ReplyTo:   optionalString(replyTo),
		CreatedAt: now,
	}
	if err := e.Repo.InsertCommentTx(ctx, tx, c); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Repo.TouchBookTx(ctx, tx, task.TodoBookID, now); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, "comment.added", task.TodoBookID, "comment", c.ID, actorID, events.EventPayload{"task_id": taskID}); err != nil {
		return domain.Comment{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Comment{}, err
	}
	return c, nil
}

// UpdateComment rewrites a comment's content. Only the author may edit.
func (e Engine) UpdateComment(ctx context.Context, commentID, content, actorID string) (domain.Comment, error) {
	if err := e.validateComment(content); err != nil {
		return domain.Comment{}, err
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Comment{}, err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommentTx(ctx, tx, commentID)
	if err != nil {
		return domain.Comment{}, err
	}
	task, _, err := e.Access.CheckTask(ctx, tx, c.TaskID, actorID, access.ActionEdit)
	if err != nil {
		return domain.Comment{}, err
	}
	if c.UserID != actorID {
		return domain.Comment{}, access.ForbiddenError{Action: access.ActionEdit}
	}
	if c.IsDeleted {
		return domain.Comment{}, invalidf("comment is deleted")
	}
	now := e.nowString()
	if err := e.Repo.UpdateCommentTx(ctx, tx, commentID, content, now); err != nil {
		return domain.Comment{}, err
	}
	if err := e.Events.Append(ctx, tx, "comment.updated", task.TodoBookID, "comment", commentID, actorID, nil); err != nil {
		return domain.Comment{}, err
	}
	c.Content = content
	c.UpdatedAt = &now
	return c, tx.Commit()
}

// DeleteComment soft-deletes a comment so replies keep a valid target. The
// author and the book creator may delete.
func (e Engine) DeleteComment(ctx context.Context, commentID, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	c, err := e.Repo.GetCommentTx(ctx, tx, commentID)
	if err != nil {
		return err
	}
	task, book, err := e.Access.CheckTask(ctx, tx, c.TaskID, actorID, access.ActionEdit)
	if err != nil {
		return err
	}
	if c.UserID != actorID && book.CreatorID != actorID {
		return access.ForbiddenError{Action: access.ActionEdit}
	}
	now := e.nowString()
	if err := e.Repo.SoftDeleteCommentTx(ctx, tx, commentID, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "comment.deleted", task.TodoBookID, "comment", commentID, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// CommentPage mirrors TaskPage for a task's comment thread.
type CommentPage struct {
	Comments []domain.Comment
	Total    int
	Page     int
	PageSize int
}

func (e Engine) ListComments(ctx context.Context, taskID string, page, pageSize int, actorID string) (CommentPage, error) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = e.Config.Limits.DefaultPageSize
	}
	if pageSize > e.Config.Limits.MaxPageSize {
		pageSize = e.Config.Limits.MaxPageSize
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return CommentPage{}, err
	}
	defer tx.Rollback()
	if _, _, err := e.Access.CheckTask(ctx, tx, taskID, actorID, access.ActionView); err != nil {
		return CommentPage{}, err
	}
	if err := tx.Commit(); err != nil {
		return CommentPage{}, err
	}

	comments, total, err := e.Repo.ListComments(ctx, taskID, page, pageSize)
	if err != nil {
		return CommentPage{}, err
	}
	for i := range comments {
		if comments[i].IsDeleted {
			comments[i].Content = ""
		}
	}
	return CommentPage{Comments: comments, Total: total, Page: page, PageSize: pageSize}, nil
}
