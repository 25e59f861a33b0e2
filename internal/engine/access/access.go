package access

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
	"todobook/internal/repo"
)

// Action is the level of access a caller needs on a book.
type Action string

const (
	// ActionView covers reads: book detail, task listing, comments.
	ActionView Action = "view"
	// ActionEdit covers task and comment mutations by any active member.
	ActionEdit Action = "edit"
	// ActionManage covers book-level control reserved for the creator:
	// archive, delete, sharing, member removal.
	ActionManage Action = "manage"
)

// ForbiddenError indicates the caller lacks access to an existing resource.
// Reason, when set, replaces the generic message.
type ForbiddenError struct {
	Action Action
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s access required", e.Action)
}

// CorruptDataError indicates a record that violates storage invariants,
// such as a book without a creator or a task whose book is gone. These are
// store defects, never permission failures.
type CorruptDataError struct {
	Kind string
	ID   string
}

func (e CorruptDataError) Error() string {
	return fmt.Sprintf("corrupt %s record %s", e.Kind, e.ID)
}

// Checker evaluates book and task access inside a transaction.
type Checker struct {
	Repo repo.Repo
}

// CheckBook loads the book and verifies the caller may perform the action.
// A missing book surfaces repo.ErrNotFound; an existing book the caller
// cannot touch surfaces ForbiddenError, regardless of whether they could
// see it, so probing for book ids reveals nothing.
func (c Checker) CheckBook(ctx context.Context, tx *sqlx.Tx, bookID, userID string, action Action) (domain.TodoBook, error) {
	book, err := c.Repo.GetBookTx(ctx, tx, bookID)
	if err != nil {
		return domain.TodoBook{}, err
	}
	if book.CreatorID == "" {
		// A blank userID must never match a corrupt row and gain
		// creator rights.
		return domain.TodoBook{}, CorruptDataError{Kind: "book", ID: bookID}
	}
	isCreator := book.CreatorID == userID
	if !isCreator {
		if _, err := c.Repo.GetActiveMembershipTx(ctx, tx, bookID, userID); err == repo.ErrNotFound {
			return domain.TodoBook{}, ForbiddenError{Action: action}
		} else if err != nil {
			return domain.TodoBook{}, err
		}
	}
	switch action {
	case ActionView:
		return book, nil
	case ActionEdit:
		if book.IsArchived {
			return domain.TodoBook{}, ForbiddenError{Action: action}
		}
		return book, nil
	case ActionManage:
		if !isCreator {
			return domain.TodoBook{}, ForbiddenError{Action: action}
		}
		return book, nil
	default:
		return domain.TodoBook{}, fmt.Errorf("unknown action %q", action)
	}
}

// CheckTask resolves a task and applies the book check for its container.
func (c Checker) CheckTask(ctx context.Context, tx *sqlx.Tx, taskID, userID string, action Action) (domain.Task, domain.TodoBook, error) {
	task, err := c.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, domain.TodoBook{}, err
	}
	book, err := c.CheckBook(ctx, tx, task.TodoBookID, userID, action)
	if err == repo.ErrNotFound {
		return domain.Task{}, domain.TodoBook{}, CorruptDataError{Kind: "task", ID: taskID}
	}
	if err != nil {
		return domain.Task{}, domain.TodoBook{}, err
	}
	return task, book, nil
}
