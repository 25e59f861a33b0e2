package engine

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"todobook/internal/domain"
	"todobook/internal/engine/access"
	"todobook/internal/events"
	"todobook/internal/repo"
)

// Share codes avoid O, I and L so codes survive being read aloud or
// hand-copied. The first character is always a letter.
const (
	shareCodeLetters = "ABCDEFGHJKMNPQRSTUVWXYZ"
	shareCodeAlnum   = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	shareCodeLength  = 6
)

func randomShareCode() (string, error) {
	buf := make([]byte, shareCodeLength)
	for i := range buf {
		charset := shareCodeAlnum
		if i == 0 {
			charset = shareCodeLetters
		}
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		buf[i] = charset[n.Int64()]
	}
	return string(buf), nil
}

// generateShareCode draws codes until one is unused, bounded by the
// configured retry budget.
func (e Engine) generateShareCode(ctx context.Context, tx *sqlx.Tx) (string, error) {
	for i := 0; i < e.Config.Limits.ShareCodeRetries; i++ {
		code, err := randomShareCode()
		if err != nil {
			return "", err
		}
		exists, err := e.Repo.ShareCodeExistsTx(ctx, tx, code)
		if err != nil {
			return "", err
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("could not allocate a share code after %d attempts", e.Config.Limits.ShareCodeRetries)
}

// CreateShare publishes a book under a short code. A book carries at most
// one share; repeating the call keeps the existing code but applies the
// requested comment setting.
func (e Engine) CreateShare(ctx context.Context, bookID string, includeComments bool, actorID string) (domain.Share, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Share{}, err
	}
	defer tx.Rollback()

	book, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionManage)
	if err != nil {
		return domain.Share{}, err
	}
	if book.IsArchived {
		return domain.Share{}, invalidf("archived books cannot be shared")
	}
	if existing, err := e.Repo.GetShareByBookTx(ctx, tx, bookID); err == nil {
		if existing.IncludeComments != includeComments {
			if err := e.Repo.SetShareIncludeCommentsTx(ctx, tx, existing.Code, includeComments); err != nil {
				return domain.Share{}, err
			}
			existing.IncludeComments = includeComments
			if err := e.Events.Append(ctx, tx, "share.updated", bookID, "share", existing.Code, actorID, events.EventPayload{"include_comments": includeComments}); err != nil {
				return domain.Share{}, err
			}
		}
		return existing, tx.Commit()
	} else if err != repo.ErrNotFound {
		return domain.Share{}, err
	}

	code, err := e.generateShareCode(ctx, tx)
	if err != nil {
		return domain.Share{}, err
	}
	s := domain.Share{
		Code:            code,
		TodoBookID:      bookID,
		CreatorID:       actorID,
		IncludeComments: includeComments,
		CreatedAt:       e.nowString(),
	}
	if err := e.Repo.InsertShareTx(ctx, tx, s); err != nil {
		return domain.Share{}, err
	}
	if err := e.Events.Append(ctx, tx, "share.created", bookID, "share", code, actorID, nil); err != nil {
		return domain.Share{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Share{}, err
	}
	return s, nil
}

// GetSharePreview describes a shared book to someone deciding whether to
// import it. No membership is required; the code is the capability.
func (e Engine) GetSharePreview(ctx context.Context, code string) (domain.SharePreview, error) {
	share, err := e.Repo.GetShare(ctx, code)
	if err != nil {
		return domain.SharePreview{}, err
	}
	book, err := e.Repo.GetBook(ctx, share.TodoBookID)
	if err != nil {
		return domain.SharePreview{}, err
	}
	return domain.SharePreview{
		Code:            share.Code,
		Title:           book.Title,
		Description:     book.Description,
		Color:           book.Color,
		Icon:            book.Icon,
		TaskCount:       book.ItemCount,
		IncludeComments: share.IncludeComments,
		CreatedAt:       share.CreatedAt,
	}, nil
}

func (e Engine) ListShares(ctx context.Context, actorID string) ([]domain.Share, error) {
	return e.Repo.ListSharesByUser(ctx, actorID)
}

func (e Engine) DeleteShare(ctx context.Context, code, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	share, err := e.Repo.GetShareTx(ctx, tx, code)
	if err != nil {
		return err
	}
	if share.CreatorID != actorID {
		return access.ForbiddenError{Action: access.ActionManage}
	}
	if err := e.Repo.DeleteShareTx(ctx, tx, code); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "share.deleted", share.TodoBookID, "share", code, actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// ImportByCode copies a shared book into the caller's account. The copy is
// independent of the source: new ids throughout, the caller as creator and
// sole member, comment reply chains rewired to the copied comment ids.
func (e Engine) ImportByCode(ctx context.Context, code, actorID string) (domain.TodoBook, error) {
	if actorID == "" {
		return domain.TodoBook{}, invalidf("actor is required")
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.TodoBook{}, err
	}
	defer tx.Rollback()

	share, err := e.Repo.GetShareTx(ctx, tx, code)
	if err != nil {
		return domain.TodoBook{}, err
	}
	source, err := e.Repo.GetBookTx(ctx, tx, share.TodoBookID)
	if err != nil {
		return domain.TodoBook{}, err
	}
	if source.CreatorID == actorID {
		return domain.TodoBook{}, invalidf("cannot import your own book")
	}

	title, err := e.importTitle(ctx, tx, actorID, source.Title)
	if err != nil {
		return domain.TodoBook{}, err
	}

	now := e.nowString()
	book := domain.TodoBook{
		ID:             uuid.NewString(),
		Title:          title,
		Description:    source.Description,
		Color:          source.Color,
		Icon:           source.Icon,
		CreatorID:      actorID,
		MemberCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}

	tasks, err := e.Repo.ListAllTasksTx(ctx, tx, source.ID)
	if err != nil {
		return domain.TodoBook{}, err
	}
	taskIDs := make([]string, len(tasks))
	for i, t := range tasks {
		taskIDs[i] = t.ID
	}
	tags, err := e.Repo.TagsForTasksTx(ctx, tx, taskIDs)
	if err != nil {
		return domain.TodoBook{}, err
	}

	taskIDMap := make(map[string]string, len(tasks))
	for _, t := range tasks {
		taskIDMap[t.ID] = uuid.NewString()
		book.ItemCount++
		if t.Status == domain.TaskStatusCompleted {
			book.CompletedCount++
		}
	}

	if err := e.Repo.InsertBookTx(ctx, tx, book); err != nil {
		return domain.TodoBook{}, err
	}
	m := domain.Membership{
		ID:         uuid.NewString(),
		TodoBookID: book.ID,
		UserID:     actorID,
		Role:       "owner",
		IsActive:   true,
		JoinedAt:   now,
	}
	if err := e.Repo.InsertMembershipTx(ctx, tx, m); err != nil {
		return domain.TodoBook{}, err
	}

	// Parents are ordered before subtasks, so the id map is always
	// populated by the time a child needs it.
	for _, t := range tasks {
		copyTask := t
		copyTask.ID = taskIDMap[t.ID]
		copyTask.TodoBookID = book.ID
		copyTask.Tags = tags[t.ID]
		if t.ParentID != nil {
			newParent, ok := taskIDMap[*t.ParentID]
			if !ok {
				return domain.TodoBook{}, access.CorruptDataError{Kind: "task", ID: t.ID}
			}
			copyTask.ParentID = &newParent
		}
		if err := e.Repo.InsertTaskTx(ctx, tx, copyTask); err != nil {
			return domain.TodoBook{}, err
		}
		if share.IncludeComments {
			if err := e.copyComments(ctx, tx, t.ID, copyTask.ID); err != nil {
				return domain.TodoBook{}, err
			}
		}
	}

	if err := e.Repo.BumpShareImportTx(ctx, tx, code, now); err != nil {
		return domain.TodoBook{}, err
	}
	if err := e.Events.Append(ctx, tx, "share.imported", book.ID, "book", book.ID, actorID, events.EventPayload{"code": code, "source_book_id": source.ID}); err != nil {
		return domain.TodoBook{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TodoBook{}, err
	}
	return book, nil
}

// importTitle keeps the source title when free, otherwise suffixes it until
// it no longer collides with the importer's books.
func (e Engine) importTitle(ctx context.Context, tx *sqlx.Tx, actorID, title string) (string, error) {
	candidate := title
	for i := 0; ; i++ {
		taken, err := e.Repo.TitleTakenTx(ctx, tx, actorID, candidate, "")
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		if i == 0 {
			candidate = title + " (imported)"
		} else {
			candidate = fmt.Sprintf("%s (imported %d)", title, i+1)
		}
	}
}

// copyComments clones a task's visible comments. New ids are minted for
// every surviving comment before any row is written, so reply targets
// resolve regardless of how the originals are ordered. Replies to deleted
// comments lose their reply_to.
func (e Engine) copyComments(ctx context.Context, tx *sqlx.Tx, sourceTaskID, newTaskID string) error {
	comments, err := e.Repo.ListCommentsTx(ctx, tx, sourceTaskID)
	if err != nil {
		return err
	}
	idMap := make(map[string]string, len(comments))
	for _, c := range comments {
		if c.IsDeleted {
			continue
		}
		idMap[c.ID] = uuid.NewString()
	}
	for _, c := range comments {
		if c.IsDeleted {
			continue
		}
		copyComment := c
		copyComment.ID = idMap[c.ID]
		copyComment.TaskID = newTaskID
		if c.ReplyTo != nil {
			if mapped, ok := idMap[*c.ReplyTo]; ok {
				copyComment.ReplyTo = &mapped
			} else {
				copyComment.ReplyTo = nil
			}
		}
		if err := e.Repo.InsertCommentTx(ctx, tx, copyComment); err != nil {
			return err
		}
	}
	return nil
}
