package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"todobook/internal/config"
	"todobook/internal/domain"
	"todobook/internal/engine/access"
	"todobook/internal/events"
	"todobook/internal/repo"
)

type Engine struct {
	DB     *sqlx.DB
	Repo   repo.Repo
	Access access.Checker
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sqlx.DB, cfg *config.Config) Engine {
	r := repo.Repo{DB: db}
	return Engine{
		DB:     db,
		Repo:   r,
		Access: access.Checker{Repo: r},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowString() string {
	return e.now().UTC().Format(time.RFC3339)
}

// ValidationError marks caller mistakes so the transport layer can map them
// to invalid_param instead of internal_error.
type ValidationError struct {
	msg string
}

func (e ValidationError) Error() string { return e.msg }

func invalidf(format string, args ...any) error {
	return ValidationError{msg: fmt.Sprintf(format, args...)}
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func (e Engine) validateTitle(title string) error {
	if title == "" {
		return invalidf("title is required")
	}
	if len([]rune(title)) > e.Config.Limits.TitleMaxLength {
		return invalidf("title exceeds %d characters", e.Config.Limits.TitleMaxLength)
	}
	return nil
}

func (e Engine) validateDescription(desc string) error {
	if len([]rune(desc)) > e.Config.Limits.DescriptionMaxLength {
		return invalidf("description exceeds %d characters", e.Config.Limits.DescriptionMaxLength)
	}
	return nil
}

func (e Engine) validateColor(color string) error {
	if color == "" || len(e.Config.Palette.Colors) == 0 {
		return nil
	}
	for _, c := range e.Config.Palette.Colors {
		if c == color {
			return nil
		}
	}
	return invalidf("color %q is not in the configured palette", color)
}

func (e Engine) validateIcon(icon string) error {
	if icon == "" || len(e.Config.Palette.Icons) == 0 {
		return nil
	}
	for _, i := range e.Config.Palette.Icons {
		if i == icon {
			return nil
		}
	}
	return invalidf("icon %q is not in the configured palette", icon)
}

// BookCreateOptions are parameters for creating a book.
type BookCreateOptions struct {
	Title       string
	Description string
	Color       string
	Icon        string
	ActorID     string
}

func (e Engine) CreateBook(ctx context.Context, opts BookCreateOptions) (domain.TodoBook, error) {
	if opts.ActorID == "" {
		return domain.TodoBook{}, invalidf("actor is required")
	}
	opts.Title = strings.TrimSpace(opts.Title)
	if err := e.validateTitle(opts.Title); err != nil {
		return domain.TodoBook{}, err
	}
	if err := e.validateDescription(opts.Description); err != nil {
		return domain.TodoBook{}, err
	}
	if err := e.validateColor(opts.Color); err != nil {
		return domain.TodoBook{}, err
	}
	if err := e.validateIcon(opts.Icon); err != nil {
		return domain.TodoBook{}, err
	}
	now := e.nowString()
	if opts.Color == "" && len(e.Config.Palette.Colors) > 0 {
		opts.Color = e.Config.Palette.Colors[0]
	}
	if opts.Icon == "" && len(e.Config.Palette.Icons) > 0 {
		opts.Icon = e.Config.Palette.Icons[0]
	}
	b := domain.TodoBook{
		ID:             uuid.NewString(),
		Title:          opts.Title,
		Description:    opts.Description,
		Color:          opts.Color,
		Icon:           opts.Icon,
		CreatorID:      opts.ActorID,
		MemberCount:    1,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.TodoBook{}, err
	}
	defer tx.Rollback()

	taken, err := e.Repo.TitleTakenTx(ctx, tx, opts.ActorID, opts.Title, "")
	if err != nil {
		return domain.TodoBook{}, err
	}
	if taken {
		return domain.TodoBook{}, invalidf("a book titled %q already exists", opts.Title)
	}
	if err := e.Repo.InsertBookTx(ctx, tx, b); err != nil {
		return domain.TodoBook{}, fmt.Errorf("insert book: %w", err)
	}
	m := domain.Membership{
		ID:         uuid.NewString(),
		TodoBookID: b.ID,
		UserID:     opts.ActorID,
		Role:       "owner",
		IsActive:   true,
		JoinedAt:   now,
	}
	if err := e.Repo.InsertMembershipTx(ctx, tx, m); err != nil {
		return domain.TodoBook{}, fmt.Errorf("insert membership: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "book.created", b.ID, "book", b.ID, opts.ActorID, events.EventPayload{"title": b.Title}); err != nil {
		return domain.TodoBook{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TodoBook{}, err
	}
	return b, nil
}

// BookUpdateOptions carry optional field changes; nil means leave as is.
type BookUpdateOptions struct {
	Title       *string
	Description *string
	Color       *string
	Icon        *string
	Archived    *bool
	ActorID     string
}

func (o BookUpdateOptions) hasContentChange() bool {
	return o.Title != nil || o.Description != nil || o.Color != nil || o.Icon != nil
}

func (e Engine) UpdateBook(ctx context.Context, bookID string, opts BookUpdateOptions) (domain.TodoBook, error) {
	if opts.Title != nil {
		trimmed := strings.TrimSpace(*opts.Title)
		opts.Title = &trimmed
		if err := e.validateTitle(trimmed); err != nil {
			return domain.TodoBook{}, err
		}
	}
	if opts.Description != nil {
		if err := e.validateDescription(*opts.Description); err != nil {
			return domain.TodoBook{}, err
		}
	}
	if opts.Color != nil {
		if err := e.validateColor(*opts.Color); err != nil {
			return domain.TodoBook{}, err
		}
	}
	if opts.Icon != nil {
		if err := e.validateIcon(*opts.Icon); err != nil {
			return domain.TodoBook{}, err
		}
	}

	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.TodoBook{}, err
	}
	defer tx.Rollback()

	// Metadata edits are open to any active member; the archive toggle is
	// book-level control and stays with the creator.
	action := access.ActionEdit
	if opts.Archived != nil {
		action = access.ActionManage
	}
	book, err := e.Access.CheckBook(ctx, tx, bookID, opts.ActorID, action)
	if err != nil {
		return domain.TodoBook{}, err
	}
	now := e.nowString()

	unarchiving := opts.Archived != nil && !*opts.Archived
	if book.IsArchived && opts.hasContentChange() && !unarchiving {
		return domain.TodoBook{}, access.ForbiddenError{Action: access.ActionEdit}
	}

	if opts.Archived != nil && *opts.Archived != book.IsArchived {
		if err := e.Repo.SetBookArchivedTx(ctx, tx, bookID, *opts.Archived, now); err != nil {
			return domain.TodoBook{}, err
		}
		evt := "book.archived"
		if !*opts.Archived {
			evt = "book.unarchived"
		}
		if err := e.Events.Append(ctx, tx, evt, bookID, "book", bookID, opts.ActorID, nil); err != nil {
			return domain.TodoBook{}, err
		}
	}

	if opts.hasContentChange() {
		if opts.Title != nil && *opts.Title != book.Title {
			taken, err := e.Repo.TitleTakenTx(ctx, tx, book.CreatorID, *opts.Title, bookID)
			if err != nil {
				return domain.TodoBook{}, err
			}
			if taken {
				return domain.TodoBook{}, invalidf("a book titled %q already exists", *opts.Title)
			}
		}
		upd := repo.BookUpdate{Title: opts.Title, Description: opts.Description, Color: opts.Color, Icon: opts.Icon}
		if err := e.Repo.UpdateBookTx(ctx, tx, bookID, upd, now); err != nil {
			return domain.TodoBook{}, err
		}
		if err := e.Events.Append(ctx, tx, "book.updated", bookID, "book", bookID, opts.ActorID, nil); err != nil {
			return domain.TodoBook{}, err
		}
	}

	updated, err := e.Repo.GetBookTx(ctx, tx, bookID)
	if err != nil {
		return domain.TodoBook{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.TodoBook{}, err
	}
	return updated, nil
}

func (e Engine) DeleteBook(ctx context.Context, bookID, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	book, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionManage)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteBookTx(ctx, tx, bookID); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "book.deleted", bookID, "book", bookID, actorID, events.EventPayload{"title": book.Title}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) GetBookDetail(ctx context.Context, bookID, actorID string) (domain.TodoBook, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.TodoBook{}, err
	}
	defer tx.Rollback()

	book, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionView)
	if err != nil {
		return domain.TodoBook{}, err
	}
	return book, tx.Commit()
}

func (e Engine) ListBooks(ctx context.Context, actorID string, includeArchived bool) ([]domain.TodoBook, error) {
	if actorID == "" {
		return nil, invalidf("actor is required")
	}
	return e.Repo.ListBooksByUser(ctx, actorID, includeArchived)
}

// AddMember grants an active membership. Only the creator can add members.
func (e Engine) AddMember(ctx context.Context, bookID, userID, actorID string) (domain.Membership, error) {
	if userID == "" {
		return domain.Membership{}, invalidf("user is required")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Membership{}, err
	}
	defer tx.Rollback()

	if _, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionManage); err != nil {
		return domain.Membership{}, err
	}
	if _, err := e.Repo.GetActiveMembershipTx(ctx, tx, bookID, userID); err == nil {
		return domain.Membership{}, invalidf("user %s is already a member", userID)
	} else if err != repo.ErrNotFound {
		return domain.Membership{}, err
	}
	now := e.nowString()
	m := domain.Membership{
		ID:         uuid.NewString(),
		TodoBookID: bookID,
		UserID:     userID,
		Role:       "member",
		IsActive:   true,
		JoinedAt:   now,
	}
	if err := e.Repo.InsertMembershipTx(ctx, tx, m); err != nil {
		return domain.Membership{}, err
	}
	if err := e.Repo.AdjustBookCountersTx(ctx, tx, bookID, 0, 0, 1, now); err != nil {
		return domain.Membership{}, err
	}
	if err := e.Events.Append(ctx, tx, "member.added", bookID, "membership", m.ID, actorID, events.EventPayload{"user_id": userID}); err != nil {
		return domain.Membership{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Membership{}, err
	}
	return m, nil
}

// LeaveBook deactivates the caller's membership. The creator cannot leave
// their own book; they archive or delete it instead.
func (e Engine) LeaveBook(ctx context.Context, bookID, actorID string) error {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	book, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionView)
	if err != nil {
		return err
	}
	if book.CreatorID == actorID {
		// Not a validation problem: the caller holds the role that bars
		// the action.
		return access.ForbiddenError{Action: access.ActionManage, Reason: "the creator cannot leave their own book"}
	}
	now := e.nowString()
	if err := e.Repo.DeactivateMembershipTx(ctx, tx, bookID, actorID, now); err != nil {
		return err
	}
	if err := e.Repo.AdjustBookCountersTx(ctx, tx, bookID, 0, 0, -1, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "member.left", bookID, "membership", "", actorID, nil); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveMember lets the creator revoke someone else's membership.
func (e Engine) RemoveMember(ctx context.Context, bookID, userID, actorID string) error {
	if userID == "" {
		return invalidf("user is required")
	}
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	book, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionManage)
	if err != nil {
		return err
	}
	if userID == book.CreatorID {
		return access.ForbiddenError{Action: access.ActionManage, Reason: "the creator cannot be removed"}
	}
	now := e.nowString()
	if err := e.Repo.DeactivateMembershipTx(ctx, tx, bookID, userID, now); err != nil {
		return err
	}
	if err := e.Repo.AdjustBookCountersTx(ctx, tx, bookID, 0, 0, -1, now); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "member.removed", bookID, "membership", "", actorID, events.EventPayload{"user_id": userID}); err != nil {
		return err
	}
	return tx.Commit()
}

func (e Engine) ListMembers(ctx context.Context, bookID, actorID string) ([]domain.Membership, error) {
	tx, err := e.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if _, err := e.Access.CheckBook(ctx, tx, bookID, actorID, access.ActionView); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return e.Repo.ListActiveMembers(ctx, bookID)
}
