package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"todobook/internal/config"
	"todobook/internal/db"
	"todobook/internal/domain"
	"todobook/internal/engine"
	"todobook/internal/engine/access"
	"todobook/internal/migrate"
	"todobook/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	if _, err := db.EnsureWorkspace(dir); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func mustBook(t *testing.T, env testEnv, title, actor string) domain.TodoBook {
	t.Helper()
	b, err := env.Engine.CreateBook(env.Ctx, engine.BookCreateOptions{Title: title, ActorID: actor})
	if err != nil {
		t.Fatalf("create book %q: %v", title, err)
	}
	return b
}

func mustTask(t *testing.T, env testEnv, opts engine.TaskCreateOptions) domain.Task {
	t.Helper()
	task, err := env.Engine.CreateTask(env.Ctx, opts)
	if err != nil {
		t.Fatalf("create task %q: %v", opts.Title, err)
	}
	return task
}

func TestBookCountersFollowTaskLifecycle(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Groceries", "alice")
	if book.MemberCount != 1 || book.ItemCount != 0 {
		t.Fatalf("fresh book counters: members=%d items=%d", book.MemberCount, book.ItemCount)
	}

	parent := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "Shop", ActorID: "alice"})
	sub := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: parent.ID, Title: "Milk", ActorID: "alice"})
	mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "Cook", ActorID: "alice"})

	got, err := env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	// subtasks count toward item_count too
	if got.ItemCount != 3 || got.CompletedCount != 0 {
		t.Fatalf("after creates: items=%d completed=%d", got.ItemCount, got.CompletedCount)
	}

	if _, err := env.Engine.SetTaskStatus(env.Ctx, sub.ID, domain.TaskStatusCompleted, "alice"); err != nil {
		t.Fatalf("complete subtask: %v", err)
	}
	got, _ = env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.CompletedCount != 1 {
		t.Fatalf("after complete: completed=%d", got.CompletedCount)
	}

	// deleting the parent removes the subtask and unwinds both counters
	if err := env.Engine.DeleteTask(env.Ctx, parent.ID, "alice"); err != nil {
		t.Fatalf("delete parent: %v", err)
	}
	got, _ = env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.ItemCount != 1 || got.CompletedCount != 0 {
		t.Fatalf("after delete: items=%d completed=%d", got.ItemCount, got.CompletedCount)
	}
}

func TestSubtaskNestingIsOneLevel(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Nesting", "alice")
	parent := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "parent", ActorID: "alice"})
	child := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: parent.ID, Title: "child", ActorID: "alice"})
	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{BookID: book.ID, ParentID: child.ID, Title: "grandchild", ActorID: "alice"})
	if err == nil {
		t.Fatalf("expected nesting rejection")
	}
	var ve engine.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestTitleUniquePerCreator(t *testing.T) {
	env := newTestEnv(t)
	mustBook(t, env, "Same", "alice")
	if _, err := env.Engine.CreateBook(env.Ctx, engine.BookCreateOptions{Title: "Same", ActorID: "alice"}); err == nil {
		t.Fatalf("expected duplicate title rejection")
	}
	// another creator may reuse the title
	if _, err := env.Engine.CreateBook(env.Ctx, engine.BookCreateOptions{Title: "Same", ActorID: "bob"}); err != nil {
		t.Fatalf("other creator same title: %v", err)
	}
}

func TestArchiveBlocksEditsUntilUnarchive(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Freezer", "alice")
	archived := true
	if _, err := env.Engine.UpdateBook(env.Ctx, book.ID, engine.BookUpdateOptions{Archived: &archived, ActorID: "alice"}); err != nil {
		t.Fatalf("archive: %v", err)
	}

	_, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{BookID: book.ID, Title: "nope", ActorID: "alice"})
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden on archived book, got %v", err)
	}

	// reads still work
	if _, err := env.Engine.GetBookDetail(env.Ctx, book.ID, "alice"); err != nil {
		t.Fatalf("read archived: %v", err)
	}

	unarchived := false
	if _, err := env.Engine.UpdateBook(env.Ctx, book.ID, engine.BookUpdateOptions{Archived: &unarchived, ActorID: "alice"}); err != nil {
		t.Fatalf("unarchive: %v", err)
	}
	if _, err := env.Engine.CreateTask(env.Ctx, engine.TaskCreateOptions{BookID: book.ID, Title: "back", ActorID: "alice"}); err != nil {
		t.Fatalf("create after unarchive: %v", err)
	}
}

func TestAccessMissingVsForbidden(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Private", "alice")

	_, err := env.Engine.GetBookDetail(env.Ctx, "no-such-book", "alice")
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, err = env.Engine.GetBookDetail(env.Ctx, book.ID, "mallory")
	var fe access.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for outsider, got %v", err)
	}

	// members may edit metadata, but the archive toggle stays with the creator
	if _, err := env.Engine.AddMember(env.Ctx, book.ID, "bob", "alice"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	if _, err := env.Engine.UpdateBook(env.Ctx, book.ID, engine.BookUpdateOptions{Title: strPtr("Renamed"), ActorID: "bob"}); err != nil {
		t.Fatalf("member rename: %v", err)
	}
	archived := true
	_, err = env.Engine.UpdateBook(env.Ctx, book.ID, engine.BookUpdateOptions{Archived: &archived, ActorID: "bob"})
	if !errors.As(err, &fe) {
		t.Fatalf("expected forbidden for member archive, got %v", err)
	}
}

func TestMembershipCounters(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Crew", "alice")
	if _, err := env.Engine.AddMember(env.Ctx, book.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	got, _ := env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.MemberCount != 2 {
		t.Fatalf("after add: members=%d", got.MemberCount)
	}

	// the creator holds the role that bars these actions, so both are
	// permission failures rather than bad input
	var fe access.ForbiddenError
	if err := env.Engine.LeaveBook(env.Ctx, book.ID, "alice"); !errors.As(err, &fe) {
		t.Fatalf("creator leave: expected forbidden, got %v", err)
	}
	if err := env.Engine.RemoveMember(env.Ctx, book.ID, "alice", "alice"); !errors.As(err, &fe) {
		t.Fatalf("creator removal: expected forbidden, got %v", err)
	}
	if err := env.Engine.LeaveBook(env.Ctx, book.ID, "bob"); err != nil {
		t.Fatalf("member leave: %v", err)
	}
	got, _ = env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.MemberCount != 1 {
		t.Fatalf("after leave: members=%d", got.MemberCount)
	}
}

func TestBookWithoutCreatorIsCorrupt(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.DB.ExecContext(env.Ctx, `INSERT INTO todobooks(id,title,creator_id,created_at,updated_at,last_activity_at)
		VALUES ('broken','Orphaned','','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z','2024-01-01T00:00:00Z')`)
	if err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	var ce access.CorruptDataError
	if _, err := env.Engine.GetBookDetail(env.Ctx, "broken", "alice"); !errors.As(err, &ce) {
		t.Fatalf("expected corrupt-data error, got %v", err)
	}
	// a blank caller must not match the blank creator and gain access
	if _, err := env.Engine.GetBookDetail(env.Ctx, "broken", ""); !errors.As(err, &ce) {
		t.Fatalf("blank caller on corrupt row: expected corrupt-data error, got %v", err)
	}
}

func TestListTasksGroupsSubtasksPerParent(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Grouped", "alice")
	first := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "first", ActorID: "alice"})
	second := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "second", ActorID: "alice"})
	f1 := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: first.ID, Title: "f1", ActorID: "alice"})
	f2 := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: first.ID, Title: "f2", ActorID: "alice"})
	s1 := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: second.ID, Title: "s1", ActorID: "alice"})

	page, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Tasks) != 2 {
		t.Fatalf("top-level tasks: %d", len(page.Tasks))
	}
	byID := map[string][]domain.Task{}
	for _, task := range page.Tasks {
		byID[task.ID] = task.Subtasks
	}
	firstSubs := byID[first.ID]
	if len(firstSubs) != 2 || firstSubs[0].ID != f1.ID || firstSubs[1].ID != f2.ID {
		t.Fatalf("first's subtasks: %+v", firstSubs)
	}
	secondSubs := byID[second.ID]
	if len(secondSubs) != 1 || secondSubs[0].ID != s1.ID {
		t.Fatalf("second's subtasks: %+v", secondSubs)
	}
}

func TestParentCompletionGatedOnSubtasks(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Gated", "alice")
	parent := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "parent", ActorID: "alice"})
	sub := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: parent.ID, Title: "sub", ActorID: "alice"})

	if _, err := env.Engine.SetTaskStatus(env.Ctx, parent.ID, domain.TaskStatusCompleted, "alice"); err == nil {
		t.Fatalf("expected parent blocked by todo subtask")
	}
	if _, err := env.Engine.SetTaskStatus(env.Ctx, sub.ID, domain.TaskStatusCompleted, "alice"); err != nil {
		t.Fatalf("complete sub: %v", err)
	}
	done, err := env.Engine.SetTaskStatus(env.Ctx, parent.ID, domain.TaskStatusCompleted, "alice")
	if err != nil || done.Status != domain.TaskStatusCompleted {
		t.Fatalf("complete parent: %v", err)
	}
	if done.CompletedAt == nil {
		t.Fatalf("expected completed_at set")
	}
}

func TestReopeningSubtaskReopensParent(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Revert", "alice")
	parent := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "parent", ActorID: "alice"})
	sub := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: parent.ID, Title: "sub", ActorID: "alice"})
	_, _ = env.Engine.SetTaskStatus(env.Ctx, sub.ID, domain.TaskStatusCompleted, "alice")
	_, _ = env.Engine.SetTaskStatus(env.Ctx, parent.ID, domain.TaskStatusCompleted, "alice")

	got, _ := env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.CompletedCount != 2 {
		t.Fatalf("both done: completed=%d", got.CompletedCount)
	}

	if _, err := env.Engine.SetTaskStatus(env.Ctx, sub.ID, domain.TaskStatusTodo, "alice"); err != nil {
		t.Fatalf("reopen sub: %v", err)
	}
	reloaded, err := env.Engine.GetTaskDetail(env.Ctx, parent.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.Status != domain.TaskStatusTodo {
		t.Fatalf("parent should reopen with its subtask, got %s", reloaded.Status)
	}
	got, _ = env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if got.CompletedCount != 0 {
		t.Fatalf("after cascade reopen: completed=%d", got.CompletedCount)
	}
}

func TestReorderSettlesSequential(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Order", "alice")
	a := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "a", ActorID: "alice"})
	b := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "b", ActorID: "alice"})
	c := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "c", ActorID: "alice"})

	if err := env.Engine.ReorderTask(env.Ctx, c.ID, 0, "alice"); err != nil {
		t.Fatalf("reorder: %v", err)
	}
	page, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	wantOrder := []string{c.ID, a.ID, b.ID}
	for i, task := range page.Tasks {
		if task.ID != wantOrder[i] {
			t.Fatalf("position %d: got %s", i, task.Title)
		}
		if task.SortOrder != i+1 {
			t.Fatalf("sort_order at %d: %d", i, task.SortOrder)
		}
	}

	// a second identical call changes nothing
	if err := env.Engine.ReorderTask(env.Ctx, c.ID, 0, "alice"); err != nil {
		t.Fatalf("repeat reorder: %v", err)
	}
	again, _ := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{}, "alice")
	for i, task := range again.Tasks {
		if task.ID != wantOrder[i] {
			t.Fatalf("repeat changed order at %d", i)
		}
	}
}

func TestListTasksPaginationAndTotal(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Pages", "alice")
	for i := 0; i < 25; i++ {
		mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "task", ActorID: "alice"})
	}

	first, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{Page: 1}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Tasks) != 20 || first.Total != 25 {
		t.Fatalf("page 1: len=%d total=%d", len(first.Tasks), first.Total)
	}

	second, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{Page: 2}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Tasks) != 5 {
		t.Fatalf("page 2: len=%d", len(second.Tasks))
	}
	// total is only computed on the first page
	if second.Total != -1 {
		t.Fatalf("page 2 total: %d", second.Total)
	}
}

func TestListTasksFilterAndSearch(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Filter", "alice")
	urgent := mustTask(t, env, engine.TaskCreateOptions{
		BookID: book.ID, Title: "Fix boiler", ActorID: "alice",
		Tags: []domain.Tag{{Kind: domain.TagKindLabel, Label: "home"}},
	})
	mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "Read book", ActorID: "alice"})
	_, _ = env.Engine.SetTaskStatus(env.Ctx, urgent.ID, domain.TaskStatusCompleted, "alice")

	done, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{Status: domain.TaskStatusCompleted}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(done.Tasks) != 1 || done.Tasks[0].ID != urgent.ID {
		t.Fatalf("status filter: %d tasks", len(done.Tasks))
	}

	byTag, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{Tag: "home"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(byTag.Tasks) != 1 {
		t.Fatalf("tag filter: %d tasks", len(byTag.Tasks))
	}

	search, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{Keyword: "boiler"}, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(search.Tasks) != 1 {
		t.Fatalf("keyword: %d tasks", len(search.Tasks))
	}

	if _, err := env.Engine.ListTasks(env.Ctx, book.ID, repo.TaskFilters{SortBy: "bogus"}, "alice"); err == nil {
		t.Fatalf("expected invalid sort rejection")
	}
}

func TestCommentThreading(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Talk", "alice")
	task := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "topic", ActorID: "alice"})
	if _, err := env.Engine.AddMember(env.Ctx, book.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}

	root, err := env.Engine.AddComment(env.Ctx, task.ID, "first", "", "alice")
	if err != nil {
		t.Fatalf("add comment: %v", err)
	}
	reply, err := env.Engine.AddComment(env.Ctx, task.ID, "agreed", root.ID, "bob")
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyTo == nil || *reply.ReplyTo != root.ID {
		t.Fatalf("reply_to not set")
	}

	// thread depth tops out at two levels
	if _, err := env.Engine.AddComment(env.Ctx, task.ID, "too deep", reply.ID, "alice"); err == nil {
		t.Fatalf("expected reply-to-reply rejection")
	}

	// replies must target a comment on the same task
	other := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "other", ActorID: "alice"})
	if _, err := env.Engine.AddComment(env.Ctx, other.ID, "stray", root.ID, "alice"); err == nil {
		t.Fatalf("expected cross-task reply rejection")
	}

	// only the author edits; author or book creator deletes
	if _, err := env.Engine.UpdateComment(env.Ctx, reply.ID, "hijack", "alice"); err == nil {
		t.Fatalf("expected edit by non-author rejected")
	}
	if err := env.Engine.DeleteComment(env.Ctx, reply.ID, "alice"); err != nil {
		t.Fatalf("creator delete: %v", err)
	}

	page, err := env.Engine.ListComments(env.Ctx, task.ID, 1, 10, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 {
		t.Fatalf("total=%d", page.Total)
	}
	for _, c := range page.Comments {
		if c.ID == reply.ID {
			if !c.IsDeleted || c.Content != "" {
				t.Fatalf("deleted comment should be blanked")
			}
		}
	}

	task, err = env.Engine.GetTaskDetail(env.Ctx, task.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	// deleted comments drop out of the count
	if task.CommentCount != 1 {
		t.Fatalf("comment_count=%d", task.CommentCount)
	}
}

func TestTaskEventsLogged(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Evented", "alice")
	task := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "evented", ActorID: "alice"})
	_, _ = env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskStatusCompleted, "alice")
	_, _ = env.Engine.SetTaskStatus(env.Ctx, task.ID, domain.TaskStatusTodo, "alice")

	events, err := env.Engine.ListBookEvents(env.Ctx, book.ID, 50, "alice")
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	seen := map[string]bool{}
	for _, evt := range events {
		seen[evt.Type] = true
	}
	for _, want := range []string{"book.created", "task.created", "task.completed", "task.reopened"} {
		if !seen[want] {
			t.Fatalf("missing event %s in %v", want, seen)
		}
	}
}

func strPtr(s string) *string { return &s }
