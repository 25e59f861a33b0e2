package engine_test

import (
	"strings"
	"testing"

	"todobook/internal/domain"
	"todobook/internal/engine"
	"todobook/internal/repo"
)

func TestShareCodeShape(t *testing.T) {
	env := newTestEnv(t)
	letters := "ABCDEFGHJKMNPQRSTUVWXYZ"
	alnum := letters + "23456789"

	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		book := mustBook(t, env, "Share "+strings.Repeat("x", i+1), "alice")
		share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
		if err != nil {
			t.Fatalf("create share: %v", err)
		}
		code := share.Code
		if len(code) != 6 {
			t.Fatalf("code length %d: %s", len(code), code)
		}
		if !strings.ContainsRune(letters, rune(code[0])) {
			t.Fatalf("code must start with a letter: %s", code)
		}
		for _, r := range code {
			if !strings.ContainsRune(alnum, r) {
				t.Fatalf("character %q outside charset in %s", r, code)
			}
		}
		if seen[code] {
			t.Fatalf("duplicate code %s", code)
		}
		seen[code] = true
	}
}

func TestCreateShareIdempotentPerBook(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Once", "alice")
	first, err := env.Engine.CreateShare(env.Ctx, book.ID, true, "alice")
	if err != nil {
		t.Fatal(err)
	}
	second, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if second.Code != first.Code {
		t.Fatalf("expected existing share back, got %s vs %s", second.Code, first.Code)
	}
	if second.IncludeComments {
		t.Fatalf("repeat call must apply the requested comment setting")
	}
	preview, err := env.Engine.GetSharePreview(env.Ctx, first.Code)
	if err != nil {
		t.Fatal(err)
	}
	if preview.IncludeComments {
		t.Fatalf("setting change not persisted")
	}
}

func TestShareRequiresActiveCreator(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Guarded", "alice")
	if _, err := env.Engine.AddMember(env.Ctx, book.ID, "bob", "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "bob"); err == nil {
		t.Fatalf("member must not share")
	}

	archived := true
	if _, err := env.Engine.UpdateBook(env.Ctx, book.ID, engine.BookUpdateOptions{Archived: &archived, ActorID: "alice"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice"); err == nil {
		t.Fatalf("archived book must not be shareable")
	}
}

func TestSharePreviewIsPublic(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Window", "alice")
	mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "visible", ActorID: "alice"})
	share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	preview, err := env.Engine.GetSharePreview(env.Ctx, share.Code)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	if preview.Title != "Window" || preview.TaskCount != 1 {
		t.Fatalf("preview: %+v", preview)
	}
}

func TestImportCopiesBook(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Recipes", "alice")
	parent := mustTask(t, env, engine.TaskCreateOptions{
		BookID: book.ID, Title: "Lasagna", ActorID: "alice",
		Tags: []domain.Tag{{Kind: domain.TagKindLabel, Label: "dinner"}},
	})
	sub := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, ParentID: parent.ID, Title: "Buy pasta", ActorID: "alice"})
	_, _ = env.Engine.SetTaskStatus(env.Ctx, sub.ID, domain.TaskStatusCompleted, "alice")

	root, err := env.Engine.AddComment(env.Ctx, parent.ID, "classic", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddComment(env.Ctx, parent.ID, "seconded", root.ID, "alice"); err != nil {
		t.Fatal(err)
	}

	share, err := env.Engine.CreateShare(env.Ctx, book.ID, true, "alice")
	if err != nil {
		t.Fatal(err)
	}

	copied, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if copied.CreatorID != "bob" || copied.MemberCount != 1 {
		t.Fatalf("copy ownership: %+v", copied)
	}
	if copied.ItemCount != 2 || copied.CompletedCount != 1 {
		t.Fatalf("copy counters: items=%d completed=%d", copied.ItemCount, copied.CompletedCount)
	}
	if copied.Title != "Recipes" {
		t.Fatalf("title: %s", copied.Title)
	}

	page, err := env.Engine.ListTasks(env.Ctx, copied.ID, repo.TaskFilters{}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Tasks) != 1 {
		t.Fatalf("top-level copies: %d", len(page.Tasks))
	}
	copyParent := page.Tasks[0]
	if copyParent.ID == parent.ID {
		t.Fatalf("copy must have a fresh id")
	}
	if len(copyParent.Subtasks) != 1 || copyParent.Subtasks[0].Status != domain.TaskStatusCompleted {
		t.Fatalf("subtask copy: %+v", copyParent.Subtasks)
	}
	if len(copyParent.Tags) != 1 || copyParent.Tags[0].Label != "dinner" {
		t.Fatalf("tag copy: %+v", copyParent.Tags)
	}

	comments, err := env.Engine.ListComments(env.Ctx, copyParent.ID, 1, 10, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if comments.Total != 2 {
		t.Fatalf("comment copies: %d", comments.Total)
	}
	// exactly one root plus one reply, and the reply must point at the
	// copied root, not the source comment
	var copyRootID string
	var copyReply *domain.Comment
	for i, c := range comments.Comments {
		if c.ReplyTo == nil {
			if copyRootID != "" {
				t.Fatalf("more than one root in the copied thread")
			}
			copyRootID = c.ID
		} else {
			copyReply = &comments.Comments[i]
		}
	}
	if copyRootID == "" {
		t.Fatalf("copied thread has no root")
	}
	if copyReply == nil {
		t.Fatalf("reply lost its reply_to during import")
	}
	if *copyReply.ReplyTo == root.ID {
		t.Fatalf("reply_to still references source comment")
	}
	if *copyReply.ReplyTo != copyRootID {
		t.Fatalf("reply_to not remapped: %s", *copyReply.ReplyTo)
	}

	// source untouched
	src, _ := env.Engine.GetBookDetail(env.Ctx, book.ID, "alice")
	if src.ItemCount != 2 || src.MemberCount != 1 {
		t.Fatalf("source mutated: %+v", src)
	}
}

// All comments in this test share one timestamp thanks to the fixed test
// clock, so creation order gives the copier no help resolving reply targets.
func TestImportKeepsReplyThreads(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Debate", "alice")
	task := mustTask(t, env, engine.TaskCreateOptions{BookID: book.ID, Title: "topic", ActorID: "alice"})

	root, err := env.Engine.AddComment(env.Ctx, task.ID, "opening", "", "alice")
	if err != nil {
		t.Fatal(err)
	}
	const replies = 30
	for i := 0; i < replies; i++ {
		if _, err := env.Engine.AddComment(env.Ctx, task.ID, "point", root.ID, "alice"); err != nil {
			t.Fatal(err)
		}
	}

	share, err := env.Engine.CreateShare(env.Ctx, book.ID, true, "alice")
	if err != nil {
		t.Fatal(err)
	}
	copied, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob")
	if err != nil {
		t.Fatal(err)
	}

	page, err := env.Engine.ListTasks(env.Ctx, copied.ID, repo.TaskFilters{}, "bob")
	if err != nil {
		t.Fatal(err)
	}
	comments, err := env.Engine.ListComments(env.Ctx, page.Tasks[0].ID, 1, replies+1, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if comments.Total != replies+1 {
		t.Fatalf("copied comments: %d", comments.Total)
	}
	var copyRootID string
	for _, c := range comments.Comments {
		if c.ReplyTo == nil {
			if copyRootID != "" {
				t.Fatalf("more than one root after import")
			}
			copyRootID = c.ID
		}
	}
	kept := 0
	for _, c := range comments.Comments {
		if c.ReplyTo != nil && *c.ReplyTo == copyRootID {
			kept++
		}
	}
	if kept != replies {
		t.Fatalf("import dropped reply links: kept %d of %d", kept, replies)
	}
}

func TestImportTitleCollisionSuffix(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Plans", "alice")
	share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	mustBook(t, env, "Plans", "bob")

	copied, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if copied.Title != "Plans (imported)" {
		t.Fatalf("first collision title: %s", copied.Title)
	}

	again, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob")
	if err != nil {
		t.Fatal(err)
	}
	if again.Title != "Plans (imported 2)" {
		t.Fatalf("second collision title: %s", again.Title)
	}
}

func TestImportOwnBookRejected(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Mine", "alice")
	share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ImportByCode(env.Ctx, share.Code, "alice"); err == nil {
		t.Fatalf("expected own-book import rejection")
	}
}

func TestImportBumpsShareStats(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Counted", "alice")
	share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob"); err != nil {
		t.Fatal(err)
	}
	shares, err := env.Engine.ListShares(env.Ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(shares) != 1 || shares[0].ImportCount != 1 {
		t.Fatalf("import count: %+v", shares)
	}
	if shares[0].LastImportedAt == nil {
		t.Fatalf("last_imported_at not set")
	}
}

func TestDeleteShareRevokesCode(t *testing.T) {
	env := newTestEnv(t)
	book := mustBook(t, env, "Revoked", "alice")
	share, err := env.Engine.CreateShare(env.Ctx, book.ID, false, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.DeleteShare(env.Ctx, share.Code, "bob"); err == nil {
		t.Fatalf("only the share creator may revoke")
	}
	if err := env.Engine.DeleteShare(env.Ctx, share.Code, "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.GetSharePreview(env.Ctx, share.Code); err == nil {
		t.Fatalf("revoked code should not resolve")
	}
	if _, err := env.Engine.ImportByCode(env.Ctx, share.Code, "bob"); err == nil {
		t.Fatalf("revoked code should not import")
	}
}
