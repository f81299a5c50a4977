package git

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/mumchip/reattrib/internal/identity"
	"github.com/mumchip/reattrib/internal/testutil/gitrepo"
)

type history struct {
	r          *gitrepo.Repo
	c1, c2, c3 plumbing.Hash
	tagObj     plumbing.Hash
}

// newHistory builds human <- bot <- human on master, a lightweight tag on
// the first commit and an annotated tag on the bot commit.
func newHistory(t *testing.T) history {
	t.Helper()
	r := gitrepo.New(t)
	h := history{r: r}
	h.c1 = r.Commit("first", r.Human(), r.Human())
	h.c2 = r.Commit("by the bot", r.Bot(), r.Bot())
	h.c3 = r.Commit("third", r.Human(), r.Human())
	r.Tag("base", h.c1, false)
	r.Tag("v1", h.c2, true)
	ref, err := r.Repo.Reference(plumbing.NewTagReferenceName("v1"), false)
	if err != nil {
		t.Fatalf("tag ref: %v", err)
	}
	h.tagObj = ref.Hash()
	return h
}

func TestRewriteNative(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	svc := openNative(t, h.r)

	var rewritten []string
	res, err := svc.Rewrite(context.Background(), RewriteOptions{
		OnRewrite: func(hash string, before, after identity.Commit) {
			rewritten = append(rewritten, hash)
			if !identity.IsBot(&before) || identity.IsBot(&after) {
				t.Errorf("unexpected before/after: %q -> %q", before.AuthorName, after.AuthorName)
			}
		},
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if res.Commits != 3 || res.Rewritten != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(rewritten) != 1 || rewritten[0] != h.c2.String() {
		t.Fatalf("OnRewrite saw %v", rewritten)
	}

	repo := h.r.Reopen()
	head, err := repo.Reference(plumbing.NewBranchReferenceName("master"), true)
	if err != nil {
		t.Fatalf("master: %v", err)
	}
	if head.Hash() == h.c3 {
		t.Fatal("master was not moved")
	}
	tip, err := repo.CommitObject(head.Hash())
	if err != nil {
		t.Fatalf("tip: %v", err)
	}
	if tip.Author.Name != gitrepo.HumanName || tip.Message != "third" {
		t.Fatalf("tip lost its own identity: %+v", tip.Author)
	}
	bot, err := repo.CommitObject(tip.ParentHashes[0])
	if err != nil {
		t.Fatalf("parent: %v", err)
	}
	for _, sig := range []string{bot.Author.Name, bot.Committer.Name} {
		if sig != identity.ReplacementName {
			t.Fatalf("bot commit not rewritten: %+v / %+v", bot.Author, bot.Committer)
		}
	}
	if bot.Author.Email != identity.ReplacementEmail || bot.Committer.Email != identity.ReplacementEmail {
		t.Fatalf("bot email not rewritten: %+v", bot.Author)
	}
	if !bot.Author.When.Equal(h.r.CommitObject(h.c2).Author.When) {
		t.Fatal("timestamp changed")
	}
	if len(bot.ParentHashes) != 1 || bot.ParentHashes[0] != h.c1 {
		t.Fatalf("untouched ancestor must keep its hash: %v", bot.ParentHashes)
	}
	if bot.TreeHash != h.r.CommitObject(h.c2).TreeHash {
		t.Fatal("tree changed")
	}

	base, err := repo.Reference(plumbing.NewTagReferenceName("base"), false)
	if err != nil || base.Hash() != h.c1 {
		t.Fatalf("lightweight tag on untouched commit moved: %v %v", base, err)
	}
	v1, err := repo.Reference(plumbing.NewTagReferenceName("v1"), false)
	if err != nil {
		t.Fatalf("v1: %v", err)
	}
	if v1.Hash() == h.tagObj {
		t.Fatal("annotated tag was not rewritten")
	}
	tag, err := repo.TagObject(v1.Hash())
	if err != nil {
		t.Fatalf("tag object: %v", err)
	}
	if tag.Target != bot.Hash || tag.Name != "v1" {
		t.Fatalf("tag points at %s, want %s", tag.Target, bot.Hash)
	}

	for name, want := range map[string]plumbing.Hash{
		"refs/original/refs/heads/master": h.c3,
		"refs/original/refs/tags/v1":      h.tagObj,
	} {
		ref, err := repo.Reference(plumbing.ReferenceName(name), false)
		if err != nil || ref.Hash() != want {
			t.Fatalf("backup %s = %v, %v; want %s", name, ref, err, want)
		}
	}
	if _, err := repo.Reference("refs/original/refs/tags/base", false); err == nil {
		t.Fatal("unchanged ref must not be backed up")
	}
}

func TestRewriteNative_BackupExists(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	svc := openNative(t, h.r)
	if _, err := svc.Rewrite(context.Background(), RewriteOptions{}); err != nil {
		t.Fatalf("first Rewrite: %v", err)
	}
	_, err := svc.Rewrite(context.Background(), RewriteOptions{})
	if !errors.Is(err, ErrBackupExists) {
		t.Fatalf("expected ErrBackupExists, got %v", err)
	}

	// Rewritten history contains no bot identities, so a forced rerun is a
	// no-op.
	res, err := svc.Rewrite(context.Background(), RewriteOptions{Force: true})
	if err != nil {
		t.Fatalf("forced Rewrite: %v", err)
	}
	if res.Rewritten != 0 || len(res.Refs) != 0 {
		t.Fatalf("second pass changed history: %+v", res)
	}
}

func TestRewriteNative_DryRun(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	svc := openNative(t, h.r)
	res, err := svc.Rewrite(context.Background(), RewriteOptions{DryRun: true})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !res.DryRun || res.Rewritten != 1 || len(res.Refs) != 2 {
		t.Fatalf("unexpected result: %+v", res)
	}

	repo := h.r.Reopen()
	if got := h.r.Ref("refs/heads/master"); got != h.c3 {
		t.Fatalf("dry run moved master to %s", got)
	}
	if _, err := repo.Reference("refs/original/refs/heads/master", false); err == nil {
		t.Fatal("dry run wrote a backup ref")
	}
	for _, u := range res.Refs {
		if u.Name != "refs/heads/master" {
			continue
		}
		if _, err := repo.CommitObject(plumbing.NewHash(u.New)); !errors.Is(err, plumbing.ErrObjectNotFound) {
			t.Fatalf("dry run stored commit %s: %v", u.New, err)
		}
	}
}

func TestRewriteNative_DirtyWorktree(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	if err := os.WriteFile(filepath.Join(h.r.Dir, "file.txt"), []byte("local edit\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc := openNative(t, h.r)
	if _, err := svc.Rewrite(context.Background(), RewriteOptions{}); !errors.Is(err, ErrDirtyWorktree) {
		t.Fatalf("expected ErrDirtyWorktree, got %v", err)
	}
	if _, err := svc.Rewrite(context.Background(), RewriteOptions{DryRun: true}); err != nil {
		t.Fatalf("dry run on dirty worktree: %v", err)
	}
	if _, err := svc.Rewrite(context.Background(), RewriteOptions{Force: true}); err != nil {
		t.Fatalf("forced Rewrite: %v", err)
	}
	if got := h.r.Ref("refs/heads/master"); got == h.c3 {
		t.Fatal("forced rewrite did not move master")
	}
}

func TestRewriteNative_SelectRefs(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	h.r.Branch("side", h.c2)
	svc := openNative(t, h.r)

	res, err := svc.Rewrite(context.Background(), RewriteOptions{Refs: []string{"side"}})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if len(res.Refs) != 1 || res.Refs[0].Name != "refs/heads/side" {
		t.Fatalf("unexpected ref updates: %+v", res.Refs)
	}
	if got := h.r.Ref("refs/heads/master"); got != h.c3 {
		t.Fatal("unselected branch moved")
	}

	if _, err := svc.Rewrite(context.Background(), RewriteOptions{Refs: []string{"nope"}}); !errors.Is(err, ErrUnknownRef) {
		t.Fatalf("expected ErrUnknownRef, got %v", err)
	}
}

func TestRewriteNative_CustomCallback(t *testing.T) {
	t.Parallel()

	h := newHistory(t)
	svc := openNative(t, h.r)
	calls := 0
	res, err := svc.Rewrite(context.Background(), RewriteOptions{
		DryRun:   true,
		Callback: func(*identity.Commit) { calls++ },
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if calls != 3 || res.Commits != 3 {
		t.Fatalf("callback ran %d times for %d commits, want once per commit", calls, res.Commits)
	}
	if res.Rewritten != 0 || len(res.Refs) != 0 {
		t.Fatalf("observing callback changed history: %+v", res)
	}
}
