// Package gitrepo builds throwaway repositories for tests with go-git.
// Tests that also drive the git executable call NeedGit first.
package gitrepo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	BotName   = "lovable-dev[bot]"
	BotEmail  = "161582354+lovable-dev[bot]@users.noreply.github.com"
	HumanName = "Alice"
	HumanMail = "alice@example.com"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type Repo struct {
	t    testing.TB
	Dir  string
	Repo *gitlib.Repository
	n    int
}

// NeedGit skips the test when no git executable is on PATH.
func NeedGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skipf("git not available: %v", err)
	}
}

func New(t testing.TB) *Repo {
	t.Helper()
	dir := t.TempDir()
	repo, err := gitlib.PlainInit(dir, false)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	return &Repo{t: t, Dir: dir, Repo: repo}
}

// Sig returns a signature whose timestamp advances with each commit so the
// committer-time order is deterministic.
func (r *Repo) Sig(name, email string) *object.Signature {
	return &object.Signature{Name: name, Email: email, When: epoch.Add(time.Duration(r.n) * time.Minute)}
}

func (r *Repo) Human() *object.Signature { return r.Sig(HumanName, HumanMail) }
func (r *Repo) Bot() *object.Signature   { return r.Sig(BotName, BotEmail) }

// Commit records a change to a tracked file on the current branch.
func (r *Repo) Commit(msg string, author, committer *object.Signature) plumbing.Hash {
	r.t.Helper()
	r.n++
	wt, err := r.Repo.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}
	name := "file.txt"
	content := fmt.Sprintf("change %d: %s\n", r.n, msg)
	if err := os.WriteFile(filepath.Join(r.Dir, name), []byte(content), 0o644); err != nil {
		r.t.Fatalf("write file: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		r.t.Fatalf("add: %v", err)
	}
	h, err := wt.Commit(msg, &gitlib.CommitOptions{Author: author, Committer: committer})
	if err != nil {
		r.t.Fatalf("commit: %v", err)
	}
	return h
}

func (r *Repo) Branch(name string, h plumbing.Hash) {
	r.t.Helper()
	ref := plumbing.NewHashReference(plumbing.NewBranchReferenceName(name), h)
	if err := r.Repo.Storer.SetReference(ref); err != nil {
		r.t.Fatalf("create branch %s: %v", name, err)
	}
}

func (r *Repo) Tag(name string, h plumbing.Hash, annotated bool) {
	r.t.Helper()
	var opts *gitlib.CreateTagOptions
	if annotated {
		opts = &gitlib.CreateTagOptions{Tagger: r.Human(), Message: "release " + name}
	}
	if _, err := r.Repo.CreateTag(name, h, opts); err != nil {
		r.t.Fatalf("create tag %s: %v", name, err)
	}
}

// Detach points HEAD directly at h.
func (r *Repo) Detach(h plumbing.Hash) {
	r.t.Helper()
	if err := r.Repo.Storer.SetReference(plumbing.NewHashReference(plumbing.HEAD, h)); err != nil {
		r.t.Fatalf("detach HEAD: %v", err)
	}
}

// Ref returns the hash a reference points at, failing the test if missing.
func (r *Repo) Ref(name string) plumbing.Hash {
	r.t.Helper()
	ref, err := r.Repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		r.t.Fatalf("reference %s: %v", name, err)
	}
	return ref.Hash()
}

func (r *Repo) CommitObject(h plumbing.Hash) *object.Commit {
	r.t.Helper()
	c, err := r.Repo.CommitObject(h)
	if err != nil {
		r.t.Fatalf("commit %s: %v", h, err)
	}
	return c
}

// Reopen returns a fresh handle so tests observe what was persisted.
func (r *Repo) Reopen() *gitlib.Repository {
	r.t.Helper()
	repo, err := gitlib.PlainOpen(r.Dir)
	if err != nil {
		r.t.Fatalf("reopen: %v", err)
	}
	return repo
}
