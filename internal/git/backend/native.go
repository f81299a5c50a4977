package backend

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

type native struct {
	repo *gitlib.Repository
	path string
}

// OpenNative opens the repository containing repoPath with go-git.
func OpenNative(repoPath string) (Backend, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, err
	}
	repo, err := gitlib.PlainOpenWithOptions(abs, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	root := abs
	if wt, err := repo.Worktree(); err == nil {
		root = wt.Filesystem.Root()
	}
	return &native{repo: repo, path: root}, nil
}

func (n *native) RepoPath() string {
	return n.path
}

func (n *native) HeadState() (string, string, bool, error) {
	ref, err := n.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", "", false, nil
		}
		return "", "", false, fmt.Errorf("resolve HEAD: %w", err)
	}
	name := "HEAD"
	if ref.Name().IsBranch() {
		name = ref.Name().Short()
	}
	return ref.Hash().String(), name, true, nil
}

func (n *native) ResolveRef(name string) (string, bool, error) {
	ref, err := n.repo.Reference(plumbing.ReferenceName(name), true)
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("resolve %s: %w", name, err)
	}
	return ref.Hash().String(), true, nil
}

func (n *native) ListRefs() ([]Ref, error) {
	iter, err := n.repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}
	defer iter.Close()
	var refs []Ref
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference {
			return nil
		}
		r, ok := classifyRef(ref.Name().String(), ref.Hash().String())
		if !ok {
			return nil
		}
		if r.Kind == RefKindTag {
			if peeled, ok := n.peelTag(ref.Hash()); ok {
				r.Hash = peeled.String()
			}
		}
		refs = append(refs, r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (n *native) peelTag(hash plumbing.Hash) (plumbing.Hash, bool) {
	for range 16 {
		tag, err := n.repo.TagObject(hash)
		if err != nil {
			return hash, false
		}
		if tag.TargetType != plumbing.TagObject {
			return tag.Target, tag.TargetType == plumbing.CommitObject
		}
		hash = tag.Target
	}
	return hash, false
}

// UpdateRefs applies updates as one transaction. Every old value is checked
// before anything is written, and refs already written are restored when a
// later write fails.
func (n *native) UpdateRefs(updates []RefUpdate) error {
	prev, err := n.checkRefUpdates(updates)
	if err != nil {
		return err
	}
	for i, u := range updates {
		if err := n.applyRefUpdate(u, prev[i]); err != nil {
			return errors.Join(err, n.restoreRefs(updates[:i], prev[:i]))
		}
	}
	return nil
}

// checkRefUpdates returns the current value of every updated ref, nil for
// refs that do not exist yet.
func (n *native) checkRefUpdates(updates []RefUpdate) ([]*plumbing.Reference, error) {
	prev := make([]*plumbing.Reference, len(updates))
	seen := make(map[string]bool, len(updates))
	for i, u := range updates {
		if u.Name == "" {
			return nil, fmt.Errorf("ref update without name")
		}
		if u.Old == "" && u.New == "" {
			return nil, fmt.Errorf("ref update for %s has neither old nor new value", u.Name)
		}
		if seen[u.Name] {
			return nil, fmt.Errorf("multiple updates for %s", u.Name)
		}
		seen[u.Name] = true
		cur, err := n.repo.Storer.Reference(plumbing.ReferenceName(u.Name))
		switch {
		case errors.Is(err, plumbing.ErrReferenceNotFound):
			cur = nil
		case err != nil:
			return nil, fmt.Errorf("read %s: %w", u.Name, err)
		}
		if u.Old == "" {
			if cur != nil {
				return nil, fmt.Errorf("create %s: reference already exists", u.Name)
			}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("update %s: reference does not exist", u.Name)
		}
		if cur.Type() != plumbing.HashReference {
			return nil, fmt.Errorf("update %s: expected %s, found symbolic ref to %s", u.Name, u.Old, cur.Target())
		}
		if cur.Hash() != plumbing.NewHash(u.Old) {
			return nil, fmt.Errorf("update %s: expected %s, found %s", u.Name, u.Old, cur.Hash())
		}
		prev[i] = cur
	}
	return prev, nil
}

func (n *native) applyRefUpdate(u RefUpdate, prev *plumbing.Reference) error {
	name := plumbing.ReferenceName(u.Name)
	var err error
	switch {
	case u.New == "":
		err = n.repo.Storer.RemoveReference(name)
	case prev == nil:
		err = n.repo.Storer.SetReference(plumbing.NewHashReference(name, plumbing.NewHash(u.New)))
	default:
		err = n.repo.Storer.CheckAndSetReference(plumbing.NewHashReference(name, plumbing.NewHash(u.New)), prev)
	}
	if err != nil {
		return fmt.Errorf("update %s: %w", u.Name, err)
	}
	return nil
}

// restoreRefs undoes applied updates, newest first.
func (n *native) restoreRefs(applied []RefUpdate, prev []*plumbing.Reference) error {
	var errs []error
	for i := len(applied) - 1; i >= 0; i-- {
		name := plumbing.ReferenceName(applied[i].Name)
		var err error
		if prev[i] == nil {
			err = n.repo.Storer.RemoveReference(name)
		} else {
			err = n.repo.Storer.SetReference(prev[i])
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (n *native) LocalChangesStatus() (LocalChanges, error) {
	var res LocalChanges
	wt, err := n.repo.Worktree()
	if err != nil {
		if errors.Is(err, gitlib.ErrIsBareRepository) {
			return res, nil
		}
		return res, err
	}
	status, err := wt.Status()
	if err != nil {
		return res, err
	}
	for _, st := range status {
		if st.Worktree != gitlib.Unmodified && st.Worktree != gitlib.Untracked {
			res.HasWorktree = true
		}
		if st.Staging != gitlib.Unmodified && st.Staging != gitlib.Untracked {
			res.HasStaged = true
		}
		if res.HasWorktree && res.HasStaged {
			break
		}
	}
	return res, nil
}

// StartLogStream resolves each revision and walks the union of their
// histories. Besides plain revisions only the "--branches", "--tags",
// "--remotes" and "--all" selectors are understood.
func (n *native) StartLogStream(ctx context.Context, revs []string) (LogStream, error) {
	starts, err := n.resolveRevs(revs)
	if err != nil {
		return nil, err
	}
	stream, err := newNativeLogStream(ctx, n.repo, starts)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (n *native) resolveRevs(revs []string) ([]plumbing.Hash, error) {
	if len(revs) == 0 {
		revs = DefaultRevs
	}
	var starts []plumbing.Hash
	for _, rev := range revs {
		var kind RefKind
		switch rev {
		case "--branches":
			kind = RefKindBranch
		case "--tags":
			kind = RefKindTag
		case "--remotes":
			kind = RefKindRemoteBranch
		case "--all":
			refs, err := n.ListRefs()
			if err != nil {
				return nil, err
			}
			for _, r := range refs {
				starts = n.appendCommit(starts, r)
			}
			continue
		default:
			h, err := n.repo.ResolveRevision(plumbing.Revision(rev))
			if err != nil {
				return nil, fmt.Errorf("resolve %s: %w", rev, err)
			}
			starts = append(starts, *h)
			continue
		}
		refs, err := n.ListRefs()
		if err != nil {
			return nil, err
		}
		for _, r := range refs {
			if r.Kind == kind {
				starts = n.appendCommit(starts, r)
			}
		}
	}
	return starts, nil
}

// appendCommit skips refs that do not lead to a commit, such as tags of
// trees or blobs.
func (n *native) appendCommit(starts []plumbing.Hash, r Ref) []plumbing.Hash {
	h := plumbing.NewHash(r.Hash)
	if _, err := n.repo.CommitObject(h); err != nil {
		slog.Debug("skipping non-commit ref", slog.String("ref", r.FullName()), slog.Any("error", err))
		return starts
	}
	return append(starts, h)
}

// nativeLogStream merges the histories of several starting points into one
// newest-first walk, the way "git log --date-order a b" does.
type nativeLogStream struct {
	ctx   context.Context
	repo  *gitlib.Repository
	queue commitQueue
	seen  map[plumbing.Hash]struct{}
}

func newNativeLogStream(ctx context.Context, repo *gitlib.Repository, starts []plumbing.Hash) (*nativeLogStream, error) {
	s := &nativeLogStream{ctx: ctx, repo: repo, seen: map[plumbing.Hash]struct{}{}}
	for _, h := range starts {
		if err := s.push(h); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *nativeLogStream) push(h plumbing.Hash) error {
	if _, ok := s.seen[h]; ok {
		return nil
	}
	c, err := s.repo.CommitObject(h)
	if err != nil {
		return fmt.Errorf("read commit %s: %w", h, err)
	}
	s.seen[h] = struct{}{}
	heap.Push(&s.queue, c)
	return nil
}

func (s *nativeLogStream) Next() (*Commit, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	if s.queue.Len() == 0 {
		return nil, io.EOF
	}
	c := heap.Pop(&s.queue).(*object.Commit)
	for _, p := range c.ParentHashes {
		if err := s.push(p); err != nil {
			return nil, err
		}
	}
	return FromObject(c), nil
}

func (s *nativeLogStream) Close() error {
	s.queue = nil
	return nil
}

type commitQueue []*object.Commit

func (q commitQueue) Len() int { return len(q) }
func (q commitQueue) Less(i, j int) bool {
	return q[i].Committer.When.After(q[j].Committer.When)
}
func (q commitQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *commitQueue) Push(x any)   { *q = append(*q, x.(*object.Commit)) }
func (q *commitQueue) Pop() any {
	old := *q
	c := old[len(old)-1]
	*q = old[:len(old)-1]
	return c
}

// FromObject converts a go-git commit.
func FromObject(c *object.Commit) *Commit {
	parents := make([]string, 0, len(c.ParentHashes))
	for _, p := range c.ParentHashes {
		parents = append(parents, p.String())
	}
	return &Commit{
		Hash:         c.Hash.String(),
		ParentHashes: parents,
		Author:       Signature{Name: c.Author.Name, Email: c.Author.Email, When: c.Author.When},
		Committer:    Signature{Name: c.Committer.Name, Email: c.Committer.Email, When: c.Committer.When},
		Message:      c.Message,
	}
}
