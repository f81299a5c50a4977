package git

import (
	"context"
	"errors"
	"fmt"

	gitlib "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
	"github.com/mumchip/reattrib/internal/identity"
)

type encoder interface {
	Encode(plumbing.EncodedObject) error
}

// nativeRewriter rewrites history directly in the object database. Every
// commit is visited after all of its parents, so each one is re-encoded at
// most once and unchanged subgraphs keep their hashes.
type nativeRewriter struct {
	ctx    context.Context
	repo   *gitlib.Repository
	opts   RewriteOptions
	res    *RewriteResult
	mapped map[plumbing.Hash]plumbing.Hash
}

func (s *Service) rewriteNative(ctx context.Context, opts RewriteOptions, refs []gitbackend.Ref, res *RewriteResult) error {
	repo, err := s.goGit()
	if err != nil {
		return err
	}
	rw := &nativeRewriter{
		ctx:    ctx,
		repo:   repo,
		opts:   opts,
		res:    res,
		mapped: make(map[plumbing.Hash]plumbing.Hash),
	}
	var updates []gitbackend.RefUpdate
	for _, ref := range refs {
		name := ref.FullName()
		raw, err := repo.Reference(plumbing.ReferenceName(name), true)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", name, err)
		}
		newHash, err := rw.object(raw.Hash())
		if err != nil {
			return fmt.Errorf("rewrite %s: %w", name, err)
		}
		if newHash != raw.Hash() {
			updates = append(updates, gitbackend.RefUpdate{Name: name, Old: raw.Hash().String(), New: newHash.String()})
		}
	}
	// A detached HEAD would otherwise keep pointing at the old history.
	head, detached, err := s.detachedHead()
	if err != nil {
		return err
	}
	if detached {
		old := plumbing.NewHash(head)
		if newHash, ok := rw.mapped[old]; ok && newHash != old {
			updates = append(updates, gitbackend.RefUpdate{Name: "HEAD", Old: head, New: newHash.String()})
		}
	}
	res.Refs = updates
	if opts.DryRun {
		return nil
	}
	return s.applyRefUpdates(updates, opts.BackupPrefix)
}

// object rewrites whatever a ref points at. Trees and blobs are returned
// unchanged.
func (rw *nativeRewriter) object(h plumbing.Hash) (plumbing.Hash, error) {
	if mapped, ok := rw.mapped[h]; ok {
		return mapped, nil
	}
	obj, err := rw.repo.Storer.EncodedObject(plumbing.AnyObject, h)
	if err != nil {
		return h, err
	}
	switch obj.Type() {
	case plumbing.CommitObject:
		return rw.commit(h)
	case plumbing.TagObject:
		return rw.tag(h)
	default:
		return h, nil
	}
}

func (rw *nativeRewriter) tag(h plumbing.Hash) (plumbing.Hash, error) {
	tag, err := rw.repo.TagObject(h)
	if err != nil {
		return h, err
	}
	target, err := rw.object(tag.Target)
	if err != nil {
		return h, err
	}
	if target == tag.Target {
		rw.mapped[h] = h
		return h, nil
	}
	nt := *tag
	nt.Target = target
	nt.PGPSignature = ""
	newHash, err := rw.store(&nt)
	if err != nil {
		return h, fmt.Errorf("write tag %s: %w", tag.Name, err)
	}
	rw.mapped[h] = newHash
	return newHash, nil
}

// commit rewrites the history below tip without recursion.
func (rw *nativeRewriter) commit(tip plumbing.Hash) (plumbing.Hash, error) {
	stack := []plumbing.Hash{tip}
	for len(stack) > 0 {
		if err := rw.ctx.Err(); err != nil {
			return tip, err
		}
		h := stack[len(stack)-1]
		if _, done := rw.mapped[h]; done {
			stack = stack[:len(stack)-1]
			continue
		}
		c, err := rw.repo.CommitObject(h)
		if err != nil {
			if errors.Is(err, plumbing.ErrObjectNotFound) {
				return tip, fmt.Errorf("missing commit %s (shallow clone?)", h)
			}
			return tip, err
		}
		pending := false
		for _, p := range c.ParentHashes {
			if _, done := rw.mapped[p]; !done {
				stack = append(stack, p)
				pending = true
			}
		}
		if pending {
			continue
		}
		stack = stack[:len(stack)-1]
		newHash, err := rw.rewriteOne(c)
		if err != nil {
			return tip, err
		}
		rw.mapped[h] = newHash
	}
	return rw.mapped[tip], nil
}

func (rw *nativeRewriter) rewriteOne(c *object.Commit) (plumbing.Hash, error) {
	rw.res.Commits++
	rec := identityOf(c)
	changed := identity.Apply(rw.opts.Callback, &rec)
	if changed {
		rw.res.Rewritten++
		if rw.opts.OnRewrite != nil {
			rw.opts.OnRewrite(c.Hash.String(), identityOf(c), rec)
		}
	}
	parents := make([]plumbing.Hash, len(c.ParentHashes))
	parentsChanged := false
	for i, p := range c.ParentHashes {
		parents[i] = rw.mapped[p]
		if parents[i] != p {
			parentsChanged = true
		}
	}
	if !changed && !parentsChanged {
		return c.Hash, nil
	}
	nc := *c
	nc.Author.Name = string(rec.AuthorName)
	nc.Author.Email = string(rec.AuthorEmail)
	nc.Committer.Name = string(rec.CommitterName)
	nc.Committer.Email = string(rec.CommitterEmail)
	nc.ParentHashes = parents
	// The old signature covers the old content and would no longer verify.
	nc.PGPSignature = ""
	newHash, err := rw.store(&nc)
	if err != nil {
		return c.Hash, fmt.Errorf("write commit replacing %s: %w", c.Hash, err)
	}
	return newHash, nil
}

// store encodes obj and writes it, or only computes its hash on a dry run.
func (rw *nativeRewriter) store(obj encoder) (plumbing.Hash, error) {
	enc := rw.repo.Storer.NewEncodedObject()
	if err := obj.Encode(enc); err != nil {
		return plumbing.ZeroHash, err
	}
	if rw.opts.DryRun {
		return enc.Hash(), nil
	}
	return rw.repo.Storer.SetEncodedObject(enc)
}

func identityOf(c *object.Commit) identity.Commit {
	return identity.Commit{
		AuthorName:     []byte(c.Author.Name),
		AuthorEmail:    []byte(c.Author.Email),
		CommitterName:  []byte(c.Committer.Name),
		CommitterEmail: []byte(c.Committer.Email),
	}
}
