package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
	"github.com/mumchip/reattrib/internal/identity"
)

// DefaultBackupPrefix is where the pre-rewrite value of every moved ref is
// kept, mirroring git filter-branch.
const DefaultBackupPrefix = "refs/original/"

var (
	ErrDirtyWorktree = errors.New("working tree has uncommitted changes")
	ErrBackupExists  = errors.New("backup refs already exist")
	ErrNoRefs        = errors.New("no references selected")
	ErrUnknownRef    = errors.New("unknown ref")
)

type Engine uint8

const (
	EngineNative Engine = iota
	EngineFastExport
)

func (e Engine) String() string {
	switch e {
	case EngineFastExport:
		return "fast-export"
	default:
		return "native"
	}
}

func ParseEngine(raw string) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", EngineNative.String():
		return EngineNative, nil
	case EngineFastExport.String(), "fastexport":
		return EngineFastExport, nil
	default:
		return EngineNative, fmt.Errorf("unknown engine %q (want native or fast-export)", raw)
	}
}

// RewriteFunc observes every commit whose identity the callback changed.
// hash is the commit's original object name.
type RewriteFunc func(hash string, before, after identity.Commit)

type RewriteOptions struct {
	Engine Engine
	// Refs selects what to rewrite by full or short name. Empty means all
	// local branches and tags.
	Refs         []string
	BackupPrefix string
	DryRun       bool
	Force        bool
	Callback     identity.Callback
	OnRewrite    RewriteFunc
}

type RewriteResult struct {
	Engine    Engine
	DryRun    bool
	Commits   int
	Rewritten int
	Refs      []gitbackend.RefUpdate
}

func (o RewriteOptions) withDefaults() RewriteOptions {
	if o.BackupPrefix == "" {
		o.BackupPrefix = DefaultBackupPrefix
	}
	if !strings.HasSuffix(o.BackupPrefix, "/") {
		o.BackupPrefix += "/"
	}
	if o.Callback == nil {
		o.Callback = identity.Rewrite
	}
	return o
}

// Rewrite applies opts.Callback to every commit reachable from the selected
// refs and moves the refs to the rewritten history.
func (s *Service) Rewrite(ctx context.Context, opts RewriteOptions) (RewriteResult, error) {
	opts = opts.withDefaults()
	res := RewriteResult{Engine: opts.Engine, DryRun: opts.DryRun}
	if !opts.DryRun && !opts.Force {
		st, err := s.backend.LocalChangesStatus()
		if err != nil {
			return res, fmt.Errorf("check worktree: %w", err)
		}
		if st.Dirty() {
			return res, ErrDirtyWorktree
		}
	}
	refs, err := s.selectRefs(opts.Refs, opts.BackupPrefix)
	if err != nil {
		return res, err
	}
	if len(refs) == 0 {
		return res, ErrNoRefs
	}
	if !opts.DryRun && !opts.Force {
		if err := s.checkBackups(refs, opts.BackupPrefix); err != nil {
			return res, err
		}
	}
	slog.Debug("rewrite start",
		slog.String("engine", opts.Engine.String()),
		slog.String("backend", s.Kind().String()),
		slog.Int("refs", len(refs)),
		slog.Bool("dry_run", opts.DryRun),
	)
	switch opts.Engine {
	case EngineFastExport:
		err = s.rewriteFastExport(ctx, opts, refs, &res)
	default:
		err = s.rewriteNative(ctx, opts, refs, &res)
	}
	if err != nil {
		return res, err
	}
	slog.Info("rewrite done",
		slog.String("engine", opts.Engine.String()),
		slog.Int("commits", res.Commits),
		slog.Int("rewritten", res.Rewritten),
		slog.Int("refs", len(res.Refs)),
		slog.Bool("dry_run", opts.DryRun),
	)
	return res, nil
}

// selectRefs resolves the user's selection against the repository. Refs
// under the backup namespace are never selected.
func (s *Service) selectRefs(sel []string, backupPrefix string) ([]gitbackend.Ref, error) {
	all, err := s.backend.ListRefs()
	if err != nil {
		return nil, fmt.Errorf("list refs: %w", err)
	}
	var out []gitbackend.Ref
	matched := make(map[string]bool, len(sel))
	for _, ref := range all {
		full := ref.FullName()
		if strings.HasPrefix(full, backupPrefix) {
			continue
		}
		if len(sel) == 0 {
			if ref.Kind != gitbackend.RefKindRemoteBranch {
				out = append(out, ref)
			}
			continue
		}
		for _, want := range sel {
			if refMatches(ref, want) {
				out = append(out, ref)
				matched[want] = true
				break
			}
		}
	}
	for _, want := range sel {
		if !matched[want] {
			return nil, fmt.Errorf("%w %q", ErrUnknownRef, want)
		}
	}
	return out, nil
}

func refMatches(ref gitbackend.Ref, want string) bool {
	want = strings.TrimSpace(want)
	return want == ref.FullName() || want == ref.Name
}

func (s *Service) checkBackups(refs []gitbackend.Ref, prefix string) error {
	var existing []string
	for _, ref := range refs {
		name := prefix + ref.FullName()
		_, ok, err := s.backend.ResolveRef(name)
		if err != nil {
			return err
		}
		if ok {
			existing = append(existing, name)
		}
	}
	if len(existing) > 0 {
		return fmt.Errorf("%w: %s", ErrBackupExists, strings.Join(existing, ", "))
	}
	return nil
}

// backupUpdates returns the ref updates that record each ref's old value
// under prefix. Detached HEAD is not backed up.
func (s *Service) backupUpdates(updates []gitbackend.RefUpdate, prefix string) ([]gitbackend.RefUpdate, error) {
	var out []gitbackend.RefUpdate
	for _, u := range updates {
		if u.Name == "HEAD" || u.Old == "" {
			continue
		}
		name := prefix + u.Name
		existing, ok, err := s.backend.ResolveRef(name)
		if err != nil {
			return nil, err
		}
		b := gitbackend.RefUpdate{Name: name, New: u.Old}
		if ok {
			b.Old = existing
		}
		out = append(out, b)
	}
	return out, nil
}

// applyRefUpdates writes backups first so an interrupted run never loses
// the original history.
func (s *Service) applyRefUpdates(updates []gitbackend.RefUpdate, prefix string) error {
	if len(updates) == 0 {
		return nil
	}
	backups, err := s.backupUpdates(updates, prefix)
	if err != nil {
		return err
	}
	if err := s.backend.UpdateRefs(backups); err != nil {
		return fmt.Errorf("write backup refs: %w", err)
	}
	if err := s.backend.UpdateRefs(updates); err != nil {
		return fmt.Errorf("update refs: %w", err)
	}
	for _, u := range updates {
		slog.Debug("ref moved", slog.String("ref", u.Name), slog.String("old", u.Old), slog.String("new", u.New))
	}
	return nil
}
