package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/mumchip/reattrib/internal/fastexport"
	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
)

func fastExportArgs(refs []gitbackend.Ref, marks *markFiles) []string {
	args := []string{
		"fast-export",
		"--signed-tags=strip",
		"--tag-of-filtered-object=rewrite",
		"--reencode=yes",
		"--show-original-ids",
		// fast-import refuses a stream cut short before "done".
		"--use-done-feature",
	}
	if marks != nil {
		args = append(args, "--export-marks="+marks.exported)
	}
	for _, ref := range refs {
		args = append(args, ref.FullName())
	}
	return args
}

func fastImportArgs(marks *markFiles) []string {
	args := []string{"fast-import", "--force", "--quiet"}
	if marks != nil {
		args = append(args, "--export-marks="+marks.imported)
	}
	return args
}

// rewriteFastExport pipes "git fast-export" through fastexport.Filter into
// "git fast-import". On a dry run the filtered stream is discarded.
//
// Every selected ref is backed up before the import starts. Whatever happens
// to the import, backups of refs that did not move are removed again.
func (s *Service) rewriteFastExport(ctx context.Context, opts RewriteOptions, refs []gitbackend.Ref, res *RewriteResult) error {
	if err := gitbackend.RequireGit(); err != nil {
		return fmt.Errorf("fast-export engine: %w", err)
	}
	if opts.DryRun {
		return s.runFastExport(ctx, opts, refs, nil, res)
	}

	before, err := s.snapshotRefs(refs)
	if err != nil {
		return err
	}
	head, detached, err := s.detachedHead()
	if err != nil {
		return err
	}
	var marks *markFiles
	if detached {
		if marks, err = newMarkFiles(); err != nil {
			return err
		}
		defer marks.remove()
	}
	created, err := s.writeFastExportBackups(refs, before, opts.BackupPrefix)
	if err != nil {
		return err
	}

	runErr := s.runFastExport(ctx, opts, refs, marks, res)
	moved, err := s.movedRefs(refs, before)
	if err != nil {
		return errors.Join(runErr, err)
	}
	res.Refs = moved
	if err := s.dropUnusedBackups(created, moved, opts.BackupPrefix); err != nil || runErr != nil {
		return errors.Join(runErr, err)
	}
	if !detached {
		return nil
	}
	return s.moveDetachedHead(head, marks, res)
}

func (s *Service) runFastExport(ctx context.Context, opts RewriteOptions, refs []gitbackend.Ref, marks *markFiles, res *RewriteResult) error {
	path := s.backend.RepoPath()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	export := gitbackend.Command(ctx, path, fastExportArgs(refs, marks)...)
	var exportErr bytes.Buffer
	export.Stderr = &exportErr
	exportOut, err := export.StdoutPipe()
	if err != nil {
		return fmt.Errorf("git fast-export stdout: %w", err)
	}

	var (
		sink      io.Writer = io.Discard
		imp       *exec.Cmd
		importIn  io.WriteCloser
		importErr bytes.Buffer
	)
	if !opts.DryRun {
		imp = gitbackend.Command(ctx, path, fastImportArgs(marks)...)
		imp.Stderr = &importErr
		importIn, err = imp.StdinPipe()
		if err != nil {
			return fmt.Errorf("git fast-import stdin: %w", err)
		}
		if err := imp.Start(); err != nil {
			return fmt.Errorf("git fast-import start: %w", err)
		}
		sink = importIn
	}
	if err := export.Start(); err != nil {
		cancel()
		if imp != nil {
			_ = importIn.Close()
			_ = imp.Wait()
		}
		return fmt.Errorf("git fast-export start: %w", err)
	}

	stats, filterErr := fastexport.FilterWith(ctx, exportOut, sink, fastexport.Options{
		Callback:  opts.Callback,
		OnRewrite: opts.OnRewrite,
	})
	if filterErr != nil {
		// Kill fast-import before it sees the end of a truncated stream.
		cancel()
	}
	var errs []error
	if filterErr != nil {
		errs = append(errs, fmt.Errorf("filter stream: %w", filterErr))
	}
	if importIn != nil && filterErr == nil {
		if err := importIn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fast-import input: %w", err))
		}
	}
	if err := export.Wait(); err != nil && filterErr == nil {
		errs = append(errs, commandError("git fast-export", err, &exportErr))
	}
	if imp != nil {
		if err := imp.Wait(); err != nil && filterErr == nil {
			errs = append(errs, commandError("git fast-import", err, &importErr))
		}
	}
	res.Commits = stats.Commits
	res.Rewritten = stats.Rewritten
	return errors.Join(errs...)
}

func (s *Service) snapshotRefs(refs []gitbackend.Ref) (map[string]string, error) {
	out := make(map[string]string, len(refs))
	for _, ref := range refs {
		hash, ok, err := s.backend.ResolveRef(ref.FullName())
		if err != nil {
			return nil, err
		}
		if ok {
			out[ref.FullName()] = hash
		}
	}
	return out, nil
}

func (s *Service) movedRefs(refs []gitbackend.Ref, before map[string]string) ([]gitbackend.RefUpdate, error) {
	var moved []gitbackend.RefUpdate
	for _, ref := range refs {
		name := ref.FullName()
		after, ok, err := s.backend.ResolveRef(name)
		if err != nil {
			return nil, err
		}
		if ok && after != before[name] {
			moved = append(moved, gitbackend.RefUpdate{Name: name, Old: before[name], New: after})
		}
	}
	return moved, nil
}

// detachedHead returns the commit HEAD points at when it is detached.
func (s *Service) detachedHead() (string, bool, error) {
	hash, name, ok, err := s.backend.HeadState()
	if err != nil {
		return "", false, fmt.Errorf("read HEAD: %w", err)
	}
	return hash, ok && name == "HEAD", nil
}

// writeFastExportBackups records every selected ref before fast-import moves
// them. It returns the backups it created.
func (s *Service) writeFastExportBackups(refs []gitbackend.Ref, before map[string]string, prefix string) ([]gitbackend.RefUpdate, error) {
	var pending []gitbackend.RefUpdate
	for _, ref := range refs {
		if hash, ok := before[ref.FullName()]; ok {
			pending = append(pending, gitbackend.RefUpdate{Name: ref.FullName(), Old: hash})
		}
	}
	if len(pending) == 0 {
		return nil, nil
	}
	backups, err := s.backupUpdates(pending, prefix)
	if err != nil {
		return nil, err
	}
	if err := s.backend.UpdateRefs(backups); err != nil {
		return nil, fmt.Errorf("write backup refs: %w", err)
	}
	var created []gitbackend.RefUpdate
	for _, b := range backups {
		if b.Old == "" {
			created = append(created, b)
		}
	}
	return created, nil
}

// dropUnusedBackups removes backups this run created for refs that ended up
// unchanged.
func (s *Service) dropUnusedBackups(created, moved []gitbackend.RefUpdate, prefix string) error {
	movedSet := make(map[string]bool, len(moved))
	for _, m := range moved {
		movedSet[prefix+m.Name] = true
	}
	var drop []gitbackend.RefUpdate
	for _, b := range created {
		if !movedSet[b.Name] {
			drop = append(drop, gitbackend.RefUpdate{Name: b.Name, Old: b.New})
		}
	}
	if len(drop) == 0 {
		return nil
	}
	if err := s.backend.UpdateRefs(drop); err != nil {
		return fmt.Errorf("drop unused backup refs: %w", err)
	}
	return nil
}

// moveDetachedHead points a detached HEAD at the rewritten copy of its
// commit, found by joining the marks both sides exported.
func (s *Service) moveDetachedHead(head string, marks *markFiles, res *RewriteResult) error {
	rewritten, err := marks.mapping()
	if err != nil {
		return err
	}
	newHead, ok := rewritten[head]
	if !ok || newHead == head {
		return nil
	}
	u := gitbackend.RefUpdate{Name: "HEAD", Old: head, New: newHead}
	if err := s.backend.UpdateRefs([]gitbackend.RefUpdate{u}); err != nil {
		return fmt.Errorf("move detached HEAD: %w", err)
	}
	res.Refs = append(res.Refs, u)
	return nil
}

// markFiles are the --export-marks outputs of fast-export (mark to original
// object) and fast-import (mark to rewritten object).
type markFiles struct {
	dir      string
	exported string
	imported string
}

func newMarkFiles() (*markFiles, error) {
	dir, err := os.MkdirTemp("", "reattrib-marks-")
	if err != nil {
		return nil, fmt.Errorf("create marks directory: %w", err)
	}
	return &markFiles{
		dir:      dir,
		exported: filepath.Join(dir, "export.marks"),
		imported: filepath.Join(dir, "import.marks"),
	}, nil
}

func (m *markFiles) remove() {
	_ = os.RemoveAll(m.dir)
}

// mapping returns original object name to rewritten object name.
func (m *markFiles) mapping() (map[string]string, error) {
	before, err := readMarks(m.exported)
	if err != nil {
		return nil, err
	}
	after, err := readMarks(m.imported)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(before))
	for mark, old := range before {
		if nu, ok := after[mark]; ok {
			out[old] = nu
		}
	}
	return out, nil
}

// readMarks parses a marks file: one ":<mark> <object>" per line.
func readMarks(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read marks: %w", err)
	}
	defer f.Close()
	return parseMarks(f)
}

func parseMarks(r io.Reader) (map[string]string, error) {
	out := map[string]string{}
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		mark, hash, ok := strings.Cut(text, " ")
		if !ok || !strings.HasPrefix(mark, ":") || hash == "" {
			return nil, fmt.Errorf("marks line %d: malformed %q", line, text)
		}
		out[mark] = hash
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read marks: %w", err)
	}
	return out, nil
}

func commandError(name string, err error, stderr *bytes.Buffer) error {
	if stderr.Len() > 0 {
		return fmt.Errorf("%s: %v: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return fmt.Errorf("%s: %w", name, err)
}
