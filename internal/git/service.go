// Package git scans and rewrites repository history, handing every commit's
// identity to an identity.Callback exactly once.
package git

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gitlib "github.com/go-git/go-git/v5"

	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
	"github.com/mumchip/reattrib/internal/identity"
)

type Service struct {
	backend gitbackend.Backend
	kind    gitbackend.Kind
}

func Open(repoPath string, kind gitbackend.Kind) (*Service, error) {
	b, err := gitbackend.Open(repoPath, kind)
	if err != nil {
		return nil, err
	}
	slog.Debug("repository opened", slog.String("path", b.RepoPath()), slog.String("backend", kind.String()))
	return &Service{backend: b, kind: kind}, nil
}

// New wraps an existing backend.
func New(b gitbackend.Backend, kind gitbackend.Kind) *Service {
	return &Service{backend: b, kind: kind}
}

func (s *Service) RepoPath() string {
	return s.backend.RepoPath()
}

func (s *Service) Kind() gitbackend.Kind {
	return s.kind
}

// ScanFunc receives every scanned commit together with the identity fields
// that matched a bot pattern. Returning an error stops the scan.
type ScanFunc func(c *gitbackend.Commit, m identity.Match) error

// Scan walks every commit reachable from revs once. It never writes to the
// repository and returns the number of commits visited.
func (s *Service) Scan(ctx context.Context, revs []string, fn ScanFunc) (int, error) {
	stream, err := s.backend.StartLogStream(ctx, revs)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := stream.Close(); err != nil {
			slog.Debug("log stream close", slog.Any("error", err))
		}
	}()
	scanned := 0
	for {
		c, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return scanned, fmt.Errorf("iterate commits: %w", err)
		}
		scanned++
		rec := c.Identity()
		if err := fn(c, identity.MatchOf(&rec)); err != nil {
			return scanned, err
		}
	}
	slog.Debug("scan done", slog.Int("commits", scanned))
	return scanned, nil
}

// goGit opens the repository with go-git regardless of the backend in use;
// the native engine always works on the object database directly.
func (s *Service) goGit() (*gitlib.Repository, error) {
	path := s.backend.RepoPath()
	if path == "" {
		return nil, fmt.Errorf("repository not initialized")
	}
	repo, err := gitlib.PlainOpenWithOptions(path, &gitlib.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return repo, nil
}
