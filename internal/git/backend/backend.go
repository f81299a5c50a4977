package backend

import (
	"context"
	"fmt"
	"strings"
)

// Backend abstracts access to repository data.
//
// The CLI implementation shells out to the git executable; the native one is
// pure Go. Callers select one with Open and never depend on which is in use.
type Backend interface {
	RepoPath() string
	// StartLogStream walks every commit reachable from revs, newest first.
	// An empty revs selects all branches and tags.
	StartLogStream(ctx context.Context, revs []string) (LogStream, error)

	HeadState() (hash string, headName string, ok bool, err error)
	ListRefs() ([]Ref, error)
	ResolveRef(name string) (hash string, ok bool, err error)
	UpdateRefs(updates []RefUpdate) error
	LocalChangesStatus() (LocalChanges, error)
}

type LogStream interface {
	Next() (*Commit, error)
	Close() error
}

type Kind uint8

const (
	KindCLI Kind = iota
	KindNative
)

func (k Kind) String() string {
	switch k {
	case KindNative:
		return "native"
	default:
		return "cli"
	}
}

func ParseKind(raw string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", KindCLI.String(), "git":
		return KindCLI, nil
	case KindNative.String(), "go-git":
		return KindNative, nil
	default:
		return KindCLI, fmt.Errorf("unknown backend %q (want cli or native)", raw)
	}
}

func Open(repoPath string, kind Kind) (Backend, error) {
	switch kind {
	case KindNative:
		return OpenNative(repoPath)
	default:
		return OpenCLI(repoPath)
	}
}
