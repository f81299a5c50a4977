package backend

import (
	"time"

	"github.com/mumchip/reattrib/internal/identity"
)

type Signature struct {
	Name  string
	Email string
	When  time.Time
}

type Commit struct {
	Hash         string
	ParentHashes []string
	Author       Signature
	Committer    Signature
	Message      string
}

// Identity returns the identity record handed to rewrite callbacks.
func (c *Commit) Identity() identity.Commit {
	return identity.Commit{
		AuthorName:     []byte(c.Author.Name),
		AuthorEmail:    []byte(c.Author.Email),
		CommitterName:  []byte(c.Committer.Name),
		CommitterEmail: []byte(c.Committer.Email),
	}
}

// Summary returns the first line of the commit message.
func (c *Commit) Summary() string {
	msg := c.Message
	for i := 0; i < len(msg); i++ {
		if msg[i] == '\n' {
			return msg[:i]
		}
	}
	return msg
}

type LocalChanges struct {
	HasWorktree bool
	HasStaged   bool
}

func (l LocalChanges) Dirty() bool {
	return l.HasWorktree || l.HasStaged
}

type RefKind uint8

const (
	RefKindBranch RefKind = iota
	RefKindRemoteBranch
	RefKindTag
)

type Ref struct {
	Hash string
	Kind RefKind
	Name string // short name: main, origin/main, v1
}

// FullName returns the fully qualified reference name.
func (r Ref) FullName() string {
	switch r.Kind {
	case RefKindTag:
		return "refs/tags/" + r.Name
	case RefKindRemoteBranch:
		return "refs/remotes/" + r.Name
	default:
		return "refs/heads/" + r.Name
	}
}

// RefUpdate moves Name from Old to New. An empty Old creates the ref, an
// empty New deletes it.
type RefUpdate struct {
	Name string
	Old  string
	New  string
}
