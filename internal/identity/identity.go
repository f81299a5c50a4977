// Package identity detects commits made by the Lovable bot accounts and
// re-attributes them to a fixed replacement identity.
package identity

import (
	"bytes"
	"regexp"
	"strings"
)

const (
	ReplacementName  = "Mumchip"
	ReplacementEmail = "91917105+Mumchip@users.noreply.github.com"
)

// The patterns are matched against ASCII-lowered input. Only ASCII letters
// fold, so look-alikes such as U+017F (long s) or U+212A (Kelvin sign)
// never match.
var (
	botName  = regexp.MustCompile(`lovable(-dev)?\[bot\]`)
	botEmail = regexp.MustCompile(`\d+\+lovable(-dev)?\[bot\]@users\.noreply\.github\.com`)
)

func matchFold(re *regexp.Regexp, b []byte) bool {
	return re.Match(foldASCII(b))
}

// foldASCII lowers A-Z and leaves every other byte alone. b is copied only
// when it holds an upper-case letter.
func foldASCII(b []byte) []byte {
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			out := bytes.Clone(b)
			for j := i; j < len(out); j++ {
				if c := out[j]; 'A' <= c && c <= 'Z' {
					out[j] = c + ('a' - 'A')
				}
			}
			return out
		}
	}
	return b
}

// Commit holds the identity fields of a single commit. Engines own the
// record; Rewrite may overwrite the fields in place.
type Commit struct {
	AuthorName     []byte
	AuthorEmail    []byte
	CommitterName  []byte
	CommitterEmail []byte
}

// Callback is invoked once per commit by a history rewriting engine.
type Callback func(*Commit)

// Match records which identity fields matched a bot pattern.
type Match uint8

const (
	MatchAuthorName Match = 1 << iota
	MatchCommitterName
	MatchAuthorEmail
	MatchCommitterEmail
)

func (m Match) Has(f Match) bool {
	return m&f != 0
}

func (m Match) String() string {
	if m == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []struct {
		bit  Match
		name string
	}{
		{MatchAuthorName, "author-name"},
		{MatchCommitterName, "committer-name"},
		{MatchAuthorEmail, "author-email"},
		{MatchCommitterEmail, "committer-email"},
	} {
		if m.Has(f.bit) {
			parts = append(parts, f.name)
		}
	}
	return strings.Join(parts, ",")
}

// Fields returns the names of the matched fields.
func (m Match) Fields() []string {
	if m == 0 {
		return nil
	}
	return strings.Split(m.String(), ",")
}

// MatchOf reports which fields of c carry a bot identity.
func MatchOf(c *Commit) Match {
	if c == nil {
		return 0
	}
	var m Match
	if matchFold(botName, c.AuthorName) {
		m |= MatchAuthorName
	}
	if matchFold(botName, c.CommitterName) {
		m |= MatchCommitterName
	}
	if matchFold(botEmail, c.AuthorEmail) {
		m |= MatchAuthorEmail
	}
	if matchFold(botEmail, c.CommitterEmail) {
		m |= MatchCommitterEmail
	}
	return m
}

// IsBot reports whether any one of the four identity fields matches.
func IsBot(c *Commit) bool {
	return MatchOf(c) != 0
}

// Rewrite replaces all four identity fields with the replacement identity
// when the commit was authored or committed by a bot. It is a no-op
// otherwise.
func Rewrite(c *Commit) {
	if !IsBot(c) {
		return
	}
	c.AuthorName = []byte(ReplacementName)
	c.CommitterName = []byte(ReplacementName)
	c.AuthorEmail = []byte(ReplacementEmail)
	c.CommitterEmail = []byte(ReplacementEmail)
}

// Rewritten returns the result of applying Rewrite to a copy of c.
func Rewritten(c Commit) Commit {
	Rewrite(&c)
	return c
}

// Apply runs cb on c and reports whether any field changed.
func Apply(cb Callback, c *Commit) bool {
	if cb == nil {
		cb = Rewrite
	}
	before := c.Clone()
	cb(c)
	return !c.equal(&before)
}

// Clone returns a deep copy of c.
func (c *Commit) Clone() Commit {
	return Commit{
		AuthorName:     bytes.Clone(c.AuthorName),
		AuthorEmail:    bytes.Clone(c.AuthorEmail),
		CommitterName:  bytes.Clone(c.CommitterName),
		CommitterEmail: bytes.Clone(c.CommitterEmail),
	}
}

func (c *Commit) equal(o *Commit) bool {
	return bytes.Equal(c.AuthorName, o.AuthorName) &&
		bytes.Equal(c.AuthorEmail, o.AuthorEmail) &&
		bytes.Equal(c.CommitterName, o.CommitterName) &&
		bytes.Equal(c.CommitterEmail, o.CommitterEmail)
}
