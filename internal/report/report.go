// Package report renders scan findings as text, JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	gitbackend "github.com/mumchip/reattrib/internal/git/backend"
	"github.com/mumchip/reattrib/internal/identity"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return FormatText, nil
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return FormatText, fmt.Errorf("unknown format %q (want text, json or yaml)", raw)
	}
}

type Person struct {
	Name  string `json:"name" yaml:"name"`
	Email string `json:"email" yaml:"email"`
}

func (p Person) String() string {
	return fmt.Sprintf("%s <%s>", p.Name, p.Email)
}

// Finding is one commit attributed to a bot.
type Finding struct {
	Hash      string         `json:"hash" yaml:"hash"`
	Summary   string         `json:"summary" yaml:"summary"`
	Date      time.Time      `json:"date" yaml:"date"`
	Author    Person         `json:"author" yaml:"author"`
	Committer Person         `json:"committer" yaml:"committer"`
	Fields    identity.Match `json:"-" yaml:"-"`
	Matched   []string       `json:"matched" yaml:"matched"`
}

// NewFinding builds a finding from a scanned commit.
func NewFinding(c *gitbackend.Commit, m identity.Match) Finding {
	return Finding{
		Hash:      c.Hash,
		Summary:   c.Summary(),
		Date:      c.Committer.When,
		Author:    Person{Name: c.Author.Name, Email: c.Author.Email},
		Committer: Person{Name: c.Committer.Name, Email: c.Committer.Email},
		Fields:    m,
		Matched:   m.Fields(),
	}
}

func (f Finding) identity() identity.Commit {
	return identity.Commit{
		AuthorName:     []byte(f.Author.Name),
		AuthorEmail:    []byte(f.Author.Email),
		CommitterName:  []byte(f.Committer.Name),
		CommitterEmail: []byte(f.Committer.Email),
	}
}

type Report struct {
	Repo     string    `json:"repo" yaml:"repo"`
	Scanned  int       `json:"scanned" yaml:"scanned"`
	Findings []Finding `json:"findings" yaml:"findings"`
}

func (r *Report) Add(f Finding) {
	r.Findings = append(r.Findings, f)
}

func (r *Report) Len() int {
	return len(r.Findings)
}

// Options tune the text format; JSON and YAML ignore them.
type Options struct {
	Diff  bool
	Color ColorMode
}

func Write(w io.Writer, r *Report, format Format, opts Options) error {
	if r.Findings == nil {
		r.Findings = []Finding{}
	}
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		return writeText(w, r, opts)
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// errWriter keeps the first write error and turns later writes into no-ops.
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}

func writeText(w io.Writer, r *Report, opts Options) error {
	ew := &errWriter{w: w}
	for _, f := range r.Findings {
		ew.printf("%s %s\n", shortHash(f.Hash), f.Summary)
		ew.printf("    Matched:   %s\n", f.Fields)
		if opts.Diff {
			text, err := identityDiff(f)
			if err != nil {
				return fmt.Errorf("diff %s: %w", f.Hash, err)
			}
			if err := highlight(ew, text, opts.Color); err != nil {
				return err
			}
			continue
		}
		ew.printf("    Author:    %s\n", f.Author)
		ew.printf("    Committer: %s\n", f.Committer)
		if ew.err != nil {
			return ew.err
		}
	}
	ew.printf("%d of %d commits attributed to a bot\n", r.Len(), r.Scanned)
	return ew.err
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
