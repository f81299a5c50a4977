// Package fastexport rewrites commit identities in a git fast-import stream.
//
// The filter sits between "git fast-export" and "git fast-import". Every
// command is copied through byte for byte except the author and committer
// lines of commit commands, which are handed to an identity.Callback once per
// commit.
package fastexport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/mumchip/reattrib/internal/identity"
)

var (
	cmdCommit    = []byte("commit ")
	hdrOrigOID   = []byte("original-oid ")
	cmdData      = []byte("data ")
	cmdDataDelim = []byte("data <<")
	hdrAuthor    = []byte("author ")
	hdrCommitter = []byte("committer ")
)

// Stats summarises a filter run.
type Stats struct {
	Commits   int
	Rewritten int
}

// SyntaxError reports malformed input together with the line it was found on.
type SyntaxError struct {
	Line int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("fast-import stream line %d: %s", e.Line, e.Msg)
}

// Options configures FilterWith.
type Options struct {
	// Callback runs once per commit. Nil means identity.Rewrite.
	Callback identity.Callback
	// OnRewrite observes commits whose identity changed. oid is taken from
	// the commit's original-oid line ("git fast-export --show-original-ids")
	// and is empty when the stream does not carry one.
	OnRewrite func(oid string, before, after identity.Commit)
}

type filter struct {
	r     *bufio.Reader
	w     *countingWriter
	opts  Options
	line  int
	stats Stats
}

// Filter copies the stream from r to w, applying cb to the identity of every
// commit. A nil cb means identity.Rewrite.
func Filter(ctx context.Context, r io.Reader, w io.Writer, cb identity.Callback) (Stats, error) {
	return FilterWith(ctx, r, w, Options{Callback: cb})
}

// FilterWith is Filter with an observer for rewritten commits.
func FilterWith(ctx context.Context, r io.Reader, w io.Writer, opts Options) (Stats, error) {
	if opts.Callback == nil {
		opts.Callback = identity.Rewrite
	}
	bw := bufio.NewWriter(w)
	f := &filter{
		r:    bufio.NewReaderSize(r, 64*1024),
		w:    &countingWriter{w: bw},
		opts: opts,
	}
	err := f.run(ctx)
	if ferr := bw.Flush(); err == nil && ferr != nil {
		err = fmt.Errorf("flush output: %w", ferr)
	}
	return f.stats, err
}

func (f *filter) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		line, err := f.readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch {
		case bytes.HasPrefix(line, cmdCommit):
			err = f.commit(line)
		case bytes.HasPrefix(line, cmdData):
			err = f.copyData(line)
		default:
			err = f.write(line)
		}
		if err != nil {
			return err
		}
	}
}

// commit buffers the header of a commit command up to its message so the
// identity lines can be rewritten before anything is emitted.
func (f *filter) commit(first []byte) error {
	header := [][]byte{first}
	authorAt, committerAt := -1, -1
	var author, committer ident
	var oid string
	for {
		line, err := f.readline()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return f.syntaxError("unexpected end of stream inside commit")
			}
			return err
		}
		switch {
		case bytes.HasPrefix(line, hdrOrigOID):
			oid = string(bytes.TrimSpace(line[len(hdrOrigOID):]))
		case bytes.HasPrefix(line, hdrAuthor):
			if author, err = parseIdent(line); err != nil {
				return f.syntaxError(err.Error())
			}
			authorAt = len(header)
		case bytes.HasPrefix(line, hdrCommitter):
			if committer, err = parseIdent(line); err != nil {
				return f.syntaxError(err.Error())
			}
			committerAt = len(header)
		case bytes.HasPrefix(line, cmdData):
			if committerAt < 0 {
				return f.syntaxError("commit without committer")
			}
			f.stats.Commits++
			rec := identity.Commit{
				AuthorName:     author.name,
				AuthorEmail:    author.email,
				CommitterName:  committer.name,
				CommitterEmail: committer.email,
			}
			before := rec.Clone()
			if identity.Apply(f.opts.Callback, &rec) {
				f.stats.Rewritten++
				if f.opts.OnRewrite != nil {
					f.opts.OnRewrite(oid, before, rec)
				}
				if authorAt >= 0 {
					author.name, author.email = rec.AuthorName, rec.AuthorEmail
					header[authorAt] = author.render()
				}
				committer.name, committer.email = rec.CommitterName, rec.CommitterEmail
				header[committerAt] = committer.render()
			}
			for _, h := range header {
				if err := f.write(h); err != nil {
					return err
				}
			}
			return f.copyData(line)
		}
		header = append(header, line)
	}
}

// copyData copies a data command and its payload. Both the exact byte count
// and the delimited forms are supported.
func (f *filter) copyData(hdr []byte) error {
	if err := f.write(hdr); err != nil {
		return err
	}
	if bytes.HasPrefix(hdr, cmdDataDelim) {
		delim := hdr[len(cmdDataDelim):]
		for {
			line, err := f.readline()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return f.syntaxError("end of stream while reading delimited data")
				}
				return err
			}
			if err := f.write(line); err != nil {
				return err
			}
			if bytes.Equal(line, delim) {
				break
			}
		}
	} else {
		count, err := strconv.ParseInt(string(bytes.TrimSpace(hdr[len(cmdData):])), 10, 64)
		if err != nil || count < 0 {
			return f.syntaxError(fmt.Sprintf("malformed data header %q", bytes.TrimSpace(hdr)))
		}
		before := f.w.lines
		n, err := io.CopyN(f.w, f.r, count)
		f.line += f.w.lines - before
		if err != nil {
			if errors.Is(err, io.EOF) {
				return f.syntaxError(fmt.Sprintf("short data: got %d of %d bytes", n, count))
			}
			return fmt.Errorf("copy data: %w", err)
		}
	}
	// The LF after a data payload is optional.
	if next, err := f.r.Peek(1); err == nil && next[0] == '\n' {
		_, _ = f.r.ReadByte()
		f.line++
		return f.write([]byte{'\n'})
	}
	return nil
}

func (f *filter) readline() ([]byte, error) {
	line, err := f.r.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			f.line++
			return line, nil
		}
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read stream: %w", err)
	}
	f.line++
	return line, nil
}

func (f *filter) write(b []byte) error {
	if _, err := f.w.Write(b); err != nil {
		return fmt.Errorf("write stream: %w", err)
	}
	return nil
}

func (f *filter) syntaxError(msg string) error {
	return &SyntaxError{Line: f.line, Msg: msg}
}

type countingWriter struct {
	w     io.Writer
	lines int
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.lines += bytes.Count(p[:n], []byte{'\n'})
	return n, err
}
