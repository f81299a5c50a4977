package fastexport

import (
	"bytes"
	"fmt"
)

// ident is one author, committer or tagger line:
//
//	keyword [SP name] SP LT email GT SP when LF
type ident struct {
	keyword []byte
	name    []byte
	email   []byte
	when    []byte
	eol     []byte
}

func parseIdent(line []byte) (ident, error) {
	body := bytes.TrimRight(line, "\r\n")
	eol := line[len(body):]
	sp := bytes.IndexByte(body, ' ')
	if sp <= 0 {
		return ident{}, fmt.Errorf("malformed identity %q", body)
	}
	rest := body[sp+1:]
	lt := bytes.IndexByte(rest, '<')
	if lt < 0 {
		return ident{}, fmt.Errorf("identity without email %q", body)
	}
	gt := bytes.IndexByte(rest[lt:], '>')
	if gt < 0 {
		return ident{}, fmt.Errorf("unterminated email in %q", body)
	}
	gt += lt
	return ident{
		keyword: body[:sp],
		name:    bytes.TrimRight(rest[:lt], " "),
		email:   rest[lt+1 : gt],
		when:    bytes.TrimLeft(rest[gt+1:], " "),
		eol:     eol,
	}, nil
}

func (id ident) render() []byte {
	var b bytes.Buffer
	b.Write(id.keyword)
	b.WriteByte(' ')
	if len(id.name) > 0 {
		b.Write(id.name)
		b.WriteByte(' ')
	}
	b.WriteByte('<')
	b.Write(id.email)
	b.WriteByte('>')
	if len(id.when) > 0 {
		b.WriteByte(' ')
		b.Write(id.when)
	}
	b.Write(id.eol)
	return b.Bytes()
}
