package report

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/pmezard/go-difflib/difflib"
	darkmode "github.com/thiagokokada/dark-mode-go"

	"github.com/mumchip/reattrib/internal/identity"
)

type ColorMode int

const (
	ColorNever ColorMode = iota
	ColorAuto
	ColorLight
	ColorDark
)

func (m ColorMode) String() string {
	switch m {
	case ColorAuto:
		return "auto"
	case ColorLight:
		return "light"
	case ColorDark:
		return "dark"
	default:
		return "never"
	}
}

func ParseColorMode(raw string) (ColorMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ColorAuto.String():
		return ColorAuto, nil
	case ColorNever.String(), "none", "off":
		return ColorNever, nil
	case ColorLight.String():
		return ColorLight, nil
	case ColorDark.String():
		return ColorDark, nil
	default:
		return ColorNever, fmt.Errorf("unknown color mode %q (want never, auto, light or dark)", raw)
	}
}

var detectDarkMode = darkmode.IsDarkMode

// identityDiff renders the Author/Committer header of f before and after
// rewriting as a unified diff.
func identityDiff(f Finding) (string, error) {
	before := f.identity()
	after := identity.Rewritten(before.Clone())
	ud := difflib.UnifiedDiff{
		A:        difflib.SplitLines(header(before)),
		B:        difflib.SplitLines(header(after)),
		FromFile: "a/" + shortHash(f.Hash),
		ToFile:   "b/" + shortHash(f.Hash),
		Context:  1,
	}
	return difflib.GetUnifiedDiffString(ud)
}

func header(c identity.Commit) string {
	return fmt.Sprintf("Author: %s <%s>\nCommitter: %s <%s>\n",
		c.AuthorName, c.AuthorEmail, c.CommitterName, c.CommitterEmail)
}

func styleFor(mode ColorMode) *chroma.Style {
	dark := mode == ColorDark
	if mode == ColorAuto && detectDarkMode != nil {
		isDark, err := detectDarkMode()
		if err != nil {
			slog.Debug("dark mode detection failed", slog.Any("error", err))
		}
		dark = err == nil && isDark
	}
	name := "github"
	if dark {
		name = "github-dark"
	}
	if st := styles.Get(name); st != nil {
		return st
	}
	return styles.Fallback
}

func highlight(w io.Writer, text string, mode ColorMode) error {
	if mode == ColorNever {
		_, err := io.WriteString(w, text)
		return err
	}
	lexer := lexers.Get("diff")
	if lexer == nil {
		_, err := io.WriteString(w, text)
		return err
	}
	it, err := chroma.Coalesce(lexer).Tokenise(nil, text)
	if err != nil {
		return fmt.Errorf("tokenise diff: %w", err)
	}
	return formatters.TTY256.Format(w, styleFor(mode), it)
}
