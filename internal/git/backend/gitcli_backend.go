package backend

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

func (g *gitCLI) HeadState() (hash string, headName string, ok bool, err error) {
	if g == nil || g.path == "" {
		return "", "", false, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand([]string{"rev-parse", "-q", "--verify", "HEAD"}, true, "git rev-parse")
	if err != nil {
		return "", "", false, err
	}
	hash = strings.TrimSpace(out)
	if hash == "" {
		return "", "", false, nil
	}
	ref, err := g.runGitCommand([]string{"symbolic-ref", "-q", "--short", "HEAD"}, true, "git symbolic-ref")
	if err != nil {
		return "", "", false, err
	}
	headName = strings.TrimSpace(ref)
	if headName == "" {
		headName = "HEAD"
	}
	return hash, headName, true, nil
}

func (g *gitCLI) ResolveRef(name string) (string, bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false, fmt.Errorf("reference not specified")
	}
	out, err := g.runGitCommand([]string{"rev-parse", "-q", "--verify", name}, true, "git rev-parse")
	if err != nil {
		return "", false, err
	}
	hash := strings.TrimSpace(out)
	return hash, hash != "", nil
}

func (g *gitCLI) UpdateRefs(updates []RefUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	script, err := formatUpdateRefScript(updates)
	if err != nil {
		return err
	}
	_, err = g.runGitCommandInput(
		[]string{"update-ref", "--stdin", "-m", "reattrib: rewrite identities"},
		strings.NewReader(script),
		false,
		"git update-ref",
	)
	return err
}

// formatUpdateRefScript renders updates in the "git update-ref --stdin"
// format. All updates are applied in one transaction.
func formatUpdateRefScript(updates []RefUpdate) (string, error) {
	var b strings.Builder
	b.WriteString("start\n")
	for _, u := range updates {
		if u.Name == "" {
			return "", fmt.Errorf("ref update without name")
		}
		switch {
		case u.New == "" && u.Old == "":
			return "", fmt.Errorf("ref update for %s has neither old nor new value", u.Name)
		case u.New == "":
			fmt.Fprintf(&b, "delete %s %s\n", u.Name, u.Old)
		case u.Old == "":
			fmt.Fprintf(&b, "create %s %s\n", u.Name, u.New)
		default:
			fmt.Fprintf(&b, "update %s %s %s\n", u.Name, u.New, u.Old)
		}
	}
	b.WriteString("prepare\ncommit\n")
	return b.String(), nil
}

func (g *gitCLI) LocalChangesStatus() (LocalChanges, error) {
	var res LocalChanges
	if g == nil || g.path == "" {
		return res, fmt.Errorf("repository root not set")
	}
	out, err := g.runGitCommand([]string{"status", "--porcelain=v2"}, false, "git status")
	if err != nil {
		return res, err
	}
	res, err = parseStatusPorcelainV2(strings.NewReader(out))
	if err != nil {
		return res, fmt.Errorf("parse git status: %w", err)
	}
	return res, nil
}

func parseStatusPorcelainV2(r io.Reader) (LocalChanges, error) {
	var res LocalChanges
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case '1', '2', 'u':
			if len(line) < 4 {
				continue
			}
			stagedState := line[2]
			worktreeState := line[3]
			if stagedState != '.' {
				res.HasStaged = true
			}
			if worktreeState != '.' && worktreeState != '?' {
				res.HasWorktree = true
			}
		default:
			// '?' untracked, '!' ignored, etc.
		}
		if res.HasWorktree && res.HasStaged {
			break
		}
	}
	return res, scanner.Err()
}

func (g *gitCLI) ListRefs() ([]Ref, error) {
	if g == nil || g.path == "" {
		return nil, nil
	}
	out, err := g.runGitCommand(
		[]string{
			"--no-pager",
			"show-ref",
			"--dereference",
		},
		true,
		"git show-ref",
	)
	if err != nil {
		return nil, err
	}
	return parseRefsFromShowRef(out)
}

func parseRefsFromShowRef(out string) ([]Ref, error) {
	type refEntry struct {
		hash string
		ref  string
	}

	peeledByTagRef := map[string]string{}
	var entries []refEntry

	for _, rawLine := range strings.Split(out, "\n") {
		line := strings.TrimRight(rawLine, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		hash := strings.TrimSpace(parts[0])
		refName := strings.TrimSpace(parts[1])
		if hash == "" || refName == "" {
			return nil, fmt.Errorf("unexpected show-ref output line: %q", rawLine)
		}
		if strings.HasSuffix(refName, "^{}") {
			base := strings.TrimSuffix(refName, "^{}")
			if base != "" {
				peeledByTagRef[base] = hash
			}
			continue
		}
		entries = append(entries, refEntry{hash: hash, ref: refName})
	}

	var refs []Ref
	for _, entry := range entries {
		ref, ok := classifyRef(entry.ref, entry.hash)
		if !ok {
			continue
		}
		if peeled, ok := peeledByTagRef[entry.ref]; ok && peeled != "" && ref.Kind == RefKindTag {
			ref.Hash = peeled
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func classifyRef(full, hash string) (Ref, bool) {
	for _, k := range []struct {
		prefix string
		kind   RefKind
	}{
		{"refs/heads/", RefKindBranch},
		{"refs/remotes/", RefKindRemoteBranch},
		{"refs/tags/", RefKindTag},
	} {
		if short, ok := strings.CutPrefix(full, k.prefix); ok && short != "" {
			return Ref{Hash: hash, Kind: k.kind, Name: short}, true
		}
	}
	return Ref{}, false
}
