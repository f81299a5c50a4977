package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mumchip/reattrib/internal/clierr"
	"github.com/mumchip/reattrib/internal/identity"
	"github.com/mumchip/reattrib/internal/testutil/gitrepo"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out, errOut bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func botRepo(t *testing.T) *gitrepo.Repo {
	t.Helper()
	r := gitrepo.New(t)
	r.Commit("human", r.Human(), r.Human())
	r.Commit("bot", r.Bot(), r.Bot())
	return r
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "reattrib "), out)
}

func TestFilter(t *testing.T) {
	in := "commit refs/heads/main\n" +
		"author lovable[bot] <1+lovable[bot]@users.noreply.github.com> 1 +0000\n" +
		"committer Alice <alice@example.com> 1 +0000\n" +
		"data 3\nmsg\n"
	out, err := execute(t, in, "filter")
	require.NoError(t, err)
	want := "commit refs/heads/main\n" +
		"author Mumchip <91917105+Mumchip@users.noreply.github.com> 1 +0000\n" +
		"committer Mumchip <91917105+Mumchip@users.noreply.github.com> 1 +0000\n" +
		"data 3\nmsg\n"
	assert.Equal(t, want, out)
}

func TestFilter_BadStream(t *testing.T) {
	_, err := execute(t, "blob\ndata nope\n", "filter")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeFailure, clierr.ExitCodeOf(err))
}

func TestScanJSON(t *testing.T) {
	r := botRepo(t)
	out, err := execute(t, "", "scan", "--repo", r.Dir, "--backend", "native", "--format", "json")
	require.NoError(t, err)

	var got struct {
		Scanned  int `json:"scanned"`
		Findings []struct {
			Summary string   `json:"summary"`
			Matched []string `json:"matched"`
		} `json:"findings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, 2, got.Scanned)
	require.Len(t, got.Findings, 1)
	assert.Equal(t, "bot", got.Findings[0].Summary)
	assert.Len(t, got.Findings[0].Matched, 4)
}

func TestScanExitCode(t *testing.T) {
	r := botRepo(t)
	_, err := execute(t, "", "scan", "--repo", r.Dir, "--backend", "native", "--exit-code")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeFindings, clierr.ExitCodeOf(err))

	_, err = execute(t, "", "scan", "--repo", r.Dir, "--backend", "native")
	require.NoError(t, err)
}

func TestScanConfigFile(t *testing.T) {
	r := botRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, ".reattrib.yaml"), []byte("backend: native\nscan:\n  format: yaml\n"), 0o644))

	out, err := execute(t, "", "scan", "--repo", r.Dir)
	require.NoError(t, err)
	assert.Contains(t, out, "scanned: 2")

	// Flags win over the file.
	out, err = execute(t, "", "scan", "--repo", r.Dir, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "1 of 2 commits attributed to a bot")
}

func TestUsageErrors(t *testing.T) {
	r := botRepo(t)
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("colour: dark\n"), 0o644))

	tests := map[string][]string{
		"unknown_flag":   {"scan", "--nope"},
		"bad_format":     {"scan", "--repo", r.Dir, "--backend", "native", "--format", "xml"},
		"bad_color":      {"scan", "--repo", r.Dir, "--backend", "native", "--color", "pink"},
		"bad_backend":    {"scan", "--repo", r.Dir, "--backend", "svn"},
		"bad_engine":     {"rewrite", "--repo", r.Dir, "--backend", "native", "--engine", "bfg"},
		"filter_args":    {"filter", "extra"},
		"unknown_config": {"scan", "--repo", r.Dir, "--config", bad},
		"missing_config": {"scan", "--repo", r.Dir, "--config", filepath.Join(r.Dir, "absent.yaml")},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, "", args...)
			require.Error(t, err)
			assert.Equal(t, clierr.CodeUsage, clierr.ExitCodeOf(err), err.Error())
		})
	}
}

func TestRewrite(t *testing.T) {
	r := botRepo(t)
	before := r.Ref("refs/heads/master")

	out, err := execute(t, "", "rewrite", "--repo", r.Dir, "--backend", "native", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "would rewrite 1 of 2 commits, 1 refs (native engine)")
	assert.Equal(t, before, r.Ref("refs/heads/master"))

	out, err = execute(t, "", "rewrite", "--repo", r.Dir, "--backend", "native")
	require.NoError(t, err)
	assert.Contains(t, out, "rewrite "+before.String()[:12]+" "+gitrepo.BotName)
	assert.Contains(t, out, "rewrote 1 of 2 commits, 1 refs")
	assert.NotEqual(t, before, r.Ref("refs/heads/master"))
	assert.Equal(t, before, r.Ref("refs/original/refs/heads/master"))

	tip := r.CommitObject(r.Ref("refs/heads/master"))
	assert.Equal(t, identity.ReplacementName, tip.Author.Name)
	assert.Equal(t, identity.ReplacementEmail, tip.Committer.Email)

	_, err = execute(t, "", "scan", "--repo", r.Dir, "--backend", "native", "--exit-code")
	require.NoError(t, err)

	_, err = execute(t, "", "rewrite", "--repo", r.Dir, "--backend", "native")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeRefused, clierr.ExitCodeOf(err))
}

func TestRewriteDirty(t *testing.T) {
	r := botRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(r.Dir, "file.txt"), []byte("wip\n"), 0o644))

	_, err := execute(t, "", "rewrite", "--repo", r.Dir, "--backend", "native")
	require.Error(t, err)
	assert.Equal(t, clierr.CodeRefused, clierr.ExitCodeOf(err))
	assert.Contains(t, err.Error(), "uncommitted changes")
}
