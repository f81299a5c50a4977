package backend

import (
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Minimum supported git version for the CLI backend. Keep this aligned with the
// flags and subcommands we use across the project: "update-ref --stdin"
// transactions need 2.27, "fast-export --reencode" needs 2.23.
var minGitVersion = gitVersion{major: 2, minor: 27, patch: 0}

// Matches "2.44.0" in "git version 2.44.0", "git version 2.39.3 (Apple
// Git-146)" and "git version 2.39.3.windows.1".
var gitVersionRE = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

type gitVersion struct {
	major int
	minor int
	patch int
}

func MinGitVersion() string {
	return minGitVersion.String()
}

func (v gitVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.major, v.minor, v.patch)
}

func (v gitVersion) less(other gitVersion) bool {
	if v.major != other.major {
		return v.major < other.major
	}
	if v.minor != other.minor {
		return v.minor < other.minor
	}
	return v.patch < other.patch
}

func parseGitVersionOutput(out string) (gitVersion, bool) {
	s := strings.TrimSpace(out)
	if idx := strings.Index(s, "git version"); idx >= 0 {
		s = s[idx+len("git version"):]
	}
	m := gitVersionRE.FindStringSubmatch(s)
	if m == nil {
		return gitVersion{}, false
	}
	var v gitVersion
	v.major, _ = strconv.Atoi(m[1])
	v.minor, _ = strconv.Atoi(m[2])
	if m[3] != "" {
		v.patch, _ = strconv.Atoi(m[3])
	}
	return v, true
}

func checkGitVersion(v gitVersion) error {
	if v.less(minGitVersion) {
		return fmt.Errorf("git %s is too old; reattrib requires git >= %s", v, minGitVersion)
	}
	return nil
}

func validateGitVersionOutput(out string) error {
	got, ok := parseGitVersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse git version output: %q", strings.TrimSpace(out))
	}
	return checkGitVersion(got)
}

type gitVersionInfo struct {
	out    string
	parsed gitVersion
	err    error
}

var gitVersionInfoCached = sync.OnceValue(func() gitVersionInfo {
	var info gitVersionInfo
	outBytes, err := exec.Command("git", "--version").CombinedOutput()
	info.out = strings.TrimSpace(string(outBytes))
	if err != nil {
		if info.out != "" {
			info.err = fmt.Errorf("git --version: %v: %s", err, info.out)
		} else {
			info.err = fmt.Errorf("git --version: %w", err)
		}
		return info
	}
	parsed, ok := parseGitVersionOutput(info.out)
	if !ok {
		info.err = fmt.Errorf("unable to parse git version output: %q", info.out)
		return info
	}
	info.parsed = parsed
	return info
})

// GitVersion returns the raw "git --version" output.
func GitVersion() (string, error) {
	info := gitVersionInfoCached()
	return info.out, info.err
}

// RequireGit fails unless a git executable of at least MinGitVersion is on
// PATH.
func RequireGit() error {
	return ensureMinGitVersion()
}

func ensureMinGitVersion() error {
	info := gitVersionInfoCached()
	if info.err != nil {
		return info.err
	}
	return checkGitVersion(info.parsed)
}
