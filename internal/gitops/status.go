// internal/gitops/status.go
package gitops

import (
	"strconv"
	"strings"
)

// Status is the parsed form of `git status --porcelain`.
type Status struct {
	Clean     bool     `json:"clean"`
	Staged    []string `json:"staged"`
	Unstaged  []string `json:"unstaged"`
	Untracked []string `json:"untracked"`
}

// ParseStatus parses porcelain v1 output. Each line is "XY path" where X is the
// index state and Y the worktree state. Untracked entries ("??") only ever land
// in Untracked; ignored entries ("!!") are dropped.
func ParseStatus(porcelain string) Status {
	st := Status{
		Staged:    []string{},
		Unstaged:  []string{},
		Untracked: []string{},
	}

	for _, line := range strings.Split(porcelain, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || len(line) < 3 {
			continue
		}
		x, y := line[0], line[1]
		path := line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+len(" -> "):]
		}
		path = unquotePath(path)

		switch {
		case x == '?' && y == '?':
			st.Untracked = append(st.Untracked, path)
			continue
		case x == '!' && y == '!':
			continue
		}
		if x != ' ' {
			st.Staged = append(st.Staged, path)
		}
		if y != ' ' {
			st.Unstaged = append(st.Unstaged, path)
		}
	}

	st.Clean = len(st.Staged) == 0 && len(st.Unstaged) == 0 && len(st.Untracked) == 0
	return st
}

// unquotePath decodes the C-style quoting git applies to paths with spaces,
// quotes or non-ASCII bytes.
func unquotePath(path string) string {
	if len(path) >= 2 && path[0] == '"' && path[len(path)-1] == '"' {
		if p, err := strconv.Unquote(path); err == nil {
			return p
		}
		return path[1 : len(path)-1]
	}
	return path
}
