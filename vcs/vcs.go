// Package vcs reads repository state from git for refreshing change
// markers after the agent edits files.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/m4xw311/agentwire/errors"
)

const gitTimeout = 10 * time.Second

// LineSet holds 1-based line numbers touched by uncommitted changes.
// Added numbers refer to the working copy, Deleted to the committed file.
type LineSet struct {
	Added   []int `json:"added"`
	Deleted []int `json:"deleted"`
}

func (l LineSet) Empty() bool {
	return len(l.Added) == 0 && len(l.Deleted) == 0
}

func git(dir string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), gitTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return out, errors.Wrapf(err, "git %s: %s", args[0], strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Discover returns the root of the repository containing path. ok is false
// when path is not inside a repository or git is unavailable.
func Discover(path string) (root string, ok bool, err error) {
	if _, err := exec.LookPath("git"); err != nil {
		return "", false, nil
	}
	out, err := git(path, "rev-parse", "--show-toplevel")
	if err != nil {
		if strings.Contains(err.Error(), "not a git repository") {
			return "", false, nil
		}
		return "", false, err
	}
	return strings.TrimSpace(string(out)), true, nil
}

// Status maps repository-relative paths to their two-letter status code,
// with "?" for untracked files. Clean files are absent.
func Status(root string) (map[string]string, error) {
	out, err := git(root, "status", "--porcelain=v2", "--untracked-files=all")
	if err != nil {
		return nil, err
	}

	status := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		if line == "" {
			continue
		}
		switch line[0] {
		case '?':
			status[strings.TrimPrefix(line, "? ")] = "?"
		case '1':
			// 1 XY sub mH mI mW hH hI path
			parts := strings.SplitN(line, " ", 9)
			if len(parts) == 9 {
				status[parts[8]] = strings.Trim(parts[1], ".")
			}
		case '2':
			// 2 XY sub mH mI mW hH hI Xscore path<TAB>origPath
			parts := strings.SplitN(line, " ", 10)
			if len(parts) == 10 {
				path, _, _ := strings.Cut(parts[9], "\t")
				status[path] = strings.Trim(parts[1], ".")
			}
		case 'u':
			// u XY sub m1 m2 m3 mW h1 h2 h3 path
			parts := strings.SplitN(line, " ", 11)
			if len(parts) == 11 {
				status[parts[10]] = parts[1]
			}
		}
	}
	return status, nil
}

var hunkHeader = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// DiffLines returns the lines of file changed against HEAD. Untracked files
// report every line as added.
func DiffLines(root, file string) (LineSet, error) {
	rel := file
	if filepath.IsAbs(file) {
		r, err := filepath.Rel(root, file)
		if err != nil {
			return LineSet{}, errors.Wrapf(err, "%s is outside %s", file, root)
		}
		rel = r
	}

	out, err := git(root, "diff", "--no-color", "--no-ext-diff", "-U0", "HEAD", "--", rel)
	if err != nil {
		return LineSet{}, err
	}
	if len(out) == 0 {
		if tracked, _ := git(root, "ls-files", "--", rel); len(bytes.TrimSpace(tracked)) == 0 {
			return untrackedLines(filepath.Join(root, rel))
		}
	}
	return ParseUnifiedDiff(out), nil
}

// ParseUnifiedDiff extracts the line numbers named by -U0 hunk headers.
func ParseUnifiedDiff(diff []byte) LineSet {
	var set LineSet
	scanner := bufio.NewScanner(bytes.NewReader(diff))
	for scanner.Scan() {
		m := hunkHeader.FindStringSubmatch(scanner.Text())
		if m == nil {
			continue
		}
		oldStart, oldCount := hunkRange(m[1], m[2])
		newStart, newCount := hunkRange(m[3], m[4])
		for i := 0; i < oldCount; i++ {
			set.Deleted = append(set.Deleted, oldStart+i)
		}
		for i := 0; i < newCount; i++ {
			set.Added = append(set.Added, newStart+i)
		}
	}
	return set
}

func hunkRange(start, count string) (int, int) {
	s, _ := strconv.Atoi(start)
	c := 1
	if count != "" {
		c, _ = strconv.Atoi(count)
	}
	return s, c
}

func untrackedLines(path string) (LineSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return LineSet{}, nil
		}
		return LineSet{}, errors.Wrapf(err, "could not read %s", path)
	}
	n := bytes.Count(data, []byte("\n"))
	if len(data) > 0 && data[len(data)-1] != '\n' {
		n++
	}
	set := LineSet{Added: make([]int, n)}
	for i := range set.Added {
		set.Added[i] = i + 1
	}
	return set, nil
}
