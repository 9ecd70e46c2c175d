package vcs

import (
	"path/filepath"
	"sort"

	"github.com/m4xw311/agentwire/logging"
	"github.com/sirupsen/logrus"
)

// Update is the refreshed state of one changed file.
type Update struct {
	Path   string  `json:"path"`
	Status string  `json:"status"`
	Lines  LineSet `json:"lines"`
}

// Refresher recomputes change markers for files the agent patched.
type Refresher struct {
	workdir  string
	onUpdate func([]Update)
	logger   *logrus.Entry
}

// NewRefresher reports updates for files under workdir to onUpdate.
func NewRefresher(workdir string, onUpdate func([]Update)) *Refresher {
	return &Refresher{
		workdir:  workdir,
		onUpdate: onUpdate,
		logger:   logging.NewLogger("vcs"),
	}
}

// Refresh recomputes status and changed lines for paths. Relative paths are
// taken relative to the working directory.
func (r *Refresher) Refresh(paths []string) {
	root, ok, err := Discover(r.workdir)
	if err != nil {
		r.logger.WithError(err).Warn("repository discovery failed")
		return
	}
	if !ok {
		r.logger.WithField("dir", r.workdir).Debug("not a repository, skipping refresh")
		return
	}

	status, err := Status(root)
	if err != nil {
		r.logger.WithError(err).Warn("git status failed")
		return
	}

	updates := make([]Update, 0, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(r.workdir, p)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil {
			continue
		}
		rel = filepath.ToSlash(rel)
		lines, err := DiffLines(root, rel)
		if err != nil {
			r.logger.WithError(err).WithField("path", rel).Debug("diff failed")
		}
		updates = append(updates, Update{Path: rel, Status: status[rel], Lines: lines})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].Path < updates[j].Path })

	if r.onUpdate != nil && len(updates) > 0 {
		r.onUpdate(updates)
	}
}
