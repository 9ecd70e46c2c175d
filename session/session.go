// Package session persists the conversations the agent created so they can
// be resumed later.
package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/m4xw311/agentwire/errors"
)

// Record describes one conversation known to the agent.
type Record struct {
	ConversationID string    `json:"conversation_id"`
	Model          string    `json:"model,omitempty"`
	RolloutPath    string    `json:"rollout_path"`
	Cwd            string    `json:"cwd,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Store keeps records as JSON files in one directory.
type Store struct {
	dir string
}

// DefaultDir returns ~/.agentwire/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrapf(err, "could not determine home directory")
	}
	return filepath.Join(home, ".agentwire", "sessions"), nil
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

// Save writes the record, replacing any earlier version.
func (s *Store) Save(rec Record) error {
	if rec.ConversationID == "" {
		return errors.New("record has no conversation id")
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now()
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create session directory")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	return os.WriteFile(s.path(rec.ConversationID), data, 0644)
}

// Load reads the record of one conversation.
func (s *Store) Load(id string) (*Record, error) {
	path := s.path(id)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &rec, nil
}

// List returns every stored record, most recently updated first.
func (s *Store) List() ([]Record, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not list sessions")
	}

	var records []Record
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		rec, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		records = append(records, *rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].UpdatedAt.After(records[j].UpdatedAt)
	})
	return records, nil
}

// Latest returns the most recently updated record.
func (s *Store) Latest() (*Record, error) {
	records, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("no saved sessions in %s", s.dir)
	}
	return &records[0], nil
}

// Find resolves "last" or a conversation id to a record.
func (s *Store) Find(ref string) (*Record, error) {
	if ref == "" || ref == "last" {
		return s.Latest()
	}
	return s.Load(ref)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", filepath.Base(id)))
}
