// Package storage persists learning progress and daily-push destinations.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ScopeProgress mirrors one scope's persisted learning state.
type ScopeProgress struct {
	SentWords  []string `json:"sent_words"`
	LastSentOn string   `json:"last_sent_on,omitempty"`
	LastPushOn string   `json:"last_push_on,omitempty"`
}

type document struct {
	Global       ScopeProgress            `json:"global"`
	Users        map[string]ScopeProgress `json:"users"`
	Destinations []int64                  `json:"destinations"`
}

func emptyDocument() document {
	return document{
		Global: ScopeProgress{SentWords: []string{}},
		Users:  make(map[string]ScopeProgress),
	}
}

const globalScopeKey = "global"

// FileStore keeps all state in a single JSON document with atomic
// write-rename, which keeps the file human-diffable and safe against
// partial writes.
type FileStore struct {
	path   string
	logger *zap.SugaredLogger
	mu     sync.Mutex
}

func NewFileStore(path string, logger *zap.SugaredLogger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

func (s *FileStore) GetProgress(scope string) (ScopeProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return ScopeProgress{}, err
	}
	return cloneProgress(scopeFromDoc(doc, scope)), nil
}

func (s *FileStore) SaveProgress(scope string, p ScopeProgress) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	p = cloneProgress(p)
	sort.Strings(p.SentWords)
	if scope == globalScopeKey {
		doc.Global = p
	} else {
		doc.Users[scope] = p
	}

	return s.save(doc)
}

func (s *FileStore) ResetProgress(scope string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}

	current := scopeFromDoc(doc, scope)
	current.SentWords = []string{}
	if scope == globalScopeKey {
		doc.Global = current
	} else {
		doc.Users[scope] = current
	}

	return s.save(doc)
}

func (s *FileStore) Destinations() ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	return slices.Clone(doc.Destinations), nil
}

func (s *FileStore) AddDestination(chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}
	if slices.Contains(doc.Destinations, chatID) {
		return false, nil
	}

	doc.Destinations = append(doc.Destinations, chatID)
	slices.Sort(doc.Destinations)
	if err := s.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) RemoveDestination(chatID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load()
	if err != nil {
		return false, err
	}

	idx := slices.Index(doc.Destinations, chatID)
	if idx < 0 {
		return false, nil
	}

	doc.Destinations = slices.Delete(doc.Destinations, idx, idx+1)
	if err := s.save(doc); err != nil {
		return false, err
	}
	return true, nil
}

// load reads the document; a missing or corrupt file degrades to empty
// state with a warning so a bad disk never takes the bot down.
func (s *FileStore) load() (document, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return emptyDocument(), nil
		}
		return document{}, fmt.Errorf("read progress file: %w", err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warnw("progress file is corrupt, starting from empty state", "path", s.path, "err", err)
		return emptyDocument(), nil
	}
	if doc.Users == nil {
		doc.Users = make(map[string]ScopeProgress)
	}
	if doc.Global.SentWords == nil {
		doc.Global.SentWords = []string{}
	}
	return doc, nil
}

func (s *FileStore) save(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create progress dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace progress file: %w", err)
	}
	return nil
}

func scopeFromDoc(doc document, scope string) ScopeProgress {
	if scope == globalScopeKey {
		return doc.Global
	}
	if p, ok := doc.Users[scope]; ok {
		return p
	}
	return ScopeProgress{SentWords: []string{}}
}

func cloneProgress(p ScopeProgress) ScopeProgress {
	p.SentWords = slices.Clone(p.SentWords)
	if p.SentWords == nil {
		p.SentWords = []string{}
	}
	return p
}
