package words

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Word is one entry of the vocabulary deck.
type Word struct {
	Text               string   `json:"word" yaml:"word"`
	Phonetic           string   `json:"phonetic" yaml:"phonetic"`
	PartOfSpeech       string   `json:"pos" yaml:"pos"`
	Definition         string   `json:"definition" yaml:"definition"`
	Example            string   `json:"example" yaml:"example"`
	ExampleTranslation string   `json:"example_translation,omitempty" yaml:"example_translation,omitempty"`
	Tags               []string `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// Deck is an immutable, ordered word bank with case-insensitive lookup.
type Deck struct {
	words []Word
	index map[string]int
}

// New validates entries and builds a deck. Entry order is preserved and is
// the order used by sequential selection.
func New(entries []Word) (*Deck, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("deck is empty")
	}

	index := make(map[string]int, len(entries))
	words := make([]Word, 0, len(entries))
	for i, w := range entries {
		key := normalizeText(w.Text)
		if key == "" {
			return nil, fmt.Errorf("deck entry %d has an empty word", i)
		}
		if w.Definition == "" {
			return nil, fmt.Errorf("deck entry %q has no definition", w.Text)
		}
		if prev, exists := index[key]; exists {
			return nil, fmt.Errorf("duplicate word %q (entries %d and %d)", w.Text, prev, i)
		}
		index[key] = len(words)
		words = append(words, w)
	}

	return &Deck{words: words, index: index}, nil
}

// Load reads a deck from a JSON or YAML file, picked by extension.
func Load(path string) (*Deck, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read deck file: %w", err)
	}

	var entries []Word
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse yaml deck %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("parse json deck %s: %w", path, err)
		}
	}

	deck, err := New(entries)
	if err != nil {
		return nil, fmt.Errorf("invalid deck %s: %w", path, err)
	}
	return deck, nil
}

// All returns the deck entries in order.
func (d *Deck) All() []Word {
	return slices.Clone(d.words)
}

// Lookup finds a word by text, ignoring case and surrounding space.
func (d *Deck) Lookup(text string) (Word, bool) {
	i, ok := d.index[normalizeText(text)]
	if !ok {
		return Word{}, false
	}
	return d.words[i], true
}

// Len reports the number of words in the deck.
func (d *Deck) Len() int {
	return len(d.words)
}

func normalizeText(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}
