package words

import (
	"encoding/json"
	"fmt"

	_ "embed"
)

//go:embed deck.json
var defaultDeckJSON []byte

// Default returns the deck shipped with the binary, so the bot works
// before anyone supplies their own data file.
func Default() (*Deck, error) {
	var entries []Word
	if err := json.Unmarshal(defaultDeckJSON, &entries); err != nil {
		return nil, fmt.Errorf("parse embedded deck: %w", err)
	}
	return New(entries)
}
