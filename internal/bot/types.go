package bot

import (
	"context"
	"errors"
	"strconv"
)

var ErrNoWords = errors.New("no words available")

// GlobalScope is the progress scope used for the daily broadcast card.
const GlobalScope = "global"

// UserScope returns the progress scope key for a Telegram user.
func UserScope(userID int64) string {
	return "user:" + strconv.FormatInt(userID, 10)
}

// Selection modes.
const (
	ModeRandom     = "random"
	ModeSequential = "sequential"
)

type Word struct {
	Text               string
	Phonetic           string
	PartOfSpeech       string
	Definition         string
	Example            string
	ExampleTranslation string
}

// Progress is the learning state of one scope (a user or the global feed).
// LastPushOn is only meaningful for the global scope.
type Progress struct {
	SentWords  []string
	LastSentOn string
	LastPushOn string
}

type ProgressStatus struct {
	Sent     int
	Total    int
	Percent  int
	LastSeen string
}

type MessageSender interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) error
}

type WordProvider interface {
	All() []Word
	Lookup(text string) (Word, bool)
}

type CardRenderer interface {
	Render(ctx context.Context, word Word, date string) ([]byte, error)
}

type StateStore interface {
	GetProgress(ctx context.Context, scope string) (Progress, error)
	SaveProgress(ctx context.Context, scope string, p Progress) error
	ResetProgress(ctx context.Context, scope string) error
	Destinations(ctx context.Context) ([]int64, error)
	AddDestination(ctx context.Context, chatID int64) (bool, error)
	RemoveDestination(ctx context.Context, chatID int64) (bool, error)
}
