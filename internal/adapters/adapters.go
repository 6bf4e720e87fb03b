// Package adapters wires the concrete deck, stores and renderer to the
// interfaces the bot service consumes.
package adapters

import (
	"context"

	"telegram-vocab-card-bot/internal/bot"
	"telegram-vocab-card-bot/internal/card"
	"telegram-vocab-card-bot/internal/storage"
	"telegram-vocab-card-bot/internal/words"
)

func NewDeckProvider(deck *words.Deck) bot.WordProvider {
	return &deckProvider{deck: deck}
}

type deckProvider struct {
	deck *words.Deck
}

func (p *deckProvider) All() []bot.Word {
	entries := p.deck.All()
	out := make([]bot.Word, 0, len(entries))
	for _, w := range entries {
		out = append(out, mapWord(w))
	}
	return out
}

func (p *deckProvider) Lookup(text string) (bot.Word, bool) {
	w, ok := p.deck.Lookup(text)
	if !ok {
		return bot.Word{}, false
	}
	return mapWord(w), true
}

func NewCardRenderer(renderer *card.Renderer) bot.CardRenderer {
	return &cardRenderer{renderer: renderer}
}

type cardRenderer struct {
	renderer *card.Renderer
}

func (r *cardRenderer) Render(ctx context.Context, w bot.Word, date string) ([]byte, error) {
	return r.renderer.Render(ctx, card.Data{
		Text:               w.Text,
		Phonetic:           w.Phonetic,
		PartOfSpeech:       w.PartOfSpeech,
		Definition:         w.Definition,
		Example:            w.Example,
		ExampleTranslation: w.ExampleTranslation,
		Date:               date,
	})
}

func NewFileStateStore(store *storage.FileStore) bot.StateStore {
	return &fileStateStore{store: store}
}

type fileStateStore struct {
	store *storage.FileStore
}

func (s *fileStateStore) GetProgress(_ context.Context, scope string) (bot.Progress, error) {
	p, err := s.store.GetProgress(scope)
	if err != nil {
		return bot.Progress{}, err
	}
	return mapProgressIn(p), nil
}

func (s *fileStateStore) SaveProgress(_ context.Context, scope string, p bot.Progress) error {
	return s.store.SaveProgress(scope, mapProgressOut(p))
}

func (s *fileStateStore) ResetProgress(_ context.Context, scope string) error {
	return s.store.ResetProgress(scope)
}

func (s *fileStateStore) Destinations(_ context.Context) ([]int64, error) {
	return s.store.Destinations()
}

func (s *fileStateStore) AddDestination(_ context.Context, chatID int64) (bool, error) {
	return s.store.AddDestination(chatID)
}

func (s *fileStateStore) RemoveDestination(_ context.Context, chatID int64) (bool, error) {
	return s.store.RemoveDestination(chatID)
}

func NewFirestoreStateStore(store *storage.FirestoreStore) bot.StateStore {
	return &firestoreStateStore{store: store}
}

type firestoreStateStore struct {
	store *storage.FirestoreStore
}

func (s *firestoreStateStore) GetProgress(ctx context.Context, scope string) (bot.Progress, error) {
	p, err := s.store.GetProgress(ctx, scope)
	if err != nil {
		return bot.Progress{}, err
	}
	return mapProgressIn(p), nil
}

func (s *firestoreStateStore) SaveProgress(ctx context.Context, scope string, p bot.Progress) error {
	return s.store.SaveProgress(ctx, scope, mapProgressOut(p))
}

func (s *firestoreStateStore) ResetProgress(ctx context.Context, scope string) error {
	return s.store.ResetProgress(ctx, scope)
}

func (s *firestoreStateStore) Destinations(ctx context.Context) ([]int64, error) {
	return s.store.Destinations(ctx)
}

func (s *firestoreStateStore) AddDestination(ctx context.Context, chatID int64) (bool, error) {
	return s.store.AddDestination(ctx, chatID)
}

func (s *firestoreStateStore) RemoveDestination(ctx context.Context, chatID int64) (bool, error) {
	return s.store.RemoveDestination(ctx, chatID)
}

func mapWord(in words.Word) bot.Word {
	return bot.Word{
		Text:               in.Text,
		Phonetic:           in.Phonetic,
		PartOfSpeech:       in.PartOfSpeech,
		Definition:         in.Definition,
		Example:            in.Example,
		ExampleTranslation: in.ExampleTranslation,
	}
}

func mapProgressIn(in storage.ScopeProgress) bot.Progress {
	return bot.Progress{
		SentWords:  in.SentWords,
		LastSentOn: in.LastSentOn,
		LastPushOn: in.LastPushOn,
	}
}

func mapProgressOut(in bot.Progress) storage.ScopeProgress {
	return storage.ScopeProgress{
		SentWords:  in.SentWords,
		LastSentOn: in.LastSentOn,
		LastPushOn: in.LastPushOn,
	}
}
