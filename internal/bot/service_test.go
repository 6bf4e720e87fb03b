package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"slices"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"telegram-vocab-card-bot/internal/telegram"
)

type sentPhoto struct {
	caption string
	bytes   []byte
}

type fakeSender struct {
	messages map[int64][]string
	photos   map[int64][]sentPhoto
	photoErr map[int64]error
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		messages: make(map[int64][]string),
		photos:   make(map[int64][]sentPhoto),
		photoErr: make(map[int64]error),
	}
}

func (f *fakeSender) SendMessage(_ context.Context, chatID int64, text string) error {
	f.messages[chatID] = append(f.messages[chatID], text)
	return nil
}

func (f *fakeSender) SendPhoto(_ context.Context, chatID int64, photo []byte, caption string) error {
	if err := f.photoErr[chatID]; err != nil {
		return err
	}
	f.photos[chatID] = append(f.photos[chatID], sentPhoto{caption: caption, bytes: photo})
	return nil
}

type fakeDeck struct {
	words []Word
}

func (f *fakeDeck) All() []Word {
	return slices.Clone(f.words)
}

func (f *fakeDeck) Lookup(text string) (Word, bool) {
	for _, w := range f.words {
		if strings.EqualFold(w.Text, strings.TrimSpace(text)) {
			return w, true
		}
	}
	return Word{}, false
}

type fakeRenderer struct {
	err     error
	renders []string
}

func (f *fakeRenderer) Render(_ context.Context, word Word, date string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.renders = append(f.renders, word.Text)
	return []byte("png:" + word.Text + ":" + date), nil
}

type memoryStore struct {
	progress     map[string]Progress
	destinations []int64
	failGet      error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{progress: make(map[string]Progress)}
}

func (m *memoryStore) GetProgress(_ context.Context, scope string) (Progress, error) {
	if m.failGet != nil {
		return Progress{}, m.failGet
	}
	p := m.progress[scope]
	p.SentWords = slices.Clone(p.SentWords)
	return p, nil
}

func (m *memoryStore) SaveProgress(_ context.Context, scope string, p Progress) error {
	p.SentWords = slices.Clone(p.SentWords)
	sort.Strings(p.SentWords)
	m.progress[scope] = p
	return nil
}

func (m *memoryStore) ResetProgress(_ context.Context, scope string) error {
	p := m.progress[scope]
	p.SentWords = nil
	m.progress[scope] = p
	return nil
}

func (m *memoryStore) Destinations(_ context.Context) ([]int64, error) {
	return slices.Clone(m.destinations), nil
}

func (m *memoryStore) AddDestination(_ context.Context, chatID int64) (bool, error) {
	if slices.Contains(m.destinations, chatID) {
		return false, nil
	}
	m.destinations = append(m.destinations, chatID)
	return true, nil
}

func (m *memoryStore) RemoveDestination(_ context.Context, chatID int64) (bool, error) {
	idx := slices.Index(m.destinations, chatID)
	if idx < 0 {
		return false, nil
	}
	m.destinations = slices.Delete(m.destinations, idx, idx+1)
	return true, nil
}

func testWords() []Word {
	return []Word{
		{Text: "alpha", Phonetic: "/a/", PartOfSpeech: "n.", Definition: "first"},
		{Text: "bravo", Phonetic: "/b/", PartOfSpeech: "n.", Definition: "second"},
		{Text: "charlie", Phonetic: "/c/", PartOfSpeech: "n.", Definition: "third"},
	}
}

type testEnv struct {
	service  *Service
	sender   *fakeSender
	renderer *fakeRenderer
	store    *memoryStore
}

func newTestEnv(t *testing.T, opts ...func(*Service)) *testEnv {
	t.Helper()

	sender := newFakeSender()
	renderer := &fakeRenderer{}
	store := newMemoryStore()

	svc := NewService(
		zap.NewNop().Sugar(),
		sender,
		&fakeDeck{words: testWords()},
		renderer,
		store,
		"hook-secret",
		"trigger-secret",
		ModeSequential,
		"08:00",
		time.UTC,
		nil,
	)
	svc.nowFn = func() time.Time { return time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC) }
	svc.pickFn = func(int) int { return 0 }

	for _, opt := range opts {
		opt(svc)
	}

	return &testEnv{service: svc, sender: sender, renderer: renderer, store: store}
}

func (e *testEnv) command(t *testing.T, chatID, userID int64, text string) {
	t.Helper()
	require.NoError(t, e.service.handleCommand(context.Background(), chatID, userID, text))
}

func TestWordCommandSendsCardAndTracksProgress(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/word")

	require.Len(t, env.sender.photos[10], 1)
	assert.Equal(t, "📚 alpha", env.sender.photos[10][0].caption)
	assert.Equal(t, []byte("png:alpha:2025-03-14"), env.sender.photos[10][0].bytes)

	progress := env.store.progress[UserScope(7)]
	assert.Equal(t, []string{"alpha"}, progress.SentWords)
	assert.Equal(t, "2025-03-14", progress.LastSentOn)
}

func TestWordCommandAdvancesSequentially(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/word")
	env.command(t, 10, 7, "/word")

	require.Len(t, env.sender.photos[10], 2)
	assert.Equal(t, "📚 bravo", env.sender.photos[10][1].caption)
	assert.Equal(t, []string{"alpha", "bravo"}, env.store.progress[UserScope(7)].SentWords)
}

func TestWordCommandResetsWhenDeckExhausted(t *testing.T) {
	env := newTestEnv(t)
	env.store.progress[UserScope(7)] = Progress{SentWords: []string{"alpha", "bravo", "charlie"}}

	env.command(t, 10, 7, "/word")

	require.Len(t, env.sender.photos[10], 1)
	assert.Equal(t, "📚 alpha", env.sender.photos[10][0].caption)
	// Reset wiped history before the new word was recorded.
	assert.Equal(t, []string{"alpha"}, env.store.progress[UserScope(7)].SentWords)
}

func TestWordCommandProgressIsPerUser(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/word")
	env.command(t, 10, 8, "/word")

	assert.Equal(t, []string{"alpha"}, env.store.progress[UserScope(7)].SentWords)
	assert.Equal(t, []string{"alpha"}, env.store.progress[UserScope(8)].SentWords)
}

func TestWordCommandRenderFailureRepliesWithText(t *testing.T) {
	env := newTestEnv(t)
	env.renderer.err = errors.New("chromium exploded")

	env.command(t, 10, 7, "/word")

	assert.Empty(t, env.sender.photos[10])
	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "failed")
	assert.Empty(t, env.store.progress[UserScope(7)].SentWords)
}

func TestStatusCommand(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/status")
	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "0 / 3")
	assert.Contains(t, env.sender.messages[10][0], "never")

	env.command(t, 10, 7, "/word")
	env.command(t, 10, 7, "/status")
	last := env.sender.messages[10][len(env.sender.messages[10])-1]
	assert.Contains(t, last, "1 / 3")
	assert.Contains(t, last, "33%")
	assert.Contains(t, last, "2025-03-14")
}

func TestStatusIgnoresWordsRemovedFromDeck(t *testing.T) {
	env := newTestEnv(t)
	env.store.progress[UserScope(7)] = Progress{SentWords: []string{"alpha", "ghost"}}

	env.command(t, 10, 7, "/status")

	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "1 / 3")
}

func TestRecapCommandValidation(t *testing.T) {
	env := newTestEnv(t)

	for _, arg := range []string{"0", "-2", "11", "abc"} {
		env.command(t, 10, 7, "/recap "+arg)
	}

	require.Len(t, env.sender.messages[10], 4)
	for _, msg := range env.sender.messages[10] {
		assert.Contains(t, msg, "Usage: /recap")
	}
}

func TestRecapCommandWithNothingLearned(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/recap")

	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "haven't learned")
}

func TestRecapCommandClampsToLearnedCount(t *testing.T) {
	env := newTestEnv(t)
	env.store.progress[UserScope(7)] = Progress{SentWords: []string{"alpha", "bravo"}}

	env.command(t, 10, 7, "/recap 10")

	require.Len(t, env.sender.photos[10], 2)
	assert.Contains(t, env.sender.photos[10][0].caption, "Recap 1/2")
	assert.Contains(t, env.sender.photos[10][1].caption, "Recap 2/2")
	// Recap never touches progress.
	assert.Equal(t, []string{"alpha", "bravo"}, env.store.progress[UserScope(7)].SentWords)
}

func TestRegisterAndUnregister(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/register")
	assert.Equal(t, []int64{10}, env.store.destinations)
	assert.Contains(t, env.sender.messages[10][0], "08:00")

	env.command(t, 10, 7, "/register")
	assert.Equal(t, []int64{10}, env.store.destinations)
	assert.Contains(t, env.sender.messages[10][1], "already registered")

	env.command(t, 10, 7, "/unregister")
	assert.Empty(t, env.store.destinations)

	env.command(t, 10, 7, "/unregister")
	assert.Contains(t, env.sender.messages[10][3], "not registered")
}

func TestPreviewCommandDoesNotTouchProgress(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/preview BRAVO")

	require.Len(t, env.sender.photos[10], 1)
	assert.Contains(t, env.sender.photos[10][0].caption, "bravo")
	assert.Empty(t, env.store.progress[UserScope(7)].SentWords)
}

func TestPreviewCommandUnknownWord(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/preview nosuchword")

	assert.Empty(t, env.sender.photos[10])
	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "not in the deck")
}

func TestUnknownCommand(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/frobnicate")

	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "/help")
}

func TestGenerateDailyCachesCardAndMarksGlobalScope(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.service.GenerateDaily(context.Background()))

	assert.Equal(t, []string{"alpha"}, env.store.progress[GlobalScope].SentWords)
	env.service.mu.Lock()
	assert.NotNil(t, env.service.cachedCard)
	require.NotNil(t, env.service.cachedWord)
	assert.Equal(t, "alpha", env.service.cachedWord.Text)
	env.service.mu.Unlock()
}

func TestPushDailyDeliversToAllDestinations(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100, 200}

	require.NoError(t, env.service.GenerateDaily(context.Background()))
	report, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, PushReport{Targets: 2, Sent: 2}, report)
	require.Len(t, env.sender.photos[100], 1)
	require.Len(t, env.sender.photos[200], 1)
	assert.Equal(t, "📚 Word of the day: alpha", env.sender.photos[100][0].caption)
	assert.Equal(t, "2025-03-14", env.store.progress[GlobalScope].LastPushOn)

	env.service.mu.Lock()
	assert.Nil(t, env.service.cachedCard)
	env.service.mu.Unlock()
}

func TestPushDailyGeneratesOnDemandWhenCacheEmpty(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100}

	report, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, PushReport{Targets: 1, Sent: 1}, report)
	assert.Equal(t, []string{"alpha"}, env.store.progress[GlobalScope].SentWords)
}

func TestPushDailySkipsSecondPushSameDay(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100}

	_, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)
	report, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, PushReport{}, report)
	assert.Len(t, env.sender.photos[100], 1)
}

func TestPushDailyForceBypassesSameDayGuard(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100}

	_, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)
	report, err := env.service.PushDaily(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, PushReport{Targets: 1, Sent: 1}, report)
	assert.Len(t, env.sender.photos[100], 2)
	// Force path picked a fresh word.
	assert.Contains(t, env.sender.photos[100][1].caption, "bravo")
}

func TestPushDailyContinuesPastFailingDestination(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100, 200}
	env.sender.photoErr[100] = errors.New("blocked by user")

	report, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, PushReport{Targets: 2, Sent: 1}, report)
	assert.Empty(t, env.sender.photos[100])
	assert.Len(t, env.sender.photos[200], 1)
}

func TestPushDailyWithNoDestinations(t *testing.T) {
	env := newTestEnv(t)

	report, err := env.service.PushDaily(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, PushReport{}, report)
}

func TestPushNowCommand(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100}

	env.command(t, 10, 7, "/pushnow")

	assert.Len(t, env.sender.photos[100], 1)
	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "1/1")
}

func TestPushNowCommandWithoutDestinations(t *testing.T) {
	env := newTestEnv(t)

	env.command(t, 10, 7, "/pushnow")

	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "/register")
}

func TestWebhookHandlerDispatchesCommand(t *testing.T) {
	env := newTestEnv(t)

	update := telegram.Update{
		Message: &telegram.Message{
			Text: "/help",
			From: telegram.User{ID: 7, Username: "sam"},
			Chat: telegram.Chat{ID: 10},
		},
	}
	body, err := json.Marshal(update)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-secret", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.service.WebhookHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, env.sender.messages[10], 1)
	assert.Contains(t, env.sender.messages[10][0], "/word")
}

func TestWebhookHandlerRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
	}{
		{"wrong method", http.MethodGet, "/webhook/hook-secret", "", http.StatusMethodNotAllowed},
		{"wrong secret", http.MethodPost, "/webhook/nope", "{}", http.StatusForbidden},
		{"bad payload", http.MethodPost, "/webhook/hook-secret", "{", http.StatusBadRequest},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(tc.body))
			rec := httptest.NewRecorder()
			env.service.WebhookHandler(rec, req)
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestWebhookHandlerIgnoresPlainText(t *testing.T) {
	env := newTestEnv(t)

	update := telegram.Update{
		Message: &telegram.Message{
			Text: "hello there",
			From: telegram.User{ID: 7},
			Chat: telegram.Chat{ID: 10},
		},
	}
	body, err := json.Marshal(update)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/webhook/hook-secret", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	env.service.WebhookHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, env.sender.messages[10])
}

func TestTriggerHandler(t *testing.T) {
	env := newTestEnv(t)
	env.store.destinations = []int64{100}

	req := httptest.NewRequest(http.MethodPost, "/trigger/daily", nil)
	req.Header.Set("X-Trigger-Secret", "trigger-secret")
	rec := httptest.NewRecorder()
	env.service.TriggerHandler(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "targets=1 sent=1", rec.Body.String())
	assert.Len(t, env.sender.photos[100], 1)
}

func TestTriggerHandlerRejectsBadSecret(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/trigger/daily", nil)
	req.Header.Set("X-Trigger-Secret", "wrong")
	rec := httptest.NewRecorder()
	env.service.TriggerHandler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAllowedUsernamesBlockOthers(t *testing.T) {
	env := newTestEnv(t, func(s *Service) {
		s.allowedUsers = buildAllowedUserSet([]string{"@Sam"})
	})

	blocked := telegram.Message{
		Text: "/word",
		From: telegram.User{ID: 9, Username: "mallory"},
		Chat: telegram.Chat{ID: 11},
	}
	require.NoError(t, env.service.handleMessage(context.Background(), blocked))
	require.Len(t, env.sender.messages[11], 1)
	assert.Contains(t, env.sender.messages[11][0], "not allowed")

	allowed := telegram.Message{
		Text: "/word",
		From: telegram.User{ID: 7, Username: "sam"},
		Chat: telegram.Chat{ID: 10},
	}
	require.NoError(t, env.service.handleMessage(context.Background(), allowed))
	assert.Len(t, env.sender.photos[10], 1)
}

func TestRandomModeUsesPicker(t *testing.T) {
	env := newTestEnv(t, func(s *Service) {
		s.mode = ModeRandom
		s.pickFn = func(n int) int { return n - 1 }
	})

	env.command(t, 10, 7, "/word")

	require.Len(t, env.sender.photos[10], 1)
	assert.Equal(t, "📚 charlie", env.sender.photos[10][0].caption)
}

func TestStoreErrorPropagates(t *testing.T) {
	env := newTestEnv(t)
	env.store.failGet = fmt.Errorf("disk on fire")

	err := env.service.handleCommand(context.Background(), 10, 7, "/word")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
}
