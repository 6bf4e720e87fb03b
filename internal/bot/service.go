package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"telegram-vocab-card-bot/internal/telegram"
)

const dayLayout = "2006-01-02"

// Service holds the word selection, progress tracking and daily broadcast
// logic behind the command surface.
type Service struct {
	logger        *zap.SugaredLogger
	sender        MessageSender
	deck          WordProvider
	renderer      CardRenderer
	store         StateStore
	allowedUsers  map[string]struct{}
	webhookSecret string
	triggerSecret string
	mode          string
	pushTime      string
	loc           *time.Location
	nowFn         func() time.Time
	pickFn        func(n int) int

	mu         sync.Mutex
	cachedCard []byte
	cachedWord *Word
}

func NewService(
	logger *zap.SugaredLogger,
	sender MessageSender,
	deck WordProvider,
	renderer CardRenderer,
	store StateStore,
	webhookSecret string,
	triggerSecret string,
	mode string,
	pushTime string,
	loc *time.Location,
	allowedUsernames []string,
) *Service {
	if loc == nil {
		loc = time.FixedZone("UTC+8", 8*3600)
	}
	if mode != ModeSequential {
		mode = ModeRandom
	}

	return &Service{
		logger:        logger,
		sender:        sender,
		deck:          deck,
		renderer:      renderer,
		store:         store,
		allowedUsers:  buildAllowedUserSet(allowedUsernames),
		webhookSecret: webhookSecret,
		triggerSecret: triggerSecret,
		mode:          mode,
		pushTime:      pushTime,
		loc:           loc,
		nowFn:         time.Now,
		pickFn:        rand.Intn,
	}
}

func (s *Service) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != "/webhook/"+s.webhookSecret {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	defer r.Body.Close()

	var update telegram.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if update.Message != nil {
		if err := s.handleMessage(r.Context(), *update.Message); err != nil {
			s.logger.Errorw("handle message failed", "chat", update.Message.Chat.ID, "err", err)
		}
	}

	w.WriteHeader(http.StatusOK)
}

// TriggerHandler runs the full generate+push flow on demand. It exists for
// deployments that drive the daily card from an external cron instead of the
// in-process scheduler.
func (s *Service) TriggerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.Header.Get("X-Trigger-Secret") != s.triggerSecret {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	report, err := s.PushDaily(r.Context(), true)
	if err != nil {
		s.logger.Errorw("manual daily trigger failed", "err", err)
		http.Error(w, "daily push failed", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "targets=%d sent=%d", report.Targets, report.Sent)
}

func (s *Service) handleMessage(ctx context.Context, msg telegram.Message) error {
	if !s.isAllowedUsername(msg.From.Username) {
		s.logger.Warnw("blocked unauthorized user", "username", msg.From.Username, "chat", msg.Chat.ID)
		return s.sender.SendMessage(ctx, msg.Chat.ID, "You are not allowed to use this bot.")
	}

	text := strings.TrimSpace(msg.Text)
	if !strings.HasPrefix(text, "/") {
		return nil
	}

	return s.handleCommand(ctx, msg.Chat.ID, msg.From.ID, text)
}

// GenerateDaily picks the next global word, renders its card, and caches the
// image for the push job. The word is marked sent at generation time so a
// failed push never repeats yesterday's card.
func (s *Service) GenerateDaily(ctx context.Context) error {
	word, err := s.selectWord(ctx, GlobalScope)
	if err != nil {
		return fmt.Errorf("select daily word: %w", err)
	}

	card, err := s.renderer.Render(ctx, word, s.today())
	if err != nil {
		return fmt.Errorf("render daily card for %q: %w", word.Text, err)
	}

	if err := s.markSent(ctx, GlobalScope, word.Text); err != nil {
		return fmt.Errorf("mark daily word sent: %w", err)
	}

	s.mu.Lock()
	s.cachedCard = card
	s.cachedWord = &word
	s.mu.Unlock()

	s.logger.Infow("daily card generated", "word", word.Text)
	return nil
}

type PushReport struct {
	Targets int
	Sent    int
}

// PushDaily delivers the cached card to every registered destination,
// generating one on demand if the cache is empty (e.g. after a restart
// between the generate and push times). Unless force is set, a second push
// on the same calendar day is skipped.
func (s *Service) PushDaily(ctx context.Context, force bool) (PushReport, error) {
	today := s.today()

	if !force {
		progress, err := s.store.GetProgress(ctx, GlobalScope)
		if err != nil {
			return PushReport{}, fmt.Errorf("load global progress: %w", err)
		}
		if progress.LastPushOn == today {
			s.logger.Infow("daily card already pushed today, skipping", "date", today)
			return PushReport{}, nil
		}
	}

	s.mu.Lock()
	card := s.cachedCard
	word := s.cachedWord
	s.mu.Unlock()

	if card == nil {
		if err := s.GenerateDaily(ctx); err != nil {
			return PushReport{}, err
		}
		s.mu.Lock()
		card = s.cachedCard
		word = s.cachedWord
		s.mu.Unlock()
	}

	destinations, err := s.store.Destinations(ctx)
	if err != nil {
		return PushReport{}, fmt.Errorf("load destinations: %w", err)
	}
	if len(destinations) == 0 {
		s.logger.Warnw("no registered destinations for daily push")
		return PushReport{}, nil
	}

	caption := "📚 Word of the day: " + word.Text
	report := PushReport{Targets: len(destinations)}
	for _, chatID := range destinations {
		if err := s.sender.SendPhoto(ctx, chatID, card, caption); err != nil {
			s.logger.Errorw("daily push failed", "chat", chatID, "err", err)
			continue
		}
		report.Sent++
	}

	progress, err := s.store.GetProgress(ctx, GlobalScope)
	if err != nil {
		return report, fmt.Errorf("load global progress: %w", err)
	}
	progress.LastPushOn = today
	if err := s.store.SaveProgress(ctx, GlobalScope, progress); err != nil {
		return report, fmt.Errorf("record push date: %w", err)
	}

	s.mu.Lock()
	s.cachedCard = nil
	s.cachedWord = nil
	s.mu.Unlock()

	s.logger.Infow("daily push complete", "sent", report.Sent, "targets", report.Targets)
	return report, nil
}

// selectWord returns the next unsent word for the scope, resetting the
// scope's history once the whole deck has been seen.
func (s *Service) selectWord(ctx context.Context, scope string) (Word, error) {
	all := s.deck.All()
	if len(all) == 0 {
		return Word{}, ErrNoWords
	}

	progress, err := s.store.GetProgress(ctx, scope)
	if err != nil {
		return Word{}, err
	}

	sent := toTextSet(progress.SentWords)
	candidates := make([]Word, 0, len(all))
	for _, w := range all {
		if _, seen := sent[strings.ToLower(w.Text)]; seen {
			continue
		}
		candidates = append(candidates, w)
	}

	if len(candidates) == 0 {
		s.logger.Infow("deck exhausted, resetting progress", "scope", scope)
		if err := s.store.ResetProgress(ctx, scope); err != nil {
			return Word{}, fmt.Errorf("reset progress: %w", err)
		}
		candidates = all
	}

	if s.mode == ModeSequential {
		return candidates[0], nil
	}
	return candidates[s.pickFn(len(candidates))], nil
}

func (s *Service) markSent(ctx context.Context, scope, text string) error {
	progress, err := s.store.GetProgress(ctx, scope)
	if err != nil {
		return err
	}

	key := strings.ToLower(text)
	sent := toTextSet(progress.SentWords)
	if _, exists := sent[key]; !exists {
		progress.SentWords = append(progress.SentWords, text)
		sort.Strings(progress.SentWords)
	}
	progress.LastSentOn = s.today()

	return s.store.SaveProgress(ctx, scope, progress)
}

// status counts only sent words that still exist in the deck, so shrinking
// the deck never reports more than 100%.
func (s *Service) status(ctx context.Context, scope string) (ProgressStatus, error) {
	progress, err := s.store.GetProgress(ctx, scope)
	if err != nil {
		return ProgressStatus{}, err
	}

	total := len(s.deck.All())
	sent := 0
	for _, text := range progress.SentWords {
		if _, ok := s.deck.Lookup(text); ok {
			sent++
		}
	}

	status := ProgressStatus{Sent: sent, Total: total, LastSeen: progress.LastSentOn}
	if total > 0 {
		status.Percent = sent * 100 / total
	}
	return status, nil
}

// selectRecap samples up to count distinct learned words for review.
func (s *Service) selectRecap(ctx context.Context, scope string, count int) ([]Word, error) {
	progress, err := s.store.GetProgress(ctx, scope)
	if err != nil {
		return nil, err
	}

	learned := make([]Word, 0, len(progress.SentWords))
	for _, text := range progress.SentWords {
		if w, ok := s.deck.Lookup(text); ok {
			learned = append(learned, w)
		}
	}
	if len(learned) == 0 {
		return nil, nil
	}

	// Fisher-Yates, driven by pickFn so tests stay deterministic.
	for i := len(learned) - 1; i > 0; i-- {
		j := s.pickFn(i + 1)
		learned[i], learned[j] = learned[j], learned[i]
	}

	if count > len(learned) {
		count = len(learned)
	}
	return learned[:count], nil
}

func (s *Service) sendCard(ctx context.Context, chatID int64, word Word, caption string) error {
	card, err := s.renderer.Render(ctx, word, s.today())
	if err != nil {
		return fmt.Errorf("render card for %q: %w", word.Text, err)
	}
	return s.sender.SendPhoto(ctx, chatID, card, caption)
}

func (s *Service) today() string {
	return s.nowFn().In(s.loc).Format(dayLayout)
}

func (s *Service) isAllowedUsername(username string) bool {
	if len(s.allowedUsers) == 0 {
		return true
	}
	normalized := normalizeUsername(username)
	if normalized == "" {
		return false
	}
	_, ok := s.allowedUsers[normalized]
	return ok
}

func buildAllowedUserSet(usernames []string) map[string]struct{} {
	if len(usernames) == 0 {
		return nil
	}

	out := make(map[string]struct{}, len(usernames))
	for _, username := range usernames {
		normalized := normalizeUsername(username)
		if normalized == "" {
			continue
		}
		out[normalized] = struct{}{}
	}
	return out
}

func normalizeUsername(raw string) string {
	out := strings.TrimSpace(strings.ToLower(raw))
	return strings.TrimPrefix(out, "@")
}

func toTextSet(texts []string) map[string]struct{} {
	out := make(map[string]struct{}, len(texts))
	for _, text := range texts {
		if text = strings.ToLower(strings.TrimSpace(text)); text != "" {
			out[text] = struct{}{}
		}
	}
	return out
}
