package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

const maxRecapWords = 10

func (s *Service) handleCommand(ctx context.Context, chatID, userID int64, text string) error {
	parts := strings.Fields(text)
	if len(parts) == 0 {
		return nil
	}

	cmd := normalizeCommand(parts[0])
	args := parts[1:]

	switch cmd {
	case "/start", "/help":
		return s.sender.SendMessage(ctx, chatID, helpText())
	case "/word":
		return s.cmdWord(ctx, chatID, userID)
	case "/recap":
		return s.cmdRecap(ctx, chatID, userID, args)
	case "/status":
		return s.cmdStatus(ctx, chatID, userID)
	case "/register":
		return s.cmdRegister(ctx, chatID)
	case "/unregister":
		return s.cmdUnregister(ctx, chatID)
	case "/preview":
		return s.cmdPreview(ctx, chatID, args)
	case "/pushnow":
		return s.cmdPushNow(ctx, chatID)
	default:
		return s.sender.SendMessage(ctx, chatID, "Unknown command. Use /help to see available commands.")
	}
}

func (s *Service) cmdWord(ctx context.Context, chatID, userID int64) error {
	scope := UserScope(userID)

	word, err := s.selectWord(ctx, scope)
	if err != nil {
		return err
	}

	if err := s.sendCard(ctx, chatID, word, "📚 "+word.Text); err != nil {
		s.logger.Errorw("send word card failed", "chat", chatID, "word", word.Text, "err", err)
		return s.sender.SendMessage(ctx, chatID, "Card generation failed, please try again later.")
	}

	return s.markSent(ctx, scope, word.Text)
}

func (s *Service) cmdRecap(ctx context.Context, chatID, userID int64, args []string) error {
	count := 1
	if len(args) > 0 {
		parsed, err := strconv.Atoi(strings.TrimSpace(args[0]))
		if err != nil || parsed <= 0 || parsed > maxRecapWords {
			return s.sender.SendMessage(ctx, chatID, fmt.Sprintf("Usage: /recap [1-%d], e.g. /recap 3", maxRecapWords))
		}
		count = parsed
	}

	recap, err := s.selectRecap(ctx, UserScope(userID), count)
	if err != nil {
		return err
	}
	if len(recap) == 0 {
		return s.sender.SendMessage(ctx, chatID, "You haven't learned any words yet. Use /word to get started.")
	}

	for i, word := range recap {
		caption := fmt.Sprintf("🔁 Recap %d/%d: %s", i+1, len(recap), word.Text)
		if err := s.sendCard(ctx, chatID, word, caption); err != nil {
			s.logger.Errorw("send recap card failed", "chat", chatID, "word", word.Text, "err", err)
			if err := s.sender.SendMessage(ctx, chatID, "Card generation failed for "+word.Text); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Service) cmdStatus(ctx context.Context, chatID, userID int64) error {
	status, err := s.status(ctx, UserScope(userID))
	if err != nil {
		return err
	}

	lastSeen := status.LastSeen
	if lastSeen == "" {
		lastSeen = "never"
	}

	msg := fmt.Sprintf("📊 Your progress\nLearned: %d / %d words\nCompletion: %d%%\nLast studied: %s",
		status.Sent, status.Total, status.Percent, lastSeen)
	return s.sender.SendMessage(ctx, chatID, msg)
}

func (s *Service) cmdRegister(ctx context.Context, chatID int64) error {
	added, err := s.store.AddDestination(ctx, chatID)
	if err != nil {
		return err
	}
	if !added {
		return s.sender.SendMessage(ctx, chatID, "This chat is already registered. ✅")
	}

	msg := fmt.Sprintf("Registered! 🎉 A word card will arrive every day at %s. Use /unregister to stop.", s.pushTime)
	return s.sender.SendMessage(ctx, chatID, msg)
}

func (s *Service) cmdUnregister(ctx context.Context, chatID int64) error {
	removed, err := s.store.RemoveDestination(ctx, chatID)
	if err != nil {
		return err
	}
	if !removed {
		return s.sender.SendMessage(ctx, chatID, "This chat is not registered.")
	}
	return s.sender.SendMessage(ctx, chatID, "Unregistered. 👋 No more daily cards here.")
}

// cmdPreview renders a card without touching anyone's progress.
func (s *Service) cmdPreview(ctx context.Context, chatID int64, args []string) error {
	var word Word
	if len(args) > 0 {
		found, ok := s.deck.Lookup(args[0])
		if !ok {
			return s.sender.SendMessage(ctx, chatID, fmt.Sprintf("Word %q is not in the deck.", args[0]))
		}
		word = found
	} else {
		all := s.deck.All()
		if len(all) == 0 {
			return s.sender.SendMessage(ctx, chatID, "The deck is empty.")
		}
		word = all[s.pickFn(len(all))]
	}

	caption := fmt.Sprintf("🔍 Preview: %s %s %s", word.Text, word.Phonetic, word.PartOfSpeech)
	if err := s.sendCard(ctx, chatID, word, caption); err != nil {
		s.logger.Errorw("preview render failed", "chat", chatID, "word", word.Text, "err", err)
		return s.sender.SendMessage(ctx, chatID, "Card generation failed, please try again later.")
	}
	return nil
}

func (s *Service) cmdPushNow(ctx context.Context, chatID int64) error {
	destinations, err := s.store.Destinations(ctx)
	if err != nil {
		return err
	}
	if len(destinations) == 0 {
		return s.sender.SendMessage(ctx, chatID, "No registered chats. Use /register first.")
	}

	report, err := s.PushDaily(ctx, true)
	if err != nil {
		s.logger.Errorw("manual push failed", "chat", chatID, "err", err)
		return s.sender.SendMessage(ctx, chatID, "Push failed: "+err.Error())
	}

	return s.sender.SendMessage(ctx, chatID, fmt.Sprintf("Push complete: %d/%d chats reached.", report.Sent, report.Targets))
}

func normalizeCommand(token string) string {
	if idx := strings.Index(token, "@"); idx >= 0 {
		token = token[:idx]
	}
	return strings.ToLower(token)
}

func helpText() string {
	return strings.TrimSpace(`Commands:
/word - Get a new word card (tracked in your personal progress)
/recap [n] - Review up to ` + strconv.Itoa(maxRecapWords) + ` words you already learned
/status - Show your learning progress
/register - Receive the daily word card in this chat
/unregister - Stop the daily word card in this chat
/preview [word] - Render a card without affecting progress
/pushnow - Run the daily generate+push flow immediately
/help - Show this message`)
}
