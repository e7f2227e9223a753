package chat

import (
	"context"

	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/domain"
	"assistant-bot/internal/provider"
	"assistant-bot/internal/user"
)

// Completer is the provider surface for the stateless pipelines.
type Completer interface {
	Complete(ctx context.Context, req provider.CompletionRequest) (string, error)
	GenerateImage(ctx context.Context, prompt, size, quality string) (string, error)
}

// Service runs the simple-chat and image pipelines. Unlike the assistant
// pipeline, context lives locally: the full history is stored per user and
// a pruned window of it is sent with every completion.
type Service struct {
	api   Completer
	users *user.Manager
}

// NewService creates a chat service.
func NewService(api Completer, users *user.Manager) *Service {
	return &Service{api: api, users: users}
}

// PruneMessages returns the newest suffix of the history whose total
// content length fits maxChars. The oldest surviving message is cut to the
// remaining budget; older messages are dropped entirely.
func PruneMessages(messages []domain.ChatMessage, maxChars int) []domain.ChatMessage {
	var pruned []domain.ChatMessage
	totalChars := 0

	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		remaining := maxChars - totalChars
		if remaining <= 0 {
			break
		}

		if len(msg.Content) > remaining {
			pruned = append(pruned, domain.ChatMessage{
				Role:    msg.Role,
				Content: msg.Content[:remaining],
			})
			break
		}

		pruned = append(pruned, msg)
		totalChars += len(msg.Content)
	}

	// Reverse back to chronological order.
	for i, j := 0, len(pruned)-1; i < j; i, j = i+1, j-1 {
		pruned[i], pruned[j] = pruned[j], pruned[i]
	}
	return pruned
}

// Complete runs one simple-chat turn: append the user message, send the
// pruned window and persist the exchange. imageURLs attach vision input to
// the new message. On failure the appended message is rolled back so the
// stored history only ever holds completed exchanges.
func (s *Service) Complete(ctx context.Context, rec *domain.UserRecord, text string, imageURLs []string) (string, error) {
	rec.Messages = append(rec.Messages, domain.ChatMessage{Role: "user", Content: text})

	pruned := PruneMessages(rec.Messages, rec.HistoryChars)
	info, _ := domain.LookupModel(rec.Model)

	msgs := make([]provider.Message, 0, len(pruned)+1)
	if info.SupportsSystem && rec.SystemPrompt != "" {
		msgs = append(msgs, provider.Message{Role: "system", Content: rec.SystemPrompt})
	}
	for i, m := range pruned {
		pm := provider.Message{Role: m.Role, Content: m.Content}
		if i == len(pruned)-1 {
			pm.ImageURLs = imageURLs
		}
		msgs = append(msgs, pm)
	}

	reply, err := s.api.Complete(ctx, provider.CompletionRequest{
		Model:         rec.Model,
		Messages:      msgs,
		HighReasoning: info.HighReasoning,
	})
	if err != nil {
		rec.Messages = rec.Messages[:len(rec.Messages)-1]
		return "", err
	}

	rec.Messages = append(rec.Messages, domain.ChatMessage{Role: "assistant", Content: reply})
	rec.MessageCount++
	if err := s.users.Save(rec.UserID); err != nil {
		log.Errorf("Failed to persist chat turn for user %d: %v", rec.UserID, err)
	}
	return reply, nil
}

// GenerateImage renders one image from the prompt. Image turns carry no
// history; only the usage counter moves.
func (s *Service) GenerateImage(ctx context.Context, rec *domain.UserRecord, prompt string) (string, error) {
	url, err := s.api.GenerateImage(ctx, prompt, rec.ImageSize, rec.ImageQuality)
	if err != nil {
		return "", err
	}

	rec.MessageCount++
	if err := s.users.Save(rec.UserID); err != nil {
		log.Errorf("Failed to persist image turn for user %d: %v", rec.UserID, err)
	}
	return url, nil
}
