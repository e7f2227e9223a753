package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/domain"
	"assistant-bot/internal/provider"
	"assistant-bot/internal/thread"
	"assistant-bot/internal/user"
)

const (
	defaultMaxRetries   = 3
	defaultPollInterval = time.Second
	defaultRunTimeout   = 60 * time.Second
)

// API is the provider surface a turn needs once its thread exists.
type API interface {
	AddMessage(ctx context.Context, threadID string, blocks []provider.ContentBlock, attachments []provider.Attachment) error
	CreateRun(ctx context.Context, threadID, assistantID string) (*provider.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (*provider.Run, error)
	LatestRunMessage(ctx context.Context, threadID, runID string) (*provider.ThreadMessage, error)
}

// Turn is one user input to the assistant pipeline.
type Turn struct {
	Text         string
	ImageFileIDs []string
	DocFileIDs   []string
}

// Reply is the collected output of a completed run.
type Reply struct {
	Text         string
	FileIDs      []string
	ImageFileIDs []string
}

// Orchestrator drives one assistant turn end to end: ensure a thread,
// submit the message, run the assistant, poll to completion and collect
// the reply. A stale or busy thread is dropped and the turn retried on a
// fresh one, up to maxRetries times after the initial attempt.
type Orchestrator struct {
	api     API
	threads *thread.Manager
	users   *user.Manager

	maxRetries   int
	pollInterval time.Duration
	runTimeout   time.Duration
}

// NewOrchestrator creates an orchestrator with default retry and polling
// parameters.
func NewOrchestrator(api API, threads *thread.Manager, users *user.Manager) *Orchestrator {
	return &Orchestrator{
		api:          api,
		threads:      threads,
		users:        users,
		maxRetries:   defaultMaxRetries,
		pollInterval: defaultPollInterval,
		runTimeout:   defaultRunTimeout,
	}
}

// Execute runs one turn for the user's active slot. State is persisted
// before the reply is returned, so a delivery failure never loses the
// conversation position.
func (o *Orchestrator) Execute(ctx context.Context, rec *domain.UserRecord, turn Turn) (*Reply, error) {
	unlock := o.threads.Lock(rec.UserID, rec.ActiveSlot)
	defer unlock()

	assistantID, err := o.threads.AssistantID(rec)
	if err != nil {
		return nil, err
	}

	// The API rejects empty message content, so an attachment-only turn
	// carries a whitespace placeholder. The placeholder is what actually
	// went to the thread, so it is also what history records.
	text := turn.Text
	if strings.TrimSpace(text) == "" {
		text = " "
	}

	blocks := buildBlocks(text, turn.ImageFileIDs)
	var attachments []provider.Attachment
	for _, id := range turn.DocFileIDs {
		attachments = append(attachments, provider.FileSearchAttachment(id))
	}

	attempts := o.maxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		// Thread creation failures are terminal; a fresh create that
		// fails will not succeed on a retry either.
		threadID, err := o.threads.Ensure(ctx, rec)
		if err != nil {
			return nil, err
		}

		if err := o.api.AddMessage(ctx, threadID, blocks, attachments); err != nil {
			if provider.IsRetryable(err) {
				log.Warnf("Thread %s unusable (%s), retrying on a fresh thread (attempt %d/%d)",
					threadID, provider.KindOf(err), attempt, attempts)
				lastErr = err
				if resetErr := o.threads.Reset(rec); resetErr != nil {
					return nil, resetErr
				}
				continue
			}
			return nil, err
		}

		reply, err := o.runTurn(ctx, threadID, assistantID)
		if err != nil {
			if provider.IsRetryable(err) {
				log.Warnf("Run on thread %s failed (%s), retrying on a fresh thread (attempt %d/%d)",
					threadID, provider.KindOf(err), attempt, attempts)
				lastErr = err
				if resetErr := o.threads.Reset(rec); resetErr != nil {
					return nil, resetErr
				}
				continue
			}
			return nil, err
		}

		rec.Messages = append(rec.Messages, domain.ChatMessage{Role: "user", Content: text})
		// A file-only reply has no text; history and the counter only
		// record exchanges that produced one.
		if reply.Text != "" {
			rec.Messages = append(rec.Messages, domain.ChatMessage{Role: "assistant", Content: reply.Text})
			rec.MessageCount++
		}
		if err := o.users.Save(rec.UserID); err != nil {
			return nil, err
		}
		return reply, nil
	}

	return nil, fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}

// buildBlocks assembles the outgoing message content.
func buildBlocks(text string, imageFileIDs []string) []provider.ContentBlock {
	blocks := []provider.ContentBlock{provider.TextBlock(text)}
	for _, id := range imageFileIDs {
		blocks = append(blocks, provider.ImageBlock(id))
	}
	return blocks
}

// runTurn starts a run, polls it to a terminal state and collects the
// newest message it produced.
func (o *Orchestrator) runTurn(ctx context.Context, threadID, assistantID string) (*Reply, error) {
	run, err := o.api.CreateRun(ctx, threadID, assistantID)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(o.runTimeout)
	for !run.Terminal() {
		if time.Now().After(deadline) {
			return nil, &provider.Error{
				Kind:    provider.KindRunTimeout,
				Op:      "run",
				Message: fmt.Sprintf("run %s still %s after %s", run.ID, run.Status, o.runTimeout),
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(o.pollInterval):
		}
		run, err = o.api.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return nil, err
		}
	}

	if run.Status != "completed" {
		detail := run.Status
		if run.LastError != nil {
			detail = fmt.Sprintf("%s: %s", run.Status, run.LastError.Message)
		}
		return nil, &provider.Error{Kind: provider.KindRunFailed, Op: "run", Message: detail}
	}

	msg, err := o.api.LatestRunMessage(ctx, threadID, run.ID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, &provider.Error{Kind: provider.KindEmptyResponse, Op: "run", Message: "run produced no message"}
	}

	reply := collectReply(msg)
	if reply.Text == "" && len(reply.FileIDs) == 0 && len(reply.ImageFileIDs) == 0 {
		return nil, &provider.Error{Kind: provider.KindEmptyResponse, Op: "run", Message: "run produced no content"}
	}
	return reply, nil
}

// collectReply flattens a thread message: text blocks are joined, their
// file-path citations stripped and collected, and image blocks gathered
// for download.
func collectReply(msg *provider.ThreadMessage) *Reply {
	reply := &Reply{}
	var parts []string

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text == nil {
				continue
			}
			value := block.Text.Value
			for _, ann := range block.Text.Annotations {
				if ann.FilePath != nil && ann.FilePath.FileID != "" {
					reply.FileIDs = append(reply.FileIDs, ann.FilePath.FileID)
				}
				if ann.Text != "" {
					value = strings.ReplaceAll(value, ann.Text, "")
				}
			}
			if value != "" {
				parts = append(parts, value)
			}
		case "image_file":
			if block.ImageFile != nil && block.ImageFile.FileID != "" {
				reply.ImageFileIDs = append(reply.ImageFileIDs, block.ImageFile.FileID)
			}
		}
	}

	reply.Text = strings.TrimSpace(strings.Join(parts, "\n"))
	return reply
}
