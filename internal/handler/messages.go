package handler

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"assistant-bot/internal/assistant"
	"assistant-bot/internal/deliver"
	"assistant-bot/internal/domain"
)

var (
	imageSizes     = []string{"1024x1024", "1792x1024", "1024x1792"}
	imageQualities = []string{"standard", "hd"}
)

func validImageSize(s string) bool {
	for _, v := range imageSizes {
		if v == s {
			return true
		}
	}
	return false
}

func validImageQuality(q string) bool {
	for _, v := range imageQualities {
		if v == q {
			return true
		}
	}
	return false
}

// input is one normalized user turn, whatever Telegram type it arrived as.
type input struct {
	text string
	// chatImageURLs carries vision input for the chat pipeline.
	chatImageURLs []string
	// imageFileIDs and docFileIDs carry uploaded provider files for the
	// assistant pipeline.
	imageFileIDs []string
	docFileIDs   []string
}

// ---- message handlers ----

func (b *Bot) handleText(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	ctx, cancel := context.WithTimeout(b.ctx, turnTimeout)
	defer cancel()
	return b.processTurn(ctx, c, rec, input{text: c.Text()})
}

func (b *Bot) handleVoiceMessage(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	ctx, cancel := context.WithTimeout(b.ctx, turnTimeout)
	defer cancel()

	voice := c.Message().Voice
	rc, err := b.tgBot.File(&voice.File)
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to download voice note: %v", err))
	}
	text, err := b.uploader.TranscribeVoice(ctx, rc)
	rc.Close()
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to transcribe voice note: %v", err))
	}

	return b.processTurn(ctx, c, rec, input{text: text})
}

func (b *Bot) handlePhoto(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	if rec.Mode == domain.ModeImage {
		return c.Send("Send a text prompt to generate an image.")
	}

	ctx, cancel := context.WithTimeout(b.ctx, turnTimeout)
	defer cancel()

	photo := c.Message().Photo
	rc, err := b.tgBot.File(&photo.File)
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to download photo: %v", err))
	}
	defer rc.Close()

	in := input{text: c.Message().Caption}

	if rec.Mode == domain.ModeAssistant {
		fileID, err := b.uploader.UploadImage(ctx, "photo.jpg", rc)
		if err != nil {
			return c.Send(fmt.Sprintf("Failed to upload photo: %v", err))
		}
		in.imageFileIDs = []string{fileID}
		return b.processTurn(ctx, c, rec, in)
	}

	data, err := io.ReadAll(rc)
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to read photo: %v", err))
	}
	in.chatImageURLs = []string{imageDataURL(data)}
	if strings.TrimSpace(in.text) == "" {
		in.text = "Describe this image."
	}
	return b.processTurn(ctx, c, rec, in)
}

func (b *Bot) handleDocument(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	if rec.Mode != domain.ModeAssistant {
		return c.Send("Documents are only supported in assistant mode. Switch with /model assistant.")
	}

	ctx, cancel := context.WithTimeout(b.ctx, turnTimeout)
	defer cancel()

	doc := c.Message().Document
	rc, err := b.tgBot.File(&doc.File)
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to download document: %v", err))
	}
	defer rc.Close()

	fileID, err := b.uploader.UploadDocument(ctx, doc.FileName, rc)
	if err != nil {
		return c.Send(fmt.Sprintf("Failed to upload document: %v", err))
	}

	return b.processTurn(ctx, c, rec, input{
		text:       c.Message().Caption,
		docFileIDs: []string{fileID},
	})
}

// processTurn dispatches one turn to the pipeline selected by the user's
// mode and delivers the result.
func (b *Bot) processTurn(ctx context.Context, c telebot.Context, rec *domain.UserRecord, in input) error {
	wait, _ := b.tgBot.Send(c.Chat(), "⏳ Working on it...")
	defer func() {
		if wait != nil {
			if err := b.tgBot.Delete(wait); err != nil {
				log.Debugf("Failed to delete progress message: %v", err)
			}
		}
	}()

	switch rec.Mode {
	case domain.ModeImage:
		url, err := b.chat.GenerateImage(ctx, rec, in.text)
		if err != nil {
			return c.Send(fmt.Sprintf("An error occurred: %v", err))
		}
		c.Notify(telebot.UploadingPhoto)
		return c.Send(&telebot.Photo{File: telebot.FromURL(url)})

	case domain.ModeAssistant:
		reply, err := b.assistant.Execute(ctx, rec, assistant.Turn{
			Text:         in.text,
			ImageFileIDs: in.imageFileIDs,
			DocFileIDs:   in.docFileIDs,
		})
		if err != nil {
			return c.Send(fmt.Sprintf("An error occurred: %v", err))
		}
		c.Notify(telebot.Typing)
		b.deliverReply(ctx, c, rec, reply.Text)
		b.forwardRunOutput(ctx, c, reply)
		return nil

	default:
		reply, err := b.chat.Complete(ctx, rec, in.text, in.chatImageURLs)
		if err != nil {
			return c.Send(fmt.Sprintf("An error occurred: %v", err))
		}
		c.Notify(telebot.Typing)
		b.deliverReply(ctx, c, rec, reply)
		return nil
	}
}

// deliverReply sends the reply text through the chunking ladder and, when
// enabled, follows up with a spoken version.
func (b *Bot) deliverReply(ctx context.Context, c telebot.Context, rec *domain.UserRecord, text string) {
	if text != "" {
		d := deliver.New(b.sendFunc(c))
		if err := d.Deliver(rec.Label, text); err != nil {
			log.Errorf("Delivery incomplete for user %d: %v", rec.UserID, err)
		}
	}

	if !rec.VoiceReply || strings.TrimSpace(text) == "" {
		return
	}
	audio, err := b.speech.Synthesize(ctx, text)
	if err != nil {
		log.Errorf("Speech synthesis failed for user %d: %v", rec.UserID, err)
		return
	}
	defer audio.Close()
	if err := c.Send(&telebot.Voice{File: telebot.FromReader(audio)}); err != nil {
		log.Errorf("Failed to send voice reply to user %d: %v", rec.UserID, err)
	}
}

// forwardRunOutput sends run-generated files and images. Each item fails
// independently; a bad file never blocks the rest.
func (b *Bot) forwardRunOutput(ctx context.Context, c telebot.Context, reply *assistant.Reply) {
	for _, fileID := range reply.FileIDs {
		name, rc, err := b.uploader.Fetch(ctx, fileID)
		if err != nil {
			log.Errorf("Failed to fetch generated file %s: %v", fileID, err)
			continue
		}
		err = c.Send(&telebot.Document{File: telebot.FromReader(rc), FileName: name})
		rc.Close()
		if err != nil {
			log.Errorf("Failed to forward generated file %s: %v", fileID, err)
		}
	}

	for _, fileID := range reply.ImageFileIDs {
		_, rc, err := b.uploader.Fetch(ctx, fileID)
		if err != nil {
			log.Errorf("Failed to fetch generated image %s: %v", fileID, err)
			continue
		}
		err = c.Send(&telebot.Photo{File: telebot.FromReader(rc)})
		rc.Close()
		if err != nil {
			log.Errorf("Failed to forward generated image %s: %v", fileID, err)
		}
	}
}

// sendFunc adapts the telebot context to the delivery ladder, mapping the
// transport's markup rejection to the typed sentinel.
func (b *Bot) sendFunc(c telebot.Context) deliver.SendFunc {
	return func(text string, mode deliver.ParseMode) error {
		opts := &telebot.SendOptions{}
		switch mode {
		case deliver.ModeMarkdown:
			opts.ParseMode = telebot.ModeMarkdown
		case deliver.ModeHTML:
			opts.ParseMode = telebot.ModeHTML
		}
		err := c.Send(text, opts)
		if err != nil && isMarkupError(err) {
			return fmt.Errorf("%w: %v", deliver.ErrInvalidMarkup, err)
		}
		return err
	}
}

// isMarkupError recognizes Telegram's entity-parse rejection. The string
// match stays confined to this transport boundary.
func isMarkupError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "can't parse entities")
}

func imageDataURL(data []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
}

func formatInfo(rec *domain.UserRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Model: %s (%s)\n", rec.Model, rec.Label)
	fmt.Fprintf(&sb, "Mode: %s\n", rec.Mode)
	fmt.Fprintf(&sb, "Messages: %d\n", rec.MessageCount)
	fmt.Fprintf(&sb, "History budget: %d chars\n", rec.HistoryChars)
	fmt.Fprintf(&sb, "Active slot: %d of %d", rec.ActiveSlot, domain.AssistantSlots)
	if rec.ActiveSlotState().ThreadID != "" {
		sb.WriteString(" (thread attached)")
	}
	sb.WriteString("\n")
	if rec.SystemPrompt != "" {
		sb.WriteString("System prompt: set\n")
	}
	fmt.Fprintf(&sb, "Voice replies: %v\n", rec.VoiceReply)
	fmt.Fprintf(&sb, "Image: %s, %s", rec.ImageSize, rec.ImageQuality)
	return sb.String()
}
