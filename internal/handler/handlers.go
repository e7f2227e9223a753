package handler

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"gopkg.in/telebot.v4"

	"assistant-bot/internal/assistant"
	"assistant-bot/internal/attach"
	"assistant-bot/internal/chat"
	"assistant-bot/internal/config"
	"assistant-bot/internal/domain"
	"assistant-bot/internal/thread"
	"assistant-bot/internal/user"
)

// turnTimeout bounds one full user turn including provider calls.
const turnTimeout = 180 * time.Second

// Synthesizer converts reply text to speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (io.ReadCloser, error)
}

// Bot wires Telegram updates to the chat, image and assistant pipelines.
type Bot struct {
	config    *config.Config
	tgBot     *telebot.Bot
	users     *user.Manager
	chat      *chat.Service
	assistant *assistant.Orchestrator
	threads   *thread.Manager
	uploader  *attach.Uploader
	speech    Synthesizer

	ctx    context.Context
	cancel context.CancelFunc
}

// Deps carries the bot's collaborators.
type Deps struct {
	Users     *user.Manager
	Chat      *chat.Service
	Assistant *assistant.Orchestrator
	Threads   *thread.Manager
	Uploader  *attach.Uploader
	Speech    Synthesizer
}

// NewBot creates a new bot instance.
func NewBot(cfg *config.Config, deps Deps) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	return &Bot{
		config:    cfg,
		users:     deps.Users,
		chat:      deps.Chat,
		assistant: deps.Assistant,
		threads:   deps.Threads,
		uploader:  deps.Uploader,
		speech:    deps.Speech,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetTelegramBot sets the Telegram bot instance.
func (b *Bot) SetTelegramBot(tgBot *telebot.Bot) {
	b.tgBot = tgBot
}

// Start registers all handlers.
func (b *Bot) Start() {
	if b.tgBot == nil {
		log.Error("Telegram bot not set")
		return
	}

	b.tgBot.Handle("/start", b.handleStart)
	b.tgBot.Handle("/help", b.handleHelp)
	b.tgBot.Handle("/info", b.handleInfo)
	b.tgBot.Handle("/model", b.handleModel)
	b.tgBot.Handle("/slot", b.handleSlot)
	b.tgBot.Handle("/assistant", b.handleAssistant)
	b.tgBot.Handle("/clear", b.handleClear)
	b.tgBot.Handle("/voice", b.handleVoice)
	b.tgBot.Handle("/role", b.handleRole)
	b.tgBot.Handle("/imagesize", b.handleImageSize)
	b.tgBot.Handle("/imagequality", b.handleImageQuality)

	b.tgBot.Handle(telebot.OnText, b.handleText)
	b.tgBot.Handle(telebot.OnVoice, b.handleVoiceMessage)
	b.tgBot.Handle(telebot.OnPhoto, b.handlePhoto)
	b.tgBot.Handle(telebot.OnDocument, b.handleDocument)
}

// Stop cancels in-flight turns and releases resources.
func (b *Bot) Stop() {
	b.cancel()
	if err := b.users.Close(); err != nil {
		log.Errorf("Failed to close user storage: %v", err)
	}
}

// authorized enforces the owner allowlist. Every handler calls it first.
func (b *Bot) authorized(c telebot.Context) bool {
	sender := c.Sender()
	if sender == nil {
		return false
	}
	if b.config.IsOwner(sender.ID) {
		return true
	}
	log.Warnf("Rejected message from unauthorized user %d", sender.ID)
	c.Send("Sorry, you don't have access to this bot.")
	return false
}

func (b *Bot) record(c telebot.Context) (*domain.UserRecord, error) {
	return b.users.GetOrCreate(c.Sender().ID)
}

func payload(c telebot.Context) string {
	return strings.TrimSpace(c.Message().Payload)
}

// ---- commands ----

func (b *Bot) handleStart(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}

	message := fmt.Sprintf(`Hi %s!

I relay your messages to an AI model. Pick a model with /model, then just
send text, voice notes, photos or documents.

Core commands:
/model - pick a model (chat, image or assistant)
/info - show current settings
/clear - drop the conversation context
/help - all commands`, c.Sender().FirstName)

	return c.Send(message)
}

func (b *Bot) handleHelp(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}

	helpText := `Commands:
/model [id] - list models or switch to one
/slot [1-3] - show or switch the assistant conversation slot
/assistant <id|default> - override the assistant for the active slot
/clear - drop chat history and detach the active assistant thread
/voice - toggle spoken replies
/role [text] - set or clear the system prompt for chat models
/imagesize [size] - 1024x1024, 1792x1024 or 1024x1792
/imagequality [q] - standard or hd
/info - show current settings

Input:
Text goes to the selected model. Voice notes are transcribed first.
Photos go to vision-capable chat models or into the assistant thread.
Documents attach to the assistant thread for file search.`

	return c.Send(helpText)
}

func (b *Bot) handleInfo(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send(formatInfo(rec))
}

func (b *Bot) handleModel(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "" {
		var sb strings.Builder
		sb.WriteString("Available models:\n")
		for _, id := range domain.ModelIDs() {
			info, _ := domain.LookupModel(id)
			marker := "  "
			if id == rec.Model {
				marker = "* "
			}
			fmt.Fprintf(&sb, "%s%s (%s)\n", marker, id, info.Label)
		}
		sb.WriteString("\nSwitch with /model <id>")
		return c.Send(sb.String())
	}

	if _, ok := domain.LookupModel(arg); !ok {
		return c.Send(fmt.Sprintf("Unknown model %q. Use /model to list them.", arg))
	}
	domain.ApplyModel(rec, arg)
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send(fmt.Sprintf("Model set to %s.", rec.Label))
}

func (b *Bot) handleSlot(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "" {
		return c.Send(fmt.Sprintf("Active slot: %d of %d.", rec.ActiveSlot, domain.AssistantSlots))
	}

	n, err := strconv.Atoi(arg)
	if err != nil || n < 1 || n > domain.AssistantSlots {
		return c.Send(fmt.Sprintf("Slot must be a number from 1 to %d.", domain.AssistantSlots))
	}
	rec.ActiveSlot = n
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send(fmt.Sprintf("Switched to slot %d.", n))
}

func (b *Bot) handleAssistant(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "" {
		id, err := b.threads.AssistantID(rec)
		if err != nil {
			return c.Send("No assistant is configured for this slot.")
		}
		return c.Send(fmt.Sprintf("Slot %d uses assistant %s.", rec.ActiveSlot, id))
	}

	slot := rec.ActiveSlotState()
	if arg == "default" {
		slot.AssistantID = ""
	} else {
		slot.AssistantID = arg
	}
	// The old thread belongs to the old assistant.
	slot.ThreadID = ""
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	if arg == "default" {
		return c.Send(fmt.Sprintf("Slot %d reset to the configured assistant.", rec.ActiveSlot))
	}
	return c.Send(fmt.Sprintf("Slot %d now uses assistant %s.", rec.ActiveSlot, arg))
}

func (b *Bot) handleClear(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	rec.ClearContext()
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send("Context cleared.")
}

func (b *Bot) handleVoice(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	rec.VoiceReply = !rec.VoiceReply
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	if rec.VoiceReply {
		return c.Send("Voice replies enabled.")
	}
	return c.Send("Voice replies disabled.")
}

func (b *Bot) handleRole(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "off" {
		arg = ""
	}
	rec.SystemPrompt = arg
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	if rec.SystemPrompt == "" {
		return c.Send("System prompt cleared.")
	}
	return c.Send("System prompt set.")
}

func (b *Bot) handleImageSize(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "" {
		return c.Send(fmt.Sprintf("Image size: %s. Options: %s.", rec.ImageSize, strings.Join(imageSizes, ", ")))
	}
	if !validImageSize(arg) {
		return c.Send(fmt.Sprintf("Size must be one of: %s.", strings.Join(imageSizes, ", ")))
	}
	rec.ImageSize = arg
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send(fmt.Sprintf("Image size set to %s.", arg))
}

func (b *Bot) handleImageQuality(c telebot.Context) error {
	if !b.authorized(c) {
		return nil
	}
	rec, err := b.record(c)
	if err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}

	arg := payload(c)
	if arg == "" {
		return c.Send(fmt.Sprintf("Image quality: %s. Options: %s.", rec.ImageQuality, strings.Join(imageQualities, ", ")))
	}
	if !validImageQuality(arg) {
		return c.Send(fmt.Sprintf("Quality must be one of: %s.", strings.Join(imageQualities, ", ")))
	}
	rec.ImageQuality = arg
	if err := b.users.Save(rec.UserID); err != nil {
		return c.Send(fmt.Sprintf("Error: %v", err))
	}
	return c.Send(fmt.Sprintf("Image quality set to %s.", arg))
}
