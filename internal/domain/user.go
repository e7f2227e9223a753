package domain

// Mode selects which pipeline handles a user's inbound messages.
type Mode string

const (
	ModeChat      Mode = "chat"
	ModeImage     Mode = "image"
	ModeAssistant Mode = "assistant"
)

// AssistantSlots is the number of independent assistant conversations a
// user can keep. Each slot binds its own remote thread and assistant id.
const AssistantSlots = 3

// DefaultHistoryChars bounds the chat history sent to completion models.
const DefaultHistoryChars = 120000

// ChatMessage is one turn of simple-chat history.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SlotState holds the per-slot assistant binding. An empty ThreadID means
// no active remote thread; an empty AssistantID means "use the configured
// default for this slot".
type SlotState struct {
	ThreadID    string `json:"thread_id,omitempty"`
	AssistantID string `json:"assistant_id,omitempty"`
}

// UserRecord is the durable per-user state. One record per Telegram user,
// created lazily on first contact and never deleted.
type UserRecord struct {
	UserID int64 `json:"user_id"`

	Mode  Mode   `json:"mode"`
	Model string `json:"model"`
	// Label and ChatPrefix always derive from Model via ApplyModel; they
	// are stored so /info and reply prefixes survive catalog changes.
	Label      string `json:"label"`
	ChatPrefix string `json:"chat_prefix"`

	// Messages is simple-chat history only; the assistant path appends its
	// turns here for /info counting but never reads it back.
	Messages     []ChatMessage `json:"messages"`
	MessageCount int           `json:"message_count"`
	HistoryChars int           `json:"history_chars"`

	Slots      [AssistantSlots]SlotState `json:"slots"`
	ActiveSlot int                       `json:"active_slot"` // 1..AssistantSlots

	VoiceReply   bool   `json:"voice_reply"`
	SystemPrompt string `json:"system_prompt,omitempty"`

	ImageQuality string `json:"image_quality"`
	ImageSize    string `json:"image_size"`
}

// NewUserRecord returns a default-initialized record for a first-contact user.
func NewUserRecord(userID int64) *UserRecord {
	rec := &UserRecord{
		UserID:       userID,
		HistoryChars: DefaultHistoryChars,
		ActiveSlot:   1,
		ImageQuality: "standard",
		ImageSize:    "1024x1024",
	}
	ApplyModel(rec, DefaultModel)
	return rec
}

// Slot returns a pointer to the slot state for a 1-based slot number. Out of
// range numbers are clamped to the first slot.
func (r *UserRecord) Slot(n int) *SlotState {
	if n < 1 || n > AssistantSlots {
		n = 1
	}
	return &r.Slots[n-1]
}

// ActiveSlotState returns the slot the user currently talks to.
func (r *UserRecord) ActiveSlotState() *SlotState {
	return r.Slot(r.ActiveSlot)
}

// ClearContext drops simple-chat history and detaches the active slot's
// remote thread. Other slots keep their threads.
func (r *UserRecord) ClearContext() {
	r.Messages = nil
	r.ActiveSlotState().ThreadID = ""
}
