package deliver

import (
	"errors"
	"html"

	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/render"
)

// ParseMode selects the markup flavor of an outgoing message.
type ParseMode string

const (
	ModeMarkdown ParseMode = "markdown"
	ModeHTML     ParseMode = "html"
	ModePlain    ParseMode = "plain"
)

// ErrInvalidMarkup is returned by a SendFunc when the transport rejects the
// message because of its markup. It drives the fallback ladder; any other
// error aborts the ladder for that chunk.
var ErrInvalidMarkup = errors.New("invalid markup")

// SendFunc delivers one message in the given parse mode.
type SendFunc func(text string, mode ParseMode) error

// labelReserve keeps room in the first chunk for the bold label prefix.
const labelReserve = 8

// Delivery splits a reply into chunks and sends each one down the markup
// ladder: markdown, then converted HTML, then plain truncated text.
type Delivery struct {
	Limit int
	Send  SendFunc
}

// New creates a Delivery with the Telegram message limit.
func New(send SendFunc) *Delivery {
	return &Delivery{Limit: render.DefaultLimit, Send: send}
}

// Deliver chunks the text and sends every chunk. The first chunk carries
// the label as a bold prefix. A failed chunk is logged and does not stop
// the remaining chunks.
func (d *Delivery) Deliver(label, text string) error {
	limit := d.Limit
	if label != "" {
		limit -= len(label) + labelReserve
	}

	chunks := render.Chunk(text, limit)
	var firstErr error
	for i, chunk := range chunks {
		if err := d.sendChunk(label, chunk, i == 0); err != nil {
			log.Errorf("Failed to deliver chunk %d/%d: %v", i+1, len(chunks), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (d *Delivery) sendChunk(label, chunk string, first bool) error {
	text := chunk
	if first && label != "" {
		text = "*" + label + "*\n" + chunk
	}
	err := d.Send(text, ModeMarkdown)
	if err == nil || !errors.Is(err, ErrInvalidMarkup) {
		return err
	}

	log.Debug("Markdown rejected, retrying as HTML")
	text = render.MarkdownToTelegramHTML(chunk)
	if first && label != "" {
		text = "<b>" + html.EscapeString(label) + "</b>\n" + text
	}
	// Escaping and tags can push a near-limit chunk past the ceiling;
	// Telegram would reject that with a length error the ladder cannot
	// classify, so an oversized render falls through to plain directly.
	if len(text) <= d.Limit {
		err = d.Send(text, ModeHTML)
		if err == nil || !errors.Is(err, ErrInvalidMarkup) {
			return err
		}
	}

	log.Debug("HTML rejected, sending plain text")
	text = chunk
	if first && label != "" {
		text = label + "\n" + chunk
	}
	if len(text) > d.Limit {
		text = text[:d.Limit]
	}
	return d.Send(text, ModePlain)
}
