package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	log "github.com/sirupsen/logrus"
)

// Client wraps the OpenAI API for the stateless flows: chat completions,
// image generation, transcription and speech synthesis. Assistant threads
// live in AssistantClient.
type Client struct {
	api *openai.Client
}

// NewClient creates a provider client. httpClient may be nil; pass one when
// traffic must go through a proxy.
func NewClient(apiKey, baseURL string, httpClient *http.Client, timeout int) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}
	cfg.HTTPClient = httpClient

	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// Message is one completion input message. ImageURLs attaches vision parts
// to a user message.
type Message struct {
	Role      string
	Content   string
	ImageURLs []string
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	Model         string
	Messages      []Message
	HighReasoning bool
}

// Complete runs a chat completion and returns the first choice's text.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	apiReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
	}
	if req.HighReasoning {
		apiReq.ReasoningEffort = "high"
	}

	for _, m := range req.Messages {
		if len(m.ImageURLs) == 0 {
			apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
				Role:    m.Role,
				Content: m.Content,
			})
			continue
		}

		parts := make([]openai.ChatMessagePart, 0, len(m.ImageURLs)+1)
		if m.Content != "" {
			parts = append(parts, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: m.Content,
			})
		}
		for _, url := range m.ImageURLs {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: url},
			})
		}
		apiReq.Messages = append(apiReq.Messages, openai.ChatCompletionMessage{
			Role:         m.Role,
			MultiContent: parts,
		})
	}

	resp, err := c.api.CreateChatCompletion(ctx, apiReq)
	if err != nil {
		return "", wrapOpenAIError("chat completion", err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Kind: KindEmptyResponse, Op: "chat completion", Message: "no choices returned"}
	}
	return resp.Choices[0].Message.Content, nil
}

// GenerateImage renders one image and returns its URL.
func (c *Client) GenerateImage(ctx context.Context, prompt, size, quality string) (string, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Model:   openai.CreateImageModelDallE3,
		Prompt:  prompt,
		Size:    size,
		Quality: quality,
		N:       1,
	})
	if err != nil {
		return "", wrapOpenAIError("image generation", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &Error{Kind: KindEmptyResponse, Op: "image generation", Message: "no image returned"}
	}
	return resp.Data[0].URL, nil
}

// Transcribe converts an audio file to text with Whisper.
func (c *Client) Transcribe(ctx context.Context, filePath string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, openai.AudioRequest{
		Model:    openai.Whisper1,
		FilePath: filePath,
	})
	if err != nil {
		return "", wrapOpenAIError("transcription", err)
	}
	return resp.Text, nil
}

// Synthesize converts text to speech and returns the audio stream. The
// caller must close it.
func (c *Client) Synthesize(ctx context.Context, text string) (io.ReadCloser, error) {
	resp, err := c.api.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model: openai.TTSModel1,
		Input: text,
		Voice: openai.VoiceAlloy,
	})
	if err != nil {
		return nil, wrapOpenAIError("speech synthesis", err)
	}
	return resp, nil
}

func wrapOpenAIError(op string, err error) *Error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := apiError(op, apiErr.HTTPStatusCode, apiErr.Message)
		log.Debugf("OpenAI API error on %s: status=%d kind=%s", op, e.Status, e.Kind)
		return e
	}
	return networkError(op, err)
}
