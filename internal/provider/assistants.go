package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultAssistantsBaseURL = "https://api.openai.com/v1"

// AssistantClient talks to the assistants v2 REST API: threads, messages,
// runs and files. Message content is block-structured (text and image_file
// blocks), which is why this client works on the raw wire format.
type AssistantClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewAssistantClient creates an assistants API client. httpClient may be
// nil; pass one when traffic must go through a proxy.
func NewAssistantClient(apiKey, baseURL string, httpClient *http.Client, timeout int) *AssistantClient {
	if baseURL == "" {
		baseURL = defaultAssistantsBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: time.Duration(timeout) * time.Second}
	}
	return &AssistantClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		client:  httpClient,
	}
}

// ContentBlock is one block of an outgoing user message.
type ContentBlock struct {
	Type      string        `json:"type"`
	Text      string        `json:"text,omitempty"`
	ImageFile *ImageFileRef `json:"image_file,omitempty"`
}

// ImageFileRef references an uploaded image file.
type ImageFileRef struct {
	FileID string `json:"file_id"`
}

// TextBlock builds a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: "text", Text: text}
}

// ImageBlock builds an image_file content block.
func ImageBlock(fileID string) ContentBlock {
	return ContentBlock{Type: "image_file", ImageFile: &ImageFileRef{FileID: fileID}}
}

// Attachment binds an uploaded file to a message for tool use.
type Attachment struct {
	FileID string           `json:"file_id"`
	Tools  []AttachmentTool `json:"tools"`
}

// AttachmentTool names the tool an attachment is exposed to.
type AttachmentTool struct {
	Type string `json:"type"`
}

// FileSearchAttachment builds an attachment wired to the file_search tool.
func FileSearchAttachment(fileID string) Attachment {
	return Attachment{
		FileID: fileID,
		Tools:  []AttachmentTool{{Type: "file_search"}},
	}
}

// Run represents a run's observable state.
type Run struct {
	ID        string    `json:"id"`
	ThreadID  string    `json:"thread_id"`
	Status    string    `json:"status"`
	LastError *RunError `json:"last_error,omitempty"`
}

// RunError is the terminal error attached to a failed run.
type RunError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Terminal reports whether the run's status will not change anymore.
func (r *Run) Terminal() bool {
	switch r.Status {
	case "completed", "failed", "cancelled", "expired", "incomplete", "requires_action":
		return true
	}
	return false
}

// ThreadMessage is one message read back from a thread.
type ThreadMessage struct {
	ID      string           `json:"id"`
	RunID   string           `json:"run_id"`
	Role    string           `json:"role"`
	Content []MessageContent `json:"content"`
}

// MessageContent is one block of a thread message.
type MessageContent struct {
	Type      string        `json:"type"`
	Text      *MessageText  `json:"text,omitempty"`
	ImageFile *ImageFileRef `json:"image_file,omitempty"`
}

// MessageText is the text payload of a text block.
type MessageText struct {
	Value       string       `json:"value"`
	Annotations []Annotation `json:"annotations"`
}

// Annotation marks a span of message text, e.g. a generated-file citation.
type Annotation struct {
	Type     string       `json:"type"`
	Text     string       `json:"text"`
	FilePath *FilePathRef `json:"file_path,omitempty"`
}

// FilePathRef references a file produced by a run.
type FilePathRef struct {
	FileID string `json:"file_id"`
}

// FileInfo is the metadata of an uploaded or generated file.
type FileInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Purpose  string `json:"purpose"`
}

type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// request makes a JSON request against the assistants API.
func (c *AssistantClient) request(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")

	log.Debugf("Making %s request to %s", method, path)
	return c.client.Do(req)
}

// decodeResponse decodes a JSON response, mapping error statuses to typed
// provider errors.
func decodeResponse(op string, resp *http.Response, v interface{}) error {
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var envelope apiErrorEnvelope
		message := ""
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			message = envelope.Error.Message
		}
		return apiError(op, resp.StatusCode, message)
	}

	if v != nil {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			return networkError(op, fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// CreateThread creates an empty thread and returns its id.
func (c *AssistantClient) CreateThread(ctx context.Context) (string, error) {
	const op = "create thread"
	resp, err := c.request(ctx, "POST", "/threads", map[string]interface{}{})
	if err != nil {
		return "", networkError(op, err)
	}

	var thread struct {
		ID string `json:"id"`
	}
	if err := decodeResponse(op, resp, &thread); err != nil {
		return "", err
	}
	return thread.ID, nil
}

// AddMessage appends a user message to a thread.
func (c *AssistantClient) AddMessage(ctx context.Context, threadID string, blocks []ContentBlock, attachments []Attachment) error {
	const op = "add message"
	body := map[string]interface{}{
		"role":    "user",
		"content": blocks,
	}
	if len(attachments) > 0 {
		body["attachments"] = attachments
	}

	resp, err := c.request(ctx, "POST", fmt.Sprintf("/threads/%s/messages", threadID), body)
	if err != nil {
		return networkError(op, err)
	}
	return decodeResponse(op, resp, nil)
}

// CreateRun starts a run of the given assistant on a thread.
func (c *AssistantClient) CreateRun(ctx context.Context, threadID, assistantID string) (*Run, error) {
	const op = "create run"
	body := map[string]interface{}{
		"assistant_id": assistantID,
	}

	resp, err := c.request(ctx, "POST", fmt.Sprintf("/threads/%s/runs", threadID), body)
	if err != nil {
		return nil, networkError(op, err)
	}

	var run Run
	if err := decodeResponse(op, resp, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RetrieveRun reads the current state of a run.
func (c *AssistantClient) RetrieveRun(ctx context.Context, threadID, runID string) (*Run, error) {
	const op = "retrieve run"
	resp, err := c.request(ctx, "GET", fmt.Sprintf("/threads/%s/runs/%s", threadID, runID), nil)
	if err != nil {
		return nil, networkError(op, err)
	}

	var run Run
	if err := decodeResponse(op, resp, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// LatestRunMessage returns the newest message a run produced, or nil when
// the run produced none.
func (c *AssistantClient) LatestRunMessage(ctx context.Context, threadID, runID string) (*ThreadMessage, error) {
	const op = "list messages"
	query := url.Values{}
	query.Set("limit", "1")
	query.Set("order", "desc")
	query.Set("run_id", runID)

	resp, err := c.request(ctx, "GET", fmt.Sprintf("/threads/%s/messages?%s", threadID, query.Encode()), nil)
	if err != nil {
		return nil, networkError(op, err)
	}

	var list struct {
		Data []ThreadMessage `json:"data"`
	}
	if err := decodeResponse(op, resp, &list); err != nil {
		return nil, err
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	return &list.Data[0], nil
}

// UploadFile uploads a file for the given purpose and returns its id.
func (c *AssistantClient) UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (string, error) {
	const op = "upload file"

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.WriteField("purpose", purpose); err != nil {
		return "", networkError(op, err)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", networkError(op, err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", networkError(op, err)
	}
	if err := writer.Close(); err != nil {
		return "", networkError(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/files", &buf)
	if err != nil {
		return "", networkError(op, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", networkError(op, err)
	}

	var file FileInfo
	if err := decodeResponse(op, resp, &file); err != nil {
		return "", err
	}
	return file.ID, nil
}

// FileMetadata reads the metadata of a stored file.
func (c *AssistantClient) FileMetadata(ctx context.Context, fileID string) (*FileInfo, error) {
	const op = "file metadata"
	resp, err := c.request(ctx, "GET", fmt.Sprintf("/files/%s", fileID), nil)
	if err != nil {
		return nil, networkError(op, err)
	}

	var file FileInfo
	if err := decodeResponse(op, resp, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// FileContent downloads the content of a stored file. The caller must
// close the returned reader.
func (c *AssistantClient) FileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	const op = "file content"
	resp, err := c.request(ctx, "GET", fmt.Sprintf("/files/%s/content", fileID), nil)
	if err != nil {
		return nil, networkError(op, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		var envelope apiErrorEnvelope
		message := ""
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			message = envelope.Error.Message
		}
		return nil, apiError(op, resp.StatusCode, message)
	}
	return resp.Body, nil
}
