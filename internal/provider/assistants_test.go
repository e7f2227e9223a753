package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestAssistantClient(handler http.HandlerFunc) (*AssistantClient, *httptest.Server) {
	server := httptest.NewServer(handler)
	client := NewAssistantClient("test-key", server.URL, server.Client(), 30)
	return client, server
}

func TestCreateThreadSendsBetaHeader(t *testing.T) {
	var gotBeta, gotAuth string
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(map[string]string{"id": "thread_123"})
	})
	defer server.Close()

	id, err := client.CreateThread(context.Background())
	if err != nil {
		t.Fatalf("CreateThread failed: %v", err)
	}
	if id != "thread_123" {
		t.Errorf("thread id = %q, want thread_123", id)
	}
	if gotBeta != "assistants=v2" {
		t.Errorf("OpenAI-Beta header = %q, want assistants=v2", gotBeta)
	}
	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization header = %q", gotAuth)
	}
}

func TestAddMessageMapsNotFound(t *testing.T) {
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "No thread found with id 'thread_gone'"},
		})
	})
	defer server.Close()

	err := client.AddMessage(context.Background(), "thread_gone", []ContentBlock{TextBlock("hi")}, nil)
	if KindOf(err) != KindThreadNotFound {
		t.Fatalf("KindOf(err) = %v, want KindThreadNotFound (err: %v)", KindOf(err), err)
	}
}

func TestAddMessageMapsBusyThread(t *testing.T) {
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"message": "Can't add messages to thread thread_1 while a run run_2 is active.",
			},
		})
	})
	defer server.Close()

	err := client.AddMessage(context.Background(), "thread_1", []ContentBlock{TextBlock("hi")}, nil)
	if KindOf(err) != KindThreadBusy {
		t.Fatalf("KindOf(err) = %v, want KindThreadBusy (err: %v)", KindOf(err), err)
	}
}

func TestAddMessageBody(t *testing.T) {
	var body map[string]interface{}
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body)
		json.NewEncoder(w).Encode(map[string]string{"id": "msg_1"})
	})
	defer server.Close()

	blocks := []ContentBlock{TextBlock("describe this"), ImageBlock("file_img")}
	attachments := []Attachment{FileSearchAttachment("file_doc")}
	if err := client.AddMessage(context.Background(), "thread_1", blocks, attachments); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}

	if body["role"] != "user" {
		t.Errorf("role = %v, want user", body["role"])
	}
	content, ok := body["content"].([]interface{})
	if !ok || len(content) != 2 {
		t.Fatalf("content = %v, want two blocks", body["content"])
	}
	first := content[0].(map[string]interface{})
	if first["type"] != "text" || first["text"] != "describe this" {
		t.Errorf("first block = %v", first)
	}
	second := content[1].(map[string]interface{})
	if second["type"] != "image_file" {
		t.Errorf("second block = %v", second)
	}
	atts, ok := body["attachments"].([]interface{})
	if !ok || len(atts) != 1 {
		t.Fatalf("attachments = %v, want one entry", body["attachments"])
	}
	att := atts[0].(map[string]interface{})
	if att["file_id"] != "file_doc" {
		t.Errorf("attachment file_id = %v", att["file_id"])
	}
}

func TestRunTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"queued", false},
		{"in_progress", false},
		{"completed", true},
		{"failed", true},
		{"cancelled", true},
		{"expired", true},
		{"incomplete", true},
		{"requires_action", true},
	}

	for _, tt := range tests {
		run := &Run{Status: tt.status}
		if got := run.Terminal(); got != tt.want {
			t.Errorf("Terminal() for %q = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestLatestRunMessageParsesBlocks(t *testing.T) {
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("run_id"); got != "run_9" {
			t.Errorf("run_id query = %q, want run_9", got)
		}
		if got := r.URL.Query().Get("limit"); got != "1" {
			t.Errorf("limit query = %q, want 1", got)
		}
		io.WriteString(w, `{
			"data": [{
				"id": "msg_1",
				"run_id": "run_9",
				"role": "assistant",
				"content": [
					{"type": "text", "text": {"value": "see chart【4:0†chart.png】", "annotations": [
						{"type": "file_path", "text": "【4:0†chart.png】", "file_path": {"file_id": "file_chart"}}
					]}},
					{"type": "image_file", "image_file": {"file_id": "file_img"}}
				]
			}]
		}`)
	})
	defer server.Close()

	msg, err := client.LatestRunMessage(context.Background(), "thread_1", "run_9")
	if err != nil {
		t.Fatalf("LatestRunMessage failed: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a message")
	}
	if len(msg.Content) != 2 {
		t.Fatalf("content blocks = %d, want 2", len(msg.Content))
	}
	text := msg.Content[0]
	if text.Text == nil || len(text.Text.Annotations) != 1 {
		t.Fatalf("text block = %+v, want one annotation", text)
	}
	if text.Text.Annotations[0].FilePath.FileID != "file_chart" {
		t.Errorf("annotation file id = %q", text.Text.Annotations[0].FilePath.FileID)
	}
	if msg.Content[1].ImageFile == nil || msg.Content[1].ImageFile.FileID != "file_img" {
		t.Errorf("image block = %+v", msg.Content[1])
	}
}

func TestLatestRunMessageEmpty(t *testing.T) {
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"data": []}`)
	})
	defer server.Close()

	msg, err := client.LatestRunMessage(context.Background(), "thread_1", "run_9")
	if err != nil {
		t.Fatalf("LatestRunMessage failed: %v", err)
	}
	if msg != nil {
		t.Errorf("expected nil message, got %+v", msg)
	}
}

func TestUploadFileMultipart(t *testing.T) {
	client, server := newTestAssistantClient(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parse multipart: %v", err)
		}
		if got := r.FormValue("purpose"); got != "assistants" {
			t.Errorf("purpose = %q, want assistants", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer file.Close()
		if header.Filename != "notes.pdf" {
			t.Errorf("filename = %q, want notes.pdf", header.Filename)
		}
		data, _ := io.ReadAll(file)
		if string(data) != "pdf-bytes" {
			t.Errorf("file content = %q", data)
		}
		json.NewEncoder(w).Encode(map[string]string{"id": "file_up"})
	})
	defer server.Close()

	id, err := client.UploadFile(context.Background(), "notes.pdf", bytes.NewReader([]byte("pdf-bytes")), "assistants")
	if err != nil {
		t.Fatalf("UploadFile failed: %v", err)
	}
	if id != "file_up" {
		t.Errorf("file id = %q, want file_up", id)
	}
}
