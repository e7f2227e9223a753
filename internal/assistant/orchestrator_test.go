package assistant

import (
	"context"
	"testing"
	"time"

	"assistant-bot/internal/domain"
	"assistant-bot/internal/provider"
	"assistant-bot/internal/thread"
	"assistant-bot/internal/user"
)

type memStore struct {
	users map[int64]*domain.UserRecord
}

func newMemStore() *memStore {
	return &memStore{users: make(map[int64]*domain.UserRecord)}
}

func (s *memStore) GetUser(userID int64) (*domain.UserRecord, bool, error) {
	rec, ok := s.users[userID]
	if !ok {
		return nil, false, nil
	}
	clone := *rec
	return &clone, true, nil
}

func (s *memStore) PutUser(rec *domain.UserRecord) error {
	clone := *rec
	clone.Messages = append([]domain.ChatMessage(nil), rec.Messages...)
	s.users[rec.UserID] = &clone
	return nil
}

func (s *memStore) ListUserIDs() ([]int64, error) { return nil, nil }
func (s *memStore) Close() error                  { return nil }

type scriptedAPI struct {
	created     int
	addMessage  func(threadID string) error
	runStatus   string
	retrieved   int
	message     *provider.ThreadMessage
	addCalls    []string
	lastBlocks  []provider.ContentBlock
	lastAttach  []provider.Attachment
	assistantID string
}

func (a *scriptedAPI) CreateThread(ctx context.Context) (string, error) {
	a.created++
	return "thread_" + string(rune('0'+a.created)), nil
}

func (a *scriptedAPI) AddMessage(ctx context.Context, threadID string, blocks []provider.ContentBlock, attachments []provider.Attachment) error {
	a.addCalls = append(a.addCalls, threadID)
	a.lastBlocks = blocks
	a.lastAttach = attachments
	if a.addMessage != nil {
		return a.addMessage(threadID)
	}
	return nil
}

func (a *scriptedAPI) CreateRun(ctx context.Context, threadID, assistantID string) (*provider.Run, error) {
	a.assistantID = assistantID
	return &provider.Run{ID: "run_1", ThreadID: threadID, Status: "queued"}, nil
}

func (a *scriptedAPI) RetrieveRun(ctx context.Context, threadID, runID string) (*provider.Run, error) {
	a.retrieved++
	status := a.runStatus
	if status == "" {
		status = "completed"
	}
	run := &provider.Run{ID: runID, ThreadID: threadID, Status: status}
	if status == "failed" {
		run.LastError = &provider.RunError{Code: "server_error", Message: "boom"}
	}
	return run, nil
}

func (a *scriptedAPI) LatestRunMessage(ctx context.Context, threadID, runID string) (*provider.ThreadMessage, error) {
	return a.message, nil
}

func textMessage(text string) *provider.ThreadMessage {
	return &provider.ThreadMessage{
		ID:    "msg_1",
		RunID: "run_1",
		Role:  "assistant",
		Content: []provider.MessageContent{
			{Type: "text", Text: &provider.MessageText{Value: text}},
		},
	}
}

func newTestOrchestrator(t *testing.T, api *scriptedAPI) (*Orchestrator, *memStore, *domain.UserRecord) {
	t.Helper()
	store := newMemStore()
	users, err := user.NewManager(store)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	threads := thread.NewManager(users, api, [domain.AssistantSlots]string{"asst_1", "", ""})

	o := NewOrchestrator(api, threads, users)
	o.pollInterval = time.Millisecond
	o.runTimeout = 100 * time.Millisecond

	rec, err := users.GetOrCreate(7)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	return o, store, rec
}

func TestExecuteHappyPath(t *testing.T) {
	api := &scriptedAPI{message: textMessage("the answer")}
	o, store, rec := newTestOrchestrator(t, api)

	reply, err := o.Execute(context.Background(), rec, Turn{Text: "question"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if reply.Text != "the answer" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if api.created != 1 {
		t.Errorf("threads created = %d, want 1", api.created)
	}
	if api.assistantID != "asst_1" {
		t.Errorf("run used assistant %q, want configured default", api.assistantID)
	}

	stored := store.users[7]
	if stored.MessageCount != 1 {
		t.Errorf("persisted MessageCount = %d, want 1", stored.MessageCount)
	}
	if len(stored.Messages) != 2 {
		t.Errorf("persisted %d history messages, want 2", len(stored.Messages))
	}
}

func TestExecuteRetriesOnStaleThread(t *testing.T) {
	api := &scriptedAPI{message: textMessage("ok")}
	api.addMessage = func(threadID string) error {
		if threadID == "thread_1" {
			return &provider.Error{Kind: provider.KindThreadNotFound, Op: "add message", Status: 404}
		}
		return nil
	}
	o, _, rec := newTestOrchestrator(t, api)

	reply, err := o.Execute(context.Background(), rec, Turn{Text: "hi"})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if reply.Text != "ok" {
		t.Errorf("reply text = %q", reply.Text)
	}
	if api.created != 2 {
		t.Errorf("threads created = %d, want 2", api.created)
	}
	if got := rec.ActiveSlotState().ThreadID; got != "thread_2" {
		t.Errorf("bound thread = %q, want thread_2", got)
	}
}

func TestExecuteRetriesOnBusyThread(t *testing.T) {
	api := &scriptedAPI{message: textMessage("ok")}
	calls := 0
	api.addMessage = func(threadID string) error {
		calls++
		if calls == 1 {
			return &provider.Error{Kind: provider.KindThreadBusy, Op: "add message", Status: 400}
		}
		return nil
	}
	o, _, rec := newTestOrchestrator(t, api)

	if _, err := o.Execute(context.Background(), rec, Turn{Text: "hi"}); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if api.created != 2 {
		t.Errorf("threads created = %d, want 2", api.created)
	}
}

func TestExecuteGivesUpAfterRetriesExhausted(t *testing.T) {
	api := &scriptedAPI{}
	api.addMessage = func(threadID string) error {
		return &provider.Error{Kind: provider.KindThreadNotFound, Op: "add message", Status: 404}
	}
	o, _, rec := newTestOrchestrator(t, api)

	_, err := o.Execute(context.Background(), rec, Turn{Text: "hi"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// One initial attempt plus three retries.
	if len(api.addCalls) != 4 {
		t.Errorf("submit attempts = %d, want 4", len(api.addCalls))
	}
	if api.created != 4 {
		t.Errorf("threads created = %d, want 4", api.created)
	}
	if provider.KindOf(err) != provider.KindThreadNotFound {
		t.Errorf("error kind = %v, want the last retryable kind", provider.KindOf(err))
	}
}

func TestExecuteFailedRunIsTerminal(t *testing.T) {
	api := &scriptedAPI{runStatus: "failed"}
	o, _, rec := newTestOrchestrator(t, api)

	_, err := o.Execute(context.Background(), rec, Turn{Text: "hi"})
	if provider.KindOf(err) != provider.KindRunFailed {
		t.Fatalf("error kind = %v, want KindRunFailed", provider.KindOf(err))
	}
	if api.created != 1 {
		t.Errorf("threads created = %d, want 1 (no retry)", api.created)
	}
}

func TestExecuteEmptyRunOutput(t *testing.T) {
	api := &scriptedAPI{message: nil}
	o, _, rec := newTestOrchestrator(t, api)

	_, err := o.Execute(context.Background(), rec, Turn{Text: "hi"})
	if provider.KindOf(err) != provider.KindEmptyResponse {
		t.Fatalf("error kind = %v, want KindEmptyResponse", provider.KindOf(err))
	}
}

func TestExecuteAttachmentOnlyTurnSendsPlaceholder(t *testing.T) {
	api := &scriptedAPI{message: textMessage("described")}
	o, _, rec := newTestOrchestrator(t, api)

	turn := Turn{ImageFileIDs: []string{"file_img"}, DocFileIDs: []string{"file_doc"}}
	if _, err := o.Execute(context.Background(), rec, turn); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if len(api.lastBlocks) != 2 {
		t.Fatalf("sent %d blocks, want 2", len(api.lastBlocks))
	}
	if api.lastBlocks[0].Type != "text" || api.lastBlocks[0].Text != " " {
		t.Errorf("first block = %+v, want whitespace placeholder", api.lastBlocks[0])
	}
	if api.lastBlocks[1].Type != "image_file" {
		t.Errorf("second block = %+v, want image_file", api.lastBlocks[1])
	}
	if len(api.lastAttach) != 1 || api.lastAttach[0].FileID != "file_doc" {
		t.Errorf("attachments = %+v", api.lastAttach)
	}
	// History records the placeholder that actually went to the thread.
	if len(rec.Messages) != 2 || rec.Messages[0].Content != " " {
		t.Errorf("history = %+v, want placeholder user message first", rec.Messages)
	}
}

func TestExecuteFileOnlyReplySkipsHistoryText(t *testing.T) {
	api := &scriptedAPI{message: &provider.ThreadMessage{
		ID:    "msg_1",
		RunID: "run_1",
		Role:  "assistant",
		Content: []provider.MessageContent{
			{Type: "image_file", ImageFile: &provider.ImageFileRef{FileID: "file_img"}},
		},
	}}
	o, store, rec := newTestOrchestrator(t, api)

	reply, err := o.Execute(context.Background(), rec, Turn{ImageFileIDs: []string{"file_in"}})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(reply.ImageFileIDs) != 1 {
		t.Fatalf("image ids = %v", reply.ImageFileIDs)
	}

	stored := store.users[7]
	if len(stored.Messages) != 1 || stored.Messages[0].Role != "user" || stored.Messages[0].Content != " " {
		t.Errorf("history = %+v, want only the placeholder user message", stored.Messages)
	}
	if stored.MessageCount != 0 {
		t.Errorf("MessageCount = %d, want 0 for a reply with no text", stored.MessageCount)
	}
}

func TestCollectReplyStripsCitations(t *testing.T) {
	msg := &provider.ThreadMessage{
		Content: []provider.MessageContent{
			{
				Type: "text",
				Text: &provider.MessageText{
					Value: "Saved to report.csv【4:0†report.csv】 done",
					Annotations: []provider.Annotation{
						{Type: "file_path", Text: "【4:0†report.csv】", FilePath: &provider.FilePathRef{FileID: "file_r"}},
					},
				},
			},
			{Type: "image_file", ImageFile: &provider.ImageFileRef{FileID: "file_img"}},
		},
	}

	reply := collectReply(msg)
	if reply.Text != "Saved to report.csv done" {
		t.Errorf("text = %q", reply.Text)
	}
	if len(reply.FileIDs) != 1 || reply.FileIDs[0] != "file_r" {
		t.Errorf("file ids = %v", reply.FileIDs)
	}
	if len(reply.ImageFileIDs) != 1 || reply.ImageFileIDs[0] != "file_img" {
		t.Errorf("image ids = %v", reply.ImageFileIDs)
	}
}
