package attach

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"assistant-bot/internal/provider"
)

type stubFiles struct {
	lastPurpose  string
	lastFilename string
	uploadID     string
	meta         *provider.FileInfo
	content      string
}

func (s *stubFiles) UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (string, error) {
	s.lastFilename = filename
	s.lastPurpose = purpose
	io.Copy(io.Discard, r)
	return s.uploadID, nil
}

func (s *stubFiles) FileMetadata(ctx context.Context, fileID string) (*provider.FileInfo, error) {
	return s.meta, nil
}

func (s *stubFiles) FileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(s.content)), nil
}

type stubSpeech struct {
	text string
	err  error
	path string
}

func (s *stubSpeech) Transcribe(ctx context.Context, filePath string) (string, error) {
	s.path = filePath
	return s.text, s.err
}

func copyConvert(ctx context.Context, src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0644)
}

func newTestUploader(t *testing.T, speech *stubSpeech) (*Uploader, *stubFiles) {
	t.Helper()
	files := &stubFiles{uploadID: "file_1"}
	u := NewUploader(files, speech, t.TempDir())
	u.convert = copyConvert
	return u, files
}

func TestTranscribeVoice(t *testing.T) {
	speech := &stubSpeech{text: "hello from voice"}
	u, _ := newTestUploader(t, speech)

	text, err := u.TranscribeVoice(context.Background(), strings.NewReader("opus-bytes"))
	if err != nil {
		t.Fatalf("TranscribeVoice failed: %v", err)
	}
	if text != "hello from voice" {
		t.Errorf("text = %q", text)
	}
	if filepath.Ext(speech.path) != ".mp3" {
		t.Errorf("transcriber got %q, want an mp3 path", speech.path)
	}
}

func TestTranscribeVoiceCleansTempFiles(t *testing.T) {
	speech := &stubSpeech{text: "ok"}
	files := &stubFiles{}
	dir := t.TempDir()
	u := NewUploader(files, speech, dir)
	u.convert = copyConvert

	if _, err := u.TranscribeVoice(context.Background(), strings.NewReader("x")); err != nil {
		t.Fatalf("TranscribeVoice failed: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp dir still holds %d files", len(entries))
	}
}

func TestTranscribeVoiceDecodeError(t *testing.T) {
	speech := &stubSpeech{}
	u, _ := newTestUploader(t, speech)
	u.convert = func(ctx context.Context, src, dst string) error {
		return errors.New("corrupt stream")
	}

	_, err := u.TranscribeVoice(context.Background(), strings.NewReader("x"))
	if !errors.Is(err, ErrVoiceDecode) {
		t.Fatalf("err = %v, want ErrVoiceDecode", err)
	}
}

func TestTranscribeVoiceEmptyResult(t *testing.T) {
	speech := &stubSpeech{text: "   \n"}
	u, _ := newTestUploader(t, speech)

	_, err := u.TranscribeVoice(context.Background(), strings.NewReader("x"))
	if !errors.Is(err, ErrTranscriptionEmpty) {
		t.Fatalf("err = %v, want ErrTranscriptionEmpty", err)
	}
}

func TestUploadPurposes(t *testing.T) {
	u, files := newTestUploader(t, &stubSpeech{})

	if _, err := u.UploadImage(context.Background(), "photo.jpg", strings.NewReader("jpg")); err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if files.lastPurpose != "vision" {
		t.Errorf("image purpose = %q, want vision", files.lastPurpose)
	}

	if _, err := u.UploadDocument(context.Background(), "notes.pdf", strings.NewReader("pdf")); err != nil {
		t.Fatalf("UploadDocument failed: %v", err)
	}
	if files.lastPurpose != "assistants" {
		t.Errorf("document purpose = %q, want assistants", files.lastPurpose)
	}
	if files.lastFilename != "notes.pdf" {
		t.Errorf("filename = %q", files.lastFilename)
	}
}

func TestFetch(t *testing.T) {
	u, files := newTestUploader(t, &stubSpeech{})
	files.meta = &provider.FileInfo{ID: "file_9", Filename: "/mnt/data/report.csv"}
	files.content = "a,b,c"

	name, rc, err := u.Fetch(context.Background(), "file_9")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	defer rc.Close()

	if name != "report.csv" {
		t.Errorf("filename = %q, want report.csv", name)
	}
	data, _ := io.ReadAll(rc)
	if string(data) != "a,b,c" {
		t.Errorf("content = %q", data)
	}
}
