package attach

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"assistant-bot/internal/provider"
)

var (
	// ErrVoiceDecode means the voice note could not be converted to mp3.
	ErrVoiceDecode = errors.New("voice decode failed")
	// ErrTranscriptionEmpty means the audio produced no recognizable text.
	ErrTranscriptionEmpty = errors.New("transcription produced no text")
)

const (
	convertTimeout    = 10 * time.Second
	transcribeTimeout = 30 * time.Second
)

// FileAPI is the provider file surface the uploader needs.
type FileAPI interface {
	UploadFile(ctx context.Context, filename string, r io.Reader, purpose string) (string, error)
	FileMetadata(ctx context.Context, fileID string) (*provider.FileInfo, error)
	FileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
}

// Transcriber converts an audio file to text.
type Transcriber interface {
	Transcribe(ctx context.Context, filePath string) (string, error)
}

// Uploader moves attachments between Telegram and the provider: voice notes
// to text, user images and documents up, generated files down.
type Uploader struct {
	files  FileAPI
	speech Transcriber
	tmpDir string

	// convert is swappable for tests.
	convert func(ctx context.Context, src, dst string) error
}

// NewUploader creates an uploader. tmpDir may be empty to use the system
// temp directory.
func NewUploader(files FileAPI, speech Transcriber, tmpDir string) *Uploader {
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Uploader{
		files:   files,
		speech:  speech,
		tmpDir:  tmpDir,
		convert: ffmpegConvert,
	}
}

// TranscribeVoice converts a Telegram voice note (ogg/opus) to text. Both
// temp files are removed on every exit path.
func (u *Uploader) TranscribeVoice(ctx context.Context, voice io.Reader) (string, error) {
	name := uuid.NewString()
	oggPath := filepath.Join(u.tmpDir, name+".ogg")
	mp3Path := filepath.Join(u.tmpDir, name+".mp3")
	defer os.Remove(oggPath)
	defer os.Remove(mp3Path)

	if err := writeFile(oggPath, voice); err != nil {
		return "", fmt.Errorf("save voice note: %w", err)
	}

	convertCtx, cancel := context.WithTimeout(ctx, convertTimeout)
	defer cancel()
	if err := u.convert(convertCtx, oggPath, mp3Path); err != nil {
		log.Errorf("Voice conversion failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrVoiceDecode, err)
	}

	transcribeCtx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()
	text, err := u.speech.Transcribe(transcribeCtx, mp3Path)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", ErrTranscriptionEmpty
	}
	return text, nil
}

// UploadImage uploads a user photo for vision use and returns its file id.
func (u *Uploader) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	return u.files.UploadFile(ctx, filename, r, "vision")
}

// UploadDocument uploads a user document for the file_search tool and
// returns its file id.
func (u *Uploader) UploadDocument(ctx context.Context, filename string, r io.Reader) (string, error) {
	return u.files.UploadFile(ctx, filename, r, "assistants")
}

// Fetch downloads a provider-generated file. The caller must close the
// returned reader.
func (u *Uploader) Fetch(ctx context.Context, fileID string) (string, io.ReadCloser, error) {
	meta, err := u.files.FileMetadata(ctx, fileID)
	if err != nil {
		return "", nil, err
	}
	content, err := u.files.FileContent(ctx, fileID)
	if err != nil {
		return "", nil, err
	}

	filename := filepath.Base(meta.Filename)
	if filename == "" || filename == "." || filename == "/" {
		filename = fileID
	}
	return filename, content, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// ffmpegConvert shells out to ffmpeg, matching what Telegram's opus voice
// notes need before Whisper accepts them.
func ffmpegConvert(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", src, dst)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg: %v (%s)", err, lastLine(out))
	}
	return nil
}

func lastLine(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
