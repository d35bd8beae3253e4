package transcribe

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/echolane/voicegate/internal/config"
)

func TestMockRecognizer(t *testing.T) {
	r := NewMockRecognizer(16000, 1)
	audio := make([]byte, 32000) // one second of s16le @16kHz mono

	res, err := r.Transcribe(context.Background(), audio, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text == "" {
		t.Fatal("expected transcript text")
	}
	if res.Language != "en" {
		t.Fatalf("expected default language en, got %q", res.Language)
	}
	if res.Duration != 1.0 {
		t.Fatalf("expected 1s duration, got %f", res.Duration)
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected one segment, got %d", len(res.Segments))
	}

	res, err = r.Transcribe(context.Background(), audio, "es")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Language != "es" {
		t.Fatalf("expected language hint honored, got %q", res.Language)
	}
}

func TestNewExecRecognizerValidation(t *testing.T) {
	if _, err := NewExecRecognizer(config.TranscribeConfig{Command: ""}); err == nil {
		t.Fatal("expected error for empty command")
	}
	if _, err := NewExecRecognizer(config.TranscribeConfig{Command: "whisper-cli --beam 5"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWritePCMToWav(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	file, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()

	pcm := make([]byte, 640)
	if err := writePCMToWav(file, pcm, 16000, 1); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() <= int64(len(pcm)) {
		t.Fatalf("expected wav header around pcm payload, size=%d", info.Size())
	}
}

func TestWritePCMToWavRejectsUnaligned(t *testing.T) {
	file, err := os.Create(filepath.Join(t.TempDir(), "bad.wav"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer file.Close()
	if err := writePCMToWav(file, []byte{0x01}, 16000, 1); err == nil {
		t.Fatal("expected error for odd-length pcm")
	}
}
