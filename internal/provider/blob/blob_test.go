package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFSUpload(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS(dir, "https://cdn.example.com/media/")

	url, err := fs.Upload(context.Background(), "episodes/run-1.mp3", []byte("audio"), "audio/mpeg")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if url != "https://cdn.example.com/media/episodes/run-1.mp3" {
		t.Errorf("url = %s", url)
	}

	data, err := os.ReadFile(filepath.Join(dir, "episodes", "run-1.mp3"))
	if err != nil {
		t.Fatalf("read stored blob: %v", err)
	}
	if string(data) != "audio" {
		t.Errorf("stored bytes = %q", data)
	}
}

func TestFSUploadOverwrites(t *testing.T) {
	dir := t.TempDir()
	fs := NewFS(dir, "https://cdn.example.com")

	ctx := context.Background()
	if _, err := fs.Upload(ctx, "episodes/a.mp3", []byte("old"), "audio/mpeg"); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	if _, err := fs.Upload(ctx, "episodes/a.mp3", []byte("new"), "audio/mpeg"); err != nil {
		t.Fatalf("second upload: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(dir, "episodes", "a.mp3"))
	if string(data) != "new" {
		t.Errorf("stored bytes = %q, want latest write", data)
	}
}
