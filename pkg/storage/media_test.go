package storage

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newTestUploader(t *testing.T, maxBytes int64) (*Uploader, string) {
	t.Helper()
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	return NewUploader(fs, "https://cdn.example.com/", maxBytes, func() string { return "obj1" }), dir
}

func TestUploadSniffsTypeAndNamesKey(t *testing.T) {
	u, dir := newTestUploader(t, 1<<20)
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)

	media, err := u.Upload(context.Background(), "user-1", bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if media.Key != "media/user-1/obj1.png" {
		t.Fatalf("key = %q", media.Key)
	}
	if media.URL != "https://cdn.example.com/media/user-1/obj1.png" {
		t.Fatalf("url = %q", media.URL)
	}
	if media.ResourceType != ResourceImage || media.ContentType != "image/png" {
		t.Fatalf("unexpected media: %+v", media)
	}
	stored, err := os.ReadFile(filepath.Join(dir, "media", "user-1", "obj1.png"))
	if err != nil {
		t.Fatalf("read stored: %v", err)
	}
	if !bytes.Equal(stored, body) {
		t.Fatalf("stored %d bytes, want %d", len(stored), len(body))
	}
	if !u.OwnedBy(media.URL, "user-1") || u.OwnedBy(media.URL, "user-2") {
		t.Fatalf("ownership check failed")
	}
}

func TestUploadRejectsHTML(t *testing.T) {
	u, _ := newTestUploader(t, 1<<20)
	body := strings.NewReader("<!DOCTYPE html><html><script>alert(1)</script></html>")
	if _, err := u.Upload(context.Background(), "user-1", body, -1); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}
}

func TestUploadEnforcesLimit(t *testing.T) {
	u, dir := newTestUploader(t, 32)
	body := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 64)...)

	if _, err := u.Upload(context.Background(), "user-1", bytes.NewReader(body), int64(len(body))); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge for declared size, got %v", err)
	}
	if _, err := u.Upload(context.Background(), "user-1", bytes.NewReader(body), -1); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge while streaming, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "media", "user-1", "obj1.png")); !os.IsNotExist(err) {
		t.Fatalf("expected partial file removed, stat err=%v", err)
	}
}

func TestUploadRejectsEmpty(t *testing.T) {
	u, _ := newTestUploader(t, 0)
	if _, err := u.Upload(context.Background(), "user-1", bytes.NewReader(nil), 0); !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("expected ErrEmptyFile, got %v", err)
	}
}

func TestResourceType(t *testing.T) {
	cases := map[string]string{
		"image/jpeg":      ResourceImage,
		"video/mp4":       ResourceVideo,
		"audio/mpeg":      ResourceAudio,
		"application/pdf": ResourceRaw,
	}
	for ct, want := range cases {
		if got := ResourceType(ct); got != want {
			t.Fatalf("ResourceType(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestFileStoreRejectsEscapingKeys(t *testing.T) {
	fs, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("file store: %v", err)
	}
	if err := fs.Put(context.Background(), "", strings.NewReader("x"), 1, "text/plain"); err == nil {
		t.Fatalf("expected empty key to fail")
	}
	// Cleaning anchors the key at the root, so this lands inside the base dir.
	if err := fs.Put(context.Background(), "../../etc/passwd", strings.NewReader("x"), 1, "text/plain"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fs.Root(), "etc", "passwd")); err != nil {
		t.Fatalf("expected object inside base dir: %v", err)
	}
}
