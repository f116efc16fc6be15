package local

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audioshare/internal/storage"
)

func TestStorage_WriteAndRead(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")
	ctx := context.Background()

	payload := []byte("audio bytes")
	location, err := s.Write(ctx, "audio/abc.mp3", bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if location.Path != filepath.Join(dir, "audio", "abc.mp3") {
		t.Fatalf("unexpected location path %q", location.Path)
	}

	rc, err := s.Read(ctx, "audio/abc.mp3")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("unexpected body %q", got)
	}

	// 写入完成后不应残留临时文件
	entries, err := os.ReadDir(filepath.Join(dir, "audio"))
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Fatalf("temp file left behind: %s", entry.Name())
		}
	}
}

func TestStorage_ReadRange(t *testing.T) {
	s := New(t.TempDir(), "")
	ctx := context.Background()

	if _, err := s.Write(ctx, "audio/r.mp3", strings.NewReader("hello world")); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	rc, err := s.ReadRange(ctx, "audio/r.mp3", 6, 10)
	if err != nil {
		t.Fatalf("read range failed: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(got) != "world" {
		t.Fatalf("unexpected range body %q", got)
	}

	if _, err := s.ReadRange(ctx, "audio/r.mp3", 5, 2); err == nil {
		t.Fatal("expected error for inverted range")
	}
}

func TestStorage_Read_NotFound(t *testing.T) {
	s := New(t.TempDir(), "")

	_, err := s.Read(context.Background(), "audio/missing.mp3")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStorage_Write_ConfinesKeysToBaseDir(t *testing.T) {
	dir := t.TempDir()
	s := New(dir, "")

	location, err := s.Write(context.Background(), "../escape.mp3", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.HasPrefix(location.Path, dir+string(filepath.Separator)) {
		t.Fatalf("object escaped base dir: %q", location.Path)
	}
}

func TestStorage_Delete(t *testing.T) {
	s := New(t.TempDir(), "")
	ctx := context.Background()

	if _, err := s.Write(ctx, "audio/d.mp3", strings.NewReader("x")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := s.Delete(ctx, "audio/d.mp3"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := s.Read(ctx, "audio/d.mp3"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	// 删除不存在的对象不算错误
	if err := s.Delete(ctx, "audio/d.mp3"); err != nil {
		t.Fatalf("repeated delete should be a no-op, got %v", err)
	}
}
