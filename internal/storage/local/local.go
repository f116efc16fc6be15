package local

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"audioshare/internal/storage"
)

// Storage 将对象写入本地文件系统，实现 storage.Storage。
type Storage struct {
	BaseDir string
	BaseURL string
}

// New 创建本地文件系统存储实例。
func New(baseDir, baseURL string) *Storage {
	return &Storage{BaseDir: baseDir, BaseURL: baseURL}
}

// Write 先写临时文件再重命名，避免读者看到半写入的对象。
func (s *Storage) Write(ctx context.Context, key string, r io.Reader) (storage.Location, error) {
	if s == nil {
		return storage.Location{}, fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return storage.Location{}, ctx.Err()
	default:
	}

	targetPath := s.resolve(key)
	if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
		return storage.Location{}, fmt.Errorf("ensure dir: %w", err)
	}

	tempPath := targetPath + ".tmp"
	f, err := os.OpenFile(tempPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return storage.Location{}, fmt.Errorf("create temp object: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("write object: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("close object: %w", err)
	}

	if err := os.Rename(tempPath, targetPath); err != nil {
		os.Remove(tempPath)
		return storage.Location{}, fmt.Errorf("finalize object: %w", err)
	}

	return storage.Location{
		Path: targetPath,
		URL:  s.publicURL(key),
	}, nil
}

// Read 返回整个对象的读取流。
func (s *Storage) Read(ctx context.Context, key string) (io.ReadCloser, error) {
	if s == nil {
		return nil, fmt.Errorf("local storage uninitialized")
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := os.Open(s.resolve(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("open object: %w", err)
	}
	return f, nil
}

// ReadRange 返回对象 [start, end] 闭区间的读取流。
func (s *Storage) ReadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error) {
	if start < 0 || end < start {
		return nil, fmt.Errorf("invalid byte range %d-%d", start, end)
	}

	f, err := s.Read(ctx, key)
	if err != nil {
		return nil, err
	}

	file, ok := f.(*os.File)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("unexpected reader type")
	}

	if _, err := file.Seek(start, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("seek object: %w", err)
	}

	return &rangeReader{
		Reader: io.LimitReader(file, end-start+1),
		closer: file,
	}, nil
}

// Delete 删除对象；对象不存在时不视为错误。
func (s *Storage) Delete(ctx context.Context, key string) error {
	if s == nil {
		return fmt.Errorf("local storage uninitialized")
	}

	err := os.Remove(s.resolve(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove object: %w", err)
	}
	return nil
}

func (s *Storage) resolve(key string) string {
	return filepath.Join(s.BaseDir, filepath.Clean("/"+key))
}

func (s *Storage) publicURL(key string) string {
	if s.BaseURL == "" {
		return ""
	}
	u, err := url.JoinPath(s.BaseURL, filepath.ToSlash(key))
	if err != nil {
		return ""
	}
	return u
}

type rangeReader struct {
	io.Reader
	closer io.Closer
}

func (r *rangeReader) Close() error {
	return r.closer.Close()
}
