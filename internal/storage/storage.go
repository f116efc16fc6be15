package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound 表示请求的对象不存在。
var ErrNotFound = errors.New("storage: object not found")

// Writer 定义对象存储写接口，支持流式写入。
type Writer interface {
	Write(ctx context.Context, key string, r io.Reader) (Location, error)
}

// Reader 定义对象存储读接口，支持整体与字节区间的流式读取。
// ReadRange 的 start/end 均为闭区间偏移，调用方负责保证 start <= end 且在对象范围内。
type Reader interface {
	Read(ctx context.Context, key string) (io.ReadCloser, error)
	ReadRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
}

// Storage 组合了读写与删除能力的完整存储接口。
type Storage interface {
	Writer
	Reader
	Delete(ctx context.Context, key string) error
}

// Location 描述已经写入对象的可访问信息。
type Location struct {
	Path string
	URL  string
}
