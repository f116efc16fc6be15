package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"audioshare/internal/repository"
	"audioshare/internal/storage"
	"audioshare/internal/tags"
)

// 同一上传请求内记录插入的冲突重试上限。
const maxCreateAttempts = 3

const (
	audioKeyPrefix    = "audio/"
	albumArtKeyPrefix = "album-art/"
)

var (
	uploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioshare_uploads_total",
		Help: "Total number of upload attempts by outcome.",
	}, []string{"status"})

	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audioshare_upload_bytes_total",
		Help: "Total number of audio bytes accepted.",
	})

	uploadConflictRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audioshare_upload_conflict_retries_total",
		Help: "Number of id collisions recovered during record creation.",
	})
)

// TagReader 抽象标签解析，便于在测试中替换实现。
type TagReader interface {
	Extract(r io.ReadSeeker) (*tags.Metadata, error)
}

// AudioService 封装上传管线、元数据查询与归档列表。
type AudioService struct {
	repo      repository.AudioRepository
	store     storage.Storage
	tagReader TagReader
	logger    *zap.Logger
	indexFile string
	pageSize  int
	chunkCap  int64
}

// Options 定义 AudioService 的可调参数。
type Options struct {
	IndexFile        string // 纯文本上传索引路径，为空则关闭
	PageSize         int    // 归档列表页大小
	StreamChunkBytes int64  // Range 未指定 end 时的分块上限，0 表示直到末尾
}

// NewAudioService 构造音频服务。
func NewAudioService(
	repo repository.AudioRepository,
	store storage.Storage,
	tagReader TagReader,
	logger *zap.Logger,
	opts Options,
) *AudioService {
	if logger == nil {
		logger = zap.NewNop()
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 40
	}
	return &AudioService{
		repo:      repo,
		store:     store,
		tagReader: tagReader,
		logger:    logger,
		indexFile: opts.IndexFile,
		pageSize:  pageSize,
		chunkCap:  opts.StreamChunkBytes,
	}
}

// UploadInput 描述一次经过校验的上传：字节已落入临时中转文件。
// 临时文件的清理由调用方负责。
type UploadInput struct {
	OriginalName string
	MimeType     string
	TempPath     string
}

// Upload 执行上传管线：解析标签 → 存储封面 → 登记记录 → 写入字节。
//
// 记录先以 pending 状态插入，字节全部写入后才翻转为 stored，
// 因此在字节落盘期间不存在可查询到的半成品记录。id 冲突会在本次
// 请求内换名重试，超出上限后整个请求失败。
func (s *AudioService) Upload(ctx context.Context, input UploadInput) (*repository.AudioRecord, error) {
	if s == nil || s.repo == nil || s.store == nil {
		return nil, errors.New("audio service not initialized")
	}

	info, err := os.Stat(input.TempPath)
	if err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("stat intake file: %w", err)
	}

	meta := s.extractTags(input)
	tagSet := buildTagSet(meta, input.OriginalName)
	albumArt := s.storeAlbumArt(ctx, meta)

	ext := strings.ToLower(filepath.Ext(input.OriginalName))

	now := time.Now().UTC()
	record := &repository.AudioRecord{
		OriginalName: input.OriginalName,
		Extension:    strings.TrimPrefix(ext, "."),
		MimeType:     input.MimeType,
		SizeBytes:    info.Size(),
		AlbumArt:     albumArt,
		Status:       repository.FileStatusPending,
		Tags:         tagSet,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.createWithRetry(ctx, record, ext); err != nil {
		uploadsTotal.WithLabelValues("conflict_exhausted").Inc()
		return nil, err
	}

	location, err := s.copyPayload(ctx, record, input.TempPath)
	if err != nil {
		// 记录仍是 pending，对读者不可见；标记 failed 便于排查
		if markErr := s.repo.UpdateStatus(ctx, record.ID, repository.FileStatusFailed); markErr != nil {
			s.logger.Error("mark failed upload",
				zap.String("id", record.ID),
				zap.Error(markErr))
		}
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := s.repo.UpdateStatus(ctx, record.ID, repository.FileStatusStored); err != nil {
		uploadsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("finalize record: %w", err)
	}
	record.Status = repository.FileStatusStored

	s.appendIndexLine(record, location.Path)

	uploadsTotal.WithLabelValues("success").Inc()
	uploadBytesTotal.Add(float64(record.SizeBytes))

	s.logger.Info("upload stored",
		zap.String("id", record.ID),
		zap.String("originalName", record.OriginalName),
		zap.Int64("sizeBytes", record.SizeBytes),
		zap.String("mimeType", record.MimeType))

	return record, nil
}

// Get 返回一条已存储记录；pending/failed/deleted 一律视为不存在。
func (s *AudioService) Get(ctx context.Context, id string) (*repository.AudioRecord, error) {
	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status != repository.FileStatusStored {
		return nil, repository.ErrNotFound
	}
	return record, nil
}

// Archive 返回一页归档记录。
func (s *AudioService) Archive(ctx context.Context, params repository.ListParams) (*repository.ListResult, error) {
	if params.PageSize <= 0 {
		params.PageSize = s.pageSize
	}
	if params.Page < 1 {
		params.Page = 1
	}
	return s.repo.List(ctx, params)
}

// Delete 软删除一条记录（管理操作），字节负载保留在存储中。
func (s *AudioService) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.UpdateStatus(ctx, id, repository.FileStatusDeleted)
}

// AlbumArt 按文件名返回已存储的封面图片流。
func (s *AudioService) AlbumArt(ctx context.Context, filename string) (io.ReadCloser, error) {
	return s.store.Read(ctx, albumArtKeyPrefix+filename)
}

// extractTags 解析临时文件中的标签；任何失败都降级为空元数据。
func (s *AudioService) extractTags(input UploadInput) *tags.Metadata {
	f, err := os.Open(input.TempPath)
	if err != nil {
		s.logger.Warn("open intake file for tag extraction",
			zap.String("originalName", input.OriginalName),
			zap.Error(err))
		return nil
	}
	defer f.Close()

	meta, err := s.tagReader.Extract(f)
	if err != nil {
		s.logger.Warn("tag extraction failed, using fallback values",
			zap.String("originalName", input.OriginalName),
			zap.Error(err))
		return nil
	}
	return meta
}

// buildTagSet 把解析结果转换为持久化格式，缺失字段使用兜底值。
func buildTagSet(meta *tags.Metadata, originalName string) repository.TagSet {
	set := repository.TagSet{
		Title:  originalName,
		Artist: "unknown",
	}
	if meta == nil {
		return set
	}

	if strings.TrimSpace(meta.Title) != "" {
		set.Title = meta.Title
	}
	if strings.TrimSpace(meta.Artist) != "" {
		set.Artist = meta.Artist
	}
	set.Album = meta.Album
	set.AlbumArtist = meta.AlbumArtist
	set.Composer = meta.Composer
	set.Genre = meta.Genre
	set.Year = meta.Year
	set.TrackNumber = meta.TrackNumber
	set.DiscNumber = meta.DiscNumber
	set.Codec = meta.Codec
	return set
}

// storeAlbumArt 将内嵌封面存为独立对象，失败只降级不中断上传。
func (s *AudioService) storeAlbumArt(ctx context.Context, meta *tags.Metadata) string {
	if meta == nil || meta.Picture == nil {
		return ""
	}

	// 扩展名来自标签数据，只接受白名单内的值，其余回退到 MIME 类型判断
	ext := strings.ToLower(strings.TrimSpace(meta.Picture.Ext))
	switch ext {
	case "jpg", "jpeg", "png":
	default:
		switch meta.Picture.MIMEType {
		case "image/jpeg":
			ext = "jpg"
		case "image/png":
			ext = "png"
		default:
			return ""
		}
	}

	filename := uuid.NewString() + "." + ext
	if _, err := s.store.Write(ctx, albumArtKeyPrefix+filename, bytes.NewReader(meta.Picture.Data)); err != nil {
		s.logger.Warn("store album art", zap.Error(err))
		return ""
	}
	return filename
}

// createWithRetry 插入记录；id 冲突时追加时间戳换名重试，上限 maxCreateAttempts。
func (s *AudioService) createWithRetry(ctx context.Context, record *repository.AudioRecord, ext string) error {
	id := newAudioID()

	for attempt := 1; ; attempt++ {
		record.ID = id
		record.StorageKey = audioKeyPrefix + id + ext

		err := s.repo.Create(ctx, record)
		if err == nil {
			return nil
		}
		if !errors.Is(err, repository.ErrConflict) {
			return fmt.Errorf("create audio record: %w", err)
		}
		if attempt >= maxCreateAttempts {
			return fmt.Errorf("allocate unique id after %d attempts: %w", attempt, err)
		}

		uploadConflictRetries.Inc()
		s.logger.Warn("id collision, retrying with disambiguated name",
			zap.String("id", id),
			zap.Int("attempt", attempt))

		// 换一个随机 id 并追加时间戳后缀消除歧义
		id = fmt.Sprintf("%s%x", newAudioID(), time.Now().UnixNano())
	}
}

// copyPayload 把临时文件的字节流式写入最终存储。
func (s *AudioService) copyPayload(ctx context.Context, record *repository.AudioRecord, tempPath string) (storage.Location, error) {
	f, err := os.Open(tempPath)
	if err != nil {
		return storage.Location{}, fmt.Errorf("open intake file: %w", err)
	}
	defer f.Close()

	location, err := s.store.Write(ctx, record.StorageKey, f)
	if err != nil {
		return storage.Location{}, fmt.Errorf("store payload: %w", err)
	}
	return location, nil
}

// appendIndexLine 以 best-effort 方式追加一行人类可读的上传索引。
func (s *AudioService) appendIndexLine(record *repository.AudioRecord, path string) {
	if s.indexFile == "" {
		return
	}

	line := fmt.Sprintf("%s - %s - %s | %s\n",
		record.Tags.Artist, record.Tags.Title, record.OriginalName, path)

	f, err := os.OpenFile(s.indexFile, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		s.logger.Warn("open index file", zap.String("path", s.indexFile), zap.Error(err))
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		s.logger.Warn("append index line", zap.String("path", s.indexFile), zap.Error(err))
	}
}

func newAudioID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}
