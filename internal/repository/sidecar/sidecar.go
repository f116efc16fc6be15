package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"audioshare/internal/repository"
)

const sidecarSuffix = ".metadata.json"

// Repository 将每条记录存为音频文件旁的 <id>.metadata.json。
// 列表操作扫描整个目录，适合单机小规模归档。
type Repository struct {
	dir string
}

// New 创建 sidecar 实现，dir 必须已存在。
func New(dir string) *Repository {
	return &Repository{dir: dir}
}

// Create 以 O_EXCL 方式写入 sidecar 文件，天然拒绝 id 冲突。
func (r *Repository) Create(ctx context.Context, record *repository.AudioRecord) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("audio record is missing an id")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	data, err := json.MarshalIndent(sidecarRecord{Record: record}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	f, err := os.OpenFile(r.path(record.ID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return repository.ErrConflict
		}
		return fmt.Errorf("create sidecar: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return fmt.Errorf("write sidecar: %w", err)
	}

	return f.Close()
}

// GetByID 读取单个 sidecar 文件。
func (r *Repository) GetByID(ctx context.Context, id string) (*repository.AudioRecord, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	return r.load(r.path(id))
}

// UpdateStatus 读改写 sidecar 文件，通过临时文件加重命名保持原子性。
func (r *Repository) UpdateStatus(ctx context.Context, id string, status repository.FileStatus) error {
	record, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}

	record.Status = status
	record.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(sidecarRecord{Record: record}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sidecar: %w", err)
	}

	target := r.path(id)
	tempPath := target + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("write sidecar temp: %w", err)
	}
	if err := os.Rename(tempPath, target); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("replace sidecar: %w", err)
	}

	return nil
}

// List 扫描目录中的全部 sidecar 文件，在内存中完成过滤、排序与分页。
// 只返回 stored 状态的记录。
func (r *Repository) List(ctx context.Context, params repository.ListParams) (*repository.ListResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, fmt.Errorf("read sidecar dir: %w", err)
	}

	needle := strings.ToLower(strings.TrimSpace(params.Search))

	var matched []repository.AudioRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), sidecarSuffix) {
			continue
		}

		record, err := r.load(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			// 损坏或半写入的 sidecar 不应拖垮整个列表
			continue
		}
		if record.Status != repository.FileStatusStored {
			continue
		}
		if needle != "" && !matchesSearch(record, needle) {
			continue
		}

		matched = append(matched, *record)
	}

	sortRecords(matched, params.SortBy, params.SortOrder)

	return paginate(matched, params)
}

func (r *Repository) path(id string) string {
	return filepath.Join(r.dir, id+sidecarSuffix)
}

func (r *Repository) load(path string) (*repository.AudioRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("read sidecar: %w", err)
	}

	var wrapper sidecarRecord
	wrapper.Record = &repository.AudioRecord{}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("decode sidecar: %w", err)
	}

	return wrapper.Record, nil
}

// sidecarRecord 在磁盘格式中补上 JSON 输出里省略的内部字段。
type sidecarRecord struct {
	Record     *repository.AudioRecord `json:"record"`
	StorageKey string                  `json:"storageKey"`
	Status     repository.FileStatus   `json:"status"`
	UpdatedAt  time.Time               `json:"updatedAt"`
}

func (s sidecarRecord) MarshalJSON() ([]byte, error) {
	type alias sidecarRecord
	clone := alias(s)
	clone.StorageKey = s.Record.StorageKey
	clone.Status = s.Record.Status
	clone.UpdatedAt = s.Record.UpdatedAt
	return json.Marshal(clone)
}

func (s *sidecarRecord) UnmarshalJSON(data []byte) error {
	type alias sidecarRecord
	clone := (*alias)(s)
	if err := json.Unmarshal(data, clone); err != nil {
		return err
	}
	s.Record.StorageKey = clone.StorageKey
	s.Record.Status = clone.Status
	s.Record.UpdatedAt = clone.UpdatedAt
	return nil
}

func matchesSearch(record *repository.AudioRecord, needle string) bool {
	haystacks := []string{
		record.OriginalName,
		record.Tags.Title,
		record.Tags.Artist,
		record.Tags.Album,
	}
	for _, h := range haystacks {
		if strings.Contains(strings.ToLower(h), needle) {
			return true
		}
	}
	return false
}

func sortRecords(records []repository.AudioRecord, sortBy, sortOrder string) {
	asc := strings.EqualFold(sortOrder, "asc")

	var less func(a, b *repository.AudioRecord) bool
	switch sortBy {
	case repository.SortByFilename:
		less = func(a, b *repository.AudioRecord) bool {
			return strings.ToLower(a.OriginalName) < strings.ToLower(b.OriginalName)
		}
	case repository.SortByTitle:
		less = func(a, b *repository.AudioRecord) bool {
			return strings.ToLower(a.Tags.Title) < strings.ToLower(b.Tags.Title)
		}
	case repository.SortByArtist:
		less = func(a, b *repository.AudioRecord) bool {
			return strings.ToLower(a.Tags.Artist) < strings.ToLower(b.Tags.Artist)
		}
	case repository.SortByAlbum:
		less = func(a, b *repository.AudioRecord) bool {
			return strings.ToLower(a.Tags.Album) < strings.ToLower(b.Tags.Album)
		}
	case repository.SortBySize:
		less = func(a, b *repository.AudioRecord) bool {
			return a.SizeBytes < b.SizeBytes
		}
	default:
		// 未识别的排序列回退到上传时间，默认倒序
		less = func(a, b *repository.AudioRecord) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if sortBy != repository.SortByUploadDate {
			asc = false
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		if asc {
			return less(&records[i], &records[j])
		}
		return less(&records[j], &records[i])
	})
}

func paginate(records []repository.AudioRecord, params repository.ListParams) (*repository.ListResult, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 40
	}
	page := params.Page
	if page < 1 {
		page = 1
	}

	total := len(records)
	totalPages := (total + pageSize - 1) / pageSize

	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	pageItems := records[start:end]
	files := make([]repository.AudioRecord, len(pageItems))
	copy(files, pageItems)

	return &repository.ListResult{
		Files:      files,
		TotalItems: total,
		Page:       page,
		TotalPages: totalPages,
		PageSize:   pageSize,
	}, nil
}
