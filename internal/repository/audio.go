package repository

import (
	"context"
	"time"
)

// FileStatus 描述上传生命周期。
// 记录以 pending 创建，字节全部落盘后才翻转为 stored；
// 列表、查询和播放只暴露 stored 记录。
type FileStatus string

const (
	FileStatusPending FileStatus = "pending"
	FileStatusStored  FileStatus = "stored"
	FileStatusFailed  FileStatus = "failed"
	FileStatusDeleted FileStatus = "deleted"
)

// TagSet 是从音频容器中提取的标签元数据，按原样透传给调用方。
// 无法提取的字段保持零值并在 JSON 中省略。
type TagSet struct {
	Title       string  `json:"title"`
	Artist      string  `json:"artist"`
	Album       string  `json:"album,omitempty"`
	AlbumArtist string  `json:"albumArtist,omitempty"`
	Composer    string  `json:"composer,omitempty"`
	Genre       string  `json:"genre,omitempty"`
	Year        int     `json:"year,omitempty"`
	TrackNumber int     `json:"trackNumber,omitempty"`
	DiscNumber  int     `json:"discNumber,omitempty"`
	Duration    float64 `json:"duration,omitempty"`
	Bitrate     int     `json:"bitrate,omitempty"`
	SampleRate  int     `json:"sampleRate,omitempty"`
	Codec       string  `json:"codec,omitempty"`
}

// AudioRecord 代表一个已存储的音频文件及其元数据。
type AudioRecord struct {
	ID           string     `json:"id"`
	OriginalName string     `json:"originalName"`
	Extension    string     `json:"extension"`
	MimeType     string     `json:"mimeType"`
	SizeBytes    int64      `json:"size"`
	StorageKey   string     `json:"-"`
	AlbumArt     string     `json:"albumArt,omitempty"`
	Status       FileStatus `json:"-"`
	Tags         TagSet     `json:"tags"`
	CreatedAt    time.Time  `json:"uploadedAt"`
	UpdatedAt    time.Time  `json:"-"`
}

// 归档列表允许的排序列。未识别的列静默回退到默认值。
const (
	SortByFilename   = "filename"
	SortByTitle      = "title"
	SortByArtist     = "artist"
	SortByAlbum      = "album"
	SortBySize       = "size"
	SortByUploadDate = "uploadDate"
)

// ListParams 描述归档列表的分页、搜索与排序参数。
type ListParams struct {
	Page      int    // 从 1 开始
	PageSize  int
	Search    string // 对 filename/title/artist/album 做大小写不敏感的子串匹配
	SortBy    string
	SortOrder string // "asc" 或 "desc"
}

// ListResult 是一页归档记录以及渲染分页控件所需的统计。
type ListResult struct {
	Files      []AudioRecord `json:"files"`
	TotalItems int           `json:"totalItems"`
	Page       int           `json:"currentPage"`
	TotalPages int           `json:"totalPages"`
	PageSize   int           `json:"pageSize"`
}

// AudioRepository 统一音频元数据持久层接口。
// Create 在 id 冲突时必须返回 ErrConflict，绝不覆盖已有记录。
type AudioRepository interface {
	Create(ctx context.Context, record *AudioRecord) error
	GetByID(ctx context.Context, id string) (*AudioRecord, error)
	List(ctx context.Context, params ListParams) (*ListResult, error)
	UpdateStatus(ctx context.Context, id string, status FileStatus) error
}
