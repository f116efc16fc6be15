package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"audioshare/internal/repository"
)

// NewAudioRepository 返回基于 *sql.DB 的 Postgres 实现。
func NewAudioRepository(db *sql.DB) *AudioRepository {
	return &AudioRepository{db: db}
}

// AudioRepository 实现 repository.AudioRepository。
type AudioRepository struct {
	db *sql.DB
}

var audioColumns = []string{
	"id",
	"original_name",
	"extension",
	"mime_type",
	"size_bytes",
	"storage_key",
	"album_art",
	"status",
	"tags",
	"created_at",
	"updated_at",
}

// Create 插入音频记录。主键冲突映射为 repository.ErrConflict。
func (r *AudioRepository) Create(ctx context.Context, record *repository.AudioRecord) error {
	if record == nil {
		return fmt.Errorf("audio record is nil")
	}

	tagsBytes, err := json.Marshal(record.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	placeholders := make([]string, len(audioColumns))
	for i := range audioColumns {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	query := fmt.Sprintf(`INSERT INTO audio_files (%s) VALUES (%s)`,
		strings.Join(audioColumns, ","),
		strings.Join(placeholders, ","),
	)

	var albumArt sql.NullString
	if record.AlbumArt != "" {
		albumArt = sql.NullString{String: record.AlbumArt, Valid: true}
	}

	_, err = r.db.ExecContext(
		ctx,
		query,
		record.ID,
		record.OriginalName,
		record.Extension,
		record.MimeType,
		record.SizeBytes,
		record.StorageKey,
		albumArt,
		record.Status,
		tagsBytes,
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return repository.ErrConflict
		}
		return fmt.Errorf("insert audio record: %w", err)
	}

	return nil
}

// GetByID 通过主键查询音频记录。
func (r *AudioRepository) GetByID(ctx context.Context, id string) (*repository.AudioRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM audio_files WHERE id = $1`, strings.Join(audioColumns, ","))
	row := r.db.QueryRowContext(ctx, query, id)

	record, err := scanAudioRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return record, nil
}

// UpdateStatus 更新记录状态。
func (r *AudioRepository) UpdateStatus(ctx context.Context, id string, status repository.FileStatus) error {
	query := `UPDATE audio_files SET status = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, status, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// 排序列白名单到 SQL 表达式的映射，防止 ORDER BY 注入。
var sortColumns = map[string]string{
	repository.SortByFilename:   "LOWER(original_name)",
	repository.SortByTitle:      "LOWER(tags->>'title')",
	repository.SortByArtist:     "LOWER(tags->>'artist')",
	repository.SortByAlbum:      "LOWER(tags->>'album')",
	repository.SortBySize:       "size_bytes",
	repository.SortByUploadDate: "created_at",
}

// List 只返回 stored 记录，支持子串搜索、白名单排序与固定页大小分页。
func (r *AudioRepository) List(ctx context.Context, params repository.ListParams) (*repository.ListResult, error) {
	pageSize := params.PageSize
	if pageSize <= 0 {
		pageSize = 40
	}
	page := params.Page
	if page < 1 {
		page = 1
	}

	args := []any{repository.FileStatusStored}
	where := "WHERE status = $1"

	if needle := strings.TrimSpace(params.Search); needle != "" {
		args = append(args, "%"+escapeLike(needle)+"%")
		n := len(args)
		where += fmt.Sprintf(` AND (original_name ILIKE $%d
			OR tags->>'title' ILIKE $%d
			OR tags->>'artist' ILIKE $%d
			OR tags->>'album' ILIKE $%d)`, n, n, n, n)
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM audio_files " + where
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count audio records: %w", err)
	}

	orderBy := buildOrderBy(params.SortBy, params.SortOrder)

	args = append(args, pageSize, (page-1)*pageSize)
	query := fmt.Sprintf(`SELECT %s FROM audio_files %s %s LIMIT $%d OFFSET $%d`,
		strings.Join(audioColumns, ","), where, orderBy, len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audio records: %w", err)
	}
	defer rows.Close()

	files := make([]repository.AudioRecord, 0, pageSize)
	for rows.Next() {
		record, err := scanAudioRecord(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &repository.ListResult{
		Files:      files,
		TotalItems: total,
		Page:       page,
		TotalPages: (total + pageSize - 1) / pageSize,
		PageSize:   pageSize,
	}, nil
}

func buildOrderBy(sortBy, sortOrder string) string {
	column, ok := sortColumns[sortBy]
	if !ok {
		// 未识别的排序列回退到上传时间倒序
		return "ORDER BY created_at DESC"
	}

	direction := "DESC"
	if strings.EqualFold(sortOrder, "asc") {
		direction = "ASC"
	}
	return fmt.Sprintf("ORDER BY %s %s", column, direction)
}

func escapeLike(s string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAudioRecord(rs rowScanner) (*repository.AudioRecord, error) {
	var (
		record   repository.AudioRecord
		albumArt sql.NullString
		tags     []byte
	)

	if err := rs.Scan(
		&record.ID,
		&record.OriginalName,
		&record.Extension,
		&record.MimeType,
		&record.SizeBytes,
		&record.StorageKey,
		&albumArt,
		&record.Status,
		&tags,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if albumArt.Valid {
		record.AlbumArt = albumArt.String
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &record.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}

	return &record, nil
}
