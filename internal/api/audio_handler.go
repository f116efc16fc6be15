package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"audioshare/internal/config"
	"audioshare/internal/repository"
	"audioshare/internal/service"
	"audioshare/internal/storage"
)

// multipart 表单解析的内存预算，超出部分落入临时文件。
const multipartMemoryBudget int64 = 16 * 1024 * 1024

// AudioHandler 提供上传、元数据查询、流式播放与归档列表的 HTTP 端点。
type AudioHandler struct {
	service *service.AudioService
	cfg     *config.Config
	logger  *zap.Logger
}

// NewAudioHandler 构造音频端点处理器。
func NewAudioHandler(s *service.AudioService, cfg *config.Config, logger *zap.Logger) *AudioHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AudioHandler{service: s, cfg: cfg, logger: logger}
}

// RegisterRoutes 注册公开端点。
func (h *AudioHandler) RegisterRoutes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Get("/files/{id}", h.GetFile)
	r.Get("/stream/{id}", h.Stream)
	r.Get("/archive", h.Archive)
	r.Get("/album-art/{filename}", h.AlbumArt)
}

// RegisterAdminRoutes 注册管理端点，由路由层决定是否包裹鉴权。
func (h *AudioHandler) RegisterAdminRoutes(r chi.Router) {
	r.Delete("/files/{id}", h.DeleteFile)
}

type errorEnvelope struct {
	Error string `json:"error"`
}

// Upload 接受 multipart/form-data 上传（字段名 file）并落库。
func (h *AudioHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		writeError(w, http.StatusInternalServerError, "handler not initialized")
		return
	}

	maxUpload := h.cfg.MaxUploadBytes
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload+multipartMemoryBudget)
	defer r.Body.Close()

	if err := r.ParseMultipartForm(multipartMemoryBudget); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("file exceeds size limit (%d MB)", maxUpload>>20))
			return
		}
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file field is required")
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !h.cfg.MimeTypeAllowed(contentType) {
		writeError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("content type %q is not an allowed audio type", contentType))
		return
	}

	if header.Size > maxUpload {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("file exceeds size limit (%d MB)", maxUpload>>20))
		return
	}

	tempPath, err := h.spoolToTemp(file)
	if err != nil {
		h.logger.Error("spool upload to temp file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process uploaded file")
		return
	}
	// 临时中转文件在任何出口都要删除
	defer os.Remove(tempPath)

	record, err := h.service.Upload(r.Context(), service.UploadInput{
		OriginalName: header.Filename,
		MimeType:     contentType,
		TempPath:     tempPath,
	})
	if err != nil {
		h.logger.Error("upload pipeline failed",
			zap.String("originalName", header.Filename),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store uploaded file")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// GetFile 返回单个文件的元数据记录。
func (h *AudioHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	record, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("metadata lookup failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load file metadata")
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// Stream 按 HTTP Range 语义返回音频字节流。
func (h *AudioHandler) Stream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	err := h.service.Stream(r.Context(), w, id, r.Header.Get("Range"))
	if err != nil {
		// Stream 只在响应头发出之前返回错误
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("stream failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to stream file")
	}
}

// Archive 返回归档列表的一页。
func (h *AudioHandler) Archive(w http.ResponseWriter, r *http.Request) {
	params := repository.ListParams{
		Page:      queryInt(r, "page", 1),
		Search:    strings.TrimSpace(r.URL.Query().Get("search")),
		SortBy:    r.URL.Query().Get("sortBy"),
		SortOrder: r.URL.Query().Get("sortOrder"),
	}

	result, err := h.service.Archive(r.Context(), params)
	if err != nil {
		h.logger.Error("archive listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// AlbumArt 按文件名返回已存储的封面图片。
func (h *AudioHandler) AlbumArt(w http.ResponseWriter, r *http.Request) {
	filename := chi.URLParam(r, "filename")
	if filename == "" {
		writeError(w, http.StatusBadRequest, "filename is required")
		return
	}
	// 拒绝路径穿越
	if strings.Contains(filename, "..") || strings.ContainsAny(filename, `/\`) {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}

	body, err := h.service.AlbumArt(r.Context(), filename)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "album art not found")
			return
		}
		h.logger.Error("album art lookup failed", zap.String("filename", filename), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load album art")
		return
	}
	defer body.Close()

	contentType := mime.TypeByExtension(filepath.Ext(filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=31536000")

	if _, err := io.Copy(w, body); err != nil {
		// 客户端可能已断开，无法再写入错误响应
		return
	}
}

// DeleteFile 软删除指定文件（管理操作）。
func (h *AudioHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "file id is required")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "file not found")
			return
		}
		h.logger.Error("delete failed", zap.String("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete file")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// spoolToTemp 把上传内容写入临时中转文件，返回其路径。
func (h *AudioHandler) spoolToTemp(file io.Reader) (string, error) {
	temp, err := os.CreateTemp(h.cfg.TempDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}

	if _, err := io.Copy(temp, file); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}

	return temp.Name(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorEnvelope{Error: message})
}
