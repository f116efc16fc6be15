package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"audioshare/internal/config"
	"audioshare/internal/repository"
	"audioshare/internal/repository/sidecar"
	"audioshare/internal/service"
	"audioshare/internal/storage/local"
	"audioshare/internal/tags"
)

// noTags 总是解析失败，驱动文件名兜底路径。
type noTags struct{}

func (noTags) Extract(r io.ReadSeeker) (*tags.Metadata, error) {
	return nil, errors.New("unrecognized container")
}

type testEnv struct {
	router http.Handler
	cfg    *config.Config
	store  *local.Storage
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	cfg := &config.Config{
		MaxUploadBytes:   1 << 20,
		AllowedMimeTypes: config.DefaultAllowedMimeTypes,
		TempDir:          t.TempDir(),
		PageSize:         40,
	}

	repo := sidecar.New(t.TempDir())
	store := local.New(t.TempDir(), "")
	svc := service.NewAudioService(repo, store, noTags{}, nil, service.Options{PageSize: cfg.PageSize})
	handler := NewAudioHandler(svc, cfg, nil)

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	handler.RegisterAdminRoutes(r)

	return &testEnv{router: r, cfg: cfg, store: store}
}

func newUploadRequest(t *testing.T, filename, contentType string, payload []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	header.Set("Content-Type", contentType)

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("create multipart part: %v", err)
	}
	if _, err := part.Write(payload); err != nil {
		t.Fatalf("write multipart payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func uploadTrack(t *testing.T, env *testEnv, filename string, payload []byte) repository.AudioRecord {
	t.Helper()

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, newUploadRequest(t, filename, "audio/mpeg", payload))

	if rec.Code != http.StatusOK {
		t.Fatalf("upload %s: expected 200, got %d (%s)", filename, rec.Code, rec.Body.String())
	}

	var record repository.AudioRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return record
}

func decodeError(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	return envelope.Error
}

func TestAudioHandler_Upload_ReturnsRecord(t *testing.T) {
	env := newTestEnv(t)

	record := uploadTrack(t, env, "song.mp3", []byte("hello"))

	if len(record.ID) != 32 {
		t.Fatalf("expected 32-char id, got %q", record.ID)
	}
	if record.OriginalName != "song.mp3" {
		t.Fatalf("unexpected original name %q", record.OriginalName)
	}
	if record.SizeBytes != 5 {
		t.Fatalf("unexpected size %d", record.SizeBytes)
	}
	if record.Tags.Title != "song.mp3" || record.Tags.Artist != "unknown" {
		t.Fatalf("unexpected fallback tags: %+v", record.Tags)
	}
	if record.CreatedAt.IsZero() {
		t.Fatal("expected uploadedAt to be set")
	}
}

func TestAudioHandler_Upload_RejectsDisallowedContentType(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, newUploadRequest(t, "notes.txt", "text/plain", []byte("not audio")))

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
	if msg := decodeError(t, rec.Body); !strings.Contains(msg, "text/plain") {
		t.Fatalf("error message should name the rejected type, got %q", msg)
	}

	// 被拒绝的上传不应产生任何归档记录
	listRec := httptest.NewRecorder()
	env.router.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/archive", nil))
	var result repository.ListResult
	if err := json.Unmarshal(listRec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if result.TotalItems != 0 {
		t.Fatalf("expected empty archive, got %d items", result.TotalItems)
	}
}

func TestAudioHandler_Upload_MissingFileField(t *testing.T) {
	env := newTestEnv(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	_ = writer.WriteField("comment", "no file here")
	_ = writer.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestAudioHandler_Upload_RejectsOversizedFile(t *testing.T) {
	env := newTestEnv(t)
	env.cfg.MaxUploadBytes = 3

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, newUploadRequest(t, "big.mp3", "audio/mpeg", []byte("hello")))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestAudioHandler_GetFile(t *testing.T) {
	env := newTestEnv(t)
	uploaded := uploadTrack(t, env, "song.mp3", []byte("hello"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+uploaded.ID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var record repository.AudioRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.ID != uploaded.ID {
		t.Fatalf("unexpected id %q", record.ID)
	}
}

func TestAudioHandler_GetFile_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/deadbeef", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAudioHandler_Stream_FullAndPartial(t *testing.T) {
	env := newTestEnv(t)
	uploaded := uploadTrack(t, env, "song.mp3", []byte("hello"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/"+uploaded.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("full stream: expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Fatalf("full stream: unexpected body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Accept-Ranges"); got != "bytes" {
		t.Fatalf("full stream: unexpected Accept-Ranges %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uploaded.ID, nil)
	req.Header.Set("Range", "bytes=1-3")
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusPartialContent {
		t.Fatalf("partial stream: expected 206, got %d", rec.Code)
	}
	if rec.Body.String() != "ell" {
		t.Fatalf("partial stream: unexpected body %q", rec.Body.String())
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 1-3/5" {
		t.Fatalf("partial stream: unexpected Content-Range %q", got)
	}
}

func TestAudioHandler_Stream_UnsatisfiableRange(t *testing.T) {
	env := newTestEnv(t)
	uploaded := uploadTrack(t, env, "song.mp3", []byte("hello"))

	req := httptest.NewRequest(http.MethodGet, "/stream/"+uploaded.ID, nil)
	req.Header.Set("Range", "bytes=500-")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestedRangeNotSatisfiable {
		t.Fatalf("expected 416, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes */5" {
		t.Fatalf("unexpected Content-Range %q", got)
	}
}

func TestAudioHandler_Stream_NotFound(t *testing.T) {
	env := newTestEnv(t)

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stream/deadbeef", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAudioHandler_Archive_SearchAndSort(t *testing.T) {
	env := newTestEnv(t)
	uploadTrack(t, env, "beta.mp3", []byte("bb"))
	uploadTrack(t, env, "alpha.mp3", []byte("aaa"))
	uploadTrack(t, env, "gamma.mp3", []byte("g"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/archive?sortBy=filename&sortOrder=asc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var result repository.ListResult
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if result.TotalItems != 3 || result.Page != 1 || result.TotalPages != 1 {
		t.Fatalf("unexpected pagination: %+v", result)
	}
	if len(result.Files) != 3 || result.Files[0].OriginalName != "alpha.mp3" {
		t.Fatalf("unexpected sort order: %+v", result.Files)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/archive?search=beta", nil))
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode archive: %v", err)
	}
	if result.TotalItems != 1 || result.Files[0].OriginalName != "beta.mp3" {
		t.Fatalf("unexpected search result: %+v", result)
	}
}

func TestAudioHandler_AlbumArt(t *testing.T) {
	env := newTestEnv(t)

	jpeg := []byte{0xff, 0xd8, 0xff, 0xdb}
	if _, err := env.store.Write(context.Background(), "album-art/cover.jpg", bytes.NewReader(jpeg)); err != nil {
		t.Fatalf("seed album art: %v", err)
	}

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/album-art/cover.jpg", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Fatalf("unexpected Content-Type %q", got)
	}
	if !bytes.Equal(rec.Body.Bytes(), jpeg) {
		t.Fatal("album art body mismatch")
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/album-art/missing.jpg", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing art, got %d", rec.Code)
	}
}

func TestAudioHandler_DeleteFile(t *testing.T) {
	env := newTestEnv(t)
	uploaded := uploadTrack(t, env, "song.mp3", []byte("hello"))

	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/files/"+uploaded.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/"+uploaded.ID, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted file should 404, got %d", rec.Code)
	}
}
