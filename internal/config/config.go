package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config 聚合服务启动需要的关键配置。
type Config struct {
	HTTPPort           string
	CORSAllowedOrigins []string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
	// 上传限制
	MaxUploadBytes   int64    // 单个音频文件的大小上限
	AllowedMimeTypes []string // 允许的 Content-Type 白名单
	// 档案列表
	PageSize int // 归档列表固定页大小
	// 流式播放
	StreamChunkBytes int64 // Range 请求未指定 end 时的分块上限，0 表示直到文件末尾
	// 元数据持久层
	MetadataDriver string // "sidecar" 或 "postgres"
	MetadataDir    string // sidecar 记录目录，与音频文件同目录存放
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	// 字节存储
	StorageDriver string // "local" 或 "s3"
	StorageDir    string // local 存储根目录
	TempDir       string // 上传中转临时文件目录
	IndexFile     string // audio_files.txt 纯文本索引路径
	S3Endpoint    string // S3/MinIO 端点，不含协议
	S3AccessKey   string
	S3SecretKey   string
	S3Bucket      string
	S3Region      string
	S3UseSSL      bool // 是否使用 HTTPS
	S3PathStyle   bool // 是否使用路径风格访问（MinIO 需要设为 true）
	// 管理端鉴权（仅删除接口）
	AuthEnabled bool
	APIKeys     []string
	// 日志
	LogLevel string
	LogFile  string // 为空时只输出到 stdout
}

// DefaultAllowedMimeTypes 是音频上传的默认 Content-Type 白名单。
var DefaultAllowedMimeTypes = []string{
	"audio/mpeg", "audio/mp3",
	"audio/wav", "audio/x-wav",
	"audio/flac", "audio/x-flac",
	"audio/aac",
	"audio/mp4", "audio/x-m4a",
	"audio/ogg",
}

// Load 从环境变量加载配置，并提供默认值。
// 存在 .env 文件时先行加载，但不覆盖已有环境变量。
func Load() (*Config, error) {
	_ = godotenv.Load()

	port := envOrDefault("PORT", "8080")

	storage := envOrDefault("STORAGE_DIR", "./data")
	if err := ensureDir(storage); err != nil {
		return nil, fmt.Errorf("ensure storage dir: %w", err)
	}

	tempDir := envOrDefault("TEMP_DIR", filepath.Join(storage, "tmp"))
	if err := ensureDir(tempDir); err != nil {
		return nil, fmt.Errorf("ensure temp dir: %w", err)
	}

	metadataDir := envOrDefault("METADATA_DIR", filepath.Join(storage, "audio"))
	if err := ensureDir(metadataDir); err != nil {
		return nil, fmt.Errorf("ensure metadata dir: %w", err)
	}

	corsOrigins := parseList(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if len(corsOrigins) == 0 {
		corsOrigins = []string{"http://localhost:3000"}
	}

	rateLimitRequests, err := parseIntEnv("RATE_LIMIT_REQUESTS", 60)
	if err != nil {
		return nil, err
	}

	rateLimitWindow, err := parseDurationEnv("RATE_LIMIT_WINDOW", time.Minute)
	if err != nil {
		return nil, err
	}

	maxUploadBytes, err := parseInt64Env("MAX_UPLOAD_BYTES", 300<<20)
	if err != nil {
		return nil, err
	}

	allowedTypes := parseList(os.Getenv("ALLOWED_MIME_TYPES"))
	if len(allowedTypes) == 0 {
		allowedTypes = DefaultAllowedMimeTypes
	}

	pageSize, err := parseIntEnv("PAGE_SIZE", 40)
	if err != nil {
		return nil, err
	}

	streamChunkBytes, err := parseInt64Env("STREAM_CHUNK_BYTES", 0)
	if err != nil {
		return nil, err
	}

	dbPort, err := parseIntEnv("DB_PORT", 5432)
	if err != nil {
		return nil, err
	}

	// 管理端鉴权默认关闭；启用时必须配置 API_KEYS
	authEnabled := parseBoolEnv("AUTH_ENABLED", false)
	apiKeys := parseList(os.Getenv("API_KEYS"))
	if authEnabled && len(apiKeys) == 0 {
		return nil, fmt.Errorf("AUTH_ENABLED is set but API_KEYS is empty")
	}

	return &Config{
		HTTPPort:           port,
		CORSAllowedOrigins: corsOrigins,
		RateLimitRequests:  rateLimitRequests,
		RateLimitWindow:    rateLimitWindow,
		MaxUploadBytes:     maxUploadBytes,
		AllowedMimeTypes:   allowedTypes,
		PageSize:           pageSize,
		StreamChunkBytes:   streamChunkBytes,
		MetadataDriver:     envOrDefault("METADATA_DRIVER", "sidecar"),
		MetadataDir:        metadataDir,
		DBHost:             envOrDefault("DB_HOST", "127.0.0.1"),
		DBPort:             dbPort,
		DBUser:             envOrDefault("DB_USER", "audioshare"),
		DBPassword:         envOrDefault("DB_PASSWORD", "audioshare"),
		DBName:             envOrDefault("DB_NAME", "audioshare"),
		DBSSLMode:          envOrDefault("DB_SSL_MODE", "disable"),
		StorageDriver:      envOrDefault("STORAGE_DRIVER", "local"),
		StorageDir:         storage,
		TempDir:            tempDir,
		IndexFile:          envOrDefault("INDEX_FILE", filepath.Join(storage, "audio_files.txt")),
		S3Endpoint:         envOrDefault("S3_ENDPOINT", "localhost:9000"),
		S3AccessKey:        envOrDefault("S3_ACCESS_KEY", "minioadmin"),
		S3SecretKey:        envOrDefault("S3_SECRET_KEY", "minioadmin"),
		S3Bucket:           envOrDefault("S3_BUCKET", "audioshare"),
		S3Region:           envOrDefault("S3_REGION", "us-east-1"),
		S3UseSSL:           parseBoolEnv("S3_USE_SSL", false),
		S3PathStyle:        parseBoolEnv("S3_PATH_STYLE", true),
		AuthEnabled:        authEnabled,
		APIKeys:            apiKeys,
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFile:            os.Getenv("LOG_FILE"),
	}, nil
}

// MimeTypeAllowed 判断 Content-Type 是否在白名单内。
// 比较时忽略大小写与 ";" 之后的参数部分。
func (c *Config) MimeTypeAllowed(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	for _, allowed := range c.AllowedMimeTypes {
		if base == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}

// PostgresDSN 生成标准 postgres:// 连接串，供数据访问层直接使用。
func (c *Config) PostgresDSN() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:   c.DBName,
	}

	q := url.Values{}
	if c.DBSSLMode != "" {
		q.Set("sslmode", c.DBSSLMode)
	}
	u.RawQuery = q.Encode()

	return u.String()
}

func ensureDir(path string) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("path %s exists but is not a directory", path)
		}
		return nil
	}

	if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	}

	return err
}

func parseList(raw string) []string {
	if raw == "" {
		return nil
	}

	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseInt64Env(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value < 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return defaultValue, nil
	}
	return value, nil
}

func parseBoolEnv(key string, defaultValue bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	lower := strings.ToLower(raw)
	return lower == "true" || lower == "1" || lower == "yes"
}

func envOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
