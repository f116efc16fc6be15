package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"audioshare/internal/api"
	"audioshare/internal/config"
	"audioshare/internal/database"
	"audioshare/internal/logging"
	"audioshare/internal/migrations"
	"audioshare/internal/repository"
	pgrepo "audioshare/internal/repository/postgres"
	"audioshare/internal/repository/sidecar"
	"audioshare/internal/service"
	"audioshare/internal/storage"
	"audioshare/internal/storage/local"
	"audioshare/internal/storage/s3"
	"audioshare/internal/tags"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Options{
		Level:      cfg.LogLevel,
		OutputPath: cfg.LogFile,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("配置加载完成，开始启动服务",
		zap.String("metadataDriver", cfg.MetadataDriver),
		zap.String("storageDriver", cfg.StorageDriver))

	ctx := context.Background()

	repo, cleanup, err := buildRepository(ctx, cfg)
	if err != nil {
		logger.Fatal("初始化元数据持久层失败", zap.Error(err))
	}
	defer cleanup()

	store, err := buildStorage(ctx, cfg)
	if err != nil {
		logger.Fatal("初始化字节存储失败", zap.Error(err))
	}

	audioService := service.NewAudioService(repo, store, tags.Extractor{}, logger, service.Options{
		IndexFile:        cfg.IndexFile,
		PageSize:         cfg.PageSize,
		StreamChunkBytes: cfg.StreamChunkBytes,
	})

	audioHandler := api.NewAudioHandler(audioService, cfg, logger)
	router := api.NewRouter(cfg, audioHandler)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		ReadTimeout: 5 * time.Minute, // 大文件上传需要宽松的读超时
		IdleTimeout: 120 * time.Second,
		Handler:     router,
	}

	logger.Info("服务监听端口", zap.String("port", cfg.HTTPPort))

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("监听失败", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("优雅关闭失败", zap.Error(err))
	}

	logger.Info("服务已停止")
}

// buildRepository 按配置选择元数据持久层，postgres 模式下启动时自动迁移。
func buildRepository(ctx context.Context, cfg *config.Config) (repository.AudioRepository, func(), error) {
	switch cfg.MetadataDriver {
	case "postgres":
		db, err := database.Connect(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return pgrepo.NewAudioRepository(db), func() { db.Close() }, nil
	case "sidecar":
		return sidecar.New(cfg.MetadataDir), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown metadata driver %q", cfg.MetadataDriver)
	}
}

// buildStorage 按配置选择字节存储后端。
func buildStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageDriver {
	case "s3":
		return s3.New(ctx, s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
			PathStyle: cfg.S3PathStyle,
		})
	case "local":
		return local.New(cfg.StorageDir, ""), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}
}
