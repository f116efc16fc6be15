package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"audioshare/internal/repository"
	"audioshare/internal/storage"
)

var (
	streamsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audioshare_streams_total",
		Help: "Total number of stream requests by outcome.",
	}, []string{"status"})

	streamBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audioshare_stream_bytes_total",
		Help: "Total number of audio bytes streamed to clients.",
	})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audioshare_active_streams",
		Help: "Number of in-flight stream responses.",
	})
)

// rangePlan 是一次流式响应的已决定形态。
type rangePlan struct {
	satisfiable bool
	partial     bool
	start, end  int64
}

// buildRangePlan 根据 Range 头与文件大小决定响应形态。
//
// 规则：
//   - 无 Range 头 → 完整 200 响应；
//   - end 缺失时默认到文件末尾，chunkCap > 0 时裁剪为一个分块；
//   - end 超出文件末尾时裁剪到 size-1；
//   - start > end、start 越界或头部无法解析 → 416。
func buildRangePlan(rangeHeader string, size, chunkCap int64) rangePlan {
	raw := strings.TrimSpace(rangeHeader)
	if raw == "" {
		return rangePlan{satisfiable: true, start: 0, end: size - 1}
	}

	spec, ok := strings.CutPrefix(raw, "bytes=")
	if !ok {
		return rangePlan{}
	}

	startStr, endStr, ok := strings.Cut(spec, "-")
	if !ok {
		return rangePlan{}
	}

	start, err := strconv.ParseInt(strings.TrimSpace(startStr), 10, 64)
	if err != nil || start < 0 {
		return rangePlan{}
	}

	end := size - 1
	if chunkCap > 0 && start+chunkCap-1 < end {
		end = start + chunkCap - 1
	}
	if trimmed := strings.TrimSpace(endStr); trimmed != "" {
		end, err = strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return rangePlan{}
		}
		if end > size-1 {
			end = size - 1
		}
	}

	if start > end || start >= size {
		return rangePlan{}
	}

	return rangePlan{satisfiable: true, partial: true, start: start, end: end}
}

// Stream 将 id 对应的音频负载写入响应，遵循 HTTP Range 语义。
//
// 响应头发出之前的失败（记录缺失、存储打开失败）以 error 形式返回，
// 由 HTTP 层决定状态码；头部发出之后的读取失败只能截断响应并记录日志。
func (s *AudioService) Stream(ctx context.Context, w http.ResponseWriter, id, rangeHeader string) error {
	activeStreams.Inc()
	defer activeStreams.Dec()

	record, err := s.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			streamsTotal.WithLabelValues("not_found").Inc()
		} else {
			streamsTotal.WithLabelValues("error").Inc()
		}
		return err
	}

	plan := buildRangePlan(rangeHeader, record.SizeBytes, s.chunkCap)
	if !plan.satisfiable {
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", record.SizeBytes))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		streamsTotal.WithLabelValues("unsatisfiable").Inc()
		return nil
	}

	var body io.ReadCloser
	if plan.partial {
		body, err = s.store.ReadRange(ctx, record.StorageKey, plan.start, plan.end)
	} else {
		body, err = s.store.Read(ctx, record.StorageKey)
	}
	if err != nil {
		streamsTotal.WithLabelValues("error").Inc()
		if errors.Is(err, storage.ErrNotFound) {
			// 元数据存在但字节缺失：对调用方表现为 404
			return repository.ErrNotFound
		}
		return fmt.Errorf("open payload %s: %w", record.StorageKey, err)
	}
	defer body.Close()

	w.Header().Set("Content-Type", record.MimeType)
	w.Header().Set("Accept-Ranges", "bytes")

	status := http.StatusOK
	length := record.SizeBytes
	if plan.partial {
		status = http.StatusPartialContent
		length = plan.end - plan.start + 1
		w.Header().Set("Content-Range",
			fmt.Sprintf("bytes %d-%d/%d", plan.start, plan.end, record.SizeBytes))
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(status)

	written, err := io.Copy(w, body)
	streamBytesTotal.Add(float64(written))
	if err != nil {
		// 头部已经发出，只能截断；客户端断开也会走到这里
		s.logger.Warn("stream aborted",
			zap.String("id", id),
			zap.Int64("bytesWritten", written),
			zap.Error(err))
		streamsTotal.WithLabelValues("aborted").Inc()
		return nil
	}

	if plan.partial {
		streamsTotal.WithLabelValues("partial").Inc()
	} else {
		streamsTotal.WithLabelValues("full").Inc()
	}

	return nil
}
