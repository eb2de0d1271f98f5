package registry

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"isin-controls/internal/config"
	"isin-controls/internal/metrics"
)

const maxWorkers = 16

// seeder 由持有缓存的 Lookup 实现，用于写入失败批次的兜底结果。
type seeder interface {
	Seed(isin string, r *Result) *Result
}

// BatchService 以有限并发预热所有 ISIN 的查询结果。
type BatchService struct {
	lookup  Lookup
	cfg     config.BatchConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewBatchService 创建批量预热服务。
func NewBatchService(lookup Lookup, cfg config.BatchConfig, m *metrics.Metrics, logger *zap.Logger) *BatchService {
	if lookup == nil {
		panic("registry: nil lookup")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchService{
		lookup:  lookup,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Workers 返回工作协程数量，默认 min(2*CPU, 16)，配置值同样不超过 16。
func (s *BatchService) Workers() int {
	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 2 * runtime.NumCPU()
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers
}

// ChunkSize 返回批次大小。未配置时使批次数约为 workers*chunk_multiplier。
func (s *BatchService) ChunkSize(total int) int {
	if s.cfg.ChunkSize > 0 {
		return s.cfg.ChunkSize
	}
	multiplier := s.cfg.ChunkMultiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	chunks := s.Workers() * multiplier
	size := (total + chunks - 1) / chunks
	if size < 1 {
		size = 1
	}
	return size
}

// Prewarm 查询全部 ISIN 并按 ISIN 返回结果。
// 某个批次失败不会影响其他批次，失败批次中尚未缓存的 ISIN 一律记为传输失败。
// 返回的 error 汇总了所有失败批次，此时结果仍然完整。
func (s *BatchService) Prewarm(ctx context.Context, isins []string) (map[string]*Result, error) {
	unique := dedupe(isins)
	results := make(map[string]*Result, len(unique))
	if len(unique) == 0 {
		return results, nil
	}

	chunks := partition(unique, s.ChunkSize(len(unique)))
	workers := s.Workers()

	s.logger.Info("开始预热登记册缓存",
		zap.Int("isins", len(unique)),
		zap.Int("chunks", len(chunks)),
		zap.Int("workers", workers),
	)

	var (
		mu     sync.Mutex
		errs   error
		failed int
	)

	// 不使用 WithContext：单个批次失败不应取消其他批次。
	var group errgroup.Group
	group.SetLimit(workers)

	for index, chunk := range chunks {
		index, chunk := index, chunk
		group.Go(func() error {
			local, err := s.runChunk(ctx, index, chunk)

			mu.Lock()
			defer mu.Unlock()

			for isin, r := range local {
				results[isin] = r
			}
			if err == nil {
				return nil
			}

			errs = multierr.Append(errs, err)
			failed++
			s.metrics.IncrementChunkFailures()
			for _, isin := range chunk {
				if _, ok := results[isin]; ok {
					continue
				}
				results[isin] = s.fallback(isin, err)
			}
			s.logger.Error("批次处理失败，未完成的 ISIN 记为传输失败",
				zap.Int("chunk", index),
				zap.Int("size", len(chunk)),
				zap.Error(err),
			)
			return nil
		})
	}

	_ = group.Wait()

	s.logger.Info("登记册缓存预热完成",
		zap.Int("isins", len(results)),
		zap.Int("failed_chunks", failed),
	)

	if errs != nil {
		return results, fmt.Errorf("预热存在失败批次: %w", errs)
	}
	return results, nil
}

func (s *BatchService) runChunk(ctx context.Context, index int, chunk []string) (local map[string]*Result, err error) {
	local = make(map[string]*Result, len(chunk))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("批次 %d 发生异常: %v", index, r)
		}
	}()

	for _, isin := range chunk {
		result := s.lookup.Lookup(ctx, isin)
		if result == nil {
			return local, fmt.Errorf("批次 %d: ISIN %s 返回空结果", index, isin)
		}
		local[isin] = result
	}
	return local, nil
}

func (s *BatchService) fallback(isin string, cause error) *Result {
	result := TransportResult(isin, fmt.Errorf("%w: %v", ErrRegistryUnavailable, cause))
	if sd, ok := s.lookup.(seeder); ok {
		return sd.Seed(isin, result)
	}
	return result
}

func dedupe(isins []string) []string {
	seen := make(map[string]struct{}, len(isins))
	unique := make([]string, 0, len(isins))
	for _, isin := range isins {
		isin = NormalizeISIN(isin)
		if isin == "" {
			continue
		}
		if _, ok := seen[isin]; ok {
			continue
		}
		seen[isin] = struct{}{}
		unique = append(unique, isin)
	}
	return unique
}

func partition(items []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	chunks := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
