package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"isin-controls/internal/config"
	"isin-controls/internal/controls"
	"isin-controls/internal/input"
	"isin-controls/internal/instrument"
	"isin-controls/internal/metrics"
	"isin-controls/internal/monitor"
	"isin-controls/internal/registry"
	"isin-controls/internal/report"
	"isin-controls/internal/store"
)

// runResult 汇总一次流水线执行。
type runResult struct {
	Sheet      *input.Sheet
	Summary    controls.Summary
	Cache      registry.CacheStats
	OutputPath string
	OutputRows int
}

// pipeline 串联读取、预热、评估与输出。
type pipeline struct {
	cfg       *config.Config
	reader    *input.Reader
	client    *registry.Client
	batch     *registry.BatchService
	evaluator *controls.Evaluator
	writer    *report.Writer
	monitor   *monitor.Service
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func newPipeline(cfg *config.Config, logger *zap.Logger, store *store.Store) (*pipeline, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.New()

	client, err := registry.NewClient(cfg.Registry, m, logger.Named("registry"))
	if err != nil {
		return nil, fmt.Errorf("初始化登记册客户端失败: %w", err)
	}

	monitorSvc, err := monitor.NewService(store, logger)
	if err != nil {
		return nil, fmt.Errorf("初始化监控服务失败: %w", err)
	}

	return &pipeline{
		cfg:       cfg,
		reader:    input.NewReader(cfg.Input, logger.Named("input")),
		client:    client,
		batch:     registry.NewBatchService(client, cfg.Batch, m, logger.Named("batch")),
		evaluator: controls.NewEvaluator(client, m, logger.Named("controls")),
		writer:    report.NewWriter(logger.Named("report")),
		monitor:   monitorSvc,
		metrics:   m,
		logger:    logger,
	}, nil
}

// Execute 执行一次完整的校验运行。只有输入无法读取或结果无法写出时返回错误。
func (p *pipeline) Execute(ctx context.Context) (*runResult, error) {
	started := time.Now()
	inputPath := p.cfg.Input.Path
	outputPath := p.outputPath()

	p.monitor.RecordRunStarted(ctx, monitor.RunStartedPayload{
		Input:       inputPath,
		Output:      outputPath,
		Environment: p.cfg.App.Environment,
	})

	sheet, err := p.reader.ReadFile(inputPath)
	if err != nil {
		p.monitor.RecordError(ctx, "读取输入失败", err, map[string]interface{}{"path": inputPath})
		return nil, err
	}
	for _, anomaly := range sheet.Anomalies {
		p.monitor.RecordStructuralError(ctx, monitor.StructuralErrorPayload{
			ISIN:     anomaly.ISIN,
			Expected: anomaly.Expected,
			Actual:   anomaly.Actual,
			Row:      int(anomaly.Row),
		})
	}

	isins := instrument.UniqueISINs(sheet.Groups)
	results, err := p.batch.Prewarm(ctx, isins)
	if err != nil {
		p.monitor.RecordChunkFailure(ctx, err)
	}
	p.recordRegistryErrors(ctx, results)

	summary := p.evaluator.Run(ctx, sheet.Groups)

	result := &runResult{
		Sheet:      sheet,
		Summary:    summary,
		OutputPath: outputPath,
	}

	if outputPath != "" {
		rows, writeErr := p.writer.WriteFile(outputPath, sheet.Groups)
		if writeErr != nil {
			p.monitor.RecordError(ctx, "写入标注结果失败", writeErr, map[string]interface{}{"path": outputPath})
			return nil, writeErr
		}
		result.OutputRows = rows
	}

	result.Cache = p.client.CacheStats()
	p.recordSummary(ctx, result, len(isins), time.Since(started))
	return result, nil
}

// outputPath 未配置时在输入文件旁生成 <name>_controls.csv。
func (p *pipeline) outputPath() string {
	if p.cfg.Report.Path != "" {
		return p.cfg.Report.Path
	}
	if p.cfg.Input.Path == "" {
		return ""
	}
	ext := filepath.Ext(p.cfg.Input.Path)
	return strings.TrimSuffix(p.cfg.Input.Path, ext) + "_controls.csv"
}

func (p *pipeline) recordRegistryErrors(ctx context.Context, results map[string]*registry.Result) {
	failed := make([]string, 0)
	for isin, r := range results {
		if r.ErrorKind != registry.ErrorNone {
			failed = append(failed, isin)
		}
	}
	sort.Strings(failed)

	for _, isin := range failed {
		r := results[isin]
		payload := monitor.RegistryErrorPayload{ISIN: isin, Kind: r.ErrorKind.String()}
		if r.Err != nil {
			payload.Error = r.Err.Error()
		}
		p.monitor.RecordRegistryError(ctx, payload)
	}

	if len(failed) > 0 {
		p.logger.Warn("部分 ISIN 查询失败，相关订单将标记为接口错误", zap.Int("isins", len(failed)))
	}
}

func (p *pipeline) recordSummary(ctx context.Context, result *runResult, uniqueISINs int, elapsed time.Duration) {
	s := result.Summary
	payload := monitor.RunSummaryPayload{
		Groups:          s.Groups,
		Orders:          s.Orders,
		VirtualOrders:   s.VirtualOrders,
		VirtualFlagged:  s.VirtualFlagged,
		UniqueISINs:     uniqueISINs,
		FullyPassed:     s.FullyPassed,
		APIErrors:       s.APIErrors,
		FailedAt:        append([]int(nil), s.FailedAt[:]...),
		StructuralError: len(result.Sheet.Anomalies),
		DroppedRows:     result.Sheet.Dropped,
		CacheSize:       result.Cache.Size,
		CacheHits:       result.Cache.Hits,
		RegistryQueries: result.Cache.Misses,
		Duration:        elapsed,
	}
	p.monitor.RecordSummary(ctx, payload)

	p.logger.Info("校验运行完成",
		zap.String("run_id", p.monitor.RunID()),
		zap.Int("groups", payload.Groups),
		zap.Int("orders", payload.Orders),
		zap.Int("unique_isins", payload.UniqueISINs),
		zap.Int("fully_passed", payload.FullyPassed),
		zap.Int("api_errors", payload.APIErrors),
		zap.Ints("failed_at", payload.FailedAt),
		zap.Int("structural_errors", payload.StructuralError),
		zap.Int64("registry_queries", payload.RegistryQueries),
		zap.Int64("cache_hits", payload.CacheHits),
		zap.String("output", result.OutputPath),
		zap.Duration("elapsed", elapsed),
	)
}
