package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"isin-controls/internal/config"
	"isin-controls/internal/metrics"
)

const (
	maxBodyBytes     = 4 << 20
	latestFlagFilter = "(latest_received_flag:1)"
)

// Client 通过 HTTP 查询登记册，并在一次运行内缓存每个 ISIN 的结果。
// 所有外部请求共享一个限速器，相邻两次请求至少间隔 MinInterval。
type Client struct {
	cfg     config.RegistryConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	http    *http.Client
	limiter *rate.Limiter
	cache   *Cache
	markers []string
}

// NewClient 构造登记册客户端。
func NewClient(cfg config.RegistryConfig, m *metrics.Metrics, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("登记册地址不能为空")
	}
	if cfg.PagingSize <= 0 {
		cfg.PagingSize = 50
	}

	limit := rate.Inf
	if cfg.MinInterval > 0 {
		limit = rate.Every(cfg.MinInterval)
	}

	markers := make([]string, 0, len(cfg.OutageMarkers))
	for _, marker := range cfg.OutageMarkers {
		if marker = strings.ToLower(strings.TrimSpace(marker)); marker != "" {
			markers = append(markers, marker)
		}
	}

	return &Client{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, 1),
		cache:   NewCache(),
		markers: markers,
	}, nil
}

// Lookup 返回 ISIN 的登记结果。首次调用发起一次请求，之后直接返回缓存。
func (c *Client) Lookup(ctx context.Context, isin string) *Result {
	isin = NormalizeISIN(isin)

	result, hit := c.cache.Resolve(ctx, isin, c.fetch)
	if hit {
		c.metrics.IncrementCacheHits()
		c.logger.Debug("登记册缓存命中", zap.String("isin", isin), zap.String("outcome", result.Outcome()))
	}
	return result
}

// Seed 在缓存中尚无结果时写入 r，返回最终缓存的结果。
func (c *Client) Seed(isin string, r *Result) *Result {
	return c.cache.Store(NormalizeISIN(isin), r)
}

// CacheStats 返回缓存统计。
func (c *Client) CacheStats() CacheStats {
	return c.cache.Stats()
}

func (c *Client) fetch(ctx context.Context, isin string) *Result {
	if err := c.limiter.Wait(ctx); err != nil {
		result := newResult(isin, nil, fmt.Errorf("%w: 等待限速失败: %v", ErrRegistryUnavailable, err))
		c.report(result, 0, 0)
		return result
	}

	start := time.Now()
	records, status, err := c.query(ctx, isin)
	latency := time.Since(start)

	result := newResult(isin, records, err)
	c.report(result, status, latency)
	return result
}

func (c *Client) query(ctx context.Context, isin string) ([]Record, int, error) {
	body, err := json.Marshal(c.buildRequest(isin))
	if err != nil {
		return nil, 0, fmt.Errorf("序列化查询请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("构造查询请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/plain, */*")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	if c.cfg.Origin != "" {
		req.Header.Set("Origin", c.cfg.Origin)
	}
	if c.cfg.Referer != "" {
		req.Header.Set("Referer", c.cfg.Referer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: 读取响应失败: %v", ErrRegistryUnavailable, err)
	}

	records, err := c.interpret(isin, resp.StatusCode, payload)
	return records, resp.StatusCode, err
}

func (c *Client) buildRequest(isin string) searchRequest {
	return searchRequest{
		Core:       c.cfg.Core,
		PagingSize: strconv.Itoa(c.cfg.PagingSize),
		Start:      0,
		Keyword:    "",
		SortField:  "isin asc",
		Criteria: []criterion{
			{Name: "isin", Value: isin, Type: "text", IsParent: true},
			{Name: c.cfg.LatestFlagField, Value: latestFlagFilter, Type: "customSearchInputFieldQuery", IsParent: true},
		},
		WT: "json",
	}
}

// interpret 依据状态码和响应体得出记录或分类错误。
func (c *Client) interpret(isin string, status int, payload []byte) ([]Record, error) {
	switch {
	case status == http.StatusNotFound:
		return nil, ErrNotFound
	case status >= http.StatusBadRequest:
		return nil, fmt.Errorf("%w: HTTP %d", ErrRegistryUnavailable, status)
	}

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		if c.signalsOutage(trimmed) {
			return nil, fmt.Errorf("%w: 响应包含维护提示", ErrRegistryUnavailable)
		}
		return nil, ErrNotFound
	}

	var decoded searchResponse
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if decoded.Response == nil {
		return nil, fmt.Errorf("%w: 缺少 response 字段", ErrMalformedPayload)
	}

	body := decoded.Response
	if len(body.Docs) > 0 {
		records := make([]Record, 0, len(body.Docs))
		for _, doc := range body.Docs {
			records = append(records, doc.toRecord(isin))
		}
		return records, nil
	}

	switch {
	case body.NumFound == nil:
		return nil, fmt.Errorf("%w: 缺少 numFound 字段", ErrMalformedPayload)
	case *body.NumFound > 0:
		return nil, fmt.Errorf("%w: numFound=%d 但 docs 为空", ErrMalformedPayload, *body.NumFound)
	default:
		return nil, ErrNotFound
	}
}

func (c *Client) signalsOutage(payload []byte) bool {
	if len(c.markers) == 0 || len(payload) == 0 {
		return false
	}
	lower := strings.ToLower(string(payload))
	for _, marker := range c.markers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func (c *Client) report(result *Result, status int, latency time.Duration) {
	c.metrics.ObserveRegistryRequest(result.Outcome(), latency)

	switch result.ErrorKind {
	case ErrorTransport:
		c.logger.Warn("登记册查询失败",
			zap.String("isin", result.ISIN),
			zap.Int("status", status),
			zap.Duration("latency", latency),
			zap.Error(result.Err),
		)
	case ErrorMalformedPayload:
		c.logger.Warn("登记册返回格式异常",
			zap.String("isin", result.ISIN),
			zap.Int("status", status),
			zap.Error(result.Err),
		)
	default:
		c.logger.Debug("登记册查询完成",
			zap.String("isin", result.ISIN),
			zap.Bool("found", result.Found),
			zap.Int("records", len(result.Records)),
			zap.Duration("latency", latency),
		)
	}
}
