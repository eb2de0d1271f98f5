// Package registrytest 提供内存中的登记册实现，供测试和离线运行使用。
package registrytest

import (
	"context"
	"errors"
	"sync"

	"isin-controls/internal/registry"
)

// Static 是预置结果的 registry.Lookup 实现。未预置的 ISIN 视为未登记。
type Static struct {
	mu      sync.Mutex
	results map[string]*registry.Result
	calls   map[string]int
}

// NewStatic 创建空的 Static。
func NewStatic() *Static {
	return &Static{
		results: make(map[string]*registry.Result),
		calls:   make(map[string]int),
	}
}

// Found 预置已登记结果。
func (s *Static) Found(isin string, records ...registry.Record) *Static {
	return s.set(&registry.Result{ISIN: isin, Found: len(records) > 0, Records: records})
}

// NotFound 预置未登记结果。
func (s *Static) NotFound(isin string) *Static {
	return s.set(&registry.Result{ISIN: isin})
}

// Fail 预置失败结果。
func (s *Static) Fail(isin string, kind registry.ErrorKind) *Static {
	return s.set(&registry.Result{ISIN: isin, ErrorKind: kind, Err: errors.New("registrytest: " + kind.String())})
}

func (s *Static) set(r *registry.Result) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ISIN = registry.NormalizeISIN(r.ISIN)
	s.results[r.ISIN] = r
	return s
}

// Lookup 实现 registry.Lookup。对同一 ISIN 始终返回同一个指针。
func (s *Static) Lookup(_ context.Context, isin string) *registry.Result {
	isin = registry.NormalizeISIN(isin)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[isin]++
	r, ok := s.results[isin]
	if !ok {
		r = &registry.Result{ISIN: isin}
		s.results[isin] = r
	}
	return r
}

// Calls 返回某个 ISIN 的查询次数。
func (s *Static) Calls(isin string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[registry.NormalizeISIN(isin)]
}

// Record 用字符串日期构造记录，空字符串表示字段缺失。
func Record(isin, mic, start, maturity, termination string) registry.Record {
	return registry.Record{
		ISIN:            isin,
		TradingVenueMIC: mic,
		TradingStart:    registry.ParseDate(start),
		Maturity:        registry.ParseDate(maturity),
		Termination:     registry.ParseDate(termination),
	}
}
