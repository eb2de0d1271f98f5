package monitor

import (
	"time"
)

// EventType 表示监控事件类型。
type EventType string

const (
	EventRunStarted      EventType = "run_started"
	EventStructuralError EventType = "structural_error"
	EventRegistryError   EventType = "registry_error"
	EventChunkFailure    EventType = "chunk_failure"
	EventRunSummary      EventType = "run_summary"
	EventError           EventType = "error"
)

// Event 封装通用监控事件。
type Event struct {
	RunID     string      `json:"run_id"`
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// RunStartedPayload 记录运行参数。
type RunStartedPayload struct {
	Input       string `json:"input"`
	Output      string `json:"output,omitempty"`
	Environment string `json:"environment"`
}

// StructuralErrorPayload 记录订单数量与声明不一致的分组。
type StructuralErrorPayload struct {
	ISIN     string `json:"isin"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
	Row      int    `json:"row"`
}

// RegistryErrorPayload 记录登记册查询失败的 ISIN。
type RegistryErrorPayload struct {
	ISIN  string `json:"isin"`
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

// ChunkFailurePayload 记录预热阶段的批次失败。
type ChunkFailurePayload struct {
	Error string `json:"error"`
}

// RunSummaryPayload 汇总一次运行。
type RunSummaryPayload struct {
	Groups          int           `json:"groups"`
	Orders          int           `json:"orders"`
	VirtualOrders   int           `json:"virtual_orders"`
	VirtualFlagged  int           `json:"virtual_flagged"`
	UniqueISINs     int           `json:"unique_isins"`
	FullyPassed     int           `json:"fully_passed"`
	APIErrors       int           `json:"api_errors"`
	FailedAt        []int         `json:"failed_at"`
	StructuralError int           `json:"structural_errors"`
	DroppedRows     int           `json:"dropped_rows"`
	CacheSize       int           `json:"cache_size"`
	CacheHits       int64         `json:"cache_hits"`
	RegistryQueries int64         `json:"registry_queries"`
	Duration        time.Duration `json:"duration_ns"`
}

// ErrorPayload 记录异常。
type ErrorPayload struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}
