package registry

import (
	"context"
	"strings"
	"time"
)

// Lookup 查询单个 ISIN 的登记信息。同一次运行内对同一 ISIN 的重复调用返回同一结果。
type Lookup interface {
	Lookup(ctx context.Context, isin string) *Result
}

// ErrorKind 区分查询失败的类型。ErrorNone 同时涵盖"已登记"和"未登记"两种正常结果。
type ErrorKind int

const (
	ErrorNone ErrorKind = iota
	ErrorTransport
	ErrorMalformedPayload
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorNone:
		return "none"
	case ErrorTransport:
		return "transport"
	case ErrorMalformedPayload:
		return "malformed_payload"
	default:
		return "unknown"
	}
}

// Date 是登记册返回的日期字段。Raw 为空表示字段缺失；Raw 非空但 Valid 为 false 表示无法解析。
type Date struct {
	Raw   string
	Time  time.Time
	Valid bool
}

// Present 判断字段是否出现在返回中。
func (d Date) Present() bool {
	return d.Raw != ""
}

// Record 对应登记册中的一条交易场所记录。
type Record struct {
	ISIN            string
	TradingVenueMIC string
	TradingStart    Date
	Maturity        Date
	Termination     Date
}

// Result 为一次查询的归一化结果，写入缓存后只读。
type Result struct {
	ISIN      string
	Found     bool
	Records   []Record
	ErrorKind ErrorKind
	// Err 记录失败原因，仅在 ErrorKind 不为 ErrorNone 时设置。
	Err error
}

// Outcome 返回用于指标和事件的结果标签。
func (r *Result) Outcome() string {
	switch {
	case r.ErrorKind != ErrorNone:
		return r.ErrorKind.String()
	case r.Found:
		return "found"
	default:
		return "not_found"
	}
}

// TransportResult 构造一个传输失败结果。
func TransportResult(isin string, err error) *Result {
	return &Result{ISIN: isin, ErrorKind: ErrorTransport, Err: err}
}

// NormalizeISIN 统一 ISIN 的缓存键。
func NormalizeISIN(isin string) string {
	return strings.ToUpper(strings.TrimSpace(isin))
}

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// ParseDate 解析登记册日期，接受 RFC3339、"YYYY-MM-DD HH:MM:SS[.fff]" 和以 "YYYY-MM-DD" 开头的字符串。
func ParseDate(raw string) Date {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Date{}
	}

	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return Date{Raw: raw, Time: t.UTC(), Valid: true}
	}

	trimmed := raw
	if idx := strings.IndexByte(trimmed, '.'); idx > 0 {
		trimmed = trimmed[:idx]
	}
	if t, err := time.Parse(dateTimeLayout, trimmed); err == nil {
		return Date{Raw: raw, Time: t, Valid: true}
	}

	if len(raw) >= len(dateLayout) {
		if t, err := time.Parse(dateLayout, raw[:len(dateLayout)]); err == nil {
			return Date{Raw: raw, Time: t, Valid: true}
		}
	}

	return Date{Raw: raw}
}

type searchRequest struct {
	Core       string      `json:"core"`
	PagingSize string      `json:"pagingSize"`
	Start      int         `json:"start"`
	Keyword    string      `json:"keyword"`
	SortField  string      `json:"sortField"`
	Criteria   []criterion `json:"criteria"`
	WT         string      `json:"wt"`
}

type criterion struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Type     string `json:"type"`
	IsParent bool   `json:"isParent"`
}

type searchResponse struct {
	Response *searchBody `json:"response"`
}

type searchBody struct {
	NumFound *int       `json:"numFound"`
	Docs     []document `json:"docs"`
}

type document struct {
	ISIN                string `json:"isin"`
	MIC                 string `json:"mic"`
	TradingStartDate    string `json:"mrkt_trdng_start_date"`
	MaturityDate        string `json:"bnd_maturity_date"`
	TradingTerminalDate string `json:"mrkt_trdng_trmination_date"`
}

func (d document) toRecord(isin string) Record {
	recordISIN := strings.TrimSpace(d.ISIN)
	if recordISIN == "" {
		recordISIN = isin
	}
	return Record{
		ISIN:            recordISIN,
		TradingVenueMIC: strings.TrimSpace(d.MIC),
		TradingStart:    ParseDate(d.TradingStartDate),
		Maturity:        ParseDate(d.MaturityDate),
		Termination:     ParseDate(d.TradingTerminalDate),
	}
}
