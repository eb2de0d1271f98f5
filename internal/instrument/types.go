package instrument

import (
	"strings"
	"time"
)

// ControlCount 为每个订单需要执行的控制数量。
const ControlCount = 4

// OffExchangeMarket 表示场外交易，不做交易场所精确匹配。
const OffExchangeMarket = "XOFF"

// Verdict 表示单个控制的结论。
type Verdict int

const (
	NotEvaluated Verdict = iota
	Passed
	Failed
)

// String 实现 fmt.Stringer。
func (v Verdict) String() string {
	switch v {
	case Passed:
		return "passed"
	case Failed:
		return "failed"
	default:
		return "not_evaluated"
	}
}

// RowRef 为上游表格中的行引用，核心逻辑不解析其含义。
type RowRef int

// Order 代表 ISIN 分组下的一笔订单。
type Order struct {
	RowRef      RowRef
	OrderNumber string
	// MarketCode 为原始市场字段，可能带有括号描述，例如 "MTAA(MTA)"。
	MarketCode string
	// ExecutedAt 为本地墙上时间；零值表示缺失或无法解析。
	ExecutedAt time.Time
	Controls   [ControlCount]Verdict
	APIError   bool
	IsVirtual  bool
}

// Group 聚合同一 ISIN 的订单。
type Group struct {
	ISIN               string
	ExpectedOrderCount int
	Orders             []*Order
	SourceRowRef       RowRef
}

// Market 返回括号之前的市场代码。
func (o *Order) Market() string {
	return ExtractMarketCode(o.MarketCode)
}

// HasExecutionTime 判断执行时间是否可用。
func (o *Order) HasExecutionTime() bool {
	return !o.ExecutedAt.IsZero()
}

// Control 返回第 n 个控制（从 1 开始）的结论。
func (o *Order) Control(n int) Verdict {
	if n < 1 || n > ControlCount {
		panic("instrument: control index out of range")
	}
	return o.Controls[n-1]
}

// SetControl 记录第 n 个控制的结论。
func (o *Order) SetControl(n int, v Verdict) {
	if n < 1 || n > ControlCount {
		panic("instrument: control index out of range")
	}
	o.Controls[n-1] = v
}

// Outcome 返回首个失败或出错的控制序号，0 表示全部通过或尚未评估。
func (o *Order) Outcome() (index int, errored bool) {
	if o.APIError {
		return 1, true
	}
	for i, v := range o.Controls {
		if v == Failed {
			return i + 1, false
		}
	}
	return 0, false
}

// FullyPassed 判断四个控制是否全部通过。
func (o *Order) FullyPassed() bool {
	for _, v := range o.Controls {
		if v != Passed {
			return false
		}
	}
	return true
}

// ExtractMarketCode 去除括号及其内容，只保留市场代码前缀。
func ExtractMarketCode(raw string) string {
	code := strings.TrimSpace(raw)
	if idx := strings.Index(code, "("); idx >= 0 {
		code = strings.TrimSpace(code[:idx])
	}
	return code
}

// UniqueISINs 按首次出现顺序返回去重后的 ISIN。
func UniqueISINs(groups []*Group) []string {
	seen := make(map[string]struct{}, len(groups))
	isins := make([]string, 0, len(groups))
	for _, g := range groups {
		if g == nil || g.ISIN == "" {
			continue
		}
		if _, ok := seen[g.ISIN]; ok {
			continue
		}
		seen[g.ISIN] = struct{}{}
		isins = append(isins, g.ISIN)
	}
	return isins
}
