package controls

import (
	"context"
	"fmt"
	"strings"
	"time"

	"isin-controls/internal/instrument"
	"isin-controls/internal/localtime"
	"isin-controls/internal/registry"
)

// Decision 是单个控制的判定。
type Decision int

const (
	Pass Decision = iota
	Fail
	// Abort 表示登记册不可用，订单既不通过也不失败。
	Abort
)

// Control 是控制链中的一环，Index 从 1 开始并决定标注所在的列。
type Control struct {
	Index int
	Name  string
	Check func(ev *evaluation) (Decision, string)
}

// Chain 按顺序列出全部控制，评估时遇到首个非通过结果即停止。
var Chain = []Control{
	{Index: 1, Name: "registry_presence", Check: checkPresence},
	{Index: 2, Name: "trading_venue", Check: checkVenue},
	{Index: 3, Name: "admission_date", Check: checkAdmission},
	{Index: 4, Name: "maturity_date", Check: checkMaturity},
}

// evaluation 保存单个订单在控制链中的中间状态。
type evaluation struct {
	ctx      context.Context
	lookup   registry.Lookup
	isin     string
	order    *instrument.Order
	result   *registry.Result
	selected *registry.Record
}

func checkPresence(ev *evaluation) (Decision, string) {
	ev.result = ev.lookup.Lookup(ev.ctx, ev.isin)
	if ev.result == nil {
		return Abort, "登记册未返回结果"
	}
	if ev.result.ErrorKind != registry.ErrorNone {
		return Abort, fmt.Sprintf("登记册查询失败: %s", ev.result.ErrorKind)
	}
	if !ev.result.Found || len(ev.result.Records) == 0 {
		return Fail, "ISIN 未在登记册中登记"
	}
	return Pass, ""
}

func checkVenue(ev *evaluation) (Decision, string) {
	market := ev.order.Market()
	records := ev.result.Records

	if strings.EqualFold(market, instrument.OffExchangeMarket) {
		ev.selected = &records[0]
		return Pass, "场外交易，不校验交易场所"
	}
	if market == "" {
		return Fail, "订单缺少市场代码"
	}

	for i := range records {
		if strings.EqualFold(strings.TrimSpace(records[i].TradingVenueMIC), market) {
			ev.selected = &records[i]
			return Pass, ""
		}
	}
	return Fail, fmt.Sprintf("市场 %s 不在登记的交易场所中", market)
}

func checkAdmission(ev *evaluation) (Decision, string) {
	if !ev.order.HasExecutionTime() {
		return Fail, "缺少有效的执行时间"
	}
	start := ev.selected.TradingStart
	if !start.Present() {
		return Fail, "登记记录缺少上市日期"
	}
	if !start.Valid {
		return Fail, fmt.Sprintf("无法解析上市日期 %q", start.Raw)
	}

	local := toLocalWallClock(start.Time)
	if !ev.order.ExecutedAt.After(local) {
		return Fail, fmt.Sprintf("执行时间 %s 不晚于上市时间 %s", ev.order.ExecutedAt.Format(time.DateTime), local.Format(time.DateTime))
	}
	return Pass, ""
}

func checkMaturity(ev *evaluation) (Decision, string) {
	maturity := ev.selected.Maturity
	if !maturity.Present() {
		maturity = ev.selected.Termination
	}
	if !maturity.Present() {
		return Pass, "登记记录没有到期信息"
	}
	if !maturity.Valid {
		return Fail, fmt.Sprintf("无法解析到期日期 %q", maturity.Raw)
	}
	if !ev.order.HasExecutionTime() {
		return Fail, "缺少有效的执行时间"
	}

	local := toLocalWallClock(maturity.Time)
	if !ev.order.ExecutedAt.Before(local) {
		return Fail, fmt.Sprintf("执行时间 %s 不早于到期时间 %s", ev.order.ExecutedAt.Format(time.DateTime), local.Format(time.DateTime))
	}
	return Pass, ""
}

// toLocalWallClock 将登记册的 UTC 时间转换为与执行时间可比较的本地墙上时间。
func toLocalWallClock(utc time.Time) time.Time {
	return localtime.WallClock(localtime.ToLocal(utc))
}
