package instrument

import (
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

const minISINLength = 12

// StructuralError 表示分组实际订单数与声明数量不一致。只记录日志，不向调用方返回。
type StructuralError struct {
	ISIN     string
	Expected int
	Actual   int
	Row      RowRef
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("ISIN %s 声明 %d 笔订单，实际读取 %d 笔 (行 %d)", e.ISIN, e.Expected, e.Actual, e.Row)
}

// Builder 根据上游逐行事件构建 Group 列表。
type Builder struct {
	logger    *zap.Logger
	groups    []*Group
	current   *Group
	anomalies []StructuralError
	dropped   int
}

// NewBuilder 创建分组构建器。
func NewBuilder(logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{logger: logger}
}

// StartGroup 开启一个新的 ISIN 分组，并结束上一个分组。
// 不合法的 ISIN（少于 12 位或含非字母数字字符）会被丢弃，其后的订单行一并忽略。
func (b *Builder) StartGroup(isin string, expectedOrderCount int, ref RowRef) bool {
	if expectedOrderCount < 0 {
		panic(fmt.Sprintf("instrument: ISIN %s 的订单数量不能为负: %d", isin, expectedOrderCount))
	}

	b.closeCurrent()

	isin = strings.TrimSpace(isin)
	if !validISIN(isin) {
		b.logger.Info("丢弃不合法的 ISIN",
			zap.String("isin", isin),
			zap.Int("row", int(ref)),
		)
		return false
	}

	b.current = &Group{
		ISIN:               isin,
		ExpectedOrderCount: expectedOrderCount,
		Orders:             make([]*Order, 0, expectedOrderCount),
		SourceRowRef:       ref,
	}
	return true
}

// AddOrder 将订单加入当前分组。分组已满或没有打开的分组时返回 false。
func (b *Builder) AddOrder(order Order) bool {
	if b.current == nil || len(b.current.Orders) >= b.current.ExpectedOrderCount {
		b.dropped++
		b.logger.Debug("忽略分组之外的订单行",
			zap.Int("row", int(order.RowRef)),
			zap.String("order", order.OrderNumber),
		)
		return false
	}

	o := order
	o.IsVirtual = false
	b.current.Orders = append(b.current.Orders, &o)
	return true
}

// Build 结束最后一个分组并返回全部分组。
func (b *Builder) Build() []*Group {
	b.closeCurrent()
	return b.groups
}

// Anomalies 返回构建过程中发现的结构性异常。
func (b *Builder) Anomalies() []StructuralError {
	return b.anomalies
}

// Dropped 返回被忽略的订单行数量。
func (b *Builder) Dropped() int {
	return b.dropped
}

func (b *Builder) closeCurrent() {
	g := b.current
	if g == nil {
		return
	}
	b.current = nil

	switch actual := len(g.Orders); {
	case actual != g.ExpectedOrderCount:
		structErr := StructuralError{
			ISIN:     g.ISIN,
			Expected: g.ExpectedOrderCount,
			Actual:   actual,
			Row:      g.SourceRowRef,
		}
		b.anomalies = append(b.anomalies, structErr)
		b.logger.Warn("分组订单数量不一致，使用虚拟订单替代",
			zap.String("isin", g.ISIN),
			zap.Int("expected", g.ExpectedOrderCount),
			zap.Int("actual", actual),
			zap.Int("row", int(g.SourceRowRef)),
			zap.Error(&structErr),
		)
		g.Orders = []*Order{VirtualOrder(g)}
	case actual == 0:
		b.logger.Debug("ISIN 没有订单，仅校验登记状态", zap.String("isin", g.ISIN))
		g.Orders = []*Order{VirtualOrder(g)}
	}

	b.groups = append(b.groups, g)
}

// VirtualOrder 构造仅用于登记存在性校验的虚拟订单，不参与行标注。
func VirtualOrder(g *Group) *Order {
	return &Order{
		RowRef:      g.SourceRowRef,
		OrderNumber: "VIRTUAL_" + g.ISIN,
		MarketCode:  OffExchangeMarket,
		IsVirtual:   true,
	}
}

func validISIN(isin string) bool {
	if len(isin) < minISINLength {
		return false
	}
	for _, r := range isin {
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			return false
		}
	}
	return true
}
