package controls

import (
	"context"

	"go.uber.org/zap"

	"isin-controls/internal/instrument"
	"isin-controls/internal/metrics"
	"isin-controls/internal/registry"
)

// Summary 汇总一次评估。除 VirtualOrders 与 VirtualFlagged 外，计数只包含真实订单。
type Summary struct {
	Groups         int
	Orders         int
	VirtualOrders  int
	VirtualFlagged int
	FullyPassed    int
	APIErrors      int
	FailedAt       [instrument.ControlCount]int
}

// Evaluator 逐个订单执行控制链，并把结论写回订单。
type Evaluator struct {
	lookup  registry.Lookup
	chain   []Control
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEvaluator 创建评估器。lookup 通常是已预热的 registry.Client。
func NewEvaluator(lookup registry.Lookup, m *metrics.Metrics, logger *zap.Logger) *Evaluator {
	if lookup == nil {
		panic("controls: nil lookup")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{
		lookup:  lookup,
		chain:   Chain,
		metrics: m,
		logger:  logger,
	}
}

// Evaluate 对单个订单执行控制链。虚拟订单只执行登记册存在性控制。
func (e *Evaluator) Evaluate(ctx context.Context, isin string, order *instrument.Order) {
	ev := &evaluation{
		ctx:    ctx,
		lookup: e.lookup,
		isin:   isin,
		order:  order,
	}

	for _, control := range e.chain {
		if order.IsVirtual && control.Index > 1 {
			return
		}

		decision, reason := control.Check(ev)
		switch decision {
		case Abort:
			order.APIError = true
			e.logger.Debug("登记册不可用，订单未评估",
				zap.String("isin", isin),
				zap.String("order", order.OrderNumber),
				zap.String("reason", reason),
			)
			return
		case Fail:
			order.SetControl(control.Index, instrument.Failed)
			e.logger.Debug("订单未通过控制",
				zap.String("isin", isin),
				zap.String("order", order.OrderNumber),
				zap.Int("control", control.Index),
				zap.String("name", control.Name),
				zap.String("reason", reason),
			)
			return
		default:
			order.SetControl(control.Index, instrument.Passed)
		}
	}
}

// Run 依次评估所有分组中的全部订单。
func (e *Evaluator) Run(ctx context.Context, groups []*instrument.Group) Summary {
	var summary Summary

	for _, group := range groups {
		if group == nil {
			continue
		}
		summary.Groups++

		for _, order := range group.Orders {
			e.Evaluate(ctx, group.ISIN, order)
			index, errored := order.Outcome()

			if order.IsVirtual {
				summary.VirtualOrders++
				if index != 0 || errored {
					summary.VirtualFlagged++
				}
				continue
			}

			summary.Orders++
			e.metrics.IncrementOrdersEvaluated()

			switch {
			case errored:
				summary.APIErrors++
				e.metrics.IncrementAPIErrors()
			case index > 0:
				summary.FailedAt[index-1]++
				e.metrics.IncrementControlFailures(index)
			default:
				summary.FullyPassed++
			}
		}
	}

	e.logger.Info("控制评估完成",
		zap.Int("groups", summary.Groups),
		zap.Int("orders", summary.Orders),
		zap.Int("virtual_orders", summary.VirtualOrders),
		zap.Int("virtual_flagged", summary.VirtualFlagged),
		zap.Int("fully_passed", summary.FullyPassed),
		zap.Int("api_errors", summary.APIErrors),
		zap.Ints("failed_at", summary.FailedAt[:]),
	)

	return summary
}
