package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"isin-controls/internal/instrument"
)

// Mark 写入首个失败控制所在列的标记。
const Mark = "X"

// Header 是输出表格的列名。control_N 列对应第 N 个控制；
// 登记册查询失败的订单只在 api_error 列标记，不占用 control_1。
var Header = []string{"row", "isin", "order", "market", "control_1", "control_2", "control_3", "control_4", "api_error"}

const firstControlColumn = 4

// Writer 把订单结论写成标注表格，每笔真实订单一行，虚拟订单不输出。
type Writer struct {
	logger *zap.Logger
}

// NewWriter 创建结果写入器。
func NewWriter(logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{logger: logger}
}

// WriteFile 写入到指定路径，必要时创建目录。返回写入的订单行数。
func (w *Writer) WriteFile(path string, groups []*instrument.Group) (int, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("创建输出目录失败: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("创建输出文件失败: %w", err)
	}

	n, err := w.Write(f, groups)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("关闭输出文件失败: %w", closeErr)
	}
	if err != nil {
		return n, err
	}

	w.logger.Info("标注结果已写入", zap.String("path", path), zap.Int("rows", n))
	return n, nil
}

// Write 写入表头及全部真实订单。
func (w *Writer) Write(dst io.Writer, groups []*instrument.Group) (int, error) {
	cw := csv.NewWriter(dst)
	if err := cw.Write(Header); err != nil {
		return 0, fmt.Errorf("写入表头失败: %w", err)
	}

	rows := 0
	for _, group := range groups {
		if group == nil {
			continue
		}
		for _, order := range group.Orders {
			if order.IsVirtual {
				continue
			}
			if err := cw.Write(Row(group.ISIN, order)); err != nil {
				return rows, fmt.Errorf("写入第 %d 行失败: %w", order.RowRef, err)
			}
			rows++
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("写入输出失败: %w", err)
	}
	return rows, nil
}

// Row 构造单笔订单的输出行，最多只有一个标记。
func Row(isin string, order *instrument.Order) []string {
	record := make([]string, len(Header))
	record[0] = strconv.Itoa(int(order.RowRef))
	record[1] = isin
	record[2] = order.OrderNumber
	record[3] = order.Market()

	index, errored := order.Outcome()
	switch {
	case errored:
		record[len(Header)-1] = Mark
	case index > 0:
		record[firstControlColumn+index-1] = Mark
	}
	return record
}
