package input

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"isin-controls/internal/config"
	"isin-controls/internal/instrument"
)

const (
	headerSearchRows = 20
	// 未找到表头时，执行日期与时间位于 I、J 两列。
	defaultDateColumn = 8
	defaultTimeColumn = 9
)

// Columns 记录表头所在行及各字段的列号（从 0 开始，-1 表示缺失）。
type Columns struct {
	HeaderRow   int
	ISIN        int
	Occurrences int
	Order       int
	Market      int
	Date        int
	Time        int
}

// Sheet 是读取结果。
type Sheet struct {
	Groups        []*instrument.Group
	Columns       Columns
	Anomalies     []instrument.StructuralError
	Rows          int
	Dropped       int
	UnparsedTimes int
}

// Reader 读取按 ISIN 分组的订单表格。
type Reader struct {
	cfg    config.InputConfig
	logger *zap.Logger
}

// NewReader 创建表格读取器。
func NewReader(cfg config.InputConfig, logger *zap.Logger) *Reader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{cfg: cfg, logger: logger}
}

// ReadFile 打开并读取表格文件。
func (r *Reader) ReadFile(path string) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开输入文件失败: %w", err)
	}
	defer f.Close()

	sheet, err := r.Read(f)
	if err != nil {
		return nil, fmt.Errorf("读取 %s 失败: %w", path, err)
	}
	return sheet, nil
}

// Read 解析表格：遇到 ISIN 单元格非空的行开启新分组，其后的行作为该分组的订单。
func (r *Reader) Read(src io.Reader) (*Sheet, error) {
	cr := csv.NewReader(src)
	cr.Comma = r.delimiter()
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("解析 CSV 失败: %w", err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}

	cols, err := findColumns(records)
	if err != nil {
		return nil, err
	}
	r.logger.Info("已识别表头",
		zap.Int("row", cols.HeaderRow+1),
		zap.Int("isin", cols.ISIN),
		zap.Int("occurrences", cols.Occurrences),
		zap.Int("order", cols.Order),
		zap.Int("market", cols.Market),
		zap.Int("date", cols.Date),
		zap.Int("time", cols.Time),
	)

	sheet := &Sheet{Columns: cols}
	builder := instrument.NewBuilder(r.logger)
	skipped := 0

	for idx := cols.HeaderRow + 1; idx < len(records); idx++ {
		record := records[idx]
		ref := instrument.RowRef(idx + 1)
		if blank(record) {
			continue
		}
		sheet.Rows++

		if isin := cell(record, cols.ISIN); isin != "" {
			builder.StartGroup(isin, r.occurrences(cell(record, cols.Occurrences), ref), ref)
			continue
		}

		// 有订单号列时，没有订单号的行（备注、小计）不计入订单。
		number := cell(record, cols.Order)
		if number == "" && cols.Order >= 0 {
			skipped++
			r.logger.Debug("忽略无订单号的行", zap.Int("row", int(ref)))
			continue
		}

		order := instrument.Order{
			RowRef:      ref,
			OrderNumber: number,
			MarketCode:  cell(record, cols.Market),
		}
		if order.MarketCode == "" {
			order.MarketCode = instrument.OffExchangeMarket
		}

		date, clock := cell(record, cols.Date), cell(record, cols.Time)
		executed, parseErr := instrument.ParseExecution(date, clock)
		if parseErr != nil {
			sheet.UnparsedTimes++
			r.logger.Debug("执行时间无法解析",
				zap.Int("row", int(ref)),
				zap.String("date", date),
				zap.String("time", clock),
				zap.Error(parseErr),
			)
		} else {
			order.ExecutedAt = executed
		}

		builder.AddOrder(order)
	}

	sheet.Groups = builder.Build()
	sheet.Anomalies = builder.Anomalies()
	sheet.Dropped = builder.Dropped() + skipped

	r.logger.Info("输入读取完成",
		zap.Int("rows", sheet.Rows),
		zap.Int("groups", len(sheet.Groups)),
		zap.Int("structural_errors", len(sheet.Anomalies)),
		zap.Int("dropped_rows", sheet.Dropped),
		zap.Int("unparsed_times", sheet.UnparsedTimes),
	)

	return sheet, nil
}

func (r *Reader) delimiter() rune {
	if r.cfg.Delimiter == "" {
		return ';'
	}
	return rune(r.cfg.Delimiter[0])
}

// occurrences 解析声明的订单数量，为空、无法解析或为负数时按 0 处理，
// 该 ISIN 只以虚拟订单做登记检查。
func (r *Reader) occurrences(raw string, ref instrument.RowRef) int {
	if raw == "" {
		return 0
	}
	if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(strings.ReplaceAll(raw, ",", "."), 64); err == nil && f >= 0 && f == float64(int(f)) {
		return int(f)
	}
	r.logger.Warn("订单数量无法解析，按 0 处理",
		zap.Int("row", int(ref)),
		zap.String("value", raw),
	)
	return 0
}

// findColumns 在前 20 行中查找 ISIN 表头，并在同一行识别其他列。
func findColumns(records [][]string) (Columns, error) {
	limit := len(records)
	if limit > headerSearchRows {
		limit = headerSearchRows
	}

	for rowIdx := 0; rowIdx < limit; rowIdx++ {
		cols := Columns{HeaderRow: rowIdx, ISIN: -1, Occurrences: -1, Order: -1, Market: -1, Date: -1, Time: -1}
		for colIdx, raw := range records[rowIdx] {
			text := strings.ToUpper(strings.TrimSpace(raw))
			switch {
			case text == "":
			case text == "ISIN":
				if cols.ISIN < 0 {
					cols.ISIN = colIdx
				}
			case strings.Contains(text, "OCCORREN") || strings.Contains(text, "OCCURRENCE"):
				if cols.Occurrences < 0 {
					cols.Occurrences = colIdx
				}
			case strings.Contains(text, "NUMERO") && strings.Contains(text, "ORDINE"),
				strings.Contains(text, "ORDER"),
				text == "NUMORD", text == "NUM_ORD":
				if cols.Order < 0 {
					cols.Order = colIdx
				}
			case strings.Contains(text, "MERCATO") || text == "MARKET":
				if cols.Market < 0 {
					cols.Market = colIdx
				}
			case strings.Contains(text, "DATA") && strings.Contains(text, "ESEGUIT"):
				if cols.Date < 0 {
					cols.Date = colIdx
				}
			case strings.HasPrefix(text, "ORA") && strings.Contains(text, "ESEGUIT"):
				if cols.Time < 0 {
					cols.Time = colIdx
				}
			}
		}
		if cols.ISIN < 0 {
			continue
		}

		if cols.Occurrences < 0 {
			cols.Occurrences = cols.ISIN + 1
		}
		if cols.Date < 0 {
			cols.Date = defaultDateColumn
		}
		if cols.Time < 0 {
			cols.Time = defaultTimeColumn
		}
		return cols, nil
	}

	return Columns{}, errors.New("前 20 行中未找到 ISIN 表头")
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
