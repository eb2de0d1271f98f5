package instrument

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsableTimestamp 表示执行日期或时间无法识别。
var ErrUnparsableTimestamp = errors.New("instrument: 无法解析执行时间")

var dateLayouts = []string{
	"02/01/2006",
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
}

var clockLayouts = []string{
	"15:04:05",
	"15:04:05.999999999",
	"15.04.05",
	"15.04.05.999999999",
	"15:04",
}

// ParseExecution 合并执行日期与执行时间两列，返回本地墙上时间。
// 时间列可能是 "18:30:00"、"18.30.00.000000"、"18.30.00" 或表格中的日内小数（0.5 表示 12:00）。
func ParseExecution(date, clock string) (time.Time, error) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" || clock == "" {
		return time.Time{}, fmt.Errorf("%w: 日期=%q 时间=%q", ErrUnparsableTimestamp, date, clock)
	}

	day, err := parseDate(date)
	if err != nil {
		return time.Time{}, err
	}

	offset, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}

	return day.Add(offset), nil
}

func parseDate(value string) (time.Time, error) {
	// 表格导出的日期时间字符串只取日期部分
	if idx := strings.IndexAny(value, " T"); idx > 0 {
		value = value[:idx]
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: 日期 %q", ErrUnparsableTimestamp, value)
}

func parseClock(value string) (time.Duration, error) {
	// 日期时间字符串只取时间部分
	if idx := strings.LastIndex(value, " "); idx >= 0 {
		value = value[idx+1:]
	}

	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second +
				time.Duration(t.Nanosecond()), nil
		}
	}

	if fraction, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64); err == nil {
		if fraction < 0 || fraction >= 1 || math.IsNaN(fraction) {
			return 0, fmt.Errorf("%w: 日内小数 %q 越界", ErrUnparsableTimestamp, value)
		}
		seconds := int64(math.Round(fraction * 24 * 60 * 60))
		return time.Duration(seconds) * time.Second, nil
	}

	return 0, fmt.Errorf("%w: 时间 %q", ErrUnparsableTimestamp, value)
}
