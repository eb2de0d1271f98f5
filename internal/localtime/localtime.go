package localtime

import "time"

const (
	// StandardOffset 为冬令时偏移（UTC+1）。
	StandardOffset = 1 * time.Hour
	// SummerOffset 为夏令时偏移（UTC+2）。
	SummerOffset = 2 * time.Hour
)

var (
	standardZone = time.FixedZone("CET", int(StandardOffset/time.Second))
	summerZone   = time.FixedZone("CEST", int(SummerOffset/time.Second))
)

// ToLocal 将 UTC 时刻换算为当地营业时间。
// 三月最后一个周日 02:00 UTC 至十月最后一个周日 01:00 UTC 之间为 UTC+2，其余时间为 UTC+1。
func ToLocal(utc time.Time) time.Time {
	utc = utc.UTC()
	if inSummer(utc) {
		return utc.In(summerZone)
	}
	return utc.In(standardZone)
}

// Offset 返回给定 UTC 时刻适用的偏移量。
func Offset(utc time.Time) time.Duration {
	if inSummer(utc.UTC()) {
		return SummerOffset
	}
	return StandardOffset
}

// WallClock 去掉时区信息，仅保留墙上时间，便于与表格中的本地时间直接比较。
func WallClock(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// LastSunday 从月末向前查找该月最后一个周日。
func LastSunday(year int, month time.Month) time.Time {
	day := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for day.Weekday() != time.Sunday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

func inSummer(utc time.Time) bool {
	year := utc.Year()
	start := LastSunday(year, time.March).Add(2 * time.Hour)
	end := LastSunday(year, time.October).Add(1 * time.Hour)
	return !utc.Before(start) && utc.Before(end)
}
