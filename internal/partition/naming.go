// Package partition routes reads and writes across time-partitioned DuckDB
// store files. Each partition is one store file named after the date range
// it covers; writes land in exactly one partition, reads fan out and merge.
package partition

import (
	"fmt"
	"strings"
	"time"

	"datagate/internal/domain"
)

// Strategy determines how the partition column maps to a partition.
type Strategy string

const (
	StrategyYearly  Strategy = "yearly"
	StrategyMonthly Strategy = "monthly"
	StrategyWeekly  Strategy = "weekly"
	StrategyDaily   Strategy = "daily"
)

// ParseStrategy validates a strategy name from configuration.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyYearly, StrategyMonthly, StrategyWeekly, StrategyDaily:
		return Strategy(s), nil
	default:
		return "", domain.ErrValidation("unknown partition strategy %q", s)
	}
}

// Name returns the partition holding the given instant. Weekly partitions
// use the ISO week number.
func (s Strategy) Name(t time.Time) string {
	t = t.UTC()
	switch s {
	case StrategyYearly:
		return fmt.Sprintf("partition_%04d", t.Year())
	case StrategyMonthly:
		return fmt.Sprintf("partition_%04d_%02d", t.Year(), int(t.Month()))
	case StrategyWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("partition_%04d_w%02d", year, week)
	case StrategyDaily:
		return fmt.Sprintf("partition_%04d_%02d_%02d", t.Year(), int(t.Month()), t.Day())
	default:
		return ""
	}
}

// Range parses a partition name back to its half-open date range
// [start, end). Fails on names that do not belong to the strategy.
func (s Strategy) Range(name string) (start, end time.Time, err error) {
	body, ok := strings.CutPrefix(name, "partition_")
	if !ok {
		return time.Time{}, time.Time{}, domain.ErrValidation("malformed partition name %q", name)
	}

	switch s {
	case StrategyYearly:
		var year int
		if _, err := fmt.Sscanf(body, "%4d", &year); err != nil || len(body) != 4 {
			return time.Time{}, time.Time{}, domain.ErrValidation("malformed yearly partition name %q", name)
		}
		start = time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0), nil

	case StrategyMonthly:
		var year, month int
		if _, err := fmt.Sscanf(body, "%4d_%2d", &year, &month); err != nil || month < 1 || month > 12 {
			return time.Time{}, time.Time{}, domain.ErrValidation("malformed monthly partition name %q", name)
		}
		start = time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0), nil

	case StrategyWeekly:
		var year, week int
		if _, err := fmt.Sscanf(body, "%4d_w%2d", &year, &week); err != nil || week < 1 || week > 53 {
			return time.Time{}, time.Time{}, domain.ErrValidation("malformed weekly partition name %q", name)
		}
		start = isoWeekStart(year, week)
		return start, start.AddDate(0, 0, 7), nil

	case StrategyDaily:
		var year, month, day int
		if _, err := fmt.Sscanf(body, "%4d_%2d_%2d", &year, &month, &day); err != nil || month < 1 || month > 12 || day < 1 || day > 31 {
			return time.Time{}, time.Time{}, domain.ErrValidation("malformed daily partition name %q", name)
		}
		start = time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 0, 1), nil

	default:
		return time.Time{}, time.Time{}, domain.ErrValidation("unknown partition strategy %q", string(s))
	}
}

// isoWeekStart returns the Monday opening the given ISO week.
func isoWeekStart(year, week int) time.Time {
	// January 4th is always inside ISO week 1.
	t := time.Date(year, 1, 4, 0, 0, 0, 0, time.UTC)
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	weekOne := t.AddDate(0, 0, 1-wd)
	return weekOne.AddDate(0, 0, (week-1)*7)
}
