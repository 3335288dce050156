package tools

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// AllowedPeriods 브로커가 받는 캔들 주기(초)
var AllowedPeriods = []int64{5, 10, 15, 30, 60, 120, 180, 240, 300, 600, 900, 1800, 3600, 14400, 86400}

func IsAllowedPeriod(period int64) bool {
	return lo.Contains(AllowedPeriods, period)
}

// ParseTimeframe "60", "5s", "1m", "4h", "1d" 를 초 단위로 바꾼다.
func ParseTimeframe(tf string) (int64, error) {
	tf = strings.TrimSpace(tf)
	if tf == "" {
		return 0, fmt.Errorf("empty timeframe")
	}
	if n, err := strconv.ParseInt(tf, 10, 64); err == nil {
		return checkPeriod(tf, n)
	}

	unit := tf[len(tf)-1]
	n, err := strconv.ParseInt(tf[:len(tf)-1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	switch unit {
	case 's':
	case 'm':
		n *= 60
	case 'h':
		n *= 3600
	case 'd':
		n *= 86400
	default:
		return 0, fmt.Errorf("unsupported timeframe: %s", tf)
	}
	return checkPeriod(tf, n)
}

func checkPeriod(tf string, period int64) (int64, error) {
	if !IsAllowedPeriod(period) {
		return 0, fmt.Errorf("unsupported timeframe: %s (allowed: %v)", tf, AllowedPeriods)
	}
	return period, nil
}

func ParseTimeframeToDuration(tf string) (time.Duration, error) {
	period, err := ParseTimeframe(tf)
	if err != nil {
		return 0, err
	}
	return time.Duration(period) * time.Second, nil
}

// FormatPeriod 60 -> "1m", 14400 -> "4h"
func FormatPeriod(period int64) string {
	switch {
	case period >= 86400 && period%86400 == 0:
		return fmt.Sprintf("%dd", period/86400)
	case period >= 3600 && period%3600 == 0:
		return fmt.Sprintf("%dh", period/3600)
	case period >= 60 && period%60 == 0:
		return fmt.Sprintf("%dm", period/60)
	}
	return fmt.Sprintf("%ds", period)
}
