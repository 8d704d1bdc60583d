package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidPeriod = errors.New("invalid period")
	ErrInvalidKind   = errors.New("invalid analytics kind")
)

type Period string

const (
	PeriodToday   Period = "today"
	PeriodWeek    Period = "week"
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

// ParsePeriod accepts the query value of ?period=. Empty means today.
func ParsePeriod(raw string) (Period, error) {
	switch p := Period(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PeriodToday, nil
	case PeriodToday, PeriodWeek, PeriodMonth, PeriodQuarter, PeriodYear:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPeriod, raw)
	}
}

// Window returns the half-open range [from, to) the period covers, ending at now.
// Everything except today is a trailing window of whole days.
func (p Period) Window(now time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	to := local
	var from time.Time
	switch p {
	case PeriodWeek:
		from = local.AddDate(0, 0, -7)
	case PeriodMonth:
		from = local.AddDate(0, 0, -30)
	case PeriodQuarter:
		from = local.AddDate(0, 0, -90)
	case PeriodYear:
		from = local.AddDate(0, 0, -365)
	default:
		from = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	}
	return from, to
}

// Kind names one analytics view under /api/analytics/{kind}.
type Kind string

const (
	KindRealtime         Kind = "realtime"
	KindProfitLoss       Kind = "profit-loss"
	KindPeakHours        Kind = "peak-hours"
	KindWeekdays         Kind = "weekdays"
	KindPaymentMethods   Kind = "payment-methods"
	KindCustomerSegments Kind = "customer-segments"
	KindTopItems         Kind = "top-items"
	KindCategories       Kind = "categories"
	KindDaily            Kind = "daily"
)

func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindRealtime, KindProfitLoss, KindPeakHours, KindWeekdays, KindPaymentMethods,
		KindCustomerSegments, KindTopItems, KindCategories, KindDaily:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, raw)
	}
}

// Granularity selects how sales are grouped into buckets.
type Granularity int

const (
	ByHour Granularity = iota
	ByWeekday
	ByDay
	ByPaymentMethod
	ByCustomerSegment
	ByItem
	ByCategory
)

// Granularity returns the bucket function a kind groups by. Kinds that are
// not bucketed (profit-loss) report false.
func (k Kind) Granularity() (Granularity, bool) {
	switch k {
	case KindRealtime, KindPeakHours:
		return ByHour, true
	case KindWeekdays:
		return ByWeekday, true
	case KindDaily:
		return ByDay, true
	case KindPaymentMethods:
		return ByPaymentMethod, true
	case KindCustomerSegments:
		return ByCustomerSegment, true
	case KindTopItems:
		return ByItem, true
	case KindCategories:
		return ByCategory, true
	}
	return 0, false
}
