package analytics

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
)

// Customer segment thresholds on lifetime spend.
var (
	regularCeiling = decimal.NewFromInt(10000)
	loyalCeiling   = decimal.NewFromInt(50000)
)

const (
	SegmentWalkIn  = "walk-in"
	SegmentRegular = "regular"
	SegmentLoyal   = "loyal"
	SegmentVIP     = "vip"
)

var segmentLabels = map[string]string{
	SegmentWalkIn:  "Walk-in",
	SegmentRegular: "Regular",
	SegmentLoyal:   "Loyal",
	SegmentVIP:     "VIP",
}

// Segment classifies a customer by total spend. A nil customer is a walk-in.
func Segment(customer *domain.Customer) string {
	switch {
	case customer == nil:
		return SegmentWalkIn
	case customer.TotalSpent.LessThan(regularCeiling):
		return SegmentRegular
	case customer.TotalSpent.LessThan(loyalCeiling):
		return SegmentLoyal
	default:
		return SegmentVIP
	}
}

// Options carries the lookups some granularities need.
type Options struct {
	Location      *time.Location
	Customers     map[string]domain.Customer
	CategoryNames map[string]string
	Limit         int
}

func (o Options) location() *time.Location {
	if o.Location == nil {
		return time.UTC
	}
	return o.Location
}

func Summarize(sales []domain.Sale, period Period, from time.Time, to time.Time) domain.AnalyticsSummary {
	summary := domain.AnalyticsSummary{
		Period:            string(period),
		From:              from,
		To:                to,
		Revenue:           decimal.Zero,
		AverageSale:       decimal.Zero,
		OutstandingAmount: decimal.Zero,
	}
	for _, sale := range sales {
		summary.SalesCount++
		summary.ItemsSold += sale.ItemCount()
		summary.Revenue = summary.Revenue.Add(sale.Total)
		if sale.Balance.IsPositive() {
			summary.OutstandingAmount = summary.OutstandingAmount.Add(sale.Balance)
		}
	}
	if summary.SalesCount > 0 {
		summary.AverageSale = summary.Revenue.Div(decimal.NewFromInt(int64(summary.SalesCount))).Round(2)
	}
	return summary
}

// ProfitLoss uses the cost price captured on each line at sale time, so later
// purchase price edits never rewrite historical margins.
func ProfitLoss(sales []domain.Sale, period Period, from time.Time, to time.Time, limit int) domain.ProfitLoss {
	if limit < 1 {
		limit = 10
	}
	result := domain.ProfitLoss{
		Period:        string(period),
		From:          from,
		To:            to,
		Revenue:       decimal.Zero,
		Cost:          decimal.Zero,
		GrossProfit:   decimal.Zero,
		MarginPercent: decimal.Zero,
	}

	order := make([]string, 0)
	lines := make(map[string]*domain.ProfitLine)
	for _, sale := range sales {
		for _, line := range sale.Items {
			cost := line.CostPrice.Mul(decimal.NewFromInt(int64(line.Quantity)))
			result.Revenue = result.Revenue.Add(line.Total)
			result.Cost = result.Cost.Add(cost)

			entry, ok := lines[line.Item]
			if !ok {
				entry = &domain.ProfitLine{ItemCode: line.ItemCode, Name: line.Name, Revenue: decimal.Zero, Cost: decimal.Zero}
				lines[line.Item] = entry
				order = append(order, line.Item)
			}
			entry.Quantity += line.Quantity
			entry.Revenue = entry.Revenue.Add(line.Total)
			entry.Cost = entry.Cost.Add(cost)
		}
	}

	result.GrossProfit = result.Revenue.Sub(result.Cost)
	if result.Revenue.IsPositive() {
		result.MarginPercent = result.GrossProfit.Div(result.Revenue).Mul(decimal.NewFromInt(100)).Round(2)
	}

	top := make([]domain.ProfitLine, 0, len(order))
	for _, id := range order {
		entry := lines[id]
		entry.Profit = entry.Revenue.Sub(entry.Cost)
		top = append(top, *entry)
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Profit.GreaterThan(top[j].Profit) })
	if len(top) > limit {
		top = top[:limit]
	}
	result.TopItems = top
	return result
}

// Group buckets sales by the given granularity. Hour and weekday results always
// contain every slot; payment, item and category results are ordered by revenue
// descending with ties kept in first-seen order.
func Group(sales []domain.Sale, g Granularity, opts Options) []domain.AnalyticsBucket {
	switch g {
	case ByHour:
		return byHour(sales, opts.location())
	case ByWeekday:
		return byWeekday(sales, opts.location())
	case ByDay:
		return byDay(sales, opts.location())
	case ByPaymentMethod:
		acc := newAccumulator()
		for _, sale := range sales {
			acc.addSale(sale.PaymentMethod, sale.PaymentMethod, sale)
		}
		return acc.ranked(0)
	case ByCustomerSegment:
		return bySegment(sales, opts.Customers)
	case ByItem:
		limit := opts.Limit
		if limit < 1 {
			limit = 10
		}
		return byLine(sales, func(line domain.SaleLine) (string, string) {
			return line.ItemCode, line.Name
		}).ranked(limit)
	case ByCategory:
		return byLine(sales, func(line domain.SaleLine) (string, string) {
			if line.Category == "" {
				return "uncategorised", "Uncategorised"
			}
			if name, ok := opts.CategoryNames[line.Category]; ok {
				return line.Category, name
			}
			return line.Category, line.Category
		}).ranked(0)
	}
	return nil
}

func byHour(sales []domain.Sale, loc *time.Location) []domain.AnalyticsBucket {
	acc := newAccumulator()
	for h := 0; h < 24; h++ {
		acc.touch(fmt.Sprintf("%02d", h), fmt.Sprintf("%02d:00", h))
	}
	for _, sale := range sales {
		h := sale.CreatedAt.In(loc).Hour()
		acc.addSale(fmt.Sprintf("%02d", h), "", sale)
	}
	return acc.inOrder()
}

func byWeekday(sales []domain.Sale, loc *time.Location) []domain.AnalyticsBucket {
	days := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday, time.Saturday, time.Sunday}
	acc := newAccumulator()
	for _, d := range days {
		acc.touch(d.String(), d.String())
	}
	for _, sale := range sales {
		acc.addSale(sale.CreatedAt.In(loc).Weekday().String(), "", sale)
	}
	return acc.inOrder()
}

func byDay(sales []domain.Sale, loc *time.Location) []domain.AnalyticsBucket {
	acc := newAccumulator()
	for _, sale := range sales {
		day := sale.CreatedAt.In(loc).Format("2006-01-02")
		acc.addSale(day, day, sale)
	}
	out := acc.inOrder()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func bySegment(sales []domain.Sale, customers map[string]domain.Customer) []domain.AnalyticsBucket {
	acc := newAccumulator()
	for _, key := range []string{SegmentWalkIn, SegmentRegular, SegmentLoyal, SegmentVIP} {
		acc.touch(key, segmentLabels[key])
	}
	for _, sale := range sales {
		var customer *domain.Customer
		if c, ok := customers[sale.Customer]; ok && sale.Customer != "" {
			customer = &c
		}
		acc.addSale(Segment(customer), "", sale)
	}
	return acc.inOrder()
}

// byLine groups line items; a sale counts once per bucket even if it has
// several lines that fall into it.
func byLine(sales []domain.Sale, keyOf func(domain.SaleLine) (string, string)) *accumulator {
	acc := newAccumulator()
	for _, sale := range sales {
		seen := make(map[string]bool, len(sale.Items))
		for _, line := range sale.Items {
			key, label := keyOf(line)
			b := acc.touch(key, label)
			if !seen[key] {
				b.Sales++
				seen[key] = true
			}
			b.Units += line.Quantity
			b.Revenue = b.Revenue.Add(line.Total)
		}
	}
	return acc
}

type accumulator struct {
	order   []string
	buckets map[string]*domain.AnalyticsBucket
}

func newAccumulator() *accumulator {
	return &accumulator{buckets: make(map[string]*domain.AnalyticsBucket)}
}

func (a *accumulator) touch(key string, label string) *domain.AnalyticsBucket {
	b, ok := a.buckets[key]
	if !ok {
		if label == "" {
			label = key
		}
		b = &domain.AnalyticsBucket{Key: key, Label: label, Revenue: decimal.Zero}
		a.buckets[key] = b
		a.order = append(a.order, key)
	}
	return b
}

func (a *accumulator) addSale(key string, label string, sale domain.Sale) {
	b := a.touch(key, label)
	b.Sales++
	b.Units += sale.ItemCount()
	b.Revenue = b.Revenue.Add(sale.Total)
}

func (a *accumulator) inOrder() []domain.AnalyticsBucket {
	out := make([]domain.AnalyticsBucket, 0, len(a.order))
	for _, key := range a.order {
		out = append(out, *a.buckets[key])
	}
	return out
}

func (a *accumulator) ranked(limit int) []domain.AnalyticsBucket {
	out := a.inOrder()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revenue.GreaterThan(out[j].Revenue) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
