package analytics

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
)

func sale(at time.Time, method string, customer string, lines ...domain.SaleLine) domain.Sale {
	total := decimal.Zero
	for _, line := range lines {
		total = total.Add(line.Total)
	}
	return domain.Sale{
		Items:         lines,
		Subtotal:      total,
		Total:         total,
		AmountPaid:    total,
		PaymentMethod: method,
		Customer:      customer,
		CreatedAt:     at,
	}
}

func line(item string, qty int, price int64, cost int64) domain.SaleLine {
	return domain.SaleLine{
		Item:      item,
		ItemCode:  item,
		Name:      "Tyre " + item,
		Category:  "cat-" + item,
		Quantity:  qty,
		Price:     decimal.NewFromInt(price),
		CostPrice: decimal.NewFromInt(cost),
		Total:     decimal.NewFromInt(price * int64(qty)),
	}
}

func TestParsePeriod(t *testing.T) {
	p, err := ParsePeriod("")
	if err != nil || p != PeriodToday {
		t.Fatalf("expected empty period to default to today, got %q %v", p, err)
	}
	if p, err := ParsePeriod(" Quarter "); err != nil || p != PeriodQuarter {
		t.Fatalf("expected quarter, got %q %v", p, err)
	}
	if _, err := ParsePeriod("fortnight"); !errors.Is(err, ErrInvalidPeriod) {
		t.Fatalf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestPeriodWindow(t *testing.T) {
	loc := time.FixedZone("LKT", 5*3600+1800)
	now := time.Date(2024, 3, 15, 14, 30, 0, 0, loc)

	from, to := PeriodToday.Window(now, loc)
	if !from.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, loc)) || !to.Equal(now) {
		t.Fatalf("unexpected today window %s - %s", from, to)
	}

	cases := map[Period]int{PeriodWeek: 7, PeriodMonth: 30, PeriodQuarter: 90, PeriodYear: 365}
	for period, days := range cases {
		from, to := period.Window(now, loc)
		if got := int(to.Sub(from).Hours() / 24); got != days {
			t.Fatalf("expected %s to span %d days, got %d", period, days, got)
		}
	}
}

func TestParseKindGranularity(t *testing.T) {
	k, err := ParseKind("peak-hours")
	if err != nil {
		t.Fatalf("parse kind: %v", err)
	}
	if g, ok := k.Granularity(); !ok || g != ByHour {
		t.Fatalf("expected hourly granularity, got %v %t", g, ok)
	}
	if _, ok := KindProfitLoss.Granularity(); ok {
		t.Fatalf("profit-loss should not be bucketed")
	}
	if _, err := ParseKind("forecast"); !errors.Is(err, ErrInvalidKind) {
		t.Fatalf("expected ErrInvalidKind, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	partial := sale(at, domain.PaymentCredit, "", line("A", 2, 100, 60))
	partial.AmountPaid = decimal.NewFromInt(50)
	partial.Balance = decimal.NewFromInt(150)
	sales := []domain.Sale{partial, sale(at, domain.PaymentCash, "", line("B", 1, 100, 70))}

	summary := Summarize(sales, PeriodToday, at, at)
	if summary.SalesCount != 2 || summary.ItemsSold != 3 {
		t.Fatalf("unexpected counts %+v", summary)
	}
	if !summary.Revenue.Equal(decimal.NewFromInt(300)) || !summary.AverageSale.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("unexpected revenue %s avg %s", summary.Revenue, summary.AverageSale)
	}
	if !summary.OutstandingAmount.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected 150 outstanding, got %s", summary.OutstandingAmount)
	}
}

func TestProfitLossUsesLineCostSnapshots(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		sale(at, domain.PaymentCash, "", line("A", 2, 150, 100), line("B", 1, 200, 120)),
		sale(at, domain.PaymentCard, "", line("A", 1, 150, 90)),
	}

	pl := ProfitLoss(sales, PeriodToday, at, at, 10)
	if !pl.Revenue.Equal(decimal.NewFromInt(650)) || !pl.Cost.Equal(decimal.NewFromInt(410)) {
		t.Fatalf("unexpected revenue %s cost %s", pl.Revenue, pl.Cost)
	}
	if !pl.GrossProfit.Equal(decimal.NewFromInt(240)) {
		t.Fatalf("expected gross profit 240, got %s", pl.GrossProfit)
	}
	if !pl.MarginPercent.Equal(decimal.RequireFromString("36.92")) {
		t.Fatalf("expected margin 36.92, got %s", pl.MarginPercent)
	}
	if len(pl.TopItems) != 2 || pl.TopItems[0].ItemCode != "A" || !pl.TopItems[0].Profit.Equal(decimal.NewFromInt(160)) {
		t.Fatalf("unexpected top items %+v", pl.TopItems)
	}
}

func TestGroupByHourHasEverySlot(t *testing.T) {
	loc := time.FixedZone("LKT", 5*3600+1800)
	// 03:00 UTC is 08:30 local.
	at := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)
	buckets := Group([]domain.Sale{sale(at, domain.PaymentCash, "", line("A", 1, 100, 50))}, ByHour, Options{Location: loc})
	if len(buckets) != 24 {
		t.Fatalf("expected 24 hourly buckets, got %d", len(buckets))
	}
	if buckets[8].Sales != 1 || buckets[8].Label != "08:00" {
		t.Fatalf("expected the sale in the 08:00 local bucket, got %+v", buckets[8])
	}
}

func TestGroupByWeekdayStartsMonday(t *testing.T) {
	friday := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	buckets := Group([]domain.Sale{sale(friday, domain.PaymentCash, "", line("A", 1, 100, 50))}, ByWeekday, Options{})
	if len(buckets) != 7 || buckets[0].Key != "Monday" {
		t.Fatalf("unexpected weekday buckets %+v", buckets)
	}
	if buckets[4].Key != "Friday" || buckets[4].Sales != 1 {
		t.Fatalf("expected friday bucket to hold the sale, got %+v", buckets[4])
	}
}

func TestGroupByDaySorted(t *testing.T) {
	d1 := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	d0 := d1.AddDate(0, 0, -1)
	buckets := Group([]domain.Sale{
		sale(d1, domain.PaymentCash, "", line("A", 1, 100, 50)),
		sale(d0, domain.PaymentCash, "", line("A", 1, 100, 50)),
	}, ByDay, Options{})
	if len(buckets) != 2 || buckets[0].Key != "2024-03-14" || buckets[1].Key != "2024-03-15" {
		t.Fatalf("unexpected daily buckets %+v", buckets)
	}
}

func TestTopItemsTiesKeepFirstSeenOrder(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		sale(at, domain.PaymentCash, "", line("B", 1, 100, 50), line("A", 1, 100, 50)),
		sale(at, domain.PaymentCash, "", line("C", 3, 100, 50)),
	}
	buckets := Group(sales, ByItem, Options{Limit: 3})
	if len(buckets) != 3 {
		t.Fatalf("expected 3 items, got %d", len(buckets))
	}
	if buckets[0].Key != "C" || buckets[1].Key != "B" || buckets[2].Key != "A" {
		t.Fatalf("unexpected order %s,%s,%s", buckets[0].Key, buckets[1].Key, buckets[2].Key)
	}

	limited := Group(sales, ByItem, Options{Limit: 1})
	if len(limited) != 1 || limited[0].Key != "C" {
		t.Fatalf("expected limit to keep only C, got %+v", limited)
	}
}

func TestCategoriesUseNames(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{sale(at, domain.PaymentCash, "", line("A", 2, 100, 50), line("A", 1, 100, 50))}
	buckets := Group(sales, ByCategory, Options{CategoryNames: map[string]string{"cat-A": "Passenger"}})
	if len(buckets) != 1 || buckets[0].Label != "Passenger" || buckets[0].Units != 3 || buckets[0].Sales != 1 {
		t.Fatalf("unexpected category buckets %+v", buckets)
	}
}

func TestCustomerSegments(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	customers := map[string]domain.Customer{
		"c1": {ID: "c1", TotalSpent: decimal.NewFromInt(9999)},
		"c2": {ID: "c2", TotalSpent: decimal.NewFromInt(10000)},
		"c3": {ID: "c3", TotalSpent: decimal.NewFromInt(50000)},
	}
	sales := []domain.Sale{
		sale(at, domain.PaymentCash, "", line("A", 1, 100, 50)),
		sale(at, domain.PaymentCash, "c1", line("A", 1, 100, 50)),
		sale(at, domain.PaymentCash, "c2", line("A", 1, 100, 50)),
		sale(at, domain.PaymentCash, "c3", line("A", 1, 100, 50)),
		sale(at, domain.PaymentCash, "missing", line("A", 1, 100, 50)),
	}
	buckets := Group(sales, ByCustomerSegment, Options{Customers: customers})
	want := map[string]int{SegmentWalkIn: 2, SegmentRegular: 1, SegmentLoyal: 1, SegmentVIP: 1}
	if len(buckets) != 4 {
		t.Fatalf("expected four segments, got %+v", buckets)
	}
	for _, b := range buckets {
		if b.Sales != want[b.Key] {
			t.Fatalf("segment %s: expected %d sales, got %d", b.Key, want[b.Key], b.Sales)
		}
	}
}

func TestPaymentMethodsRanked(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	sales := []domain.Sale{
		sale(at, domain.PaymentCash, "", line("A", 1, 100, 50)),
		sale(at, domain.PaymentCard, "", line("A", 3, 100, 50)),
		sale(at, domain.PaymentCash, "", line("A", 1, 100, 50)),
	}
	buckets := Group(sales, ByPaymentMethod, Options{})
	if len(buckets) != 2 || buckets[0].Key != domain.PaymentCard || buckets[1].Sales != 2 {
		t.Fatalf("unexpected payment buckets %+v", buckets)
	}
}
