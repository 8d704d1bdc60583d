package report

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
)

const topCustomerCount = 5

type SalesLister interface {
	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
}

// DayWindow resolves a YYYY-MM-DD date, or today when empty, to the local
// midnight-to-midnight range in loc.
func DayWindow(date string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	var day time.Time
	if strings.TrimSpace(date) == "" {
		local := now.In(loc)
		day = time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	} else {
		parsed, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}
	return day, day.AddDate(0, 0, 1), nil
}

// Daily builds the report for sales created in [from, to).
func Daily(ctx context.Context, sales SalesLister, from time.Time, to time.Time) (domain.SalesReport, error) {
	list, err := sales.ListSales(ctx, domain.SaleFilter{From: from, To: to})
	if err != nil {
		return domain.SalesReport{}, err
	}
	report := BuildSalesReport(list, from, to)
	report.Date = from.Format("2006-01-02")
	return report, nil
}

// BuildSalesReport rolls up sales created in [from, to).
func BuildSalesReport(sales []domain.Sale, from time.Time, to time.Time) domain.SalesReport {
	report := domain.SalesReport{
		From:              from,
		To:                to,
		Revenue:           decimal.Zero,
		Tax:               decimal.Zero,
		AmountPaid:        decimal.Zero,
		OutstandingAmount: decimal.Zero,
		ByItem:            []domain.ReportItemSummary{},
		ByPayment:         []domain.ReportPaymentSummary{},
		TopCustomers:      []domain.ReportCustomerSummary{},
	}

	itemOrder := make([]string, 0)
	items := make(map[string]*domain.ReportItemSummary)
	paymentOrder := make([]string, 0)
	payments := make(map[string]*domain.ReportPaymentSummary)
	customerOrder := make([]string, 0)
	customers := make(map[string]*domain.ReportCustomerSummary)

	for _, sale := range sales {
		report.SalesCount++
		report.Revenue = report.Revenue.Add(sale.Total)
		report.Tax = report.Tax.Add(sale.Tax)
		report.AmountPaid = report.AmountPaid.Add(sale.AmountPaid)
		if sale.Balance.IsPositive() {
			report.OutstandingAmount = report.OutstandingAmount.Add(sale.Balance)
		}

		for _, line := range sale.Items {
			report.ItemsSold += line.Quantity
			entry, ok := items[line.ItemCode]
			if !ok {
				entry = &domain.ReportItemSummary{ItemCode: line.ItemCode, Name: line.Name, Revenue: decimal.Zero}
				items[line.ItemCode] = entry
				itemOrder = append(itemOrder, line.ItemCode)
			}
			entry.Quantity += line.Quantity
			entry.Revenue = entry.Revenue.Add(line.Total)
		}

		payment, ok := payments[sale.PaymentMethod]
		if !ok {
			payment = &domain.ReportPaymentSummary{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			payments[sale.PaymentMethod] = payment
			paymentOrder = append(paymentOrder, sale.PaymentMethod)
		}
		payment.Sales++
		payment.Total = payment.Total.Add(sale.Total)

		if sale.Customer == "" && sale.CustomerName == "" {
			continue
		}
		key := sale.Customer
		if key == "" {
			key = "name:" + sale.CustomerName
		}
		customer, ok := customers[key]
		if !ok {
			customer = &domain.ReportCustomerSummary{Customer: sale.Customer, Name: sale.CustomerName, Total: decimal.Zero}
			customers[key] = customer
			customerOrder = append(customerOrder, key)
		}
		customer.Sales++
		customer.Total = customer.Total.Add(sale.Total)
	}

	for _, code := range itemOrder {
		report.ByItem = append(report.ByItem, *items[code])
	}
	sort.SliceStable(report.ByItem, func(i, j int) bool {
		return report.ByItem[i].Revenue.GreaterThan(report.ByItem[j].Revenue)
	})

	for _, method := range paymentOrder {
		report.ByPayment = append(report.ByPayment, *payments[method])
	}

	for _, key := range customerOrder {
		report.TopCustomers = append(report.TopCustomers, *customers[key])
	}
	sort.SliceStable(report.TopCustomers, func(i, j int) bool {
		return report.TopCustomers[i].Total.GreaterThan(report.TopCustomers[j].Total)
	})
	if len(report.TopCustomers) > topCustomerCount {
		report.TopCustomers = report.TopCustomers[:topCustomerCount]
	}
	return report
}

type htmlView struct {
	ShopName string
	Report   domain.SalesReport
}

// html/template escapes item and customer names.
var salesReportHTMLTmpl = template.Must(template.New("sales-report").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.ShopName}} sales report {{.Report.Date}}</title>
  <style>
    body { font-family: sans-serif; margin: 24px; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 13px; }
    td.num { text-align: right; }
    h2, h3 { margin-bottom: 4px; }
  </style>
</head>
<body>
  <h2>{{.ShopName}} daily sales report {{.Report.Date}}</h2>
  <p>Sales: {{.Report.SalesCount}} | Items sold: {{.Report.ItemsSold}}</p>
  <p>Revenue: {{money .Report.Revenue}} | Tax: {{money .Report.Tax}} | Paid: {{money .Report.AmountPaid}} | Outstanding: {{money .Report.OutstandingAmount}}</p>

  <h3>Items</h3>
  <table>
    <thead><tr><th>Code</th><th>Item</th><th>Qty</th><th>Revenue</th></tr></thead>
    <tbody>{{range .Report.ByItem}}<tr><td>{{.ItemCode}}</td><td>{{.Name}}</td><td class="num">{{.Quantity}}</td><td class="num">{{money .Revenue}}</td></tr>{{else}}<tr><td colspan="4">No sales</td></tr>{{end}}</tbody>
  </table>

  <h3>Payment methods</h3>
  <table>
    <thead><tr><th>Method</th><th>Sales</th><th>Total</th></tr></thead>
    <tbody>{{range .Report.ByPayment}}<tr><td>{{.PaymentMethod}}</td><td class="num">{{.Sales}}</td><td class="num">{{money .Total}}</td></tr>{{end}}</tbody>
  </table>

  <h3>Top customers</h3>
  <table>
    <thead><tr><th>Customer</th><th>Sales</th><th>Total</th></tr></thead>
    <tbody>{{range .Report.TopCustomers}}<tr><td>{{.Name}}</td><td class="num">{{.Sales}}</td><td class="num">{{money .Total}}</td></tr>{{end}}</tbody>
  </table>
</body>
</html>
`))

func RenderHTML(shopName string, report domain.SalesReport) (string, error) {
	var buf bytes.Buffer
	if err := salesReportHTMLTmpl.Execute(&buf, htmlView{ShopName: shopName, Report: report}); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func Subject(shopName string, report domain.SalesReport) string {
	return shopName + " daily sales report " + report.Date
}
