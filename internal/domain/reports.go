package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type SalesReport struct {
	From              time.Time               `json:"from"`
	To                time.Time               `json:"to"`
	Date              string                  `json:"date,omitempty"`
	SalesCount        int                     `json:"salesCount"`
	ItemsSold         int                     `json:"itemsSold"`
	Revenue           decimal.Decimal         `json:"revenue"`
	Tax               decimal.Decimal         `json:"tax"`
	AmountPaid        decimal.Decimal         `json:"amountPaid"`
	OutstandingAmount decimal.Decimal         `json:"outstandingAmount"`
	ByItem            []ReportItemSummary     `json:"byItem"`
	ByPayment         []ReportPaymentSummary  `json:"byPayment"`
	TopCustomers      []ReportCustomerSummary `json:"topCustomers"`
}

type ReportItemSummary struct {
	ItemCode string          `json:"itemCode"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
}

type ReportPaymentSummary struct {
	PaymentMethod string          `json:"paymentMethod"`
	Sales         int             `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}

type ReportCustomerSummary struct {
	Customer string          `json:"customer,omitempty"`
	Name     string          `json:"name"`
	Sales    int             `json:"sales"`
	Total    decimal.Decimal `json:"total"`
}

type AnalyticsSummary struct {
	Period            string          `json:"period"`
	From              time.Time       `json:"from"`
	To                time.Time       `json:"to"`
	SalesCount        int             `json:"salesCount"`
	ItemsSold         int             `json:"itemsSold"`
	Revenue           decimal.Decimal `json:"revenue"`
	AverageSale       decimal.Decimal `json:"averageSale"`
	OutstandingAmount decimal.Decimal `json:"outstandingAmount"`
}

type AnalyticsBucket struct {
	Key     string          `json:"key"`
	Label   string          `json:"label"`
	Sales   int             `json:"sales"`
	Units   int             `json:"units"`
	Revenue decimal.Decimal `json:"revenue"`
}

type ProfitLine struct {
	ItemCode string          `json:"itemCode"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Revenue  decimal.Decimal `json:"revenue"`
	Cost     decimal.Decimal `json:"cost"`
	Profit   decimal.Decimal `json:"profit"`
}

type ProfitLoss struct {
	Period        string          `json:"period"`
	From          time.Time       `json:"from"`
	To            time.Time       `json:"to"`
	Revenue       decimal.Decimal `json:"revenue"`
	Cost          decimal.Decimal `json:"cost"`
	GrossProfit   decimal.Decimal `json:"grossProfit"`
	MarginPercent decimal.Decimal `json:"marginPercent"`
	TopItems      []ProfitLine    `json:"topItems"`
}

type AnalyticsResponse struct {
	Period  string            `json:"period"`
	From    time.Time         `json:"from"`
	To      time.Time         `json:"to"`
	Summary *AnalyticsSummary `json:"summary,omitempty"`
	Buckets []AnalyticsBucket `json:"buckets,omitempty"`
	Profit  *ProfitLoss       `json:"profit,omitempty"`
}
