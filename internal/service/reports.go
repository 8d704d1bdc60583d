package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tyrestock/backend/internal/analytics"
	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/report"
	"tyrestock/backend/internal/store"
)

const defaultTopItems = 10

// Analytics computes one dashboard view over the sales of a period.
func (s *Service) Analytics(ctx context.Context, kindRaw string, periodRaw string, limit int) (domain.AnalyticsResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.AnalyticsResponse{}, err
	}
	kind, err := analytics.ParseKind(kindRaw)
	if err != nil {
		return domain.AnalyticsResponse{}, fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}
	period, err := analytics.ParsePeriod(periodRaw)
	if err != nil {
		return domain.AnalyticsResponse{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	limit = clampLimit(limit, defaultTopItems, 100)

	from, to := period.Window(s.now(), s.loc)
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: from, To: to})
	if err != nil {
		return domain.AnalyticsResponse{}, err
	}
	resp := domain.AnalyticsResponse{Period: string(period), From: from, To: to}

	if kind == analytics.KindProfitLoss {
		pl := analytics.ProfitLoss(sales, period, from, to, limit)
		resp.Profit = &pl
		return resp, nil
	}
	if kind == analytics.KindRealtime {
		summary := analytics.Summarize(sales, period, from, to)
		resp.Summary = &summary
	}

	granularity, _ := kind.Granularity()
	opts := analytics.Options{Location: s.loc, Limit: limit}
	switch granularity {
	case analytics.ByCustomerSegment:
		customers, err := s.customersOf(ctx, sales)
		if err != nil {
			return domain.AnalyticsResponse{}, err
		}
		opts.Customers = customers
	case analytics.ByCategory:
		names, err := s.categoryNames(ctx)
		if err != nil {
			return domain.AnalyticsResponse{}, err
		}
		opts.CategoryNames = names
	}
	resp.Buckets = analytics.Group(sales, granularity, opts)
	return resp, nil
}

// customersOf loads the customers referenced by sales. Customers deleted
// since the sale are left out and count as walk-ins.
func (s *Service) customersOf(ctx context.Context, sales []domain.Sale) (map[string]domain.Customer, error) {
	customers := make(map[string]domain.Customer)
	for _, sale := range sales {
		if sale.Customer == "" {
			continue
		}
		if _, seen := customers[sale.Customer]; seen {
			continue
		}
		customer, err := s.repo.GetCustomer(ctx, sale.Customer)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		customers[customer.ID] = *customer
	}
	return customers, nil
}

// DailyReport rolls up the sales of one local day (today when date is empty).
func (s *Service) DailyReport(ctx context.Context, date string) (domain.SalesReport, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SalesReport{}, err
	}
	from, to, err := report.DayWindow(date, s.now(), s.loc)
	if err != nil {
		return domain.SalesReport{}, err
	}
	return report.Daily(ctx, s.repo, from, to)
}

func (s *Service) DailyReportHTML(ctx context.Context, date string) (string, error) {
	daily, err := s.DailyReport(ctx, date)
	if err != nil {
		return "", err
	}
	return report.RenderHTML(s.shopName, daily)
}

// ListActivityLogs returns the activity of one local day, or of the last 24
// hours when date is empty.
func (s *Service) ListActivityLogs(ctx context.Context, date string, limit int) ([]domain.ActivityLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	var from, to time.Time
	if strings.TrimSpace(date) == "" {
		to = s.now().Add(time.Minute)
		from = to.Add(-24 * time.Hour)
	} else {
		var err error
		from, to, err = report.DayWindow(date, s.now(), s.loc)
		if err != nil {
			return nil, err
		}
	}
	return s.repo.ListActivityLogs(ctx, from, to, clampLimit(limit, 100, 1000))
}

func (s *Service) ListStockEditLogs(ctx context.Context, itemCode string, limit int) ([]domain.StockEditLog, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	return s.repo.ListStockEditLogs(ctx, strings.ToUpper(strings.TrimSpace(itemCode)), clampLimit(limit, 100, 1000))
}
