package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/report"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

// Submitted totals may differ from the recomputed ones by at most one cent.
var totalTolerance = decimal.New(1, -2)

type SaleListQuery struct {
	FromDate       string
	ToDate         string
	CustomerSearch string
	PaymentMethod  string
	Limit          int
}

func isPaymentMethod(method string) bool {
	switch method {
	case domain.PaymentCash, domain.PaymentCard, domain.PaymentBankTransfer, domain.PaymentCheque, domain.PaymentCredit:
		return true
	default:
		return false
	}
}

func isPaymentStatus(status string) bool {
	switch status {
	case domain.PaymentStatusPaid, domain.PaymentStatusPartial, domain.PaymentStatusPending:
		return true
	default:
		return false
	}
}

func withinTolerance(a decimal.Decimal, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(totalTolerance)
}

// validateSale checks the request shape and arithmetic and returns the
// normalised sale lines.
func validateSale(req *domain.SaleCreateRequest) ([]domain.SaleLine, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("%w: sale has no items", store.ErrInvalidInput)
	}
	if req.Subtotal == nil || req.Total == nil {
		return nil, fmt.Errorf("%w: subtotal and total are required", store.ErrInvalidInput)
	}
	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if req.PaymentMethod == "" {
		return nil, fmt.Errorf("%w: paymentMethod is required", store.ErrInvalidInput)
	}
	if !isPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unsupported paymentMethod %q", store.ErrInvalidInput, req.PaymentMethod)
	}
	req.PaymentStatus = strings.ToLower(strings.TrimSpace(req.PaymentStatus))
	if req.PaymentStatus != "" && !isPaymentStatus(req.PaymentStatus) {
		return nil, fmt.Errorf("%w: unsupported paymentStatus %q", store.ErrInvalidInput, req.PaymentStatus)
	}
	if req.Tax.IsNegative() || req.Subtotal.IsNegative() || req.Total.IsNegative() {
		return nil, fmt.Errorf("%w: amounts must not be negative", store.ErrInvalidInput)
	}

	lines := make([]domain.SaleLine, 0, len(req.Items))
	lineSum := decimal.Zero
	for i, item := range req.Items {
		ref := strings.TrimSpace(item.Item)
		switch {
		case ref == "":
			return nil, fmt.Errorf("%w: line %d has no item", store.ErrInvalidInput, i+1)
		case item.Quantity < 1:
			return nil, fmt.Errorf("%w: line %d quantity must be at least 1", store.ErrInvalidInput, i+1)
		case item.Price == nil || item.Total == nil:
			return nil, fmt.Errorf("%w: line %d needs price and total", store.ErrInvalidInput, i+1)
		case item.Price.IsNegative() || item.Total.IsNegative() || item.Discount.IsNegative():
			return nil, fmt.Errorf("%w: line %d amounts must not be negative", store.ErrInvalidInput, i+1)
		}
		lineSum = lineSum.Add(*item.Total)
		lines = append(lines, domain.SaleLine{
			Item:     ref,
			Quantity: item.Quantity,
			Price:    *item.Price,
			Discount: item.Discount,
			Total:    *item.Total,
		})
	}

	if !withinTolerance(lineSum, *req.Subtotal) {
		return nil, fmt.Errorf("%w: subtotal %s does not match line totals %s", store.ErrInvalidInput, req.Subtotal.StringFixed(2), lineSum.StringFixed(2))
	}
	if !withinTolerance(req.Subtotal.Add(req.Tax), *req.Total) {
		return nil, fmt.Errorf("%w: total %s does not equal subtotal plus tax", store.ErrInvalidInput, req.Total.StringFixed(2))
	}
	return lines, nil
}

func paymentStatusFor(total decimal.Decimal, paid decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total):
		return domain.PaymentStatusPaid
	case paid.IsPositive():
		return domain.PaymentStatusPartial
	default:
		return domain.PaymentStatusPending
	}
}

// CreateSale records a sale. The store decrements stock and writes one stock
// log per line atomically; customer stats and the activity log follow as best
// effort steps.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (domain.Sale, error) {
	actor, err := requireRole(ctx)
	if err != nil {
		return domain.Sale{}, err
	}
	lines, err := validateSale(&req)
	if err != nil {
		return domain.Sale{}, err
	}

	total := *req.Total
	amountPaid := total
	if req.AmountPaid != nil {
		if req.AmountPaid.IsNegative() {
			return domain.Sale{}, fmt.Errorf("%w: amountPaid must not be negative", store.ErrInvalidInput)
		}
		amountPaid = *req.AmountPaid
	}
	status := req.PaymentStatus
	if status == "" {
		status = paymentStatusFor(total, amountPaid)
	}

	customerName := strings.TrimSpace(req.CustomerName)
	customerID := strings.TrimSpace(req.Customer)
	if customerID != "" {
		customer, err := s.repo.GetCustomer(ctx, customerID)
		if errors.Is(err, store.ErrNotFound) {
			return domain.Sale{}, fmt.Errorf("%w: unknown customer %s", store.ErrInvalidInput, customerID)
		}
		if err != nil {
			return domain.Sale{}, err
		}
		if customerName == "" {
			customerName = customer.Name
		}
	}

	seq, err := s.repo.NextSequence(ctx, domain.SequenceBillNumber)
	if err != nil {
		return domain.Sale{}, err
	}
	now := s.now()
	sale := domain.Sale{
		ID:            xid.New(),
		BillNumber:    xid.BillNumber(now.In(s.loc), seq),
		Items:         lines,
		Subtotal:      *req.Subtotal,
		Tax:           req.Tax,
		Total:         total,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: status,
		Customer:      customerID,
		CustomerName:  customerName,
		AmountPaid:    amountPaid,
		Balance:       total.Sub(amountPaid),
		Notes:         strings.TrimSpace(req.Notes),
		Cashier:       actor.Username,
		CreatedAt:     now,
	}

	created, _, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	if created.Customer != "" {
		if _, err := s.repo.AdjustCustomerStats(ctx, created.Customer, domain.CustomerStatsDelta{
			Spent:     created.Total,
			Purchases: 1,
			At:        now,
		}); err != nil {
			log.Printf("[service] WARN: sale %s recorded but customer %s stats not updated: %v", created.BillNumber, created.Customer, err)
		}
	}

	s.logActivity(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("bill=%s,lines=%d,units=%d,total=%s,method=%s", created.BillNumber, len(created.Items), created.ItemCount(), created.Total.StringFixed(2), created.PaymentMethod))
	return *created, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	id = strings.TrimSpace(id)
	if !xid.Valid(id) {
		return domain.Sale{}, store.ErrNotFound
	}
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, q SaleListQuery) ([]domain.Sale, error) {
	from, to, err := s.dateRange(q.FromDate, q.ToDate)
	if err != nil {
		return nil, err
	}
	method := strings.ToLower(strings.TrimSpace(q.PaymentMethod))
	if method != "" && !isPaymentMethod(method) {
		return nil, fmt.Errorf("%w: unsupported paymentMethod %q", store.ErrInvalidInput, method)
	}
	return s.repo.ListSales(ctx, domain.SaleFilter{
		From:           from,
		To:             to,
		CustomerSearch: strings.TrimSpace(q.CustomerSearch),
		PaymentMethod:  method,
		Limit:          clampLimit(q.Limit, 200, 2000),
	})
}

// SalesReport lists the sales in a date range with their rollup.
func (s *Service) SalesReport(ctx context.Context, fromDate string, toDate string, customerSearch string) (domain.SalesReportResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SalesReportResponse{}, err
	}
	from, to, err := s.dateRange(fromDate, toDate)
	if err != nil {
		return domain.SalesReportResponse{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: from, To: to, CustomerSearch: strings.TrimSpace(customerSearch)})
	if err != nil {
		return domain.SalesReportResponse{}, err
	}
	return domain.SalesReportResponse{
		Sales:   sales,
		Summary: report.BuildSalesReport(sales, from, to),
	}, nil
}

// DeleteSale removes a sale and puts its stock back. Only admins may do this;
// the HTTP layer additionally asks for the manager PIN.
func (s *Service) DeleteSale(ctx context.Context, id string) (domain.Sale, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.Sale{}, err
	}
	id = strings.TrimSpace(id)
	if !xid.Valid(id) {
		return domain.Sale{}, store.ErrNotFound
	}
	deleted, logs, err := s.repo.DeleteSale(ctx, id, actor.Username)
	if err != nil {
		return domain.Sale{}, err
	}

	if deleted.Customer != "" {
		if _, err := s.repo.AdjustCustomerStats(ctx, deleted.Customer, domain.CustomerStatsDelta{
			Spent:     deleted.Total.Neg(),
			Purchases: -1,
			At:        s.now(),
		}); err != nil {
			log.Printf("[service] WARN: sale %s deleted but customer %s stats not reversed: %v", deleted.BillNumber, deleted.Customer, err)
		}
	}

	s.logActivity(ctx, "sale_delete", "sale", deleted.ID,
		fmt.Sprintf("bill=%s,total=%s,restored_lines=%d", deleted.BillNumber, deleted.Total.StringFixed(2), len(logs)))
	return *deleted, nil
}
