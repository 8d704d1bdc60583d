package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

func normalizeNIC(nic string) string {
	return strings.ToUpper(strings.TrimSpace(nic))
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	_, err := store.NormalizeEmail(email)
	return err
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Customer{}, err
	}
	nic := normalizeNIC(req.NIC)
	name := strings.TrimSpace(req.Name)
	if nic == "" || name == "" {
		return domain.Customer{}, fmt.Errorf("%w: nic and name are required", store.ErrInvalidInput)
	}
	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		return domain.Customer{}, err
	}

	now := s.now()
	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:            xid.New(),
		NIC:           nic,
		Name:          name,
		Phone:         strings.TrimSpace(req.Phone),
		Email:         email,
		Address:       strings.TrimSpace(req.Address),
		VehicleNumber: strings.ToUpper(strings.TrimSpace(req.VehicleNumber)),
		TotalSpent:    decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logActivity(ctx, "customer_create", "customer", created.ID, "nic="+created.NIC)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) GetCustomerByNIC(ctx context.Context, nic string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByNIC(ctx, normalizeNIC(nic))
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, search string, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, strings.TrimSpace(search), clampLimit(limit, 100, 1000))
}

// UpdateCustomer edits contact details. Purchase stats only change through sales.
func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	if _, err := requireRole(ctx); err != nil {
		return domain.Customer{}, err
	}
	existing, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Customer{}, err
	}
	updated := *existing
	if v := trimmedPtr(req.Name); v != nil {
		if *v == "" {
			return domain.Customer{}, fmt.Errorf("%w: name must not be empty", store.ErrInvalidInput)
		}
		updated.Name = *v
	}
	if v := trimmedPtr(req.Phone); v != nil {
		updated.Phone = *v
	}
	if v := trimmedPtr(req.Email); v != nil {
		if err := validateEmail(*v); err != nil {
			return domain.Customer{}, err
		}
		updated.Email = *v
	}
	if v := trimmedPtr(req.Address); v != nil {
		updated.Address = *v
	}
	if v := trimmedPtr(req.VehicleNumber); v != nil {
		updated.VehicleNumber = strings.ToUpper(*v)
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateCustomer(ctx, updated)
	if err != nil {
		return domain.Customer{}, err
	}
	s.logActivity(ctx, "customer_update", "customer", saved.ID, "nic="+saved.NIC)
	return *saved, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return err
	}
	customer, err := s.repo.GetCustomer(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteCustomer(ctx, customer.ID); err != nil {
		return err
	}
	s.logActivity(ctx, "customer_delete", "customer", customer.ID, "nic="+customer.NIC)
	return nil
}
