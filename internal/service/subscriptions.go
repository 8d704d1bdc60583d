package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/scheduler"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

var ErrSchedulerDisabled = errors.New("report scheduler is not configured")

func normalizeScheduleTime(raw string) (string, error) {
	hour, minute, err := scheduler.ParseScheduleTime(raw)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

func (s *Service) ListSubscriptions(ctx context.Context) ([]domain.EmailSubscription, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return nil, err
	}
	return s.repo.ListSubscriptions(ctx, false)
}

func (s *Service) CreateSubscription(ctx context.Context, req domain.SubscriptionCreateRequest) (domain.EmailSubscription, error) {
	actor, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager)
	if err != nil {
		return domain.EmailSubscription{}, err
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		return domain.EmailSubscription{}, fmt.Errorf("%w: email is required", store.ErrInvalidInput)
	}
	if err := validateEmail(email); err != nil {
		return domain.EmailSubscription{}, err
	}
	at, err := normalizeScheduleTime(req.ScheduleTime)
	if err != nil {
		return domain.EmailSubscription{}, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	now := s.now()
	created, err := s.repo.CreateSubscription(ctx, domain.EmailSubscription{
		ID:           xid.New(),
		Email:        email,
		ReportType:   domain.ReportTypeDailySales,
		ScheduleTime: at,
		IsActive:     active,
		CreatedBy:    actor.Username,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.EmailSubscription{}, err
	}
	s.register(*created)
	s.logActivity(ctx, "subscription_create", "email_subscription", created.ID, fmt.Sprintf("email=%s,time=%s", created.Email, created.ScheduleTime))
	return *created, nil
}

func (s *Service) UpdateSubscription(ctx context.Context, id string, req domain.SubscriptionUpdateRequest) (domain.EmailSubscription, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.EmailSubscription{}, err
	}
	existing, err := s.repo.GetSubscription(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.EmailSubscription{}, err
	}
	updated := *existing
	if req.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*req.Email))
		if email == "" {
			return domain.EmailSubscription{}, fmt.Errorf("%w: email must not be empty", store.ErrInvalidInput)
		}
		if err := validateEmail(email); err != nil {
			return domain.EmailSubscription{}, err
		}
		updated.Email = email
	}
	if req.ScheduleTime != nil {
		at, err := normalizeScheduleTime(*req.ScheduleTime)
		if err != nil {
			return domain.EmailSubscription{}, err
		}
		updated.ScheduleTime = at
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}
	updated.UpdatedAt = s.now()

	saved, err := s.repo.UpdateSubscription(ctx, updated)
	if err != nil {
		return domain.EmailSubscription{}, err
	}
	s.register(*saved)
	s.logActivity(ctx, "subscription_update", "email_subscription", saved.ID,
		fmt.Sprintf("email=%s,time=%s,active=%t", saved.Email, saved.ScheduleTime, saved.IsActive))
	return *saved, nil
}

func (s *Service) DeleteSubscription(ctx context.Context, id string) error {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteSubscription(ctx, id); err != nil {
		return err
	}
	if s.scheduler != nil {
		s.scheduler.Unregister(id)
	}
	s.logActivity(ctx, "subscription_delete", "email_subscription", id, "")
	return nil
}

// register keeps the scheduler in step with a saved subscription. Inactive
// subscriptions lose their timer.
func (s *Service) register(sub domain.EmailSubscription) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Register(sub); err != nil {
		log.Printf("[service] WARN: subscription %s saved but not scheduled: %v", sub.ID, err)
	}
}

// RunDueReports fires the subscriptions scheduled at req.Time today, as the
// timers would. Delivery failures are reported in the response.
func (s *Service) RunDueReports(ctx context.Context, req domain.RunDueRequest) (domain.RunDueResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.RunDueResponse{}, err
	}
	if s.scheduler == nil {
		return domain.RunDueResponse{}, ErrSchedulerDisabled
	}
	now := s.now().In(s.loc)
	at := now.Truncate(time.Minute)
	if strings.TrimSpace(req.Time) != "" {
		hour, minute, err := scheduler.ParseScheduleTime(req.Time)
		if err != nil {
			return domain.RunDueResponse{}, err
		}
		at = time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, s.loc)
	}

	sent, err := s.scheduler.RunDue(ctx, at)
	resp := domain.RunDueResponse{Slot: at.Format("15:04"), Sent: sent}
	if err != nil {
		log.Printf("[service] WARN: run due %s: %v", resp.Slot, err)
		resp.Error = err.Error()
	}
	s.logActivity(ctx, "report_run_due", "report", resp.Slot, fmt.Sprintf("sent=%d", sent))
	return resp, nil
}

func (s *Service) SendReportNow(ctx context.Context, req domain.SendNowRequest) (domain.SendNowResponse, error) {
	if _, err := requireRole(ctx, domain.RoleAdmin, domain.RoleManager); err != nil {
		return domain.SendNowResponse{}, err
	}
	if s.scheduler == nil {
		return domain.SendNowResponse{}, ErrSchedulerDisabled
	}
	resp, err := s.scheduler.SendNow(ctx, req.Emails, req.Date)
	if err != nil {
		return domain.SendNowResponse{}, err
	}
	s.logActivity(ctx, "report_send_now", "report", req.Date,
		fmt.Sprintf("sent=%d,failed=%d", len(resp.SuccessfulEmails), len(resp.FailedEmails)))
	return resp, nil
}
