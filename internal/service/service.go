package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/xid"
)

var ErrForbidden = errors.New("forbidden")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// SubscriptionScheduler keeps report timers in step with subscription edits.
type SubscriptionScheduler interface {
	Register(sub domain.EmailSubscription) error
	Unregister(id string)
	SendNow(ctx context.Context, emails []string, date string) (domain.SendNowResponse, error)
	RunDue(ctx context.Context, at time.Time) (int, error)
}

type Options struct {
	Location  *time.Location
	ShopName  string
	Scheduler SubscriptionScheduler
}

type Service struct {
	repo      store.Repository
	loc       *time.Location
	shopName  string
	scheduler SubscriptionScheduler
	now       func() time.Time
}

func New(repo store.Repository, opts Options) *Service {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	shopName := strings.TrimSpace(opts.ShopName)
	if shopName == "" {
		shopName = "Tyre Shop"
	}

	return &Service{
		repo:      repo,
		loc:       loc,
		shopName:  shopName,
		scheduler: opts.Scheduler,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// requireRole returns the request actor when its role is one of roles.
// An empty roles list accepts any authenticated actor.
func requireRole(ctx context.Context, roles ...string) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{}, fmt.Errorf("%w: login required", ErrForbidden)
	}
	if len(roles) > 0 && !slices.Contains(roles, actor.Role) {
		return domain.Actor{}, fmt.Errorf("%w: %s role required", ErrForbidden, strings.Join(roles, " or "))
	}
	return actor, nil
}

func (s *Service) logActivity(ctx context.Context, action string, entityType string, entityID string, description string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateActivityLog(ctx, domain.ActivityLog{
		ID:            xid.New(),
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Description:   description,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		CreatedAt:     s.now(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write activity log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

// dateRange turns inclusive YYYY-MM-DD bounds into a [from, to) range in the
// shop's zone. Missing bounds stay zero (unbounded).
func (s *Service) dateRange(fromDate string, toDate string) (time.Time, time.Time, error) {
	var from, to time.Time
	if v := strings.TrimSpace(fromDate); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: fromDate must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = parsed
	}
	if v := strings.TrimSpace(toDate); v != "" {
		parsed, err := time.ParseInLocation("2006-01-02", v, s.loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("%w: toDate must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		to = parsed.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: fromDate is after toDate", store.ErrInvalidInput)
	}
	return from, to, nil
}

func clampLimit(limit int, fallback int, max int) int {
	if limit < 1 {
		return fallback
	}
	if limit > max {
		return max
	}
	return limit
}

func trimmedPtr(v *string) *string {
	if v == nil {
		return nil
	}
	t := strings.TrimSpace(*v)
	return &t
}
