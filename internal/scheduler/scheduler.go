package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"tyrestock/backend/internal/cache"
	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/report"
	"tyrestock/backend/internal/store"
)

const (
	fireTimeout   = 2 * time.Minute
	guardTTL      = 10 * time.Minute
	reloadSpec    = "@every 1m"
	reloadTimeout = 30 * time.Second
)

// SubscriptionStore is the slice of the repository the scheduler needs.
type SubscriptionStore interface {
	report.SalesLister
	GetSubscription(ctx context.Context, id string) (*domain.EmailSubscription, error)
	ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.EmailSubscription, error)
	MarkSubscriptionSent(ctx context.Context, id string, at time.Time) error
}

type registration struct {
	entryID      cron.EntryID
	scheduleTime string
}

// Scheduler owns one cron timer per active e-mail subscription.
type Scheduler struct {
	store    SubscriptionStore
	mailer   report.Mailer
	guard    cache.DispatchGuard
	loc      *time.Location
	shopName string
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]registration
}

type Options struct {
	Location *time.Location
	ShopName string
	Guard    cache.DispatchGuard
}

func New(subscriptions SubscriptionStore, mailer report.Mailer, opts Options) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	guard := opts.Guard
	if guard == nil {
		guard = cache.NoopDispatchGuard{}
	}
	if mailer == nil {
		mailer = report.LogMailer{}
	}
	shopName := opts.ShopName
	if shopName == "" {
		shopName = "Tyre Shop"
	}

	return &Scheduler{
		store:    subscriptions,
		mailer:   mailer,
		guard:    guard,
		loc:      loc,
		shopName: shopName,
		now:      time.Now,
		cron:     cron.New(cron.WithLocation(loc)),
		entries:  make(map[string]registration),
	}
}

// ParseScheduleTime validates an HH:MM wall-clock time.
func ParseScheduleTime(raw string) (hour int, minute int, err error) {
	t, err := time.Parse("15:04", strings.TrimSpace(raw))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: scheduleTime must be HH:MM", store.ErrInvalidInput)
	}
	return t.Hour(), t.Minute(), nil
}

func cronSpec(scheduleTime string) (string, error) {
	hour, minute, err := ParseScheduleTime(scheduleTime)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

// Start installs timers for every active subscription and starts the cron loop.
// The loop runs even when loading subscriptions fails. Subscriptions are
// reloaded every minute so changes made through other instances sharing the
// store are picked up.
func (s *Scheduler) Start(ctx context.Context) error {
	err := s.Reload(ctx)
	if _, rerr := s.cron.AddFunc(reloadSpec, s.periodicReload); rerr != nil {
		log.Printf("[scheduler] WARN: periodic reload not installed: %v", rerr)
	}
	s.cron.Start()
	if err != nil {
		return err
	}
	log.Printf("[scheduler] started with %d subscription(s) in %s", s.Len(), s.loc)
	return nil
}

// Reload registers every active subscription from the store. Timers of
// subscriptions that are no longer active are dropped.
func (s *Scheduler) Reload(ctx context.Context) error {
	subs, err := s.store.ListSubscriptions(ctx, true)
	if err != nil {
		return err
	}
	active := make(map[string]bool, len(subs))
	for _, sub := range subs {
		active[sub.ID] = true
		if err := s.Register(sub); err != nil {
			log.Printf("[scheduler] WARN: skipping subscription %s: %v", sub.ID, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		if !active[id] {
			s.removeLocked(id)
		}
	}
	return nil
}

func (s *Scheduler) periodicReload() {
	ctx, cancel := context.WithTimeout(context.Background(), reloadTimeout)
	defer cancel()
	if err := s.Reload(ctx); err != nil {
		log.Printf("[scheduler] WARN: reload failed: %v", err)
	}
}

// Stop cancels all timers and waits for running deliveries to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.entries {
		s.removeLocked(id)
	}
}

// Register replaces any timer held for sub.ID. Inactive subscriptions end up
// with no timer.
func (s *Scheduler) Register(sub domain.EmailSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if reg, ok := s.entries[sub.ID]; ok && sub.IsActive && reg.scheduleTime == sub.ScheduleTime {
		return nil
	}
	s.removeLocked(sub.ID)
	if !sub.IsActive {
		return nil
	}

	spec, err := cronSpec(sub.ScheduleTime)
	if err != nil {
		return err
	}
	id := sub.ID
	entryID, err := s.cron.AddFunc(spec, func() { s.fire(id) })
	if err != nil {
		return err
	}
	s.entries[id] = registration{entryID: entryID, scheduleTime: sub.ScheduleTime}
	return nil
}

func (s *Scheduler) Unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
}

func (s *Scheduler) removeLocked(id string) {
	if reg, ok := s.entries[id]; ok {
		s.cron.Remove(reg.entryID)
		delete(s.entries, id)
	}
}

// Len is the number of installed timers.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// ScheduleOf reports the HH:MM a subscription is currently registered at.
func (s *Scheduler) ScheduleOf(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.entries[id]
	return reg.scheduleTime, ok
}

func (s *Scheduler) fire(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), fireTimeout)
	defer cancel()
	if _, err := s.deliver(ctx, id, s.now()); err != nil {
		log.Printf("[scheduler] subscription %s: %v", id, err)
	}
}

// RunDue delivers every registered subscription scheduled at the HH:MM of at
// and returns how many reports were sent.
func (s *Scheduler) RunDue(ctx context.Context, at time.Time) (int, error) {
	slot := at.In(s.loc).Format("15:04")

	s.mu.Lock()
	due := make([]string, 0)
	for id, reg := range s.entries {
		if reg.scheduleTime == slot {
			due = append(due, id)
		}
	}
	s.mu.Unlock()

	sent := 0
	var errs []error
	for _, id := range due {
		ok, err := s.deliver(ctx, id, at)
		if err != nil {
			errs = append(errs, fmt.Errorf("subscription %s: %w", id, err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

// deliver re-reads the subscription so edits made after the timer was set are
// honoured, then sends today's report once per subscription per minute. A
// timer whose time no longer matches the stored subscription is moved and
// does not send.
func (s *Scheduler) deliver(ctx context.Context, id string, at time.Time) (bool, error) {
	sub, err := s.store.GetSubscription(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		s.Unregister(id)
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !sub.IsActive {
		s.Unregister(id)
		return false, nil
	}
	if registered, ok := s.ScheduleOf(id); !ok || registered != sub.ScheduleTime {
		if err := s.Register(*sub); err != nil {
			return false, fmt.Errorf("reschedule: %w", err)
		}
		log.Printf("[scheduler] subscription %s moved from %q to %s, skipping stale timer", sub.ID, registered, sub.ScheduleTime)
		return false, nil
	}

	key := sub.ID + ":" + at.In(s.loc).Format("200601021504")
	acquired, err := s.guard.Acquire(ctx, key, guardTTL)
	if err != nil {
		return false, fmt.Errorf("dispatch guard: %w", err)
	}
	if !acquired {
		log.Printf("[scheduler] subscription %s already dispatched for %s", sub.ID, key)
		return false, nil
	}

	subject, body, err := s.render(ctx, "", at)
	if err != nil {
		return false, err
	}
	if err := s.mailer.Send(ctx, sub.Email, subject, body); err != nil {
		return false, fmt.Errorf("send to %s: %w", sub.Email, err)
	}
	if err := s.store.MarkSubscriptionSent(ctx, sub.ID, at.UTC()); err != nil {
		log.Printf("[scheduler] WARN: sent report to %s but failed to record lastSent: %v", sub.Email, err)
	}
	log.Printf("[scheduler] sent daily report to %s", sub.Email)
	return true, nil
}

// SendNow mails the report for date (empty for today) to emails, or to every
// active subscriber when emails is empty. Failures are reported per recipient.
func (s *Scheduler) SendNow(ctx context.Context, emails []string, date string) (domain.SendNowResponse, error) {
	resp := domain.SendNowResponse{SuccessfulEmails: []string{}, FailedEmails: []domain.FailedDelivery{}}

	recipients := make([]string, 0, len(emails))
	seen := make(map[string]bool, len(emails))
	for _, raw := range emails {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		email, err := store.NormalizeEmail(raw)
		if err != nil {
			resp.FailedEmails = append(resp.FailedEmails, domain.FailedDelivery{Email: strings.TrimSpace(raw), Error: err.Error()})
			continue
		}
		if seen[email] {
			continue
		}
		seen[email] = true
		recipients = append(recipients, email)
	}
	if len(recipients) == 0 && len(resp.FailedEmails) > 0 {
		return resp, fmt.Errorf("%w: no valid recipients", store.ErrInvalidInput)
	}
	if len(recipients) == 0 {
		subs, err := s.store.ListSubscriptions(ctx, true)
		if err != nil {
			return resp, err
		}
		for _, sub := range subs {
			recipients = append(recipients, sub.Email)
		}
	}
	if len(recipients) == 0 {
		return resp, fmt.Errorf("%w: no recipients", store.ErrInvalidInput)
	}

	subject, body, err := s.render(ctx, date, s.now())
	if err != nil {
		return resp, err
	}
	for _, email := range recipients {
		if err := s.mailer.Send(ctx, email, subject, body); err != nil {
			resp.FailedEmails = append(resp.FailedEmails, domain.FailedDelivery{Email: email, Error: err.Error()})
			continue
		}
		resp.SuccessfulEmails = append(resp.SuccessfulEmails, email)
	}
	return resp, nil
}

func (s *Scheduler) render(ctx context.Context, date string, now time.Time) (string, string, error) {
	from, to, err := report.DayWindow(date, now, s.loc)
	if err != nil {
		return "", "", err
	}
	daily, err := report.Daily(ctx, s.store, from, to)
	if err != nil {
		return "", "", fmt.Errorf("build report: %w", err)
	}
	body, err := report.RenderHTML(s.shopName, daily)
	if err != nil {
		return "", "", fmt.Errorf("render report: %w", err)
	}
	return report.Subject(s.shopName, daily), body, nil
}
