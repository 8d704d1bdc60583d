package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store/memory"
	"tyrestock/backend/internal/xid"
)

type sentMail struct {
	to      string
	subject string
}

type fakeMailer struct {
	mu     sync.Mutex
	sent   []sentMail
	failTo map[string]bool
}

func (m *fakeMailer) Send(_ context.Context, to string, subject string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failTo[to] {
		return errors.New("mailbox unavailable")
	}
	m.sent = append(m.sent, sentMail{to: to, subject: subject})
	return nil
}

type onceGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (g *onceGuard) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.keys[key] {
		return false, nil
	}
	g.keys[key] = true
	return true, nil
}

func newSubscription(t *testing.T, repo *memory.Store, email string, at string, active bool) domain.EmailSubscription {
	t.Helper()
	now := time.Now().UTC()
	sub := domain.EmailSubscription{
		ID:           xid.New(),
		Email:        email,
		ReportType:   domain.ReportTypeDailySales,
		ScheduleTime: at,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := repo.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	return sub
}

func TestRegisterIsIdempotent(t *testing.T) {
	repo := memory.New()
	s := New(repo, &fakeMailer{}, Options{})
	sub := newSubscription(t, repo, "owner@example.com", "08:00", true)

	for i := 0; i < 3; i++ {
		if err := s.Register(sub); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if s.Len() != 1 || len(s.cron.Entries()) != 1 {
		t.Fatalf("expected exactly one timer, got %d entries / %d cron entries", s.Len(), len(s.cron.Entries()))
	}

	sub.ScheduleTime = "09:30"
	if err := s.Register(sub); err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if at, ok := s.ScheduleOf(sub.ID); !ok || at != "09:30" || len(s.cron.Entries()) != 1 {
		t.Fatalf("expected single timer at 09:30, got %q %t (%d cron entries)", at, ok, len(s.cron.Entries()))
	}

	sub.IsActive = false
	if err := s.Register(sub); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	if s.Len() != 0 || len(s.cron.Entries()) != 0 {
		t.Fatalf("expected inactive subscription to hold no timer")
	}
}

func TestRegisterRejectsBadScheduleTime(t *testing.T) {
	repo := memory.New()
	s := New(repo, &fakeMailer{}, Options{})
	sub := newSubscription(t, repo, "owner@example.com", "25:99", true)
	if err := s.Register(sub); err == nil {
		t.Fatalf("expected invalid schedule time to be rejected")
	}
	if s.Len() != 0 {
		t.Fatalf("expected no timer for invalid schedule time")
	}
}

func TestRunDueSendsOncePerActiveSubscription(t *testing.T) {
	repo := memory.New()
	mailer := &fakeMailer{}
	loc := time.FixedZone("LKT", 5*3600+1800)
	s := New(repo, mailer, Options{Location: loc, Guard: &onceGuard{keys: map[string]bool{}}})

	first := newSubscription(t, repo, "owner@example.com", "08:00", true)
	second := newSubscription(t, repo, "manager@example.com", "08:00", true)
	inactive := newSubscription(t, repo, "old@example.com", "08:00", false)
	later := newSubscription(t, repo, "late@example.com", "18:00", true)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if s.Len() != 3 {
		t.Fatalf("expected three active timers, got %d", s.Len())
	}

	at := time.Date(2024, 3, 15, 8, 0, 0, 0, loc)
	sent, err := s.RunDue(context.Background(), at)
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if sent != 2 || len(mailer.sent) != 2 {
		t.Fatalf("expected two e-mails, got sent=%d mails=%+v", sent, mailer.sent)
	}

	for _, sub := range []domain.EmailSubscription{first, second} {
		got, err := repo.GetSubscription(context.Background(), sub.ID)
		if err != nil {
			t.Fatalf("get subscription: %v", err)
		}
		if got.LastSent == nil || !got.LastSent.Equal(at) {
			t.Fatalf("expected lastSent %s for %s, got %v", at, sub.Email, got.LastSent)
		}
	}
	for _, sub := range []domain.EmailSubscription{inactive, later} {
		got, _ := repo.GetSubscription(context.Background(), sub.ID)
		if got.LastSent != nil {
			t.Fatalf("expected %s not to be sent", sub.Email)
		}
	}

	// A second trigger in the same minute is absorbed by the dispatch guard.
	again, err := s.RunDue(context.Background(), at)
	if err != nil {
		t.Fatalf("run due again: %v", err)
	}
	if again != 0 || len(mailer.sent) != 2 {
		t.Fatalf("expected no duplicate sends, got %d", again)
	}
}

func TestDeliverSkipsSubscriptionDeactivatedAfterRegister(t *testing.T) {
	repo := memory.New()
	mailer := &fakeMailer{}
	s := New(repo, mailer, Options{})
	sub := newSubscription(t, repo, "owner@example.com", "08:00", true)
	if err := s.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	sub.IsActive = false
	if _, err := repo.UpdateSubscription(context.Background(), sub); err != nil {
		t.Fatalf("update: %v", err)
	}

	sent, err := s.RunDue(context.Background(), time.Date(2024, 3, 15, 8, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("run due: %v", err)
	}
	if sent != 0 || len(mailer.sent) != 0 || s.Len() != 0 {
		t.Fatalf("expected stale timer to be dropped without sending")
	}
}

func TestSendNowReportsPerRecipient(t *testing.T) {
	repo := memory.New()
	mailer := &fakeMailer{failTo: map[string]bool{"bad@example.com": true}}
	s := New(repo, mailer, Options{})

	resp, err := s.SendNow(context.Background(), []string{"good@example.com", "bad@example.com", " "}, "2024-03-15")
	if err != nil {
		t.Fatalf("send now: %v", err)
	}
	if len(resp.SuccessfulEmails) != 1 || resp.SuccessfulEmails[0] != "good@example.com" {
		t.Fatalf("unexpected successes %+v", resp.SuccessfulEmails)
	}
	if len(resp.FailedEmails) != 1 || resp.FailedEmails[0].Email != "bad@example.com" {
		t.Fatalf("unexpected failures %+v", resp.FailedEmails)
	}
}

func TestSendNowDefaultsToActiveSubscribers(t *testing.T) {
	repo := memory.New()
	mailer := &fakeMailer{}
	s := New(repo, mailer, Options{})
	newSubscription(t, repo, "owner@example.com", "08:00", true)
	newSubscription(t, repo, "old@example.com", "08:00", false)

	resp, err := s.SendNow(context.Background(), nil, "")
	if err != nil {
		t.Fatalf("send now: %v", err)
	}
	if len(resp.SuccessfulEmails) != 1 || resp.SuccessfulEmails[0] != "owner@example.com" {
		t.Fatalf("expected only the active subscriber, got %+v", resp.SuccessfulEmails)
	}
}

func TestSendNowRejectsInvalidDate(t *testing.T) {
	s := New(memory.New(), &fakeMailer{}, Options{})
	if _, err := s.SendNow(context.Background(), []string{"owner@example.com"}, "15/03/2024"); err == nil {
		t.Fatalf("expected invalid date error")
	}
}

func TestMovedSubscriptionIsSentOnceAcrossInstances(t *testing.T) {
	repo := memory.New()
	mailer := &fakeMailer{}
	guard := &onceGuard{keys: map[string]bool{}}
	first := New(repo, mailer, Options{Guard: guard})
	second := New(repo, mailer, Options{Guard: guard})
	ctx := context.Background()

	sub := newSubscription(t, repo, "owner@example.com", "08:00", true)
	for _, s := range []*Scheduler{first, second} {
		if err := s.Reload(ctx); err != nil {
			t.Fatalf("reload: %v", err)
		}
	}

	sub.ScheduleTime = "09:00"
	if _, err := repo.UpdateSubscription(ctx, sub); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := second.Register(sub); err != nil {
		t.Fatalf("register: %v", err)
	}

	day := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	sent, err := first.RunDue(ctx, day.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("run due at 08:00: %v", err)
	}
	if sent != 0 || len(mailer.sent) != 0 {
		t.Fatalf("expected the old 08:00 timer not to send, got %d", sent)
	}
	if at, ok := first.ScheduleOf(sub.ID); !ok || at != "09:00" {
		t.Fatalf("expected first instance to move its timer to 09:00, got %q %t", at, ok)
	}

	for _, s := range []*Scheduler{second, first} {
		if _, err := s.RunDue(ctx, day.Add(9*time.Hour)); err != nil {
			t.Fatalf("run due at 09:00: %v", err)
		}
	}
	if len(mailer.sent) != 1 {
		t.Fatalf("expected exactly one e-mail, got %d", len(mailer.sent))
	}
}

func TestReloadPicksUpSubscriptionsFromOtherInstances(t *testing.T) {
	repo := memory.New()
	s := New(repo, &fakeMailer{}, Options{})
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}

	sub := newSubscription(t, repo, "owner@example.com", "07:30", true)
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if at, ok := s.ScheduleOf(sub.ID); !ok || at != "07:30" {
		t.Fatalf("expected timer at 07:30, got %q %t", at, ok)
	}

	entries := len(s.cron.Entries())
	if err := s.Reload(context.Background()); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(s.cron.Entries()) != entries || s.Len() != 1 {
		t.Fatalf("expected reload of unchanged subscriptions to keep one timer")
	}
}

func TestSendNowNormalizesRecipients(t *testing.T) {
	mailer := &fakeMailer{}
	s := New(memory.New(), mailer, Options{})

	resp, err := s.SendNow(context.Background(), []string{"Owner@Example.com", " owner@example.com ", "not-an-address"}, "2024-03-15")
	if err != nil {
		t.Fatalf("send now: %v", err)
	}
	if len(mailer.sent) != 1 || mailer.sent[0].to != "owner@example.com" {
		t.Fatalf("expected one mail to owner@example.com, got %+v", mailer.sent)
	}
	if len(resp.FailedEmails) != 1 || resp.FailedEmails[0].Email != "not-an-address" {
		t.Fatalf("expected the malformed address to be reported, got %+v", resp.FailedEmails)
	}

	if _, err := s.SendNow(context.Background(), []string{"nobody"}, ""); err == nil {
		t.Fatalf("expected an error when no recipient is valid")
	}
}
