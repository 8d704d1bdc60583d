package httpapi

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"tyrestock/backend/internal/domain"
	"tyrestock/backend/internal/store"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func plainAdminStore() *userStoreStub {
	return &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	users := plainAdminStore()

	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", users)
	_, err := manager.Login(context.Background(), domain.LoginRequest{
		Username: "admin",
		Password: "admin123",
	})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	accounts, err := users.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected 1 user, got %d", len(accounts))
	}
	if accounts[0].Password == "admin123" {
		t.Fatalf("expected password to be upgraded from plain-text")
	}
	if !strings.HasPrefix(accounts[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", accounts[0].Password)
	}
}

func TestCreateUserStoresPasswordHashAndRole(t *testing.T) {
	users := plainAdminStore()
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", users)

	created, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "Floor1",
		Password: "pass1234",
		Role:     domain.RoleManager,
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Username != "floor1" || created.Role != domain.RoleManager {
		t.Fatalf("unexpected user %+v", created)
	}

	saved, ok := users.users["floor1"]
	if !ok {
		t.Fatalf("expected user to be saved")
	}
	if !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash prefix, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "floor1", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with new user failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.Username != "floor1" || actor.Role != domain.RoleManager {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestCreateUserDefaultsToCashier(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", plainAdminStore())

	created, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "till2", Password: "pass1234"})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if created.Role != domain.RoleCashier {
		t.Fatalf("expected cashier role, got %s", created.Role)
	}
}

func TestCreateUserRejectsInvalidInput(t *testing.T) {
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", plainAdminStore())

	cases := []struct {
		name string
		req  domain.UserCreateRequest
		want error
	}{
		{"short username", domain.UserCreateRequest{Username: "abc", Password: "pass1234"}, store.ErrInvalidInput},
		{"space in username", domain.UserCreateRequest{Username: "two words", Password: "pass1234"}, store.ErrInvalidInput},
		{"short password", domain.UserCreateRequest{Username: "till3", Password: "123"}, store.ErrInvalidInput},
		{"unknown role", domain.UserCreateRequest{Username: "till3", Password: "pass1234", Role: "owner"}, store.ErrInvalidInput},
		{"duplicate", domain.UserCreateRequest{Username: "ADMIN", Password: "pass1234"}, store.ErrDuplicate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := manager.CreateUser(context.Background(), tc.req)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEnsureAdmin(t *testing.T) {
	empty := &userStoreStub{}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "123456", empty)

	if err := manager.EnsureAdmin(context.Background(), ""); err == nil {
		t.Fatalf("expected error without seed password")
	}
	if err := manager.EnsureAdmin(context.Background(), "firstboot1"); err != nil {
		t.Fatalf("ensure admin: %v", err)
	}
	if _, ok := empty.users["admin"]; !ok {
		t.Fatalf("expected admin account to be created")
	}
	if err := manager.EnsureAdmin(context.Background(), "ignored-now"); err != nil {
		t.Fatalf("second ensure admin: %v", err)
	}
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "firstboot1"}); err != nil {
		t.Fatalf("login with seeded admin failed: %v", err)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager(context.Background(), "secret-one", time.Hour, "123456", plainAdminStore())
	verifier := NewAuthManager(context.Background(), "secret-two", time.Hour, "123456", plainAdminStore())

	resp, err := issuer.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"})
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}
}

func TestManagerPINIsHashedAndStillValidates(t *testing.T) {
	users := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager(context.Background(), "test-secret", time.Hour, "654321", users)

	if manager.managerPIN == "654321" {
		t.Fatalf("expected manager pin to be stored as hash, got plain-text")
	}

	if !manager.ValidateManagerPIN("654321") {
		t.Fatalf("expected manager pin validation to succeed")
	}

	if manager.ValidateManagerPIN("111111") {
		t.Fatalf("expected wrong manager pin to fail")
	}
}
