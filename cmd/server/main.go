package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"tyrestock/backend/internal/cache"
	"tyrestock/backend/internal/config"
	"tyrestock/backend/internal/httpapi"
	"tyrestock/backend/internal/report"
	"tyrestock/backend/internal/scheduler"
	"tyrestock/backend/internal/service"
	"tyrestock/backend/internal/store"
	"tyrestock/backend/internal/store/memory"
	mongostore "tyrestock/backend/internal/store/mongodb"
	pgstore "tyrestock/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	switch {
	case cfg.MongoURI != "":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatalf("mongodb unavailable (%v) and MONGO_URI is set; refusing to start with in-memory fallback", err)
		}
		repo = mg
		closers = append(closers, mg.Close)
		log.Printf("repository: mongodb (%s)", cfg.MongoDatabase)
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		if cfg.DatabaseAutoMigrate {
			if err := pg.Migrate(ctx); err != nil {
				log.Fatalf("postgres migration failed: %v", err)
			}
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	default:
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	guard := cache.DispatchGuard(cache.NoopDispatchGuard{})
	if cfg.RedisAddr != "" {
		redisGuard := cache.NewRedisDispatchGuard(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisGuard.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), report dispatch is not deduplicated across instances", err)
		} else {
			guard = redisGuard
			closers = append(closers, redisGuard.Close)
			log.Println("dispatch guard: redis")
		}
	} else {
		log.Println("dispatch guard: noop")
	}

	var mailer report.Mailer = report.LogMailer{}
	if cfg.SMTPHost != "" {
		mailer = report.NewSMTPMailer(report.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		log.Printf("mailer: smtp %s:%d", cfg.SMTPHost, cfg.SMTPPort)
	} else {
		log.Println("mailer: log only")
	}

	loc := cfg.Location()
	reports := scheduler.New(repo, mailer, scheduler.Options{
		Location: loc,
		ShopName: cfg.ShopName,
		Guard:    guard,
	})
	if err := reports.Start(ctx); err != nil {
		log.Printf("[scheduler] WARN: start failed: %v", err)
	}

	svc := service.New(repo, service.Options{
		Location:  loc,
		ShopName:  cfg.ShopName,
		Scheduler: reports,
	})
	auth := httpapi.NewAuthManager(ctx, cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo)
	if err := auth.EnsureAdmin(ctx, cfg.SeedAdminPassword); err != nil {
		log.Fatalf("admin account: %v", err)
	}
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("%s backend listening on %s", cfg.ShopName, cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	reports.Stop()

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	// Reject all-same-digit PINs.
	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	// Reject ascending or descending sequential PINs (e.g. 123456, 987654).
	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
