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

	"nirmaan/backend/internal/cache"
	"nirmaan/backend/internal/config"
	"nirmaan/backend/internal/httpapi"
	"nirmaan/backend/internal/service"
	"nirmaan/backend/internal/store"
	"nirmaan/backend/internal/store/memory"
	pgstore "nirmaan/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		} else {
			repo = pg
			closers = append(closers, pg.Close)
			log.Println("repository: postgres")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	catalog := cache.CatalogCache(cache.NoopCatalogCache{})
	notifier := service.Notifier(service.NoopNotifier{})
	if cfg.RedisAddr != "" {
		redisCatalog := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCatalog.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache and notifier", err)
		} else {
			catalog = redisCatalog
			closers = append(closers, redisCatalog.Close)

			redisNotifier := cache.NewRedisNotifier(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.OrderEventChannel)
			notifier = redisNotifier
			closers = append(closers, redisNotifier.Close)
			log.Println("cache: redis, notifier: redis pub/sub")
		}
	} else {
		log.Println("cache: noop, notifier: noop")
	}

	svc := service.New(repo, service.Options{
		CoolingPeriod:  time.Duration(cfg.CoolingPeriodMinutes) * time.Minute,
		BulkCategories: cfg.BulkCategories,
		Notifier:       notifier,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, catalog, time.Duration(cfg.CatalogTTLSeconds)*time.Second, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("marketplace backend listening on %s", cfg.Address())
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

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	// An empty secret falls back to a random per-process one in dev; a
	// short explicit secret is always a mistake.
	if cfg.AuthSecret != "" && len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be at least 32 characters when set")
	}
	if cfg.DatabaseURL != "" && cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET must be set when running against postgres")
	}
	if len(cfg.BulkCategories) == 0 {
		return fmt.Errorf("BULK_CATEGORIES must name at least one category")
	}
	return nil
}
