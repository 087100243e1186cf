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

	"github.com/joho/godotenv"

	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/cache"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/config"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/domain"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/httpapi"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/loyalty"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/service"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/stock"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store"
	"github.com/cristophermlima/pierce-hub-suite-sub000/internal/store/memory"
	pgstore "github.com/cristophermlima/pierce-hub-suite-sub000/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("dotenv: %v", err)
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	saleCache := cache.SaleCache(cache.NoopSaleCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisSaleCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using noop cache", err)
		} else {
			saleCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Println("cache: redis")
		}
	} else {
		log.Println("cache: noop")
	}

	engine := loyalty.NewEngine(
		&domain.LoyaltyRule{
			VisitThreshold:  cfg.LoyaltyVisitThreshold,
			DiscountPercent: cfg.LoyaltyVisitPercent,
			Reason:          "cliente frequente",
		},
		&domain.BirthdayRule{
			DiscountPercent: cfg.BirthdayPercent,
			Reason:          "aniversario",
		},
		cfg.Location,
	)

	ledger := stock.NewLedger(repo)
	svc := service.New(repo, ledger, engine, saleCache, cfg.Location, time.Duration(cfg.IdempotencyTTLSeconds)*time.Second)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("sale core listening on %s", cfg.Address())
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
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
