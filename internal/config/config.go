package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	Timezone              string
	Location              *time.Location
	IdempotencyTTLSeconds int
	LoyaltyVisitThreshold int
	LoyaltyVisitPercent   float64
	BirthdayPercent       float64
}

func Load() Config {
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))
	idemTTL, err := strconv.Atoi(getEnv("IDEMPOTENCY_TTL_SECONDS", "86400"))
	if err != nil || idemTTL < 1 {
		idemTTL = 86400
	}
	tokenTTL, err := strconv.Atoi(getEnv("ACCESS_TOKEN_TTL_MINUTES", "480"))
	if err != nil || tokenTTL < 1 {
		tokenTTL = 480
	}
	visitThreshold, err := strconv.Atoi(getEnv("LOYALTY_VISIT_THRESHOLD", "2"))
	if err != nil || visitThreshold < 1 {
		visitThreshold = 2
	}
	visitPercent := getEnvFloat("LOYALTY_VISIT_PERCENT", 15)
	birthdayPercent := getEnvFloat("BIRTHDAY_PERCENT", 10)

	timezone := getEnv("TIMEZONE", "America/Sao_Paulo")
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Printf("[config] WARN: invalid TIMEZONE %q, falling back to UTC: %v", timezone, err)
		timezone = "UTC"
		loc = time.UTC
	}

	cfg := Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://127.0.0.1:3000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisAddr:             os.Getenv("REDIS_ADDR"),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               redisDB,
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: tokenTTL,
		Timezone:              timezone,
		Location:              loc,
		IdempotencyTTLSeconds: idemTTL,
		LoyaltyVisitThreshold: visitThreshold,
		LoyaltyVisitPercent:   visitPercent,
		BirthdayPercent:       birthdayPercent,
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key string, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getEnvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil || val <= 0 || val > 100 {
		return fallback
	}
	return val
}
