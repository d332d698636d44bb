// Package config loads process configuration from the environment, optionally
// seeded from a .env file.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/XeroHax/accountability-app/logger"
	"github.com/joho/godotenv"
)

// DefaultProjectID is the identity/backend project the web client is built against.
const DefaultProjectID = "accountability-place-bkdz2b"

type Config struct {
	Port        string
	Development bool
	LogLevel    logger.LogLevel
	Standalone  bool

	// Load runs before the logger exists, so these are reported by the caller.
	EnvFileLoaded        bool
	EnvironmentDefaulted bool

	StripeSecretKey     string
	StripeWebhookSecret string
	SiteURL             string

	ProjectID     string
	AuthJWTSecret string

	MongoURI      string
	MongoDatabase string
	DatabaseURL   string

	KafkaBootstrapServers string
	KafkaAPIKey           string
	KafkaAPISecret        string
	Workers               int

	CheckoutRateLimit float64
	CheckoutRateBurst int
	CorsOrigin        string
	InternalAPIKey    string

	// Stripe CLI affordances. Never set these in production.
	StripeCLIUserID                 string
	StripeCLISyntheticSubscriptions bool

	RepsCapAtCeiling bool
}

// PaymentsEnabled reports whether a Stripe secret key was supplied.
func (c *Config) PaymentsEnabled() bool {
	return c.StripeSecretKey != ""
}

// KafkaEnabled reports whether task events should travel over Kafka.
func (c *Config) KafkaEnabled() bool {
	return c.KafkaBootstrapServers != ""
}

// Load reads .env (if present) and the process environment.
func Load() *Config {
	loaded := godotenv.Load() == nil
	cfg := FromEnv()
	cfg.EnvFileLoaded = loaded
	return cfg
}

// FromEnv builds a Config from the process environment only. An unset
// ENVIRONMENT means production.
func FromEnv() *Config {
	env := strings.ToLower(strings.TrimSpace(os.Getenv("ENVIRONMENT")))
	return &Config{
		Port:                 getenv("PORT", "8080"),
		Development:          env == "development" || env == "dev",
		EnvironmentDefaulted: env == "",
		LogLevel:             logger.ParseLevel(os.Getenv("LOG_LEVEL")),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		SiteURL:             strings.TrimRight(getenv("NEXT_PUBLIC_SITE_URL", getenv("SITE_URL", "http://localhost:3000")), "/"),

		ProjectID:     getenv("FIREBASE_PROJECT_ID", DefaultProjectID),
		AuthJWTSecret: os.Getenv("AUTH_JWT_SECRET"),

		MongoURI:      os.Getenv("MONGO_URI"),
		MongoDatabase: getenv("MONGO_DATABASE", "accountability"),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		KafkaBootstrapServers: os.Getenv("KAFKA_BOOTSTRAP_SERVERS"),
		KafkaAPIKey:           os.Getenv("KAFKA_API_KEY"),
		KafkaAPISecret:        os.Getenv("KAFKA_API_SECRET"),
		Workers:               getint("WORKERS", 4),

		CheckoutRateLimit: getfloat("CHECKOUT_RATE_LIMIT", 5),
		CheckoutRateBurst: getint("CHECKOUT_RATE_BURST", 10),
		CorsOrigin:        getenv("CORS_ORIGIN", "http://localhost:3000"),
		InternalAPIKey:    os.Getenv("INTERNAL_API_KEY"),

		StripeCLIUserID:                 os.Getenv("STRIPE_CLI_USER_ID"),
		StripeCLISyntheticSubscriptions: getbool("STRIPE_CLI_SYNTHETIC_SUBSCRIPTIONS"),

		RepsCapAtCeiling: getbool("REPS_CAP_AT_CEILING"),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getfloat(key string, def float64) float64 {
	v, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

func getbool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}
