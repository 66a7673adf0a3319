package config

import (
	"log"
	"os"
	"strconv"
	"time"
)

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string

	MaxOpenConns int
	Migrate      bool
}

type RedisConfig struct {
	Enabled     bool
	Addr        string
	Password    string
	DB          int
	MaxRetries  int
	DialTimeout int
	Timeout     int
	Prefix      string
}

type S3Config struct {
	Enabled         bool
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
	Region          string
	Prefix          string
	PresignTTL      time.Duration
}

type StorageConfig struct {
	DocumentDir     string
	ReportDir       string
	PublicPrefix    string
	ExternalURL     string
	ReportRetention time.Duration
}

type StampingConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration

	Page   int
	X      float64
	Y      float64
	Width  float64
	Height float64
}

type RendererConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type SettlementConfig struct {
	LockTTL time.Duration
}

type AppConfig struct {
	Port       string
	APIToken   string
	Postgres   PostgresConfig
	Redis      RedisConfig
	S3         S3Config
	Storage    StorageConfig
	Stamping   StampingConfig
	Renderer   RendererConfig
	Settlement SettlementConfig
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func mustAtoi(s string) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int value %q: %v", s, err)
	}
	return i
}

func mustBool(s string) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		log.Fatalf("invalid bool value %q: %v", s, err)
	}
	return b
}

func mustFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		log.Fatalf("invalid float value %q: %v", s, err)
	}
	return f
}

func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration value %q: %v", s, err)
	}
	return d
}

func Load() AppConfig {
	return AppConfig{
		Port:     getenv("APP_PORT", "8010"),
		APIToken: getenv("API_TOKEN", ""),
		Postgres: PostgresConfig{
			Host:         getenv("PG_HOST", "127.0.0.1"),
			Port:         mustAtoi(getenv("PG_PORT", "5432")),
			User:         getenv("PG_USER", "coop"),
			Password:     getenv("PG_PASSWORD", "coop"),
			DBName:       getenv("PG_DB", "coop_settlement"),
			SSLMode:      getenv("PG_SSLMODE", "disable"),
			MaxOpenConns: mustAtoi(getenv("PG_MAX_OPEN_CONNS", "20")),
			Migrate:      mustBool(getenv("PG_MIGRATE", "false")),
		},
		Redis: RedisConfig{
			Enabled:     mustBool(getenv("REDIS_ENABLED", "true")),
			Addr:        getenv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:    getenv("REDIS_PASSWORD", ""),
			DB:          mustAtoi(getenv("REDIS_DB", "0")),
			MaxRetries:  mustAtoi(getenv("REDIS_MAX_RETRIES", "5")),
			DialTimeout: mustAtoi(getenv("REDIS_DIAL_TIMEOUT", "10")),
			Timeout:     mustAtoi(getenv("REDIS_TIMEOUT", "5")),
			Prefix:      getenv("REDIS_PREFIX", "coop_settlement_"),
		},
		S3: S3Config{
			Enabled:         mustBool(getenv("S3_ENABLED", "false")),
			Endpoint:        getenv("S3_ENDPOINT", "localhost:9000"),
			AccessKeyID:     getenv("S3_ACCESS_KEY", "minio"),
			SecretAccessKey: getenv("S3_SECRET_KEY", "minio123"),
			Bucket:          getenv("S3_BUCKET", "contracts"),
			Region:          getenv("S3_REGION", "us-east-1"),
			UseSSL:          mustBool(getenv("S3_USE_SSL", "false")),
			Prefix:          getenv("S3_PREFIX", "stamped/"),
			PresignTTL:      mustDuration(getenv("S3_PRESIGN_TTL", "15m")),
		},
		Storage: StorageConfig{
			DocumentDir:     getenv("DOCUMENT_DIR", "./documents"),
			ReportDir:       getenv("REPORT_DIR", "./reports"),
			PublicPrefix:    getenv("FILES_PUBLIC_PREFIX", "/documents"),
			ExternalURL:     getenv("EXTERNAL_URL", ""),
			ReportRetention: mustDuration(getenv("REPORT_RETENTION", "24h")),
		},
		Stamping: StampingConfig{
			BaseURL: getenv("STAMP_BASE_URL", ""),
			APIKey:  getenv("STAMP_API_KEY", ""),
			Timeout: mustDuration(getenv("STAMP_TIMEOUT", "30s")),
			Page:    mustAtoi(getenv("STAMP_PAGE", "1")),
			X:       mustFloat(getenv("STAMP_X", "400")),
			Y:       mustFloat(getenv("STAMP_Y", "80")),
			Width:   mustFloat(getenv("STAMP_WIDTH", "120")),
			Height:  mustFloat(getenv("STAMP_HEIGHT", "60")),
		},
		Renderer: RendererConfig{
			BaseURL: getenv("RENDERER_BASE_URL", ""),
			APIKey:  getenv("RENDERER_API_KEY", ""),
			Timeout: mustDuration(getenv("RENDERER_TIMEOUT", "20s")),
		},
		Settlement: SettlementConfig{
			LockTTL: mustDuration(getenv("SETTLEMENT_LOCK_TTL", "2m")),
		},
	}
}
