package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// バックエンド種別
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendDynamoDB = "dynamodb"
	BackendS3       = "s3"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Backends
	LedgerBackend string
	HeadBackend   string
	BlobBackend   string

	// AWS
	AWSRegion         string
	S3BucketName      string
	S3KeyPrefix       string
	DynamoDBHeadTable string

	// Invite
	InviteMaxDuration time.Duration
	CleanupInterval   time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitInvite  int

	// Identity
	DisplayNames string

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.LedgerBackend = getEnvString("LEDGER_BACKEND", BackendPostgres)
	cfg.HeadBackend = getEnvString("HEAD_BACKEND", BackendPostgres)
	cfg.BlobBackend = getEnvString("BLOB_BACKEND", BackendPostgres)
	cfg.AWSRegion = getEnvString("AWS_REGION", "ap-northeast-1")
	cfg.S3BucketName = os.Getenv("S3_BUCKET_NAME")
	cfg.S3KeyPrefix = getEnvString("S3_KEY_PREFIX", "giftshare/")
	cfg.DynamoDBHeadTable = os.Getenv("DYNAMODB_HEAD_TABLE")

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" && cfg.UsesPostgres() {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.BlobBackend == BackendS3 && cfg.S3BucketName == "" {
		missing = append(missing, "S3_BUCKET_NAME")
	}
	if cfg.HeadBackend == BackendDynamoDB && cfg.DynamoDBHeadTable == "" {
		missing = append(missing, "DYNAMODB_HEAD_TABLE")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if err := validateBackend("LEDGER_BACKEND", cfg.LedgerBackend, BackendPostgres, BackendMemory); err != nil {
		return nil, err
	}
	if err := validateBackend("HEAD_BACKEND", cfg.HeadBackend, BackendPostgres, BackendDynamoDB, BackendMemory); err != nil {
		return nil, err
	}
	if err := validateBackend("BLOB_BACKEND", cfg.BlobBackend, BackendPostgres, BackendS3, BackendMemory); err != nil {
		return nil, err
	}
	if err := cfg.validateCombination(); err != nil {
		return nil, err
	}

	// Optional fields with defaults
	cfg.InviteMaxDuration = getEnvDuration("INVITE_MAX_DURATION", 30*24*time.Hour)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitInvite = getEnvInt("RATE_LIMIT_INVITE", 10)
	cfg.DisplayNames = os.Getenv("DISPLAY_NAMES")
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// UsesPostgres はいずれかのストアがPostgreSQLを使用するかどうかを返す。
func (c *Config) UsesPostgres() bool {
	return c.LedgerBackend == BackendPostgres || c.HeadBackend == BackendPostgres || c.BlobBackend == BackendPostgres
}

// validateCombination は組み合わせられないバックエンド指定を拒否する。
//   - 永続ヘッドとインメモリブロブ: 再起動後にヘッドが参照するドキュメントが失われる
//   - インメモリ台帳とPostgreSQLヘッド: gift_metadata_headsはgift_ownershipsを外部キー参照する
func (c *Config) validateCombination() error {
	if c.HeadBackend != BackendMemory && c.BlobBackend == BackendMemory {
		return fmt.Errorf("HEAD_BACKEND %q requires a durable BLOB_BACKEND (postgres or s3), got %q", c.HeadBackend, c.BlobBackend)
	}
	if c.LedgerBackend == BackendMemory && c.HeadBackend == BackendPostgres {
		return fmt.Errorf("HEAD_BACKEND %q requires LEDGER_BACKEND %q", c.HeadBackend, BackendPostgres)
	}
	return nil
}

func validateBackend(key, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q: must be one of %s", key, value, strings.Join(allowed, ", "))
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
