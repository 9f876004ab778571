// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// セッション設定
	SessionSecret        string        // クッキー署名用の秘密鍵
	SessionEncryptionKey string        // クッキー暗号化用の鍵（16/24/32バイト、任意）
	SessionIdleTimeout   time.Duration // 無操作タイムアウト

	// 永続化
	DatabaseURL string // PostgreSQL DSN（空の場合はインメモリストア）
	RedisURL    string // セッションディレクトリ/監査キュー用Redis（空の場合はインメモリ）
	AuditMode   string // sync または queue

	// 暗号化設定
	FieldEncryptionKey     string // NRIC暗号化鍵（base64, 32バイト）
	AllowEphemeralFieldKey bool   // 鍵未設定時に一時鍵を生成するか（再起動で復号不能になる）

	// パスワード・ロックアウト
	BcryptCost          int
	LockoutMaxAttempts  int
	LockoutDuration     time.Duration
	LoginRateLimitRPM   int // /Account/* POST の1IPあたり毎分上限
	LoginRateLimitBurst int

	// reCAPTCHA設定
	RecaptchaSiteKey   string
	RecaptchaSecretKey string
	RecaptchaVerifyURL string
	RecaptchaMinScore  float64
	RecaptchaDisabled  bool // ローカル開発用に検証をスキップ

	// ファイル制限
	UploadDir      string // 履歴書の保存先ルート
	MaxResumeBytes int64  // 履歴書の最大サイズ（バイト）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	loadEnvFile()

	config := &Config{
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		SessionSecret:        getEnv("SESSION_SECRET", ""),
		SessionEncryptionKey: getEnv("SESSION_ENCRYPTION_KEY", ""),
		SessionIdleTimeout:   time.Duration(getEnvAsInt("SESSION_IDLE_MINUTES", 20)) * time.Minute,

		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		AuditMode:   strings.ToLower(getEnv("AUDIT_MODE", "sync")),

		FieldEncryptionKey:     getEnv("FIELD_ENCRYPTION_KEY", ""),
		AllowEphemeralFieldKey: getEnvAsBool("FIELD_ENCRYPTION_ALLOW_EPHEMERAL", false),

		BcryptCost:          getEnvAsInt("BCRYPT_COST", 12),
		LockoutMaxAttempts:  getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 3),
		LockoutDuration:     time.Duration(getEnvAsInt("LOCKOUT_MINUTES", 15)) * time.Minute,
		LoginRateLimitRPM:   getEnvAsInt("LOGIN_RATE_LIMIT_RPM", 30),
		LoginRateLimitBurst: getEnvAsInt("LOGIN_RATE_LIMIT_BURST", 10),

		RecaptchaSiteKey:   getEnv("RECAPTCHA_SITE_KEY", ""),
		RecaptchaSecretKey: getEnv("RECAPTCHA_SECRET_KEY", ""),
		RecaptchaVerifyURL: getEnv("RECAPTCHA_VERIFY_URL", "https://www.google.com/recaptcha/api/siteverify"),
		RecaptchaMinScore:  getEnvAsFloat("RECAPTCHA_MIN_SCORE", 0.5),
		RecaptchaDisabled:  getEnvAsBool("RECAPTCHA_DISABLED", false),

		UploadDir:      getEnv("UPLOAD_DIR", filepath.Join("wwwroot", "uploads", "resumes")),
		MaxResumeBytes: getEnvAsInt64("MAX_RESUME_BYTES", 5*1024*1024), // 5MB
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.AuditMode != "sync" && c.AuditMode != "queue" {
		return fmt.Errorf("AUDIT_MODE must be sync or queue, got %q", c.AuditMode)
	}
	if c.AuditMode == "queue" && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required when AUDIT_MODE=queue")
	}
	if c.AuditMode == "queue" && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required when AUDIT_MODE=queue")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}
	if c.LockoutMaxAttempts <= 0 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be positive")
	}
	if c.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_MINUTES must be positive")
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_MINUTES must be positive")
	}
	if c.MaxResumeBytes <= 0 {
		return fmt.Errorf("MAX_RESUME_BYTES must be positive")
	}

	// 鍵が無いまま起動すると過去に暗号化したNRICが復号できなくなるため、明示的な許可が無い限り起動を止める
	if c.FieldEncryptionKey == "" && !c.AllowEphemeralFieldKey {
		return fmt.Errorf("FIELD_ENCRYPTION_KEY is required (set FIELD_ENCRYPTION_ALLOW_EPHEMERAL=true to use a throwaway key)")
	}
	if c.FieldEncryptionKey != "" {
		if _, err := c.FieldKey(); err != nil {
			return err
		}
	}

	switch len(c.SessionEncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("SESSION_ENCRYPTION_KEY must be 16, 24 or 32 bytes")
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required in release mode")
		}
		if c.RecaptchaDisabled {
			return fmt.Errorf("RECAPTCHA_DISABLED is not allowed in release mode")
		}
		if c.RecaptchaSecretKey == "" {
			return fmt.Errorf("RECAPTCHA_SECRET_KEY is required in release mode")
		}
		if c.AllowEphemeralFieldKey {
			return fmt.Errorf("FIELD_ENCRYPTION_ALLOW_EPHEMERAL is not allowed in release mode")
		}
	}

	return nil
}

// FieldKey は base64 でエンコードされたNRIC暗号化鍵をデコードして返します。
// 鍵が設定されていない場合は nil を返します。
func (c *Config) FieldKey() ([]byte, error) {
	if c.FieldEncryptionKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.FieldEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("FIELD_ENCRYPTION_KEY must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// IsRelease は本番モードかどうかを返します。
func (c *Config) IsRelease() bool {
	return c.GinMode == "release"
}

// AllowedOrigins は CORS 許可オリジンを配列で返します。
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if trimmed := strings.TrimSpace(o); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	}
	return defaultValue
}
