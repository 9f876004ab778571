// Package main はAPIサーバーのエントリーポイントです。
package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/audit"
	"github.com/yourusername/ace-job-agency/internal/auth"
	"github.com/yourusername/ace-job-agency/internal/config"
	"github.com/yourusername/ace-job-agency/internal/fieldcrypt"
	"github.com/yourusername/ace-job-agency/internal/httpx"
	"github.com/yourusername/ace-job-agency/internal/lockout"
	"github.com/yourusername/ace-job-agency/internal/logging"
	"github.com/yourusername/ace-job-agency/internal/password"
	"github.com/yourusername/ace-job-agency/internal/profile"
	"github.com/yourusername/ace-job-agency/internal/recaptcha"
	"github.com/yourusername/ace-job-agency/internal/resume"
	"github.com/yourusername/ace-job-agency/internal/session"
	"github.com/yourusername/ace-job-agency/internal/storage"
	"github.com/yourusername/ace-job-agency/internal/storage/postgres"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.Load,
			newLogger,
			newDatabase,
			newAccountStore,
			newRedisClient,
			newSessionDirectory,
			newCipher,
			newVerifier,
			newAuditSink,
			newAuditRecorder,
			newResumeStore,
			newAuthService,
			newAuthHandler,
			newProfileHandler,
			newRateLimiter,
			newRouter,
		),
		fx.Invoke(startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(!cfg.IsRelease())
}

// newDatabase は DATABASE_URL があれば接続してマイグレーションを適用します。未設定なら nil を返します。
func newDatabase(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL is not set, using in-memory account store")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

func newAccountStore(db *sql.DB) account.Store {
	if db == nil {
		return account.NewMemoryStore()
	}
	return postgres.NewAccountRepository(db)
}

// newCipher は NRIC 用の暗号器を作成します。鍵が無い場合は設定で許可されたときだけ一時鍵を使います。
func newCipher(cfg *config.Config, logger *zap.Logger) (*fieldcrypt.Cipher, error) {
	key, err := cfg.FieldKey()
	if err != nil {
		return nil, err
	}
	if key == nil {
		if !cfg.AllowEphemeralFieldKey {
			return nil, errors.New("FIELD_ENCRYPTION_KEY is required")
		}
		logger.Warn("FIELD_ENCRYPTION_KEY is not set, generated a throwaway key; stored NRIC values will not survive a restart")
		if key, err = fieldcrypt.GenerateKey(); err != nil {
			return nil, err
		}
	}
	return fieldcrypt.New(key)
}

func newVerifier(cfg *config.Config, logger *zap.Logger) recaptcha.Verifier {
	if cfg.RecaptchaDisabled {
		logger.Warn("reCAPTCHA verification is disabled")
		return recaptcha.Static{Outcome: recaptcha.Passed}
	}
	return recaptcha.NewClient(cfg.RecaptchaSecretKey,
		recaptcha.WithVerifyURL(cfg.RecaptchaVerifyURL),
		recaptcha.WithMinScore(cfg.RecaptchaMinScore),
		recaptcha.WithLogger(logger),
	)
}

func newAuditRecorder(sink audit.Sink, logger *zap.Logger) *audit.Recorder {
	return audit.NewRecorder(sink, logger)
}

func newResumeStore(cfg *config.Config) (*storage.Local, error) {
	return storage.NewLocal(cfg.UploadDir)
}

type serviceParams struct {
	fx.In

	Config   *config.Config
	Accounts account.Store
	Sessions session.Directory
	Cipher   *fieldcrypt.Cipher
	Audit    *audit.Recorder
	Verifier recaptcha.Verifier
	Resumes  *storage.Local
	Logger   *zap.Logger
}

func newAuthService(p serviceParams) (*auth.Service, error) {
	return auth.NewService(auth.Deps{
		Accounts: p.Accounts,
		Sessions: p.Sessions,
		Hasher:   password.NewHasher(p.Config.BcryptCost),
		Cipher:   p.Cipher,
		Lockout: lockout.Policy{
			MaxAttempts: p.Config.LockoutMaxAttempts,
			Duration:    p.Config.LockoutDuration,
		},
		Audit:     p.Audit,
		Recaptcha: p.Verifier,
		Resumes:   p.Resumes,
		Uploads:   resume.NewValidator(p.Config.MaxResumeBytes),
		Logger:    p.Logger,
	})
}

func newAuthHandler(cfg *config.Config, svc *auth.Service, logger *zap.Logger) *auth.Handler {
	return auth.NewHandler(svc, cfg.RecaptchaSiteKey, cfg.MaxResumeBytes, logger)
}

func newProfileHandler(svc *auth.Service, logger *zap.Logger) *profile.Handler {
	return profile.NewHandler(svc, logger)
}

func newRateLimiter(cfg *config.Config) *httpx.RateLimiter {
	return httpx.NewRateLimiter(cfg.LoginRateLimitRPM, cfg.LoginRateLimitBurst)
}

// handleHealth はヘルスチェックエンドポイントのハンドラーです。
func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "ace-job-agency",
		"version": "0.1.0",
	})
}

type routerParams struct {
	fx.In

	Config    *config.Config
	Logger    *zap.Logger
	Auth      *auth.Handler
	Profile   *profile.Handler
	RateLimit *httpx.RateLimiter
}

// newRouter はミドルウェアとルーティングを組み立てます。
func newRouter(p routerParams) (*gin.Engine, error) {
	gin.SetMode(p.Config.GinMode)

	router := gin.New()
	router.Use(httpx.Recovery())
	router.Use(logging.RequestLogger(p.Logger))
	router.Use(httpx.SecurityHeaders())

	// CORSミドルウェアの設定
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = p.Config.AllowedOrigins()
	corsConfig.AllowCredentials = true
	corsConfig.AllowHeaders = []string{
		"Origin",
		"Content-Type",
		"Accept",
		"X-CSRF-Token", // CSRF保護用ヘッダー
	}
	router.Use(cors.New(corsConfig))

	secret, err := sessionSecret(p.Config, p.Logger)
	if err != nil {
		return nil, err
	}
	router.Use(session.Middleware(session.NewCookieStore(session.CookieOptions{
		Secret:        secret,
		EncryptionKey: []byte(p.Config.SessionEncryptionKey),
		IdleTimeout:   p.Config.SessionIdleTimeout,
		Secure:        p.Config.IsRelease(),
	})))

	router.GET("/health", handleHealth)
	p.Auth.RegisterRoutes(router, p.RateLimit.Handler())
	p.Profile.RegisterRoutes(router, p.Auth.RequireLogin())
	httpx.RegisterErrorRoutes(router)
	return router, nil
}

// sessionSecret はクッキー署名鍵を返します。開発時に未設定なら起動ごとに生成します。
func sessionSecret(cfg *config.Config, logger *zap.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	logger.Warn("SESSION_SECRET is not set, sessions will not survive a restart")
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	return buf, nil
}

func startHTTPServer(lc fx.Lifecycle, router *gin.Engine, cfg *config.Config, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("starting API server", zap.String("addr", srv.Addr), zap.String("mode", cfg.GinMode))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
