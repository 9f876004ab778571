// Package auth は登録・ログイン・ログアウトとセッション検証を提供します。
//
// Service がドメインの手順を実行し、Handler と Middleware が Gin との橋渡しをします。
package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/audit"
	"github.com/yourusername/ace-job-agency/internal/fieldcrypt"
	"github.com/yourusername/ace-job-agency/internal/lockout"
	"github.com/yourusername/ace-job-agency/internal/password"
	"github.com/yourusername/ace-job-agency/internal/recaptcha"
	"github.com/yourusername/ace-job-agency/internal/resume"
	"github.com/yourusername/ace-job-agency/internal/session"
)

// RequestContext はリクエストごとの呼び出し元情報です。ハンドラーで1度だけ組み立てて渡します。
type RequestContext struct {
	AccountID int64
	SessionID string
	IP        string
	UserAgent string
	Now       time.Time
}

// ResumeStore は履歴書ファイルの保存先です。
type ResumeStore interface {
	Save(ctx context.Context, ext string, r io.Reader) (string, error)
	Remove(ctx context.Context, publicPath string) error
}

// Upload はアップロードされたファイルです。
type Upload struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// RegisterInput は登録フォームの内容です。
type RegisterInput struct {
	FirstName       string
	LastName        string
	Gender          string
	NRIC            string
	Email           string
	Password        string
	ConfirmPassword string
	DateOfBirth     time.Time
	WhoAmI          string
	Resume          *Upload
	RecaptchaToken  string
}

// LoginInput はログインフォームの内容です。
type LoginInput struct {
	Email          string
	Password       string
	RecaptchaToken string
}

// LoginResult はログイン成功時の結果です。
type LoginResult struct {
	Account *account.Account
	Session session.Record
	// Superseded は無効化された以前のセッション ID です。なければ空です。
	Superseded string
}

// Deps は Service の依存です。
type Deps struct {
	Accounts  account.Store
	Sessions  session.Directory
	Hasher    *password.Hasher
	Cipher    *fieldcrypt.Cipher
	Lockout   lockout.Policy
	Audit     *audit.Recorder
	Recaptcha recaptcha.Verifier
	Resumes   ResumeStore
	Uploads   *resume.Validator
	Logger    *zap.Logger
}

// Service は認証まわりの手順をまとめます。
type Service struct {
	accounts  account.Store
	sessions  session.Directory
	hasher    *password.Hasher
	cipher    *fieldcrypt.Cipher
	lockout   lockout.Policy
	audit     *audit.Recorder
	verifier  recaptcha.Verifier
	resumes   ResumeStore
	uploads   *resume.Validator
	sanitizer *bluemonday.Policy
	validate  *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewService は Service を作成します。
func NewService(d Deps) (*Service, error) {
	switch {
	case d.Accounts == nil:
		return nil, errors.New("accounts store is required")
	case d.Sessions == nil:
		return nil, errors.New("session directory is required")
	case d.Cipher == nil:
		return nil, errors.New("field cipher is required")
	case d.Recaptcha == nil:
		return nil, errors.New("recaptcha verifier is required")
	}
	if d.Hasher == nil {
		d.Hasher = password.NewHasher(password.DefaultCost)
	}
	if d.Lockout.MaxAttempts <= 0 || d.Lockout.Duration <= 0 {
		d.Lockout = lockout.DefaultPolicy()
	}
	if d.Uploads == nil {
		d.Uploads = resume.NewValidator(0)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Audit == nil {
		d.Audit = audit.NewRecorder(nil, d.Logger)
	}
	return &Service{
		accounts:  d.Accounts,
		sessions:  d.Sessions,
		hasher:    d.Hasher,
		cipher:    d.Cipher,
		lockout:   d.Lockout,
		audit:     d.Audit,
		verifier:  d.Recaptcha,
		resumes:   d.Resumes,
		uploads:   d.Uploads,
		sanitizer: bluemonday.StrictPolicy(),
		validate:  newValidator(),
		logger:    d.Logger,
		now:       time.Now,
	}, nil
}

// WithClock は時刻取得関数を差し替えます（テスト用）。
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) clock(rc RequestContext) time.Time {
	if !rc.Now.IsZero() {
		return rc.Now.UTC()
	}
	return s.now().UTC()
}

func (s *Service) record(ctx context.Context, rc RequestContext, accountID int64, action, email string) {
	s.audit.Record(ctx, audit.Event{
		AccountID: accountID,
		Action:    action,
		Timestamp: s.clock(rc),
		IPAddress: rc.IP,
		UserAgent: rc.UserAgent,
		Email:     email,
	})
}

func (s *Service) checkChallenge(ctx context.Context, rc RequestContext, token string) error {
	res := s.verifier.Verify(ctx, token, rc.IP)
	if !res.OK() {
		return fmt.Errorf("%w: %s", ErrRecaptchaFailed, res.Outcome)
	}
	return nil
}

// Register は新しいアカウントを作成します。
func (s *Service) Register(ctx context.Context, rc RequestContext, in RegisterInput) (*account.Account, error) {
	if err := s.checkChallenge(ctx, rc, in.RecaptchaToken); err != nil {
		return nil, err
	}

	if res := password.Validate(in.Password); !res.OK {
		return nil, &ValidationError{
			Fields:  map[string]string{"Password": res.Reason},
			Missing: res.Missing,
		}
	}

	now := s.clock(rc)
	email := account.NormalizeEmail(in.Email)
	shape := registerShape{
		FirstName:       in.FirstName,
		LastName:        in.LastName,
		Gender:          in.Gender,
		NRIC:            in.NRIC,
		Email:           email,
		Password:        in.Password,
		ConfirmPassword: in.ConfirmPassword,
		DateOfBirth:     in.DateOfBirth,
		WhoAmI:          in.WhoAmI,
	}
	if verr := s.validateShape(shape, now.Truncate(24*time.Hour)); verr != nil {
		return nil, verr
	}

	exists, err := s.accounts.EmailExists(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("check email: %w", err)
	}
	if exists {
		return nil, ErrDuplicateEmail
	}

	resumePath, err := s.storeResume(ctx, in.Resume)
	if err != nil {
		return nil, err
	}

	encryptedNRIC, err := s.cipher.Encrypt(in.NRIC)
	if err != nil {
		s.discardResume(ctx, resumePath)
		return nil, fmt.Errorf("encrypt nric: %w", err)
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.discardResume(ctx, resumePath)
		return nil, err
	}

	changed := now
	acct := &account.Account{
		FirstName:          s.sanitizer.Sanitize(in.FirstName),
		LastName:           s.sanitizer.Sanitize(in.LastName),
		Gender:             in.Gender,
		EncryptedNRIC:      encryptedNRIC,
		Email:              email,
		PasswordHash:       hash,
		DateOfBirth:        in.DateOfBirth,
		ResumePath:         resumePath,
		WhoAmI:             s.sanitizer.Sanitize(in.WhoAmI),
		CreatedAt:          now,
		LastPasswordChange: &changed,
	}

	created, err := s.accounts.Create(ctx, acct, account.PasswordHistoryEntry{
		PasswordHash: hash,
		ChangedAt:    now,
	})
	if err != nil {
		s.discardResume(ctx, resumePath)
		if errors.Is(err, account.ErrDuplicateEmail) {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.record(ctx, rc, created.ID, audit.ActionRegistered, created.Email)
	s.logger.Info("account registered", zap.Int64("account_id", created.ID))
	return created, nil
}

func (s *Service) storeResume(ctx context.Context, up *Upload) (string, error) {
	if up == nil {
		return "", nil
	}
	ext, err := s.uploads.Check(up.Filename, up.Size, up.Content)
	if err != nil {
		return "", err
	}
	if s.resumes == nil {
		return "", errors.New("resume storage is not configured")
	}
	p, err := s.resumes.Save(ctx, ext, up.Content)
	if err != nil {
		return "", fmt.Errorf("store resume: %w", err)
	}
	return p, nil
}

func (s *Service) discardResume(ctx context.Context, p string) {
	if p == "" || s.resumes == nil {
		return
	}
	if err := s.resumes.Remove(ctx, p); err != nil {
		s.logger.Warn("failed to remove orphaned resume", zap.String("path", p), zap.Error(err))
	}
}

type loginOutcome int

const (
	outcomeLocked loginOutcome = iota + 1
	outcomeFailed
	outcomeJustLocked
	outcomeSucceeded
)

// errNoWrite は Update で変更がないため保存を省くための内部エラーです。
var errNoWrite = errors.New("no write")

// Login は資格情報を検証し、新しいセッションを発行します。
// ロックアウト判定からセッション ID の差し替えまではアカウント行のロック内で行います。
func (s *Service) Login(ctx context.Context, rc RequestContext, in LoginInput) (*LoginResult, error) {
	if err := s.checkChallenge(ctx, rc, in.RecaptchaToken); err != nil {
		return nil, err
	}

	email := account.NormalizeEmail(in.Email)
	found, err := s.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			s.record(ctx, rc, account.UnknownID, audit.ActionUserNotFound, email)
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	now := s.clock(rc)
	var (
		outcome   loginOutcome
		gate      lockout.Gate
		failure   lockout.Failure
		previous  string
		sessionID string
	)
	updated, err := s.accounts.Update(ctx, found.ID, func(a *account.Account) error {
		gate = s.lockout.Gate(&a.Lockout, now)
		if gate.Locked {
			outcome = outcomeLocked
			return errNoWrite
		}
		if !s.hasher.Verify(in.Password, a.PasswordHash) {
			failure = s.lockout.Fail(&a.Lockout, now)
			outcome = outcomeFailed
			if failure.Locked {
				outcome = outcomeJustLocked
			}
			return nil
		}

		s.lockout.Succeed(&a.Lockout)
		previous = a.SessionID
		sessionID = session.NewID()
		a.SessionID = sessionID
		loginAt := now
		a.LastLoginAt = &loginAt
		outcome = outcomeSucceeded
		return nil
	})
	if err != nil && !errors.Is(err, errNoWrite) {
		return nil, fmt.Errorf("update account: %w", err)
	}

	switch outcome {
	case outcomeLocked:
		s.record(ctx, rc, found.ID, audit.ActionLockedAttempt, email)
		return nil, &AccountLockedError{RemainingMinutes: gate.RemainingMinutes}
	case outcomeJustLocked:
		s.record(ctx, rc, found.ID, audit.ActionAccountLocked, email)
		s.logger.Warn("account locked", zap.Int64("account_id", found.ID))
		return nil, &AccountLockedError{RemainingMinutes: s.lockout.Minutes(), JustLocked: true}
	case outcomeFailed:
		s.record(ctx, rc, found.ID, audit.FailedAttempt(failure.Remaining), email)
		return nil, &CredentialsError{Remaining: failure.Remaining}
	}

	// 以前のセッションの台帳エントリは残し、次回アクセス時に Authorize で切り替えを検知させる
	if previous != "" {
		s.record(ctx, rc, updated.ID, audit.ActionMultipleSessions, email)
	}

	rec := session.Record{
		SessionID:    sessionID,
		AccountID:    updated.ID,
		Email:        updated.Email,
		LoginTime:    now,
		LastActivity: now,
	}
	if err := s.sessions.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.record(ctx, rc, updated.ID, audit.ActionLoginSucceeded, email)
	return &LoginResult{Account: updated, Session: rec, Superseded: previous}, nil
}

// Logout は現在のセッションを終了します。
// アカウント側のセッション ID は提示された ID と一致する場合だけ消します。
func (s *Service) Logout(ctx context.Context, rc RequestContext) error {
	if rc.SessionID != "" {
		if err := s.sessions.Delete(ctx, rc.SessionID); err != nil {
			s.logger.Warn("failed to delete session", zap.Error(err))
		}
	}
	if rc.AccountID == account.UnknownID {
		return nil
	}

	updated, err := s.accounts.Update(ctx, rc.AccountID, func(a *account.Account) error {
		if rc.SessionID == "" || a.SessionID != rc.SessionID {
			return errNoWrite
		}
		a.SessionID = ""
		return nil
	})
	var email string
	switch {
	case err == nil:
		email = updated.Email
	case errors.Is(err, errNoWrite):
		if a, ferr := s.accounts.FindByID(ctx, rc.AccountID); ferr == nil {
			email = a.Email
		}
	case errors.Is(err, account.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("clear session: %w", err)
	}

	s.record(ctx, rc, rc.AccountID, audit.ActionLoggedOut, email)
	return nil
}

// Authorize はセッション ID を検証し、ログイン中のアカウントを返します。
// 台帳で有効期限内であり、かつアカウントに保存された ID と一致する場合だけ有効です。
func (s *Service) Authorize(ctx context.Context, sessionID string) (*account.Account, error) {
	if sessionID == "" {
		return nil, ErrSessionExpired
	}
	rec, err := s.sessions.Touch(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("touch session: %w", err)
	}

	acct, err := s.accounts.FindByID(ctx, rec.AccountID)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			_ = s.sessions.Delete(ctx, sessionID)
			return nil, ErrSessionExpired
		}
		return nil, fmt.Errorf("find account: %w", err)
	}

	if acct.SessionID != sessionID {
		_ = s.sessions.Delete(ctx, sessionID)
		return nil, ErrSessionSuperseded
	}
	return acct, nil
}

// RevealNRIC は保存された NRIC を表示用に復号します。失敗時は Placeholder を返します。
func (s *Service) RevealNRIC(acct *account.Account) string {
	return s.cipher.Reveal(acct.EncryptedNRIC)
}
