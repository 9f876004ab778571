package auth

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/yourusername/ace-job-agency/internal/account"
)

// 利用者に返すメッセージ
const (
	MsgInvalidCredentials = "Invalid email or password"
	MsgRecaptchaFailed    = "reCAPTCHA verification failed. Please try again."
	MsgDuplicateEmail     = "This email is already registered"
	MsgSessionTerminated  = "Your session has been terminated due to login from another device."
	MsgRegistered         = "Registration successful! Please login."
)

var (
	// ErrDuplicateEmail は登録済みのメールアドレスを表します。account.ErrDuplicateEmail と同一です。
	ErrDuplicateEmail = account.ErrDuplicateEmail

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountLocked      = errors.New("account locked")
	ErrRecaptchaFailed    = errors.New("recaptcha verification failed")

	// ErrSessionExpired はセッションが存在しないか無操作で失効したことを表します。
	ErrSessionExpired = errors.New("session expired")
	// ErrSessionSuperseded は別の端末でのログインによりセッションが無効化されたことを表します。
	ErrSessionSuperseded = errors.New("session superseded by a newer login")
)

// ValidationError は入力値の検証エラーです。Fields はフィールド名からメッセージへの対応です。
type ValidationError struct {
	Fields map[string]string
	// Missing はパスワードが満たしていないルールの一覧です。
	Missing []string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + ": " + e.Fields[k]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Hint はパスワードの不足ルールを表示用にまとめます。
func (e *ValidationError) Hint() string {
	if len(e.Missing) == 0 {
		return ""
	}
	return "Missing: " + strings.Join(e.Missing, ", ")
}

// CredentialsError はパスワード不一致です。errors.Is(err, ErrInvalidCredentials) が真になります。
type CredentialsError struct {
	Remaining int
}

func (e *CredentialsError) Error() string {
	return fmt.Sprintf("invalid credentials (%d attempt(s) remaining)", e.Remaining)
}

func (e *CredentialsError) Is(target error) bool {
	return target == ErrInvalidCredentials
}

// Message は画面に出す文言を返します。
func (e *CredentialsError) Message() string {
	if e.Remaining <= 0 {
		return MsgInvalidCredentials
	}
	return fmt.Sprintf("%s. %d attempt(s) remaining.", MsgInvalidCredentials, e.Remaining)
}

// AccountLockedError はロック中のアカウントへの試行、またはこの試行でロックされたことを表します。
type AccountLockedError struct {
	RemainingMinutes int
	JustLocked       bool
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked for %d minute(s)", e.RemainingMinutes)
}

func (e *AccountLockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

func (e *AccountLockedError) Message() string {
	if e.JustLocked {
		return fmt.Sprintf("Account locked for %d minutes due to multiple failed login attempts.", e.RemainingMinutes)
	}
	return fmt.Sprintf("Account is locked. Please try again in %d minute(s).", e.RemainingMinutes)
}
