// Package account はアカウントとパスワード履歴のモデル、および永続化の契約を定義します。
package account

import (
	"strings"
	"time"

	"github.com/yourusername/ace-job-agency/internal/lockout"
)

// UnknownID は認証前の失敗など、アカウントが特定できない場合に使う番兵値です。
const UnknownID int64 = 0

// Account は登録済みユーザーを表します。
type Account struct {
	ID                 int64
	FirstName          string
	LastName           string
	Gender             string
	EncryptedNRIC      string
	Email              string
	PasswordHash       string
	DateOfBirth        time.Time
	ResumePath         string
	WhoAmI             string
	Lockout            lockout.State
	SessionID          string
	LastLoginAt        *time.Time
	CreatedAt          time.Time
	LastPasswordChange *time.Time
}

// PasswordHistoryEntry は資格情報を作成するたびに追記されるパスワードハッシュの記録です。
type PasswordHistoryEntry struct {
	ID           int64
	AccountID    int64
	PasswordHash string
	ChangedAt    time.Time
}

// NormalizeEmail はメールアドレスを比較用に正規化します。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Clone はポインタ項目を含めて複製します。
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.Lockout.LockedUntil = cloneTime(a.Lockout.LockedUntil)
	cp.LastLoginAt = cloneTime(a.LastLoginAt)
	cp.LastPasswordChange = cloneTime(a.LastPasswordChange)
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
