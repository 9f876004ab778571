package account

import (
	"context"
	"errors"
)

var (
	// ErrNotFound はアカウントが存在しないことを表します。
	ErrNotFound = errors.New("account not found")
	// ErrDuplicateEmail はメールアドレスの一意制約違反を表します。
	ErrDuplicateEmail = errors.New("email already registered")
)

// MutateFunc は Update でロック中のアカウントを書き換える関数です。
// エラーを返した場合は何も保存されません。
type MutateFunc func(*Account) error

// Store はアカウントの永続化を担います。
type Store interface {
	// Create はアカウントと最初のパスワード履歴を1トランザクションで保存します。
	Create(ctx context.Context, acct *Account, history PasswordHistoryEntry) (*Account, error)
	EmailExists(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id int64) (*Account, error)
	// Update は読み込み・変更・保存をアカウント単位で排他的に行います。
	// ロックアウトカウンターとセッションIDの更新は必ずここを通します。
	Update(ctx context.Context, id int64, fn MutateFunc) (*Account, error)
	PasswordHistory(ctx context.Context, accountID int64) ([]PasswordHistoryEntry, error)
}
