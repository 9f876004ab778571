// Package session はログインセッションの発行と保持を扱います。
//
// セッション ID そのものの正はアカウント側に保存され、ここではアイドルタイムアウト付きの
// セッション台帳とブラウザ側のクッキー操作を提供します。
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound はセッションが存在しないか期限切れであることを表します。
var ErrNotFound = errors.New("session not found")

// DefaultIdleTimeout は無操作でセッションが失効するまでの時間です。
const DefaultIdleTimeout = 20 * time.Minute

// Record はサーバー側に保持するセッション情報です。
type Record struct {
	SessionID    string    `json:"sessionId"`
	AccountID    int64     `json:"accountId"`
	Email        string    `json:"email"`
	LoginTime    time.Time `json:"loginTime"`
	LastActivity time.Time `json:"lastActivity"`
}

// Directory はセッション台帳です。
type Directory interface {
	// Put はレコードを保存し、アイドルタイマーを開始します。
	Put(ctx context.Context, rec Record) error
	// Touch は最終アクセス時刻を更新してタイマーを延長します。
	Touch(ctx context.Context, sessionID string) (*Record, error)
	// Delete はセッションを破棄します。存在しなくてもエラーにはしません。
	Delete(ctx context.Context, sessionID string) error
}

// NewID は推測困難なセッション ID を生成します。
func NewID() string {
	return uuid.NewString()
}
