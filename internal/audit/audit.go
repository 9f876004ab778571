// Package audit はセキュリティ上重要な操作の追記専用ログを扱います。
package audit

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// 監査アクション
const (
	ActionRegistered       = "User registered"
	ActionLoginSucceeded   = "Successful login"
	ActionUserNotFound     = "Failed login - user not found"
	ActionLockedAttempt    = "Login attempt on locked account"
	ActionAccountLocked    = "Account locked due to failed attempts"
	ActionMultipleSessions = "Multiple login detected - previous session invalidated"
	ActionLoggedOut        = "User logged out"
)

// FailedAttempt はパスワード不一致の監査アクションを残り回数付きで返します。
func FailedAttempt(remaining int) string {
	return fmt.Sprintf("Failed login attempt - %d attempt(s) remaining", remaining)
}

// 保存先カラムの長さ
const (
	maxActionLen    = 255
	maxIPLen        = 50
	maxUserAgentLen = 500
	maxEmailLen     = 255
)

// Event は1件の監査レコードです。AccountID が 0 の場合はアカウント不明を表します。
type Event struct {
	ID        int64     `json:"id,omitempty"`
	AccountID int64     `json:"accountId"`
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	IPAddress string    `json:"ipAddress,omitempty"`
	UserAgent string    `json:"userAgent,omitempty"`
	Email     string    `json:"email,omitempty"`
}

// Sink は監査イベントの書き込み先です。
type Sink interface {
	Append(ctx context.Context, ev Event) error
}

// Recorder はイベントに時刻を付けて Sink に書き込みます。
// 書き込みに失敗しても呼び出し元の処理は止めず、ログに残すだけにします。
type Recorder struct {
	sink   Sink
	logger *zap.Logger
	now    func() time.Time
}

// NewRecorder は Recorder を作成します。
func NewRecorder(sink Sink, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{sink: sink, logger: logger, now: time.Now}
}

// WithClock は時刻取得関数を差し替えた Recorder を返します（テスト用）。
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	cp := *r
	cp.now = now
	return &cp
}

// Record はイベントを書き込みます。
func (r *Recorder) Record(ctx context.Context, ev Event) {
	if r == nil || r.sink == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.now().UTC()
	}
	ev.Action = truncate(ev.Action, maxActionLen)
	ev.IPAddress = truncate(ev.IPAddress, maxIPLen)
	ev.UserAgent = truncate(ev.UserAgent, maxUserAgentLen)
	ev.Email = truncate(ev.Email, maxEmailLen)

	if err := r.sink.Append(ctx, ev); err != nil {
		r.logger.Error("audit write failed",
			zap.String("action", ev.Action),
			zap.Int64("account_id", ev.AccountID),
			zap.Error(err),
		)
	}
}

// truncate は s を n バイト以内に切り詰めます。文字の途中では切りません。
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// MemorySink はイベントをメモリに保持する Sink です。
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Append はイベントを追加します。
func (m *MemorySink) Append(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events はこれまでのイベントの複製を返します。
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Actions はイベントのアクションだけを順に返します。
func (m *MemorySink) Actions() []string {
	events := m.Events()
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Action
	}
	return out
}
