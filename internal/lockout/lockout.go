// Package lockout はアカウント単位の失敗回数カウンターと時限ロックを扱います。
//
// 状態はアカウントレコードの一部として永続化され、期限切れの判定はタイマーではなく
// 次回アクセス時に遅延評価されます。
package lockout

import (
	"math"
	"time"
)

// 既定値
const (
	DefaultMaxAttempts = 3
	DefaultDuration    = 15 * time.Minute
)

// State はアカウントに保存されるロックアウト状態です。
type State struct {
	FailedAttempts int
	LockedUntil    *time.Time
}

// Locked は now 時点でロック中かどうかを返します。
func (s State) Locked(now time.Time) bool {
	return s.LockedUntil != nil && s.LockedUntil.After(now)
}

// Policy はロックまでの試行回数とロック時間を表します。
type Policy struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultPolicy は3回失敗で15分ロックするポリシーを返します。
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, Duration: DefaultDuration}
}

// Gate はログイン試行前の判定結果です。
type Gate struct {
	Locked           bool
	RemainingMinutes int
}

// Failure は認証失敗を記録した結果です。
type Failure struct {
	Locked    bool // この失敗でロックされた
	Remaining int  // ロックまでの残り回数
}

// Gate はログイン試行を受け付けるか判定します。
// ロック期限が過ぎていればここでロックを解除し、カウンターを0に戻します。
func (p Policy) Gate(st *State, now time.Time) Gate {
	if st.LockedUntil == nil {
		return Gate{}
	}
	if st.Locked(now) {
		return Gate{Locked: true, RemainingMinutes: remainingMinutes(*st.LockedUntil, now)}
	}
	st.LockedUntil = nil
	st.FailedAttempts = 0
	return Gate{}
}

// Fail はパスワード不一致を記録します。ロック中に呼んではいけません（呼び出し側で Gate 済みであること）。
func (p Policy) Fail(st *State, now time.Time) Failure {
	st.FailedAttempts++
	if st.FailedAttempts >= p.MaxAttempts {
		until := now.Add(p.Duration)
		st.LockedUntil = &until
		return Failure{Locked: true}
	}
	return Failure{Remaining: p.MaxAttempts - st.FailedAttempts}
}

// Succeed は認証成功時に状態をリセットします。
func (p Policy) Succeed(st *State) {
	st.FailedAttempts = 0
	st.LockedUntil = nil
}

// Minutes はロック時間を分単位で返します。
func (p Policy) Minutes() int {
	return int(p.Duration / time.Minute)
}

func remainingMinutes(until, now time.Time) int {
	return int(math.Ceil(until.Sub(now).Minutes()))
}
