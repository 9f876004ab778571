package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost は bcrypt のワークファクターです。
const DefaultCost = 12

// ErrTooLong は MaxBytes を超えるパスワードを表します。
var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher は bcrypt による一方向ハッシュと照合を行います。
type Hasher struct {
	Cost int
}

// NewHasher は cost を指定して Hasher を作成します。0 以下の場合は DefaultCost を使います。
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = DefaultCost
	}
	return &Hasher{Cost: cost}
}

// Hash はソルト付きのダイジェストを返します。ソルトは呼び出しごとに生成されダイジェストに埋め込まれます。
func (h *Hasher) Hash(p string) (string, error) {
	if len(p) > MaxBytes {
		return "", ErrTooLong
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(p), h.Cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(digest), nil
}

// Verify はパスワードとダイジェストを照合します。
// 不正なダイジェストや内部エラーはすべて false として扱い、パスワード不一致と区別しません。
func (h *Hasher) Verify(p, digest string) bool {
	// 73 バイト目以降を無視して一致させない
	if digest == "" || len(p) > MaxBytes {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(digest), []byte(p)) == nil
}
