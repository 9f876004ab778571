package session

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
)

const (
	// CookieName はセッションクッキーの名前です。
	CookieName = "ace_session"

	keyAccountID = "account_id"
	keyEmail     = "email"
	keySessionID = "auth_token"
	keyCSRF      = "csrf_token"
	keyLastSeen  = "last_seen"
)

// CookieOptions はセッションクッキーの属性です。
type CookieOptions struct {
	Secret        []byte
	EncryptionKey []byte
	IdleTimeout   time.Duration
	Secure        bool
}

// NewCookieStore は署名（と任意で暗号化）付きのクッキーストアを作成します。
func NewCookieStore(opts CookieOptions) sessions.Store {
	keyPairs := [][]byte{opts.Secret}
	if len(opts.EncryptionKey) > 0 {
		keyPairs = append(keyPairs, opts.EncryptionKey)
	}
	store := cookie.NewStore(keyPairs...)

	idle := opts.IdleTimeout
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(idle.Seconds()),
		HttpOnly: true,
		Secure:   opts.Secure,
		SameSite: http.SameSiteStrictMode,
	})
	return store
}

// Middleware はクッキーセッションを有効にする Gin ミドルウェアを返します。
func Middleware(store sessions.Store) gin.HandlerFunc {
	return sessions.Sessions(CookieName, store)
}

// Cookie はブラウザ側セッションへの型付きアクセスを提供します。
type Cookie struct {
	s sessions.Session
}

// FromContext はリクエストのクッキーセッションを返します。
func FromContext(c *gin.Context) *Cookie {
	return &Cookie{s: sessions.Default(c)}
}

// Establish はログイン成功時の値を書き込みます。CSRF トークンはここで発行し直します。
func (k *Cookie) Establish(accountID int64, email, sessionID string) error {
	token, err := newCSRFToken()
	if err != nil {
		return err
	}
	k.s.Clear()
	k.s.Set(keyAccountID, accountID)
	k.s.Set(keyEmail, email)
	k.s.Set(keySessionID, sessionID)
	k.s.Set(keyCSRF, token)
	return k.s.Save()
}

// Touch はクッキーを保存し直し、ブラウザ側の有効期限を延長します。
// 値が変わらないと保存されないため、最終アクセス時刻を書き込みます。
func (k *Cookie) Touch() error {
	k.s.Set(keyLastSeen, time.Now().Unix())
	return k.s.Save()
}

// AccountID はログイン中のアカウント ID を返します。未ログインなら 0 です。
func (k *Cookie) AccountID() int64 {
	switch v := k.s.Get(keyAccountID).(type) {
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func (k *Cookie) Email() string {
	v, _ := k.s.Get(keyEmail).(string)
	return v
}

func (k *Cookie) SessionID() string {
	v, _ := k.s.Get(keySessionID).(string)
	return v
}

// CSRFToken は現在の CSRF トークンを返します。未発行であれば発行して保存します。
func (k *Cookie) CSRFToken() (string, error) {
	if v, ok := k.s.Get(keyCSRF).(string); ok && v != "" {
		return v, nil
	}
	token, err := newCSRFToken()
	if err != nil {
		return "", err
	}
	k.s.Set(keyCSRF, token)
	return token, k.s.Save()
}

// StoredCSRFToken は保存済みの CSRF トークンを返します。発行はしません。
func (k *Cookie) StoredCSRFToken() string {
	v, _ := k.s.Get(keyCSRF).(string)
	return v
}

// Flash は次のリクエストで一度だけ表示するメッセージを積みます。
func (k *Cookie) Flash(msg string) error {
	k.s.AddFlash(msg)
	return k.s.Save()
}

// Flashes は積まれたメッセージを取り出します。
func (k *Cookie) Flashes() []string {
	raw := k.s.Flashes()
	if len(raw) == 0 {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	_ = k.s.Save()
	return out
}

// Clear はセッションの値をすべて消します。flash を渡した場合はクリア後に積み直します。
func (k *Cookie) Clear(flash ...string) error {
	k.s.Clear()
	for _, msg := range flash {
		k.s.AddFlash(msg)
	}
	return k.s.Save()
}

func newCSRFToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
