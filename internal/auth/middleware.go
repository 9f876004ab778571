package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/session"
)

const (
	// ContextAccountKey はログイン中のアカウントを Gin コンテキストで共有するキーです。
	ContextAccountKey = "auth.account"

	csrfHeader    = "X-CSRF-Token"
	csrfFormField = "csrf_token"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
// 無効なセッションはクッキーを消してログイン画面へリダイレクトします。
func (h *Handler) RequireLogin() gin.HandlerFunc {
	return h.requireSession(false)
}

// requireLogout はログアウト用の RequireLogin です。
// 台帳側で期限切れになったセッションも通し、アカウント側の ID の後始末と監査を Logout に任せます。
func (h *Handler) requireLogout() gin.HandlerFunc {
	return h.requireSession(true)
}

func (h *Handler) requireSession(allowExpired bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		cookie := session.FromContext(c)
		acct, err := h.svc.Authorize(c.Request.Context(), cookie.SessionID())
		switch {
		case err == nil:
			if err := cookie.Touch(); err != nil {
				h.logger.Warn("failed to refresh session cookie", zap.Error(err))
			}
			c.Set(ContextAccountKey, acct)
			c.Next()
			return
		case errors.Is(err, ErrSessionSuperseded):
			// 別端末でログインされたので通知を残す
			_ = cookie.Clear(MsgSessionTerminated)
		case errors.Is(err, ErrSessionExpired):
			if allowExpired && cookie.SessionID() != "" {
				// CSRF トークンを残したまま後続に渡す
				c.Next()
				return
			}
			_ = cookie.Clear()
		default:
			h.logger.Error("session validation failed", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "An internal server error occurred. Please try again later.",
			})
			return
		}
		c.Redirect(http.StatusSeeOther, LoginPath)
		c.Abort()
	}
}

// VerifyCSRF は X-CSRF-Token ヘッダー、またはフォームの csrf_token を検証するミドルウェアです。
func (h *Handler) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		expected := session.FromContext(c).StoredCSRFToken()
		if expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "You do not have permission to access this resource.",
			})
			return
		}

		received := c.GetHeader(csrfHeader)
		if received == "" {
			received = c.PostForm(csrfFormField)
		}
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "You do not have permission to access this resource.",
			})
			return
		}

		c.Next()
	}
}

// CurrentAccount は RequireLogin が設定したアカウントを返します。
func CurrentAccount(c *gin.Context) (*account.Account, bool) {
	v, ok := c.Get(ContextAccountKey)
	if !ok {
		return nil, false
	}
	acct, ok := v.(*account.Account)
	return acct, ok && acct != nil
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
