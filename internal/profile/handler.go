// Package profile はログイン後のトップページ（プロフィール表示）を提供します。
package profile

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/auth"
	"github.com/yourusername/ace-job-agency/internal/session"
)

// Revealer は暗号化された NRIC を表示用に復号します。
type Revealer interface {
	RevealNRIC(acct *account.Account) string
}

// View はプロフィール画面に返す内容です。
type View struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	Gender      string `json:"gender"`
	NRIC        string `json:"nric"`
	Email       string `json:"email"`
	DateOfBirth string `json:"dateOfBirth"`
	ResumePath  string `json:"resumePath,omitempty"`
	WhoAmI      string `json:"whoAmI"`
	LastLoginAt string `json:"lastLoginAt,omitempty"`
}

// Handler はプロフィール画面のハンドラーです。
type Handler struct {
	revealer Revealer
	logger   *zap.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(revealer Revealer, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{revealer: revealer, logger: logger}
}

// RegisterRoutes は / と /Home/Index を登録します。requireLogin は auth.Handler.RequireLogin を渡します。
func (h *Handler) RegisterRoutes(router gin.IRouter, requireLogin gin.HandlerFunc) {
	router.GET("/", requireLogin, h.Index)
	router.GET("/Home/Index", requireLogin, h.Index)
}

// Index はログイン中のアカウントのプロフィールを返します。
// NRIC の復号に失敗しても画面は表示し、プレースホルダーを返します。
func (h *Handler) Index(c *gin.Context) {
	acct, ok := auth.CurrentAccount(c)
	if !ok {
		c.Redirect(http.StatusSeeOther, auth.LoginPath)
		return
	}

	token, err := session.FromContext(c).CSRFToken()
	if err != nil {
		h.logger.Warn("failed to issue csrf token", zap.Error(err))
	}

	c.JSON(http.StatusOK, gin.H{
		"profile":   h.view(acct),
		"csrfToken": token,
	})
}

func (h *Handler) view(acct *account.Account) View {
	v := View{
		ID:          acct.ID,
		FirstName:   acct.FirstName,
		LastName:    acct.LastName,
		Gender:      acct.Gender,
		NRIC:        h.revealer.RevealNRIC(acct),
		Email:       acct.Email,
		DateOfBirth: acct.DateOfBirth.Format("2006-01-02"),
		ResumePath:  acct.ResumePath,
		WhoAmI:      acct.WhoAmI,
	}
	if acct.LastLoginAt != nil {
		v.LastLoginAt = acct.LastLoginAt.UTC().Format(time.RFC3339)
	}
	return v
}
