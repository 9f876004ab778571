package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/resume"
	"github.com/yourusername/ace-job-agency/internal/session"
)

const (
	LoginPath    = "/Account/Login"
	RegisterPath = "/Account/Register"
	LogoutPath   = "/Account/Logout"
	HomePath     = "/"

	dateLayout = "2006-01-02"
	// multipart のヘッダー分の余裕
	formOverhead int64 = 1 << 20
)

// Handler は /Account/* のハンドラー群です。
type Handler struct {
	svc            *Service
	siteKey        string
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewHandler は Handler を作成します。
func NewHandler(svc *Service, siteKey string, maxUploadBytes int64, logger *zap.Logger) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = resume.DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:            svc,
		siteKey:        siteKey,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// RegisterRoutes は /Account 配下のルートを登録します。postGuards は POST の前段に挟むミドルウェアです。
func (h *Handler) RegisterRoutes(router gin.IRouter, postGuards ...gin.HandlerFunc) {
	group := router.Group("/Account")
	{
		group.GET("/Register", h.RegisterPage)
		group.GET("/Login", h.LoginPage)

		// ログイン前はセッションがないため CSRF ではなく reCAPTCHA と SameSite クッキーで守る
		group.POST("/Register", chain(postGuards, h.Register)...)
		group.POST("/Login", chain(postGuards, h.Login)...)
		group.POST("/Logout", chain(postGuards, h.requireLogout(), h.VerifyCSRF(), h.Logout)...)
	}
}

func chain(guards []gin.HandlerFunc, handlers ...gin.HandlerFunc) []gin.HandlerFunc {
	out := make([]gin.HandlerFunc, 0, len(guards)+len(handlers))
	out = append(out, guards...)
	return append(out, handlers...)
}

func requestContext(c *gin.Context) RequestContext {
	cookie := session.FromContext(c)
	return RequestContext{
		AccountID: cookie.AccountID(),
		SessionID: cookie.SessionID(),
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}
}

// signedIn はクッキーのセッションが有効かどうかを返します。副作用としてアイドルタイマーが延長されます。
func (h *Handler) signedIn(ctx context.Context, c *gin.Context) bool {
	sid := session.FromContext(c).SessionID()
	if sid == "" {
		return false
	}
	_, err := h.svc.Authorize(ctx, sid)
	return err == nil
}

// RegisterPage は GET /Account/Register のハンドラーです。
func (h *Handler) RegisterPage(c *gin.Context) {
	if h.signedIn(c.Request.Context(), c) {
		c.Redirect(http.StatusSeeOther, HomePath)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"recaptchaSiteKey": h.siteKey,
	})
}

// LoginPage は GET /Account/Login のハンドラーです。積まれた flash メッセージも返します。
func (h *Handler) LoginPage(c *gin.Context) {
	if h.signedIn(c.Request.Context(), c) {
		c.Redirect(http.StatusSeeOther, HomePath)
		return
	}
	messages := session.FromContext(c).Flashes()
	if messages == nil {
		messages = []string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"recaptchaSiteKey": h.siteKey,
		"messages":         messages,
	})
}

type registerForm struct {
	FirstName       string `form:"FirstName"`
	LastName        string `form:"LastName"`
	Gender          string `form:"Gender"`
	NRIC            string `form:"NRIC"`
	Email           string `form:"Email"`
	Password        string `form:"Password"`
	ConfirmPassword string `form:"ConfirmPassword"`
	DateOfBirth     string `form:"DateOfBirth"`
	WhoAmI          string `form:"WhoAmI"`
	RecaptchaToken  string `form:"RecaptchaToken"`
}

// Register は POST /Account/Register のハンドラーです。
func (h *Handler) Register(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+formOverhead)

	var form registerForm
	if err := c.ShouldBind(&form); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.respondWithError(c, &resume.Error{Message: resume.MsgTooLarge})
			return
		}
		h.respondWithError(c, &ValidationError{Fields: map[string]string{"": "Invalid form submission"}})
		return
	}

	in := RegisterInput{
		FirstName:       strings.TrimSpace(form.FirstName),
		LastName:        strings.TrimSpace(form.LastName),
		Gender:          strings.TrimSpace(form.Gender),
		NRIC:            strings.ToUpper(strings.TrimSpace(form.NRIC)),
		Email:           form.Email,
		Password:        form.Password,
		ConfirmPassword: form.ConfirmPassword,
		WhoAmI:          form.WhoAmI,
		RecaptchaToken:  form.RecaptchaToken,
	}
	if dob := strings.TrimSpace(form.DateOfBirth); dob != "" {
		parsed, err := time.Parse(dateLayout, dob)
		if err != nil {
			h.respondWithError(c, &ValidationError{Fields: map[string]string{"DateOfBirth": "Invalid date of birth"}})
			return
		}
		in.DateOfBirth = parsed
	}

	fh, err := c.FormFile("Resume")
	switch {
	case err == nil:
		f, err := fh.Open()
		if err != nil {
			h.respondWithError(c, err)
			return
		}
		defer f.Close()
		in.Resume = &Upload{Filename: fh.Filename, Size: fh.Size, Content: f}
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
	default:
		h.respondWithError(c, err)
		return
	}

	if _, err := h.svc.Register(c.Request.Context(), requestContext(c), in); err != nil {
		h.respondWithError(c, err)
		return
	}

	if err := session.FromContext(c).Flash(MsgRegistered); err != nil {
		h.logger.Warn("failed to save flash", zap.Error(err))
	}
	c.Redirect(http.StatusSeeOther, LoginPath)
}

type loginForm struct {
	Email          string `form:"Email"`
	Password       string `form:"Password"`
	RecaptchaToken string `form:"RecaptchaToken"`
}

// Login は POST /Account/Login のハンドラーです。
func (h *Handler) Login(c *gin.Context) {
	var form loginForm
	if err := c.ShouldBind(&form); err != nil {
		h.respondWithError(c, &ValidationError{Fields: map[string]string{"": "Invalid form submission"}})
		return
	}
	fields := map[string]string{}
	if strings.TrimSpace(form.Email) == "" {
		fields["Email"] = "Email is required"
	}
	if form.Password == "" {
		fields["Password"] = "Password is required"
	}
	if len(fields) > 0 {
		h.respondWithError(c, &ValidationError{Fields: fields})
		return
	}

	res, err := h.svc.Login(c.Request.Context(), requestContext(c), LoginInput{
		Email:          form.Email,
		Password:       form.Password,
		RecaptchaToken: form.RecaptchaToken,
	})
	if err != nil {
		h.respondWithError(c, err)
		return
	}

	if err := session.FromContext(c).Establish(res.Account.ID, res.Account.Email, res.Session.SessionID); err != nil {
		h.respondWithError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, HomePath)
}

// Logout は POST /Account/Logout のハンドラーです。
func (h *Handler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), requestContext(c)); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
	}
	if err := session.FromContext(c).Clear(); err != nil {
		h.logger.Warn("failed to clear session cookie", zap.Error(err))
	}
	c.Redirect(http.StatusSeeOther, LoginPath)
}

func (h *Handler) respondWithError(c *gin.Context, err error) {
	var (
		verr   *ValidationError
		locked *AccountLockedError
		creds  *CredentialsError
		upload *resume.Error
	)
	switch {
	case errors.As(err, &verr):
		body := gin.H{
			"code":    "VALIDATION_FAILED",
			"message": "Please correct the highlighted fields.",
			"errors":  verr.Fields,
		}
		if hint := verr.Hint(); hint != "" {
			body["hint"] = hint
		}
		c.JSON(http.StatusUnprocessableEntity, body)
	case errors.Is(err, ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{
			"code":    "DUPLICATE_EMAIL",
			"message": MsgDuplicateEmail,
			"errors":  gin.H{"Email": MsgDuplicateEmail},
		})
	case errors.As(err, &upload):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"code":    "INVALID_ATTACHMENT",
			"message": upload.Message,
			"errors":  gin.H{"Resume": upload.Message},
		})
	case errors.As(err, &locked):
		c.JSON(http.StatusLocked, gin.H{
			"code":    "ACCOUNT_LOCKED",
			"message": locked.Message(),
		})
	case errors.As(err, &creds):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           creds.Message(),
			"remainingAttempts": creds.Remaining,
		})
	case errors.Is(err, ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":    "INVALID_CREDENTIALS",
			"message": MsgInvalidCredentials,
		})
	case errors.Is(err, ErrRecaptchaFailed):
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "RECAPTCHA_FAILED",
			"message": MsgRecaptchaFailed,
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "The request was canceled.",
		})
	default:
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "An internal server error occurred. Please try again later.",
		})
	}
}
