package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/ace-job-agency/internal/audit"
	"github.com/yourusername/ace-job-agency/internal/session"
)

type testServer struct {
	router *gin.Engine
	f      *fixture
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	h := NewHandler(f.svc, "site-key", 0, nil)

	r := gin.New()
	r.Use(session.Middleware(session.NewCookieStore(session.CookieOptions{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
	})))
	h.RegisterRoutes(r)
	r.GET("/protected", h.RequireLogin(), func(c *gin.Context) {
		acct, ok := CurrentAccount(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{
			"email":     acct.Email,
			"csrfToken": session.FromContext(c).StoredCSRFToken(),
		})
	})
	return &testServer{router: r, f: f}
}

// do はリクエストを送り、応答と更新後のセッションクッキーを返します。
func (s *testServer) do(method, path string, form url.Values, cookie *http.Cookie, header http.Header) (*httptest.ResponseRecorder, *http.Cookie) {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	next := cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			next = c
		}
	}
	return w, next
}

func registrationForm() url.Values {
	return url.Values{
		"FirstName":       {"Alice"},
		"LastName":        {"Tan"},
		"Gender":          {"Female"},
		"NRIC":            {"s1234567a"},
		"Email":           {"alice@example.com"},
		"Password":        {strongPassword},
		"ConfirmPassword": {strongPassword},
		"DateOfBirth":     {"1995-03-14"},
		"WhoAmI":          {"Hello"},
		"RecaptchaToken":  {"token"},
	}
}

func loginValues(pw string) url.Values {
	return url.Values{
		"Email":          {"alice@example.com"},
		"Password":       {pw},
		"RecaptchaToken": {"token"},
	}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func (s *testServer) signIn(t *testing.T) *http.Cookie {
	t.Helper()
	w, cookie := s.do(http.MethodPost, LoginPath, loginValues(strongPassword), nil, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	require.Equal(t, HomePath, w.Header().Get("Location"))
	require.NotNil(t, cookie)
	return cookie
}

func TestHandler_RegisterThenFlash(t *testing.T) {
	s := newTestServer(t)

	w, cookie := s.do(http.MethodPost, RegisterPath, registrationForm(), nil, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))

	acct := s.f.account(t)
	assert.Equal(t, "S1234567A", s.f.svc.RevealNRIC(acct))

	w, _ = s.do(http.MethodGet, LoginPath, nil, cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "site-key", body["recaptchaSiteKey"])
	assert.Equal(t, []any{MsgRegistered}, body["messages"])
}

func TestHandler_RegisterWeakPassword(t *testing.T) {
	s := newTestServer(t)
	form := registrationForm()
	form.Set("Password", "Abcdefgh123")
	form.Set("ConfirmPassword", "Abcdefgh123")

	w, _ := s.do(http.MethodPost, RegisterPath, form, nil, nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	body := decode(t, w)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	assert.Equal(t, "Missing: at least 12 characters, special character", body["hint"])
	fields := body["errors"].(map[string]any)
	assert.Equal(t, "Password must be at least 12 characters", fields["Password"])
}

func TestHandler_RegisterBadDate(t *testing.T) {
	s := newTestServer(t)
	form := registrationForm()
	form.Set("DateOfBirth", "14/03/1995")

	w, _ := s.do(http.MethodPost, RegisterPath, form, nil, nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["errors"].(map[string]any)
	assert.Equal(t, "Invalid date of birth", fields["DateOfBirth"])
}

func TestHandler_RegisterDuplicate(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)

	w, _ := s.do(http.MethodPost, RegisterPath, registrationForm(), nil, nil)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_EMAIL", decode(t, w)["code"])
}

func TestHandler_LoginWrongPassword(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)

	w, _ := s.do(http.MethodPost, LoginPath, loginValues("wrong"), nil, nil)

	require.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode(t, w)
	assert.Equal(t, "INVALID_CREDENTIALS", body["code"])
	assert.Equal(t, "Invalid email or password. 2 attempt(s) remaining.", body["message"])
	assert.EqualValues(t, 2, body["remainingAttempts"])
}

func TestHandler_LoginLocked(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	for i := 0; i < 2; i++ {
		s.do(http.MethodPost, LoginPath, loginValues("wrong"), nil, nil)
	}

	w, _ := s.do(http.MethodPost, LoginPath, loginValues("wrong"), nil, nil)

	require.Equal(t, http.StatusLocked, w.Code)
	assert.Equal(t, "Account locked for 15 minutes due to multiple failed login attempts.", decode(t, w)["message"])
}

func TestHandler_LoginMissingFields(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, LoginPath, url.Values{"Email": {""}}, nil, nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["errors"].(map[string]any)
	assert.Equal(t, "Email is required", fields["Email"])
	assert.Equal(t, "Password is required", fields["Password"])
}

func TestHandler_ProtectedRouteRequiresLogin(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodGet, "/protected", nil, nil, nil)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
}

func TestHandler_LoginOpensProtectedRoute(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	cookie := s.signIn(t)

	w, _ := s.do(http.MethodGet, "/protected", nil, cookie, nil)

	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.NotEmpty(t, body["csrfToken"])

	// ログイン済みでログイン画面を開くとホームへ戻される
	w, _ = s.do(http.MethodGet, LoginPath, nil, cookie, nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, HomePath, w.Header().Get("Location"))
}

func TestHandler_SecondLoginTerminatesFirst(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	first := s.signIn(t)
	second := s.signIn(t)

	w, cleared := s.do(http.MethodGet, "/protected", nil, first, nil)
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))

	w, _ = s.do(http.MethodGet, LoginPath, nil, cleared, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []any{MsgSessionTerminated}, decode(t, w)["messages"])

	w, _ = s.do(http.MethodGet, "/protected", nil, second, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_LogoutRequiresCSRF(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	cookie := s.signIn(t)

	w, _ := s.do(http.MethodPost, LogoutPath, url.Values{}, cookie, nil)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "CSRF_INVALID", decode(t, w)["code"])

	w, _ = s.do(http.MethodGet, "/protected", nil, cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["csrfToken"].(string)

	w, cleared := s.do(http.MethodPost, LogoutPath, url.Values{}, cookie, http.Header{"X-Csrf-Token": {token}})
	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))

	assert.Empty(t, s.f.account(t).SessionID)
	w, _ = s.do(http.MethodGet, "/protected", nil, cleared, nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
	w, _ = s.do(http.MethodGet, "/protected", nil, cookie, nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestHandler_LogoutAcceptsFormToken(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	cookie := s.signIn(t)

	w, _ := s.do(http.MethodGet, "/protected", nil, cookie, nil)
	token := decode(t, w)["csrfToken"].(string)

	w, _ = s.do(http.MethodPost, LogoutPath, url.Values{"csrf_token": {token}}, cookie, nil)
	assert.Equal(t, http.StatusSeeOther, w.Code)
}

func TestHandler_RegisterPasswordOverBcryptLimit(t *testing.T) {
	s := newTestServer(t)
	form := registrationForm()
	long := "Aa1!" + strings.Repeat("x", 76)
	form.Set("Password", long)
	form.Set("ConfirmPassword", long)

	w, _ := s.do(http.MethodPost, RegisterPath, form, nil, nil)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	fields := decode(t, w)["errors"].(map[string]any)
	assert.Equal(t, "Password must be at most 72 bytes", fields["Password"])
}

func TestHandler_AuthenticatedRequestRefreshesCookie(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	cookie := s.signIn(t)
	require.Equal(t, 1200, cookie.MaxAge)

	s.f.advance(10 * time.Minute)
	w, refreshed := s.do(http.MethodGet, "/protected", nil, cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == session.CookieName {
			found = true
			assert.Equal(t, 1200, c.MaxAge)
		}
	}
	require.True(t, found, "session cookie must be re-issued on activity")

	// ログインから 25 分経っても操作が続いていれば有効
	s.f.advance(15 * time.Minute)
	w, _ = s.do(http.MethodGet, "/protected", nil, refreshed, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_LogoutAfterIdleExpiryClearsAccountSession(t *testing.T) {
	s := newTestServer(t)
	s.f.register(t)
	cookie := s.signIn(t)

	w, cookie := s.do(http.MethodGet, "/protected", nil, cookie, nil)
	require.Equal(t, http.StatusOK, w.Code)
	token := decode(t, w)["csrfToken"].(string)
	require.NotEmpty(t, s.f.account(t).SessionID)

	s.f.advance(21 * time.Minute)
	w, _ = s.do(http.MethodPost, LogoutPath, url.Values{}, cookie, http.Header{"X-Csrf-Token": {token}})

	require.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
	assert.Empty(t, s.f.account(t).SessionID)
	actions := s.f.sink.Actions()
	require.NotEmpty(t, actions)
	assert.Equal(t, audit.ActionLoggedOut, actions[len(actions)-1])
}

func TestHandler_LogoutWithoutSessionRedirects(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(http.MethodPost, LogoutPath, url.Values{}, nil, nil)

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, LoginPath, w.Header().Get("Location"))
	assert.Empty(t, s.f.sink.Actions())
}
