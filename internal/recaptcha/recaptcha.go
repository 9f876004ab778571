// Package recaptcha は Google reCAPTCHA v3 のトークン検証を行います。
package recaptcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultVerifyURL は siteverify エンドポイントです。
	DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"
	// DefaultMinScore は合格とみなす最低スコアです。
	DefaultMinScore = 0.5
)

// Outcome は検証結果の種類です。
type Outcome int

const (
	Passed Outcome = iota
	MissingToken
	Rejected
	LowScore
	Unavailable
)

func (o Outcome) String() string {
	switch o {
	case Passed:
		return "passed"
	case MissingToken:
		return "missing_token"
	case Rejected:
		return "rejected"
	case LowScore:
		return "low_score"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Result は1回の検証結果です。
type Result struct {
	Outcome Outcome
	Score   float64
	Err     error
}

// OK は合格かどうかを返します。
func (r Result) OK() bool {
	return r.Outcome == Passed
}

// Verifier はトークンを検証します。
type Verifier interface {
	Verify(ctx context.Context, token, remoteIP string) Result
}

// Client は siteverify API を呼び出す Verifier です。
type Client struct {
	secret     string
	verifyURL  string
	minScore   float64
	httpClient *http.Client
	logger     *zap.Logger
}

// Option は Client の設定を変更します。
type Option func(*Client)

// WithVerifyURL は検証先 URL を差し替えます。
func WithVerifyURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.verifyURL = u
		}
	}
}

// WithMinScore は合格スコアの下限を変更します。
func WithMinScore(score float64) Option {
	return func(c *Client) {
		if score > 0 {
			c.minScore = score
		}
	}
}

// WithHTTPClient は利用する HTTP クライアントを差し替えます。
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLogger はロガーを設定します。
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient は Client を作成します。
func NewClient(secret string, opts ...Option) *Client {
	c := &Client{
		secret:     secret,
		verifyURL:  DefaultVerifyURL,
		minScore:   DefaultMinScore,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type siteverifyResponse struct {
	Success    bool     `json:"success"`
	Score      float64  `json:"score"`
	Action     string   `json:"action"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify はトークンを siteverify に問い合わせます。
// 通信失敗やレスポンス不正は Unavailable として不合格にします。
func (c *Client) Verify(ctx context.Context, token, remoteIP string) Result {
	if strings.TrimSpace(token) == "" {
		return Result{Outcome: MissingToken}
	}

	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return c.unavailable(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.unavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return c.unavailable(fmt.Errorf("siteverify returned status %d", resp.StatusCode))
	}

	var body siteverifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return c.unavailable(fmt.Errorf("decode siteverify response: %w", err))
	}

	if !body.Success {
		c.logger.Info("recaptcha rejected", zap.Strings("error_codes", body.ErrorCodes))
		return Result{Outcome: Rejected, Score: body.Score}
	}
	if body.Score < c.minScore {
		c.logger.Info("recaptcha score below threshold", zap.Float64("score", body.Score))
		return Result{Outcome: LowScore, Score: body.Score}
	}
	return Result{Outcome: Passed, Score: body.Score}
}

func (c *Client) unavailable(err error) Result {
	c.logger.Warn("recaptcha verification unavailable", zap.Error(err))
	return Result{Outcome: Unavailable, Err: err}
}

// Static は常に同じ結果を返す Verifier です。検証を無効化した開発環境やテストで使います。
type Static struct {
	Outcome Outcome
}

// Verify は設定された結果を返します。
func (s Static) Verify(ctx context.Context, token, remoteIP string) Result {
	return Result{Outcome: s.Outcome}
}
