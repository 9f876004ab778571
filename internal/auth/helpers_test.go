package auth

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/audit"
	"github.com/yourusername/ace-job-agency/internal/fieldcrypt"
	"github.com/yourusername/ace-job-agency/internal/lockout"
	"github.com/yourusername/ace-job-agency/internal/password"
	"github.com/yourusername/ace-job-agency/internal/recaptcha"
	"github.com/yourusername/ace-job-agency/internal/resume"
	"github.com/yourusername/ace-job-agency/internal/session"
)

const strongPassword = "Str0ng!Passw0rd"

type okInspector struct{}

func (okInspector) Inspect(io.ReadSeeker) (int, error) { return 1, nil }

type memResumes struct {
	mu      sync.Mutex
	files   map[string][]byte
	removed []string
	n       int
}

func (m *memResumes) Save(ctx context.Context, ext string, r io.Reader) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	if m.files == nil {
		m.files = make(map[string][]byte)
	}
	m.n++
	p := "/uploads/resumes/file-" + string(rune('0'+m.n)) + ext
	m.files[p] = data
	return p, nil
}

func (m *memResumes) Remove(ctx context.Context, p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.files, p)
	m.removed = append(m.removed, p)
	return nil
}

// failingCreateStore は Create だけを失敗させます。
type failingCreateStore struct {
	account.Store
}

func (failingCreateStore) Create(context.Context, *account.Account, account.PasswordHistoryEntry) (*account.Account, error) {
	return nil, errors.New("db down")
}

type fixture struct {
	svc     *Service
	store   account.Store
	dir     *session.MemoryDirectory
	sink    *audit.MemorySink
	resumes *memResumes
	cipher  *fieldcrypt.Cipher
	now     time.Time
}

type fixtureOption func(*Deps)

func withStore(s account.Store) fixtureOption {
	return func(d *Deps) { d.Accounts = s }
}

func withVerifier(v recaptcha.Verifier) fixtureOption {
	return func(d *Deps) { d.Recaptcha = v }
}

func withAudit(r *audit.Recorder) fixtureOption {
	return func(d *Deps) { d.Audit = r }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	f := &fixture{
		store:   account.NewMemoryStore(),
		sink:    &audit.MemorySink{},
		resumes: &memResumes{},
		now:     time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.dir = session.NewMemoryDirectory(session.DefaultIdleTimeout).WithClock(func() time.Time { return f.now })

	cipher, err := fieldcrypt.New(bytes.Repeat([]byte{7}, fieldcrypt.KeySize))
	require.NoError(t, err)
	f.cipher = cipher

	uploads := resume.NewValidator(0)
	uploads.Inspector = okInspector{}

	deps := Deps{
		Accounts:  f.store,
		Sessions:  f.dir,
		Hasher:    password.NewHasher(bcrypt.MinCost),
		Cipher:    cipher,
		Lockout:   lockout.DefaultPolicy(),
		Audit:     audit.NewRecorder(f.sink, nil),
		Recaptcha: recaptcha.Static{Outcome: recaptcha.Passed},
		Resumes:   f.resumes,
		Uploads:   uploads,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	f.store = deps.Accounts

	svc, err := NewService(deps)
	require.NoError(t, err)
	f.svc = svc.WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) rc() RequestContext {
	return RequestContext{IP: "203.0.113.9", UserAgent: "test-agent", Now: f.now}
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func validRegistration() RegisterInput {
	return RegisterInput{
		FirstName:       "Alice",
		LastName:        "Tan",
		Gender:          "Female",
		NRIC:            "S1234567A",
		Email:           "Alice@Example.com",
		Password:        strongPassword,
		ConfirmPassword: strongPassword,
		DateOfBirth:     time.Date(1995, 3, 14, 0, 0, 0, 0, time.UTC),
		WhoAmI:          "<b>hi</b> there",
		RecaptchaToken:  "token",
	}
}

func (f *fixture) register(t *testing.T) *account.Account {
	t.Helper()
	acct, err := f.svc.Register(context.Background(), f.rc(), validRegistration())
	require.NoError(t, err)
	return acct
}

func (f *fixture) login(pw string) (*LoginResult, error) {
	return f.svc.Login(context.Background(), f.rc(), LoginInput{
		Email:          "alice@example.com",
		Password:       pw,
		RecaptchaToken: "token",
	})
}

func (f *fixture) account(t *testing.T) *account.Account {
	t.Helper()
	acct, err := f.store.FindByEmail(context.Background(), "alice@example.com")
	require.NoError(t, err)
	return acct
}

func pdfUpload(name string) *Upload {
	body := []byte("%PDF-1.4\n%test\n")
	return &Upload{Filename: name, Size: int64(len(body)), Content: bytes.NewReader(body)}
}

func textUpload(name string) *Upload {
	body := "just some text"
	return &Upload{Filename: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}
