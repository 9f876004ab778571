package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/ace-job-agency/internal/account"
	"github.com/yourusername/ace-job-agency/internal/audit"
)

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

var columns = []string{
	"id", "first_name", "last_name", "gender", "encrypted_nric", "email", "password_hash",
	"date_of_birth", "resume_path", "who_am_i", "failed_login_attempts", "lockout_end",
	"session_id", "last_login_at", "created_at", "last_password_change",
}

var (
	dob     = time.Date(1995, 3, 14, 0, 0, 0, 0, time.UTC)
	created = time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
)

func accountRow(attempts int64, lockedUntil any, sid string) *sqlmock.Rows {
	return sqlmock.NewRows(columns).AddRow(
		int64(7), "Alice", "Tan", "Female", "enc", "alice@example.com", "hash",
		dob, "", "hi", attempts, lockedUntil,
		sid, nil, created, created,
	)
}

func TestAccountCreateWritesAccountAndHistory(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO accounts")).
		WithArgs("Alice", "Tan", "Female", "enc", "alice@example.com", "hash", dob, "", "hi", created, created).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(q("INSERT INTO password_history")).
		WithArgs(int64(7), "hash", created).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	changed := created
	got, err := repo.Create(context.Background(), &account.Account{
		FirstName: "Alice", LastName: "Tan", Gender: "Female", EncryptedNRIC: "enc",
		Email: "Alice@Example.com", PasswordHash: "hash", DateOfBirth: dob, WhoAmI: "hi",
		CreatedAt: created, LastPasswordChange: &changed,
	}, account.PasswordHistoryEntry{PasswordHash: "hash"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "alice@example.com", got.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountCreateMapsUniqueViolation(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO accounts")).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "accounts_email_key"})
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &account.Account{Email: "a@example.com", CreatedAt: created}, account.PasswordHistoryEntry{})
	assert.ErrorIs(t, err, account.ErrDuplicateEmail)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountCreateRollsBackWhenHistoryFails(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("INSERT INTO accounts")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
	mock.ExpectExec(q("INSERT INTO password_history")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := repo.Create(context.Background(), &account.Account{Email: "a@example.com", CreatedAt: created}, account.PasswordHistoryEntry{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountEmailExists(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(q("SELECT EXISTS")).
		WithArgs("bob@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.EmailExists(context.Background(), " BOB@example.com ")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAccountFindByEmail(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	until := created.Add(15 * time.Minute)
	mock.ExpectQuery(q("FROM accounts WHERE email = $1")).
		WithArgs("alice@example.com").
		WillReturnRows(accountRow(3, until, "sid-1"))

	got, err := repo.FindByEmail(context.Background(), "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, 3, got.Lockout.FailedAttempts)
	require.NotNil(t, got.Lockout.LockedUntil)
	assert.True(t, until.Equal(*got.Lockout.LockedUntil))
	assert.Equal(t, "sid-1", got.SessionID)
	assert.Nil(t, got.LastLoginAt)
	require.NotNil(t, got.LastPasswordChange)
}

func TestAccountFindNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(q("FROM accounts WHERE id = $1")).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows(columns))

	_, err := repo.FindByID(context.Background(), 99)
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestAccountUpdateLocksRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(accountRow(0, nil, ""))
	mock.ExpectExec(q("UPDATE accounts SET")).
		WithArgs(int64(7), "hash", "", "hi", 1, nil, "", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := repo.Update(context.Background(), 7, func(a *account.Account) error {
		a.Lockout.FailedAttempts++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, got.Lockout.FailedAttempts)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountUpdateRollsBackOnMutateError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(7)).
		WillReturnRows(accountRow(0, nil, ""))
	mock.ExpectRollback()

	boom := errors.New("boom")
	_, err := repo.Update(context.Background(), 7, func(*account.Account) error { return boom })
	assert.ErrorIs(t, err, boom)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountUpdateNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(q("FOR UPDATE")).
		WithArgs(int64(8)).
		WillReturnRows(sqlmock.NewRows(columns))
	mock.ExpectRollback()

	_, err := repo.Update(context.Background(), 8, func(*account.Account) error { return nil })
	assert.ErrorIs(t, err, account.ErrNotFound)
}

func TestAccountPasswordHistory(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAccountRepository(db)

	mock.ExpectQuery(q("FROM password_history")).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "password_hash", "changed_at"}).
			AddRow(int64(1), int64(7), "h1", created).
			AddRow(int64(2), int64(7), "h2", created.Add(time.Hour)))

	hist, err := repo.PasswordHistory(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "h1", hist[0].PasswordHash)
	assert.Equal(t, "h2", hist[1].PasswordHash)
}

func TestAuditAppendAndRead(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepository(db)

	ts := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	mock.ExpectExec(q("INSERT INTO audit_logs")).
		WithArgs(int64(0), audit.ActionUserNotFound, ts, "10.0.0.1", "ua", "ghost@example.com").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, repo.Append(context.Background(), audit.Event{
		AccountID: 0, Action: audit.ActionUserNotFound, Timestamp: ts,
		IPAddress: "10.0.0.1", UserAgent: "ua", Email: "ghost@example.com",
	}))

	mock.ExpectQuery(q("FROM audit_logs")).
		WithArgs(int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "action", "timestamp", "ip_address", "user_agent", "email"}).
			AddRow(int64(1), int64(0), audit.ActionUserNotFound, ts, "10.0.0.1", "ua", "ghost@example.com"))

	events, err := repo.ForAccount(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.ActionUserNotFound, events[0].Action)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditAppendWrapsError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewAuditRepository(db)

	mock.ExpectExec(q("INSERT INTO audit_logs")).WillReturnError(errors.New("db down"))
	err := repo.Append(context.Background(), audit.Event{Action: audit.ActionLoggedOut})
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
}

func TestRunMigrationsUsesEmbeddedDir(t *testing.T) {
	db, _ := newMock(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, RunMigrations(context.Background(), db))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error {
		return errors.New("bad migration")
	}
	err := RunMigrations(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration error")
}
