package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/yourusername/ace-job-agency/internal/account"
)

const uniqueViolation = "23505"

const accountColumns = `id, first_name, last_name, gender, encrypted_nric, email, password_hash,
		 date_of_birth, resume_path, who_am_i, failed_login_attempts, lockout_end,
		 session_id, last_login_at, created_at, last_password_change`

// AccountRepository は account.Store の PostgreSQL 実装です。
type AccountRepository struct {
	db *sql.DB
}

var _ account.Store = (*AccountRepository)(nil)

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*account.Account, error) {
	var (
		a                              account.Account
		lockoutEnd, lastLogin, pwdTime sql.NullTime
	)
	err := row.Scan(
		&a.ID, &a.FirstName, &a.LastName, &a.Gender, &a.EncryptedNRIC, &a.Email, &a.PasswordHash,
		&a.DateOfBirth, &a.ResumePath, &a.WhoAmI, &a.Lockout.FailedAttempts, &lockoutEnd,
		&a.SessionID, &lastLogin, &a.CreatedAt, &pwdTime,
	)
	if err != nil {
		return nil, err
	}
	a.Lockout.LockedUntil = timePtr(lockoutEnd)
	a.LastLoginAt = timePtr(lastLogin)
	a.LastPasswordChange = timePtr(pwdTime)
	return &a, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func (r *AccountRepository) Create(ctx context.Context, acct *account.Account, history account.PasswordHistoryEntry) (*account.Account, error) {
	created := acct.Clone()
	created.Email = account.NormalizeEmail(created.Email)

	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		query :=
			`INSERT INTO accounts (first_name, last_name, gender, encrypted_nric, email, password_hash,
			 date_of_birth, resume_path, who_am_i, created_at, last_password_change)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 RETURNING id
			 `
		err := tx.QueryRowContext(ctx, query,
			created.FirstName, created.LastName, created.Gender, created.EncryptedNRIC, created.Email,
			created.PasswordHash, created.DateOfBirth, created.ResumePath, created.WhoAmI,
			created.CreatedAt, nullTime(created.LastPasswordChange),
		).Scan(&created.ID)
		if err != nil {
			if isUniqueViolation(err) {
				return account.ErrDuplicateEmail
			}
			return fmt.Errorf("db error: %w", err)
		}

		changedAt := history.ChangedAt
		if changedAt.IsZero() {
			changedAt = created.CreatedAt
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO password_history (account_id, password_hash, changed_at)
			 VALUES ($1, $2, $3)`,
			created.ID, history.PasswordHash, changedAt,
		)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *AccountRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE email = $1)`,
		account.NormalizeEmail(email),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*account.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`,
		account.NormalizeEmail(email),
	)
	return r.scanOne(row)
}

func (r *AccountRepository) FindByID(ctx context.Context, id int64) (*account.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	return r.scanOne(row)
}

func (r *AccountRepository) scanOne(row rowScanner) (*account.Account, error) {
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, account.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return a, nil
}

// Update は行ロック（SELECT ... FOR UPDATE）を取ってから fn を適用し、同じトランザクションで保存します。
func (r *AccountRepository) Update(ctx context.Context, id int64, fn account.MutateFunc) (*account.Account, error) {
	var updated *account.Account
	err := WithTx(ctx, r.db, nil, func(ctx context.Context, tx DBTX) error {
		row := tx.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id)
		a, err := r.scanOne(row)
		if err != nil {
			return err
		}
		if err := fn(a); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE accounts SET password_hash = $2, resume_path = $3, who_am_i = $4,
			 failed_login_attempts = $5, lockout_end = $6, session_id = $7,
			 last_login_at = $8, last_password_change = $9
			 WHERE id = $1`,
			id, a.PasswordHash, a.ResumePath, a.WhoAmI,
			a.Lockout.FailedAttempts, nullTime(a.Lockout.LockedUntil), a.SessionID,
			nullTime(a.LastLoginAt), nullTime(a.LastPasswordChange),
		)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *AccountRepository) PasswordHistory(ctx context.Context, accountID int64) ([]account.PasswordHistoryEntry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, password_hash, changed_at FROM password_history
		 WHERE account_id = $1
		 ORDER BY changed_at, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []account.PasswordHistoryEntry
	for rows.Next() {
		var h account.PasswordHistoryEntry
		if err := rows.Scan(&h.ID, &h.AccountID, &h.PasswordHash, &h.ChangedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
