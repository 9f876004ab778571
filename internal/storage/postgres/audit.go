package postgres

import (
	"context"
	"fmt"

	"github.com/yourusername/ace-job-agency/internal/audit"
)

// AuditRepository は監査イベントを audit_logs に追記します。
type AuditRepository struct {
	db DBTX
}

var _ audit.Sink = (*AuditRepository)(nil)

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append はイベントを1行追加します。
func (r *AuditRepository) Append(ctx context.Context, ev audit.Event) error {
	query :=
		`INSERT INTO audit_logs (account_id, action, timestamp, ip_address, user_agent, email)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 `
	_, err := r.db.ExecContext(ctx, query,
		ev.AccountID, ev.Action, ev.Timestamp, ev.IPAddress, ev.UserAgent, ev.Email)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// ForAccount はアカウントのイベントを古い順に返します。
func (r *AuditRepository) ForAccount(ctx context.Context, accountID int64) ([]audit.Event, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, action, timestamp, ip_address, user_agent, email FROM audit_logs
		 WHERE account_id = $1
		 ORDER BY timestamp, id`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []audit.Event
	for rows.Next() {
		var ev audit.Event
		if err := rows.Scan(&ev.ID, &ev.AccountID, &ev.Action, &ev.Timestamp, &ev.IPAddress, &ev.UserAgent, &ev.Email); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}
