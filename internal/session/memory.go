package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	rec       Record
	expiresAt time.Time
}

// MemoryDirectory はプロセス内にセッションを保持します。Redis を使わない開発環境とテスト向けです。
type MemoryDirectory struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory は MemoryDirectory を作成します。
func NewMemoryDirectory(ttl time.Duration) *MemoryDirectory {
	if ttl <= 0 {
		ttl = DefaultIdleTimeout
	}
	return &MemoryDirectory{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

// WithClock は時刻取得関数を差し替えます。
func (d *MemoryDirectory) WithClock(now func() time.Time) *MemoryDirectory {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = now
	return d
}

func (d *MemoryDirectory) Put(ctx context.Context, rec Record) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	if rec.LoginTime.IsZero() {
		rec.LoginTime = now
	}
	if rec.LastActivity.IsZero() {
		rec.LastActivity = now
	}
	d.entries[rec.SessionID] = memoryEntry{rec: rec, expiresAt: now.Add(d.ttl)}
	return nil
}

func (d *MemoryDirectory) Touch(ctx context.Context, sessionID string) (*Record, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	entry, ok := d.entries[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	if !now.Before(entry.expiresAt) {
		delete(d.entries, sessionID)
		return nil, ErrNotFound
	}
	entry.rec.LastActivity = now
	entry.expiresAt = now.Add(d.ttl)
	d.entries[sessionID] = entry

	rec := entry.rec
	return &rec, nil
}

func (d *MemoryDirectory) Delete(ctx context.Context, sessionID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, sessionID)
	return nil
}
