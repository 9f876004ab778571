package account

import (
	"context"
	"sync"
)

// MemoryStore はプロセス内で完結する Store 実装です（開発・テスト用）。
// Update はストア全体のロック内で fn を実行するため、bcrypt の照合を含むログインは
// アカウントをまたいで直列化されます。本番では postgres.AccountRepository を使ってください。
type MemoryStore struct {
	mu       sync.Mutex
	nextID   int64
	nextHist int64
	byID     map[int64]*Account
	byEmail  map[string]int64
	history  map[int64][]PasswordHistoryEntry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore は空の MemoryStore を作成します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[int64]*Account),
		byEmail: make(map[string]int64),
		history: make(map[int64][]PasswordHistoryEntry),
	}
}

// Create はアカウントと履歴を保存します。
func (s *MemoryStore) Create(ctx context.Context, acct *Account, history PasswordHistoryEntry) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(acct.Email)
	if _, ok := s.byEmail[email]; ok {
		return nil, ErrDuplicateEmail
	}

	s.nextID++
	stored := acct.Clone()
	stored.ID = s.nextID
	stored.Email = email
	s.byID[stored.ID] = stored
	s.byEmail[email] = stored.ID

	s.nextHist++
	history.ID = s.nextHist
	history.AccountID = stored.ID
	s.history[stored.ID] = append(s.history[stored.ID], history)

	return stored.Clone(), nil
}

// EmailExists はメールアドレスが登録済みかを返します。
func (s *MemoryStore) EmailExists(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byEmail[NormalizeEmail(email)]
	return ok, nil
}

// FindByEmail はメールアドレスでアカウントを取得します。
func (s *MemoryStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

// FindByID はIDでアカウントを取得します。
func (s *MemoryStore) FindByID(ctx context.Context, id int64) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return acct.Clone(), nil
}

// Update はストア全体のロックを保持したまま fn を適用します。
func (s *MemoryStore) Update(ctx context.Context, id int64, fn MutateFunc) (*Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	// ID とメールアドレスは変更させない
	working.ID = current.ID
	working.Email = current.Email
	s.byID[id] = working
	return working.Clone(), nil
}

// PasswordHistory はアカウントのパスワード履歴を古い順に返します。
func (s *MemoryStore) PasswordHistory(ctx context.Context, accountID int64) ([]PasswordHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[accountID]
	out := make([]PasswordHistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}
