// Package jobs は監査イベントを Asynq キュー経由で非同期に書き込みます。
//
// リクエスト処理ではイベントをキューに積むだけにし、ワーカーが永続化先の Sink に書き込みます。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/yourusername/ace-job-agency/internal/audit"
)

const (
	taskTypeAuditAppend = "audit:append"
	queueAudit          = "audit"
	maxAuditRetry       = 5
)

// Manager は監査ジョブの投入とワーカーを管理します。
type Manager struct {
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	sink   audit.Sink
	logger *zap.Logger
}

var _ audit.Sink = (*Manager)(nil)

// NewManager は Manager を初期化します。sink はワーカーが書き込む永続化先です。
func NewManager(redisURL string, sink audit.Sink, logger *zap.Logger) (*Manager, error) {
	if sink == nil {
		return nil, errors.New("sink is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 2,
			Queues: map[string]int{
				queueAudit: 1,
			},
		},
	)

	manager := &Manager{
		client: asynq.NewClient(opt),
		server: server,
		mux:    asynq.NewServeMux(),
		sink:   sink,
		logger: logger,
	}
	manager.mux.HandleFunc(taskTypeAuditAppend, manager.handleAuditTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error("asynq server stopped with error", zap.Error(err))
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Append は監査イベントをキューに投入します。
func (m *Manager) Append(ctx context.Context, ev audit.Event) error {
	task, err := newAuditTask(ev)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(maxAuditRetry)); err != nil {
		return fmt.Errorf("enqueue audit event: %w", err)
	}
	return nil
}

func newAuditTask(ev audit.Event) (*asynq.Task, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskTypeAuditAppend, body, asynq.Queue(queueAudit)), nil
}

func (m *Manager) handleAuditTask(ctx context.Context, task *asynq.Task) error {
	var ev audit.Event
	if err := json.Unmarshal(task.Payload(), &ev); err != nil {
		// 壊れたペイロードは再試行しても直らない
		return fmt.Errorf("decode audit payload: %v: %w", err, asynq.SkipRetry)
	}
	if ev.Action == "" {
		return fmt.Errorf("missing action in payload: %w", asynq.SkipRetry)
	}
	if err := m.sink.Append(ctx, ev); err != nil {
		m.logger.Warn("audit append failed, will retry", zap.String("action", ev.Action), zap.Error(err))
		return err
	}
	return nil
}
