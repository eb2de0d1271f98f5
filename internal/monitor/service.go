package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"isin-controls/internal/store"
)

// Service 负责持久化一次运行的监控事件，每个事件都带有本次运行的 RunID。
type Service struct {
	db     *sql.DB
	runID  string
	logger *zap.Logger
}

// NewService 初始化监控服务，创建所需表结构。
func NewService(store *store.Store, logger *zap.Logger) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("monitor: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		db:     store.DB(),
		runID:  uuid.NewString(),
		logger: logger,
	}

	if err := s.initSchema(); err != nil {
		return nil, err
	}

	return s, nil
}

// RunID 返回本次运行的标识。
func (s *Service) RunID() string {
	return s.runID
}

func (s *Service) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS run_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_run_events_type ON run_events(event_type);
CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("monitor: 初始化表失败: %w", err)
	}
	return nil
}

// Record 写入单个事件。
func (s *Service) Record(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("monitor: 序列化事件失败: %w", err)
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RunID == "" {
		event.RunID = s.runID
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO run_events (run_id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.RunID, string(event.Type), string(payload), event.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("monitor: 写入事件失败: %w", err)
	}

	return nil
}

func (s *Service) recordOrWarn(ctx context.Context, typ EventType, payload interface{}, msg string) {
	if err := s.Record(ctx, Event{
		Type:      typ,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}); err != nil {
		s.logger.Warn(msg, zap.Error(err))
	}
}

// RecordRunStarted 记录运行开始。
func (s *Service) RecordRunStarted(ctx context.Context, payload RunStartedPayload) {
	s.recordOrWarn(ctx, EventRunStarted, payload, "记录运行开始事件失败")
}

// RecordStructuralError 记录分组结构异常。
func (s *Service) RecordStructuralError(ctx context.Context, payload StructuralErrorPayload) {
	s.recordOrWarn(ctx, EventStructuralError, payload, "记录结构异常事件失败")
}

// RecordRegistryError 记录登记册查询失败。
func (s *Service) RecordRegistryError(ctx context.Context, payload RegistryErrorPayload) {
	s.recordOrWarn(ctx, EventRegistryError, payload, "记录登记册异常事件失败")
}

// RecordChunkFailure 记录预热批次失败。
func (s *Service) RecordChunkFailure(ctx context.Context, err error) {
	s.recordOrWarn(ctx, EventChunkFailure, ChunkFailurePayload{Error: err.Error()}, "记录批次失败事件失败")
}

// RecordSummary 记录运行汇总。
func (s *Service) RecordSummary(ctx context.Context, payload RunSummaryPayload) {
	s.recordOrWarn(ctx, EventRunSummary, payload, "记录运行汇总事件失败")
}

// RecordError 记录异常。
func (s *Service) RecordError(ctx context.Context, msg string, err error, ctxMap map[string]interface{}) {
	payload := ErrorPayload{
		Message: msg,
		Error:   err.Error(),
		Context: ctxMap,
	}
	s.recordOrWarn(ctx, EventError, payload, "记录异常事件失败")
}

// ListEvents 按类型检索最近事件。
func (s *Service) ListEvents(ctx context.Context, eventType EventType, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, event_type, payload, created_at FROM run_events`
	args := make([]interface{}, 0, 2)
	if eventType != "" {
		query += ` WHERE event_type = ?`
		args = append(args, string(eventType))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("monitor: 查询事件失败: %w", err)
	}
	defer rows.Close()

	events := make([]Event, 0, limit)
	for rows.Next() {
		var (
			runID   string
			typ     string
			payload string
			created string
		)
		if scanErr := rows.Scan(&runID, &typ, &payload, &created); scanErr != nil {
			return nil, fmt.Errorf("monitor: 解析事件失败: %w", scanErr)
		}

		ts, parseErr := time.Parse(time.RFC3339Nano, created)
		if parseErr != nil {
			ts = time.Now().UTC()
		}

		events = append(events, Event{
			RunID:     runID,
			Type:      EventType(typ),
			Timestamp: ts,
			Payload:   json.RawMessage(payload),
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monitor: 读取事件失败: %w", err)
	}

	return events, nil
}
