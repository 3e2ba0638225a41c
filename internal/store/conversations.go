package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
)

// Conversation 一轮已持久化的对话
type Conversation struct {
	ID               int64
	SessionID        string
	UserID           *int64
	UserMessage      string
	AssistantMessage string
	Metadata         map[string]any
	CreatedAt        time.Time
}

// Turn 转换为编排器使用的历史轮次
func (c Conversation) Turn() schema.ConversationTurn {
	return schema.ConversationTurn{UserMessage: c.UserMessage, AssistantMessage: c.AssistantMessage}
}

// ConversationStore 对话历史（Postgres）
type ConversationStore struct {
	db Querier
}

func NewConversationStore(db Querier) *ConversationStore {
	if db == nil {
		panic("store: querier required")
	}
	return &ConversationStore{db: db}
}

// Save 保存一轮对话
func (s *ConversationStore) Save(ctx context.Context, c *Conversation) error {
	ctx, span := tracer.Start(ctx, "store.conversations.save")
	defer span.End()
	span.SetAttributes(attribute.String("contabil.session_id", c.SessionID))

	var meta []byte
	if c.Metadata != nil {
		var err error
		if meta, err = json.Marshal(c.Metadata); err != nil {
			return fmt.Errorf("store: encode metadata: %w", err)
		}
	}

	query := `
		INSERT INTO conversations (session_id, user_id, user_message, assistant_message, meta_info)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`
	if err := s.db.QueryRow(ctx, query, c.SessionID, c.UserID, c.UserMessage, c.AssistantMessage, meta).
		Scan(&c.ID, &c.CreatedAt); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store: save conversation: %w", err)
	}
	return nil
}

// History 返回最近 limit 轮，按时间从旧到新
func (s *ConversationStore) History(ctx context.Context, sessionID string, limit int) ([]Conversation, error) {
	ctx, span := tracer.Start(ctx, "store.conversations.history")
	defer span.End()
	span.SetAttributes(attribute.String("contabil.session_id", sessionID), attribute.Int("contabil.limit", limit))

	query := `
		SELECT id, session_id, user_id, user_message, assistant_message, meta_info, created_at
		FROM conversations
		WHERE session_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	rows, err := s.db.Query(ctx, query, sessionID, limit)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("store: query history: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var (
			c    Conversation
			meta []byte
		)
		if err := rows.Scan(&c.ID, &c.SessionID, &c.UserID, &c.UserMessage, &c.AssistantMessage, &meta, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("store: scan history: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("store: decode metadata: %w", err)
			}
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate history: %w", err)
	}

	// 查询按新到旧，返回时反转
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Clear 删除会话的全部历史，返回删除行数
func (s *ConversationStore) Clear(ctx context.Context, sessionID string) (int64, error) {
	ctx, span := tracer.Start(ctx, "store.conversations.clear")
	defer span.End()

	ct, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE session_id = $1`, sessionID)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("store: clear history: %w", err)
	}
	return ct.RowsAffected(), nil
}
