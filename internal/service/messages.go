package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent/tokenizer"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/utils/textutil"
)

const defaultHistoryLimit = 20

// ErrInvalidMessage 清洗后消息为空
var ErrInvalidMessage = errors.New("service: message is empty")

// Completer 补全编排器
type Completer interface {
	Complete(ctx context.Context, userMessage string, history []schema.ConversationTurn, useTools bool) (*schema.CompletionResult, error)
	Stream(ctx context.Context, userMessage string, history []schema.ConversationTurn) *agent.Stream
}

// ConversationRepository 对话持久化
type ConversationRepository interface {
	Save(ctx context.Context, c *store.Conversation) error
	History(ctx context.Context, sessionID string, limit int) ([]store.Conversation, error)
	Clear(ctx context.Context, sessionID string) (int64, error)
}

// HistoryCache 最近轮次缓存
type HistoryCache interface {
	Load(ctx context.Context, sessionID string) ([]schema.ConversationTurn, bool, error)
	Put(ctx context.Context, sessionID string, turns []schema.ConversationTurn) error
	Append(ctx context.Context, sessionID string, turn schema.ConversationTurn, keep int) error
	Invalidate(ctx context.Context, sessionID string) error
}

// Options 服务参数
type Options struct {
	ContextTurns int // 作为上下文的历史轮数
	TokenLimit   int // 历史 token 预算，<=0 不限制
	Now          func() time.Time
}

// SendRequest 发送消息请求
type SendRequest struct {
	Message    string
	SessionID  string
	UseHistory bool
	UseTools   bool
	UserID     *int64
}

// Metadata 随回复返回并持久化的元数据
type Metadata struct {
	Tokens    schema.Usage `json:"tokens"`
	Model     string       `json:"model"`
	Keywords  []string     `json:"keywords"`
	ToolsUsed []string     `json:"tools_used"`
}

// SendResult 发送结果
type SendResult struct {
	SessionID string
	Message   string
	Timestamp time.Time
	Metadata  Metadata
}

// HistoryEntry 历史记录条目
type HistoryEntry struct {
	User      string    `json:"user"`
	Assistant string    `json:"assistant"`
	Timestamp time.Time `json:"timestamp"`
}

// Messages 消息服务：历史加载、补全、持久化
type Messages struct {
	completer     Completer
	conversations ConversationRepository
	cache         HistoryCache
	opts          Options
}

// NewMessages 创建消息服务，cache 可为 nil
func NewMessages(completer Completer, conversations ConversationRepository, cache HistoryCache, opts Options) *Messages {
	if opts.ContextTurns <= 0 {
		opts.ContextTurns = 5
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Messages{
		completer:     completer,
		conversations: conversations,
		cache:         cache,
		opts:          opts,
	}
}

// prepared 清洗后的请求
type prepared struct {
	message   string
	sessionID string
	history   []schema.ConversationTurn
}

func (m *Messages) prepare(ctx context.Context, req SendRequest) (*prepared, error) {
	msg := textutil.SanitizeInput(req.Message, textutil.MaxMessageLength)
	if msg == "" {
		return nil, ErrInvalidMessage
	}

	p := &prepared{message: msg, sessionID: req.SessionID}
	if p.sessionID == "" {
		p.sessionID = uuid.NewString()
	}

	if req.UseHistory {
		history, err := m.loadHistory(ctx, p.sessionID)
		if err != nil {
			return nil, err
		}
		p.history = history
	}
	return p, nil
}

// loadHistory 先读缓存，未命中读 Postgres 并回填；最后按 token 预算裁剪
func (m *Messages) loadHistory(ctx context.Context, sessionID string) ([]schema.ConversationTurn, error) {
	if m.cache != nil {
		turns, ok, err := m.cache.Load(ctx, sessionID)
		if err != nil {
			slog.Warn("History cache unavailable", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		} else if ok {
			return tokenizer.TrimHistory(turns, m.opts.TokenLimit), nil
		}
	}

	rows, err := m.conversations.History(ctx, sessionID, m.opts.ContextTurns)
	if err != nil {
		return nil, fmt.Errorf("service: load history: %w", err)
	}
	turns := make([]schema.ConversationTurn, 0, len(rows))
	for _, row := range rows {
		turns = append(turns, row.Turn())
	}

	if m.cache != nil {
		if err := m.cache.Put(ctx, sessionID, turns); err != nil {
			slog.Warn("History cache fill failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
	}

	return tokenizer.TrimHistory(turns, m.opts.TokenLimit), nil
}

// persist 保存一轮对话；失败只记录日志，不影响已生成的回复
func (m *Messages) persist(ctx context.Context, c *store.Conversation) {
	if err := m.conversations.Save(ctx, c); err != nil {
		slog.Error("Failed to save conversation",
			slog.String("session_id", c.SessionID),
			slog.String("err", err.Error()),
		)
		return
	}
	if m.cache != nil {
		turn := c.Turn()
		if err := m.cache.Append(ctx, c.SessionID, turn, m.opts.ContextTurns); err != nil {
			slog.Warn("History cache append failed", slog.String("session_id", c.SessionID), slog.String("err", err.Error()))
		}
	}
}

// Send 非流式发送
func (m *Messages) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	p, err := m.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := m.completer.Complete(ctx, p.message, p.history, req.UseTools)
	if err != nil {
		return nil, err
	}

	meta := Metadata{
		Tokens:    result.TokensUsed,
		Model:     result.Model,
		Keywords:  textutil.ExtractKeywords(p.message),
		ToolsUsed: result.ToolsUsed,
	}

	m.persist(ctx, &store.Conversation{
		SessionID:        p.sessionID,
		UserID:           req.UserID,
		UserMessage:      p.message,
		AssistantMessage: result.Message,
		Metadata: map[string]any{
			"tokens":     meta.Tokens,
			"model":      meta.Model,
			"keywords":   meta.Keywords,
			"tools_used": meta.ToolsUsed,
		},
	})

	return &SendResult{
		SessionID: p.sessionID,
		Message:   result.Message,
		Timestamp: m.opts.Now().UTC(),
		Metadata:  meta,
	}, nil
}

// SendStream 流式发送，片段写入 w
// 调用方在序列结束前断开时不持久化。
func (m *Messages) SendStream(ctx context.Context, req SendRequest, w io.Writer) (string, error) {
	p, err := m.prepare(ctx, req)
	if err != nil {
		return "", err
	}

	stream := m.completer.Stream(ctx, p.message, p.history)
	defer stream.Close()

	for chunk := range stream.Chunks() {
		if _, err := io.WriteString(w, chunk); err != nil {
			return p.sessionID, fmt.Errorf("service: write stream: %w", err)
		}
	}
	stream.Wait()

	if !stream.Completed() || ctx.Err() != nil {
		slog.Info("Stream not persisted, caller went away", slog.String("session_id", p.sessionID))
		return p.sessionID, ctx.Err()
	}

	full := stream.FullText()
	m.persist(context.WithoutCancel(ctx), &store.Conversation{
		SessionID:        p.sessionID,
		UserID:           req.UserID,
		UserMessage:      p.message,
		AssistantMessage: full,
		Metadata: map[string]any{
			"streaming":        true,
			"estimated_tokens": tokenizer.CountText(full),
		},
	})

	return p.sessionID, nil
}

// History 会话历史，按时间从旧到新
func (m *Messages) History(ctx context.Context, sessionID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := m.conversations.History(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("service: history: %w", err)
	}

	entries := make([]HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, HistoryEntry{
			User:      row.UserMessage,
			Assistant: row.AssistantMessage,
			Timestamp: row.CreatedAt,
		})
	}
	return entries, nil
}

// ClearHistory 删除会话历史与缓存
func (m *Messages) ClearHistory(ctx context.Context, sessionID string) (int64, error) {
	n, err := m.conversations.Clear(ctx, sessionID)
	if err != nil {
		return 0, fmt.Errorf("service: clear history: %w", err)
	}
	if m.cache != nil {
		if err := m.cache.Invalidate(ctx, sessionID); err != nil {
			slog.Warn("History cache invalidate failed", slog.String("session_id", sessionID), slog.String("err", err.Error()))
		}
	}
	return n, nil
}
