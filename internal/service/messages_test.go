package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/agent"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/store"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

// memoryRepo 内存版对话仓库
type memoryRepo struct {
	mu      sync.Mutex
	rows    []store.Conversation
	queries int
	saveErr error
}

func (r *memoryRepo) Save(_ context.Context, c *store.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	c.ID = int64(len(r.rows) + 1)
	c.CreatedAt = time.Date(2025, 3, 10, 12, 0, len(r.rows), 0, time.UTC)
	r.rows = append(r.rows, *c)
	return nil
}

func (r *memoryRepo) History(_ context.Context, sessionID string, limit int) ([]store.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queries++
	var out []store.Conversation
	for _, row := range r.rows {
		if row.SessionID == sessionID {
			out = append(out, row)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *memoryRepo) Clear(_ context.Context, sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	var n int64
	for _, row := range r.rows {
		if row.SessionID == sessionID {
			n++
			continue
		}
		kept = append(kept, row)
	}
	r.rows = kept
	return n, nil
}

// scriptedProvider 记录每次请求的消息
type scriptedProvider struct {
	mu       sync.Mutex
	requests []llm.Request
	reply    func(req llm.Request) *schema.LLMResponse
	pieces   []string
	err      error
}

func (p *scriptedProvider) Generate(_ context.Context, req llm.Request) (*schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	return p.reply(req), nil
}

func (p *scriptedProvider) Stream(_ context.Context, req llm.Request) (llm.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	return &sliceStream{pieces: p.pieces}, nil
}

type sliceStream struct {
	pieces []string
	idx    int
}

func (s *sliceStream) Next() bool {
	if s.idx >= len(s.pieces) {
		return false
	}
	s.idx++
	return true
}
func (s *sliceStream) Current() string { return s.pieces[s.idx-1] }
func (s *sliceStream) Err() error      { return nil }
func (s *sliceStream) Close() error    { return nil }

func echoReply(req llm.Request) *schema.LLMResponse {
	last := req.Messages[len(req.Messages)-1]
	return &schema.LLMResponse{
		Content:      "resposta: " + last.Content,
		FinishReason: "stop",
		Model:        "gpt-test",
		Usage:        schema.Usage{Prompt: 10, Completion: 5, Total: 15},
	}
}

func newService(t *testing.T, provider *scriptedProvider, repo *memoryRepo, cache HistoryCache) *Messages {
	t.Helper()
	now := func() time.Time { return time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC) }
	ag := agent.NewAgent(provider, tools.NewAccountingRegistry(now), "sys")
	return NewMessages(ag, repo, cache, Options{ContextTurns: 2, Now: now})
}

func TestSendGeneratesSessionAndPersists(t *testing.T) {
	provider := &scriptedProvider{reply: echoReply}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, nil)

	userID := int64(3)
	res, err := svc.Send(context.Background(), SendRequest{
		Message:    "  Qual o prazo   do DAS? ",
		UseHistory: true,
		UseTools:   true,
		UserID:     &userID,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, "resposta: Qual o prazo do DAS?", res.Message)
	assert.Equal(t, "gpt-test", res.Metadata.Model)
	assert.Equal(t, []string{"das", "prazo"}, res.Metadata.Keywords)
	assert.Equal(t, schema.Usage{Prompt: 10, Completion: 5, Total: 15}, res.Metadata.Tokens)
	assert.Empty(t, res.Metadata.ToolsUsed)

	require.Len(t, repo.rows, 1)
	row := repo.rows[0]
	assert.Equal(t, res.SessionID, row.SessionID)
	assert.Equal(t, &userID, row.UserID)
	assert.Equal(t, "Qual o prazo do DAS?", row.UserMessage)
	assert.Equal(t, "gpt-test", row.Metadata["model"])
}

func TestSendUsesRecentHistory(t *testing.T) {
	provider := &scriptedProvider{reply: echoReply}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, nil)
	ctx := context.Background()

	for _, msg := range []string{"um", "dois", "três"} {
		_, err := svc.Send(ctx, SendRequest{Message: msg, SessionID: "s1", UseHistory: true})
		require.NoError(t, err)
	}

	_, err := svc.Send(ctx, SendRequest{Message: "quatro", SessionID: "s1", UseHistory: true})
	require.NoError(t, err)

	last := provider.requests[len(provider.requests)-1].Messages
	// system + 2 turnos + user
	require.Len(t, last, 6)
	assert.Equal(t, "dois", last[1].Content)
	assert.Equal(t, "resposta: dois", last[2].Content)
	assert.Equal(t, "três", last[3].Content)
	assert.Equal(t, "quatro", last[5].Content)

	_, err = svc.Send(ctx, SendRequest{Message: "sem histórico", SessionID: "s1", UseHistory: false})
	require.NoError(t, err)
	assert.Len(t, provider.requests[len(provider.requests)-1].Messages, 2)
}

func TestSendRejectsBlankMessage(t *testing.T) {
	svc := newService(t, &scriptedProvider{reply: echoReply}, &memoryRepo{}, nil)
	_, err := svc.Send(context.Background(), SendRequest{Message: "   \n\t "})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestSendProviderFailureIsNotPersisted(t *testing.T) {
	provider := &scriptedProvider{err: errors.New("timeout")}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, nil)

	_, err := svc.Send(context.Background(), SendRequest{Message: "oi", SessionID: "s"})
	assert.ErrorIs(t, err, agent.ErrProvider)
	assert.Empty(t, repo.rows)
}

func TestSendSurvivesPersistenceFailure(t *testing.T) {
	repo := &memoryRepo{saveErr: errors.New("db down")}
	svc := newService(t, &scriptedProvider{reply: echoReply}, repo, nil)

	res, err := svc.Send(context.Background(), SendRequest{Message: "oi", SessionID: "s"})
	require.NoError(t, err)
	assert.Equal(t, "resposta: oi", res.Message)
}

func TestSendWithRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := store.NewHistoryCache(client, time.Minute)

	provider := &scriptedProvider{reply: echoReply}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, cache)
	ctx := context.Background()

	_, err := svc.Send(ctx, SendRequest{Message: "um", SessionID: "s1", UseHistory: true})
	require.NoError(t, err)
	_, err = svc.Send(ctx, SendRequest{Message: "dois", SessionID: "s1", UseHistory: true})
	require.NoError(t, err)

	// 只有第一次未命中时查询数据库
	assert.Equal(t, 1, repo.queries)

	last := provider.requests[len(provider.requests)-1].Messages
	require.Len(t, last, 4)
	assert.Equal(t, "um", last[1].Content)

	n, err := svc.ClearHistory(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	_, ok, err := cache.Load(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSendStreamPersistsFullText(t *testing.T) {
	provider := &scriptedProvider{pieces: []string{"O DAS ", "vence dia 20."}}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, nil)

	var buf bytes.Buffer
	sessionID, err := svc.SendStream(context.Background(), SendRequest{Message: "quando vence o DAS?", SessionID: "s9"}, &buf)
	require.NoError(t, err)

	assert.Equal(t, "s9", sessionID)
	assert.Equal(t, "O DAS vence dia 20.", buf.String())
	require.Len(t, repo.rows, 1)
	assert.Equal(t, "O DAS vence dia 20.", repo.rows[0].AssistantMessage)
	assert.Equal(t, true, repo.rows[0].Metadata["streaming"])
	assert.Greater(t, repo.rows[0].Metadata["estimated_tokens"], 0)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestSendStreamClientGoneSkipsPersistence(t *testing.T) {
	provider := &scriptedProvider{pieces: []string{"a", "b"}}
	repo := &memoryRepo{}
	svc := newService(t, provider, repo, nil)

	_, err := svc.SendStream(context.Background(), SendRequest{Message: "oi", SessionID: "s"}, failingWriter{})
	assert.ErrorContains(t, err, "broken pipe")
	assert.Empty(t, repo.rows)
}

func TestHistoryDefaultLimit(t *testing.T) {
	repo := &memoryRepo{}
	svc := newService(t, &scriptedProvider{reply: echoReply}, repo, nil)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		require.NoError(t, repo.Save(ctx, &store.Conversation{SessionID: "s", UserMessage: "u", AssistantMessage: "a"}))
	}

	entries, err := svc.History(ctx, "s", 0)
	require.NoError(t, err)
	assert.Len(t, entries, 20)

	entries, err = svc.History(ctx, "outra", 5)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)
}
