package agent

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
)

// ErrorMarkerPrefix 流中途失败时最后一个片段的前缀
const ErrorMarkerPrefix = "[ERRO]: "

// Stream 一次流式补全的片段序列
// 有限、不可重启；Close 或上下文取消都会关闭上游连接。
type Stream struct {
	chunks chan string
	done   chan struct{}
	cancel context.CancelFunc

	mu        sync.Mutex
	full      strings.Builder
	err       error
	completed bool
}

// Chunks 片段通道，序列结束时关闭
func (s *Stream) Chunks() <-chan string { return s.chunks }

// FullText 已送达调用方的全部片段拼接结果
func (s *Stream) FullText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.full.String()
}

// Err 上游失败（已以错误标记片段送达）
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Completed 序列是否被消费到结束（而不是被调用方放弃）
func (s *Stream) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Close 放弃剩余片段并等待生产者退出
func (s *Stream) Close() {
	s.cancel()
	<-s.done
}

// Wait 等待生产者退出
func (s *Stream) Wait() { <-s.done }

// Stream 流式补全，不提供工具
func (a *Agent) Stream(ctx context.Context, userMessage string, history []schema.ConversationTurn) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		chunks: make(chan string),
		done:   make(chan struct{}),
		cancel: cancel,
	}

	req := llm.Request{Messages: Assemble(a.systemPrompt, userMessage, history)}
	go a.produce(ctx, req, s)

	return s
}

func (a *Agent) produce(ctx context.Context, req llm.Request, s *Stream) {
	ctx, span := tracer.Start(ctx, "agent.Stream")
	defer span.End()
	defer close(s.done)
	defer close(s.chunks)
	defer s.cancel()

	if a.recorder != nil {
		a.recorder.RecordRequest(PhaseStream, req.Messages, nil)
	}

	start := time.Now()
	upstream, err := a.provider.Stream(ctx, req)
	a.metrics.ObserveProviderLatency(PhaseStream, time.Since(start))
	if err != nil {
		a.fail(ctx, s, err)
		return
	}
	defer upstream.Close()

	for upstream.Next() {
		if !s.deliver(ctx, upstream.Current()) {
			slog.Info("Stream abandoned by caller")
			a.metrics.ObserveCompletion("stream", "abandoned")
			return
		}
	}

	if err := upstream.Err(); err != nil {
		if ctx.Err() != nil {
			a.metrics.ObserveCompletion("stream", "abandoned")
			return
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.fail(ctx, s, err)
		return
	}

	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()

	if a.recorder != nil {
		a.recorder.RecordResponse(PhaseStream, &schema.LLMResponse{Content: s.FullText(), FinishReason: "stop"})
	}
	a.metrics.ObserveCompletion("stream", "ok")
}

// deliver 发送片段，送达后才计入全文
func (s *Stream) deliver(ctx context.Context, piece string) bool {
	select {
	case s.chunks <- piece:
		s.mu.Lock()
		s.full.WriteString(piece)
		s.mu.Unlock()
		return true
	case <-ctx.Done():
		return false
	}
}

// fail 以错误标记片段结束序列
func (a *Agent) fail(ctx context.Context, s *Stream, err error) {
	slog.Error("Stream failed", slog.String("err", err.Error()))
	a.metrics.ObserveCompletion("stream", "error")

	s.mu.Lock()
	s.err = &ProviderError{Phase: PhaseStream, Err: err}
	s.mu.Unlock()

	if s.deliver(ctx, ErrorMarkerPrefix+err.Error()) {
		s.mu.Lock()
		s.completed = true
		s.mu.Unlock()
	}
}
