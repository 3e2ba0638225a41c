package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/observability/metrics"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

var tracer = otel.Tracer("contabil.internal.agent")

// Provider 模型服务契约
// llm.Client 是生产实现，测试中用桩替代。
type Provider interface {
	Generate(ctx context.Context, req llm.Request) (*schema.LLMResponse, error)
	Stream(ctx context.Context, req llm.Request) (llm.Stream, error)
}

// Recorder 补全过程记录器（请求、响应、工具结果）
type Recorder interface {
	RecordRequest(phase string, messages []schema.Message, toolNames []string)
	RecordResponse(phase string, resp *schema.LLMResponse)
	RecordToolResult(name string, args tools.Args, result any)
}

// Agent 工具调用补全编排器
// 自身不持有跨调用的可变状态，可被多个 goroutine 并发使用。
type Agent struct {
	provider     Provider
	registry     *tools.ToolRegistry
	systemPrompt string
	recorder     Recorder
	metrics      *metrics.CompletionMetrics
}

// Option Agent 选项
type Option func(*Agent)

// WithRecorder 设置过程记录器
func WithRecorder(r Recorder) Option {
	return func(a *Agent) { a.recorder = r }
}

// WithMetrics 设置指标
func WithMetrics(m *metrics.CompletionMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// NewAgent 创建编排器
func NewAgent(provider Provider, registry *tools.ToolRegistry, systemPrompt string, opts ...Option) *Agent {
	a := &Agent{
		provider:     provider,
		registry:     registry,
		systemPrompt: systemPrompt,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Registry 返回工具注册表
func (a *Agent) Registry() *tools.ToolRegistry { return a.registry }

// pendingCall 已解析并校验、等待执行的工具调用
type pendingCall struct {
	call schema.ToolCall
	args tools.Args
}

// Complete 执行一次补全
// 模型请求工具时：执行全部工具后发起第二次请求（不再提供工具），用量两次求和。
func (a *Agent) Complete(
	ctx context.Context,
	userMessage string,
	history []schema.ConversationTurn,
	useTools bool,
) (result *schema.CompletionResult, err error) {
	ctx, span := tracer.Start(ctx, "agent.Complete")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("contabil.use_tools", useTools),
		attribute.Int("contabil.history_turns", len(history)),
	)

	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		a.metrics.ObserveCompletion("complete", outcome)
	}()

	messages := Assemble(a.systemPrompt, userMessage, history)

	req := llm.Request{Messages: messages}
	if useTools {
		req.Tools = a.registry.Schemas()
	}

	first, err := a.generate(ctx, PhaseFirst, req)
	if err != nil {
		return nil, err
	}

	if len(first.ToolCalls) == 0 {
		a.metrics.ObserveTokens(first.Usage.Prompt, first.Usage.Completion)
		return &schema.CompletionResult{
			Message:      first.Content,
			Model:        first.Model,
			TokensUsed:   first.Usage,
			FinishReason: first.FinishReason,
			ToolsUsed:    []string{},
		}, nil
	}

	messages = append(messages, schema.Message{
		Role:      schema.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.ToolCalls,
	})

	// 全部调用先解析校验，任何一个失败都不执行工具
	calls, err := a.prepareCalls(first.ToolCalls)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("completion abandoned before tool dispatch: %w", err)
	}

	toolsUsed := make([]string, 0, len(calls))
	for _, pc := range calls {
		content, err := a.dispatch(pc)
		if err != nil {
			return nil, err
		}
		messages = append(messages, schema.Message{
			Role:       schema.RoleTool,
			Content:    content,
			ToolCallID: pc.call.ID,
			Name:       pc.call.Function.Name,
		})
		toolsUsed = append(toolsUsed, pc.call.Function.Name)
	}
	span.SetAttributes(attribute.StringSlice("contabil.tools_used", toolsUsed))

	second, err := a.generate(ctx, PhaseSecond, llm.Request{Messages: messages})
	if err != nil {
		return nil, err
	}

	usage := first.Usage.Add(second.Usage)
	a.metrics.ObserveTokens(usage.Prompt, usage.Completion)

	return &schema.CompletionResult{
		Message:      second.Content,
		Model:        second.Model,
		TokensUsed:   usage,
		FinishReason: second.FinishReason,
		ToolsUsed:    toolsUsed,
	}, nil
}

// generate 发起一次非流式请求，失败统一包装为 ProviderError
func (a *Agent) generate(ctx context.Context, phase string, req llm.Request) (*schema.LLMResponse, error) {
	ctx, span := tracer.Start(ctx, "agent.provider."+phase)
	defer span.End()

	toolNames := make([]string, 0, len(req.Tools))
	for _, spec := range req.Tools {
		toolNames = append(toolNames, spec.Name)
	}
	if a.recorder != nil {
		a.recorder.RecordRequest(phase, req.Messages, toolNames)
	}

	start := time.Now()
	resp, err := a.provider.Generate(ctx, req)
	a.metrics.ObserveProviderLatency(phase, time.Since(start))
	if err == nil && resp == nil {
		err = errors.New("empty response")
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Provider call failed",
			slog.String("phase", phase),
			slog.String("err", err.Error()),
		)
		return nil, &ProviderError{Phase: phase, Err: err}
	}

	span.SetAttributes(
		attribute.String("contabil.model", resp.Model),
		attribute.String("contabil.finish_reason", resp.FinishReason),
		attribute.Int("contabil.tool_calls", len(resp.ToolCalls)),
	)
	if a.recorder != nil {
		a.recorder.RecordResponse(phase, resp)
	}

	return resp, nil
}

// prepareCalls 按模型给出的顺序解析并校验所有工具调用
func (a *Agent) prepareCalls(toolCalls []schema.ToolCall) ([]pendingCall, error) {
	calls := make([]pendingCall, 0, len(toolCalls))
	for _, tc := range toolCalls {
		name := tc.Function.Name
		if _, ok := a.registry.Get(name); !ok {
			slog.Error("Model requested unknown tool", slog.String("tool", name))
			return nil, &UnknownToolError{Name: name}
		}

		args, err := parseArguments(tc.Function.Arguments)
		if err != nil {
			return nil, &MalformedToolArgumentsError{Tool: name, CallID: tc.ID, Err: err}
		}
		if err := a.registry.Validate(name, args); err != nil {
			return nil, &MalformedToolArgumentsError{Tool: name, CallID: tc.ID, Err: err}
		}

		calls = append(calls, pendingCall{call: tc, args: args})
	}
	return calls, nil
}

// parseArguments 解析参数 JSON，必须是对象；空串视为空对象
func parseArguments(raw string) (tools.Args, error) {
	if strings.TrimSpace(raw) == "" {
		return tools.Args{}, nil
	}
	var args tools.Args
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if args == nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return args, nil
}

// dispatch 执行工具并序列化结果
func (a *Agent) dispatch(pc pendingCall) (string, error) {
	name := pc.call.Function.Name

	result, err := a.registry.Dispatch(name, pc.args)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			return "", &UnknownToolError{Name: name}
		}
		return "", err
	}
	a.metrics.ObserveToolCall(name)

	if a.recorder != nil {
		a.recorder.RecordToolResult(name, pc.args, result)
	}

	b, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("encode result of tool %s: %w", name, err)
	}

	slog.Debug("Tool executed",
		slog.String("tool", name),
		slog.String("call_id", pc.call.ID),
	)
	return string(b), nil
}
