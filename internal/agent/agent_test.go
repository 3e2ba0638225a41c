package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/llm"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

// stubProvider 按顺序返回预设响应，并记录收到的请求
type stubProvider struct {
	mu        sync.Mutex
	responses []*schema.LLMResponse
	errs      []error
	requests  []llm.Request

	stream    *stubStream
	streamErr error
}

func (p *stubProvider) Generate(_ context.Context, req llm.Request) (*schema.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := len(p.requests)
	copied := llm.Request{
		Messages: append([]schema.Message(nil), req.Messages...),
		Tools:    req.Tools,
	}
	p.requests = append(p.requests, copied)

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	if idx >= len(p.responses) {
		return nil, errors.New("no more stub responses")
	}
	return p.responses[idx], nil
}

func (p *stubProvider) Stream(context.Context, llm.Request) (llm.Stream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	return p.stream, nil
}

func (p *stubProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type stubStream struct {
	pieces []string
	err    error
	idx    int
	closed bool
	mu     sync.Mutex
}

func (s *stubStream) Next() bool {
	if s.idx >= len(s.pieces) {
		return false
	}
	s.idx++
	return true
}

func (s *stubStream) Current() string { return s.pieces[s.idx-1] }
func (s *stubStream) Err() error      { return s.err }

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// recordingTool 记录执行次数的工具
type recordingTool struct {
	name  string
	calls int
}

func (t *recordingTool) Name() string        { return t.name }
func (t *recordingTool) Description() string { return "test tool" }
func (t *recordingTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"valor": map[string]any{"type": "number"},
		},
		"required": []string{"valor"},
	}
}
func (t *recordingTool) Execute(args tools.Args) any {
	t.calls++
	return map[string]any{"dobro": args.Float("valor", 0) * 2}
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{ID: id, Type: "function", Function: schema.FunctionCall{Name: name, Arguments: args}}
}

func fixedNow() time.Time { return time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC) }

func TestAssemble(t *testing.T) {
	history := []schema.ConversationTurn{
		{UserMessage: "u1", AssistantMessage: "a1"},
		{UserMessage: "u2", AssistantMessage: "a2"},
		{UserMessage: "u1", AssistantMessage: "a1"},
	}

	msgs := Assemble("sys", "agora", history)

	require.Len(t, msgs, 1+2*len(history)+1)
	assert.Equal(t, schema.Message{Role: schema.RoleSystem, Content: "sys"}, msgs[0])
	assert.Equal(t, schema.Message{Role: schema.RoleUser, Content: "agora"}, msgs[len(msgs)-1])
	for i, turn := range history {
		assert.Equal(t, schema.Message{Role: schema.RoleUser, Content: turn.UserMessage}, msgs[1+2*i])
		assert.Equal(t, schema.Message{Role: schema.RoleAssistant, Content: turn.AssistantMessage}, msgs[2+2*i])
	}

	empty := Assemble("sys", "oi", nil)
	require.Len(t, empty, 2)
	assert.Equal(t, schema.RoleSystem, empty[0].Role)
	assert.Equal(t, "oi", empty[1].Content)
}

func TestCompleteWithoutToolCalls(t *testing.T) {
	usage := schema.Usage{Prompt: 50, Completion: 20, Total: 70}
	provider := &stubProvider{responses: []*schema.LLMResponse{
		{Content: "Olá!", FinishReason: "stop", Model: "gpt-test", Usage: usage},
	}}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	result, err := ag.Complete(context.Background(), "oi", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "Olá!", result.Message)
	assert.Equal(t, "gpt-test", result.Model)
	assert.Equal(t, usage, result.TokensUsed)
	assert.Equal(t, "stop", result.FinishReason)
	assert.NotNil(t, result.ToolsUsed)
	assert.Empty(t, result.ToolsUsed)

	require.Equal(t, 1, provider.calls())
	assert.Len(t, provider.requests[0].Tools, 4)
}

func TestCompleteWithoutToolsOmitsCatalog(t *testing.T) {
	provider := &stubProvider{responses: []*schema.LLMResponse{
		{Content: "ok", FinishReason: "stop", Model: "m"},
	}}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	_, err := ag.Complete(context.Background(), "oi", nil, false)
	require.NoError(t, err)
	assert.Empty(t, provider.requests[0].Tools)
}

func TestCompleteIsDeterministic(t *testing.T) {
	resp := &schema.LLMResponse{Content: "mesma", FinishReason: "stop", Model: "m", Usage: schema.Usage{Prompt: 1, Completion: 2, Total: 3}}
	provider := &stubProvider{responses: []*schema.LLMResponse{resp, resp}}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")
	history := []schema.ConversationTurn{{UserMessage: "a", AssistantMessage: "b"}}

	first, err := ag.Complete(context.Background(), "oi", history, false)
	require.NoError(t, err)
	second, err := ag.Complete(context.Background(), "oi", history, false)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, provider.requests[0], provider.requests[1])
}

func TestCompleteWithToolRoundTrip(t *testing.T) {
	provider := &stubProvider{responses: []*schema.LLMResponse{
		{
			FinishReason: "tool_calls",
			Model:        "m-1",
			Usage:        schema.Usage{Prompt: 100, Completion: 30, Total: 130},
			ToolCalls: []schema.ToolCall{
				toolCall("call_a", "calcular_das_simples_nacional", `{"receita_bruta_12_meses": 200000, "anexo": 1}`),
				toolCall("call_b", "calcular_ferias", `{"salario_bruto": 3000}`),
				toolCall("call_c", "calcular_ferias", `{"salario_bruto": 4000, "vende_10_dias": true}`),
			},
		},
		{
			Content:      "Resposta final",
			FinishReason: "stop",
			Model:        "m-2",
			Usage:        schema.Usage{Prompt: 400, Completion: 80, Total: 480},
		},
	}}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	result, err := ag.Complete(context.Background(), "calcule", nil, true)
	require.NoError(t, err)

	assert.Equal(t, "Resposta final", result.Message)
	assert.Equal(t, "m-2", result.Model)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, schema.Usage{Prompt: 500, Completion: 110, Total: 610}, result.TokensUsed)
	assert.Equal(t, []string{"calcular_das_simples_nacional", "calcular_ferias", "calcular_ferias"}, result.ToolsUsed)

	require.Equal(t, 2, provider.calls())
	second := provider.requests[1]
	assert.Empty(t, second.Tools)

	// system + user + assistant(tool_calls) + 3 tool messages
	require.Len(t, second.Messages, 6)
	assistant := second.Messages[2]
	assert.Equal(t, schema.RoleAssistant, assistant.Role)
	assert.Equal(t, provider.responses[0].ToolCalls, assistant.ToolCalls)

	for i, id := range []string{"call_a", "call_b", "call_c"} {
		msg := second.Messages[3+i]
		assert.Equal(t, schema.RoleTool, msg.Role)
		assert.Equal(t, id, msg.ToolCallID)
		assert.Equal(t, assistant.ToolCalls[i].Function.Name, msg.Name)
	}

	var das map[string]any
	require.NoError(t, json.Unmarshal([]byte(second.Messages[3].Content), &das))
	assert.Equal(t, "7.3%", das["aliquota_nominal"])
	assert.Equal(t, "R$ 5,940.00", das["valor_deducao"])
}

func TestCompleteToolDomainErrorFlowsToModel(t *testing.T) {
	cases := []struct {
		name string
		tool string
		args string
		erro string
	}{
		{"month out of range", "obter_obrigacoes_mes", `{"mes": 13}`, "entre 1 e 12"},
		{"anexo out of range", "calcular_das_simples_nacional", `{"receita_bruta_12_meses": 100000, "anexo": 6}`, "Anexo 6 inválido"},
		{"revenue above ceiling", "calcular_das_simples_nacional", `{"receita_bruta_12_meses": 5000000, "anexo": 1}`, "excede o limite"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			provider := &stubProvider{responses: []*schema.LLMResponse{
				{FinishReason: "tool_calls", ToolCalls: []schema.ToolCall{toolCall("c1", tc.tool, tc.args)}},
				{Content: "Não foi possível calcular", FinishReason: "stop", Model: "m"},
			}}
			ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

			result, err := ag.Complete(context.Background(), "calcule", nil, true)
			require.NoError(t, err)
			assert.Equal(t, []string{tc.tool}, result.ToolsUsed)
			assert.Equal(t, "Não foi possível calcular", result.Content)
			require.Equal(t, 2, provider.calls())

			toolMsg := provider.requests[1].Messages[3]
			assert.Equal(t, "c1", toolMsg.ToolCallID)
			assert.Contains(t, toolMsg.Content, `"erro"`)
			assert.Contains(t, toolMsg.Content, tc.erro)
		})
	}
}

func TestCompleteUnknownTool(t *testing.T) {
	provider := &stubProvider{responses: []*schema.LLMResponse{
		{FinishReason: "tool_calls", ToolCalls: []schema.ToolCall{toolCall("c1", "apagar_tudo", `{}`)}},
		{Content: "nunca", FinishReason: "stop"},
	}}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	result, err := ag.Complete(context.Background(), "oi", nil, true)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, tools.ErrUnknownTool)

	var unknown *UnknownToolError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "apagar_tudo", unknown.Name)
	assert.Equal(t, 1, provider.calls())
}

func TestCompleteMalformedArgumentsExecutesNothing(t *testing.T) {
	tool := &recordingTool{name: "dobrar"}
	registry, err := tools.NewToolRegistry(tool)
	require.NoError(t, err)

	cases := map[string]string{
		"invalid json":     `{"valor": 10`,
		"not an object":    `[1, 2]`,
		"contract failure": `{"valor": "dez"}`,
		"missing required": `{}`,
	}

	for name, badArgs := range cases {
		t.Run(name, func(t *testing.T) {
			provider := &stubProvider{responses: []*schema.LLMResponse{
				{FinishReason: "tool_calls", ToolCalls: []schema.ToolCall{
					toolCall("ok", "dobrar", `{"valor": 1}`),
					toolCall("bad", "dobrar", badArgs),
				}},
				{Content: "nunca", FinishReason: "stop"},
			}}
			ag := NewAgent(provider, registry, "sys")

			result, err := ag.Complete(context.Background(), "oi", nil, true)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.ErrorIs(t, err, ErrMalformedToolArguments)

			var malformed *MalformedToolArgumentsError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, "bad", malformed.CallID)
			assert.Equal(t, "dobrar", malformed.Tool)

			assert.Equal(t, 0, tool.calls)
			assert.Equal(t, 1, provider.calls())
		})
	}
}

func TestCompleteProviderErrors(t *testing.T) {
	upstream := errors.New("rate limit exceeded")

	t.Run("first phase", func(t *testing.T) {
		provider := &stubProvider{errs: []error{upstream}}
		ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

		result, err := ag.Complete(context.Background(), "oi", nil, true)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, ErrProvider)
		assert.ErrorIs(t, err, upstream)

		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, PhaseFirst, pe.Phase)
		assert.Contains(t, err.Error(), "rate limit exceeded")
	})

	t.Run("second phase", func(t *testing.T) {
		provider := &stubProvider{
			responses: []*schema.LLMResponse{
				{FinishReason: "tool_calls", ToolCalls: []schema.ToolCall{toolCall("c1", "calcular_ferias", `{"salario_bruto": 3000}`)}},
			},
			errs: []error{nil, upstream},
		}
		ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

		result, err := ag.Complete(context.Background(), "oi", nil, true)
		assert.Nil(t, result)

		var pe *ProviderError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, PhaseSecond, pe.Phase)
		assert.Equal(t, 2, provider.calls())
	})
}

func TestCompleteCancelledBeforeDispatch(t *testing.T) {
	tool := &recordingTool{name: "dobrar"}
	registry, err := tools.NewToolRegistry(tool)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	provider := &cancellingProvider{
		cancel: cancel,
		resp: &schema.LLMResponse{FinishReason: "tool_calls", ToolCalls: []schema.ToolCall{
			toolCall("c1", "dobrar", `{"valor": 2}`),
		}},
	}
	ag := NewAgent(provider, registry, "sys")

	_, err = ag.Complete(ctx, "oi", nil, true)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, tool.calls)
}

// cancellingProvider 返回响应的同时取消调用方上下文
type cancellingProvider struct {
	cancel context.CancelFunc
	resp   *schema.LLMResponse
}

func (p *cancellingProvider) Generate(context.Context, llm.Request) (*schema.LLMResponse, error) {
	p.cancel()
	return p.resp, nil
}

func (p *cancellingProvider) Stream(context.Context, llm.Request) (llm.Stream, error) {
	return nil, errors.New("not supported")
}

func collect(s *Stream) []string {
	var pieces []string
	for piece := range s.Chunks() {
		pieces = append(pieces, piece)
	}
	return pieces
}

func TestStreamConcatenationEqualsFullText(t *testing.T) {
	upstream := &stubStream{pieces: []string{"O DAS ", "é ", "mensal."}}
	provider := &stubProvider{stream: upstream}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	s := ag.Stream(context.Background(), "o que é DAS?", nil)
	pieces := collect(s)
	s.Wait()

	assert.Equal(t, []string{"O DAS ", "é ", "mensal."}, pieces)
	assert.Equal(t, strings.Join(pieces, ""), s.FullText())
	assert.True(t, s.Completed())
	assert.NoError(t, s.Err())
	assert.True(t, upstream.isClosed())
}

func TestStreamMidStreamFailureYieldsMarker(t *testing.T) {
	upstream := &stubStream{pieces: []string{"parcial"}, err: errors.New("connection reset")}
	provider := &stubProvider{stream: upstream}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	s := ag.Stream(context.Background(), "oi", nil)
	pieces := collect(s)
	s.Wait()

	require.Len(t, pieces, 2)
	assert.Equal(t, "parcial", pieces[0])
	assert.Equal(t, "[ERRO]: connection reset", pieces[1])
	assert.Equal(t, strings.Join(pieces, ""), s.FullText())
	assert.ErrorIs(t, s.Err(), ErrProvider)
}

func TestStreamOpenFailureYieldsMarker(t *testing.T) {
	provider := &stubProvider{streamErr: errors.New("invalid api key")}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	s := ag.Stream(context.Background(), "oi", nil)
	pieces := collect(s)

	assert.Equal(t, []string{"[ERRO]: invalid api key"}, pieces)
	var pe *ProviderError
	require.ErrorAs(t, s.Err(), &pe)
	assert.Equal(t, PhaseStream, pe.Phase)
}

func TestStreamCloseReleasesUpstream(t *testing.T) {
	upstream := &stubStream{pieces: []string{"a", "b", "c", "d"}}
	provider := &stubProvider{stream: upstream}
	ag := NewAgent(provider, tools.NewAccountingRegistry(fixedNow), "sys")

	s := ag.Stream(context.Background(), "oi", nil)
	first := <-s.Chunks()
	s.Close()

	assert.Equal(t, "a", first)
	assert.True(t, upstream.isClosed())
	assert.False(t, s.Completed())
	assert.Equal(t, "a", s.FullText())

	// 通道已关闭
	_, ok := <-s.Chunks()
	assert.False(t, ok)
}
