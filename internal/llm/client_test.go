package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4-turbo-2024-04-09",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "calcular_das_simples_nacional", "arguments": "{\"receita_bruta_12_meses\": 200000, \"anexo\": 1}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 120, "completion_tokens": 30, "total_tokens": 150}
}`

func newTestServer(t *testing.T, handler func(body map[string]any) (string, string)) (*httptest.Server, *[]map[string]any) {
	t.Helper()
	var captured []map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.Unmarshal(raw, &body))
		captured = append(captured, body)

		contentType, payload := handler(body)
		w.Header().Set("Content-Type", contentType)
		_, _ = io.WriteString(w, payload)
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func newTestClient(server *httptest.Server) *Client {
	return NewClient("sk-test", "gpt-4-turbo-preview",
		WithBaseURL(server.URL+"/"),
		WithGeneration(1500, 0.7),
	)
}

func TestGenerateWithTools(t *testing.T) {
	server, captured := newTestServer(t, func(map[string]any) (string, string) {
		return "application/json", toolCallCompletion
	})
	client := newTestClient(server)

	registry := tools.NewAccountingRegistry(nil)
	resp, err := client.Generate(context.Background(), Request{
		Messages: []schema.Message{
			{Role: schema.RoleSystem, Content: "sys"},
			{Role: schema.RoleUser, Content: "Quanto pago de DAS?"},
		},
		Tools: registry.Schemas(),
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_calls", resp.FinishReason)
	assert.Equal(t, "gpt-4-turbo-2024-04-09", resp.Model)
	assert.Equal(t, schema.Usage{Prompt: 120, Completion: 30, Total: 150}, resp.Usage)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "calcular_das_simples_nacional", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"receita_bruta_12_meses": 200000, "anexo": 1}`, resp.ToolCalls[0].Function.Arguments)

	require.Len(t, *captured, 1)
	body := (*captured)[0]
	assert.Equal(t, "gpt-4-turbo-preview", body["model"])
	assert.EqualValues(t, 1500, body["max_tokens"])
	assert.InDelta(t, 0.7, body["temperature"], 1e-9)
	assert.Equal(t, "auto", body["tool_choice"])
	assert.Len(t, body["tools"], 4)
}

func TestGenerateWithoutToolsOmitsToolChoice(t *testing.T) {
	server, captured := newTestServer(t, func(map[string]any) (string, string) {
		return "application/json", `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"Olá"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`
	})
	client := newTestClient(server)

	resp, err := client.Generate(context.Background(), Request{
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "oi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Olá", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Empty(t, resp.ToolCalls)

	body := (*captured)[0]
	assert.NotContains(t, body, "tools")
	assert.NotContains(t, body, "tool_choice")
}

func TestGenerateEchoesAssistantToolCalls(t *testing.T) {
	server, captured := newTestServer(t, func(map[string]any) (string, string) {
		return "application/json", `{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"ok"}}],
			"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`
	})
	client := newTestClient(server)

	args := `{"salario": 3000}`
	_, err := client.Generate(context.Background(), Request{
		Messages: []schema.Message{
			{Role: schema.RoleUser, Content: "férias"},
			{Role: schema.RoleAssistant, ToolCalls: []schema.ToolCall{{
				ID: "call_9", Type: "function",
				Function: schema.FunctionCall{Name: "calcular_ferias", Arguments: args},
			}}},
			{Role: schema.RoleTool, ToolCallID: "call_9", Name: "calcular_ferias", Content: `{"ok":true}`},
		},
	})
	require.NoError(t, err)

	messages := (*captured)[0]["messages"].([]any)
	require.Len(t, messages, 3)

	assistant := messages[1].(map[string]any)
	assert.Equal(t, "assistant", assistant["role"])
	call := assistant["tool_calls"].([]any)[0].(map[string]any)
	assert.Equal(t, "call_9", call["id"])
	assert.Equal(t, args, call["function"].(map[string]any)["arguments"])

	tool := messages[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_9", tool["tool_call_id"])
}

func TestGenerateProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	t.Cleanup(server.Close)

	_, err := newTestClient(server).Generate(context.Background(), Request{
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "oi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion failed")
}

func TestStream(t *testing.T) {
	server, captured := newTestServer(t, func(map[string]any) (string, string) {
		payload := ""
		for _, piece := range []string{"Olá", ", ", "mundo"} {
			payload += fmt.Sprintf("data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
		}
		payload += "data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{},\"finish_reason\":\"stop\"}]}\n\n"
		payload += "data: [DONE]\n\n"
		return "text/event-stream", payload
	})
	client := newTestClient(server)

	stream, err := client.Stream(context.Background(), Request{
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "oi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var pieces []string
	for stream.Next() {
		pieces = append(pieces, stream.Current())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"Olá", ", ", "mundo"}, pieces)

	body := (*captured)[0]
	assert.Equal(t, true, body["stream"])
	assert.NotContains(t, body, "tools")
}

func chunkEvent(piece string) string {
	return fmt.Sprintf("data: {\"id\":\"s\",\"object\":\"chat.completion.chunk\",\"created\":1,\"model\":\"m\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", piece)
}

func TestStreamTimeoutBoundsOnlyOpen(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, chunkEvent("início"))
		flusher.Flush()

		time.Sleep(400 * time.Millisecond)
		_, _ = io.WriteString(w, chunkEvent(" fim"))
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	t.Cleanup(server.Close)

	client := NewClient("sk-test", "m", WithBaseURL(server.URL+"/"), WithTimeout(100*time.Millisecond))
	stream, err := client.Stream(context.Background(), Request{
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "oi"}},
	})
	require.NoError(t, err)
	defer stream.Close()

	var pieces []string
	for stream.Next() {
		pieces = append(pieces, stream.Current())
	}
	require.NoError(t, stream.Err())
	assert.Equal(t, []string{"início", " fim"}, pieces)
}

func TestStreamOpenTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(server.Close)
	t.Cleanup(func() { close(release) })

	client := NewClient("sk-test", "m", WithBaseURL(server.URL+"/"), WithTimeout(50*time.Millisecond))
	_, err := client.Stream(context.Background(), Request{
		Messages: []schema.Message{{Role: schema.RoleUser, Content: "oi"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat completion stream failed")
}
