package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriterJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l := NewWithWriter(&buf, "info", "json")
	l.Debug("hidden")
	l.Info("visible", slog.String("k", "v"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "visible", entry["msg"])
	assert.Equal(t, "v", entry["k"])
}

func TestTranscriptLogger(t *testing.T) {
	l, err := NewTranscriptLogger(t.TempDir())
	require.NoError(t, err)

	l.RecordRequest("first", []schema.Message{
		{Role: schema.RoleSystem, Content: "sys"},
		{Role: schema.RoleUser, Content: "oi"},
	}, []string{"calcular_ferias"})
	l.RecordResponse("first", &schema.LLMResponse{
		FinishReason: "tool_calls",
		ToolCalls: []schema.ToolCall{{ID: "c1", Type: "function", Function: schema.FunctionCall{
			Name: "calcular_ferias", Arguments: `{"salario_bruto":3000}`,
		}}},
	})
	l.RecordToolResult("calcular_ferias", tools.Args{"salario_bruto": 3000.0}, map[string]any{"ok": true})

	path := l.Path()
	require.NoError(t, l.Close())
	assert.Empty(t, l.Path())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(raw)

	assert.Contains(t, content, "Completion Transcript")
	assert.Contains(t, content, "[1] REQUEST")
	assert.Contains(t, content, "[2] RESPONSE")
	assert.Contains(t, content, "[3] TOOL_RESULT")
	assert.Contains(t, content, "calcular_ferias")

	// 关闭后写入被忽略
	l.RecordToolResult("x", nil, nil)
}
