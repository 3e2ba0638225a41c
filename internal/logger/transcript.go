package logger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

// TranscriptLogger 记录补全过程：LLM 请求、LLM 响应、工具执行结果。
// 每个进程一个文件，条目带序号与时间戳；内部加锁，可被并发调用。
type TranscriptLogger struct {
	dir      string
	file     *os.File
	logIndex int
	now      func() time.Time
	mu       sync.Mutex
}

// NewTranscriptLogger 在 dir 下创建带时间戳的记录文件
func NewTranscriptLogger(dir string) (*TranscriptLogger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create transcript directory: %w", err)
	}

	l := &TranscriptLogger{dir: dir, now: time.Now}

	name := fmt.Sprintf("transcript_%s.log", l.now().Format("20060102_150405"))
	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create transcript file: %w", err)
	}
	l.file = file

	header := fmt.Sprintf("%s\nCompletion Transcript - %s\n%s\n",
		strings.Repeat("=", 80),
		l.now().Format("2006-01-02 15:04:05"),
		strings.Repeat("=", 80),
	)
	if _, err := file.WriteString(header); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed writing header: %w", err)
	}

	return l, nil
}

// safeJSON 格式化 JSON，失败时返回错误提示
func safeJSON(v any) []byte {
	j, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Appendf(nil, `{"error": "json marshal failed: %v"}`, err)
	}
	return j
}

// writeEntry 写入一条记录
func (l *TranscriptLogger) writeEntry(entryType, content string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return
	}

	l.logIndex++
	entry := fmt.Sprintf(
		"\n%s\n[%d] %s\nTimestamp: %s\n%s\n%s\n",
		strings.Repeat("-", 80),
		l.logIndex,
		entryType,
		l.now().Format("2006-01-02 15:04:05.000"),
		strings.Repeat("-", 80),
		content,
	)

	// 记录失败不影响补全本身
	if _, err := l.file.WriteString(entry); err != nil {
		slog.Warn("Transcript write failed", slog.String("err", err.Error()))
	}
}

func dumpToolCalls(toolCalls []schema.ToolCall) []map[string]any {
	dumps := make([]map[string]any, len(toolCalls))
	for i, tc := range toolCalls {
		dumps[i] = map[string]any{
			"id":   tc.ID,
			"type": tc.Type,
			"function": map[string]any{
				"name":      tc.Function.Name,
				"arguments": tc.Function.Arguments,
			},
		}
	}
	return dumps
}

// RecordRequest 记录一次 LLM 请求（工具只输出名称）
func (l *TranscriptLogger) RecordRequest(phase string, messages []schema.Message, toolNames []string) {
	msgList := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		m := map[string]any{
			"role":    msg.Role,
			"content": msg.Content,
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		if msg.Name != "" {
			m["name"] = msg.Name
		}
		if len(msg.ToolCalls) > 0 {
			m["tool_calls"] = dumpToolCalls(msg.ToolCalls)
		}
		msgList = append(msgList, m)
	}

	if toolNames == nil {
		toolNames = []string{}
	}
	req := map[string]any{
		"phase":    phase,
		"messages": msgList,
		"tools":    toolNames,
	}
	l.writeEntry("REQUEST", "LLM Request:\n\n"+string(safeJSON(req)))
}

// RecordResponse 记录 LLM 响应
func (l *TranscriptLogger) RecordResponse(phase string, resp *schema.LLMResponse) {
	out := map[string]any{
		"phase":   phase,
		"content": resp.Content,
	}
	if resp.FinishReason != "" {
		out["finish_reason"] = resp.FinishReason
	}
	if resp.Model != "" {
		out["model"] = resp.Model
	}
	if resp.Usage.Total > 0 {
		out["usage"] = resp.Usage
	}
	if len(resp.ToolCalls) > 0 {
		out["tool_calls"] = dumpToolCalls(resp.ToolCalls)
	}
	l.writeEntry("RESPONSE", "LLM Response:\n\n"+string(safeJSON(out)))
}

// RecordToolResult 记录工具执行结果
func (l *TranscriptLogger) RecordToolResult(name string, args tools.Args, result any) {
	data := map[string]any{
		"tool_name": name,
		"arguments": args,
		"result":    result,
	}
	l.writeEntry("TOOL_RESULT", "Tool Execution:\n\n"+string(safeJSON(data)))
}

// Path 返回当前记录文件路径
func (l *TranscriptLogger) Path() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return ""
	}
	return l.file.Name()
}

// Close 关闭记录文件
func (l *TranscriptLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}
