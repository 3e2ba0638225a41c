package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
)

var (
	encOnce sync.Once
	enc     *tiktoken.Tiktoken
)

// encoding 懒加载 cl100k_base，失败时返回 nil（走字符估算）
func encoding() *tiktoken.Tiktoken {
	encOnce.Do(func() {
		e, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			enc = e
		}
	})
	return enc
}

// CountText 估算一段文本的 token 数
func CountText(text string) int {
	if text == "" {
		return 0
	}
	if e := encoding(); e != nil {
		return len(e.Encode(text, nil, nil))
	}
	return fallback(len(text))
}

// EstimateTokens 估算消息列表的 token 数量。
// 对每条消息统计 Content、ToolCalls，并加上约 4 个 token 的元数据开销。
func EstimateTokens(messages []schema.Message) int {
	total := 0
	for _, m := range messages {
		total += CountText(m.Content)
		if len(m.ToolCalls) > 0 {
			total += CountText(fmt.Sprintf("%v", m.ToolCalls))
		}
		total += 4
	}
	return total
}

// EstimateTurns 估算历史轮次的 token 数量（每轮两条消息）
func EstimateTurns(turns []schema.ConversationTurn) int {
	total := 0
	for _, t := range turns {
		total += CountText(t.UserMessage) + CountText(t.AssistantMessage) + 8
	}
	return total
}

// TrimHistory 从最旧的轮次开始丢弃，直到估算值不超过 limit。
// limit <= 0 表示不限制；返回的切片保持原有顺序。
func TrimHistory(turns []schema.ConversationTurn, limit int) []schema.ConversationTurn {
	if limit <= 0 {
		return turns
	}
	start := 0
	total := EstimateTurns(turns)
	for start < len(turns) && total > limit {
		total -= EstimateTurns(turns[start : start+1])
		start++
	}
	return turns[start:]
}

// fallback 按 2.5 字符约等于 1 token 进行估算
func fallback(chars int) int {
	return int(float64(chars) / 2.5)
}
