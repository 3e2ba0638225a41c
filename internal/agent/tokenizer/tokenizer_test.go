package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
)

func TestCountText(t *testing.T) {
	assert.Equal(t, 0, CountText(""))
	assert.Greater(t, CountText("Qual o valor do DAS?"), 0)
}

func TestEstimateTokensCountsOverhead(t *testing.T) {
	msgs := []schema.Message{{Role: schema.RoleSystem}, {Role: schema.RoleUser}}
	assert.Equal(t, 8, EstimateTokens(msgs))

	msgs[1].Content = "férias proporcionais"
	assert.Greater(t, EstimateTokens(msgs), 8)
}

func TestTrimHistoryDropsOldestFirst(t *testing.T) {
	long := strings.Repeat("imposto ", 200)
	turns := []schema.ConversationTurn{
		{UserMessage: long, AssistantMessage: long},
		{UserMessage: "u2", AssistantMessage: "a2"},
		{UserMessage: "u3", AssistantMessage: "a3"},
	}

	limit := EstimateTurns(turns[1:])
	trimmed := TrimHistory(turns, limit)

	assert.Equal(t, turns[1:], trimmed)
}

func TestTrimHistoryNoLimit(t *testing.T) {
	turns := []schema.ConversationTurn{{UserMessage: "a", AssistantMessage: "b"}}
	assert.Equal(t, turns, TrimHistory(turns, 0))
	assert.Empty(t, TrimHistory(turns, 1))
}
