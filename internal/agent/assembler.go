package agent

import "github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"

// Assemble 组装请求消息：system + 历史轮次（user, assistant）+ 当前 user
// 历史按传入顺序保留，不排序也不去重。
func Assemble(systemPrompt, userMessage string, history []schema.ConversationTurn) []schema.Message {
	messages := make([]schema.Message, 0, 2+2*len(history))
	messages = append(messages, schema.Message{Role: schema.RoleSystem, Content: systemPrompt})

	for _, turn := range history {
		messages = append(messages,
			schema.Message{Role: schema.RoleUser, Content: turn.UserMessage},
			schema.Message{Role: schema.RoleAssistant, Content: turn.AssistantMessage},
		)
	}

	return append(messages, schema.Message{Role: schema.RoleUser, Content: userMessage})
}
