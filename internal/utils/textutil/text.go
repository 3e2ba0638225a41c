package textutil

import "strings"

// MaxMessageLength 用户消息最大字符数
const MaxMessageLength = 2000

var accountingKeywords = []string{
	"imposto", "sped", "nfe", "das", "darf", "simples nacional",
	"lucro real", "lucro presumido", "mei", "folha pagamento",
	"férias", "13º", "rescisão", "contrato", "obrigação",
	"prazo", "entrega", "declaração", "irpf", "irpj",
}

// SanitizeInput 合并空白并截断到 maxLength 个字符
func SanitizeInput(text string, maxLength int) string {
	text = strings.Join(strings.Fields(text), " ")
	if runes := []rune(text); maxLength > 0 && len(runes) > maxLength {
		text = string(runes[:maxLength])
	}
	return strings.TrimSpace(text)
}

// ExtractKeywords 按子串匹配提取会计关键词，顺序与词表一致
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	found := []string{}
	for _, kw := range accountingKeywords {
		if strings.Contains(lower, kw) {
			found = append(found, kw)
		}
	}
	return found
}
