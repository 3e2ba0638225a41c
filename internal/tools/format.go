package tools

import (
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// formatMoney 格式化为 "R$ 5,940.00"（千分位逗号，两位小数）
func formatMoney(v float64) string {
	return "R$ " + message.NewPrinter(language.English).Sprintf("%.2f", v)
}

// formatRate 名义税率，保留至少一位小数，例如 4.0% / 7.3%
func formatRate(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "%"
}

// formatPercent 两位小数百分比
func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + "%"
}
