package textutil

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/width"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func runeWidth(r rune) int {
	switch {
	case unicode.Is(unicode.Mn, r):
		return 0
	case r >= 0x1F300 && r <= 0x1FAFF: // emoji
		return 2
	}

	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth:
		return 2
	}
	return 1
}

// DisplayWidth 终端显示宽度（忽略 ANSI 颜色码）
func DisplayWidth(s string) int {
	s = ansiEscape.ReplaceAllString(s, "")
	w := 0
	for _, r := range s {
		w += runeWidth(r)
	}
	return w
}

// Truncate 按显示宽度截断，超出时追加省略号
func Truncate(text string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	plain := ansiEscape.ReplaceAllString(text, "")
	if DisplayWidth(plain) <= maxWidth {
		return text
	}

	const ellipsis = "…"
	if maxWidth <= 1 {
		return cut(plain, maxWidth)
	}
	return cut(plain, maxWidth-1) + ellipsis
}

func cut(s string, max int) string {
	w := 0
	var b strings.Builder
	for _, r := range s {
		rw := runeWidth(r)
		if w+rw > max {
			break
		}
		b.WriteRune(r)
		w += rw
	}
	return b.String()
}

// PadRight 右侧补空格到指定显示宽度
func PadRight(text string, target int) string {
	if pad := target - DisplayWidth(text); pad > 0 {
		return text + strings.Repeat(" ", pad)
	}
	return text
}

// Center 居中，左右用 fill 填充
func Center(text string, target int, fill rune) string {
	pad := target - DisplayWidth(text)
	if pad <= 0 {
		return text
	}
	left := pad / 2
	return strings.Repeat(string(fill), left) + text + strings.Repeat(string(fill), pad-left)
}
