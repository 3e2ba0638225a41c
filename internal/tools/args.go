package tools

import "math"

// Args 工具调用参数（JSON 对象解码结果）
type Args map[string]any

// Float 读取数值参数，缺失或为 null 时返回默认值
func (a Args) Float(key string, def float64) float64 {
	switch v := a[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Int 读取整数参数
func (a Args) Int(key string, def int) int {
	switch v := a[key].(type) {
	case float64:
		return int(math.Trunc(v))
	case int:
		return v
	case int64:
		return int(v)
	}
	return def
}

// OptionalInt 读取可为空的整数参数
func (a Args) OptionalInt(key string) (int, bool) {
	if !a.Has(key) {
		return 0, false
	}
	return a.Int(key, 0), true
}

// String 读取字符串参数
func (a Args) String(key, def string) string {
	if v, ok := a[key].(string); ok {
		return v
	}
	return def
}

// Bool 读取布尔参数
func (a Args) Bool(key string, def bool) bool {
	if v, ok := a[key].(bool); ok {
		return v
	}
	return def
}

// Has 参数存在且不为 null
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}
