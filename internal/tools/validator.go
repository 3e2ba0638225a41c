package tools

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// compileShape 将工具参数声明编译为只检查形状的 schema：required 与基本类型。
// enum、取值范围等约束被移除，越界值交给工具自身返回 {"erro": ...}。
func compileShape(params map[string]any) (*jsonschema.Resolved, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode parameters: %w", err)
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode parameters: %w", err)
	}
	stripValueConstraints(&s)
	return s.Resolve(nil)
}

func stripValueConstraints(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	s.Enum = nil
	s.Const = nil
	s.Minimum = nil
	s.Maximum = nil
	s.ExclusiveMinimum = nil
	s.ExclusiveMaximum = nil
	s.MultipleOf = nil
	s.MinLength = nil
	s.MaxLength = nil
	s.Pattern = ""
	s.Format = ""
	for _, p := range s.Properties {
		stripValueConstraints(p)
	}
	stripValueConstraints(s.Items)
}

// validateShape 校验参数对象；值为 null 的字段视为未提供
func validateShape(resolved *jsonschema.Resolved, args Args) error {
	if resolved == nil {
		return nil
	}
	present := make(map[string]any, len(args))
	for k, v := range args {
		if v != nil {
			present[k] = v
		}
	}
	// 统一成 encoding/json 的解码形态（数字为 float64）
	raw, err := json.Marshal(present)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var instance map[string]any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return resolved.Validate(instance)
}
