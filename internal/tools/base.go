package tools

import (
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrUnknownTool 模型请求了未注册的工具
var ErrUnknownTool = errors.New("unknown tool")

// Tool 工具接口
// 工具必须是纯函数：无 I/O、无副作用、对相同输入给出相同输出。
// 业务层面的失败通过返回 {"erro": "..."} 结构表达，而不是 error。
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(args Args) any
}

// ToolSpec 对外公布的工具描述
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ErrorResult 工具级业务错误载荷
type ErrorResult struct {
	Erro string `json:"erro"`
}

// ToolRegistry 工具注册表
// 构造完成后只读，可被任意数量的 goroutine 并发访问。
type ToolRegistry struct {
	order  []Tool
	tools  map[string]Tool
	shapes map[string]*jsonschema.Resolved
}

// NewToolRegistry 创建工具注册表，名称重复或为空时报错
func NewToolRegistry(list ...Tool) (*ToolRegistry, error) {
	r := &ToolRegistry{
		order:  make([]Tool, 0, len(list)),
		tools:  make(map[string]Tool, len(list)),
		shapes: make(map[string]*jsonschema.Resolved, len(list)),
	}
	for _, tool := range list {
		if tool == nil {
			return nil, fmt.Errorf("tool is nil")
		}
		name := tool.Name()
		if name == "" {
			return nil, fmt.Errorf("tool name is empty")
		}
		if _, exists := r.tools[name]; exists {
			return nil, fmt.Errorf("tool %s already registered", name)
		}
		shape, err := compileShape(tool.Parameters())
		if err != nil {
			return nil, fmt.Errorf("tool %s: invalid parameters schema: %w", name, err)
		}
		r.tools[name] = tool
		r.shapes[name] = shape
		r.order = append(r.order, tool)
	}
	return r, nil
}

// Get 获取工具
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// List 按注册顺序列出所有工具
func (r *ToolRegistry) List() []Tool {
	out := make([]Tool, len(r.order))
	copy(out, r.order)
	return out
}

// Names 按注册顺序列出工具名称
func (r *ToolRegistry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, t := range r.order {
		names = append(names, t.Name())
	}
	return names
}

// Schemas 稳定顺序的工具描述列表
func (r *ToolRegistry) Schemas() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, t := range r.order {
		specs = append(specs, ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return specs
}

// Validate 检查参数形状（必填字段、基本类型）；取值是否合法由工具判断
func (r *ToolRegistry) Validate(name string, args Args) error {
	if _, ok := r.tools[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return validateShape(r.shapes[name], args)
}

// Dispatch 按名称执行工具
func (r *ToolRegistry) Dispatch(name string, args Args) (any, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return tool.Execute(args), nil
}
