package agent

import (
	"errors"
	"fmt"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

// 补全阶段
const (
	PhaseFirst  = "first"
	PhaseSecond = "second"
	PhaseStream = "stream"
)

var (
	// ErrProvider 模型服务调用失败（传输、鉴权、限流、响应异常）
	ErrProvider = errors.New("provider error")
	// ErrMalformedToolArguments 工具参数不是合法 JSON 或不满足参数契约
	ErrMalformedToolArguments = errors.New("malformed tool arguments")
)

// ProviderError 某一阶段的模型服务失败，不自动重试
type ProviderError struct {
	Phase string
	Err   error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%s phase): %v", e.Phase, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProvider }

// UnknownToolError 模型请求了未注册的工具
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool requested by model: %s", e.Name)
}

func (e *UnknownToolError) Is(target error) bool { return target == tools.ErrUnknownTool }

// MalformedToolArgumentsError 工具参数错误，整个补全失败
type MalformedToolArgumentsError struct {
	Tool   string
	CallID string
	Err    error
}

func (e *MalformedToolArgumentsError) Error() string {
	return fmt.Sprintf("malformed arguments for tool %s (call %s): %v", e.Tool, e.CallID, e.Err)
}

func (e *MalformedToolArgumentsError) Unwrap() error { return e.Err }

func (e *MalformedToolArgumentsError) Is(target error) bool {
	return target == ErrMalformedToolArguments
}
