package tools

import "time"

// NewAccountingRegistry 构建会计工具目录（顺序即对模型公布的顺序）
func NewAccountingRegistry(now func() time.Time) *ToolRegistry {
	reg, err := NewToolRegistry(
		NewDASTool(now),
		FeriasTool{},
		NewObrigacoesTool(now),
		RegimeTool{},
	)
	if err != nil {
		// 固定目录，名称不会冲突
		panic(err)
	}
	return reg
}
