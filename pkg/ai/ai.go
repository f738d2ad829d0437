package ai

import "context"

// AiInterface 是单轮文本补全的最小接口
type AiInterface interface {
	Name() string
	HandleText(ctx context.Context, msg string) (string, error)
}
