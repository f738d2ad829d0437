package music

import (
	"context"
)

// Query 搜索参数
type Query struct {
	Title  string
	Artist string
	// 秒，0 表示未知
	Duration float64
	Limit    int
}

// Result 提供商返回的一条原始歌词
type Result struct {
	Title    string
	Artist   string
	Album    string
	Duration float64
	// LRC 文本
	Lyrics string
	// 可选的翻译 LRC，时间戳与原文对应
	Translation         string
	TranslationLanguage string
}

// Provider 歌词提供商通用接口
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) ([]Result, error)
}
