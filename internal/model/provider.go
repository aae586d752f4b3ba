package model

import (
	"context"
	"fmt"

	einoModel "github.com/cloudwego/eino/components/model"

	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/internal/config"
	"github.com/yahmeh5-cmyk/Gemini-Personal-Chat/pkg/logger"
)

// NewChatModel 根据配置创建对话模型
func NewChatModel(ctx context.Context, cfg *config.Config) (einoModel.ChatModel, error) {
	switch cfg.Model.Provider {
	case "gemini":
		logger.Infof("using gemini model %s, api key %s", cfg.Gemini.Model, maskKey(cfg.Gemini.APIKey))
		return newGeminiChatModel(ctx, cfg.Gemini)
	case "openai":
		logger.Infof("using openai-compatible model %s, api key %s", cfg.OpenAI.Model, maskKey(cfg.OpenAI.APIKey))
		return newOpenAIChatModel(ctx, cfg.OpenAI)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Model.Provider)
	}
}

func maskKey(key string) string {
	if len(key) > 10 {
		return key[:10] + "..."
	}
	return key
}
