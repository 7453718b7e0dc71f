package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"liveavatar-agent-golang/constants"
	"liveavatar-agent-golang/internal/domain/llm/eino_llm"
)

// LLMProvider 大语言模型提供者接口，使用 Eino 原生消息类型
type LLMProvider interface {
	// ResponseWithContext 流式响应
	// 建立请求失败时直接返回 error；流中途出错时记录日志并关闭通道
	ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message) (chan *schema.Message, error)

	// GetModelInfo 模型名称等元数据
	GetModelInfo() map[string]interface{}
}

// GetLLMProvider 创建LLM提供者，目前仅支持 openai
func GetLLMProvider(llmType string, config map[string]interface{}) (LLMProvider, error) {
	switch llmType {
	case constants.LlmTypeOpenai:
		apiKey, _ := config["api_key"].(string)
		modelName, _ := config["model_name"].(string)
		var opts []eino_llm.Option
		if baseURL, ok := config["base_url"].(string); ok && baseURL != "" {
			opts = append(opts, eino_llm.WithBaseURL(baseURL))
		}
		if maxTokens, ok := config["max_tokens"].(int); ok && maxTokens > 0 {
			opts = append(opts, eino_llm.WithMaxTokens(maxTokens))
		}
		provider, err := eino_llm.NewOpenAIProvider(context.Background(), apiKey, modelName, opts...)
		if err != nil {
			return nil, fmt.Errorf("创建Eino LLM提供者失败: %w", err)
		}
		return provider, nil
	}
	return nil, fmt.Errorf("不支持的LLM提供者: %s", llmType)
}
