package asr

import (
	"context"
	"fmt"

	"liveavatar-agent-golang/constants"
	"liveavatar-agent-golang/internal/domain/asr/deepgram"
	"liveavatar-agent-golang/internal/domain/asr/types"
)

// AsrProvider 语音识别接口
type AsrProvider interface {
	// StreamingRecognize 流式识别
	// 输入 16-bit PCM 通过 audioStream 送入，audioStream 关闭表示输入结束
	// 识别结果通过返回的通道获取，识别结束后通道关闭
	StreamingRecognize(ctx context.Context, audioStream <-chan []byte) (chan types.StreamingResult, error)
}

// NewAsrProvider 创建 ASR 实例，目前仅支持 deepgram
func NewAsrProvider(asrType string, config map[string]interface{}) (AsrProvider, error) {
	switch asrType {
	case constants.AsrTypeDeepgram:
		apiKey, _ := config["api_key"].(string)
		var opts []deepgram.Option
		if model, ok := config["model"].(string); ok && model != "" {
			opts = append(opts, deepgram.WithModel(model))
		}
		if language, ok := config["language"].(string); ok && language != "" {
			opts = append(opts, deepgram.WithLanguage(language))
		}
		if baseURL, ok := config["base_url"].(string); ok && baseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(baseURL))
		}
		if sampleRate, ok := config["sample_rate"].(int); ok && sampleRate > 0 {
			opts = append(opts, deepgram.WithSampleRate(sampleRate))
		}
		return deepgram.New(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("不支持的ASR引擎类型: %s，目前仅支持 'deepgram'", asrType)
	}
}
