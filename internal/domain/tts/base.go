package tts

import (
	"context"
	"fmt"

	"liveavatar-agent-golang/constants"
	"liveavatar-agent-golang/internal/domain/tts/common"
	"liveavatar-agent-golang/internal/domain/tts/elevenlabs"
)

var ErrEmptyText = common.ErrEmptyText

// TTSProvider 流式语音合成
type TTSProvider interface {
	// TextToSpeechStream 返回 16-bit 单声道 PCM 帧，合成结束后通道关闭
	TextToSpeechStream(ctx context.Context, text string) (chan []byte, error)
	// SampleRate 输出采样率
	SampleRate() int
}

// GetTTSProvider 获取 TTS 提供者
func GetTTSProvider(providerName string, config map[string]interface{}) (TTSProvider, error) {
	switch providerName {
	case constants.TtsTypeElevenLabs:
		apiKey, _ := config["api_key"].(string)
		var opts []elevenlabs.Option
		if voice, ok := config["voice"].(string); ok && voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if model, ok := config["model"].(string); ok && model != "" {
			opts = append(opts, elevenlabs.WithModel(model))
		}
		if baseURL, ok := config["base_url"].(string); ok && baseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(baseURL))
		}
		return elevenlabs.New(apiKey, opts...), nil
	default:
		return nil, fmt.Errorf("不支持的TTS提供者: %s", providerName)
	}
}
