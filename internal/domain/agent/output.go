package agent

import (
	"context"

	"liveavatar-agent-golang/internal/data/audio"
)

// AudioOutput 合成语音的去向，例如数字人服务
type AudioOutput interface {
	// CaptureFrame 写入一帧语音
	CaptureFrame(ctx context.Context, frame audio.Frame) error
	// Flush 标记当前一段语音结束
	Flush(ctx context.Context) error
	// WaitForPlayout 等待最近一次 Flush 的语音播放完
	WaitForPlayout(ctx context.Context) error
	// ClearBuffer 打断，丢弃尚未播放的语音
	ClearBuffer()
}
