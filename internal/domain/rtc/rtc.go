package rtc

import (
	"context"

	"liveavatar-agent-golang/internal/data/audio"
)

// 参与者属性，数字人代替 agent 发布音视频
const (
	AttrPublishOnBehalf = "lk.publish_on_behalf"
	TopicTranscription  = "lk.transcription"
)

// Room 与具体房间实现无关的接口，由 livekit 适配器实现
type Room interface {
	Name() string
	// 房间服务地址，数字人服务用它加入房间
	URL() string
	// agent 自身在房间中的 identity
	LocalIdentity() string

	// 远端用户的音频，48kHz 单声道 16-bit PCM，房间断开后通道关闭
	AudioInput() <-chan audio.Frame

	// 发送可靠数据包
	PublishData(ctx context.Context, topic string, payload []byte) error

	// 为其他参与者签发加入本房间的 token
	MintToken(identity, name string, attrs map[string]string) (string, error)
}

// JobContext 每次加入房间的任务上下文
type JobContext interface {
	ID() string
	Room() Room
	// 任务结束时按注册的逆序调用
	AddShutdownCallback(func(reason string))
}

// Entrypoint 任务入口，返回后任务仍保持直到房间结束
type Entrypoint func(ctx context.Context, job JobContext) error
