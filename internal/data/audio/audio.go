package audio

import "time"

const (
	// 房间内用户音频解码后的格式
	InputSampleRate = 48000
	// 合成语音及数字人输入的格式
	OutputSampleRate = 24000
	Channels         = 1
	// 16-bit little endian PCM
	BytesPerSample = 2
	FrameDuration  = 20
	Format         = "pcm_s16le"
)

type AudioFormat struct {
	Format        string `json:"format,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels,omitempty"`
	FrameDuration int    `json:"frame_duration,omitempty"`
}

// Frame 一帧 16-bit PCM 音频
type Frame struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Samples 每声道采样数
func (f Frame) Samples() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Data) / BytesPerSample / f.Channels
}

// Duration 帧时长
func (f Frame) Duration() time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// FrameBytes 给定采样率下一帧 FrameDuration 毫秒的字节数
func FrameBytes(sampleRate int) int {
	return sampleRate * FrameDuration / 1000 * Channels * BytesPerSample
}

// Int16ToBytes 转换为 little endian 字节
func Int16ToBytes(pcm []int16) []byte {
	out := make([]byte, len(pcm)*BytesPerSample)
	for i, s := range pcm {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
