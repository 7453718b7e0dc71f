package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/tts/common"
	log "liveavatar-agent-golang/logger"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultVoice   = "pNInz6obpgDQGcFmaJgB"
	defaultModel   = "eleven_flash_v2_5"
	outputFormat   = "pcm_24000"
)

// 全局HTTP客户端，流式响应不设置整体超时，由 ctx 控制
var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
		}
		httpClient = &http.Client{Transport: transport}
	})
	return httpClient
}

// ElevenLabsTTSProvider ElevenLabs 流式合成，输出 24kHz 16-bit PCM
type ElevenLabsTTSProvider struct {
	apiKey  string
	baseURL string
	voice   string
	model   string
	client  *http.Client
}

type Option func(*ElevenLabsTTSProvider)

func WithVoice(voice string) Option {
	return func(p *ElevenLabsTTSProvider) {
		p.voice = voice
	}
}

func WithModel(model string) Option {
	return func(p *ElevenLabsTTSProvider) {
		p.model = model
	}
}

func WithBaseURL(baseURL string) Option {
	return func(p *ElevenLabsTTSProvider) {
		p.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *ElevenLabsTTSProvider) {
		p.client = client
	}
}

func New(apiKey string, opts ...Option) *ElevenLabsTTSProvider {
	p := &ElevenLabsTTSProvider{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		voice:   defaultVoice,
		model:   defaultModel,
		client:  getHTTPClient(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *ElevenLabsTTSProvider) Voice() string {
	return p.voice
}

func (p *ElevenLabsTTSProvider) SampleRate() int {
	return audio.OutputSampleRate
}

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// TextToSpeechStream 流式合成，按 20ms 切帧输出
func (p *ElevenLabsTTSProvider) TextToSpeechStream(ctx context.Context, text string) (chan []byte, error) {
	if text == "" {
		return nil, common.ErrEmptyText
	}
	startTs := time.Now().UnixMilli()

	body, err := json.Marshal(synthesizeRequest{
		Text:    text,
		ModelID: p.model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/stream?output_format=%s", p.baseURL, p.voice, outputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送请求失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &common.APIError{Provider: "elevenlabs", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	outputChan := make(chan []byte, 100)
	go func() {
		defer func() {
			resp.Body.Close()
			close(outputChan)
			log.Debugf("ElevenLabs 流式合成结束, 耗时: %d ms", time.Now().UnixMilli()-startTs)
		}()

		frameSize := audio.FrameBytes(audio.OutputSampleRate)
		for {
			frame := make([]byte, frameSize)
			n, err := io.ReadFull(resp.Body, frame)
			// 尾帧可能不足 20ms，按采样对齐
			n -= n % audio.BytesPerSample
			if n > 0 {
				select {
				case <-ctx.Done():
					return
				case outputChan <- frame[:n]:
				}
			}
			if err != nil {
				if err != io.EOF && err != io.ErrUnexpectedEOF && ctx.Err() == nil {
					log.Errorf("ElevenLabs 读取音频流失败: %v", err)
				}
				return
			}
		}
	}()

	return outputChan, nil
}
