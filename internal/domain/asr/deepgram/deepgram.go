package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/asr/types"
	log "liveavatar-agent-golang/logger"
)

const (
	defaultBaseURL    = "wss://api.deepgram.com"
	defaultModel      = "nova-2"
	defaultLanguage   = "en-US"
	keepAliveInterval = 5 * time.Second
	endpointingMs     = 300
)

// Deepgram 流式语音识别，基于 /v1/listen websocket 接口
type Deepgram struct {
	apiKey     string
	baseURL    string
	model      string
	language   string
	sampleRate int
	dialer     *websocket.Dialer
}

type Option func(*Deepgram)

func WithModel(model string) Option {
	return func(d *Deepgram) {
		d.model = model
	}
}

func WithLanguage(language string) Option {
	return func(d *Deepgram) {
		d.language = language
	}
}

// WithBaseURL 设置服务地址，http(s) 会被转换为 ws(s)
func WithBaseURL(baseURL string) Option {
	return func(d *Deepgram) {
		d.baseURL = baseURL
	}
}

func WithSampleRate(sampleRate int) Option {
	return func(d *Deepgram) {
		d.sampleRate = sampleRate
	}
}

func New(apiKey string, opts ...Option) *Deepgram {
	d := &Deepgram{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: audio.InputSampleRate,
		dialer:     websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Deepgram) Model() string {
	return d.model
}

func (d *Deepgram) Language() string {
	return d.language
}

// listenResponse Results 类型消息
type listenResponse struct {
	Type    string `json:"type"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
	IsFinal     bool `json:"is_final"`
	SpeechFinal bool `json:"speech_final"`
}

type controlMessage struct {
	Type string `json:"type"`
}

func (d *Deepgram) listenURL() (string, error) {
	u, err := url.Parse(d.baseURL)
	if err != nil {
		return "", fmt.Errorf("解析 deepgram 地址失败: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/v1/listen"
	q := url.Values{}
	q.Set("model", d.model)
	q.Set("language", d.language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(d.sampleRate))
	q.Set("channels", strconv.Itoa(audio.Channels))
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("endpointing", strconv.Itoa(endpointingMs))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// StreamingRecognize 实现 asr.AsrProvider
func (d *Deepgram) StreamingRecognize(ctx context.Context, audioStream <-chan []byte) (chan types.StreamingResult, error) {
	wsURL, err := d.listenURL()
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+d.apiKey)

	conn, resp, err := d.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("连接 deepgram 失败, 状态码: %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("连接 deepgram 失败: %w", err)
	}

	stream := &listenStream{conn: conn}
	resultChan := make(chan types.StreamingResult, 20)
	subCtx, cancel := context.WithCancel(ctx)

	go stream.recvResult(subCtx, cancel, resultChan)
	go stream.forwardStreamAudio(subCtx, audioStream)

	return resultChan, nil
}

type listenStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (s *listenStream) write(messageType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

func (s *listenStream) writeControl(msgType string) error {
	data, _ := json.Marshal(controlMessage{Type: msgType})
	return s.write(websocket.TextMessage, data)
}

func (s *listenStream) recvResult(ctx context.Context, cancel context.CancelFunc, resultChan chan types.StreamingResult) {
	defer func() {
		cancel()
		s.conn.Close()
		close(resultChan)
	}()

	// ctx 取消时关闭连接，使 ReadMessage 返回
	go func() {
		<-ctx.Done()
		s.conn.Close()
	}()

	for {
		_, message, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Debugf("deepgram recvResult 读取识别结果失败: %v", err)
				select {
				case resultChan <- types.StreamingResult{Error: err}:
				default:
				}
			}
			return
		}

		var response listenResponse
		if err := json.Unmarshal(message, &response); err != nil {
			log.Debugf("deepgram recvResult 解析识别结果失败: %v", err)
			continue
		}
		if response.Type != "Results" || len(response.Channel.Alternatives) == 0 {
			continue
		}
		alt := response.Channel.Alternatives[0]
		if alt.Transcript == "" && !response.SpeechFinal {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case resultChan <- types.StreamingResult{
			Text:        alt.Transcript,
			IsFinal:     response.IsFinal,
			SpeechFinal: response.SpeechFinal,
			Confidence:  alt.Confidence,
		}:
		}
	}
}

func (s *listenStream) forwardStreamAudio(ctx context.Context, audioStream <-chan []byte) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	lastSent := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if time.Since(lastSent) < keepAliveInterval {
				continue
			}
			if err := s.writeControl("KeepAlive"); err != nil {
				log.Debugf("deepgram 发送 KeepAlive 失败: %v", err)
				return
			}
		case pcm, ok := <-audioStream:
			if !ok {
				if err := s.writeControl("CloseStream"); err != nil {
					log.Debugf("deepgram 发送 CloseStream 失败: %v", err)
				}
				return
			}
			if err := s.write(websocket.BinaryMessage, pcm); err != nil {
				log.Debugf("deepgram 发送音频数据失败: %v", err)
				return
			}
			lastSent = time.Now()
		}
	}
}
