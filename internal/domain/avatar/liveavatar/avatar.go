package liveavatar

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/agent"
	"liveavatar-agent-golang/internal/domain/rtc"
	log "liveavatar-agent-golang/logger"
)

const (
	AvatarIdentity = "liveavatar-avatar-agent"
	avatarName     = "liveavatar-avatar-agent"
	sessionMode    = "CUSTOM"

	keepAliveInterval = 30 * time.Second
	stopTimeout       = 5 * time.Second
)

var (
	ErrNotStarted     = errors.New("liveavatar: session not started")
	ErrClosed         = errors.New("liveavatar: session closed")
	ErrAlreadyStarted = errors.New("liveavatar: session already started")
)

// 数字人 websocket 事件
const (
	eventAgentSpeak      = "agent.speak"
	eventAgentSpeakEnd   = "agent.speak_end"
	eventAgentInterrupt  = "agent.interrupt"
	eventKeepAlive       = "session.keep_alive"
	eventAgentSpeakEnded = "agent.speak_ended"
	eventSessionStopped  = "session.stopped"
)

type wsEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`
	Audio   string `json:"audio,omitempty"`
}

// AudioOutputSetter 可接收数字人作为语音输出的会话
type AudioOutputSetter interface {
	SetAudioOutput(out agent.AudioOutput)
}

var _ agent.AudioOutput = (*AvatarSession)(nil)

type Option func(*AvatarSession)

func WithBaseURL(baseURL string) Option {
	return func(a *AvatarSession) {
		a.api.baseURL = baseURL
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(a *AvatarSession) {
		a.api.client = client
	}
}

// AvatarSession LiveAvatar 数字人，替 agent 在房间里发布音视频
type AvatarSession struct {
	avatarID string
	api      *apiClient
	dialer   *websocket.Dialer

	mu           sync.Mutex
	started      bool
	closed       bool
	sessionID    string
	sessionToken string
	conn         *websocket.Conn
	// 当前正在发送的语音段
	eventID     string
	lastFlushed string
	playout     map[string]chan struct{}

	writeMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewAvatarSession(avatarID, apiKey string, opts ...Option) *AvatarSession {
	a := &AvatarSession{
		avatarID: avatarID,
		api: &apiClient{
			baseURL: defaultBaseURL,
			apiKey:  apiKey,
			client:  &http.Client{Timeout: 30 * time.Second},
		},
		dialer:  websocket.DefaultDialer,
		playout: make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *AvatarSession) AvatarID() string {
	return a.avatarID
}

func (a *AvatarSession) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

// Start 创建数字人会话并加入房间，成功后把自己设为 session 的语音输出
func (a *AvatarSession) Start(ctx context.Context, session AudioOutputSetter, room rtc.Room) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.mu.Unlock()

	clientToken, err := room.MintToken(AvatarIdentity, avatarName, map[string]string{
		rtc.AttrPublishOnBehalf: room.LocalIdentity(),
	})
	if err != nil {
		return fmt.Errorf("签发数字人 token 失败: %w", err)
	}

	tokenData, err := a.api.createSessionToken(ctx, sessionTokenRequest{
		Mode:     sessionMode,
		AvatarID: a.avatarID,
		LivekitConfig: livekitConfig{
			LivekitURL:         room.URL(),
			LivekitRoom:        room.Name(),
			LivekitClientToken: clientToken,
		},
	})
	if err != nil {
		return fmt.Errorf("创建数字人会话失败: %w", err)
	}

	startData, err := a.api.startSession(ctx, tokenData.SessionToken)
	if err != nil {
		return fmt.Errorf("启动数字人会话失败: %w", err)
	}

	conn, _, err := a.dialer.DialContext(ctx, startData.WsURL, nil)
	if err != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		_ = a.api.stopSession(stopCtx, tokenData.SessionToken, tokenData.SessionID)
		return fmt.Errorf("连接数字人 websocket 失败: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		conn.Close()
		return ErrClosed
	}
	a.sessionID = tokenData.SessionID
	a.sessionToken = tokenData.SessionToken
	a.conn = conn
	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.mu.Unlock()

	a.wg.Add(2)
	go a.readLoop(conn)
	go a.keepAliveLoop(a.ctx)

	session.SetAudioOutput(a)
	log.Infof("数字人会话已启动, avatar_id: %s, session_id: %s, room: %s", a.avatarID, tokenData.SessionID, room.Name())
	return nil
}

func (a *AvatarSession) send(ev wsEvent) error {
	a.mu.Lock()
	conn := a.conn
	closed := a.closed
	a.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotStarted
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// CaptureFrame 发送一帧 24kHz PCM
func (a *AvatarSession) CaptureFrame(ctx context.Context, frame audio.Frame) error {
	if frame.SampleRate != audio.OutputSampleRate || frame.Channels != audio.Channels {
		return fmt.Errorf("数字人只接受 %dHz 单声道音频, 收到 %dHz %d 声道", audio.OutputSampleRate, frame.SampleRate, frame.Channels)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	if a.eventID == "" {
		a.eventID = uuid.New().String()
	}
	eventID := a.eventID
	a.mu.Unlock()

	return a.send(wsEvent{
		Type:    eventAgentSpeak,
		EventID: eventID,
		Audio:   base64.StdEncoding.EncodeToString(frame.Data),
	})
}

// Flush 结束当前语音段
func (a *AvatarSession) Flush(ctx context.Context) error {
	a.mu.Lock()
	eventID := a.eventID
	if eventID == "" {
		a.mu.Unlock()
		return nil
	}
	a.eventID = ""
	a.lastFlushed = eventID
	a.playout[eventID] = make(chan struct{})
	a.mu.Unlock()

	return a.send(wsEvent{Type: eventAgentSpeakEnd, EventID: eventID})
}

// WaitForPlayout 等待服务端返回 agent.speak_ended
func (a *AvatarSession) WaitForPlayout(ctx context.Context) error {
	a.mu.Lock()
	done, ok := a.playout[a.lastFlushed]
	sessCtx := a.ctx
	a.mu.Unlock()
	if !ok {
		return nil
	}
	if sessCtx == nil {
		return ErrNotStarted
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-sessCtx.Done():
		return ErrClosed
	}
}

// ClearBuffer 打断数字人说话
func (a *AvatarSession) ClearBuffer() {
	a.mu.Lock()
	a.eventID = ""
	a.releasePlayoutLocked()
	a.mu.Unlock()

	if err := a.send(wsEvent{Type: eventAgentInterrupt}); err != nil && !errors.Is(err, ErrClosed) {
		log.Warnf("发送数字人打断事件失败: %v", err)
	}
}

func (a *AvatarSession) releasePlayoutLocked() {
	for id, ch := range a.playout {
		close(ch)
		delete(a.playout, id)
	}
}

func (a *AvatarSession) readLoop(conn *websocket.Conn) {
	defer func() {
		a.mu.Lock()
		a.releasePlayoutLocked()
		a.mu.Unlock()
		a.wg.Done()
	}()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.mu.Lock()
			closed := a.closed
			a.mu.Unlock()
			if !closed {
				log.Warnf("数字人 websocket 断开: %v", err)
			}
			return
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Debugf("忽略无法解析的数字人消息: %s", string(data))
			continue
		}
		switch ev.Type {
		case eventAgentSpeakEnded:
			a.mu.Lock()
			if ch, ok := a.playout[ev.EventID]; ok {
				close(ch)
				delete(a.playout, ev.EventID)
			}
			a.mu.Unlock()
		case eventSessionStopped:
			log.Infof("数字人会话已被服务端结束, session_id: %s", a.SessionID())
		default:
			log.Debugf("收到数字人事件: %s", ev.Type)
		}
	}
}

func (a *AvatarSession) keepAliveLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.send(wsEvent{Type: eventKeepAlive}); err != nil {
				log.Warnf("发送数字人 keep_alive 失败: %v", err)
			}
		}
	}
}

// Close 结束数字人会话
func (a *AvatarSession) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	conn := a.conn
	cancel := a.cancel
	sessionID, sessionToken := a.sessionID, a.sessionToken
	a.mu.Unlock()

	if conn == nil {
		return nil
	}
	cancel()

	ctx, stop := context.WithTimeout(context.Background(), stopTimeout)
	defer stop()
	stopErr := a.api.stopSession(ctx, sessionToken, sessionID)

	a.writeMu.Lock()
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	a.writeMu.Unlock()
	conn.Close()
	a.wg.Wait()

	log.Infof("数字人会话已关闭, session_id: %s", sessionID)
	if stopErr != nil {
		return fmt.Errorf("停止数字人会话失败: %w", stopErr)
	}
	return nil
}
