package lkroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"gopkg.in/hraban/opus.v2"

	"liveavatar-agent-golang/internal/app/worker"
	"liveavatar-agent-golang/internal/data/audio"
	"liveavatar-agent-golang/internal/domain/avatar/liveavatar"
	log "liveavatar-agent-golang/logger"
)

const (
	inputBufferFrames = 100
	maxOpusSamples    = audio.InputSampleRate * 120 / 1000 // opus 单包最长 120ms
	tokenTTL          = time.Hour
)

var ErrRoomClosed = errors.New("lkroom: room disconnected")

// Connector 使用 API key 以 agent 身份加入 LiveKit 房间
type Connector struct {
	url       string
	apiKey    string
	apiSecret string
}

var _ worker.RoomConnector = (*Connector)(nil)

func NewConnector(url, apiKey, apiSecret string) *Connector {
	return &Connector{url: url, apiKey: apiKey, apiSecret: apiSecret}
}

func (c *Connector) Connect(ctx context.Context, roomName, identity, name string) (worker.ConnectedRoom, error) {
	if c.url == "" || c.apiKey == "" || c.apiSecret == "" {
		return nil, errors.New("缺少 LiveKit 连接配置")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r := newRoom(roomName, c.url, c.apiKey, c.apiSecret)
	room, err := lksdk.ConnectToRoom(c.url, lksdk.ConnectInfo{
		APIKey:              c.apiKey,
		APISecret:           c.apiSecret,
		RoomName:            roomName,
		ParticipantIdentity: identity,
		ParticipantName:     name,
		ParticipantKind:     lksdk.ParticipantAgent,
	}, r.callback(), lksdk.WithAutoSubscribe(true))
	if err != nil {
		r.cancel()
		return nil, fmt.Errorf("加入房间 %s 失败: %w", roomName, err)
	}
	r.mu.Lock()
	r.room = room
	r.identity = room.LocalParticipant.Identity()
	r.mu.Unlock()

	if ctx.Err() != nil {
		r.Disconnect()
		return nil, ctx.Err()
	}
	log.Infof("已加入房间 %s, identity: %s", roomName, r.identity)
	return r, nil
}

// Room 已连接的 LiveKit 房间，用户的麦克风音频解码为 48kHz 单声道 PCM
type Room struct {
	name      string
	url       string
	apiKey    string
	apiSecret string

	mu       sync.Mutex
	room     *lksdk.Room
	identity string

	input          chan audio.Frame
	disconnected   chan struct{}
	disconnectOnce sync.Once
	closeOnce      sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

func newRoom(name, url, apiKey, apiSecret string) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	return &Room{
		name:         name,
		url:          url,
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		input:        make(chan audio.Frame, inputBufferFrames),
		disconnected: make(chan struct{}),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (r *Room) callback() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				if track.Kind() != webrtc.RTPCodecTypeAudio || !isUserIdentity(rp.Identity()) {
					return
				}
				log.Infof("订阅用户 %s 的音频, track: %s", rp.Identity(), pub.SID())
				go r.readTrack(track, rp.Identity())
			},
		},
		OnDisconnected: func() {
			log.Infof("与房间 %s 的连接已断开", r.name)
			r.markDisconnected()
		},
	}
}

// isUserIdentity agent 自己和数字人的音频不送识别
func isUserIdentity(identity string) bool {
	return identity != liveavatar.AvatarIdentity && !strings.HasPrefix(identity, "agent-")
}

func (r *Room) readTrack(track *webrtc.TrackRemote, identity string) {
	dec, err := opus.NewDecoder(audio.InputSampleRate, audio.Channels)
	if err != nil {
		log.Errorf("创建 opus 解码器失败: %v", err)
		return
	}
	pcm := make([]int16, maxOpusSamples*audio.Channels)
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			log.Debugf("用户 %s 音频结束: %v", identity, err)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, err := dec.Decode(pkt.Payload, pcm)
		if err != nil {
			log.Debugf("opus 解码失败: %v", err)
			continue
		}
		if n == 0 {
			continue
		}
		if !r.pushFrame(audio.Frame{
			Data:       audio.Int16ToBytes(pcm[:n*audio.Channels]),
			SampleRate: audio.InputSampleRate,
			Channels:   audio.Channels,
		}) {
			return
		}
	}
}

// pushFrame 缓冲满时丢帧，房间关闭后返回 false
func (r *Room) pushFrame(frame audio.Frame) bool {
	select {
	case <-r.ctx.Done():
		return false
	default:
	}
	select {
	case r.input <- frame:
	default:
		log.Debugf("房间 %s 音频缓冲已满, 丢弃一帧", r.name)
	}
	return true
}

func (r *Room) Name() string {
	return r.name
}

func (r *Room) URL() string {
	return r.url
}

func (r *Room) LocalIdentity() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identity
}

func (r *Room) AudioInput() <-chan audio.Frame {
	return r.input
}

// PublishData 以可靠模式发送数据包
func (r *Room) PublishData(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	room := r.room
	r.mu.Unlock()
	if room == nil {
		return ErrRoomClosed
	}
	select {
	case <-r.disconnected:
		return ErrRoomClosed
	default:
	}
	return room.LocalParticipant.PublishDataPacket(
		lksdk.UserData(payload),
		lksdk.WithDataPublishReliable(true),
		lksdk.WithDataPublishTopic(topic),
	)
}

// MintToken 为同一房间签发 agent 类型的加入 token
func (r *Room) MintToken(identity, name string, attrs map[string]string) (string, error) {
	at := auth.NewAccessToken(r.apiKey, r.apiSecret)
	at.SetVideoGrant(&auth.VideoGrant{
		RoomJoin: true,
		Room:     r.name,
	}).
		SetIdentity(identity).
		SetName(name).
		SetKind(livekit.ParticipantInfo_AGENT).
		SetAttributes(attrs).
		SetValidFor(tokenTTL)
	return at.ToJWT()
}

func (r *Room) Disconnected() <-chan struct{} {
	return r.disconnected
}

func (r *Room) markDisconnected() {
	r.disconnectOnce.Do(func() {
		close(r.disconnected)
	})
}

func (r *Room) Disconnect() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.mu.Lock()
		room := r.room
		r.mu.Unlock()
		if room != nil {
			room.Disconnect()
		}
		r.markDisconnected()
	})
}
