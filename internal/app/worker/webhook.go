package worker

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	"github.com/livekit/protocol/webhook"

	"liveavatar-agent-golang/internal/domain/avatar/liveavatar"
	log "liveavatar-agent-golang/logger"
)

const (
	eventParticipantJoined = "participant_joined"
	eventRoomFinished      = "room_finished"
)

// HandleWebhookEvent 用户加入房间时派发任务，房间结束时关闭任务
func (w *Worker) HandleWebhookEvent(ctx context.Context, event *livekit.WebhookEvent) {
	w.metrics.WebhookEvents.WithLabelValues(event.GetEvent()).Inc()

	first, err := w.dedup.FirstSeen(ctx, event.GetId())
	if err != nil {
		log.Warnf("webhook 去重失败, 继续处理: %v", err)
	} else if !first {
		log.Debugf("忽略重复的 webhook 事件: %s", event.GetId())
		return
	}

	roomName := event.GetRoom().GetName()
	switch event.GetEvent() {
	case eventParticipantJoined:
		p := event.GetParticipant()
		if p == nil || roomName == "" || isAgentParticipant(p) {
			return
		}
		job, err := w.Dispatch(roomName)
		switch {
		case errors.Is(err, ErrJobExists):
			log.Debugf("房间 %s 已有任务, 忽略", roomName)
		case err != nil:
			log.Errorf("派发任务失败, 房间: %s, err: %v", roomName, err)
		default:
			log.Infof("用户 %s 加入房间 %s, 派发任务 %s", p.GetIdentity(), roomName, job.ID())
		}
	case eventRoomFinished:
		if w.ShutdownRoom(roomName, ShutdownRoomFinished) {
			log.Infof("房间 %s 已结束", roomName)
		}
	}
}

func isAgentParticipant(p *livekit.ParticipantInfo) bool {
	if p.GetKind() == livekit.ParticipantInfo_AGENT {
		return true
	}
	identity := p.GetIdentity()
	return identity == liveavatar.AvatarIdentity || strings.HasPrefix(identity, "agent-")
}

// WebhookHandler 校验签名后处理 LiveKit webhook
func (w *Worker) WebhookHandler(provider auth.KeyProvider) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		event, err := webhook.ReceiveWebhookEvent(r, provider)
		if err != nil {
			log.Warnf("webhook 校验失败: %v", err)
			http.Error(rw, "invalid webhook", http.StatusUnauthorized)
			return
		}
		w.HandleWebhookEvent(r.Context(), event)
		rw.WriteHeader(http.StatusOK)
	}
}
