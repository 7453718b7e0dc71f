package session

import (
	"context"
	"fmt"

	"liveavatar-agent-golang/internal/config"
	"liveavatar-agent-golang/internal/domain/agent"
	"liveavatar-agent-golang/internal/domain/rtc"
	log "liveavatar-agent-golang/logger"
)

const greetingInstructions = "Greet the user warmly and introduce yourself."

// Orchestrator 用户加入房间时组装一次数字人语音会话
type Orchestrator struct {
	settings *config.Settings
	clients  Clients
}

func NewOrchestrator(settings *config.Settings, clients Clients) *Orchestrator {
	return &Orchestrator{settings: settings, clients: clients}
}

// AvatarSession 任务入口，各步骤严格按顺序执行
// 失败时关闭已创建的会话和数字人，成功后由任务结束回调关闭
func (o *Orchestrator) AvatarSession(ctx context.Context, job rtc.JobContext) (err error) {
	room := job.Room()
	logger := log.Log("job_id", job.ID(), "room", room.Name())
	logger.Infof("新的数字人会话, 房间: %s", room.Name())

	avatarID := ResolveAvatarID(room.Name(), o.settings.DefaultAvatarID)
	logger.Infof("从房间名 '%s' 解析 avatar_id: %s", room.Name(), avatarID)

	var cleanups []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}()

	stt, err := o.clients.NewSTT()
	if err != nil {
		return fmt.Errorf("创建语音识别客户端失败: %w", err)
	}
	llmProvider, err := o.clients.NewLLM()
	if err != nil {
		return fmt.Errorf("创建LLM客户端失败: %w", err)
	}
	ttsProvider, err := o.clients.NewTTS()
	if err != nil {
		return fmt.Errorf("创建语音合成客户端失败: %w", err)
	}

	persona := agent.Assistant{AvatarID: avatarID}

	session := o.clients.NewSession(stt, llmProvider, ttsProvider)
	cleanups = append(cleanups, func() { _ = session.Close() })

	avatar := o.clients.NewAvatar(avatarID)
	cleanups = append(cleanups, func() {
		if cerr := avatar.Close(); cerr != nil {
			logger.Warnf("关闭数字人失败: %v", cerr)
		}
	})

	if err = avatar.Start(ctx, session, room); err != nil {
		return fmt.Errorf("启动数字人失败: %w", err)
	}
	logger.Infof("数字人 %s 已启动并加入房间", avatarID)

	if err = session.Start(ctx, room, persona); err != nil {
		return fmt.Errorf("启动对话会话失败: %w", err)
	}

	reply, err := session.GenerateReply(ctx, greetingInstructions)
	if err != nil {
		return fmt.Errorf("生成欢迎语失败: %w", err)
	}

	job.AddShutdownCallback(func(reason string) {
		logger.Infof("任务结束(%s)，关闭会话", reason)
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	})
	logger.Info("对话会话已启动，等待用户交互...")

	if werr := reply.Wait(ctx); werr != nil {
		logger.Warnf("欢迎语未完成: %v", werr)
	}
	return nil
}
