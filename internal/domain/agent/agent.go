package agent

// Agent 会话使用的人设
type Agent interface {
	Instructions() string
}

const assistantInstructions = `You are a helpful AI assistant with a visual avatar presence.
You are knowledgeable, friendly, and engage in natural conversation.
Keep your responses concise and conversational.
Do not use complex formatting, emojis, or special characters.`

// Assistant 带数字人的语音助手，AvatarID 仅作记录
type Assistant struct {
	AvatarID string
}

func (a Assistant) Instructions() string {
	return assistantInstructions
}
