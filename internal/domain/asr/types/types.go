package types

// StreamingResult 流式识别结果
type StreamingResult struct {
	Text        string  // 识别文本
	IsFinal     bool    // 该片段文本不会再变化
	SpeechFinal bool    // 服务端判定用户一句话说完
	Confidence  float64 // 置信度
	Error       error   // 识别出错时设置，随后通道关闭
}
