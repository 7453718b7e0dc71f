package llm

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/cloudwego/eino/schema"

	"liveavatar-agent-golang/internal/domain/llm/common"
	log "liveavatar-agent-golang/logger"
)

// 每句最少字符数，更短的片段并入下一句再送 TTS
const minSentenceLen = 6

// 句子结束的标点符号
var sentenceEndPunctuation = []rune{'.', '。', '!', '！', '?', '？', '\n'}

// 全角标点后面不需要空格即可断句
var fullWidthEndPunctuation = []rune{'。', '！', '？'}

func containsRune(set []rune, r rune) bool {
	for _, p := range set {
		if r == p {
			return true
		}
	}
	return false
}

func isSentenceEndPunctuation(r rune) bool {
	return containsRune(sentenceEndPunctuation, r)
}

// extractSentences 从流式累积的文本中切出完整句子
// 半角标点只有在后面跟着空白时才算句子结束，避免把 "3.5"、"e.g." 切开
// 返回完整句子和尚未结束的剩余内容
func extractSentences(text string, minLen int) ([]string, string) {
	runes := []rune(text)
	var sentences []string
	start := 0

	for i, r := range runes {
		if !isSentenceEndPunctuation(r) {
			continue
		}
		ended := r == '\n' || containsRune(fullWidthEndPunctuation, r)
		if !ended && i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			ended = true
		}
		if !ended {
			continue
		}
		sentence := strings.TrimSpace(string(runes[start : i+1]))
		if len([]rune(sentence)) < minLen {
			continue
		}
		sentences = append(sentences, sentence)
		start = i + 1
	}

	return sentences, strings.TrimLeftFunc(string(runes[start:]), unicode.IsSpace)
}

// HandleLLMWithContext 调用 LLM 并把流式输出切分成句子
func HandleLLMWithContext(ctx context.Context, llmProvider LLMProvider, dialogue []*schema.Message, sessionID string) (chan common.LLMResponseStruct, error) {
	msgChan, err := llmProvider.ResponseWithContext(ctx, sessionID, dialogue)
	if err != nil {
		return nil, err
	}

	sentenceChannel := make(chan common.LLMResponseStruct, 2)
	startTs := time.Now().UnixMilli()

	go func() {
		defer close(sentenceChannel)

		var buffer strings.Builder
		isFirst := true
		fullText := ""

		emit := func(resp common.LLMResponseStruct) bool {
			select {
			case <-ctx.Done():
				return false
			case sentenceChannel <- resp:
				return true
			}
		}

		for {
			select {
			case <-ctx.Done():
				log.Debugf("上下文已取消，停止LLM响应处理: %v", ctx.Err())
				return
			case message, ok := <-msgChan:
				if !ok {
					remaining := strings.TrimSpace(buffer.String())
					log.Debugf("LLM 完整回复: %s%s", fullText, remaining)
					emit(common.LLMResponseStruct{Text: remaining, IsStart: isFirst, IsEnd: true})
					return
				}
				if message == nil || message.Content == "" {
					continue
				}
				fullText += message.Content
				buffer.WriteString(message.Content)

				sentences, remaining := extractSentences(buffer.String(), minSentenceLen)
				if len(sentences) == 0 {
					continue
				}
				buffer.Reset()
				buffer.WriteString(remaining)
				for _, sentence := range sentences {
					if isFirst {
						log.Debugf("耗时统计: llm首句: %d ms", time.Now().UnixMilli()-startTs)
					}
					if !emit(common.LLMResponseStruct{Text: sentence, IsStart: isFirst}) {
						return
					}
					isFirst = false
				}
			}
		}
	}()
	return sentenceChannel, nil
}
