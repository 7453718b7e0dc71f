package common

// LLMResponseStruct 按句切分后的 LLM 输出
type LLMResponseStruct struct {
	Text    string `json:"text,omitempty"`
	IsStart bool   `json:"is_start"`
	IsEnd   bool   `json:"is_end"`
}
