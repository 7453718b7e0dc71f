package common

import (
	"errors"
	"fmt"
)

var ErrEmptyText = errors.New("tts: empty text")

// APIError 合成服务返回的非 200 响应
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s tts 请求失败，状态码: %d, 响应: %s", e.Provider, e.StatusCode, e.Body)
}
