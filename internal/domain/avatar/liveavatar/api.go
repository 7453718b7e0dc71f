package liveavatar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://api.liveavatar.com"

// APIError LiveAvatar 接口返回非 2xx
type APIError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("liveavatar %s 请求失败，状态码: %d, 响应: %s", e.Path, e.StatusCode, e.Body)
}

type livekitConfig struct {
	LivekitURL         string `json:"livekit_url"`
	LivekitRoom        string `json:"livekit_room"`
	LivekitClientToken string `json:"livekit_client_token"`
}

type sessionTokenRequest struct {
	Mode          string        `json:"mode"`
	AvatarID      string        `json:"avatar_id"`
	LivekitConfig livekitConfig `json:"livekit_config"`
}

type sessionTokenData struct {
	SessionID    string `json:"session_id"`
	SessionToken string `json:"session_token"`
}

type startSessionData struct {
	SessionID string `json:"session_id"`
	WsURL     string `json:"ws_url"`
}

type stopSessionRequest struct {
	SessionID string `json:"session_id"`
}

// 所有接口的响应都包在 data 里
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type apiClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func (c *apiClient) createSessionToken(ctx context.Context, req sessionTokenRequest) (*sessionTokenData, error) {
	var out sessionTokenData
	header := http.Header{"X-API-KEY": []string{c.apiKey}}
	if err := c.post(ctx, "/v1/sessions/token", header, req, &out); err != nil {
		return nil, err
	}
	if out.SessionToken == "" {
		return nil, fmt.Errorf("liveavatar 未返回 session_token")
	}
	return &out, nil
}

func (c *apiClient) startSession(ctx context.Context, sessionToken string) (*startSessionData, error) {
	var out startSessionData
	header := http.Header{"Authorization": []string{"Bearer " + sessionToken}}
	if err := c.post(ctx, "/v1/sessions/start", header, struct{}{}, &out); err != nil {
		return nil, err
	}
	if out.WsURL == "" {
		return nil, fmt.Errorf("liveavatar 未返回 ws_url")
	}
	return &out, nil
}

func (c *apiClient) stopSession(ctx context.Context, sessionToken, sessionID string) error {
	header := http.Header{"Authorization": []string{"Bearer " + sessionToken}}
	return c.post(ctx, "/v1/sessions/stop", header, stopSessionRequest{SessionID: sessionID}, nil)
}

func (c *apiClient) post(ctx context.Context, path string, header http.Header, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("liveavatar %s 请求失败: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("读取响应失败: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return fmt.Errorf("解析响应失败: %w", err)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("liveavatar %s 响应缺少 data: %s", path, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("解析响应 data 失败: %w", err)
	}
	return nil
}
