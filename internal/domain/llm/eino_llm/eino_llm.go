package eino_llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	log "liveavatar-agent-golang/logger"
)

// 连接池配置
const (
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second
	requestTimeout      = 60 * time.Second
	defaultMaxTokens    = 500
)

// 全局HTTP客户端，所有会话共用连接池
var (
	httpClient     *http.Client
	httpClientOnce sync.Once
)

func getHTTPClient() *http.Client {
	httpClientOnce.Do(func() {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:        maxIdleConns,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			IdleConnTimeout:     idleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		httpClient = &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		}
	})
	return httpClient
}

// EinoLLMProvider 基于 Eino ChatModel 的 LLM 提供者
type EinoLLMProvider struct {
	chatModel    model.BaseChatModel
	modelName    string
	maxTokens    int
	baseURL      string
	providerType string
}

type Option func(*options)

type options struct {
	baseURL   string
	maxTokens int
	chatModel model.BaseChatModel
}

func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

func WithMaxTokens(maxTokens int) Option {
	return func(o *options) {
		o.maxTokens = maxTokens
	}
}

// WithChatModel 直接指定 ChatModel，不再创建 openai 客户端
func WithChatModel(m model.BaseChatModel) Option {
	return func(o *options) {
		o.chatModel = m
	}
}

// NewOpenAIProvider 创建 OpenAI ChatModel
func NewOpenAIProvider(ctx context.Context, apiKey, modelName string, opts ...Option) (*EinoLLMProvider, error) {
	if modelName == "" {
		return nil, fmt.Errorf("model_name不能为空")
	}
	o := &options{maxTokens: defaultMaxTokens}
	for _, opt := range opts {
		opt(o)
	}

	chatModel := o.chatModel
	if chatModel == nil {
		openaiConfig := &openai.ChatModelConfig{
			Model:      modelName,
			APIKey:     apiKey,
			HTTPClient: getHTTPClient(),
		}
		if o.baseURL != "" {
			openaiConfig.BaseURL = o.baseURL
		}
		m, err := openai.NewChatModel(ctx, openaiConfig)
		if err != nil {
			return nil, fmt.Errorf("创建OpenAI ChatModel失败: %w", err)
		}
		chatModel = m
		log.Infof("成功创建OpenAI ChatModel，模型: %s", modelName)
	}

	return &EinoLLMProvider{
		chatModel:    chatModel,
		modelName:    modelName,
		maxTokens:    o.maxTokens,
		baseURL:      o.baseURL,
		providerType: "openai",
	}, nil
}

// GetModelInfo 获取模型信息
func (p *EinoLLMProvider) GetModelInfo() map[string]interface{} {
	return map[string]interface{}{
		"model_name":    p.modelName,
		"max_tokens":    p.maxTokens,
		"provider_type": p.providerType,
		"framework":     "eino",
		"base_url":      p.baseURL,
	}
}

// ResponseWithContext 流式调用 ChatModel
func (p *EinoLLMProvider) ResponseWithContext(ctx context.Context, sessionID string, dialogue []*schema.Message) (chan *schema.Message, error) {
	log.Debugf("[Eino-LLM] 开始处理请求 - SessionID: %s, messages: %d", sessionID, len(dialogue))

	streamReader, err := p.chatModel.Stream(ctx, dialogue, model.WithMaxTokens(p.maxTokens))
	if err != nil {
		return nil, fmt.Errorf("eino 流式调用失败: %w", err)
	}

	responseChan := make(chan *schema.Message, 200)
	go func() {
		defer func() {
			streamReader.Close()
			close(responseChan)
		}()
		for {
			message, err := streamReader.Recv()
			if errors.Is(err, io.EOF) {
				log.Debugf("[Eino-LLM] 请求处理完成 - SessionID: %s", sessionID)
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					log.Errorf("接收流式响应失败: %v", err)
				}
				return
			}
			if message == nil || message.Content == "" {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case responseChan <- message:
			}
		}
	}()

	return responseChan, nil
}
