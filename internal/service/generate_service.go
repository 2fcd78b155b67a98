package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chatfront/internal/config"
	"chatfront/pkg/log"
)

const (
	generatePath        = "generate"
	defaultMaxTokens    = 200
	defaultTemperature  = 0.7
	maxUpstreamBodySize = 10 << 20

	// GenericUpstreamMessage 在上游没有给出错误信息时返回给调用方。
	GenericUpstreamMessage = "Failed to fetch from AI provider"
)

// UpstreamError 描述一次失败的转发，StatusCode 为应返回给调用方的状态码。
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("upstream %d: %s: %v", e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("upstream %d: %s", e.StatusCode, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// GenerateService 将提示词转发到外部生成服务。
type GenerateService interface {
	// Forward 成功时原样返回上游响应体；失败时返回 *UpstreamError。
	Forward(ctx context.Context, prompt, endpoint string) ([]byte, error)
}

type generateService struct {
	cfg    config.ProxyConfig
	client *http.Client
}

// NewGenerateService 创建一个新的 GenerateService 实例。
func NewGenerateService(cfg config.ProxyConfig) GenerateService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if cfg.DefaultEndpoint == "" {
		cfg.DefaultEndpoint = config.DefaultGenerateEndpoint
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Chatbot-Client/1.0"
	}
	return &generateService{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type generatePayload struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
	DoSample    bool    `json:"do_sample"`
}

// ResolveEndpoint 选择调用方提供的端点或默认端点，并补齐 generate 路径。
func ResolveEndpoint(endpoint, fallback string) string {
	url := strings.TrimSpace(endpoint)
	if url == "" {
		url = fallback
	}
	return NormalizeEndpoint(url)
}

// NormalizeEndpoint 在 URL 不以 /generate 结尾时追加该路径段，
// 这样调用方既可以给出服务根地址，也可以给出完整的生成地址。
func NormalizeEndpoint(url string) string {
	if strings.HasSuffix(url, "/"+generatePath) {
		return url
	}
	if strings.HasSuffix(url, "/") {
		return url + generatePath
	}
	return url + "/" + generatePath
}

func (s *generateService) Forward(ctx context.Context, prompt, endpoint string) ([]byte, error) {
	url := ResolveEndpoint(endpoint, s.cfg.DefaultEndpoint)
	body, err := json.Marshal(generatePayload{
		Prompt:      prompt,
		MaxTokens:   defaultMaxTokens,
		Temperature: defaultTemperature,
		DoSample:    true,
	})
	if err != nil {
		return nil, &UpstreamError{StatusCode: http.StatusInternalServerError, Message: GenericUpstreamMessage, Err: err}
	}

	log.Infow("Proxying generate request", "method", http.MethodPost, "url", url, "promptLength", len(prompt))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		log.Errorw("Proxy error: invalid upstream request", "method", http.MethodPost, "url", url, "error", err)
		return nil, &UpstreamError{StatusCode: http.StatusInternalServerError, Message: GenericUpstreamMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("ngrok-skip-browser-warning", "true")
	req.Header.Set("User-Agent", s.cfg.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		log.Errorw("Proxy error: no response from upstream", "method", http.MethodPost, "url", url, "error", err)
		return nil, &UpstreamError{StatusCode: http.StatusInternalServerError, Message: GenericUpstreamMessage, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBodySize))
	if err != nil {
		log.Errorw("Proxy error: failed to read upstream body", "method", http.MethodPost, "url", url, "status", resp.StatusCode, "error", err)
		return nil, &UpstreamError{StatusCode: http.StatusInternalServerError, Message: GenericUpstreamMessage, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := upstreamErrorMessage(respBody)
		log.Errorw("Proxy error: upstream returned error status",
			"method", http.MethodPost,
			"url", url,
			"status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Message: message}
	}

	log.Infow("Proxy request succeeded", "method", http.MethodPost, "url", url, "status", resp.StatusCode)
	return respBody, nil
}

// upstreamErrorMessage 取上游 JSON 中的 error 字段，缺失时使用通用消息。
func upstreamErrorMessage(body []byte) string {
	var payload struct {
		Error interface{} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg, ok := payload.Error.(string); ok && msg != "" {
			return msg
		}
	}
	return GenericUpstreamMessage
}
