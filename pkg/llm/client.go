// Package llm 提供了会话管理器调用 /api/generate 代理的客户端。
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"chatfront/internal/config"
	"chatfront/internal/model"
	"chatfront/pkg/log"
)

// HistoryWindow 是拼入提示词的历史消息条数。
const HistoryWindow = 5

const (
	timeoutMessage      = "Request timed out. The AI service might be sleeping."
	connectivityMessage = "Failed to generate response. Please check your connection."
)

// ErrorKind 对生成失败分类，决定展示给用户的文案。
type ErrorKind string

const (
	KindTimeout      ErrorKind = "timeout"
	KindUpstream     ErrorKind = "upstream"
	KindConnectivity ErrorKind = "connectivity"
)

// Error 由 Generate 返回，Error() 的内容可以直接展示给用户。
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Client 定义了请求助手回复的接口。
type Client interface {
	// Generate 把带有历史前缀的提示词发给代理，返回回复文本。
	Generate(ctx context.Context, prompt string, history []model.Message, endpoint string) (string, error)
}

type proxyClient struct {
	cfg    config.ClientConfig
	client *http.Client
}

// NewClient 创建一个向 cfg.ProxyURL 发送请求的客户端。
func NewClient(cfg config.ClientConfig) Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &proxyClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type generateRequest struct {
	Prompt   string `json:"prompt"`
	Endpoint string `json:"endpoint,omitempty"`
}

type generateResponse struct {
	Response *string `json:"response"`
	Error    string  `json:"error"`
}

// BuildPrompt 把最近 HistoryWindow 条消息格式化为 "User: ..." / "AI: ..." 行并追加新的提示词。
// 没有历史时原样返回提示词。
func BuildPrompt(history []model.Message, prompt string) string {
	if len(history) > HistoryWindow {
		history = history[len(history)-HistoryWindow:]
	}
	if len(history) == 0 {
		return prompt
	}
	lines := make([]string, 0, len(history)+1)
	for _, m := range history {
		if m.Role == model.RoleUser {
			lines = append(lines, "User: "+m.Content)
		} else {
			lines = append(lines, "AI: "+m.Content)
		}
	}
	lines = append(lines, "User: "+prompt)
	return strings.Join(lines, "\n")
}

func (c *proxyClient) Generate(ctx context.Context, prompt string, history []model.Message, endpoint string) (string, error) {
	reqBytes, err := json.Marshal(generateRequest{
		Prompt:   BuildPrompt(history, prompt),
		Endpoint: endpoint,
	})
	if err != nil {
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.ProxyURL, bytes.NewReader(reqBytes))
	if err != nil {
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		log.Errorf("[LLMClient] 调用生成代理失败, error: %v", err)
		if isTimeout(err) {
			return "", &Error{Kind: KindTimeout, Message: timeoutMessage, Err: err}
		}
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return "", &Error{Kind: KindTimeout, Message: timeoutMessage, Err: err}
		}
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: err}
	}

	var decoded generateResponse
	decodeErr := json.Unmarshal(body, &decoded)

	if resp.StatusCode != http.StatusOK {
		log.Errorf("[LLMClient] 生成代理返回非 200 状态码: %s", resp.Status)
		if decodeErr == nil && decoded.Error != "" {
			return "", &Error{
				Kind:    KindUpstream,
				Message: "AI Error: " + decoded.Error,
				Err:     fmt.Errorf("proxy returned %s", resp.Status),
			}
		}
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: fmt.Errorf("proxy returned %s", resp.Status)}
	}

	if decodeErr != nil {
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: fmt.Errorf("failed to decode proxy response: %w", decodeErr)}
	}
	if decoded.Response == nil {
		return "", &Error{Kind: KindConnectivity, Message: connectivityMessage, Err: errors.New("proxy response has no response field")}
	}
	return *decoded.Response, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
