// Package handler 包含了处理 HTTP 请求的控制器逻辑。
package handler

import (
	"errors"
	"net/http"
	"strings"

	"chatfront/internal/service"
	"chatfront/pkg/log"

	"github.com/gin-gonic/gin"
)

// GenerateHandler 处理 POST /api/generate，将提示词转发到外部生成服务。
type GenerateHandler struct {
	service service.GenerateService
}

// NewGenerateHandler 创建一个新的 GenerateHandler。
func NewGenerateHandler(service service.GenerateService) *GenerateHandler {
	return &GenerateHandler{service: service}
}

// GenerateRequest 定义了代理端点的请求体。Endpoint 为空时使用默认地址。
type GenerateRequest struct {
	Prompt   string `json:"prompt"`
	Endpoint string `json:"endpoint"`
}

// Generate 校验请求并转发；成功时原样返回上游 JSON。
func (h *GenerateHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("Generate: Invalid request payload, error: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Prompt is required"})
		return
	}

	body, err := h.service.Forward(c.Request.Context(), req.Prompt, req.Endpoint)
	if err != nil {
		var upErr *service.UpstreamError
		if errors.As(err, &upErr) {
			c.JSON(upErr.StatusCode, gin.H{"error": upErr.Message})
			return
		}
		log.Errorf("Generate: unexpected forward error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": service.GenericUpstreamMessage})
		return
	}

	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}
