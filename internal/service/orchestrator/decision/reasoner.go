package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reachmaster/internal/config"
	missionModel "reachmaster/internal/model/mission"
)

// ReasonRequest LLM 层的输入
// Context 必须是已脱敏的字段集合(见 DecisionContext.Redacted)，不含任何 PII
type ReasonRequest struct {
	RequestType missionModel.DecisionRequestType
	Context     map[string]interface{}
	Allowed     []string // LLM 只能从这个集合里选择决策值
}

// ReasonResult LLM 层的输出契约: {"decision": "...", "confidence": 0.0-1.0}
type ReasonResult struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

// Reasoner LLM 推理能力接口
// 生产实现是 OpenAI 兼容的 HTTP 客户端；测试用确定性桩替换
type Reasoner interface {
	Resolve(ctx context.Context, req ReasonRequest) (*ReasonResult, error)
}

// httpReasoner OpenAI 兼容 chat completions 客户端
type httpReasoner struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// NewHTTPReasoner 创建 LLM 推理客户端；APIKey 为空时返回 nil(LLM 层禁用)
func NewHTTPReasoner(cfg config.LLMConfig) Reasoner {
	if cfg.APIKey == "" {
		return nil
	}
	return &httpReasoner{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  &http.Client{Timeout: 30 * time.Second}, // 调用方 context 才是真正的截止时间
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

const systemPrompt = `You are the reasoning layer of an outreach mission orchestrator.
You receive an orchestration question with redacted context and a fixed set of allowed decisions.
Respond with a single JSON object and nothing else: {"decision": "<one allowed value>", "confidence": <number 0.0-1.0>}`

// Resolve 调用 chat completions，解析严格 JSON 契约
// 任何偏离契约的响应(非 JSON、决策值不在允许集合内)都按失败处理，由引擎降级
func (r *httpReasoner) Resolve(ctx context.Context, req ReasonRequest) (*ReasonResult, error) {
	ctxJSON, err := json.Marshal(req.Context)
	if err != nil {
		return nil, fmt.Errorf("marshal context: %w", err)
	}
	userPrompt := fmt.Sprintf("question: %s\nallowed decisions: %s\ncontext: %s",
		req.RequestType, strings.Join(req.Allowed, ", "), ctxJSON)

	body, err := json.Marshal(chatRequest{
		Model: r.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature:    0,
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+r.apiKey)

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call reasoner: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("reasoner returned status %d", resp.StatusCode)
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return parseResult(chat.Choices[0].Message.Content, req.Allowed)
}

// parseResult 解析并校验模型输出
// 容忍 markdown 代码块包裹，但决策值必须命中允许集合
func parseResult(content string, allowed []string) (*ReasonResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var result ReasonResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, fmt.Errorf("malformed decision payload: %w", err)
	}
	if result.Decision == "" {
		return nil, fmt.Errorf("decision payload missing decision field")
	}
	for _, v := range allowed {
		if result.Decision == v {
			return &result, nil
		}
	}
	return nil, fmt.Errorf("decision %q not in allowed set", result.Decision)
}
