package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/packages/ssestream"

	"github.com/DoubleG2s/agente-ia-contabilidade/internal/schema"
	"github.com/DoubleG2s/agente-ia-contabilidade/internal/tools"
)

// Request 一次补全请求
// Tools 为空时不向模型公布任何工具，也不发送 tool_choice。
type Request struct {
	Messages []schema.Message
	Tools    []tools.ToolSpec
}

// Stream 增量文本片段序列，不可重启
type Stream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Client LLM 客户端
// 模型、max_tokens、temperature 在构造时固定，请求时不可协商。
type Client struct {
	client      openai.Client
	model       string
	maxTokens   int64
	temperature float64
	timeout     time.Duration
}

// ClientOption 客户端选项
type ClientOption func(*clientSettings)

type clientSettings struct {
	baseURL     string
	timeout     time.Duration
	maxTokens   int64
	temperature float64
	extra       []option.RequestOption
}

// WithBaseURL 设置 OpenAI 兼容服务地址
func WithBaseURL(u string) ClientOption {
	return func(s *clientSettings) { s.baseURL = u }
}

// WithTimeout 设置非流式请求超时；流式请求只约束建立连接到收到响应头
func WithTimeout(d time.Duration) ClientOption {
	return func(s *clientSettings) { s.timeout = d }
}

// WithGeneration 设置生成参数
func WithGeneration(maxTokens int64, temperature float64) ClientOption {
	return func(s *clientSettings) {
		s.maxTokens = maxTokens
		s.temperature = temperature
	}
}

// WithRequestOptions 追加底层 SDK 选项
func WithRequestOptions(opts ...option.RequestOption) ClientOption {
	return func(s *clientSettings) { s.extra = append(s.extra, opts...) }
}

// NewClient 创建 LLM 客户端
func NewClient(apiKey, model string, opts ...ClientOption) *Client {
	s := &clientSettings{maxTokens: 1500, temperature: 0.7}
	for _, opt := range opts {
		opt(s)
	}

	// 关闭 SDK 自带重试，失败直接交给调用方
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if s.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(s.baseURL))
	}
	clientOpts = append(clientOpts, s.extra...)

	c := &Client{
		client:      openai.NewClient(clientOpts...),
		model:       model,
		maxTokens:   s.maxTokens,
		temperature: s.temperature,
		timeout:     s.timeout,
	}

	slog.Info("Initialized LLM client",
		slog.String("model", model),
		slog.String("baseURL", s.baseURL),
		slog.Int64("maxTokens", s.maxTokens),
	)

	return c
}

// Model 返回配置的模型名
func (c *Client) Model() string { return c.model }

// Generate 非流式补全
func (c *Client) Generate(ctx context.Context, req Request) (*schema.LLMResponse, error) {
	params := c.newParams(req.Messages)
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfAuto: openai.String("auto"),
		}
	}

	var reqOpts []option.RequestOption
	if c.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(c.timeout))
	}
	completion, err := c.client.Chat.Completions.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, fmt.Errorf("chat completion failed: %w", err)
	}

	return parseResponse(completion)
}

// Stream 流式补全，不支持工具
func (c *Client) Stream(ctx context.Context, req Request) (Stream, error) {
	params := c.newParams(req.Messages)

	// 超时只覆盖到响应头返回为止，之后的正文读取仅受调用方 ctx 约束
	streamCtx, cancel := context.WithCancel(ctx)
	var timer *time.Timer
	if c.timeout > 0 {
		timer = time.AfterFunc(c.timeout, cancel)
	}

	s := c.client.Chat.Completions.NewStreaming(streamCtx, params)
	if timer != nil && !timer.Stop() {
		_ = s.Close()
		cancel()
		return nil, fmt.Errorf("chat completion stream failed: open timed out after %s: %w", c.timeout, context.DeadlineExceeded)
	}
	if err := s.Err(); err != nil {
		_ = s.Close()
		cancel()
		return nil, fmt.Errorf("chat completion stream failed: %w", err)
	}
	return &chunkStream{stream: s, cancel: cancel}, nil
}

func (c *Client) newParams(messages []schema.Message) openai.ChatCompletionNewParams {
	return openai.ChatCompletionNewParams{
		Model:       c.model,
		Messages:    convertMessages(messages),
		MaxTokens:   openai.Int(c.maxTokens),
		Temperature: openai.Float(c.temperature),
	}
}

// convertMessages 转换消息格式
func convertMessages(messages []schema.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))

	for _, msg := range messages {
		switch msg.Role {
		case schema.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))

		case schema.RoleUser:
			result = append(result, openai.UserMessage(msg.Content))

		case schema.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				result = append(result, openai.AssistantMessage(msg.Content))
				continue
			}

			// 原样回传模型给出的 id 与 arguments，服务端据此关联 tool 消息
			toolCalls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Function.Name,
							Arguments: tc.Function.Arguments,
						},
					},
				})
			}

			assistantParam := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if msg.Content != "" {
				assistantParam.Content.OfString = param.NewOpt(msg.Content)
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &assistantParam,
			})

		case schema.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}

	return result
}

// convertTools 转换工具格式
func convertTools(specs []tools.ToolSpec) []openai.ChatCompletionToolUnionParam {
	result := make([]openai.ChatCompletionToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		result = append(result, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        spec.Name,
			Description: openai.String(spec.Description),
			Parameters:  openai.FunctionParameters(spec.Parameters),
		}))
	}
	return result
}

// parseResponse 解析 API 响应
func parseResponse(completion *openai.ChatCompletion) (*schema.LLMResponse, error) {
	if completion == nil || len(completion.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := completion.Choices[0]
	response := &schema.LLMResponse{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        completion.Model,
		Usage: schema.Usage{
			Prompt:     completion.Usage.PromptTokens,
			Completion: completion.Usage.CompletionTokens,
			Total:      completion.Usage.TotalTokens,
		},
	}

	// arguments 保持原始字符串，由调用方决定如何解析
	for _, tc := range choice.Message.ToolCalls {
		response.ToolCalls = append(response.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	return response, nil
}

// chunkStream 把 SSE chunk 流适配为纯文本片段流
type chunkStream struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	cancel  context.CancelFunc
	current string
}

func (s *chunkStream) Next() bool {
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			s.current = delta
			return true
		}
	}
	return false
}

func (s *chunkStream) Current() string { return s.current }

func (s *chunkStream) Err() error {
	if err := s.stream.Err(); err != nil {
		return fmt.Errorf("chat completion stream failed: %w", err)
	}
	return nil
}

func (s *chunkStream) Close() error {
	err := s.stream.Close()
	s.cancel()
	return err
}
