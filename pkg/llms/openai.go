package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/httpclient"
	"github.com/loomwork/loom/pkg/observability"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func createHTTPClient(cfg *config.LLMProviderConfig) *httpclient.Client {
	var tlsConfig *httpclient.TLSConfig
	if cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify || cfg.CACertificate != "" {
		tlsConfig = &httpclient.TLSConfig{
			InsecureSkipVerify: cfg.InsecureSkipVerify != nil && *cfg.InsecureSkipVerify,
			CACertificate:      cfg.CACertificate,
		}
		if tlsConfig.InsecureSkipVerify {
			slog.Warn("TLS certificate verification disabled for LLM provider",
				"provider_type", cfg.Type,
				"insecure_skip_verify", true)
		}
	}

	opts := []httpclient.Option{
		httpclient.WithHTTPClient(&http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		}),
		httpclient.WithMaxRetries(cfg.MaxRetries),
		httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay) * time.Second),
		httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
	}

	if tlsConfig != nil {
		opts = append(opts, httpclient.WithTLSConfig(tlsConfig))
	}

	return httpclient.New(opts...)
}

// Constants for the OpenAI Responses API
const (
	openAIDefaultHost = "https://api.openai.com/v1"

	eventResponseCreated           = "response.created"
	eventOutputItemAdded           = "response.output_item.added"
	eventOutputItemDone            = "response.output_item.done"
	eventOutputTextDelta           = "response.output_text.delta"
	eventOutputTextDone            = "response.output_text.done"
	eventFunctionCallArgsDelta     = "response.function_call_arguments.delta"
	eventFunctionCallArgsDone      = "response.function_call_arguments.done"
	eventReasoningSummaryTextDelta = "response.reasoning_summary_text.delta"
	eventReasoningSummaryTextDone  = "response.reasoning_summary_text.done"
	eventContentPartAdded          = "response.content_part.added"
	eventContentPartDone           = "response.content_part.done"
	eventInProgress                = "response.in_progress"
	eventResponseCompleted         = "response.completed"

	maxPayloadPreviewLength = 200

	streamChannelBufferSize = 100

	reasoningEffortLowThreshold    = 1024
	reasoningEffortMediumThreshold = 8192
)

type OpenAIProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

// streamingState tracks partial tool-call and reasoning state across SSE events.
type streamingState struct {
	functionCallID   string
	functionCallName string
	functionCallArgs strings.Builder
	totalTokens      int
	emittedCallIDs   map[string]bool
}

func (s *streamingState) resetFunctionCall() {
	s.functionCallID = ""
	s.functionCallName = ""
	s.functionCallArgs.Reset()
}

// Responses API types. See: https://platform.openai.com/docs/api-reference/responses

type OpenAIResponsesRequest struct {
	Model           string                 `json:"model"`
	Input           interface{}            `json:"input,omitempty"`
	Instructions    string                 `json:"instructions,omitempty"`
	MaxOutputTokens *int                   `json:"max_output_tokens,omitempty"`
	Temperature     *float64               `json:"temperature,omitempty"`
	Tools           []OpenAIResponsesTool  `json:"tools,omitempty"`
	ToolChoice      interface{}            `json:"tool_choice,omitempty"`
	Reasoning       *OpenAIReasoningConfig `json:"reasoning,omitempty"`
	Stream          bool                   `json:"stream,omitempty"`
	Text            *OpenAITextFormat      `json:"text,omitempty"`
}

type OpenAITextFormat struct {
	Format *OpenAIJSONSchemaFormat `json:"format,omitempty"`
}

type OpenAIJSONSchemaFormat struct {
	Type   string                 `json:"type"`
	Name   string                 `json:"name"`
	Strict bool                   `json:"strict"`
	Schema map[string]interface{} `json:"schema"`
}

type OpenAIReasoningConfig struct {
	Effort  string `json:"effort,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// OpenAIResponsesTool is flat: type, name, description, parameters, strict.
type OpenAIResponsesTool struct {
	Type        string                 `json:"type"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Strict      bool                   `json:"strict,omitempty"`
}

// OpenAIInputItem represents one input item; different item types use
// different fields at top level ("message", "function_call", "function_call_output").
type OpenAIInputItem struct {
	Type      string      `json:"type"`
	Role      string      `json:"role,omitempty"`
	Content   interface{} `json:"content,omitempty"`
	CallID    string      `json:"call_id,omitempty"`
	Name      string      `json:"name,omitempty"`
	Arguments string      `json:"arguments,omitempty"`
	Output    *string     `json:"output,omitempty"`
}

type OpenAIResponsesResponse struct {
	ID                string                   `json:"id"`
	Status            string                   `json:"status"`
	Error             *OpenAIError             `json:"error,omitempty"`
	IncompleteDetails *OpenAIIncompleteDetails `json:"incomplete_details,omitempty"`
	Model             string                   `json:"model"`
	Output            []OpenAIOutputItem       `json:"output"`
	Reasoning         *OpenAIReasoningResponse `json:"reasoning,omitempty"`
	Usage             OpenAIUsage              `json:"usage"`
}

// OpenAIOutputItem represents an item in the output array. For
// function_call items, call_id is the id to use in function_call_output.
type OpenAIOutputItem struct {
	Type      string                       `json:"type"`
	ID        string                       `json:"id,omitempty"`
	Status    string                       `json:"status,omitempty"`
	Role      string                       `json:"role,omitempty"`
	Content   interface{}                  `json:"content,omitempty"`
	Summary   []OpenAIReasoningSummaryItem `json:"summary,omitempty"`
	CallID    string                       `json:"call_id,omitempty"`
	Name      string                       `json:"name,omitempty"`
	Arguments string                       `json:"arguments,omitempty"`
}

type OpenAIReasoningSummaryItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type OpenAIReasoningResponse struct {
	Effort  *string `json:"effort,omitempty"`
	Summary *string `json:"summary,omitempty"`
}

type OpenAIIncompleteDetails struct {
	Reason string `json:"reason,omitempty"`
}

type OpenAIError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
}

type OpenAIUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// NewOpenAIProvider is a convenience constructor for simple use cases.
// Prefer NewOpenAIProviderFromConfig for production use.
func NewOpenAIProvider(apiKey string, model string) *OpenAIProvider {
	cfg := &config.LLMProviderConfig{
		Type:        "openai",
		Model:       model,
		APIKey:      apiKey,
		Host:        openAIDefaultHost,
		Temperature: func() *float64 { t := 0.7; return &t }(),
		MaxTokens:   1000,
		Timeout:     60,
	}

	provider, err := NewOpenAIProviderFromConfig(cfg)
	if err != nil {
		slog.Error("failed to create OpenAI provider", "error", err)
		return nil
	}
	return provider
}

func NewOpenAIProviderFromConfig(cfg *config.LLMProviderConfig) (*OpenAIProvider, error) {
	return &OpenAIProvider{config: cfg, httpClient: createHTTPClient(cfg)}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, *ThinkingBlock, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("loom.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "openai"),
			attribute.String("api", "responses"),
			attribute.Bool("streaming", false),
		),
	)
	defer span.End()

	effort := p.getReasoningEffort()

	text, toolCalls, tokens, thinkingBlock, err := p.generateViaResponsesAPI(ctx, messages, tools, effort, nil)
	duration := time.Since(startTime)
	metrics := observability.GetGlobalMetrics()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		}
		return "", nil, 0, nil, err
	}

	span.SetStatus(codes.Ok, "success")
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, tokens, tokens, nil)
	}

	return text, toolCalls, tokens, thinkingBlock, nil
}

func (p *OpenAIProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	effort := p.getReasoningEffort()
	return p.generateStreamingViaResponsesAPI(ctx, messages, tools, effort, nil)
}

func (p *OpenAIProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []ToolCall, int, *ThinkingBlock, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("loom.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "openai"),
			attribute.String("api", "responses"),
			attribute.Bool("structured", true),
		),
	)
	defer span.End()

	effort := p.getReasoningEffort()

	text, toolCalls, tokens, thinkingBlock, err := p.generateViaResponsesAPI(ctx, messages, tools, effort, structConfig)
	duration := time.Since(startTime)
	metrics := observability.GetGlobalMetrics()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if metrics != nil {
			metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, 0, err)
		}
		return "", nil, 0, nil, err
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, tokens),
		attribute.Int(observability.AttrLLMTokensOutput, tokens),
		attribute.Int("llm.tool_calls", len(toolCalls)),
	)
	span.SetStatus(codes.Ok, "success")
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, tokens, tokens, nil)
	}

	return text, toolCalls, tokens, thinkingBlock, nil
}

func (p *OpenAIProvider) GetModelName() string { return p.config.Model }
func (p *OpenAIProvider) GetMaxTokens() int    { return p.config.MaxTokens }

func (p *OpenAIProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.7
	}
	return *p.config.Temperature
}

func (p *OpenAIProvider) Close() error { return nil }

func (p *OpenAIProvider) SupportsStructuredOutput() bool { return true }

// generateViaResponsesAPI builds and issues a non-streaming Responses API call.
func (p *OpenAIProvider) generateViaResponsesAPI(ctx context.Context, messages []Message, tools []ToolDefinition, effort string, structConfig *StructuredOutputConfig) (string, []ToolCall, int, *ThinkingBlock, error) {
	requestSummary := p.config.Thinking != nil && p.config.Thinking.Enabled
	req := p.buildResponsesRequest(messages, tools, effort, requestSummary)

	if structConfig != nil && structConfig.Format == "json" {
		schema, _ := structConfig.Schema.(map[string]interface{})
		if schema == nil {
			schema = map[string]interface{}{"type": "object"}
		}
		req.Text = &OpenAITextFormat{
			Format: &OpenAIJSONSchemaFormat{Type: "json_schema", Name: "response", Strict: true, Schema: schema},
		}
	}

	return p.makeResponsesRequest(ctx, req)
}

// getResponsesURL returns the URL for the Responses API endpoint.
func (p *OpenAIProvider) getResponsesURL() string {
	if p.config.Host == "" {
		return openAIDefaultHost + "/responses"
	}
	host := strings.TrimSuffix(p.config.Host, "/")
	if strings.HasSuffix(host, "/v1") {
		return fmt.Sprintf("%s/responses", host)
	}
	return fmt.Sprintf("%s/v1/responses", host)
}

// getReasoningEffort derives the effort level from the thinking config.
func (p *OpenAIProvider) getReasoningEffort() string {
	if p.config.Thinking != nil && p.config.Thinking.Enabled {
		return p.mapBudgetToReasoningEffort(p.config.Thinking.BudgetTokens)
	}
	return ""
}

// shouldRetryWithoutSummary reports whether an error indicates the
// organization isn't verified for reasoning summaries.
func (p *OpenAIProvider) shouldRetryWithoutSummary(errorResp *OpenAIResponsesResponse) bool {
	if errorResp == nil || errorResp.Error == nil {
		return false
	}
	return errorResp.Error.Code == "unsupported_value" &&
		strings.Contains(errorResp.Error.Message, "reasoning summaries")
}

func (p *OpenAIProvider) logRequestDebug(req *OpenAIResponsesRequest, reqBody []byte) {
	payloadPreview := string(reqBody)
	if len(payloadPreview) > maxPayloadPreviewLength {
		payloadPreview = payloadPreview[:maxPayloadPreviewLength] + "..."
	}
	reasoningEffort := ""
	if req.Reasoning != nil {
		reasoningEffort = req.Reasoning.Effort
	}
	slog.Debug("openai responses API request",
		"model", req.Model,
		"has_instructions", req.Instructions != "",
		"max_output_tokens", req.MaxOutputTokens,
		"effort", reasoningEffort,
		"payload_preview", payloadPreview)
}

// makeResponsesRequest makes a non-streaming request to the Responses API.
func (p *OpenAIProvider) makeResponsesRequest(ctx context.Context, req *OpenAIResponsesRequest) (string, []ToolCall, int, *ThinkingBlock, error) {
	url := p.getResponsesURL()

	reqBody, err := json.Marshal(req)
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	p.logRequestDebug(req, reqBody)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", strings.TrimSpace(p.config.APIKey)))

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("openai responses API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.handleErrorResponse(ctx, resp, req, url)
	}

	var responsesResp OpenAIResponsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&responsesResp); err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return p.processResponsesResponse(&responsesResp)
}

// handleErrorResponse handles non-OK HTTP responses, retrying once without
// the reasoning summary if the organization isn't verified for it.
func (p *OpenAIProvider) handleErrorResponse(ctx context.Context, resp *http.Response, req *OpenAIResponsesRequest, url string) (string, []ToolCall, int, *ThinkingBlock, error) {
	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return "", nil, 0, nil, fmt.Errorf("openai responses API error (HTTP %d): failed to read body: %w", resp.StatusCode, readErr)
	}

	if resp.StatusCode == http.StatusNotFound {
		return "", nil, 0, nil, fmt.Errorf("openai responses API endpoint not found (404): %s", string(bodyBytes))
	}

	var errorResp OpenAIResponsesResponse
	if err := json.Unmarshal(bodyBytes, &errorResp); err != nil || errorResp.Error == nil {
		return "", nil, 0, nil, fmt.Errorf("openai responses API error (HTTP %d): %s", resp.StatusCode, string(bodyBytes))
	}

	if resp.StatusCode == http.StatusBadRequest && p.shouldRetryWithoutSummary(&errorResp) {
		return p.retryWithoutSummary(ctx, req, url)
	}

	return "", nil, 0, nil, fmt.Errorf("openai responses API error (HTTP %d): %s", resp.StatusCode, errorResp.Error.Message)
}

func (p *OpenAIProvider) retryWithoutSummary(ctx context.Context, originalReq *OpenAIResponsesRequest, url string) (string, []ToolCall, int, *ThinkingBlock, error) {
	slog.Debug("organization not verified for reasoning summaries, retrying without summary parameter")

	retryReq := *originalReq
	if retryReq.Reasoning != nil {
		reasoningCopy := *retryReq.Reasoning
		reasoningCopy.Summary = ""
		retryReq.Reasoning = &reasoningCopy
	}

	reqBody, err := json.Marshal(&retryReq)
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to marshal retry request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to create retry request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", strings.TrimSpace(p.config.APIKey)))

	retryResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", nil, 0, nil, fmt.Errorf("openai responses API retry request failed: %w", err)
	}
	defer retryResp.Body.Close()

	if retryResp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(retryResp.Body)
		return "", nil, 0, nil, fmt.Errorf("openai responses API retry error (HTTP %d): %s", retryResp.StatusCode, string(bodyBytes))
	}

	var responsesResp OpenAIResponsesResponse
	if err := json.NewDecoder(retryResp.Body).Decode(&responsesResp); err != nil {
		return "", nil, 0, nil, fmt.Errorf("failed to decode retry response: %w", err)
	}

	return p.processResponsesResponse(&responsesResp)
}

// processResponsesResponse extracts text, tool calls, token usage and
// reasoning content from a completed Responses API response.
func (p *OpenAIProvider) processResponsesResponse(responsesResp *OpenAIResponsesResponse) (string, []ToolCall, int, *ThinkingBlock, error) {
	if responsesResp.Error != nil {
		return "", nil, 0, nil, fmt.Errorf("openai responses API error: %s", responsesResp.Error.Message)
	}
	if responsesResp.Status != "completed" {
		err := fmt.Errorf("openai responses API response incomplete: status=%s", responsesResp.Status)
		if responsesResp.IncompleteDetails != nil {
			err = fmt.Errorf("openai responses API response incomplete: status=%s, reason=%s", responsesResp.Status, responsesResp.IncompleteDetails.Reason)
		}
		return "", nil, 0, nil, err
	}
	if len(responsesResp.Output) == 0 {
		return "", nil, 0, nil, fmt.Errorf("no output items in response")
	}

	var text string
	var toolCalls []ToolCall
	var thinkingBlock *ThinkingBlock

	if responsesResp.Reasoning != nil && responsesResp.Reasoning.Summary != nil && *responsesResp.Reasoning.Summary != "" {
		thinkingBlock = &ThinkingBlock{Text: *responsesResp.Reasoning.Summary}
	}

	for _, outputItem := range responsesResp.Output {
		switch outputItem.Type {
		case "message":
			text = p.extractTextFromMessageOutput(outputItem)
		case "function_call":
			toolCall, err := p.parseFunctionCallOutput(outputItem)
			if err != nil {
				slog.Warn("failed to parse function call", "error", err, "id", outputItem.ID)
				continue
			}
			toolCalls = append(toolCalls, *toolCall)
		case "reasoning":
			if content := p.extractReasoningFromOutput(outputItem); content != "" {
				thinkingBlock = &ThinkingBlock{Text: content}
			}
		}
	}

	return text, toolCalls, responsesResp.Usage.TotalTokens, thinkingBlock, nil
}

// generateStreamingViaResponsesAPI issues a streaming Responses API call and
// translates its SSE event stream into StreamChunks.
func (p *OpenAIProvider) generateStreamingViaResponsesAPI(ctx context.Context, messages []Message, tools []ToolDefinition, effort string, structConfig *StructuredOutputConfig) (<-chan StreamChunk, error) {
	startTime := time.Now()

	tracer := observability.GetTracer("loom.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMModel, p.config.Model),
			attribute.String("provider", "openai"),
			attribute.String("api", "responses"),
			attribute.Bool("streaming", true),
		),
	)

	outputCh := make(chan StreamChunk, streamChannelBufferSize)

	go func() {
		defer span.End()
		defer close(outputCh)

		requestSummary := p.config.Thinking != nil && p.config.Thinking.Enabled
		req := p.buildResponsesRequest(messages, tools, effort, requestSummary)
		req.Stream = true

		if structConfig != nil && structConfig.Format == "json" {
			if schema, ok := structConfig.Schema.(map[string]interface{}); ok {
				req.Text = &OpenAITextFormat{
					Format: &OpenAIJSONSchemaFormat{Type: "json_schema", Name: "response", Strict: true, Schema: schema},
				}
			}
		}

		url := p.getResponsesURL()
		reqBody, err := json.Marshal(req)
		if err != nil {
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to marshal request: %w", err)}
			return
		}
		p.logRequestDebug(req, reqBody)

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(reqBody))
		if err != nil {
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to create request: %w", err)}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", strings.TrimSpace(p.config.APIKey)))

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("openai responses API request failed: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			var errorResp OpenAIResponsesResponse
			errMsg := fmt.Sprintf("openai responses API error (HTTP %d): %s", resp.StatusCode, string(bodyBytes))
			if json.Unmarshal(bodyBytes, &errorResp) == nil && errorResp.Error != nil {
				errMsg = fmt.Sprintf("openai responses API error (HTTP %d): %s", resp.StatusCode, errorResp.Error.Message)
			}
			err := fmt.Errorf("%s", errMsg)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			outputCh <- StreamChunk{Type: "error", Error: err}
			return
		}

		p.streamResponsesBody(ctx, resp.Body, outputCh, span, startTime)
	}()

	return outputCh, nil
}

// streamResponsesBody reads SSE events from body and emits StreamChunks.
func (p *OpenAIProvider) streamResponsesBody(ctx context.Context, body io.Reader, outputCh chan<- StreamChunk, span trace.Span, startTime time.Time) {
	reader := bufio.NewReader(body)
	state := &streamingState{emittedCallIDs: make(map[string]bool)}
	var currentEventType string

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				break
			}
			outputCh <- StreamChunk{Type: "error", Error: fmt.Errorf("failed to read stream: %w", err)}
			return
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		if bytes.HasPrefix(line, []byte("event: ")) {
			currentEventType = string(bytes.TrimSpace(line[7:]))
			continue
		}
		if !bytes.HasPrefix(line, []byte("data: ")) {
			continue
		}

		var streamEvent map[string]interface{}
		if err := json.Unmarshal(line[6:], &streamEvent); err != nil {
			currentEventType = ""
			continue
		}

		eventType := currentEventType
		if eventType == "" {
			eventType, _ = streamEvent["type"].(string)
		}
		currentEventType = ""

		p.handleStreamEvent(eventType, streamEvent, state, outputCh)
	}

	outputCh <- StreamChunk{Type: "done", Tokens: state.totalTokens}

	duration := time.Since(startTime)
	span.SetStatus(codes.Ok, "success")
	metrics := observability.GetGlobalMetrics()
	if metrics != nil {
		metrics.RecordLLMCall(ctx, p.config.Model, duration, 0, state.totalTokens, nil)
	}
}

// handleStreamEvent dispatches a single decoded SSE event.
func (p *OpenAIProvider) handleStreamEvent(eventType string, streamEvent map[string]interface{}, state *streamingState, outputCh chan<- StreamChunk) {
	switch eventType {
	case eventOutputItemAdded:
		item, ok := streamEvent["item"].(map[string]interface{})
		if !ok {
			return
		}
		if itemType, _ := item["type"].(string); itemType == "function_call" {
			if callID, ok := item["call_id"].(string); ok {
				state.functionCallID = callID
			} else if id, ok := item["id"].(string); ok {
				state.functionCallID = id
			}
			if name, ok := item["name"].(string); ok {
				state.functionCallName = name
			}
			state.functionCallArgs.Reset()
		}

	case eventOutputItemDone:
		item, ok := streamEvent["item"].(map[string]interface{})
		if !ok {
			return
		}
		if itemType, _ := item["type"].(string); itemType == "function_call" {
			callID, _ := item["call_id"].(string)
			if callID == "" {
				callID, _ = item["id"].(string)
			}
			name, _ := item["name"].(string)
			argsStr, _ := item["arguments"].(string)
			p.emitToolCall(state, callID, name, argsStr, outputCh)
		}

	case eventOutputTextDelta:
		var deltaText string
		if delta, ok := streamEvent["delta"].(string); ok {
			deltaText = delta
		} else if deltaObj, ok := streamEvent["delta"].(map[string]interface{}); ok {
			deltaText, _ = deltaObj["text"].(string)
		}
		if deltaText != "" {
			outputCh <- StreamChunk{Type: "text", Text: deltaText}
		}

	case eventFunctionCallArgsDelta:
		if delta, ok := streamEvent["delta"].(string); ok && delta != "" {
			state.functionCallArgs.WriteString(delta)
		}

	case eventFunctionCallArgsDone:
		p.emitToolCall(state, state.functionCallID, state.functionCallName, state.functionCallArgs.String(), outputCh)

	case eventReasoningSummaryTextDelta:
		if delta, ok := streamEvent["delta"].(string); ok && delta != "" {
			outputCh <- StreamChunk{Type: "thinking", Text: delta}
		}

	case eventReasoningSummaryTextDone, eventContentPartAdded, eventContentPartDone, eventInProgress, eventOutputTextDone, eventResponseCreated:
		// no action needed

	case eventResponseCompleted:
		if response, ok := streamEvent["response"].(map[string]interface{}); ok {
			if usage, ok := response["usage"].(map[string]interface{}); ok {
				if total, ok := usage["total_tokens"].(float64); ok {
					state.totalTokens = int(total)
				}
			}
		}
	}
}

// emitToolCall parses accumulated arguments and emits a tool_call chunk,
// de-duplicating call IDs that may be reported by more than one event.
func (p *OpenAIProvider) emitToolCall(state *streamingState, callID, name, argsStr string, outputCh chan<- StreamChunk) {
	if callID == "" || name == "" {
		return
	}
	if state.emittedCallIDs[callID] {
		state.resetFunctionCall()
		return
	}

	args := make(map[string]interface{})
	if argsStr != "" {
		if err := json.Unmarshal([]byte(argsStr), &args); err != nil {
			slog.Warn("failed to parse function call arguments", "error", err, "call_id", callID)
			args = make(map[string]interface{})
		}
	}

	state.emittedCallIDs[callID] = true
	outputCh <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{ID: callID, Name: name, Arguments: args, RawArgs: argsStr}}
	state.resetFunctionCall()
}

// buildResponsesRequest builds a Responses API request from universal messages.
func (p *OpenAIProvider) buildResponsesRequest(messages []Message, tools []ToolDefinition, effort string, requestSummary bool) *OpenAIResponsesRequest {
	inputItems, instructions := p.convertMessagesToInputItems(messages)

	if len(inputItems) == 0 {
		inputItems = []OpenAIInputItem{
			{Type: "message", Role: "user", Content: []map[string]interface{}{{"type": "input_text", "text": ""}}},
		}
	}

	var maxOutputTokens *int
	if p.config.MaxTokens > 0 {
		maxOutputTokens = &p.config.MaxTokens
	}

	req := &OpenAIResponsesRequest{
		Model:           p.config.Model,
		Input:           inputItems,
		MaxOutputTokens: maxOutputTokens,
	}

	if effort != "" && p.isReasoningModel(p.config.Model) {
		reasoningConfig := &OpenAIReasoningConfig{Effort: effort}
		if requestSummary {
			reasoningConfig.Summary = "auto"
		}
		req.Reasoning = reasoningConfig
	}

	if instructions != "" {
		req.Instructions = instructions
	}

	if len(tools) > 0 {
		req.Tools = p.convertToResponsesAPITools(tools)
		req.ToolChoice = "auto"
	}

	if !p.isReasoningModel(p.config.Model) && p.config.Temperature != nil {
		req.Temperature = p.config.Temperature
	}

	return req
}

// convertToResponsesAPITools converts ToolDefinition to the Responses API's
// flat tool shape: type, name, description, parameters at top level.
func (p *OpenAIProvider) convertToResponsesAPITools(tools []ToolDefinition) []OpenAIResponsesTool {
	result := make([]OpenAIResponsesTool, len(tools))
	for i, tool := range tools {
		result[i] = OpenAIResponsesTool{Type: "function", Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters}
	}
	return result
}

// convertMessagesToInputItems converts universal messages to Responses API
// input items: system content becomes top-level instructions, tool results
// become function_call_output items, assistant tool calls become
// function_call items.
func (p *OpenAIProvider) convertMessagesToInputItems(messages []Message) ([]OpenAIInputItem, string) {
	inputItems := make([]OpenAIInputItem, 0, len(messages))
	var instructions strings.Builder

	for _, msg := range messages {
		if isSystemMessage(msg) {
			if msg.Content != "" {
				if instructions.Len() > 0 {
					instructions.WriteString("\n")
				}
				instructions.WriteString(msg.Content)
			}
			continue
		}

		if isToolResultMessage(msg) {
			output := msg.Content
			inputItems = append(inputItems, OpenAIInputItem{Type: "function_call_output", CallID: msg.ToolCallID, Output: &output})
			continue
		}

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			if msg.Content != "" {
				inputItems = append(inputItems, OpenAIInputItem{
					Type: "message", Role: "assistant",
					Content: []map[string]interface{}{{"type": "output_text", "text": msg.Content}},
				})
			}
			for _, tc := range msg.ToolCalls {
				argsJSON, _ := json.Marshal(tc.Arguments)
				inputItems = append(inputItems, OpenAIInputItem{Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: string(argsJSON)})
			}
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "assistant"
		}
		content := p.extractContentFromMessage(msg, role)
		if len(content) == 0 {
			continue
		}
		inputItems = append(inputItems, OpenAIInputItem{Type: "message", Role: role, Content: content})
	}

	return inputItems, instructions.String()
}

// extractContentFromMessage builds the content array for a message item.
// User messages use "input_text", assistant messages use "output_text".
func (p *OpenAIProvider) extractContentFromMessage(msg Message, role string) []map[string]interface{} {
	textType := "input_text"
	if role == "assistant" {
		textType = "output_text"
	}
	if msg.Content == "" {
		return nil
	}
	return []map[string]interface{}{{"type": textType, "text": msg.Content}}
}

// extractTextFromMessageOutput extracts concatenated output_text parts from a message output item.
func (p *OpenAIProvider) extractTextFromMessageOutput(outputItem OpenAIOutputItem) string {
	contentArray, ok := outputItem.Content.([]interface{})
	if !ok {
		return ""
	}
	var textBuilder strings.Builder
	for _, part := range contentArray {
		partMap, ok := part.(map[string]interface{})
		if !ok {
			continue
		}
		if partType, _ := partMap["type"].(string); partType == "output_text" {
			if text, ok := partMap["text"].(string); ok {
				textBuilder.WriteString(text)
			}
		}
	}
	return textBuilder.String()
}

// parseFunctionCallOutput parses a function_call output item into a ToolCall.
func (p *OpenAIProvider) parseFunctionCallOutput(outputItem OpenAIOutputItem) (*ToolCall, error) {
	if outputItem.Name == "" {
		return nil, fmt.Errorf("function_call name is empty")
	}

	args := make(map[string]interface{})
	if outputItem.Arguments != "" {
		if err := json.Unmarshal([]byte(outputItem.Arguments), &args); err != nil {
			return nil, fmt.Errorf("failed to parse function arguments: %w", err)
		}
	}

	toolCallID := outputItem.CallID
	if toolCallID == "" {
		toolCallID = outputItem.ID
	}

	return &ToolCall{ID: toolCallID, Name: outputItem.Name, Arguments: args, RawArgs: outputItem.Arguments}, nil
}

// extractReasoningFromOutput concatenates summary_text entries from a reasoning output item.
func (p *OpenAIProvider) extractReasoningFromOutput(outputItem OpenAIOutputItem) string {
	var thinkingBuilder strings.Builder
	for _, summaryItem := range outputItem.Summary {
		if summaryItem.Type == "summary_text" && summaryItem.Text != "" {
			thinkingBuilder.WriteString(summaryItem.Text)
			thinkingBuilder.WriteString("\n")
		}
	}
	return strings.TrimSpace(thinkingBuilder.String())
}

func (p *OpenAIProvider) isReasoningModel(modelName string) bool {
	return IsOpenAIReasoningModel(modelName)
}

// IsOpenAIReasoningModel reports whether modelName is one of OpenAI's
// reasoning-capable models (o1/o3/o4/gpt-5 families).
func IsOpenAIReasoningModel(modelName string) bool {
	modelLower := strings.ToLower(modelName)
	if modelLower == "o1" || modelLower == "o3" || modelLower == "o4" || modelLower == "gpt-5" {
		return true
	}
	for _, prefix := range []string{"o1-", "o3-", "o4-", "gpt-5-"} {
		if strings.HasPrefix(modelLower, prefix) {
			return true
		}
	}
	return false
}

// mapBudgetToReasoningEffort maps a thinking token budget to one of
// OpenAI's reasoning_effort levels ("low", "medium", "high").
// See: https://platform.openai.com/docs/guides/reasoning
func (p *OpenAIProvider) mapBudgetToReasoningEffort(budgetTokens int) string {
	if budgetTokens <= reasoningEffortLowThreshold {
		return "low"
	}
	if budgetTokens <= reasoningEffortMediumThreshold {
		return "medium"
	}
	return "high"
}
