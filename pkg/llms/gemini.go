// Package llms provides LLM provider implementations.
package llms

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/loomwork/loom/pkg/config"
	"github.com/loomwork/loom/pkg/httpclient"
)

// ============================================================================
// GEMINI PROVIDER IMPLEMENTATION
// ============================================================================

// GeminiProvider implements LLMProvider for Google Gemini API
type GeminiProvider struct {
	config     *config.LLMProviderConfig
	httpClient *httpclient.Client
}

// GeminiPart is a single part of Gemini content; shape varies by kind
// (text, functionCall, functionResponse), so it is kept as a raw map.
type GeminiPart map[string]interface{}

type GeminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []GeminiPart `json:"parts"`
}

type GeminiGenerationConfig struct {
	Temperature      float64                `json:"temperature,omitempty"`
	MaxOutputTokens  int                    `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string                 `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]interface{} `json:"responseSchema,omitempty"`
}

type GeminiFunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type GeminiToolSet struct {
	FunctionDeclarations []GeminiFunctionDeclaration `json:"functionDeclarations"`
}

type GeminiRequest struct {
	Contents          []GeminiContent         `json:"contents"`
	SystemInstruction *GeminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GeminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []GeminiToolSet         `json:"tools,omitempty"`
}

type GeminiCandidate struct {
	Content      GeminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type GeminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GeminiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type GeminiResponse struct {
	Candidates    []GeminiCandidate    `json:"candidates"`
	UsageMetadata *GeminiUsageMetadata `json:"usageMetadata,omitempty"`
	Error         *GeminiError         `json:"error,omitempty"`
}

// NewGeminiProviderFromConfig creates a new Gemini provider from config
func NewGeminiProviderFromConfig(cfg *config.LLMProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Gemini")
	}
	if cfg.Host == "" {
		cfg.Host = "https://generativelanguage.googleapis.com"
	}
	return &GeminiProvider{config: cfg, httpClient: createHTTPClient(cfg)}, nil
}

func (p *GeminiProvider) GetModelName() string { return p.config.Model }
func (p *GeminiProvider) GetMaxTokens() int    { return p.config.MaxTokens }
func (p *GeminiProvider) GetTemperature() float64 {
	if p.config.Temperature == nil {
		return 0.7
	}
	return *p.config.Temperature
}
func (p *GeminiProvider) Close() error { return nil }

// Generate generates a response given conversation messages
func (p *GeminiProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (string, []ToolCall, int, *ThinkingBlock, error) {
	request := p.buildRequest(messages, tools, nil)

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.config.Host, p.config.Model, p.config.APIKey)
	response, err := p.makeRequest(ctx, url, request)
	if err != nil {
		return "", nil, 0, nil, err
	}
	if response.Error != nil {
		return "", nil, 0, nil, fmt.Errorf("gemini API error: %s", response.Error.Message)
	}
	if len(response.Candidates) == 0 {
		return "", nil, 0, nil, fmt.Errorf("gemini returned no candidates")
	}

	text, toolCalls, thinking := p.extractContent(response.Candidates[0].Content)

	var tokens int
	if response.UsageMetadata != nil {
		tokens = response.UsageMetadata.TotalTokenCount
	}

	return text, toolCalls, tokens, thinking, nil
}

// GenerateStreaming generates a streaming response given conversation messages
func (p *GeminiProvider) GenerateStreaming(ctx context.Context, messages []Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	request := p.buildRequest(messages, tools, nil)
	url := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse&key=%s", p.config.Host, p.config.Model, p.config.APIKey)

	outputCh := make(chan StreamChunk, 100)
	go func() {
		defer close(outputCh)
		if err := p.makeStreamingRequest(ctx, url, request, outputCh); err != nil {
			outputCh <- StreamChunk{Type: "error", Error: err}
		}
	}()
	return outputCh, nil
}

// extractContent splits a candidate's content into text, tool calls, and
// any thinking text (parts marked with "thought": true).
func (p *GeminiProvider) extractContent(content GeminiContent) (string, []ToolCall, *ThinkingBlock) {
	var text string
	var thinkingText string
	var toolCalls []ToolCall

	for _, part := range content.Parts {
		if t, ok := part["text"].(string); ok {
			if thought, _ := part["thought"].(bool); thought {
				thinkingText += t
			} else {
				text += t
			}
		}
		if fc, ok := part["functionCall"].(map[string]interface{}); ok {
			name, _ := fc["name"].(string)
			args, _ := fc["args"].(map[string]interface{})
			toolCalls = append(toolCalls, ToolCall{ID: name, Name: name, Arguments: args})
		}
	}

	var thinking *ThinkingBlock
	if thinkingText != "" {
		thinking = &ThinkingBlock{Text: thinkingText}
	}

	return text, toolCalls, thinking
}

// buildRequest builds a Gemini request from universal messages
func (p *GeminiProvider) buildRequest(messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) GeminiRequest {
	var systemParts []string
	contents := make([]GeminiContent, 0, len(messages))

	for _, msg := range messages {
		if isSystemMessage(msg) {
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
			continue
		}

		if isToolResultMessage(msg) {
			name := msg.Name
			if name == "" {
				name = msg.ToolCallID
			}
			contents = append(contents, GeminiContent{
				Role: "user",
				Parts: []GeminiPart{{
					"functionResponse": map[string]interface{}{
						"name":     name,
						"response": map[string]interface{}{"result": msg.Content},
					},
				}},
			})
			continue
		}

		role := "user"
		if msg.Role == "assistant" {
			role = "model"
		}

		if len(msg.ToolCalls) > 0 {
			parts := make([]GeminiPart, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				parts = append(parts, GeminiPart{"text": msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, GeminiPart{
					"functionCall": map[string]interface{}{"name": tc.Name, "args": tc.Arguments},
				})
			}
			contents = append(contents, GeminiContent{Role: role, Parts: parts})
			continue
		}

		contents = append(contents, GeminiContent{Role: role, Parts: []GeminiPart{{"text": msg.Content}}})
	}

	request := GeminiRequest{
		Contents: contents,
		GenerationConfig: &GeminiGenerationConfig{
			Temperature:     p.GetTemperature(),
			MaxOutputTokens: p.config.MaxTokens,
		},
	}

	if len(systemParts) > 0 {
		request.SystemInstruction = &GeminiContent{Parts: []GeminiPart{{"text": strings.Join(systemParts, "\n\n")}}}
	}

	if len(tools) > 0 {
		decls := make([]GeminiFunctionDeclaration, len(tools))
		for i, tool := range tools {
			decls[i] = GeminiFunctionDeclaration{Name: tool.Name, Description: tool.Description, Parameters: tool.Parameters}
		}
		request.Tools = []GeminiToolSet{{FunctionDeclarations: decls}}
	}

	if structConfig != nil && structConfig.Schema != nil {
		if schemaMap, ok := structConfig.Schema.(map[string]interface{}); ok {
			request.GenerationConfig.ResponseMimeType = "application/json"
			request.GenerationConfig.ResponseSchema = convertSchemaToGemini(schemaMap)
		}
	}

	return request
}

// convertSchemaToGemini strips JSON-Schema keywords Gemini does not accept
// and adds propertyOrdering so object fields render deterministically.
func convertSchemaToGemini(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for k, v := range schema {
		switch k {
		case "additionalProperties", "$schema":
			continue
		}
		out[k] = v
	}

	if props, ok := out["properties"].(map[string]interface{}); ok {
		ordering := make([]string, 0, len(props))
		converted := make(map[string]interface{}, len(props))
		for name, raw := range props {
			ordering = append(ordering, name)
			if sub, ok := raw.(map[string]interface{}); ok {
				converted[name] = convertSchemaToGemini(sub)
			} else {
				converted[name] = raw
			}
		}
		out["properties"] = converted
		out["propertyOrdering"] = ordering
	}

	return out
}

// makeRequest makes a non-streaming request to the Gemini API
func (p *GeminiProvider) makeRequest(ctx context.Context, url string, request GeminiRequest) (*GeminiResponse, error) {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(jsonData)), nil }
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response GeminiResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &response, nil
}

// makeStreamingRequest makes a streaming request to the Gemini API
func (p *GeminiProvider) makeStreamingRequest(ctx context.Context, url string, request GeminiRequest, outputCh chan<- StreamChunk) error {
	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(jsonData)), nil }
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var totalTokens int
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "" {
			continue
		}

		var chunk GeminiResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			return fmt.Errorf("gemini API error: %s", chunk.Error.Message)
		}
		if chunk.UsageMetadata != nil {
			totalTokens = chunk.UsageMetadata.TotalTokenCount
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		for _, part := range chunk.Candidates[0].Content.Parts {
			if t, ok := part["text"].(string); ok && t != "" {
				if thought, _ := part["thought"].(bool); thought {
					outputCh <- StreamChunk{Type: "thinking", Text: t}
				} else {
					outputCh <- StreamChunk{Type: "text", Text: t}
				}
			}
			if fc, ok := part["functionCall"].(map[string]interface{}); ok {
				name, _ := fc["name"].(string)
				args, _ := fc["args"].(map[string]interface{})
				outputCh <- StreamChunk{Type: "tool_call", ToolCall: &ToolCall{ID: name, Name: name, Arguments: args}}
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read streaming response: %w", err)
	}

	outputCh <- StreamChunk{Type: "done", Tokens: totalTokens}
	return nil
}

// ============================================================================
// STRUCTURED OUTPUT METHODS
// ============================================================================

// GenerateStructured generates a response constrained to a JSON schema
func (p *GeminiProvider) GenerateStructured(ctx context.Context, messages []Message, tools []ToolDefinition, structConfig *StructuredOutputConfig) (string, []ToolCall, int, *ThinkingBlock, error) {
	request := p.buildRequest(messages, tools, structConfig)

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", p.config.Host, p.config.Model, p.config.APIKey)
	response, err := p.makeRequest(ctx, url, request)
	if err != nil {
		return "", nil, 0, nil, err
	}
	if response.Error != nil {
		return "", nil, 0, nil, fmt.Errorf("gemini API error: %s", response.Error.Message)
	}
	if len(response.Candidates) == 0 {
		return "", nil, 0, nil, fmt.Errorf("gemini returned no candidates")
	}

	text, toolCalls, thinking := p.extractContent(response.Candidates[0].Content)

	var tokens int
	if response.UsageMetadata != nil {
		tokens = response.UsageMetadata.TotalTokenCount
	}

	return text, toolCalls, tokens, thinking, nil
}

// SupportsStructuredOutput returns true (Gemini supports native response schemas)
func (p *GeminiProvider) SupportsStructuredOutput() bool {
	return true
}
