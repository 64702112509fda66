package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loomwork/loom/pkg/config"
)

func newTestAnthropicProvider(t *testing.T, host string) *AnthropicProvider {
	t.Helper()
	provider, err := NewAnthropicProviderFromConfig(&config.LLMProviderConfig{
		Type:      "anthropic",
		Model:     "claude-3-5-sonnet-20241022",
		APIKey:    "sk-ant-test-key",
		Host:      host,
		MaxTokens: 4096,
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v", err)
	}
	return provider
}

func TestNewAnthropicProviderFromConfig(t *testing.T) {
	provider, err := NewAnthropicProviderFromConfig(&config.LLMProviderConfig{
		Model:  "claude-3-5-sonnet-20241022",
		APIKey: "sk-ant-test-key",
	})
	if err != nil {
		t.Fatalf("NewAnthropicProviderFromConfig() error = %v, want nil", err)
	}
	if provider.GetModelName() != "claude-3-5-sonnet-20241022" {
		t.Errorf("GetModelName() = %v, want claude-3-5-sonnet-20241022", provider.GetModelName())
	}
	if provider.config.Host != "https://api.anthropic.com" {
		t.Errorf("Host = %v, want default anthropic host", provider.config.Host)
	}
}

func TestNewAnthropicProviderFromConfig_MissingAPIKey(t *testing.T) {
	_, err := NewAnthropicProviderFromConfig(&config.LLMProviderConfig{Model: "claude-3-5-sonnet-20241022"})
	if err == nil {
		t.Error("expected error when API key is missing")
	}
}

func TestAnthropicProvider_GetTemperature_Default(t *testing.T) {
	provider := newTestAnthropicProvider(t, "")
	if provider.GetTemperature() != 1.0 {
		t.Errorf("GetTemperature() = %v, want 1.0", provider.GetTemperature())
	}
}

func TestAnthropicProvider_Close(t *testing.T) {
	provider := newTestAnthropicProvider(t, "")
	if err := provider.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestAnthropicProvider_SupportsStructuredOutput(t *testing.T) {
	provider := newTestAnthropicProvider(t, "")
	if !provider.SupportsStructuredOutput() {
		t.Error("SupportsStructuredOutput() = false, want true")
	}
}

func TestAnthropicProvider_Generate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %v, want /v1/messages", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-ant-test-key" {
			t.Errorf("x-api-key header = %v, want sk-ant-test-key", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("expected anthropic-version header to be set")
		}

		var req AnthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.System == "" {
			t.Error("expected system prompt to be forwarded")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AnthropicResponse{
			ID:   "msg_123",
			Type: "message",
			Role: "assistant",
			Content: []AnthropicContent{
				{Type: "text", Text: "Hello there"},
			},
			Usage: AnthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	messages := []Message{
		{Role: "system", Content: "You are helpful."},
		{Role: "user", Content: "Hi"},
	}

	text, toolCalls, tokens, thinking, err := provider.Generate(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "Hello there" {
		t.Errorf("Generate() text = %v, want Hello there", text)
	}
	if len(toolCalls) != 0 {
		t.Errorf("Generate() toolCalls = %v, want none", toolCalls)
	}
	if tokens != 15 {
		t.Errorf("Generate() tokens = %v, want 15", tokens)
	}
	if thinking != nil {
		t.Error("Generate() thinking should be nil for Anthropic")
	}
}

func TestAnthropicProvider_Generate_WithToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		input := map[string]interface{}{"city": "Paris"}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AnthropicResponse{
			Content: []AnthropicContent{
				{Type: "tool_use", ID: "toolu_1", Name: "get_weather", Input: &input},
			},
			Usage: AnthropicUsage{InputTokens: 8, OutputTokens: 2},
		})
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	tools := []ToolDefinition{{Name: "get_weather", Description: "gets weather"}}
	_, toolCalls, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "weather?"}}, tools)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if len(toolCalls) != 1 {
		t.Fatalf("Generate() toolCalls count = %v, want 1", len(toolCalls))
	}
	if toolCalls[0].Name != "get_weather" {
		t.Errorf("toolCalls[0].Name = %v, want get_weather", toolCalls[0].Name)
	}
	if toolCalls[0].Arguments["city"] != "Paris" {
		t.Errorf("toolCalls[0].Arguments[city] = %v, want Paris", toolCalls[0].Arguments["city"])
	}
}

func TestAnthropicProvider_Generate_WithToolResult(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		found := false
		for _, m := range req.Messages {
			if m.Role == "user" {
				if blocks, ok := m.Content.([]interface{}); ok {
					for _, b := range blocks {
						if bm, ok := b.(map[string]interface{}); ok && bm["type"] == "tool_result" {
							found = true
						}
					}
				}
			}
		}
		if !found {
			t.Error("expected a tool_result content block in the request")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AnthropicResponse{
			Content: []AnthropicContent{{Type: "text", Text: "done"}},
			Usage:   AnthropicUsage{InputTokens: 1, OutputTokens: 1},
		})
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	messages := []Message{
		{Role: "user", Content: "what's the weather?"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "toolu_1", Name: "get_weather", Arguments: map[string]interface{}{"city": "Paris"}}}},
		{Role: "tool", ToolCallID: "toolu_1", Content: "Sunny, 22C"},
	}

	_, _, _, _, err := provider.Generate(context.Background(), messages, nil)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
}

func TestAnthropicProvider_Generate_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(AnthropicResponse{
			Error: &AnthropicError{Type: "invalid_request_error", Message: "bad request"},
		})
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	_, _, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Error("expected error from API error response")
	}
}

func TestAnthropicProvider_Generate_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("server error"))
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	_, _, _, _, err := provider.Generate(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err == nil {
		t.Error("expected error for non-200 response")
	}
}

func TestAnthropicProvider_GenerateStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_delta","usage":{"output_tokens":7}}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			_, _ = w.Write([]byte("data: " + ev + "\n\n"))
		}
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	ch, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var text string
	var sawDone bool
	for chunk := range ch {
		if chunk.Error != nil {
			t.Fatalf("stream returned error: %v", chunk.Error)
		}
		switch chunk.Type {
		case "text":
			text += chunk.Text
		case "done":
			sawDone = true
			if chunk.Tokens != 7 {
				t.Errorf("done tokens = %v, want 7", chunk.Tokens)
			}
		}
	}

	if text != "Hello" {
		t.Errorf("streamed text = %v, want Hello", text)
	}
	if !sawDone {
		t.Error("expected a done chunk")
	}
}

func TestAnthropicProvider_GenerateStreaming_ToolCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		events := []string{
			`{"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_weather"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"city\":"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"Paris\"}"}}`,
			`{"type":"content_block_stop","index":0}`,
			`{"type":"message_stop"}`,
		}
		for _, ev := range events {
			_, _ = w.Write([]byte("data: " + ev + "\n\n"))
		}
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	ch, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "weather?"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var gotToolCall *ToolCall
	for chunk := range ch {
		if chunk.Type == "tool_call" {
			gotToolCall = chunk.ToolCall
		}
	}

	if gotToolCall == nil {
		t.Fatal("expected a tool_call chunk")
	}
	if gotToolCall.Name != "get_weather" {
		t.Errorf("tool call name = %v, want get_weather", gotToolCall.Name)
	}
	if gotToolCall.Arguments["city"] != "Paris" {
		t.Errorf("tool call arguments[city] = %v, want Paris", gotToolCall.Arguments["city"])
	}
}

func TestAnthropicProvider_GenerateStructured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req AnthropicRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if !strings.Contains(req.System, "valid JSON") {
			t.Error("expected schema instructions in system prompt")
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(AnthropicResponse{
			Content: []AnthropicContent{{Type: "text", Text: `{"answer":"42"}`}},
			Usage:   AnthropicUsage{InputTokens: 3, OutputTokens: 4},
		})
	}))
	defer server.Close()

	provider := newTestAnthropicProvider(t, server.URL)

	structConfig := &StructuredOutputConfig{
		Schema: map[string]interface{}{"type": "object", "properties": map[string]interface{}{"answer": map[string]interface{}{"type": "string"}}},
	}

	text, _, _, _, err := provider.GenerateStructured(context.Background(), []Message{{Role: "user", Content: "what is it?"}}, nil, structConfig)
	if err != nil {
		t.Fatalf("GenerateStructured() error = %v", err)
	}
	if text != `{"answer":"42"}` {
		t.Errorf("GenerateStructured() text = %v, want JSON answer", text)
	}
}
