package llms

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/loomwork/loom/pkg/config"
)

func TestGeminiProvider_GenerateStreaming_Thinking(t *testing.T) {
	mockResponse := []GeminiResponse{
		{
			Candidates: []GeminiCandidate{
				{
					Content: GeminiContent{
						Parts: []GeminiPart{
							{"text": "I need to think about this...", "thought": true},
						},
					},
				},
			},
		},
		{
			Candidates: []GeminiCandidate{
				{
					Content: GeminiContent{
						Parts: []GeminiPart{
							{"text": "Here is the answer."},
						},
					},
				},
			},
			UsageMetadata: &GeminiUsageMetadata{TotalTokenCount: 11},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, resp := range mockResponse {
			data, _ := json.Marshal(resp)
			_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		}
	}))
	defer server.Close()

	cfg := &config.LLMProviderConfig{
		APIKey: "test-key",
		Model:  "gemini-2.0-flash-thinking-exp",
		Host:   server.URL,
	}

	provider, err := NewGeminiProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewGeminiProviderFromConfig() error = %v", err)
	}

	chunks, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "Hello"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var received []StreamChunk
	for chunk := range chunks {
		received = append(received, chunk)
	}

	if len(received) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(received))
	}

	if received[0].Type != "thinking" || received[0].Text != "I need to think about this..." {
		t.Errorf("chunk[0] = %+v, want thinking chunk with reasoning text", received[0])
	}
	if received[1].Type != "text" || received[1].Text != "Here is the answer." {
		t.Errorf("chunk[1] = %+v, want text chunk", received[1])
	}
	if received[2].Type != "done" || received[2].Tokens != 11 {
		t.Errorf("chunk[2] = %+v, want done chunk with 11 tokens", received[2])
	}
}

func TestGeminiProvider_GenerateStreaming_ThinkingAfterToolCall(t *testing.T) {
	mockResponse := []GeminiResponse{
		{
			Candidates: []GeminiCandidate{
				{
					Content: GeminiContent{
						Parts: []GeminiPart{
							{"text": "Let me check the weather in Tokyo for you.", "thought": true},
						},
					},
				},
			},
		},
		{
			Candidates: []GeminiCandidate{
				{
					Content: GeminiContent{
						Parts: []GeminiPart{
							{"functionCall": map[string]interface{}{
								"name": "get_weather",
								"args": map[string]interface{}{"location": "Tokyo"},
							}},
						},
					},
				},
			},
		},
		{
			Candidates: []GeminiCandidate{
				{
					Content: GeminiContent{
						Parts: []GeminiPart{
							{"text": "The weather in Tokyo is currently clear."},
						},
					},
				},
			},
		},
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, resp := range mockResponse {
			data, _ := json.Marshal(resp)
			_, _ = w.Write([]byte("data: " + string(data) + "\n\n"))
		}
	}))
	defer server.Close()

	cfg := &config.LLMProviderConfig{
		APIKey: "test-key",
		Model:  "gemini-2.0-flash-thinking-exp",
		Host:   server.URL,
	}

	provider, err := NewGeminiProviderFromConfig(cfg)
	if err != nil {
		t.Fatalf("NewGeminiProviderFromConfig() error = %v", err)
	}

	chunks, err := provider.GenerateStreaming(context.Background(), []Message{{Role: "user", Content: "what is the weather in tokyo"}}, nil)
	if err != nil {
		t.Fatalf("GenerateStreaming() error = %v", err)
	}

	var received []StreamChunk
	for chunk := range chunks {
		received = append(received, chunk)
	}

	if len(received) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(received))
	}

	if received[0].Type != "thinking" {
		t.Errorf("chunk[0].Type = %v, want thinking", received[0].Type)
	}
	if received[1].Type != "tool_call" || received[1].ToolCall == nil || received[1].ToolCall.Name != "get_weather" {
		t.Errorf("chunk[1] = %+v, want get_weather tool_call", received[1])
	}
	if received[2].Type != "text" || received[2].Text != "The weather in Tokyo is currently clear." {
		t.Errorf("chunk[2] = %+v, want text chunk", received[2])
	}
	if received[3].Type != "done" {
		t.Errorf("chunk[3].Type = %v, want done", received[3].Type)
	}
}
