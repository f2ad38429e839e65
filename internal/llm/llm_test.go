package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hyperjump/kaiwa/internal/config"
	"github.com/hyperjump/kaiwa/internal/models"
)

func conversation() []Message {
	return []Message{
		{Role: models.RoleSystem, Content: "Answer from context."},
		{Role: models.RoleUser, Content: "What is Alpha?"},
		{Role: models.RoleAssistant, Content: "A letter."},
		{Role: models.RoleUser, Content: "And Beta?"},
	}
}

func TestOpenAI_Chat(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"The second letter."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	g, err := NewOpenAI(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "gpt-test"})
	if err != nil {
		t.Fatal(err)
	}
	answer, err := g.Chat(context.Background(), conversation(), Options{Temperature: 0.2, MaxTokens: 50})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "The second letter." {
		t.Errorf("answer = %q", answer)
	}
	if got.Model != "gpt-test" || len(got.Messages) != 4 || got.Messages[0].Role != models.RoleSystem {
		t.Errorf("request = %+v", got)
	}
	if got.MaxTokens != 50 || got.Temperature != 0.2 {
		t.Errorf("options not sent: %+v", got)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()
	g, _ := NewOpenAI(Config{BaseURL: srv.URL, APIKey: "k"})
	if _, err := g.Chat(context.Background(), conversation(), Options{}); err == nil {
		t.Error("expected error for empty choices")
	}
}

func TestOpenAI_RequiresKey(t *testing.T) {
	if _, err := NewOpenAI(Config{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestAnthropic_Chat(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "ak" || r.Header.Get("anthropic-version") != anthropicVersion {
			t.Errorf("headers = %v", r.Header)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"Beta "},{"type":"text","text":"follows Alpha."}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	g, err := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "ak"})
	if err != nil {
		t.Fatal(err)
	}
	answer, err := g.Chat(context.Background(), conversation(), Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "Beta follows Alpha." {
		t.Errorf("answer = %q", answer)
	}
	if got.System != "Answer from context." || len(got.Messages) != 3 {
		t.Errorf("system message not split out: %+v", got)
	}
	if got.MaxTokens != anthropicMaxTokens || got.Model != DefaultAnthropicModel {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestAnthropic_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"bad"}}`))
	}))
	defer srv.Close()
	g, _ := NewAnthropic(Config{BaseURL: srv.URL, APIKey: "ak"})
	_, err := g.Chat(context.Background(), conversation(), Options{})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Errorf("err = %v", err)
	}
}

func TestOllama_Chat(t *testing.T) {
	var got ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"local answer"},"done":true}`))
	}))
	defer srv.Close()

	g := NewOllama(Config{BaseURL: srv.URL})
	answer, err := g.Chat(context.Background(), conversation(), Options{MaxTokens: 10})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if answer != "local answer" {
		t.Errorf("answer = %q", answer)
	}
	if got.Stream || got.Model != DefaultOllamaModel || got.Options == nil || got.Options.NumPredict != 10 {
		t.Errorf("request = %+v", got)
	}
}

func TestEcho(t *testing.T) {
	passages := []models.ScoredChunk{
		{Chunk: models.Chunk{Text: "Alpha Beta.", DocumentName: "notes.txt"}},
		{Chunk: models.Chunk{Text: "Gamma Delta."}},
	}
	msgs := []Message{
		{Role: models.RoleSystem, Content: SystemPrompt("Use the context.", passages)},
		{Role: models.RoleUser, Content: "What is Alpha?"},
	}
	answer, err := Echo{}.Chat(context.Background(), msgs, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if answer != "Alpha Beta." {
		t.Errorf("answer = %q", answer)
	}

	msgs[0].Content = SystemPrompt("Use the context.", nil)
	if answer, _ := (Echo{}).Chat(context.Background(), msgs, Options{}); answer != echoNoContext {
		t.Errorf("answer without passages = %q", answer)
	}

	rewrite := []Message{
		{Role: models.RoleSystem, Content: "Rewrite the question."},
		{Role: models.RoleUser, Content: "What is Alpha?"},
		{Role: models.RoleAssistant, Content: "A letter."},
		{Role: models.RoleUser, Content: "And Beta?"},
	}
	if answer, _ := (Echo{}).Chat(context.Background(), rewrite, Options{}); answer != "And Beta?" {
		t.Errorf("answer without context block = %q", answer)
	}
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("  Be brief. ", []models.ScoredChunk{
		{Chunk: models.Chunk{Text: " first ", DocumentName: "a.pdf"}},
		{Chunk: models.Chunk{Text: "second"}},
	})
	want := "Be brief.\n\nContext:\n[1] (a.pdf) first\n\n[2] second"
	if got != want {
		t.Errorf("SystemPrompt =\n%q\nwant\n%q", got, want)
	}
}

func TestNew(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "secret")
	tests := []struct {
		provider string
		model    string
		wantErr  bool
	}{
		{"echo", "echo", false},
		{"ollama", DefaultOllamaModel, false},
		{"openai", DefaultOpenAIModel, false},
		{"anthropic", DefaultAnthropicModel, false},
		{"bard", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			g, err := New(&config.GenerationConfig{Provider: tt.provider, APIKeyEnv: "TEST_LLM_KEY"}, nil)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			if g.Model() != tt.model {
				t.Errorf("Model() = %q, want %q", g.Model(), tt.model)
			}
		})
	}
}
