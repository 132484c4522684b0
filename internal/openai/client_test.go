package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/quicklingo/quicklingo/internal/config"
	"github.com/quicklingo/quicklingo/internal/database"
	"github.com/quicklingo/quicklingo/internal/openai"
)

func TestCost(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		model        string
		inputTokens  int
		outputTokens int
		want         float64
	}{
		{"gpt-4o", "gpt-4o", 100, 50, 0.00125},
		{"gpt-4o-mini", "gpt-4o-mini", 100, 50, 0.000045},
		{"gpt-3.5-turbo", "gpt-3.5-turbo", 1000, 1000, 0.002},
		{"zero usage", "gpt-4o", 0, 0, 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rate, ok := openai.CostPerToken[tc.model]
			if !ok {
				t.Fatalf("no rate for model %q", tc.model)
			}
			if got := openai.Cost(rate, tc.inputTokens, tc.outputTokens); got != tc.want {
				t.Errorf("Cost(%s, %d, %d) = %v, want %v", tc.model, tc.inputTokens, tc.outputTokens, got, tc.want)
			}
		})
	}
}

func TestNewClientRejectsUnknownModel(t *testing.T) {
	t.Parallel()

	_, err := openai.NewClient(config.OpenAIConfig{
		APIKey:  "test-key",
		Model:   "gpt-experimental",
		Timeout: time.Minute,
	}, nil)
	if err == nil {
		t.Fatal("NewClient() expected an error for a model without a cost rate")
	}
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := openai.NewClient(config.OpenAIConfig{Model: "gpt-4o-mini", Timeout: time.Minute}, nil)
	if err == nil {
		t.Fatal("NewClient() expected an error for a missing API key")
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *openai.Client {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := openai.NewClient(config.OpenAIConfig{
		APIKey:          "test-key",
		BaseURL:         srv.URL,
		Model:           "gpt-4o-mini",
		Persona:         "You are a language teacher.",
		MaxOutputTokens: 1500,
		Timeout:         5 * time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}
	return client
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "Salam means hello."}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 100, "completion_tokens": 50, "total_tokens": 150}
		}`))
	})

	history := []database.Message{
		{Role: database.RoleUser, Text: "What does salam mean?"},
		{Role: database.RoleAssistant, Text: "It is a greeting."},
	}
	reply, err := client.Generate(context.Background(), history, "Say it in a sentence.")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}

	if reply.Text != "Salam means hello." {
		t.Errorf("reply text = %q", reply.Text)
	}
	if reply.InputTokens != 100 || reply.OutputTokens != 50 {
		t.Errorf("token usage = (%d, %d), want (100, 50)", reply.InputTokens, reply.OutputTokens)
	}
	want := openai.Cost(openai.CostPerToken["gpt-4o-mini"], 100, 50)
	if reply.Cost != want {
		t.Errorf("cost = %v, want %v", reply.Cost, want)
	}
}

func TestGenerateErrorTaxonomy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "provider error payload",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error": {"message": "rate limit exceeded", "type": "requests"}}`))
			},
			want: openai.ErrProvider,
		},
		{
			name: "unparseable error body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
				_, _ = w.Write([]byte("<html>bad gateway</html>"))
			},
			want: openai.ErrParse,
		},
		{
			name: "truncated success body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"choices": [{`))
			},
			want: openai.ErrParse,
		},
		{
			name: "non-JSON success body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte("not json at all"))
			},
			want: openai.ErrParse,
		},
		{
			name: "empty choices",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id": "chatcmpl-1", "object": "chat.completion", "choices": [], "usage": {}}`))
			},
			want: openai.ErrParse,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			client := newTestClient(t, tc.handler)
			_, err := client.Generate(context.Background(), nil, "hello")
			if !errors.Is(err, tc.want) {
				t.Errorf("Generate() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestGenerateUnreachableProvider(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	baseURL := srv.URL
	srv.Close() // nothing listens here anymore

	client, err := openai.NewClient(config.OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: baseURL,
		Model:   "gpt-4o-mini",
		Timeout: time.Second,
	}, nil)
	if err != nil {
		t.Fatalf("NewClient() failed: %v", err)
	}

	_, err = client.Generate(context.Background(), nil, "hello")
	if !errors.Is(err, openai.ErrUnavailable) {
		t.Errorf("Generate() error = %v, want ErrUnavailable", err)
	}
}
