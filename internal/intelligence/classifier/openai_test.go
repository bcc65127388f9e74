package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// newChatServer fakes the chat-completion endpoint, always answering with
// the given message content.
func newChatServer(t *testing.T, content string, capture *openai.ChatCompletionRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s, want /chat/completions", r.URL.Path)
		}
		if capture != nil {
			if err := json.NewDecoder(r.Body).Decode(capture); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		resp := openai.ChatCompletionResponse{
			ID:    "chatcmpl-test",
			Model: defaultOpenAIModel,
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{
					Role:    openai.ChatMessageRoleAssistant,
					Content: content,
				}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func newTestOpenAI(t *testing.T, baseURL string) *OpenAI {
	t.Helper()
	o, err := NewOpenAI("test-key", baseURL, "", time.Second)
	if err != nil {
		t.Fatalf("NewOpenAI: %v", err)
	}
	return o
}

// ---------------------------------------------------------------------------
// Score
// ---------------------------------------------------------------------------

func TestOpenAIScore(t *testing.T) {
	var gotReq openai.ChatCompletionRequest
	server := newChatServer(t, "0.85", &gotReq)
	defer server.Close()

	o := newTestOpenAI(t, server.URL)
	score, err := o.Score(context.Background(), "Rising damp was found in the hallway.", taxonomy.CategoryMoistureDamp)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.85 {
		t.Errorf("score = %v, want 0.85", score)
	}
	if gotReq.Model != defaultOpenAIModel {
		t.Errorf("model = %q, want %q", gotReq.Model, defaultOpenAIModel)
	}
	if len(gotReq.Messages) != 2 {
		t.Fatalf("got %d messages, want 2", len(gotReq.Messages))
	}
	user := gotReq.Messages[1].Content
	if !strings.Contains(user, "Rising damp was found in the hallway.") {
		t.Errorf("user prompt %q does not carry the sentence", user)
	}
	if !strings.Contains(user, "Moisture & Damp") {
		t.Errorf("user prompt %q does not carry the category", user)
	}
}

func TestOpenAIScoreUnparseableReply(t *testing.T) {
	server := newChatServer(t, "quite likely a defect", nil)
	defer server.Close()

	o := newTestOpenAI(t, server.URL)
	_, err := o.Score(context.Background(), "text", taxonomy.CategoryMoldFungus)
	if !errors.IsCode(err, errors.ErrCodeClassifierBadResponse) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierBadResponse)
	}
}

func TestOpenAIScoreAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"message":"model overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	o := newTestOpenAI(t, server.URL)
	_, err := o.Score(context.Background(), "text", taxonomy.CategoryStructural)
	if !errors.IsCode(err, errors.ErrCodeClassifierInferenceFailed) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierInferenceFailed)
	}
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	if _, err := NewOpenAI("  ", "", "", 0); err == nil {
		t.Fatal("NewOpenAI accepted an empty api key")
	}
}

// ---------------------------------------------------------------------------
// Reply parsing
// ---------------------------------------------------------------------------

func TestParseScore(t *testing.T) {
	valid := []struct {
		in   string
		want float64
	}{
		{"0.85", 0.85},
		{" 0.9\n", 0.9},
		{"0.85.", 0.85},
		{"1", 1},
		{"0", 0},
		{".5", 0.5},
	}
	for _, tc := range valid {
		got, err := parseScore(tc.in)
		if err != nil {
			t.Errorf("parseScore(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseScore(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	invalid := []string{"", "high", "1.5", "-0.1", "0.6 maybe"}
	for _, in := range invalid {
		if _, err := parseScore(in); !errors.IsCode(err, errors.ErrCodeClassifierBadResponse) {
			t.Errorf("parseScore(%q) error = %v, want code %s", in, err, errors.ErrCodeClassifierBadResponse)
		}
	}
}

// ---------------------------------------------------------------------------
// Health
// ---------------------------------------------------------------------------

func TestOpenAIHealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/models" {
			t.Errorf("path = %s, want /models", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openai.ModelsList{})
	}))
	defer server.Close()

	o := newTestOpenAI(t, server.URL)
	if !o.Healthy(context.Background()) {
		t.Error("Healthy = false, want true")
	}
}

func TestOpenAIUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	o := newTestOpenAI(t, server.URL)
	if o.Healthy(context.Background()) {
		t.Error("Healthy = true, want false")
	}
}
