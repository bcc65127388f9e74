package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// ---------------------------------------------------------------------------
// Score
// ---------------------------------------------------------------------------

func TestServingScore(t *testing.T) {
	var (
		gotMethod string
		gotPath   string
		gotReq    scoreRequest
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(scoreResponse{Score: 0.87})
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	defer s.Close()

	score, err := s.Score(context.Background(), "The wall shows a severe crack.", taxonomy.CategoryStructural)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.87 {
		t.Errorf("score = %v, want 0.87", score)
	}
	if gotMethod != http.MethodPost {
		t.Errorf("method = %s, want POST", gotMethod)
	}
	if gotPath != "/v1/score" {
		t.Errorf("path = %s, want /v1/score", gotPath)
	}
	if gotReq.Sentence != "The wall shows a severe crack." {
		t.Errorf("request sentence = %q", gotReq.Sentence)
	}
	if gotReq.Category != "Structural" {
		t.Errorf("request category = %q, want Structural", gotReq.Category)
	}
}

func TestServingScoreServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	_, err = s.Score(context.Background(), "text", taxonomy.CategoryPlumbing)
	if !errors.IsCode(err, errors.ErrCodeClassifierInferenceFailed) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierInferenceFailed)
	}
}

func TestServingScoreMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	_, err = s.Score(context.Background(), "text", taxonomy.CategoryElectrical)
	if !errors.IsCode(err, errors.ErrCodeClassifierBadResponse) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierBadResponse)
	}
}

func TestServingScoreOutOfRange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(scoreResponse{Score: 1.5})
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	_, err = s.Score(context.Background(), "text", taxonomy.CategoryElectrical)
	if !errors.IsCode(err, errors.ErrCodeClassifierBadResponse) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierBadResponse)
	}
}

func TestServingScoreUnreachable(t *testing.T) {
	s, err := NewServing("http://127.0.0.1:1", 100*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	_, err = s.Score(context.Background(), "text", taxonomy.CategoryStructural)
	if !errors.IsCode(err, errors.ErrCodeClassifierInferenceFailed) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierInferenceFailed)
	}
}

// ---------------------------------------------------------------------------
// Health and construction
// ---------------------------------------------------------------------------

func TestServingHealthy(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	if !s.Healthy(context.Background()) {
		t.Error("Healthy = false, want true")
	}
	if gotPath != "/healthz" {
		t.Errorf("health path = %s, want /healthz", gotPath)
	}
}

func TestServingUnhealthy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	s, err := NewServing(server.URL, time.Second, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	if s.Healthy(context.Background()) {
		t.Error("Healthy = true, want false")
	}
}

func TestNewServingRequiresAddress(t *testing.T) {
	if _, err := NewServing("   ", time.Second, nil); err == nil {
		t.Fatal("NewServing accepted an empty address")
	}
}

func TestNewServingNormalizesAddress(t *testing.T) {
	s, err := NewServing("scoring.internal:9000/", 0, nil)
	if err != nil {
		t.Fatalf("NewServing: %v", err)
	}
	if s.baseURL != "http://scoring.internal:9000" {
		t.Errorf("baseURL = %q, want http://scoring.internal:9000", s.baseURL)
	}
}
