package classifier

import (
	"context"
	"testing"
	"time"

	"github.com/defectwise/defectwise/internal/intelligence/taxonomy"
	"github.com/defectwise/defectwise/pkg/errors"
)

// ---------------------------------------------------------------------------
// Noop provider
// ---------------------------------------------------------------------------

func TestNoopScoreIsUnavailable(t *testing.T) {
	n := NewNoop()
	_, err := n.Score(context.Background(), "text", taxonomy.CategoryStructural)
	if !errors.IsCode(err, errors.ErrCodeClassifierUnavailable) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierUnavailable)
	}
}

func TestNoopIsAlwaysHealthy(t *testing.T) {
	n := NewNoop()
	if !n.Healthy(context.Background()) {
		t.Error("Healthy = false, want true")
	}
	if n.Name() != "noop" {
		t.Errorf("Name = %q, want noop", n.Name())
	}
	if err := n.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Factory
// ---------------------------------------------------------------------------

func TestFactoryDefaultsToNoop(t *testing.T) {
	cls, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := cls.(*Noop); !ok {
		t.Errorf("provider = %T, want *Noop", cls)
	}
}

func TestFactoryProviderNameIsCaseInsensitive(t *testing.T) {
	cls, err := New(Options{Provider: " NOOP "})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := cls.(*Noop); !ok {
		t.Errorf("provider = %T, want *Noop", cls)
	}
}

func TestFactoryBuildsServing(t *testing.T) {
	cls, err := New(Options{Provider: "serving", ServingAddr: "localhost:9000"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer cls.Close()
	if _, ok := cls.(*Serving); !ok {
		t.Errorf("provider = %T, want *Serving", cls)
	}
	if cls.Name() != "serving" {
		t.Errorf("Name = %q, want serving", cls.Name())
	}
}

func TestFactoryServingRequiresAddress(t *testing.T) {
	if _, err := New(Options{Provider: "serving"}); err == nil {
		t.Fatal("New accepted a serving provider without an address")
	}
}

func TestFactoryBuildsOpenAI(t *testing.T) {
	cls, err := New(Options{Provider: "openai", OpenAIKey: "test-key"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := cls.(*OpenAI); !ok {
		t.Errorf("provider = %T, want *OpenAI", cls)
	}
}

func TestFactoryOpenAIRequiresKey(t *testing.T) {
	if _, err := New(Options{Provider: "openai"}); err == nil {
		t.Fatal("New accepted an openai provider without a key")
	}
}

func TestFactoryUnknownProvider(t *testing.T) {
	_, err := New(Options{Provider: "bert"})
	if !errors.IsCode(err, errors.ErrCodeClassifierProviderUnknown) {
		t.Errorf("error = %v, want code %s", err, errors.ErrCodeClassifierProviderUnknown)
	}
}

func TestFactoryWrapsWithCache(t *testing.T) {
	cls, err := New(Options{Provider: "noop", CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := cls.(*Cached); !ok {
		t.Errorf("provider = %T, want *Cached", cls)
	}
	if cls.Name() != "noop" {
		t.Errorf("Name = %q, want noop (cache must delegate)", cls.Name())
	}
}
