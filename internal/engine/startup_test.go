package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	running bool
}

func (m *mockEngine) Chat(context.Context, string, []Message, *Schema) (string, error) { return "", nil }
func (m *mockEngine) Embed(context.Context, string, string) ([]float32, error)        { return nil, nil }
func (m *mockEngine) IsRunning(context.Context) bool                                  { return m.running }

type mockLocalEngine struct {
	mockEngine
	models map[string]bool
	pulled []string
}

func (m *mockLocalEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockLocalEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

func TestEnsureReady_PullsOnlyMissing(t *testing.T) {
	m := &mockLocalEngine{
		mockEngine: mockEngine{running: true},
		models:     map[string]bool{"llama3.2": true},
	}
	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, &out, "llama3.2", "nomic-embed-text", "nomic-embed-text"); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "nomic-embed-text" {
		t.Errorf("pulled = %v, want [nomic-embed-text]", m.pulled)
	}
	if !strings.Contains(out.String(), "model llama3.2: ready") {
		t.Errorf("output missing ready line: %q", out.String())
	}
}

func TestEnsureReady_RemoteEngineSkipsModels(t *testing.T) {
	if err := EnsureReady(context.Background(), &mockEngine{running: true}, io.Discard, "gpt-4o-mini"); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	if err := EnsureReady(context.Background(), &mockEngine{}, io.Discard, "llama3.2"); err == nil {
		t.Fatal("expected error when engine is down")
	}
}
