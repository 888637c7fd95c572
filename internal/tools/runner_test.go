package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/sable-ai/sable/internal/llm"
)

func testRunner(r *Registry) *Runner {
	return NewRunner(r, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestExecuteSuccess(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "echo",
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	})

	res := testRunner(reg).Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "echo", Arguments: map[string]any{"text": "hello"},
	}, time.Second)

	if !res.Success || res.Content != "hello" {
		t.Errorf("result = %+v, want success with hello", res)
	}
	if res.CallID != "c1" {
		t.Errorf("CallID = %q, want c1", res.CallID)
	}
}

func TestExecuteHandlerError(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "broken",
		Handler: func(context.Context, map[string]any) (string, error) {
			return "", errors.New("backend offline")
		},
	})

	res := testRunner(reg).Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "broken",
	}, time.Second)

	if res.Success {
		t.Fatal("expected failure")
	}
	if res.Error != "backend offline" {
		t.Errorf("Error = %q", res.Error)
	}
}

func TestExecutePanickingHandler(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "bomb",
		Handler: func(context.Context, map[string]any) (string, error) {
			panic("tool exploded")
		},
	})

	res := testRunner(reg).Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "bomb",
	}, time.Second)

	if res.Success {
		t.Fatal("expected failure from panicking handler")
	}
	if !strings.Contains(res.Error, "tool exploded") {
		t.Errorf("Error = %q, want it to carry the panic value", res.Error)
	}
	if res.CallID != "c1" {
		t.Errorf("CallID = %q, want c1", res.CallID)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	res := testRunner(NewRegistry()).Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "nope",
	}, time.Second)

	if res.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(res.Error, "nope") {
		t.Errorf("Error = %q, want it to name the tool", res.Error)
	}
}

func TestExecuteTimeout(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{
		Name: "slow",
		Handler: func(ctx context.Context, _ map[string]any) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})

	start := time.Now()
	res := testRunner(reg).Execute(context.Background(), llm.ToolCall{
		ID: "c1", Name: "slow",
	}, 50*time.Millisecond)
	elapsed := time.Since(start)

	if res.Success {
		t.Fatal("expected timeout failure")
	}
	if !strings.Contains(res.Error, "timed out") {
		t.Errorf("Error = %q, want timeout message", res.Error)
	}
	if elapsed > 2*time.Second {
		t.Errorf("Execute took %s, timeout not enforced", elapsed)
	}
}

func TestDefinitionsSorted(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		reg.Register(&Tool{Name: name, Description: name + " tool"})
	}

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions, want 3", len(defs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("definition %d = %s, want %s", i, d.Name, want[i])
		}
	}
}

func TestRenderListsTools(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{Name: "recall", Description: "Search long-term memory"})

	got := reg.Render()
	if got != "- recall: Search long-term memory" {
		t.Errorf("Render() = %q", got)
	}
}

func TestRegisterReplaces(t *testing.T) {
	reg := NewRegistry()
	reg.Register(&Tool{Name: "x", Description: "old"})
	reg.Register(&Tool{Name: "x", Description: "new"})

	if got := reg.Get("x").Description; got != "new" {
		t.Errorf("Description = %q, want new", got)
	}
}
