package tool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRegistry_Select(t *testing.T) {
	search := &MockTool{ToolName: "search"}
	fetch := NewHTTPTool()
	r := NewRegistry(search, fetch)

	tools, err := r.Select([]string{"http_request", "search"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 || tools[0].Name() != "http_request" || tools[1].Name() != "search" {
		t.Errorf("Select order not preserved: %v", tools)
	}

	if _, err := r.Select([]string{"missing"}); err == nil {
		t.Error("expected error for unknown tool")
	}

	r.Register(&MockTool{ToolName: "calc"})
	if got := fmt.Sprint(r.Names()); got != "[calc http_request search]" {
		t.Errorf("Names = %s", got)
	}
}

func TestSpecOf(t *testing.T) {
	spec := SpecOf(NewHTTPTool())
	if spec.Name != "http_request" || spec.Description == "" || spec.Schema == nil {
		t.Errorf("spec = %+v", spec)
	}

	bare := SpecOf(&MockTool{ToolName: "bare"})
	if bare.Name != "bare" || bare.Schema != nil {
		t.Errorf("bare spec = %+v", bare)
	}
}

func TestFunc(t *testing.T) {
	f := &Func{
		ToolName: "echo",
		Desc:     "echo input",
		Fn: func(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"echo": input["v"]}, nil
		},
	}
	out, err := f.Call(context.Background(), map[string]interface{}{"v": 1})
	if err != nil || out["echo"] != 1 {
		t.Fatalf("out = %v err = %v", out, err)
	}
	if Specs([]Tool{f})[0].Description != "echo input" {
		t.Error("description not propagated")
	}
}

func TestMockTool(t *testing.T) {
	m := &MockTool{ToolName: "x", Responses: []map[string]interface{}{{"n": 1}, {"n": 2}}}
	ctx := context.Background()
	for _, want := range []int{1, 2, 2} {
		out, err := m.Call(ctx, nil)
		if err != nil || out["n"] != want {
			t.Fatalf("out = %v, want n=%d", out, want)
		}
	}
	if m.CallCount() != 3 {
		t.Errorf("CallCount = %d", m.CallCount())
	}

	boom := errors.New("boom")
	failing := &MockTool{ToolName: "y", Err: boom}
	if _, err := failing.Call(ctx, nil); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestHTTPTool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Test", "yes")
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		fmt.Fprint(w, strings.Repeat("a", 100))
	}))
	defer srv.Close()

	h := NewHTTPTool()
	ctx := context.Background()

	t.Run("get", func(t *testing.T) {
		out, err := h.Call(ctx, map[string]interface{}{"url": srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if out["status_code"] != http.StatusOK || out["truncated"] != false {
			t.Errorf("out = %v", out)
		}
		if out["headers"].(map[string]interface{})["X-Test"] != "yes" {
			t.Errorf("headers = %v", out["headers"])
		}
	})

	t.Run("post", func(t *testing.T) {
		out, err := h.Call(ctx, map[string]interface{}{"url": srv.URL, "method": "post", "body": "x"})
		if err != nil || out["status_code"] != http.StatusCreated {
			t.Fatalf("out = %v err = %v", out, err)
		}
	})

	t.Run("truncates body", func(t *testing.T) {
		small := &HTTPTool{client: http.DefaultClient, maxBodyBytes: 10}
		out, err := small.Call(ctx, map[string]interface{}{"url": srv.URL})
		if err != nil {
			t.Fatal(err)
		}
		if out["body"] != strings.Repeat("a", 10) || out["truncated"] != true {
			t.Errorf("out = %v", out)
		}
	})

	t.Run("input errors", func(t *testing.T) {
		if _, err := h.Call(ctx, map[string]interface{}{}); err == nil {
			t.Error("expected missing url error")
		}
		if _, err := h.Call(ctx, map[string]interface{}{"url": srv.URL, "method": "DELETE"}); err == nil {
			t.Error("expected unsupported method error")
		}
	})
}
