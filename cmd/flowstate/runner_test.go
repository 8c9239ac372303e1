package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/flowstate/internal/script"
	"github.com/dshills/flowstate/internal/store"
)

func newRunner(t *testing.T, scripts map[string]string) (*runner, *bytes.Buffer) {
	t.Helper()
	registry := store.New()
	loader := script.NewLoader()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Close(ctx)
		_ = loader.Close()
	})

	for name, src := range scripts {
		m, err := loader.LoadString(name, src)
		if err != nil {
			t.Fatalf("LoadString(%s): %v", name, err)
		}
		h, err := m.Register(registry)
		if err != nil {
			t.Fatalf("Register: %v", err)
		}
		if err := h.Enable(); err != nil {
			t.Fatalf("Enable: %v", err)
		}
	}

	var out bytes.Buffer
	return &runner{
		registry:     registry,
		loader:       loader,
		out:          &out,
		flushTimeout: 2 * time.Second,
		logger:       zerolog.Nop(),
	}, &out
}

func decode(t *testing.T, buf *bytes.Buffer) []output {
	t.Helper()
	var outs []output
	dec := json.NewDecoder(buf)
	for dec.More() {
		var o output
		if err := dec.Decode(&o); err != nil {
			t.Fatalf("decode: %v", err)
		}
		outs = append(outs, o)
	}
	return outs
}

const counter = `
initial({count = 0})
on("add", function(state, n) state.count = state.count + (n or 1) end)
effect("double", function(n) return {type = "add", payload = n * 2} end)
`

func TestRunnerDispatch(t *testing.T) {
	r, buf := newRunner(t, map[string]string{"counter": counter})

	input := strings.Join([]string{
		"# comment",
		"",
		"counter add",
		"counter   add   4",
		"counter double 3",
		"\tstate  counter ",
	}, "\n")
	if err := r.run(context.Background(), strings.NewReader(input)); err != nil {
		t.Fatalf("run: %v", err)
	}

	outs := decode(t, buf)
	want := []float64{1, 5, 11, 11}
	if len(outs) != len(want) {
		t.Fatalf("got %d outputs, want %d: %+v", len(outs), len(want), outs)
	}
	for i, o := range outs {
		if o.Error != "" {
			t.Errorf("output %d error: %s", i, o.Error)
			continue
		}
		state, ok := o.State.(map[string]any)
		if !ok {
			t.Fatalf("output %d state = %#v", i, o.State)
		}
		if state["count"] != want[i] {
			t.Errorf("output %d count = %v, want %v", i, state["count"], want[i])
		}
	}
	if outs[0].Action != "counter/add" {
		t.Errorf("action = %q, want counter/add", outs[0].Action)
	}
}

func TestRunnerRejects(t *testing.T) {
	r, _ := newRunner(t, map[string]string{"counter": counter})

	tests := []struct {
		name string
		line string
		want string
	}{
		{name: "one field", line: "counter", want: errUsage.Error()},
		{name: "unknown module", line: "nope add", want: "unknown module"},
		{name: "lifecycle", line: "counter $init", want: errReservedAction.Error()},
		{name: "bad payload", line: "counter add {", want: "payload"},
		{name: "unknown state", line: "state nope", want: "unknown module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := r.line(context.Background(), tt.line)
			if !strings.Contains(out.Error, tt.want) {
				t.Errorf("line(%q) error = %q, want it to contain %q", tt.line, out.Error, tt.want)
			}
		})
	}
}

func TestSplitLine(t *testing.T) {
	tests := []struct {
		line string
		want []string
	}{
		{line: "counter add", want: []string{"counter", "add"}},
		{line: "counter  add", want: []string{"counter", "add"}},
		{line: " state\tcounter ", want: []string{"state", "counter"}},
		{line: `todos add {"title": "a  b"}`, want: []string{"todos", "add", `{"title": "a  b"}`}},
		{line: "counter", want: []string{"counter"}},
		{line: "   ", want: nil},
	}
	for _, tt := range tests {
		got := splitLine(tt.line)
		if len(got) != len(tt.want) {
			t.Errorf("splitLine(%q) = %q, want %q", tt.line, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("splitLine(%q)[%d] = %q, want %q", tt.line, i, got[i], tt.want[i])
			}
		}
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	r, _ := newRunner(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pr, pw := newBlockingReader()
	defer pw()
	if err := r.run(ctx, pr); err != context.Canceled {
		t.Errorf("run = %v, want context.Canceled", err)
	}
}

type blockingReader struct {
	done chan struct{}
}

func newBlockingReader() (*blockingReader, func()) {
	b := &blockingReader{done: make(chan struct{})}
	return b, func() { close(b.done) }
}

func (b *blockingReader) Read([]byte) (int, error) {
	<-b.done
	return 0, context.Canceled
}
