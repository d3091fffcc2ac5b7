package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// pump decodes outbound requests so tests can act as the host side.
func decodeOutbound(t *testing.T, raw json.RawMessage) (id, method string, params map[string]any) {
	t.Helper()
	var msg struct {
		ID     string         `json:"id"`
		Method string         `json:"method"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal outbound: %v", err)
	}
	return msg.ID, msg.Method, msg.Params
}

func respond(t *testing.T, in chan<- json.RawMessage, id string, result any) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{"id": id, "result": result})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	in <- payload
}

func TestCallRoundTrip(t *testing.T) {
	out := make(chan json.RawMessage, 4)
	in := make(chan json.RawMessage, 4)
	b := New(out, in, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	done := make(chan Outcome, 1)
	go func() {
		done <- b.Call(ctx, "fetch_url", map[string]any{"url": "https://example.com"}, time.Second)
	}()

	raw := <-out
	id, method, params := decodeOutbound(t, raw)
	if method != MethodNativeTool {
		t.Fatalf("method = %q, want %q", method, MethodNativeTool)
	}
	if params["tool"] != "fetch_url" {
		t.Fatalf("tool = %v, want fetch_url", params["tool"])
	}
	respond(t, in, id, "hello")

	outcome := <-done
	if outcome.Status != StatusOK {
		t.Fatalf("status = %v, want ok", outcome.Status)
	}
	var result string
	if err := json.Unmarshal(outcome.Result, &result); err != nil || result != "hello" {
		t.Fatalf("result = %s (err %v), want \"hello\"", outcome.Result, err)
	}
}

func TestCallHostErrorIsDistinctFromTimeout(t *testing.T) {
	out := make(chan json.RawMessage, 4)
	in := make(chan json.RawMessage, 4)
	b := New(out, in, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	done := make(chan Outcome, 1)
	go func() {
		done <- b.Call(ctx, "read_file", nil, time.Second)
	}()

	raw := <-out
	id, _, _ := decodeOutbound(t, raw)
	payload, _ := json.Marshal(map[string]any{
		"id":    id,
		"error": map[string]any{"message": "no such file", "code": 404},
	})
	in <- payload

	outcome := <-done
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", outcome.Status)
	}
	if outcome.Err == nil || outcome.Err.Code != 404 || outcome.Err.Message != "no such file" {
		t.Fatalf("unexpected host error: %+v", outcome.Err)
	}
}

func TestCallTimeoutCleansUpAndLaterCallsStillWork(t *testing.T) {
	out := make(chan json.RawMessage, 4)
	in := make(chan json.RawMessage, 4)
	b := New(out, in, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	outcome := b.Call(ctx, "slow_tool", nil, 50*time.Millisecond)
	if outcome.Status != StatusTimedOut {
		t.Fatalf("status = %v, want timed out", outcome.Status)
	}
	if got := b.Outstanding(); got != 0 {
		t.Fatalf("outstanding after timeout = %d, want 0", got)
	}

	// Drain the timed-out request and deliver its response late: it must be
	// silently ignored and must not disturb a subsequent unrelated call.
	raw := <-out
	lateID, _, _ := decodeOutbound(t, raw)
	respond(t, in, lateID, "too late")

	done := make(chan Outcome, 1)
	go func() {
		done <- b.Call(ctx, "fast_tool", nil, time.Second)
	}()
	raw = <-out
	id, _, _ := decodeOutbound(t, raw)
	if id == lateID {
		t.Fatal("correlation id reused")
	}
	respond(t, in, id, "fresh")

	got := <-done
	if got.Status != StatusOK {
		t.Fatalf("status = %v, want ok", got.Status)
	}
	var result string
	if err := json.Unmarshal(got.Result, &result); err != nil || result != "fresh" {
		t.Fatalf("result = %s, want \"fresh\"", got.Result)
	}
}

func TestConcurrentCallsDoNotCrossTalk(t *testing.T) {
	const callers = 8
	out := make(chan json.RawMessage, callers)
	in := make(chan json.RawMessage, callers)
	b := New(out, in, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b.Start(ctx)

	// Host side: echo each call's args back as the result, out of order.
	go func() {
		var batch []json.RawMessage
		for i := 0; i < callers; i++ {
			batch = append(batch, <-out)
		}
		for i := len(batch) - 1; i >= 0; i-- {
			var msg struct {
				ID     string `json:"id"`
				Params struct {
					Args map[string]any `json:"args"`
				} `json:"params"`
			}
			if err := json.Unmarshal(batch[i], &msg); err != nil {
				continue
			}
			payload, _ := json.Marshal(map[string]any{"id": msg.ID, "result": msg.Params.Args["n"]})
			in <- payload
		}
	}()

	var wg sync.WaitGroup
	results := make([]Outcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n] = b.Call(ctx, "echo", map[string]any{"n": n}, 5*time.Second)
		}(i)
	}
	wg.Wait()

	for i, outcome := range results {
		if outcome.Status != StatusOK {
			t.Fatalf("call %d: status = %v", i, outcome.Status)
		}
		var n float64
		if err := json.Unmarshal(outcome.Result, &n); err != nil || int(n) != i {
			t.Fatalf("call %d: result = %s, want %d", i, outcome.Result, i)
		}
	}
}

func TestLogCarriesNoID(t *testing.T) {
	out := make(chan json.RawMessage, 1)
	in := make(chan json.RawMessage)
	b := New(out, in, nil)

	progress := 0.5
	b.Log("info", "working", &progress)

	raw := <-out
	var msg map[string]any
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	if _, hasID := msg["id"]; hasID {
		t.Fatal("log message must not carry an id")
	}
	if msg["method"] != MethodLog {
		t.Fatalf("method = %v, want %q", msg["method"], MethodLog)
	}
}

func TestLogDropsWhenQueueFull(t *testing.T) {
	out := make(chan json.RawMessage) // unbuffered, nobody reading
	in := make(chan json.RawMessage)
	b := New(out, in, nil)

	done := make(chan struct{})
	go func() {
		b.Log("debug", "dropped", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Log blocked on a full queue")
	}
}

func TestCloseFailsOutstandingCalls(t *testing.T) {
	out := make(chan json.RawMessage, 1)
	in := make(chan json.RawMessage)
	b := New(out, in, nil)
	ctx := context.Background()

	done := make(chan Outcome, 1)
	go func() {
		done <- b.Call(ctx, "never_answered", nil, time.Minute)
	}()
	<-out // wait until the request is enqueued
	b.Close()

	outcome := <-done
	if outcome.Status != StatusFailed {
		t.Fatalf("status = %v, want failed", outcome.Status)
	}
}
