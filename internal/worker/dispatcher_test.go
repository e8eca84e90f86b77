package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mohammad-safakhou/researchd/internal/capability"
	"github.com/mohammad-safakhou/researchd/internal/ratelimit"
)

func testRegistry(t *testing.T, rpm map[string]int) *capability.Registry {
	t.Helper()
	reg, err := capability.NewRegistry(capability.DefaultWorkerCards(rpm), "", nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return reg
}

func TestBindRejectsUndeclaredCapability(t *testing.T) {
	d := NewDispatcher(testRegistry(t, nil))
	err := d.Bind(capability.Citation, "rewrite", func(context.Context, any) (any, error) { return nil, nil })
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
	err = d.Bind("nobody", capability.OpVerify, func(context.Context, any) (any, error) { return nil, nil })
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability for unknown worker, got %v", err)
	}
}

func TestInvokeUnboundCapability(t *testing.T) {
	d := NewDispatcher(testRegistry(t, nil))
	_, err := d.Invoke(context.Background(), capability.Synthesis, capability.OpGenerate, nil)
	if !errors.Is(err, ErrUnknownCapability) {
		t.Fatalf("expected ErrUnknownCapability, got %v", err)
	}
}

func TestInvokeLogsStartBeforeDispatch(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewDispatcher(testRegistry(t, nil), WithLogger(zap.New(core)))
	var startedSeen bool
	if err := d.Bind(capability.Compliance, capability.OpRedact, func(ctx context.Context, args any) (any, error) {
		startedSeen = logs.FilterMessage("worker call started").Len() == 1
		return "clean", nil
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}

	out, err := d.Invoke(context.Background(), capability.Compliance, capability.OpRedact, RedactArgs{Text: "a@b.io"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.(string) != "clean" {
		t.Fatalf("unexpected result %v", out)
	}
	if !startedSeen {
		t.Fatalf("expected start record before handler ran")
	}
	started := logs.FilterMessage("worker call started").All()[0]
	fields := started.ContextMap()
	if fields["worker"] != capability.Compliance || fields["capability"] != capability.OpRedact {
		t.Fatalf("unexpected start fields %v", fields)
	}
	if _, ok := fields["args"]; !ok {
		t.Fatalf("start record must carry arguments")
	}
	if logs.FilterMessage("worker call completed").Len() != 1 {
		t.Fatalf("expected completion record")
	}
}

func TestInvokePropagatesWorkerFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	d := NewDispatcher(testRegistry(t, nil), WithLogger(zap.New(core)))
	boom := errors.New("provider unavailable")
	if err := d.Bind(capability.WebSearch, capability.OpSearch, func(context.Context, any) (any, error) {
		return nil, boom
	}); err != nil {
		t.Fatalf("bind: %v", err)
	}
	_, err := d.Invoke(context.Background(), capability.WebSearch, capability.OpSearch, SearchArgs{Query: "q"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped worker error, got %v", err)
	}
	var ce *CallError
	if !errors.As(err, &ce) || ce.Worker != capability.WebSearch {
		t.Fatalf("expected CallError for web_search, got %v", err)
	}
	if logs.FilterMessage("worker call failed").Len() != 1 {
		t.Fatalf("expected failure record")
	}
}

func TestInvokeAppliesRateLimit(t *testing.T) {
	// 1200 rpm -> 50ms between calls
	reg := testRegistry(t, map[string]int{capability.Citation: 1200})
	d := NewDispatcher(reg)
	if err := d.Bind(capability.Citation, capability.OpVerify, func(context.Context, any) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("bind: %v", err)
	}
	start := time.Now()
	for i := 0; i < 3; i++ {
		if _, err := d.Invoke(context.Background(), capability.Citation, capability.OpVerify, nil); err != nil {
			t.Fatalf("invoke: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("expected calls spaced by the limiter, took %s", elapsed)
	}
}

func TestTypedRejectsWrongArgs(t *testing.T) {
	d := NewDispatcher(testRegistry(t, nil), WithLimiter(ratelimit.New(nil)))
	h := Typed(func(ctx context.Context, a RedactArgs) (string, error) { return a.Text, nil })
	if err := d.Bind(capability.Compliance, capability.OpRedact, h); err != nil {
		t.Fatalf("bind: %v", err)
	}
	_, err := d.Invoke(context.Background(), capability.Compliance, capability.OpRedact, "not args")
	if !errors.Is(err, ErrBadArguments) {
		t.Fatalf("expected ErrBadArguments, got %v", err)
	}
}
