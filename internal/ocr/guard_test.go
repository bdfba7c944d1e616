package ocr

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type scriptedEngine struct {
	calls int32
	errs  []error // returned in order; nil means success
	block bool    // wait for ctx instead of answering
}

func (e *scriptedEngine) Name() string { return "scripted" }

func (e *scriptedEngine) Recognize(ctx context.Context, in Input) (*Result, error) {
	n := int(atomic.AddInt32(&e.calls, 1))
	if e.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n <= len(e.errs) && e.errs[n-1] != nil {
		return nil, e.errs[n-1]
	}
	return &Result{Text: "ok", Engine: e.Name()}, nil
}

func fastGuard(e Engine, retries int, timeout time.Duration) *Guard {
	return NewGuard(e, GuardConfig{
		Timeout:        timeout,
		MaxRetries:     retries,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	})
}

func TestGuardRetriesTransientErrors(t *testing.T) {
	transient := &ServiceError{Engine: "scripted", Message: "unavailable", Transient: true}
	e := &scriptedEngine{errs: []error{transient, transient}}

	res, err := fastGuard(e, 3, 0).Recognize(context.Background(), Input{ID: "c1"})
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if res.Text != "ok" {
		t.Errorf("Text = %q, want ok", res.Text)
	}
	if e.calls != 3 {
		t.Errorf("calls = %d, want 3", e.calls)
	}
}

func TestGuardStopsOnPermanentError(t *testing.T) {
	permanent := &ServiceError{Engine: "scripted", Message: "bad image"}
	e := &scriptedEngine{errs: []error{permanent}}

	_, err := fastGuard(e, 3, 0).Recognize(context.Background(), Input{})
	var se *ServiceError
	if !errors.As(err, &se) || se.Message != "bad image" {
		t.Fatalf("error = %v, want the service error surfaced", err)
	}
	if e.calls != 1 {
		t.Errorf("calls = %d, want 1", e.calls)
	}
}

func TestGuardGivesUpAfterMaxRetries(t *testing.T) {
	transient := &ServiceError{Engine: "scripted", Message: "busy", Transient: true}
	e := &scriptedEngine{errs: []error{transient, transient, transient, transient}}

	_, err := fastGuard(e, 2, 0).Recognize(context.Background(), Input{})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if e.calls != 3 {
		t.Errorf("calls = %d, want 3", e.calls)
	}
}

func TestGuardPerCallTimeout(t *testing.T) {
	e := &scriptedEngine{block: true}

	start := time.Now()
	_, err := fastGuard(e, 1, 20*time.Millisecond).Recognize(context.Background(), Input{})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
	if e.calls != 2 {
		t.Errorf("calls = %d, want 2 (timeouts are retried)", e.calls)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("per-call timeout was not applied")
	}
}

func TestGuardHonoursCallerCancellation(t *testing.T) {
	e := &scriptedEngine{block: true}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fastGuard(e, 5, time.Second).Recognize(ctx, Input{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if e.calls != 1 {
		t.Errorf("calls = %d, want 1", e.calls)
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{context.DeadlineExceeded, true},
		{&ServiceError{Transient: true}, true},
		{&ServiceError{Transient: false}, false},
	}
	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestBackoffIsCapped(t *testing.T) {
	g := NewGuard(&scriptedEngine{}, GuardConfig{InitialBackoff: time.Second, MaxBackoff: 5 * time.Second})
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := g.backoff(i + 1); got != w {
			t.Errorf("backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}
