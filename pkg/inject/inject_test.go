package inject

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

func TestWithTimeoutPassesThroughResult(t *testing.T) {
	want := errors.New("boom")
	inj := WithTimeout(Func(func(input.Event) error { return want }), time.Second)
	if err := inj.Inject(input.Event{Kind: input.KindKeyDown, Key: 1}); !errors.Is(err, want) {
		t.Fatalf("expected inner error, got %v", err)
	}
	if IsFatal(want) {
		t.Fatalf("plain errors must not be fatal")
	}
}

func TestWithTimeoutMarksHungCallFatal(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	inj := WithTimeout(Func(func(input.Event) error {
		<-release
		return nil
	}), 20*time.Millisecond)

	start := time.Now()
	err := inj.Inject(input.Event{Kind: input.KindPointerMove})
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrFatal) {
		t.Fatalf("expected timeout and fatal, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took too long: %s", elapsed)
	}
}

func TestWithTimeoutZeroReturnsInner(t *testing.T) {
	stub := NewStub(nil)
	if got := WithTimeout(stub, 0); got != Injector(stub) {
		t.Fatalf("expected unwrapped injector")
	}
}

func TestFatalWrapping(t *testing.T) {
	if Fatal(nil) != nil {
		t.Fatalf("nil must stay nil")
	}
	base := fmt.Errorf("%w: revoked", ErrPermissionDenied)
	err := Fatal(base)
	if !IsFatal(err) || !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected fatal permission error, got %v", err)
	}
	if Fatal(err) != err {
		t.Fatalf("fatal errors must not be wrapped twice")
	}
	if IsFatal(unsupported("key %d", 3)) {
		t.Fatalf("unsupported events are not fatal")
	}
}

func TestStubRecordsUntilClosed(t *testing.T) {
	stub := NewStub(nil)
	if err := stub.Inject(input.Event{Kind: input.KindKeyDown, Key: 4}); err != nil {
		t.Fatalf("inject: %v", err)
	}
	if got := stub.Events(); len(got) != 1 || got[0].Key != 4 {
		t.Fatalf("unexpected events %+v", got)
	}
	if err := stub.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := stub.Inject(input.Event{Kind: input.KindKeyUp, Key: 4}); !errors.Is(err, ErrClosed) || !IsFatal(err) {
		t.Fatalf("expected fatal closed error, got %v", err)
	}
}

func TestNewBackends(t *testing.T) {
	inj, err := New(BackendStub, Options{})
	if err != nil {
		t.Fatalf("stub backend: %v", err)
	}
	if _, ok := inj.(*Stub); !ok {
		t.Fatalf("expected stub injector, got %T", inj)
	}
	if _, err := New("teleport", Options{}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
