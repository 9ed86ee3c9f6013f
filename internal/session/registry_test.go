package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func mustRegister(t *testing.T, r *Registry, key string, h Handle) func() {
	t.Helper()
	unreg, err := r.Register(key, h)
	if err != nil {
		t.Fatalf("Register(%s): %v", key, err)
	}
	return unreg
}

func TestRegistry_RegisterReplacesAndCancelsOld(t *testing.T) {
	r := NewRegistry()
	var firstCanceled atomic.Bool

	unregFirst := mustRegister(t, r, Key("u1", "iv1"), Handle{Cancel: func() { firstCanceled.Store(true) }})
	if r.Count() != 1 {
		t.Fatalf("expected 1 session, got %d", r.Count())
	}

	unregSecond := mustRegister(t, r, Key("u1", "iv1"), Handle{Cancel: func() {}})
	if !firstCanceled.Load() {
		t.Fatalf("expected prior session to be canceled")
	}
	if r.Count() != 1 {
		t.Fatalf("expected replacement to keep count at 1, got %d", r.Count())
	}

	// Stale unregister must not evict the replacement.
	unregFirst()
	if r.Count() != 1 {
		t.Fatalf("stale unregister evicted live session")
	}
	unregSecond()
	unregSecond()
	if r.Count() != 0 {
		t.Fatalf("expected empty registry, got %d", r.Count())
	}
}

func TestRegistry_CancelAllAndWait(t *testing.T) {
	r := NewRegistry()
	var canceled atomic.Int32
	var unregs []func()
	for _, k := range []string{Key("u1", "a"), Key("u2", "a"), Key("u1", "b")} {
		unregs = append(unregs, mustRegister(t, r, k, Handle{Cancel: func() { canceled.Add(1) }}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if r.Wait(ctx) {
		t.Fatalf("Wait should time out while sessions are live")
	}

	if n := r.CancelAll(); n != 3 || canceled.Load() != 3 {
		t.Fatalf("CancelAll = %d, canceled = %d", n, canceled.Load())
	}
	for _, u := range unregs {
		u()
	}
	if !r.Wait(context.Background()) {
		t.Fatalf("Wait should succeed once drained")
	}
}

func TestRegistry_NilSafe(t *testing.T) {
	var r *Registry
	unreg, err := r.Register("k", Handle{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	unreg()
	if r.Count() != 0 || r.CancelAll() != 0 || !r.Wait(context.Background()) || r.Closed() {
		t.Fatalf("nil registry should be inert")
	}
}

func TestRegistry_RefusesAfterCancelAll(t *testing.T) {
	r := NewRegistry()
	unreg := mustRegister(t, r, Key("u1", "a"), Handle{Cancel: func() {}})

	if n := r.CancelAll(); n != 1 || !r.Closed() {
		t.Fatalf("CancelAll = %d, closed = %v", n, r.Closed())
	}
	late, err := r.Register(Key("u2", "a"), Handle{Cancel: func() {}})
	if !errors.Is(err, ErrRegistryClosed) {
		t.Fatalf("Register after CancelAll: %v", err)
	}
	late()
	if r.Count() != 1 {
		t.Fatalf("refused session was tracked, count = %d", r.Count())
	}

	unreg()
	if !r.Wait(context.Background()) {
		t.Fatalf("Wait should succeed once drained")
	}
}

func TestRegistry_RegisterRacingShutdown(t *testing.T) {
	r := NewRegistry()
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		unregs []func()
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unreg, err := r.Register(Key("u", string(rune('a'+i%26))+string(rune('a'+i/26))), Handle{Cancel: func() {}})
			if err != nil {
				return
			}
			mu.Lock()
			unregs = append(unregs, unreg)
			mu.Unlock()
		}()
	}
	r.CancelAll()

	waited := make(chan bool, 1)
	go func() { waited <- r.Wait(context.Background()) }()

	wg.Wait()
	mu.Lock()
	for _, u := range unregs {
		u()
	}
	mu.Unlock()

	select {
	case ok := <-waited:
		if !ok {
			t.Fatalf("Wait did not drain")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait still blocked after every session unregistered")
	}
}
