package flight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoCachesSuccess(t *testing.T) {
	g := New[int](NoExpiration)

	var calls int32
	factory := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		return 42, nil
	}

	for i := 0; i < 3; i++ {
		v, err := g.Do("k", factory)
		if err != nil {
			t.Fatalf("Do returned error: %v", err)
		}
		if v != 42 {
			t.Fatalf("Do returned %d, want 42", v)
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory invoked %d times, want 1", got)
	}
}

func TestDoDeduplicatesConcurrentCallers(t *testing.T) {
	g := New[int](NoExpiration)

	var calls int32
	release := make(chan struct{})
	factory := func() (int, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 7, nil
	}

	const callers = 16
	var wg sync.WaitGroup
	results := make([]int, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = g.Do("shared", factory)
		}(i)
	}

	// Let the goroutines pile up on the same in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory invoked %d times, want 1", got)
	}
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Errorf("caller %d got error: %v", i, errs[i])
		}
		if results[i] != 7 {
			t.Errorf("caller %d got %d, want 7", i, results[i])
		}
	}
}

func TestFailureDoesNotPoison(t *testing.T) {
	g := New[string](NoExpiration)

	boom := errors.New("provider down")
	var calls int32
	factory := func() (string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return "", boom
		}
		return "ok", nil
	}

	if _, err := g.Do("k", factory); !errors.Is(err, boom) {
		t.Fatalf("first Do error = %v, want %v", err, boom)
	}

	v, err := g.Do("k", factory)
	if err != nil {
		t.Fatalf("second Do error = %v, want nil", err)
	}
	if v != "ok" {
		t.Errorf("second Do = %q, want %q", v, "ok")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("factory invoked %d times, want 2", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	g := New[int](30 * time.Millisecond)

	var calls int32
	factory := func() (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	if v, _ := g.Do("k", factory); v != 1 {
		t.Fatalf("first Do = %d, want 1", v)
	}
	if v, _ := g.Do("k", factory); v != 1 {
		t.Fatalf("cached Do = %d, want 1", v)
	}

	time.Sleep(60 * time.Millisecond)

	if v, _ := g.Do("k", factory); v != 2 {
		t.Errorf("post-expiry Do = %d, want 2", v)
	}
}

func TestForgetAllowsRefetch(t *testing.T) {
	g := New[int](NoExpiration)

	var calls int32
	factory := func() (int, error) {
		return int(atomic.AddInt32(&calls, 1)), nil
	}

	g.Do("k", factory)
	g.Forget("k")
	if v, _ := g.Do("k", factory); v != 2 {
		t.Errorf("Do after Forget = %d, want 2", v)
	}
}

func TestReset(t *testing.T) {
	g := New[int](NoExpiration)
	g.Do("a", func() (int, error) { return 1, nil })
	g.Do("b", func() (int, error) { return 2, nil })

	g.Reset()

	if _, ok := g.Peek("a"); ok {
		t.Error("Peek(a) found value after Reset")
	}
	if _, ok := g.Peek("b"); ok {
		t.Error("Peek(b) found value after Reset")
	}
}

func TestPeekDoesNotTriggerWork(t *testing.T) {
	g := New[int](NoExpiration)
	if _, ok := g.Peek("missing"); ok {
		t.Error("Peek reported a value for an unknown key")
	}
}
