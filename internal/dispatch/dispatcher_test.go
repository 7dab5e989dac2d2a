package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wait(t *testing.T, f *Future) Response {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := f.Wait(ctx)
	require.NoError(t, err)
	return resp
}

func echo(_ context.Context, req *Request) (*Result, error) {
	return OK("echo " + req.Operation), nil
}

func TestSubmit_FIFOToSubscriber(t *testing.T) {
	d := New("test")
	defer d.Stop(context.Background())

	d.RegisterHandler("echo", echo)

	var mu sync.Mutex
	var seen []string
	d.Subscribe(func(r Response) {
		mu.Lock()
		seen = append(seen, r.Operation)
		mu.Unlock()
	})

	const n = 50
	futures := make([]*Future, 0, n)
	want := make([]string, 0, n)
	for i := 0; i < n; i++ {
		op := fmt.Sprintf("echo %d", i)
		want = append(want, op)
		futures = append(futures, d.Submit(context.Background(), "test", op, nil, nil))
	}
	for _, f := range futures {
		wait(t, f)
	}
	require.NoError(t, d.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, want, seen)
}

func TestSubmit_OneHandlerAtATime(t *testing.T) {
	d := New("serial")
	defer d.Stop(context.Background())

	var inFlight, maxInFlight atomic.Int32
	d.RegisterHandler("work", func(context.Context, *Request) (*Result, error) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return OK("done"), nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			wait(t, d.Submit(context.Background(), "g", "work", nil, nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestSubmit_FailureShapes(t *testing.T) {
	d := New("failures")
	defer d.Stop(context.Background())

	d.RegisterHandler("boom", func(context.Context, *Request) (*Result, error) {
		panic("kaboom")
	})
	d.RegisterHandler("err", func(context.Context, *Request) (*Result, error) {
		return nil, errors.New("exchange down")
	})
	d.RegisterHandler("nil", func(context.Context, *Request) (*Result, error) {
		return nil, nil
	})
	d.RegisterHandler("cancel", func(context.Context, *Request) (*Result, error) {
		return nil, fmt.Errorf("wrapped: %w", context.Canceled)
	})

	tests := []struct {
		op      string
		message string
	}{
		{"boom", "Handler error: kaboom"},
		{"err", "Handler error: exchange down"},
		{"nil", "Handler returned invalid result"},
		{"cancel", "Command cancelled"},
		{"nope arg", "Unknown command: nope"},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			resp := wait(t, d.Submit(context.Background(), "t", tt.op, nil, nil))
			assert.False(t, resp.Success)
			assert.Equal(t, tt.message, resp.Message)
		})
	}

	// The worker survives all of the above.
	d.RegisterHandler("echo", echo)
	resp := wait(t, d.Submit(context.Background(), "t", "echo", nil, nil))
	assert.True(t, resp.Success)
}

func TestSubmit_EmptyRejectedLocally(t *testing.T) {
	d := New("empty")
	called := false
	d.Subscribe(func(Response) { called = true })

	for _, op := range []string{"", "   ", "\t"} {
		f := d.Submit(context.Background(), "t", op, nil, nil)
		select {
		case <-f.Done():
		default:
			t.Fatalf("future for %q not resolved synchronously", op)
		}
		resp := wait(t, f)
		assert.False(t, resp.Success)
		assert.Equal(t, "Empty command", resp.Message)
	}
	assert.False(t, d.Running())
	assert.False(t, called)
}

func TestSubmit_MetaEchoedWithTrace(t *testing.T) {
	d := New("meta")
	defer d.Stop(context.Background())
	d.RegisterHandler("echo", echo)

	resp := wait(t, d.Submit(context.Background(), "t", "echo", nil, map[string]any{"client": "ui"}))
	assert.Equal(t, "ui", resp.Meta["client"])
	assert.NotEmpty(t, resp.TraceID())

	resp = wait(t, d.Submit(context.Background(), "t", "echo", nil, map[string]any{TraceKey: "fixed"}))
	assert.Equal(t, "fixed", resp.TraceID())
}

func TestFuture_ResolvedExactlyOnce(t *testing.T) {
	f := newFuture()
	assert.True(t, f.resolve(Response{Message: "first"}))
	assert.False(t, f.resolve(Response{Message: "second"}))
	assert.False(t, f.Cancel())

	resp := wait(t, f)
	assert.Equal(t, "first", resp.Message)
}

func TestFuture_CancelledStillPublished(t *testing.T) {
	d := New("cancelled")
	defer d.Stop(context.Background())

	release := make(chan struct{})
	d.RegisterHandler("slow", func(context.Context, *Request) (*Result, error) {
		<-release
		return OK("late"), nil
	})

	got := make(chan Response, 1)
	d.Subscribe(func(r Response) { got <- r })

	f := d.Submit(context.Background(), "t", "slow", nil, nil)
	require.True(t, f.Cancel())
	assert.True(t, f.Cancelled())
	close(release)

	select {
	case r := <-got:
		assert.Equal(t, "late", r.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not notified")
	}
	resp := wait(t, f)
	assert.Equal(t, "Command cancelled", resp.Message)
}

func TestSubscribers_PanicIsolatedAndOrdered(t *testing.T) {
	d := New("subs")
	defer d.Stop(context.Background())
	d.RegisterHandler("echo", echo)

	var order []int
	var mu sync.Mutex
	record := func(i int) Subscriber {
		return func(Response) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}
	d.Subscribe(record(1))
	d.Subscribe(func(Response) { panic("bad subscriber") })
	id := d.Subscribe(record(3))
	d.Subscribe(record(4))

	wait(t, d.Submit(context.Background(), "t", "echo", nil, nil))
	d.Unsubscribe(id)
	d.Unsubscribe(999)
	wait(t, d.Submit(context.Background(), "t", "echo", nil, nil))
	require.NoError(t, d.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 3, 4, 1, 4}, order)
}

func TestStop_DrainsAndRestarts(t *testing.T) {
	d := New("drain", WithQueueSize(8))
	var handled atomic.Int32
	d.RegisterHandler("tick", func(context.Context, *Request) (*Result, error) {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return OK("tick"), nil
	})

	futures := make([]*Future, 0, 5)
	for i := 0; i < 5; i++ {
		futures = append(futures, d.Submit(context.Background(), "t", "tick", nil, nil))
	}
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int32(5), handled.Load())
	assert.False(t, d.Running())
	for _, f := range futures {
		assert.True(t, wait(t, f).Success)
	}

	// Submit auto-starts a fresh worker.
	resp := wait(t, d.Submit(context.Background(), "t", "tick", nil, nil))
	assert.True(t, resp.Success)
	assert.True(t, d.Running())
	require.NoError(t, d.Stop(context.Background()))
}

func TestRegisterHandler_Overwrites(t *testing.T) {
	d := New("overwrite")
	defer d.Stop(context.Background())

	d.RegisterHandler("Greet", func(context.Context, *Request) (*Result, error) { return OK("v1"), nil })
	d.RegisterHandler("greet", func(context.Context, *Request) (*Result, error) { return OK("v2"), nil })

	assert.Equal(t, []string{"greet"}, d.Handlers())
	resp := wait(t, d.Submit(context.Background(), "t", "GREET bob", nil, nil))
	assert.Equal(t, "v2", resp.Message)
}

func TestWholeOperationKey(t *testing.T) {
	d := New("requests", WithKeyFunc(WholeOperation), WithUnknownHandler(func(_ context.Context, req *Request) (*Result, error) {
		return Fail("Unknown request type: " + req.Operation), nil
	}))
	defer d.Stop(context.Background())

	d.RegisterHandler("proxy_balance", func(context.Context, *Request) (*Result, error) {
		return OK("ok").WithData(map[string]any{"balance": "1"}), nil
	})

	resp := wait(t, d.Submit(context.Background(), "t", "proxy_balance", nil, nil))
	assert.True(t, resp.Success)
	assert.Equal(t, "1", resp.Data["balance"])

	resp = wait(t, d.Submit(context.Background(), "t", "proxy", nil, nil))
	assert.Equal(t, "Unknown request type: proxy", resp.Message)
}

func TestSubmit_ContextEndsWhileQueueFull(t *testing.T) {
	d := New("full", WithQueueSize(1))
	block := make(chan struct{})
	d.RegisterHandler("block", func(context.Context, *Request) (*Result, error) {
		<-block
		return OK("ok"), nil
	})

	first := d.Submit(context.Background(), "t", "block", nil, nil)
	// Give the worker a moment to pick up the first request, then fill the slot.
	require.Eventually(t, func() bool { return d.QueueLen() == 0 }, time.Second, time.Millisecond)
	d.Submit(context.Background(), "t", "block", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	third := d.Submit(ctx, "t", "block", nil, nil)
	resp := wait(t, third)
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Message, "Submit aborted")

	close(block)
	assert.True(t, wait(t, first).Success)
	require.NoError(t, d.Stop(context.Background()))
}

func TestStop_TimeoutWithFullQueueKeepsWorker(t *testing.T) {
	d := New("stuck", WithQueueSize(1))
	block := make(chan struct{})
	d.RegisterHandler("block", func(context.Context, *Request) (*Result, error) {
		<-block
		return OK("ok"), nil
	})

	first := d.Submit(context.Background(), "t", "block", nil, nil)
	require.Eventually(t, func() bool { return d.QueueLen() == 0 }, time.Second, time.Millisecond)
	second := d.Submit(context.Background(), "t", "block", nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, d.Stop(ctx), context.DeadlineExceeded)
	assert.True(t, d.Running())

	close(block)
	assert.True(t, wait(t, first).Success)
	assert.True(t, wait(t, second).Success)

	resp := wait(t, d.Submit(context.Background(), "t", "block", nil, nil))
	assert.True(t, resp.Success)
	require.NoError(t, d.Stop(context.Background()))
	assert.False(t, d.Running())
}

func TestSubmit_ConcurrentWithStopAlwaysResolves(t *testing.T) {
	d := New("churn", WithQueueSize(4))
	d.RegisterHandler("echo", echo)

	const n = 200
	futures := make([]*Future, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			futures[i] = d.Submit(context.Background(), "t", fmt.Sprintf("echo %d", i), nil, nil)
		}(i)
		if i%10 == 0 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = d.Stop(context.Background())
			}()
		}
	}
	wg.Wait()

	for i, f := range futures {
		resp := wait(t, f)
		assert.True(t, resp.Success, "request %d", i)
	}
	require.NoError(t, d.Stop(context.Background()))
}

func TestSubmit_DoesNotMutateCallerMeta(t *testing.T) {
	d := New("meta-copy")
	defer d.Stop(context.Background())
	d.RegisterHandler("echo", echo)

	meta := map[string]any{"client": "ui"}
	resp := wait(t, d.Submit(context.Background(), "t", "echo", nil, meta))
	assert.Equal(t, map[string]any{"client": "ui"}, meta)
	assert.Equal(t, "ui", resp.Meta["client"])
	assert.NotEmpty(t, resp.TraceID())
}
