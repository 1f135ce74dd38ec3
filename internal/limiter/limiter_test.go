package limiter_test

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"clipsafe/internal/limiter"
	"clipsafe/internal/testsupport"
)

func backends(t *testing.T) map[string]limiter.Limiter {
	t.Helper()
	out := map[string]limiter.Limiter{
		"memory": limiter.NewMemory(5, limiter.Window),
	}
	if url := os.Getenv(testsupport.RedisURLEnv); url != "" {
		opts, err := redis.ParseURL(url)
		if err != nil {
			t.Fatalf("parse redis url: %v", err)
		}
		client := redis.NewClient(opts)
		t.Cleanup(func() { _ = client.Close() })
		prefix := "clipsafe:test:" + uuid.NewString() + ":"
		out["redis"] = limiter.NewRedis(client, prefix, 5, limiter.Window, nil)
	}
	return out
}

func TestSixthAdmissionDeniedOtherUserUnaffected(t *testing.T) {
	for name, lim := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			for i := 0; i < 5; i++ {
				if _, ok, err := lim.TryAdmit(ctx, "alice", now.Add(time.Duration(i)*time.Second)); err != nil || !ok {
					t.Fatalf("admission %d = %v, %v", i+1, ok, err)
				}
			}
			if _, ok, err := lim.TryAdmit(ctx, "alice", now.Add(10*time.Second)); err != nil || ok {
				t.Fatalf("sixth admission = %v, %v; want denied", ok, err)
			}
			if _, ok, err := lim.TryAdmit(ctx, "bob", now.Add(10*time.Second)); err != nil || !ok {
				t.Fatalf("other user's first admission = %v, %v", ok, err)
			}
		})
	}
}

func TestDeniedAttemptsDoNotCount(t *testing.T) {
	for name, lim := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			for i := 0; i < 5; i++ {
				if _, ok, _ := lim.TryAdmit(ctx, "carol", now); !ok {
					t.Fatalf("admission %d denied", i+1)
				}
			}
			for i := 0; i < 3; i++ {
				_, _, _ = lim.TryAdmit(ctx, "carol", now.Add(time.Minute))
			}
			// Only the first five count, so the window frees up an hour after them.
			if _, ok, err := lim.TryAdmit(ctx, "carol", now.Add(limiter.Window+time.Millisecond)); err != nil || !ok {
				t.Fatalf("admission after window = %v, %v", ok, err)
			}
		})
	}
}

func TestWindowSlides(t *testing.T) {
	for name, lim := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Now()
			for i := 0; i < 5; i++ {
				if _, ok, _ := lim.TryAdmit(ctx, "dave", start.Add(time.Duration(i)*10*time.Minute)); !ok {
					t.Fatalf("admission %d denied", i+1)
				}
			}
			if _, ok, _ := lim.TryAdmit(ctx, "dave", start.Add(59*time.Minute)); ok {
				t.Fatal("expected denial inside the window")
			}
			if _, ok, _ := lim.TryAdmit(ctx, "dave", start.Add(61*time.Minute)); !ok {
				t.Fatal("expected the oldest admission to have left the window")
			}
			remaining, err := lim.Remaining(ctx, "dave", start.Add(61*time.Minute))
			if err != nil || remaining != 0 {
				t.Fatalf("Remaining = %d, %v", remaining, err)
			}
		})
	}
}

func TestRefundRestoresCapacity(t *testing.T) {
	for name, lim := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			var last limiter.Ticket
			for i := 0; i < 5; i++ {
				ticket, ok, _ := lim.TryAdmit(ctx, "erin", now)
				if !ok {
					t.Fatalf("admission %d denied", i+1)
				}
				last = ticket
			}
			if remaining, _ := lim.Remaining(ctx, "erin", now); remaining != 0 {
				t.Fatalf("expected no capacity left, got %d", remaining)
			}
			if err := lim.Refund(ctx, last); err != nil {
				t.Fatalf("Refund failed: %v", err)
			}
			if remaining, _ := lim.Remaining(ctx, "erin", now); remaining != 1 {
				t.Fatalf("expected 1 after refund, got %d", remaining)
			}
			if _, ok, _ := lim.TryAdmit(ctx, "erin", now); !ok {
				t.Fatal("expected admission after refund")
			}
		})
	}
}

func TestConcurrentAdmissionsRespectCapacity(t *testing.T) {
	for name, lim := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now()
			var (
				admitted atomic.Int32
				wg       sync.WaitGroup
			)
			for i := 0; i < 40; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if _, ok, err := lim.TryAdmit(ctx, "frank", now); err == nil && ok {
						admitted.Add(1)
					}
				}()
			}
			wg.Wait()
			if got := admitted.Load(); got != 5 {
				t.Fatalf("expected exactly 5 admissions, got %d", got)
			}
		})
	}
}

func ExampleMemory() {
	lim := limiter.NewMemory(1, time.Hour)
	ctx := context.Background()
	now := time.Now()
	_, first, _ := lim.TryAdmit(ctx, "u", now)
	_, second, _ := lim.TryAdmit(ctx, "u", now)
	fmt.Println(first, second)
	// Output: true false
}
