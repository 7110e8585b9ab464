package polymarket

import (
	"context"
	"testing"
	"time"
)

func TestTokenBucketStartsFull(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(5, 1)

	for i := 0; i < 5; i++ {
		start := time.Now()
		if err := tb.Wait(context.Background()); err != nil {
			t.Fatalf("Wait: %v", err)
		}
		if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
			t.Errorf("token %d took %v, expected immediate", i, elapsed)
		}
	}
}

func TestTokenBucketBlocksUntilRefill(t *testing.T) {
	t.Parallel()
	// 1 token, refilling at 10/s: the second Wait blocks ~100ms.
	tb := newTokenBucket(1, 10)

	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	if err := tb.Wait(context.Background()); err != nil {
		t.Fatal(err)
	}
	elapsed := time.Since(start)

	if elapsed < 50*time.Millisecond {
		t.Errorf("expected ~100ms block, got %v", elapsed)
	}
	if elapsed > 300*time.Millisecond {
		t.Errorf("blocked too long: %v", elapsed)
	}
}

func TestTokenBucketHonoursContext(t *testing.T) {
	t.Parallel()
	tb := newTokenBucket(1, 0.1)
	_ = tb.Wait(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := tb.Wait(ctx); err == nil {
		t.Error("want context error")
	}
}

func TestRateLimiterCategories(t *testing.T) {
	t.Parallel()
	rl := newRateLimiter()
	if rl.order == nil || rl.cancel == nil || rl.book == nil {
		t.Fatal("missing bucket")
	}
	if rl.order.capacity != 350 || rl.cancel.capacity != 300 || rl.book.capacity != 150 {
		t.Errorf("capacities = %v/%v/%v", rl.order.capacity, rl.cancel.capacity, rl.book.capacity)
	}
}
