package ratelimit_test

import (
	"testing"
	"time"

	"sakaibot/internal/infra/ratelimit"
)

func TestSlidingWindowAdmission(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(3, time.Minute)
	l.SetNowFunc(func() time.Time { return now })

	const user = int64(100)
	for i := 0; i < 3; i++ {
		allowed, remaining, _ := l.CheckAndConsume(user)
		if !allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
		if remaining != 3-(i+1) {
			t.Fatalf("request %d remaining = %d, want %d", i+1, remaining, 3-(i+1))
		}
	}

	allowed, _, retryAfter := l.CheckAndConsume(user)
	if allowed {
		t.Fatal("4th request admitted inside window")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("retryAfter = %v, want (0, 1m]", retryAfter)
	}

	// Окно сдвинулось: первая метка устарела, один слот свободен.
	now = now.Add(61 * time.Second)
	if allowed, _, _ = l.CheckAndConsume(user); !allowed {
		t.Fatal("request after window slide denied")
	}
}

func TestPrincipalIsolation(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(2, time.Minute)
	l.SetNowFunc(func() time.Time { return now })

	// Первый пользователь выбирает лимит полностью.
	l.CheckAndConsume(1)
	l.CheckAndConsume(1)
	if allowed, _, _ := l.CheckAndConsume(1); allowed {
		t.Fatal("user 1 over limit admitted")
	}

	// Второй пользователь не должен пострадать.
	if allowed, _, _ := l.CheckAndConsume(2); !allowed {
		t.Fatal("user 2 denied due to user 1 activity")
	}
}

func TestIdleBucketEviction(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	l := ratelimit.New(5, time.Minute)
	l.SetNowFunc(func() time.Time { return now })

	l.CheckAndConsume(7)
	if got := l.Peek(7); got != 1 {
		t.Fatalf("Peek() = %d, want 1", got)
	}

	// Спустя 2×window корзина пользователя вычищается при следующем обращении.
	now = now.Add(3 * time.Minute)
	l.CheckAndConsume(8)
	if got := l.Peek(7); got != 0 {
		t.Fatalf("Peek() after eviction = %d, want 0", got)
	}
}
