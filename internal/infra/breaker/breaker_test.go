package breaker_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sakaibot/internal/infra/breaker"
)

var errBackend = errors.New("backend down")

func failing(context.Context) error { return errBackend }
func ok(context.Context) error      { return nil }

func TestOpensAfterThreshold(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	b := breaker.New("ai", 3, 2, time.Minute)
	b.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, failing); !errors.Is(err, errBackend) {
			t.Fatalf("call %d error = %v, want backend error", i+1, err)
		}
	}
	if got := b.State(); got != breaker.StateOpen {
		t.Fatalf("state after 3 failures = %v, want open", got)
	}

	// Следующий вызов отклоняется без выполнения f.
	called := false
	err := b.Call(ctx, func(context.Context) error { called = true; return nil })
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("error = %v, want ErrOpen", err)
	}
	if called {
		t.Fatal("f executed while breaker open")
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	b := breaker.New("ai", 1, 2, time.Minute)
	b.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	_ = b.Call(ctx, failing) // открыли
	if got := b.State(); got != breaker.StateOpen {
		t.Fatalf("state = %v, want open", got)
	}

	// По истечении openTimeout вызов допускается в half-open.
	now = now.Add(time.Minute)
	if err := b.Call(ctx, ok); err != nil {
		t.Fatalf("half-open probe error: %v", err)
	}
	if got := b.State(); got != breaker.StateHalfOpen {
		t.Fatalf("state after 1 success = %v, want half_open", got)
	}
	if err := b.Call(ctx, ok); err != nil {
		t.Fatalf("second probe error: %v", err)
	}
	if got := b.State(); got != breaker.StateClosed {
		t.Fatalf("state after successToClose successes = %v, want closed", got)
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	b := breaker.New("telegram", 1, 2, time.Minute)
	b.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	_ = b.Call(ctx, failing)
	now = now.Add(time.Minute)
	_ = b.Call(ctx, failing) // half-open проба провалилась

	if got := b.State(); got != breaker.StateOpen {
		t.Fatalf("state after half-open failure = %v, want open", got)
	}
	if err := b.Call(ctx, ok); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("error = %v, want ErrOpen", err)
	}
}

func TestClosedResetsOnSuccess(t *testing.T) {
	t.Parallel()

	b := breaker.New("ai", 3, 1, time.Minute)
	ctx := context.Background()

	// Две ошибки, успех, ещё две ошибки: порог из трёх подряд не достигнут.
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, ok)
	_ = b.Call(ctx, failing)
	_ = b.Call(ctx, failing)

	if got := b.State(); got != breaker.StateClosed {
		t.Fatalf("state = %v, want closed (failures are not consecutive)", got)
	}
}
