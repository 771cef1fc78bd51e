package keypool_test

import (
	"errors"
	"testing"
	"time"

	"sakaibot/internal/infra/keypool"
)

// fakeClock позволяет детерминированно двигать время пула.
type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time          { return f.now }
func (f *fakeClock) Advance(d time.Duration) { f.now = f.now.Add(d) }

func newPool(t *testing.T, keys []string, cooldown time.Duration, clk *fakeClock) *keypool.Pool {
	t.Helper()
	p, err := keypool.New(keys, cooldown, time.UTC, keypool.WithNow(clk.Now))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return p
}

func TestRotationFairness(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	keys := []string{"key-alpha-000001", "key-bravo-000002", "key-charlie-0003"}
	p := newPool(t, keys, time.Hour, clk)

	seen := make(map[string]int)
	// Девять ротаций по временным ошибкам: каждый ключ должен быть выбран трижды.
	for i := 0; i < 9; i++ {
		k, err := p.Current()
		if err != nil {
			t.Fatalf("Current() on rotation %d: %v", i, err)
		}
		seen[k.Secret]++
		p.MarkTransientFailure(true)
		// Остывание час, но ключи по кругу освобождаются: сдвигаем время так,
		// чтобы к моменту полного круга первый снова был пригоден.
		clk.Advance(25 * time.Minute)
	}
	for _, k := range keys {
		if seen[k] != 3 {
			t.Fatalf("key %s selected %d times, want 3 (distribution: %v)", k, seen[k], seen)
		}
	}
}

func TestExhaustionReturnsNoneWithoutMutation(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := newPool(t, []string{"key-alpha-000001", "key-bravo-000002"}, time.Hour, clk)

	if _, err := p.Current(); err != nil {
		t.Fatalf("Current() on fresh pool: %v", err)
	}
	if more := p.MarkDayExhausted(); !more {
		t.Fatalf("MarkDayExhausted() = false, second key should remain usable")
	}
	if _, err := p.Current(); err != nil {
		t.Fatalf("Current() after first exhaustion: %v", err)
	}
	if more := p.MarkDayExhausted(); more {
		t.Fatalf("MarkDayExhausted() = true, no keys should remain")
	}

	before := p.Snapshot()
	if _, err := p.Current(); !errors.Is(err, keypool.ErrNoneAvailable) {
		t.Fatalf("Current() error = %v, want ErrNoneAvailable", err)
	}
	after := p.Snapshot()
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("Current() mutated state: %+v -> %+v", before[i], after[i])
		}
	}
}

func TestCooldownRecovery(t *testing.T) {
	t.Parallel()

	const cooldown = 10 * time.Minute
	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := newPool(t, []string{"key-alpha-000001"}, cooldown, clk)

	if _, err := p.Current(); err != nil {
		t.Fatal(err)
	}
	p.MarkTransientFailure(true)

	if _, err := p.Current(); !errors.Is(err, keypool.ErrNoneAvailable) {
		t.Fatalf("Current() during cooldown error = %v, want ErrNoneAvailable", err)
	}

	clk.Advance(cooldown)
	k, err := p.Current()
	if err != nil {
		t.Fatalf("Current() after cooldown elapsed: %v", err)
	}
	if k.Secret != "key-alpha-000001" {
		t.Fatalf("unexpected key %q", k.Masked)
	}
}

func TestDayExhaustedReleasesAtMidnight(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 5, 1, 22, 0, 0, 0, time.UTC)}
	p := newPool(t, []string{"key-alpha-000001"}, time.Minute, clk)

	if _, err := p.Current(); err != nil {
		t.Fatal(err)
	}
	p.MarkDayExhausted()

	clk.Advance(time.Hour) // 23:00 — ещё до полуночи
	if _, err := p.Current(); !errors.Is(err, keypool.ErrNoneAvailable) {
		t.Fatalf("Current() before midnight error = %v, want ErrNoneAvailable", err)
	}

	clk.Advance(2 * time.Hour) // 01:00 следующего дня
	if _, err := p.Current(); err != nil {
		t.Fatalf("Current() after midnight: %v", err)
	}
}

func TestResetForModelSwitch(t *testing.T) {
	t.Parallel()

	clk := &fakeClock{now: time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)}
	p := newPool(t, []string{"key-alpha-000001", "key-bravo-000002"}, time.Minute, clk)

	p.MarkDayExhausted()
	if _, err := p.Current(); err != nil {
		t.Fatal(err)
	}
	p.MarkDayExhausted()
	if _, err := p.Current(); !errors.Is(err, keypool.ErrNoneAvailable) {
		t.Fatalf("expected exhausted pool, got err=%v", err)
	}

	p.ResetForModelSwitch()
	k, err := p.Current()
	if err != nil {
		t.Fatalf("Current() after reset: %v", err)
	}
	if k.Index != 0 {
		t.Fatalf("current index after reset = %d, want 0", k.Index)
	}
}

func TestMask(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{in: "AIzaSyExampleExampleExample0123", want: "AIzaSy…0123"},
		{in: "short", want: "***"},
		{in: "", want: "***"},
	}
	for _, tc := range cases {
		if got := keypool.Mask(tc.in); got != tc.want {
			t.Fatalf("Mask(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
