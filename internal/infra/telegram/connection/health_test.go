package connection

import (
	"testing"
	"time"
)

func TestRecoveryCallbackFiresAfterFailureStreak(t *testing.T) {
	t.Parallel()

	recovered := 0
	h := NewHealthMonitor(nil, HealthConfig{
		OnRecovery: func() { recovered++ },
	})

	h.mu.Lock()
	h.consecutiveFailures = 3
	h.mu.Unlock()

	h.onProbeSuccess()
	if recovered != 1 {
		t.Fatalf("recovery callbacks = %d, want 1 after a failure streak", recovered)
	}
	if h.ConsecutiveFailures() != 0 {
		t.Fatalf("consecutive failures = %d, want reset to 0", h.ConsecutiveFailures())
	}
	if h.LastProbeOK().IsZero() {
		t.Fatal("last probe time must be recorded on success")
	}

	// Успех без предшествующих провалов — не восстановление.
	h.onProbeSuccess()
	if recovered != 1 {
		t.Fatalf("recovery callbacks = %d, want still 1", recovered)
	}
}

func TestProbeSuccessWithoutCallback(t *testing.T) {
	t.Parallel()

	h := NewHealthMonitor(nil, HealthConfig{})
	h.mu.Lock()
	h.consecutiveFailures = 2
	h.mu.Unlock()
	// nil-callback не должен ронять обработку успеха.
	h.onProbeSuccess()
	if h.ConsecutiveFailures() != 0 {
		t.Fatal("failure streak must reset")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		failures int
		want     time.Duration
	}{
		{failures: 0, want: 5 * time.Second},
		{failures: 1, want: 5 * time.Second},
		{failures: 2, want: 10 * time.Second},
		{failures: 3, want: 20 * time.Second},
		{failures: 5, want: 80 * time.Second},
		// С седьмой попытки упираемся в потолок.
		{failures: 7, want: 5 * time.Minute},
		{failures: 50, want: 5 * time.Minute},
	}
	for _, tc := range cases {
		if got := backoffDelay(tc.failures); got != tc.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}
