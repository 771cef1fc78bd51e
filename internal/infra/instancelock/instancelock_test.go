package instancelock_test

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"sakaibot/internal/infra/instancelock"
)

func TestAcquireAndRelease(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")

	lock, err := instancelock.Acquire(path, false)
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("lock file not created: %v", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		t.Fatalf("lock content %q is not a pid: %v", data, err)
	}
	if pid != os.Getpid() {
		t.Fatalf("lock pid = %d, want %d", pid, os.Getpid())
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("Release() error: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("lock file still present after release")
	}
	// Повторный Release — no-op.
	if err := lock.Release(); err != nil {
		t.Fatalf("second Release() error: %v", err)
	}
}

func TestAcquireRejectsLiveOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	// PID 1 (init) жив всегда и не принадлежит нам.
	if err := os.WriteFile(path, []byte("1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, err := instancelock.Acquire(path, false)
	if !errors.Is(err, instancelock.ErrAlreadyRunning) {
		t.Fatalf("Acquire() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestAcquireForceTerminatesOwner(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	cmd := exec.Command("sleep", "60")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start helper process: %v", err)
	}
	defer func() { _ = cmd.Wait() }()
	if err := os.WriteFile(path, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := instancelock.Acquire(path, true)
	if err != nil {
		t.Fatalf("Acquire(force) error: %v", err)
	}
	defer func() { _ = lock.Release() }()

	data, _ := os.ReadFile(path)
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock pid = %s, want %d", got, os.Getpid())
	}
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	// Максимальный PID на linux ограничен 2^22; такой процесс существовать не может.
	if err := os.WriteFile(path, []byte("999999999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := instancelock.Acquire(path, false)
	if err != nil {
		t.Fatalf("Acquire() over stale lock error: %v", err)
	}
	defer func() { _ = lock.Release() }()

	data, _ := os.ReadFile(path)
	if got := strings.TrimSpace(string(data)); got != strconv.Itoa(os.Getpid()) {
		t.Fatalf("lock pid = %s, want %d", got, os.Getpid())
	}
}

func TestAcquireReclaimsMalformedLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bot.lock")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0o600); err != nil {
		t.Fatal(err)
	}

	lock, err := instancelock.Acquire(path, false)
	if err != nil {
		t.Fatalf("Acquire() over malformed lock error: %v", err)
	}
	_ = lock.Release()
}
