package jobs_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sakaibot/internal/domain/jobs"
)

// recorder собирает порядок завершения задач одной полосы и следит, чтобы
// воркер не выполнял две задачи одновременно.
type recorder struct {
	mu        sync.Mutex
	order     []string
	inFlight  atomic.Int32
	violation atomic.Bool
}

func (r *recorder) worker(delay time.Duration) jobs.Worker {
	return func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
		if r.inFlight.Add(1) > 1 {
			r.violation.Store(true)
		}
		defer r.inFlight.Add(-1)
		time.Sleep(delay)
		r.mu.Lock()
		r.order = append(r.order, req.Prompt)
		r.mu.Unlock()
		return jobs.Result{Data: []byte(req.Prompt)}, nil
	}
}

func TestLaneFIFO(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	q := jobs.NewQueue(map[jobs.Lane]jobs.Worker{
		jobs.LaneFlux: rec.worker(5 * time.Millisecond),
	})
	q.Start(context.Background())
	defer q.Stop()

	prompts := []string{"a", "b", "c", "d"}
	tickets := make([]*jobs.Ticket, 0, len(prompts))
	for _, p := range prompts {
		tk, err := q.Enqueue(jobs.LaneFlux, jobs.Request{Prompt: p})
		if err != nil {
			t.Fatalf("Enqueue(%q): %v", p, err)
		}
		tickets = append(tickets, tk)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, tk := range tickets {
		res, err := tk.Await(ctx)
		if err != nil {
			t.Fatalf("Await(%q): %v", prompts[i], err)
		}
		if string(res.Data) != prompts[i] {
			t.Fatalf("result for %q = %q", prompts[i], res.Data)
		}
		tk.Cleanup()
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i, p := range prompts {
		if rec.order[i] != p {
			t.Fatalf("completion order %v, want %v", rec.order, prompts)
		}
	}
	if rec.violation.Load() {
		t.Fatal("more than one job was processing in the lane at once")
	}
}

func TestLanesRunInParallel(t *testing.T) {
	t.Parallel()

	// В полосе flux — медленная задача; tts не должна её ждать.
	release := make(chan struct{})
	q := jobs.NewQueue(map[jobs.Lane]jobs.Worker{
		jobs.LaneFlux: func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
			select {
			case <-release:
			case <-ctx.Done():
				return jobs.Result{}, ctx.Err()
			}
			return jobs.Result{}, nil
		},
		jobs.LaneTTS: func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
			return jobs.Result{FilePath: "/tmp/out.ogg"}, nil
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	slow, err := q.Enqueue(jobs.LaneFlux, jobs.Request{Prompt: "slow"})
	if err != nil {
		t.Fatal(err)
	}
	fast, err := q.Enqueue(jobs.LaneTTS, jobs.Request{Prompt: "fast"})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := fast.Await(ctx)
	if err != nil {
		t.Fatalf("tts job blocked by flux lane: %v", err)
	}
	if res.FilePath != "/tmp/out.ogg" {
		t.Fatalf("tts result = %q", res.FilePath)
	}

	close(release)
	if _, err = slow.Await(ctx); err != nil {
		t.Fatalf("flux job: %v", err)
	}
}

func TestPositionDecreasesAsQueueDrains(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	q := jobs.NewQueue(map[jobs.Lane]jobs.Worker{
		jobs.LaneSDXL: func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
			select {
			case <-gate:
				return jobs.Result{}, nil
			case <-ctx.Done():
				return jobs.Result{}, ctx.Err()
			}
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	first, err := q.Enqueue(jobs.LaneSDXL, jobs.Request{Prompt: "1"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Enqueue(jobs.LaneSDXL, jobs.Request{Prompt: "2"})
	if err != nil {
		t.Fatal(err)
	}
	third, err := q.Enqueue(jobs.LaneSDXL, jobs.Request{Prompt: "3"})
	if err != nil {
		t.Fatal(err)
	}

	// Ждём, пока воркер заберёт первую задачу: её позиция станет 0.
	deadline := time.Now().Add(2 * time.Second)
	for first.Position() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the first job")
		}
		time.Sleep(time.Millisecond)
	}

	if got := second.Position(); got != 1 {
		t.Fatalf("second position = %d, want 1", got)
	}
	if got := third.Position(); got != 2 {
		t.Fatalf("third position = %d, want 2", got)
	}

	// Первая завершается — остальные сдвигаются к голове.
	gate <- struct{}{}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err = first.Await(ctx); err != nil {
		t.Fatal(err)
	}
	for second.Position() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never picked up the second job")
		}
		time.Sleep(time.Millisecond)
	}
	if got := third.Position(); got != 1 {
		t.Fatalf("third position after drain = %d, want 1", got)
	}

	gate <- struct{}{}
	gate <- struct{}{}
	if _, err = third.Await(ctx); err != nil {
		t.Fatal(err)
	}
}

func TestFailedJobReportsError(t *testing.T) {
	t.Parallel()

	q := jobs.NewQueue(map[jobs.Lane]jobs.Worker{
		jobs.LaneTTS: func(ctx context.Context, req jobs.Request) (jobs.Result, error) {
			return jobs.Result{}, context.DeadlineExceeded
		},
	})
	q.Start(context.Background())
	defer q.Stop()

	tk, err := q.Enqueue(jobs.LaneTTS, jobs.Request{Prompt: "x"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err = tk.Await(ctx); err == nil {
		t.Fatal("Await returned nil error for failed job")
	}
}

func TestEnqueueUnknownLane(t *testing.T) {
	t.Parallel()

	q := jobs.NewQueue(map[jobs.Lane]jobs.Worker{})
	if _, err := q.Enqueue(jobs.Lane("video"), jobs.Request{}); err == nil {
		t.Fatal("Enqueue into unknown lane must fail")
	}
}
