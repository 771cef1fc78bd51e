// Package jobs — очереди фоновых задач генерации: две независимые полосы
// изображений (flux, sdxl) и полоса синтеза речи (tts). Каждая полоса — FIFO
// с единственным воркером: в любой момент в полосе обрабатывается не больше
// одной задачи, задачи разных полос идут параллельно. Персистентности нет:
// при рестарте очереди пусты.
package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"sakaibot/internal/infra/logger"
)

// Lane — имя полосы.
type Lane string

const (
	LaneFlux Lane = "flux"
	LaneSDXL Lane = "sdxl"
	LaneTTS  Lane = "tts"
)

// Status — состояние задачи.
type Status int

const (
	StatusPending Status = iota
	StatusProcessing
	StatusCompleted
	StatusFailed
)

// Result — артефакт выполненной задачи: сырые байты (изображение) либо путь
// к временному файлу (голос). Владение временным файлом переходит к
// диспетчеру: он удаляет файл после доставки.
type Result struct {
	Data     []byte
	FilePath string
}

// Request — входные данные задачи.
type Request struct {
	Prompt    string
	Principal int64
	// Params — параметры, специфичные для полосы (голос/темп для tts).
	Params map[string]string
}

// Worker выполняет одну задачу полосы.
type Worker func(ctx context.Context, req Request) (Result, error)

// ErrUnknownLane возвращается при постановке в несуществующую полосу.
var ErrUnknownLane = errors.New("jobs: unknown lane")

// job — внутреннее состояние задачи. Поля защищены мьютексом полосы.
type job struct {
	id         string
	req        Request
	status     Status
	result     Result
	err        error
	enqueuedAt time.Time
	done       chan struct{}
}

// Ticket — наблюдаемый снаружи билет задачи.
type Ticket struct {
	ID   string
	Lane Lane

	q *Queue
	j *job
}

// Await блокирует до терминального состояния задачи или отмены контекста.
func (t *Ticket) Await(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-t.j.done:
	}
	lane := t.q.lanes[t.Lane]
	lane.mu.Lock()
	defer lane.mu.Unlock()
	return t.j.result, t.j.err
}

// Position возвращает 1-based позицию задачи среди PENDING своей полосы;
// 0 — задача обрабатывается или завершена.
func (t *Ticket) Position() int {
	return t.q.position(t.Lane, t.ID)
}

// Cleanup убирает завершённую задачу из реестра полосы. Вызывается диспетчером
// после доставки результата.
func (t *Ticket) Cleanup() {
	t.q.cleanup(t.Lane, t.ID)
}

// lane — одна полоса: FIFO задач и признак «воркер занят». Свой мьютекс на
// полосу; сигнальный канал будит воркера без блокировки продюсера.
type lane struct {
	mu         sync.Mutex
	pending    []*job
	processing *job
	byID       map[string]*job

	signal chan struct{}
	worker Worker
}

// Queue владеет всеми полосами.
type Queue struct {
	lanes map[Lane]*lane

	stopOnce sync.Once
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewQueue создаёт очередь с воркерами по полосам. Полосы без воркера не создаются.
func NewQueue(workers map[Lane]Worker) *Queue {
	q := &Queue{lanes: make(map[Lane]*lane, len(workers))}
	for name, w := range workers {
		q.lanes[name] = &lane{
			byID:   make(map[string]*job),
			signal: make(chan struct{}, 1),
			worker: w,
		}
	}
	return q
}

// Start запускает по одному воркеру на полосу.
func (q *Queue) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	for name, ln := range q.lanes {
		q.wg.Add(1)
		go func(name Lane, ln *lane) {
			defer q.wg.Done()
			q.runWorker(loopCtx, name, ln)
		}(name, ln)
	}
	logger.Debugf("jobs: started %d lane workers", len(q.lanes))
}

// Stop останавливает воркеров и дожидается их завершения. Оставшиеся в
// очередях задачи не завершаются: ожидающие Await снимаются собственным
// контекстом вызывающего.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		if q.cancel != nil {
			q.cancel()
		}
		q.wg.Wait()
		logger.Debug("jobs: all lane workers stopped")
	})
}

// Enqueue ставит задачу в полосу и возвращает билет. Position билета сразу
// после постановки — позиция в хвосте.
func (q *Queue) Enqueue(laneName Lane, req Request) (*Ticket, error) {
	ln, ok := q.lanes[laneName]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLane, "%q", laneName)
	}

	j := &job{
		id:         uuid.NewString(),
		req:        req,
		status:     StatusPending,
		enqueuedAt: time.Now(),
		done:       make(chan struct{}),
	}

	ln.mu.Lock()
	ln.pending = append(ln.pending, j)
	ln.byID[j.id] = j
	pos := len(ln.pending)
	ln.mu.Unlock()

	// Неблокирующий сигнал воркеру: буфер 1 гарантирует пробуждение.
	select {
	case ln.signal <- struct{}{}:
	default:
	}

	logger.Debugf("jobs: enqueued %s on lane %s (position=%d)", j.id, laneName, pos)
	return &Ticket{ID: j.id, Lane: laneName, q: q, j: j}, nil
}

// PendingCount возвращает длину очереди полосы. Для /status.
func (q *Queue) PendingCount(laneName Lane) int {
	ln, ok := q.lanes[laneName]
	if !ok {
		return 0
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	n := len(ln.pending)
	if ln.processing != nil {
		n++
	}
	return n
}

// runWorker — цикл воркера полосы: забрать голову FIFO, выполнить, повторить.
func (q *Queue) runWorker(ctx context.Context, name Lane, ln *lane) {
	for {
		j := ln.pop()
		if j == nil {
			select {
			case <-ctx.Done():
				return
			case <-ln.signal:
				continue
			}
		}

		res, err := ln.worker(ctx, j.req)

		ln.mu.Lock()
		if err != nil {
			j.status = StatusFailed
			j.err = err
		} else {
			j.status = StatusCompleted
			j.result = res
		}
		ln.processing = nil
		ln.mu.Unlock()
		close(j.done)

		if err != nil {
			logger.Warnf("jobs: lane %s job %s failed: %v", name, j.id, err)
		} else {
			logger.Debugf("jobs: lane %s job %s completed in %v", name, j.id, time.Since(j.enqueuedAt))
		}

		if ctx.Err() != nil {
			return
		}
	}
}

// pop атомарно снимает голову FIFO и помечает её PROCESSING.
func (ln *lane) pop() *job {
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if len(ln.pending) == 0 {
		return nil
	}
	j := ln.pending[0]
	ln.pending = ln.pending[1:]
	j.status = StatusProcessing
	ln.processing = j
	return j
}

// position — 1-based позиция задачи среди PENDING полосы.
func (q *Queue) position(laneName Lane, id string) int {
	ln, ok := q.lanes[laneName]
	if !ok {
		return 0
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	for i, j := range ln.pending {
		if j.id == id {
			return i + 1
		}
	}
	return 0
}

// cleanup удаляет терминальную задачу из реестра.
func (q *Queue) cleanup(laneName Lane, id string) {
	ln, ok := q.lanes[laneName]
	if !ok {
		return
	}
	ln.mu.Lock()
	defer ln.mu.Unlock()
	if j, exists := ln.byID[id]; exists && (j.status == StatusCompleted || j.status == StatusFailed) {
		delete(ln.byID, id)
	}
}
