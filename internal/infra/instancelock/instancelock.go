// Package instancelock гарантирует, что запущен только один экземпляр userbot'а.
// Два процесса с одной MTProto-сессией приводят к разрыву авторизации, поэтому
// при старте захватывается lock-файл с PID, а устаревшие lock'и мёртвых
// процессов снимаются автоматически.
package instancelock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-faster/errors"

	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/storage"
)

// ErrAlreadyRunning возвращается из Acquire, когда lock-файл принадлежит живому
// процессу. Вызывающая сторона обязана завершиться, не трогая файлы данных.
var ErrAlreadyRunning = errors.New("another instance is already running")

// Lock — захваченный lock-файл. Освобождается последним при shutdown.
type Lock struct {
	path string
	pid  int
}

// terminateWait ограничивает ожидание выхода предыдущего экземпляра после
// SIGTERM в force-режиме.
const terminateWait = 5 * time.Second

// Acquire пытается захватить lock-файл по пути path.
//
// Сценарии:
//   - файла нет: создаём с текущим PID, успех;
//   - файл есть, PID жив: в строгом режиме (force=false) — ErrAlreadyRunning;
//     в force-режиме владельцу посылается SIGTERM и ожидается его выход;
//   - файл есть, PID мёртв или содержимое нечитаемо: считаем lock устаревшим,
//     перезаписываем своим PID.
//
// Создание выполняется через O_CREATE|O_EXCL, чтобы два одновременно стартующих
// процесса не захватили lock оба: проигравший увидит существующий файл.
func Acquire(path string, force bool) (*Lock, error) {
	if err := storage.EnsureDir(path); err != nil {
		return nil, errors.Wrap(err, "prepare lock dir")
	}
	pid := os.Getpid()

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			if _, werr := fmt.Fprintf(f, "%d\n", pid); werr != nil {
				_ = f.Close()
				_ = os.Remove(path)
				return nil, errors.Wrap(werr, "write lock file")
			}
			if cerr := f.Close(); cerr != nil {
				_ = os.Remove(path)
				return nil, errors.Wrap(cerr, "close lock file")
			}
			return &Lock{path: path, pid: pid}, nil
		}
		if !os.IsExist(err) {
			return nil, errors.Wrap(err, "create lock file")
		}

		ownerPID, readErr := readPID(path)
		if readErr == nil && ownerPID != pid && processAlive(ownerPID) {
			if !force {
				return nil, errors.Wrapf(ErrAlreadyRunning, "pid %d holds %s", ownerPID, path)
			}
			if termErr := terminateOwner(ownerPID); termErr != nil {
				return nil, errors.Wrapf(termErr, "pid %d holds %s", ownerPID, path)
			}
		}
		// Устаревший lock: процесс мёртв либо файл испорчен. Снимаем и пробуем ещё раз.
		logger.Warnf("instancelock: removing stale lock %s (owner pid %d)", path, ownerPID)
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, errors.Wrap(rmErr, "remove stale lock")
		}
	}
	return nil, errors.New("lock contention: could not acquire after stale cleanup")
}

// Release удаляет lock-файл, если он всё ещё принадлежит нам. Идемпотентен.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	ownerPID, err := readPID(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "read lock file")
	}
	if ownerPID != l.pid {
		// Кто-то уже перехватил файл; не удаляем чужой lock.
		logger.Warnf("instancelock: %s now owned by pid %d, skip release", l.path, ownerPID)
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove lock file")
	}
	return nil
}

// Path возвращает путь lock-файла.
func (l *Lock) Path() string { return l.path }

// terminateOwner посылает владельцу SIGTERM и ждёт его выхода. Если процесс не
// завершился за terminateWait, захват считается невозможным.
func terminateOwner(pid int) error {
	logger.Warnf("instancelock: terminating previous instance pid %d", pid)
	proc, err := os.FindProcess(pid)
	if err != nil {
		return errors.Wrap(err, "find previous instance")
	}
	if err = proc.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return errors.Wrap(err, "signal previous instance")
	}

	deadline := time.Now().Add(terminateWait)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return errors.Wrap(ErrAlreadyRunning, "previous instance did not exit")
}

// readPID читает PID из lock-файла.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("malformed lock content: %w", err)
	}
	return pid, nil
}

// processAlive проверяет существование процесса сигналом 0. EPERM означает,
// что процесс есть, но принадлежит другому пользователю — считаем живым.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
