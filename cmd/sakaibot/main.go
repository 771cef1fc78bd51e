package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sakaibot/internal/app"
	"sakaibot/internal/infra/config"
	"sakaibot/internal/infra/instancelock"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/pr"
)

func main() {
	if err := pr.Init(); err != nil {
		logger.Fatal("failed to assigning stdout and stderr", zap.Error(err))
	}

	// envPath определяет расположение .env с секретами и общими настройками.
	envPath := flag.String("env", ".env", "path to .env file")
	// strictLock отключает принудительное снятие lock'а живого экземпляра.
	strictLock := flag.Bool("strict-lock", false, "refuse to start if another instance holds the lock")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}
	// Часовая зона процесса — из конфигурации; влияет глобально на time.Local.
	time.Local = config.AppLocation //nolint:reassign // приложение работает в выбранной TZ

	// logger.Init задаёт уровень, SetWriters направляет вывод в pr, чтобы логи
	// не ломали readline-строку CLI.
	logger.Init(config.Env().LogLevel)
	logger.SetWriters(pr.Stdout(), pr.Stderr())
	if path := config.Env().LogFile; path != "" {
		logger.EnableFile(logger.FileOptions{
			Path:       path,
			Level:      config.Env().LogFileLevel,
			MaxSizeMB:  config.Env().LogFileMaxSize,
			MaxBackups: config.Env().LogFileMaxBackups,
			MaxAgeDays: config.Env().LogFileMaxAge,
			Compress:   config.Env().LogFileCompress,
		})
	}
	for _, msg := range config.Warnings() {
		logger.Warn(msg)
	}

	// Lock-файл исключает второй экземпляр на том же наборе данных: сессия
	// MTProto не переживает конкурентный доступ.
	lock, err := instancelock.Acquire(config.Env().LockFile, !*strictLock)
	if err != nil {
		logger.Fatal("another instance is running", zap.Error(err))
	}
	defer func() {
		if releaseErr := lock.Release(); releaseErr != nil {
			logger.Errorf("failed to release instance lock: %v", releaseErr)
		}
	}()

	// Контекст с обработкой системных сигналов (Ctrl+C/SIGTERM).
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.NewApp(ctx, stop)
	if runErr := a.Run(); runErr != nil && ctx.Err() == nil {
		stop()
		logger.Fatal("app run failed", zap.Error(runErr))
	}
	logger.Info("Graceful shutdown complete")
}
