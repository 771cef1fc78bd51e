// Package app — верхний уровень сборки юзербота: здесь связываются
// конфигурация, сетевой слой (gotd/telegram), AI-адаптеры, очереди генерации,
// маршрутизатор событий и диспетчер команд. Отсюда стартует цикл обработки
// апдейтов и обеспечивается корректный shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"go.etcd.io/bbolt"
	"golang.org/x/time/rate"

	boltstor "github.com/gotd/contrib/bbolt"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/contrib/middleware/ratelimit"
	contribstorage "github.com/gotd/contrib/storage"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/image"
	"sakaibot/internal/adapters/stt"
	"sakaibot/internal/adapters/telegram/messenger"
	"sakaibot/internal/adapters/tts"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/chatlock"
	"sakaibot/internal/domain/commands"
	"sakaibot/internal/domain/dispatch"
	"sakaibot/internal/domain/events"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/breaker"
	"sakaibot/internal/infra/concurrency"
	"sakaibot/internal/infra/config"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/logger"
	infraratelimit "sakaibot/internal/infra/ratelimit"
	"sakaibot/internal/infra/storage"
	"sakaibot/internal/infra/telegram/connection"
	"sakaibot/internal/infra/telegram/peersmgr"
	"sakaibot/internal/infra/telegram/session"
	"sakaibot/internal/infra/telegram/status"
	"sakaibot/internal/support/version"
)

// Параметры, не выносимые в окружение: их значения продиктованы поведением
// Telegram и провайдеров, а не развёртыванием.
const (
	// keyCooldown — окно остывания ключа после 429.
	keyCooldown = 5 * time.Minute
	// dedupWindow — окно подавления повторных апдейтов.
	dedupWindow = 5 * time.Minute
	// eventPoolSize — размер пула обработчиков событий.
	eventPoolSize = 16
	// Пороги circuit breaker для вызовов AI-провайдера.
	breakerFailToOpen     = 5
	breakerSuccessToClose = 2
	breakerOpenTimeout    = time.Minute
)

// lazyUpdateHandler откладывает установку реального обработчика апдейтов,
// разрывая цикл инициализации client ↔ updates.Manager.
type lazyUpdateHandler struct {
	mu      sync.RWMutex
	handler telegram.UpdateHandler
}

func (h *lazyUpdateHandler) Handle(ctx context.Context, u tg.UpdatesClass) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.handler != nil {
		return h.handler.Handle(ctx, u)
	}
	return nil
}

func (h *lazyUpdateHandler) set(realHandler telegram.UpdateHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handler = realHandler
}

// App агрегирует зависимости юзербота и управляет их связью. Отвечает за:
//   - конфигурацию и телеграм-клиента (авторизация, API),
//   - AI-провайдера с пулом ключей и circuit breaker,
//   - очереди генерации изображений/озвучки,
//   - маршрутизацию апдейтов в диспетчер команд,
//   - запуск Runner, который оркестрирует жизненный цикл и graceful shutdown.
type App struct {
	mainCtx    context.Context
	mainCancel context.CancelFunc

	peers  *peersmgr.Service
	store  *settings.Store
	updMgr *tgupdates.Manager
	waiter *floodwait.Waiter
	runner *Runner
}

// NewApp создаёт каркас приложения. Фактическая инициализация выполняется в Run().
func NewApp(mainCtx context.Context, mainCancel context.CancelFunc) *App {
	return &App{
		mainCtx:    mainCtx,
		mainCancel: mainCancel,
	}
}

// Run собирает все подсистемы и передаёт управление Runner. Блокируется до
// остановки приложения.
func (a *App) Run() error {
	logger.Info("SakaiBot initializing...")
	env := config.Env()

	updDispatcher := tg.NewUpdateDispatcher()
	lazyHandler := &lazyUpdateHandler{}
	a.waiter = floodwait.NewWaiter()

	// 1) Опции MTProto-клиента: сессия, хук апдейтов, троттлинг и паспорт
	// устройства.
	options := telegram.Options{
		SessionStorage: &session.FileStorage{Path: env.SessionFile},
		UpdateHandler:  lazyHandler,
		Middlewares: []telegram.Middleware{
			a.waiter,
			ratelimit.New(
				rate.Limit(env.ThrottleRPS),
				env.ThrottleRPS*2, //nolint:mnd // burst = 2*rate
			),
		},
		// Сообщение gotd о «мёртвом» соединении транслируем зависимым узлам.
		OnDead: func() {
			connection.MarkDisconnected()
		},
		Device: telegram.DeviceConfig{
			DeviceModel:   "MacBookPro18,1",
			SystemVersion: "macOS v15.6.1 build 24G90",
			AppVersion:    version.Version,
		},
	}
	if env.TestDC {
		options.DCList = dcs.Test()
	}

	client := telegram.NewClient(env.APIID, env.APIHash, options)

	// 2) Кэш пиров и менеджер апдейтов с персистентным состоянием.
	peersSvc, err := peersmgr.New(client.API(), env.PeersCacheFile)
	if err != nil {
		return fmt.Errorf("init peers manager: %w", err)
	}
	a.peers = peersSvc

	if err = storage.EnsureDir(env.StateFile); err != nil {
		return fmt.Errorf("ensure state file dir: %w", err)
	}
	stateDB, err := bbolt.Open(env.StateFile, 0o600, nil)
	if err != nil {
		return errors.Wrap(err, "create bolt storage")
	}
	a.updMgr = tgupdates.New(tgupdates.Config{
		Handler:      updDispatcher,
		Storage:      boltstor.NewStateStorage(stateDB),
		AccessHasher: peersSvc.Mgr,
	})
	lazyHandler.set(contribstorage.UpdateHook(peersSvc.Mgr.UpdateHook(a.updMgr), peersSvc.Store()))

	// 3) Настройки бота (целевая группа, карта категорий, авторизованные).
	a.store = settings.NewStore(env.SettingsFile)
	if err = a.store.Load(); err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	// 4) AI-провайдер: пул ключей, circuit breaker, генератор текста.
	providerName := strings.ToLower(env.LLMProvider)
	model, keys := providerCredentials(env, providerName)
	keyPool, err := keypool.New(keys, keyCooldown, config.QuotaResetLocation)
	if err != nil {
		return fmt.Errorf("init key pool: %w", err)
	}
	provider, err := ai.New(providerName, model)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	brk := breaker.New("ai", breakerFailToOpen, breakerSuccessToClose, breakerOpenTimeout)
	tgen := dispatch.NewTextGenerator(provider, keyPool, brk)

	// 5) Очереди генерации: по дорожке на каждый сконфигурированный бэкенд.
	workers := make(map[jobs.Lane]jobs.Worker)
	if env.FluxBaseURL != "" {
		workers[jobs.LaneFlux] = dispatch.ImageWorker(tgen, image.NewFlux(env.FluxBaseURL))
	}
	if env.SDXLBaseURL != "" {
		workers[jobs.LaneSDXL] = dispatch.ImageWorker(tgen, image.NewSDXL(env.SDXLBaseURL, env.SDXLAPIKey))
	}
	if env.TTSBaseURL != "" {
		workers[jobs.LaneTTS] = dispatch.TTSWorker(tts.New(env.TTSBaseURL, env.TTSAPIKey, env.TempDir))
	}
	queue := jobs.NewQueue(workers)

	// Расшифровка голосовых ходит в Gemini и требует его ключей.
	var transcriber *stt.Transcriber
	if providerName == "gemini" {
		transcriber = stt.New(env.GeminiModel, env.FFmpegPath, env.TempDir)
	} else {
		logger.Warnf("app: /stt disabled: provider %q has no transcription API", providerName)
	}

	// 6) Мониторинг соединения. После восстановления связи аккаунт сразу
	// показывает online, не дожидаясь следующего окна статус-менеджера.
	health := connection.NewHealthMonitor(client, connection.HealthConfig{
		Interval:         time.Duration(env.HealthIntervalSec) * time.Second,
		RestartCmd:       env.ProxyRestartCmd,
		RestartThreshold: env.ProxyRestartThreshold,
		OnRecovery:       status.GoOnline,
	})

	// 7) Диспетчер команд и его окружение.
	msgr := messenger.New(client.API(), peersSvc, env.TempDir)
	limiter := infraratelimit.New(env.RateLimitMax, time.Duration(env.RateLimitWindowSec)*time.Second)
	locks := chatlock.New()
	limits := commands.DefaultLimits()
	limits.AnalyzeMax = env.MaxAnalyzeMessages

	disp := dispatch.New(dispatch.Deps{
		Messenger:   msgr,
		TextGen:     tgen,
		RateLimit:   limiter,
		ChatLock:    locks,
		Queue:       queue,
		Categorizer: categorize.NewRouter(a.store, peersSvc, msgr),
		Settings:    a.store,
		Transcriber: transcriber,
		Names:       peersSvc,
		Limits:      limits,
		Location:    config.AppLocation,
		ExtraStatus: func() []string {
			return healthStatusLines(health)
		},
	})

	// 8) Маршрутизатор событий: дедупликация, гейт авторизации, пул воркеров.
	dedup := concurrency.NewDeduplicator(dedupWindow)
	router, err := events.NewRouter(client.API(), peersSvc, a.store, disp,
		env.ConfirmKeyword, eventPoolSize, dedup)
	if err != nil {
		return fmt.Errorf("init event router: %w", err)
	}
	router.Register(updDispatcher)

	a.runner = NewRunner(RunnerDeps{
		MainCtx:    a.mainCtx,
		MainCancel: a.mainCancel,
		Client:     client,
		Peers:      peersSvc,
		Store:      a.store,
		Keys:       keyPool,
		Queue:      queue,
		ChatLock:   locks,
		Router:     router,
		Health:     health,
		Provider:   fmt.Sprintf("%s (%s)", provider.Name(), provider.Model()),
	})

	return a.runner.Run(a.waiter, a.updMgr)
}

// providerCredentials возвращает модель и пул ключей выбранного провайдера.
func providerCredentials(env config.EnvConfig, provider string) (model string, keys []string) {
	if provider == "openrouter" {
		return env.OpenRouterModel, env.OpenRouterAPIKeys
	}
	return env.GeminiModel, env.GeminiAPIKeys
}

// healthStatusLines — строки о состоянии соединения для /status.
func healthStatusLines(h *connection.HealthMonitor) []string {
	state := "offline"
	if connection.IsConnected() {
		state = "online"
	}
	lines := []string{fmt.Sprintf("соединение: %s", state)}
	if failures := h.ConsecutiveFailures(); failures > 0 {
		lines = append(lines, fmt.Sprintf("проб подряд провалено: %d", failures))
	}
	if last := h.LastProbeOK(); !last.IsZero() {
		lines = append(lines, fmt.Sprintf("последняя успешная проба: %s",
			last.In(config.AppLocation).Format("15:04:05")))
	}
	return lines
}
