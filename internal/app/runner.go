// Файл runner.go — оркестрация жизненного цикла: авторизация, линейный запуск
// сервисов в правильном порядке, старт менеджера апдейтов и корректный
// graceful shutdown. Назначение — гарантировать, что доменные сервисы успевают
// завершить операции (статус offline, сохранение настроек), пока MTProto-движок
// ещё жив.
package app

import (
	"context"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	tgauth "github.com/gotd/td/telegram/auth"
	tgupdates "github.com/gotd/td/telegram/updates"
	"github.com/gotd/td/tg"
	"go.uber.org/zap"

	"sakaibot/internal/adapters/cli"
	"sakaibot/internal/domain/chatlock"
	"sakaibot/internal/domain/events"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/config"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/logger"
	termauth "sakaibot/internal/infra/telegram/auth"
	"sakaibot/internal/infra/telegram/connection"
	"sakaibot/internal/infra/telegram/peersmgr"
	"sakaibot/internal/infra/telegram/status"
)

// RunnerDeps — собранные в App подсистемы, которыми управляет Runner.
type RunnerDeps struct {
	MainCtx    context.Context
	MainCancel context.CancelFunc
	Client     *telegram.Client
	Peers      *peersmgr.Service
	Store      *settings.Store
	Keys       *keypool.Pool
	Queue      *jobs.Queue
	ChatLock   *chatlock.Registry
	Router     *events.Router
	Health     *connection.HealthMonitor
	Provider   string
}

// Runner инкапсулирует сценарий запуска и остановки клиента и связанных
// подсистем: авторизация и идентификация self, линейный старт сервисов,
// остановка в обратном порядке с сохранением настроек.
type Runner struct {
	deps RunnerDeps

	cliService    *cli.Service
	updatesWG     sync.WaitGroup
	updatesCancel context.CancelFunc
}

// NewRunner подготавливает Runner с переданными зависимостями.
func NewRunner(deps RunnerDeps) *Runner {
	return &Runner{deps: deps}
}

// Run — главный цикл юзербота. Выполняет логин, запуск узлов, стартует
// updates.Manager и управляет корректным завершением. Для MTProto-движка
// используется отдельный контекст, чтобы статусы и настройки успели
// завершиться до гашения сетевого уровня.
func (r *Runner) Run(waiter *floodwait.Waiter, updmgr *tgupdates.Manager) error {
	clientCtx, clientCancel := context.WithCancel(context.Background())
	defer clientCancel()

	// Отслеживание сигналов начинается сразу, чтобы Ctrl+C работал и во время
	// инициализации.
	var shutdownWG sync.WaitGroup
	shutdownWG.Go(func() {
		<-r.deps.MainCtx.Done()
		logger.Debug("Shutdown signal received, stopping runner...")
		r.stopAllServices()
		clientCancel()
	})

	return waiter.Run(clientCtx, func(ctx context.Context) error {
		return r.deps.Client.Run(ctx, func(ctx context.Context) error {
			logger.Info("SakaiBot running...")

			self, loginErr := r.loginSelf(ctx)
			if loginErr != nil {
				return loginErr
			}

			if err := r.initPeers(ctx); err != nil {
				return err
			}

			if err := r.startAllServices(ctx, updmgr, self.ID); err != nil {
				r.stopAllServices()
				return err
			}

			<-ctx.Done()
			shutdownWG.Wait()
			return ctx.Err()
		})
	})
}

// loginSelf выполняет интерактивную авторизацию при необходимости и
// возвращает текущего пользователя.
func (r *Runner) loginSelf(ctx context.Context) (*tg.User, error) {
	flow := tgauth.NewFlow(
		termauth.TerminalAuthenticator{PhoneNumber: config.Env().PhoneNumber},
		tgauth.SendCodeOptions{},
	)

	if err := r.deps.Client.Auth().IfNecessary(ctx, flow); err != nil {
		return nil, errors.Wrap(err, "auth")
	}

	self, err := r.deps.Client.Self(ctx)
	if err != nil {
		return nil, err
	}
	logger.Logger().Info("Logged in as:",
		zap.String("FirstName", self.FirstName),
		zap.String("LastName", self.LastName),
		zap.String("Username", self.Username),
		zap.Int64("ID", self.ID),
	)
	return self, nil
}

// initPeers готовит кэш пиров: инициализация менеджера, загрузка из bbolt и
// прогрев снимка диалогов при пустом кэше. Без диалогов не работают резолв
// целевой группы категоризации и отображаемые имена.
func (r *Runner) initPeers(ctx context.Context) error {
	peers := r.deps.Peers

	if err := peers.Mgr.Init(ctx); err != nil {
		return errors.Wrap(err, "init peers manager")
	}
	if err := peers.LoadFromStorage(ctx); err != nil {
		logger.Errorf("failed to load peers from storage: %v", err)
	}
	if len(peers.Dialogs()) == 0 {
		if err := peers.RefreshDialogs(ctx, r.deps.Client.API()); err != nil {
			logger.Errorf("failed to warm up dialogs snapshot: %v", err)
		}
	}

	logger.Debug("Peers warmup complete")
	return nil
}

// startAllServices запускает сервисы в линейном порядке. Каждый шаг логируется,
// чтобы по логам было видно, на чём завис старт.
func (r *Runner) startAllServices(ctx context.Context, updmgr *tgupdates.Manager, selfID int64) error {
	logger.Debug("starting service connection_manager")
	connection.Init(ctx, r.deps.Client)
	logger.Debug("service connection_manager started")

	logger.Debug("starting service status_manager")
	status.Start(ctx, r.deps.Client)
	logger.Debug("service status_manager started")

	logger.Debug("starting service chat_lock")
	r.deps.ChatLock.StartReaper(ctx)
	logger.Debug("service chat_lock started")

	logger.Debug("starting service job_queue")
	r.deps.Queue.Start(ctx)
	logger.Debug("service job_queue started")

	logger.Debug("starting service event_router")
	r.deps.Router.SetSelfID(selfID)
	r.deps.Router.Start(ctx)
	logger.Debug("service event_router started")

	logger.Debug("starting service health_monitor")
	r.deps.Health.Start(ctx)
	logger.Debug("service health_monitor started")

	logger.Debug("starting service cli")
	r.cliService = cli.NewService(cli.Deps{
		Client:   r.deps.Client,
		Peers:    r.deps.Peers,
		Store:    r.deps.Store,
		Keys:     r.deps.Keys,
		Queue:    r.deps.Queue,
		ChatLock: r.deps.ChatLock,
		Provider: r.deps.Provider,
		StopApp:  r.deps.MainCancel,
	})
	r.cliService.Start(ctx)
	logger.Debug("service cli started")

	logger.Debug("starting service updates_manager")
	updatesCtx, updatesCancel := context.WithCancel(ctx)
	r.updatesCancel = updatesCancel
	r.updatesWG.Go(func() {
		logger.Debug("updates_manager service: Run started")
		mgrErr := updmgr.Run(updatesCtx, r.deps.Client.API(), selfID, tgupdates.AuthOptions{
			Forget:  false,
			OnStart: r.handleUpdatesManagerStart,
		})
		if mgrErr != nil && !errors.Is(mgrErr, context.Canceled) {
			logger.Errorf("updmgr.Run return: %v", mgrErr)
			r.deps.MainCancel()
		}
		logger.Debugf("updates_manager service: Run finished (err=%v)", mgrErr)
	})
	logger.Debug("service updates_manager started")

	return nil
}

// stopAllServices останавливает сервисы в обратном порядке и сохраняет
// настройки на диск.
func (r *Runner) stopAllServices() {
	logger.Debug("stopping service updates_manager")
	if r.updatesCancel != nil {
		r.updatesCancel()
	}
	r.updatesWG.Wait()
	logger.Debug("service updates_manager stopped")

	if r.cliService != nil {
		logger.Debug("stopping service cli")
		r.cliService.Stop()
		logger.Debug("service cli stopped")
	}

	logger.Debug("stopping service health_monitor")
	r.deps.Health.Stop()
	logger.Debug("service health_monitor stopped")

	logger.Debug("stopping service event_router")
	r.deps.Router.Stop()
	logger.Debug("service event_router stopped")

	logger.Debug("stopping service job_queue")
	r.deps.Queue.Stop()
	logger.Debug("service job_queue stopped")

	logger.Debug("stopping service chat_lock")
	r.deps.ChatLock.StopReaper()
	logger.Debug("service chat_lock stopped")

	logger.Debug("stopping service status_manager")
	status.Stop()
	logger.Debug("service status_manager stopped")

	logger.Debug("stopping service connection_manager")
	connection.Shutdown()
	logger.Debug("service connection_manager stopped")

	logger.Debug("saving settings")
	if err := r.deps.Store.Save(); err != nil {
		logger.Errorf("failed to save settings: %v", err)
	}

	logger.Debug("stopping service peers_manager")
	if err := r.deps.Peers.Close(); err != nil {
		logger.Errorf("failed to stop peers_manager: %v", err)
	}
	logger.Debug("service peers_manager stopped")
}

// handleUpdatesManagerStart вызывается updates.Manager при готовности подписки
// на обновления: аккаунт переводится в online.
func (r *Runner) handleUpdatesManagerStart(_ context.Context) {
	status.GoOnline()
	logger.Debug("Updates manager started")
}
