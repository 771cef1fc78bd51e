// Package cli — интерактивная административная консоль юзербота.
// Сервис стартует фоном, читает команды из readline и показывает состояние
// подсистем: пул API-ключей, очереди заданий, активные анализы, офлайн-снимок
// диалогов и карту категоризации. Start/Stop идемпотентны и встраиваются в
// общий lifecycle приложения.
package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/gotd/td/telegram"

	"sakaibot/internal/domain/chatlock"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/pr"
	"sakaibot/internal/infra/telegram/peersmgr"
	versioninfo "sakaibot/internal/support/version"
)

// commandDescriptor описывает одну CLI-команду: её имя и краткое описание для help.
type commandDescriptor struct {
	name        string
	description string
}

// commandDescriptors — реестр доступных команд. Рендерится в help и подсказки.
// Важно: имена должны совпадать с кейсами в handleCommand().
var commandDescriptors = []commandDescriptor{
	{name: "help", description: "Show available commands with short descriptions"},
	{name: "status", description: "Show provider, key pool and queue summary"},
	{name: "keys", description: "Print API key pool states"},
	{name: "queues", description: "Print job queue depths per lane"},
	{name: "topics", description: "Print categorization command map"},
	{name: "dialogs", description: "Print cached dialogs (offline snapshot)"},
	{name: "refresh", description: "Refresh dialogs snapshot from Telegram"},
	{name: "whoami", description: "Display information about the current account"},
	{name: "version", description: "Print bot version"},
	{name: "exit", description: "Stop CLI and terminate the service"},
}

// Deps — подсистемы, к которым консоль имеет доступ.
type Deps struct {
	Client   *telegram.Client
	Peers    *peersmgr.Service
	Store    *settings.Store
	Keys     *keypool.Pool
	Queue    *jobs.Queue
	ChatLock *chatlock.Registry
	Provider string // имя и модель текстового провайдера для status
	// StopApp — внешняя остановка приложения (команда exit, Ctrl-C на пустой строке).
	StopApp context.CancelFunc
}

// Service инкапсулирует CLI и интегрируется в lifecycle приложения.
// Имеет собственный cancel, запускает цикл чтения команд в отдельной горутине
// и синхронно закрывается через Stop().
type Service struct {
	deps      Deps
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	onceStart sync.Once
	onceStop  sync.Once
}

// NewService создаёт CLI-сервис поверх уже инициализированного pr/readline.
func NewService(deps Deps) *Service {
	return &Service{deps: deps}
}

// Start запускает основной цикл CLI в отдельной горутине. Повторные вызовы
// безопасно игнорируются.
func (s *Service) Start(ctx context.Context) {
	s.onceStart.Do(func() {
		runCtx, cancel := context.WithCancel(ctx)
		s.cancel = cancel
		s.wg.Go(func() {
			s.run(runCtx)
		})
	})
}

// Stop завершает CLI: прерывает readline, отменяет локальный контекст и
// дожидается завершения run-цикла.
func (s *Service) Stop() {
	s.onceStop.Do(func() {
		if rl := pr.Rl(); rl != nil {
			pr.InterruptReadline()
		}
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// run — основной цикл обработчика CLI: подсказка, обработчики клавиш и
// построчное чтение команд до отмены контекста или EOF.
func (s *Service) run(ctx context.Context) {
	logger.Debug("CLI run started")
	pr.SetPrompt("> ")
	pr.Println("CLI started. Enter commands:", joinCommandNames(commandDescriptors))
	pr.Println("Press '?' or type 'help' for detailed descriptions.")
	installKeyHandlers(s.deps.StopApp)

	defer func() {
		if rl := pr.Rl(); rl != nil {
			_ = rl.Close()
		}
	}()

	for {
		if ctx.Err() != nil {
			logger.Debug("CLI: context canceled")
			return
		}

		line, err := pr.Rl().Readline()
		if err != nil {
			logger.Debug("CLI: deactivated (io.EOF)")
			return
		}

		cmd := strings.TrimSpace(line)
		if s.handleCommand(ctx, cmd) {
			logger.Debugf("CLI: command %q requested exit", cmd)
			return
		}
	}
}

// installKeyHandlers подключает обработчики специальных клавиш для readline:
//   - '?' — печать help без отправки символа в текущую строку;
//   - Ctrl-C на пустой строке — мягкая остановка приложения и прерывание readline;
//   - Ctrl-C на непустой строке — очистка текущей строки.
func installKeyHandlers(stop context.CancelFunc) {
	rl := pr.Rl()
	if rl == nil || rl.Config == nil {
		return
	}

	prev := rl.Config.Listener
	rl.Config.SetListener(func(line []rune, pos int, key rune) ([]rune, int, bool) {
		if key == '?' {
			printCommandHelp()
			if pos > 0 && pos <= len(line) {
				trimmed := append([]rune{}, line[:pos-1]...)
				trimmed = append(trimmed, line[pos:]...)
				return trimmed, pos - 1, true
			}
			return line, pos, true
		}
		if key == 3 { //nolint: mnd // Ctrl-C (ETX, rune value 3)
			trimmed := strings.TrimSpace(string(line))
			if trimmed == "" {
				if stop != nil {
					stop()
				}
				pr.InterruptReadline()
				return line, pos, true
			}
			return []rune{}, 0, true
		}
		if prev != nil {
			return prev.OnChange(line, pos, key)
		}
		return nil, 0, false
	})
}

// printCommandHelp печатает список поддерживаемых команд и их описания.
func printCommandHelp() {
	for _, text := range buildCommandHelpLines(commandDescriptors) {
		pr.Println(text)
	}
}

// handleCommand разбирает введённую команду и выполняет соответствующее действие.
// Возвращает true, если команда инициирует завершение CLI ("exit").
func (s *Service) handleCommand(ctx context.Context, cmd string) bool {
	switch cmd {
	case "help":
		printCommandHelp()
	case "status":
		s.printStatus()
	case "keys":
		s.printKeys()
	case "queues":
		s.printQueues()
	case "topics":
		s.printTopics()
	case "dialogs":
		s.printDialogs(ctx)
	case "refresh":
		s.refreshDialogs(ctx)
	case "whoami":
		if res, err := whoAmI(ctx, s.deps.Client); err != nil {
			pr.ErrPrintln("whoami error:", err)
		} else {
			pr.Println(res)
		}
	case "version":
		pr.Println(fmt.Sprintf("%s v%s", versioninfo.Name, versioninfo.Version))
	case "exit":
		if s.deps.StopApp != nil {
			s.deps.StopApp()
		}
		return true
	case "":
		// ignore
	default:
		pr.Println("unknown command:", cmd)
	}
	return false
}

// printStatus печатает сводку: провайдер, ключи, очереди, активные анализы.
func (s *Service) printStatus() {
	pr.Printf("Provider: %s\n", s.deps.Provider)
	s.printKeys()
	s.printQueues()
	if s.deps.ChatLock != nil {
		pr.Printf("Active chat analyses: %d\n", s.deps.ChatLock.Active())
	}
}

// printKeys печатает состояния ключей пула.
func (s *Service) printKeys() {
	if s.deps.Keys == nil {
		pr.ErrPrintln("key pool is not available")
		return
	}
	infos := s.deps.Keys.Snapshot()
	if len(infos) == 0 {
		pr.Println("No API keys configured.")
		return
	}
	for _, info := range infos {
		pr.Printf("Key %s: %s\n", info.Masked, info.Status)
	}
}

// printQueues печатает глубины очередей заданий по дорожкам.
func (s *Service) printQueues() {
	if s.deps.Queue == nil {
		pr.ErrPrintln("job queue is not available")
		return
	}
	pr.Printf("Queues: flux=%d sdxl=%d tts=%d\n",
		s.deps.Queue.PendingCount(jobs.LaneFlux),
		s.deps.Queue.PendingCount(jobs.LaneSDXL),
		s.deps.Queue.PendingCount(jobs.LaneTTS))
}

// printTopics печатает целевую группу категоризации и карту «команда → топик».
func (s *Service) printTopics() {
	if s.deps.Store == nil {
		pr.ErrPrintln("settings store is not available")
		return
	}
	snap := s.deps.Store.Snapshot()
	if snap.TargetGroup == nil {
		pr.Println("Categorization target group is not set.")
	} else {
		forum := ""
		if snap.TargetGroup.IsForum {
			forum = " (forum)"
		}
		pr.Printf("Target group: %d%s\n", snap.TargetGroup.ID, forum)
	}
	if len(snap.CommandMap) == 0 {
		pr.Println("No categorization commands mapped.")
		return
	}
	names := make([]string, 0, len(snap.CommandMap))
	for name := range snap.CommandMap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		topic := snap.CommandMap[name]
		if topic == nil {
			pr.Printf("/%s -> main chat\n", name)
		} else {
			pr.Printf("/%s -> topic %d\n", name, *topic)
		}
	}
}

// printDialogs выводит офлайн-снимок диалогов без сетевых запросов: имена
// резолвятся по локальному кэшу пиров.
func (s *Service) printDialogs(ctx context.Context) {
	if s.deps.Peers == nil {
		pr.ErrPrintln("peers manager is not available")
		return
	}
	refs := s.deps.Peers.Dialogs()
	if len(refs) == 0 {
		pr.Println("No dialogs cached yet. Try 'refresh'.")
		return
	}
	for _, ref := range refs {
		s.printDialogRef(ctx, ref)
	}
	pr.Printf("Total dialogs: %d\n", len(refs))
}

// printDialogRef печатает одну запись снимка диалогов.
func (s *Service) printDialogRef(ctx context.Context, ref peersmgr.DialogRef) {
	switch ref.Kind {
	case peersmgr.DialogKindUser:
		pr.Printf("User: %s (id: %d)\n", s.deps.Peers.UserDisplayName(ctx, ref.ID), ref.ID)
	case peersmgr.DialogKindChat, peersmgr.DialogKindChannel:
		label := "Chat"
		title := "<unknown>"
		if info, err := s.deps.Peers.ResolveGroup(ctx, ref.ID); err == nil {
			title = info.Title
			if info.IsForum {
				label = "Forum"
			} else if ref.Kind == peersmgr.DialogKindChannel {
				label = "Channel"
			}
		}
		pr.Printf("%s: '%s' (id: %d)\n", label, title, ref.ID)
	case peersmgr.DialogKindFolder:
		pr.Printf("Folder: id %d\n", ref.ID)
	default:
		pr.Printf("Unknown dialog: %+v\n", ref)
	}
}

// refreshDialogs перезагружает снимок диалогов из Telegram.
func (s *Service) refreshDialogs(ctx context.Context) {
	if s.deps.Peers == nil || s.deps.Client == nil {
		pr.ErrPrintln("peers manager is not available")
		return
	}
	pr.Println("Refreshing dialogs...")
	if err := s.deps.Peers.RefreshDialogs(ctx, s.deps.Client.API()); err != nil {
		pr.ErrPrintln("refresh error:", err)
		return
	}
	pr.Printf("Done, %d dialogs cached.\n", len(s.deps.Peers.Dialogs()))
}

// whoAmI возвращает строку с краткой информацией о текущем аккаунте.
func whoAmI(ctx context.Context, client *telegram.Client) (string, error) {
	if client == nil {
		return "", fmt.Errorf("telegram client is not available")
	}
	self, err := client.Self(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get self: %w", err)
	}
	fullname := strings.TrimSpace(strings.Join([]string{self.FirstName, self.LastName}, " "))
	if fullname == "" {
		fullname = "<unknown>"
	}
	if self.Username != "" {
		return fmt.Sprintf("You are: %s (@%s), id=%d", fullname, self.Username, self.ID), nil
	}
	return fmt.Sprintf("You are: %s, id=%d", fullname, self.ID), nil
}

// joinCommandNames собирает строку имён команд, разделённых запятыми.
func joinCommandNames(descriptors []commandDescriptor) string {
	names := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		names = append(names, d.name)
	}
	return strings.Join(names, ", ")
}

// buildCommandHelpLines генерирует строки помощи вида "<name> - <description>".
func buildCommandHelpLines(descriptors []commandDescriptor) []string {
	lines := make([]string, 0, len(descriptors)+1)
	lines = append(lines, "Available commands:")
	for _, descriptor := range descriptors {
		lines = append(lines, fmt.Sprintf("  %-8s - %s", descriptor.name, descriptor.description))
	}
	return lines
}
