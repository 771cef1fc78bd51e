package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"sakaibot/internal/domain/commands"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/support/version"
)

// Административные команды. Выполняются только владельцем: события от
// авторизованных пиров с этими командами отбрасываются здесь, а не в гейте,
// чтобы владелец видел попытку в логе.

// runAuth — /auth list|add|remove: управление списком авторизованных.
func (d *Dispatcher) runAuth(ctx context.Context, ev Event, c commands.Auth) {
	if !ev.FromOwner {
		logger.Warnf("dispatch: /auth from non-owner %d ignored", ev.SenderID)
		return
	}

	switch c.Action {
	case "list":
		d.reply(ctx, ev, d.authListText(ctx))
	case "add":
		if err := d.store.AddAuthorized(c.UserID); err != nil {
			logger.Errorf("dispatch: auth add: %v", err)
			d.reply(ctx, ev, "⚠️ не удалось сохранить настройки")
			return
		}
		d.reply(ctx, ev, fmt.Sprintf("✅ пользователь %d авторизован", c.UserID))
	case "remove":
		removed, err := d.store.RemoveAuthorized(c.UserID)
		if err != nil {
			logger.Errorf("dispatch: auth remove: %v", err)
			d.reply(ctx, ev, "⚠️ не удалось сохранить настройки")
			return
		}
		if !removed {
			d.reply(ctx, ev, fmt.Sprintf("⚠️ пользователя %d нет в списке", c.UserID))
			return
		}
		d.reply(ctx, ev, fmt.Sprintf("✅ пользователь %d удалён из списка", c.UserID))
	}
}

func (d *Dispatcher) authListText(ctx context.Context) string {
	ids := make([]int64, 0)
	for id := range d.store.AuthorizedSet() {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "список авторизованных пуст"
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	sb.WriteString("авторизованные пользователи:\n")
	for _, id := range ids {
		sb.WriteString(fmt.Sprintf("• %s (%d)\n", d.names.UserDisplayName(ctx, id), id))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// runStatus — /status: сводка состояния подсистем.
func (d *Dispatcher) runStatus(ctx context.Context, ev Event) {
	if !ev.FromOwner {
		logger.Warnf("dispatch: /status from non-owner %d ignored", ev.SenderID)
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s %s\n", version.Name, version.Version))
	sb.WriteString(fmt.Sprintf("провайдер: %s (%s)\n", d.tgen.Provider().Name(), d.tgen.Provider().Model()))

	sb.WriteString("ключи:\n")
	for _, info := range d.tgen.Keys().Snapshot() {
		sb.WriteString(fmt.Sprintf("• %s — %s\n", info.Masked, info.Status))
	}

	sb.WriteString(fmt.Sprintf("очереди: flux=%d sdxl=%d tts=%d\n",
		d.queue.PendingCount(jobs.LaneFlux),
		d.queue.PendingCount(jobs.LaneSDXL),
		d.queue.PendingCount(jobs.LaneTTS)))
	sb.WriteString(fmt.Sprintf("активных анализов: %d\n", d.chatLock.Active()))

	if d.extraStatus != nil {
		for _, line := range d.extraStatus() {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
	}

	d.reply(ctx, ev, strings.TrimRight(sb.String(), "\n"))
}

// runHelp — /help: справка по командам.
func (d *Dispatcher) runHelp(ctx context.Context, ev Event) {
	help := strings.Join([]string{
		"команды:",
		"/prompt=<текст> — запрос к модели",
		"/translate=<lang>[,<src>]=<текст> — перевод (или реплаем без текста)",
		"/analyze=<N> или /analyze=<режим>=<N> — анализ последних N сообщений (general|fun|romance)",
		"/tellme=<N>=<вопрос> — вопрос по последним N сообщениям",
		"/tts [voice=…] [rate=…] [volume=…] <текст> — озвучка (или реплаем)",
		"/stt — расшифровка голосового (реплаем на него)",
		"/image=flux/<промпт> или /image=sdxl/<промпт> — генерация изображения",
		"/<метка> — реплаем: переслать сообщение в топик категории",
		"/auth list|add <id>|remove <id> — управление доступом (владелец)",
		"/status — состояние бота (владелец)",
	}, "\n")
	d.reply(ctx, ev, help)
}
