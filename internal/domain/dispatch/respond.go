package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tgerr"

	"sakaibot/internal/domain/textflow"
	"sakaibot/internal/infra/logger"
)

const thinkingText = "🤔 думаю…"

// Ack собирает текст финального подтверждения: пользователь видит terminal
// event, даже если правка ответа оказалась no-op.
func Ack(now time.Time) string {
	return "✅ done - " + now.Format("15:04")
}

// editMessage правит сообщение, глотая MESSAGE_NOT_MODIFIED: повторная правка
// тем же текстом — не ошибка.
func (d *Dispatcher) editMessage(ctx context.Context, ev Event, msgID int, text string) error {
	err := d.msg.Edit(ctx, ev.ChatPeer, msgID, text)
	if err == nil || tgerr.Is(err, "MESSAGE_NOT_MODIFIED") {
		return nil
	}
	return err
}

// editOrSend правит сообщение, а при неудаче шлёт текст отдельным сообщением.
func (d *Dispatcher) editOrSend(ctx context.Context, ev Event, msgID int, text string) {
	err := d.editMessage(ctx, ev, msgID, text)
	if err == nil {
		return
	}
	logger.Warnf("dispatch: edit of %d failed, sending fresh message: %v", msgID, err)
	if _, err := d.msg.Send(ctx, ev.ChatPeer, text); err != nil {
		logger.Errorf("dispatch: fallback send failed: %v", err)
	}
}

// respond доставляет готовый ответ: BiDi-фикс, разбиение по лимиту сообщений,
// первая часть правится на «думающее» сообщение, остальные уходят отдельными
// сообщениями с паузой против флуд-лимитов.
func (d *Dispatcher) respond(ctx context.Context, ev Event, thinkingID int, text string) {
	text = textflow.FixBidi(text)
	chunks := textflow.Split(text, textflow.MessageCap)
	if len(chunks) == 0 {
		chunks = []string{"(пустой ответ)"}
	}

	d.editOrSend(ctx, ev, thinkingID, chunks[0])
	for _, chunk := range chunks[1:] {
		if err := d.sendPacer.Wait(ctx); err != nil {
			return
		}
		if _, err := d.msg.Send(ctx, ev.ChatPeer, chunk); err != nil {
			logger.Errorf("dispatch: send chunk failed: %v", err)
			return
		}
	}
}

// acknowledge шлёт финальное подтверждение ответом на исходную команду.
func (d *Dispatcher) acknowledge(ctx context.Context, ev Event) {
	if _, err := d.msg.SendReply(ctx, ev.ChatPeer, ev.MsgID, Ack(d.now().In(d.loc))); err != nil {
		logger.Warnf("dispatch: ack send failed: %v", err)
	}
}

// sendThinking создаёт «думающее» сообщение команды. Ошибка фатальна для
// команды: без него нечего править.
func (d *Dispatcher) sendThinking(ctx context.Context, ev Event) (int, error) {
	return d.msg.SendReply(ctx, ev.ChatPeer, ev.MsgID, thinkingText)
}

// queueStatusText — текст статусного сообщения задачи в очереди.
func queueStatusText(lane string, position int) string {
	if position > 0 {
		return fmt.Sprintf("⏳ в очереди %s, позиция %d…", lane, position)
	}
	return fmt.Sprintf("⏳ %s: генерация…", lane)
}
