package dispatch

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"golang.org/x/time/rate"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/stt"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/chatlock"
	"sakaibot/internal/domain/commands"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/domain/textflow"
	"sakaibot/internal/infra/corr"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/ratelimit"
)

// interChunkDelay — пауза между частями длинного ответа.
const interChunkDelay = 700 * time.Millisecond

// queuePollInterval — период обновления статусного сообщения задачи в очереди.
const queuePollInterval = 2 * time.Second

// NameResolver отдаёт отображаемое имя пользователя для логов.
type NameResolver interface {
	UserDisplayName(ctx context.Context, userID int64) string
}

// Deps — зависимости диспетчера. Все обязательные, кроме Transcriber
// (nil отключает /stt) и ExtraStatus.
type Deps struct {
	Messenger   Messenger
	TextGen     *TextGenerator
	RateLimit   *ratelimit.Limiter
	ChatLock    *chatlock.Registry
	Queue       *jobs.Queue
	Categorizer *categorize.Router
	Settings    *settings.Store
	Transcriber *stt.Transcriber
	Names       NameResolver
	Limits      commands.Limits
	// Location — таймзона приложения для отметки времени в подтверждении.
	Location *time.Location
	// ExtraStatus добавляет в /status строки от внешних подсистем
	// (состояние соединения, монитор здоровья).
	ExtraStatus func() []string
}

// Dispatcher выполняет классифицированные события команд.
type Dispatcher struct {
	msg         Messenger
	tgen        *TextGenerator
	limiter     *ratelimit.Limiter
	chatLock    *chatlock.Registry
	queue       *jobs.Queue
	router      *categorize.Router
	store       *settings.Store
	transcriber *stt.Transcriber
	names       NameResolver
	limits      commands.Limits
	loc         *time.Location
	extraStatus func() []string

	sendPacer *rate.Limiter
	now       func() time.Time
}

// New создаёт диспетчер.
func New(deps Deps) *Dispatcher {
	loc := deps.Location
	if loc == nil {
		loc = time.Local
	}
	return &Dispatcher{
		msg:         deps.Messenger,
		tgen:        deps.TextGen,
		limiter:     deps.RateLimit,
		chatLock:    deps.ChatLock,
		queue:       deps.Queue,
		router:      deps.Categorizer,
		store:       deps.Settings,
		transcriber: deps.Transcriber,
		names:       deps.Names,
		limits:      deps.Limits,
		loc:         loc,
		extraStatus: deps.ExtraStatus,
		sendPacer:   rate.NewLimiter(rate.Every(interChunkDelay), 1),
		now:         time.Now,
	}
}

// Handle выполняет одно событие команды. Вызывается из пула обработчиков
// событий; паника обработчика не должна ронять процесс.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("dispatch: panic while handling command: %v", r)
		}
	}()

	sender := d.names.UserDisplayName(ctx, ev.SenderID)
	logger.Logger().Info("команда принята", corr.Field(ctx))
	logger.Debugf("dispatch: %s (%d) in chat %d: %s", sender, ev.SenderID, ev.ChatID, firstWord(ev.Text))

	cmd, err := commands.Parse(ev.Text, d.limits)
	if err != nil {
		var usage *commands.UsageError
		if errors.As(err, &usage) {
			d.reply(ctx, ev, userMessage(err))
		} else {
			logger.Warnf("dispatch: parse failed: %v", err)
		}
		return
	}

	d.execute(ctx, ev, cmd)

	// Confirm-сообщение удаляется после диспетчеризации независимо от исхода
	// самой команды.
	if ev.ConfirmMsgID != 0 {
		if err := d.msg.Delete(ctx, ev.ChatPeer, ev.ConfirmMsgID); err != nil {
			logger.Warnf("dispatch: delete confirm message %d: %v", ev.ConfirmMsgID, err)
		}
	}
}

// execute ветвится по типу команды.
func (d *Dispatcher) execute(ctx context.Context, ev Event, cmd commands.Command) {
	switch c := cmd.(type) {
	case commands.Prompt:
		d.runAIText(ctx, ev, ai.PromptDirect(), c.Text)
	case commands.Translate:
		d.runTranslate(ctx, ev, c)
	case commands.Analyze:
		d.runAnalyze(ctx, ev, c)
	case commands.TellMe:
		d.runTellMe(ctx, ev, c)
	case commands.TTS:
		d.runTTS(ctx, ev, c)
	case commands.STT:
		d.runSTT(ctx, ev)
	case commands.Image:
		d.runImage(ctx, ev, c)
	case commands.Categorize:
		d.runCategorize(ctx, ev, c)
	case commands.Auth:
		d.runAuth(ctx, ev, c)
	case commands.Status:
		d.runStatus(ctx, ev)
	case commands.Help:
		d.runHelp(ctx, ev)
	default:
		logger.Errorf("dispatch: unhandled command type %T", cmd)
	}
}

// allowAI проверяет локальный лимит AI-команд принципала; при отказе отвечает
// пользователю.
func (d *Dispatcher) allowAI(ctx context.Context, ev Event) bool {
	allowed, _, retryAfter := d.limiter.CheckAndConsume(ev.SenderID)
	if !allowed {
		d.reply(ctx, ev, rateLimitMessage(retryAfter))
	}
	return allowed
}

// runAIText — общий путь текстовых AI-команд: thinking, генерация, доставка,
// подтверждение.
func (d *Dispatcher) runAIText(ctx context.Context, ev Event, system, prompt string) {
	if !d.allowAI(ctx, ev) {
		return
	}
	thinkingID, err := d.sendThinking(ctx, ev)
	if err != nil {
		logger.Errorf("dispatch: send thinking message: %v", err)
		return
	}

	out, err := d.tgen.Generate(ctx, system, prompt)
	if err != nil {
		logger.Warnf("dispatch: generation failed: %v", err)
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}
	d.respond(ctx, ev, thinkingID, out)
	d.acknowledge(ctx, ev)
}

// runTranslate — /translate, включая reply-форму с извлечением расшифровки
// из ответа /stt.
func (d *Dispatcher) runTranslate(ctx context.Context, ev Event, c commands.Translate) {
	text := c.Text
	if c.FromReply {
		if ev.ReplyToMsgID == 0 || strings.TrimSpace(ev.ReplyToText) == "" {
			d.reply(ctx, ev, "⚠️ reply-форма /translate требует ответа на сообщение с текстом")
			return
		}
		if transcript, ok := stt.ExtractTranscript(ev.ReplyToText); ok {
			text = transcript
		} else {
			text = strings.TrimSpace(ev.ReplyToText)
		}
	}
	d.runAIText(ctx, ev, ai.PromptTranslate(c.TargetLang, c.SourceLang), text)
}

// runAnalyze — /analyze под чат-блокировкой.
func (d *Dispatcher) runAnalyze(ctx context.Context, ev Event, c commands.Analyze) {
	if !d.allowAI(ctx, ev) {
		return
	}
	admitted, reason := d.chatLock.TryBegin(ev.ChatID, ev.SenderID, c.Mode)
	if !admitted {
		d.reply(ctx, ev, "⚠️ "+reason)
		return
	}
	outcome := "ok"
	defer func() { d.chatLock.End(ev.ChatID, outcome) }()

	thinkingID, err := d.sendThinking(ctx, ev)
	if err != nil {
		outcome = "send failed"
		logger.Errorf("dispatch: send thinking message: %v", err)
		return
	}

	excerpt, err := d.chatExcerpt(ctx, ev, c.Count)
	if err != nil {
		outcome = "history failed"
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}

	out, err := d.tgen.Generate(ctx, ai.PromptAnalyze(c.Mode), excerpt)
	if err != nil {
		outcome = "generation failed"
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}
	d.respond(ctx, ev, thinkingID, out)
	d.acknowledge(ctx, ev)
}

// runTellMe — /tellme: вопрос по выдержке истории, тоже под чат-блокировкой.
func (d *Dispatcher) runTellMe(ctx context.Context, ev Event, c commands.TellMe) {
	if !d.allowAI(ctx, ev) {
		return
	}
	admitted, reason := d.chatLock.TryBegin(ev.ChatID, ev.SenderID, "tellme")
	if !admitted {
		d.reply(ctx, ev, "⚠️ "+reason)
		return
	}
	outcome := "ok"
	defer func() { d.chatLock.End(ev.ChatID, outcome) }()

	thinkingID, err := d.sendThinking(ctx, ev)
	if err != nil {
		outcome = "send failed"
		logger.Errorf("dispatch: send thinking message: %v", err)
		return
	}

	excerpt, err := d.chatExcerpt(ctx, ev, c.Count)
	if err != nil {
		outcome = "history failed"
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}

	out, err := d.tgen.Generate(ctx, ai.PromptTellme(c.Question), excerpt)
	if err != nil {
		outcome = "generation failed"
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}
	d.respond(ctx, ev, thinkingID, out)
	d.acknowledge(ctx, ev)
}

// runTTS — /tts через полосу синтеза.
func (d *Dispatcher) runTTS(ctx context.Context, ev Event, c commands.TTS) {
	text := c.Text
	if c.FromReply {
		if ev.ReplyToMsgID == 0 || strings.TrimSpace(ev.ReplyToText) == "" {
			d.reply(ctx, ev, "⚠️ reply-форма /tts требует ответа на сообщение с текстом")
			return
		}
		text = strings.TrimSpace(ev.ReplyToText)
	}

	ticket, err := d.queue.Enqueue(jobs.LaneTTS, jobs.Request{
		Prompt:    text,
		Principal: ev.SenderID,
		Params: map[string]string{
			"voice":  c.Voice,
			"rate":   c.Rate,
			"volume": c.Volume,
		},
	})
	if err != nil {
		d.reply(ctx, ev, userMessage(err))
		return
	}
	defer ticket.Cleanup()

	statusID, err := d.msg.SendReply(ctx, ev.ChatPeer, ev.MsgID, queueStatusText("tts", ticket.Position()))
	if err != nil {
		logger.Errorf("dispatch: send status message: %v", err)
		return
	}

	res, err := d.awaitWithStatus(ctx, ev, ticket, statusID, "tts")
	if err != nil {
		d.editOrSend(ctx, ev, statusID, userMessage(err))
		return
	}
	defer os.Remove(res.FilePath)

	if err = d.msg.SendVoice(ctx, ev.ChatPeer, ev.MsgID, res.FilePath); err != nil {
		logger.Errorf("dispatch: send voice: %v", err)
		d.editOrSend(ctx, ev, statusID, "⚠️ не удалось отправить голосовое сообщение")
		return
	}
	d.deleteStatus(ctx, ev, statusID)
}

// runSTT — /stt: расшифровка голосового из реплая плюс резюме.
func (d *Dispatcher) runSTT(ctx context.Context, ev Event) {
	if d.transcriber == nil {
		d.reply(ctx, ev, "⚠️ распознавание речи не настроено")
		return
	}
	if ev.ReplyToMsgID == 0 || !ev.ReplyToIsVoice {
		d.reply(ctx, ev, "⚠️ /stt работает только ответом на голосовое сообщение")
		return
	}

	thinkingID, err := d.sendThinking(ctx, ev)
	if err != nil {
		logger.Errorf("dispatch: send thinking message: %v", err)
		return
	}

	audioPath, err := d.msg.DownloadVoice(ctx, ev.ChatPeer, ev.ReplyToMsgID)
	if err != nil {
		logger.Warnf("dispatch: download voice: %v", err)
		d.editOrSend(ctx, ev, thinkingID, "⚠️ не удалось скачать голосовое сообщение")
		return
	}
	defer os.Remove(audioPath)

	transcript, err := d.transcribe(ctx, audioPath)
	if err != nil {
		logger.Warnf("dispatch: transcribe: %v", err)
		d.editOrSend(ctx, ev, thinkingID, userMessage(err))
		return
	}

	// Промежуточная правка: расшифровка видна сразу, пока готовится резюме.
	if preview := textflow.FixBidi(transcript); preview != "" {
		if chunks := textflow.Split(preview, textflow.MessageCap); len(chunks) > 0 {
			preview = chunks[0]
		}
		d.editOrSend(ctx, ev, thinkingID, preview)
	}

	// Резюме — best effort: расшифровка ценна и без него.
	summary, err := d.tgen.Generate(ctx, ai.PromptSummarize(), transcript)
	if err != nil {
		logger.Warnf("dispatch: summary failed: %v", err)
		summary = ""
	}

	d.respond(ctx, ev, thinkingID, stt.FormatReply(transcript, summary))
	d.acknowledge(ctx, ev)
}

// transcribe вызывает распознавание с ключом из пула и транслирует исход в
// состояние ключа.
func (d *Dispatcher) transcribe(ctx context.Context, audioPath string) (string, error) {
	key, err := d.tgen.Keys().Current()
	if err != nil {
		return "", err
	}
	transcript, err := d.transcriber.Transcribe(ctx, key.Secret, audioPath)
	switch {
	case err == nil:
		d.tgen.Keys().MarkSuccess()
		return transcript, nil
	case ai.IsQuotaExhausted(err):
		d.tgen.Keys().MarkDayExhausted()
	case ai.IsRateLimit(err):
		d.tgen.Keys().MarkTransientFailure(true)
	default:
		d.tgen.Keys().MarkTransientFailure(false)
	}
	return "", err
}

// runImage — /image через полосу модели.
func (d *Dispatcher) runImage(ctx context.Context, ev Event, c commands.Image) {
	lane := jobs.Lane(c.Model)
	ticket, err := d.queue.Enqueue(lane, jobs.Request{Prompt: c.Prompt, Principal: ev.SenderID})
	if err != nil {
		d.reply(ctx, ev, userMessage(err))
		return
	}
	defer ticket.Cleanup()

	statusID, err := d.msg.SendReply(ctx, ev.ChatPeer, ev.MsgID, queueStatusText(c.Model, ticket.Position()))
	if err != nil {
		logger.Errorf("dispatch: send status message: %v", err)
		return
	}

	res, err := d.awaitWithStatus(ctx, ev, ticket, statusID, c.Model)
	if err != nil {
		d.editOrSend(ctx, ev, statusID, userMessage(err))
		return
	}

	if err = d.msg.SendPhoto(ctx, ev.ChatPeer, ev.MsgID, res.Data, c.Prompt); err != nil {
		logger.Errorf("dispatch: send photo: %v", err)
		d.editOrSend(ctx, ev, statusID, "⚠️ не удалось отправить изображение")
		return
	}
	d.deleteStatus(ctx, ev, statusID)
}

// awaitWithStatus ждёт завершения задачи, периодически обновляя статусное
// сообщение позицией в очереди.
func (d *Dispatcher) awaitWithStatus(ctx context.Context, ev Event, ticket *jobs.Ticket, statusID int, lane string) (jobs.Result, error) {
	type awaited struct {
		res jobs.Result
		err error
	}
	done := make(chan awaited, 1)
	go func() {
		res, err := ticket.Await(ctx)
		done <- awaited{res: res, err: err}
	}()

	ticker := time.NewTicker(queuePollInterval)
	defer ticker.Stop()

	lastStatus := ""
	for {
		select {
		case a := <-done:
			return a.res, a.err
		case <-ticker.C:
			text := queueStatusText(lane, ticket.Position())
			if text == lastStatus {
				continue
			}
			lastStatus = text
			if err := d.editMessage(ctx, ev, statusID, text); err != nil {
				logger.Warnf("dispatch: status update failed: %v", err)
			}
		}
	}
}

// runCategorize — команда-метка категоризации.
func (d *Dispatcher) runCategorize(ctx context.Context, ev Event, c commands.Categorize) {
	if !d.router.IsMapped(c.Name) {
		d.reply(ctx, ev, fmt.Sprintf("⚠️ неизвестная команда /%s", c.Name))
		return
	}
	if err := d.router.Route(ctx, c.Name, ev.ChatPeer, ev.ReplyToMsgID); err != nil {
		logger.Warnf("dispatch: categorize failed: %v", err)
		d.reply(ctx, ev, userMessage(err))
		return
	}
	// Успех виден пользователю самой пересылкой, текстовый ответ не нужен.
}

// chatExcerpt собирает выдержку истории чата для анализа.
func (d *Dispatcher) chatExcerpt(ctx context.Context, ev Event, count int) (string, error) {
	history, err := d.msg.History(ctx, ev.ChatPeer, count)
	if err != nil {
		return "", errors.Wrap(err, "fetch history")
	}
	if len(history) == 0 {
		return "", &commands.UsageError{Hint: "в этом чате нет сообщений для анализа"}
	}

	var sb strings.Builder
	for _, m := range history {
		if strings.TrimSpace(m.Text) == "" {
			continue
		}
		sb.WriteString(m.Date.In(d.loc).Format("2006-01-02 15:04"))
		sb.WriteString(" ")
		sb.WriteString(m.SenderName)
		sb.WriteString(": ")
		sb.WriteString(m.Text)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// reply — короткий ответ на исходную команду.
func (d *Dispatcher) reply(ctx context.Context, ev Event, text string) {
	if _, err := d.msg.SendReply(ctx, ev.ChatPeer, ev.MsgID, text); err != nil {
		logger.Warnf("dispatch: reply failed: %v", err)
	}
}

// deleteStatus убирает статусное сообщение после доставки результата.
func (d *Dispatcher) deleteStatus(ctx context.Context, ev Event, statusID int) {
	if err := d.msg.Delete(ctx, ev.ChatPeer, statusID); err != nil {
		logger.Warnf("dispatch: delete status message %d: %v", statusID, err)
	}
}

// firstWord — имя команды для отладочного лога, без аргументов с
// пользовательским текстом.
func firstWord(text string) string {
	for i, c := range text {
		if c == ' ' || c == '=' || c == '\n' {
			return text[:i]
		}
	}
	return text
}
