// Package dispatch — оркестрация выполнения команд: от классифицированного
// события до ответа в Telegram. Диспетчер владеет «думающим» сообщением
// команды, лимитами, чат-блокировками и очередями генерации.
package dispatch

import (
	"context"
	"time"

	"github.com/gotd/td/tg"
)

// Event — нормализованное событие команды после AuthorizationGate.
type Event struct {
	// ChatPeer — чат, в котором пришла команда.
	ChatPeer tg.InputPeerClass
	ChatID   int64
	// MsgID — сообщение с командой; ответы реплаят на него.
	MsgID int
	// SenderID — принципал для rate limit: владелец либо авторизованный пир.
	SenderID int64
	Text     string

	// Контекст реплая: нужен /translate, /tts в reply-форме, /stt и категоризации.
	ReplyToMsgID   int
	ReplyToText    string
	ReplyToIsVoice bool

	// ConfirmMsgID — для confirm-потока: сообщение владельца с ключевым
	// словом, удаляется после успешной диспетчеризации.
	ConfirmMsgID int
	// FromOwner — команды администрирования доступны только владельцу.
	FromOwner bool
}

// HistoryMessage — одно сообщение выборки истории чата для анализа.
type HistoryMessage struct {
	SenderID   int64
	SenderName string
	Text       string
	Date       time.Time
}

// Messenger — срез клиента Telegram, которым пользуется диспетчер. Узкий
// интерфейс позволяет тестировать оркестрацию без MTProto.
type Messenger interface {
	// SendReply отправляет текст ответом на replyTo и возвращает id сообщения.
	SendReply(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error)
	// Send отправляет текст без реплая.
	Send(ctx context.Context, peer tg.InputPeerClass, text string) (int, error)
	// Edit правит текст сообщения msgID.
	Edit(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error
	// Delete удаляет сообщения по id.
	Delete(ctx context.Context, peer tg.InputPeerClass, msgIDs ...int) error
	// SendVoice отправляет голосовое сообщение из файла path ответом на replyTo.
	SendVoice(ctx context.Context, peer tg.InputPeerClass, replyTo int, path string) error
	// SendPhoto отправляет изображение ответом на replyTo.
	SendPhoto(ctx context.Context, peer tg.InputPeerClass, replyTo int, data []byte, caption string) error
	// History возвращает последние limit сообщений чата, старые раньше новых.
	History(ctx context.Context, peer tg.InputPeerClass, limit int) ([]HistoryMessage, error)
	// DownloadVoice скачивает голосовое сообщение во временный файл.
	DownloadVoice(ctx context.Context, peer tg.InputPeerClass, msgID int) (string, error)
}
