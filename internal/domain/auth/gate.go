// Package auth — классификация входящих событий по источнику полномочий.
// Гейт чистый: решение принимается только по самому событию и текущим
// настройкам, без I/O. Необходимые данные (текст цитируемого сообщения и т. п.)
// добывает маршрутизатор событий до вызова Classify.
package auth

import (
	"strings"

	"sakaibot/internal/domain/commands"
)

// Kind — итог классификации. Ровно один вариант на каждое событие.
type Kind int

const (
	// Ignore — событие не интересно диспетчеру; отбрасывается молча.
	Ignore Kind = iota
	// OwnerDirect — исходящее сообщение владельца, начинающееся со слеша.
	OwnerDirect
	// AuthorizedDirect — входящая команда от пользователя из списка авторизованных.
	AuthorizedDirect
	// ConfirmFlow — владелец ответил ключевым словом подтверждения на чужую
	// команду; цитируемая команда исполняется с полномочиями владельца.
	ConfirmFlow
)

// String — имя для логов.
func (k Kind) String() string {
	switch k {
	case OwnerDirect:
		return "owner_direct"
	case AuthorizedDirect:
		return "authorized_direct"
	case ConfirmFlow:
		return "confirm_flow"
	default:
		return "ignore"
	}
}

// Event — снимок входящего сообщения, достаточный для классификации.
type Event struct {
	Outgoing bool
	SenderID int64
	ChatID   int64
	Text     string

	// Данные цитируемого сообщения (нулевые, если это не reply).
	ReplyToMsgID    int
	ReplyToSenderID int64
	ReplyToText     string
}

// Decision — результат классификации.
type Decision struct {
	Kind Kind
	// CommandText — текст команды для диспетчера: само событие либо, в
	// confirm-потоке, текст цитируемого сообщения.
	CommandText string
	// ProposerID — автор исходной команды в confirm-потоке (для sender_info).
	ProposerID int64
	// ConfirmMsgID — id сообщения-подтверждения; после успешной диспетчеризации
	// оно удаляется.
	ConfirmMsgID int
}

// Classify относит событие ровно к одному из четырёх классов.
// authorized — снимок множества авторизованных пользователей из настроек;
// confirmKeyword — ключевое слово подтверждения (уже в нижнем регистре).
func Classify(ev Event, authorized map[int64]struct{}, confirmKeyword string, confirmMsgID int) Decision {
	text := strings.TrimSpace(ev.Text)

	if ev.Outgoing {
		// Подтверждение: точное совпадение с ключевым словом + reply на команду.
		if strings.ToLower(text) == confirmKeyword &&
			ev.ReplyToMsgID != 0 && commands.IsSlashCommand(ev.ReplyToText) {
			return Decision{
				Kind:         ConfirmFlow,
				CommandText:  strings.TrimSpace(ev.ReplyToText),
				ProposerID:   ev.ReplyToSenderID,
				ConfirmMsgID: confirmMsgID,
			}
		}
		if commands.IsSlashCommand(text) {
			return Decision{Kind: OwnerDirect, CommandText: text}
		}
		return Decision{Kind: Ignore}
	}

	if _, ok := authorized[ev.SenderID]; ok && commands.IsSlashCommand(text) {
		return Decision{Kind: AuthorizedDirect, CommandText: text}
	}
	return Decision{Kind: Ignore}
}
