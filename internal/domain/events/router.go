// Package events — маршрутизация апдейтов Telegram в диспетчер команд:
// регистрация обработчиков gotd, дедупликация повторных апдейтов, добыча
// контекста реплая, классификация через гейт авторизации и передача события
// в пул воркеров.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"
	"github.com/panjf2000/ants/v2"

	"sakaibot/internal/domain/auth"
	"sakaibot/internal/domain/commands"
	"sakaibot/internal/domain/dispatch"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/concurrency"
	"sakaibot/internal/infra/corr"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/telegram/peersmgr"
	"sakaibot/internal/tgutil"
)

// Handler — потребитель классифицированных событий.
type Handler interface {
	Handle(ctx context.Context, ev dispatch.Event)
}

// Router связывает поток апдейтов gotd с диспетчером.
type Router struct {
	api            *tg.Client
	peers          *peersmgr.Service
	store          *settings.Store
	handler        Handler
	dedup          *concurrency.Deduplicator
	pool           *ants.Pool
	confirmKeyword string

	mu     sync.Mutex
	selfID int64
	runCtx context.Context
	cancel context.CancelFunc
}

// NewRouter создаёт маршрутизатор. poolSize — размер пула обработчиков;
// confirmKeyword ожидается в нижнем регистре.
func NewRouter(api *tg.Client, peers *peersmgr.Service, store *settings.Store,
	handler Handler, confirmKeyword string, poolSize int, dedup *concurrency.Deduplicator,
) (*Router, error) {
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, errors.Wrap(err, "events: create worker pool")
	}
	return &Router{
		api:            api,
		peers:          peers,
		store:          store,
		handler:        handler,
		dedup:          dedup,
		pool:           pool,
		confirmKeyword: strings.ToLower(confirmKeyword),
	}, nil
}

// Register вешает обработчики на диспетчер апдейтов gotd. Личные и групповые
// чаты приходят как NewMessage, супергруппы — как NewChannelMessage.
func (r *Router) Register(d tg.UpdateDispatcher) {
	d.OnNewMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewMessage) error {
		return r.onMessage(ctx, e, u.Message)
	})
	d.OnNewChannelMessage(func(ctx context.Context, e tg.Entities, u *tg.UpdateNewChannelMessage) error {
		return r.onMessage(ctx, e, u.Message)
	})
}

// SetSelfID сообщает маршрутизатору id владельца после авторизации.
func (r *Router) SetSelfID(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfID = id
}

// Start запускает фоновые части маршрутизатора.
func (r *Router) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.runCtx, r.cancel = runCtx, cancel
	r.mu.Unlock()
	r.dedup.Start(runCtx)
}

// Stop прекращает приём событий и освобождает пул. Задачи в полёте
// довершаются в пределах отмены их контекста.
func (r *Router) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.dedup.Stop()
	r.pool.Release()
}

// onMessage — общий пайплайн для обоих типов апдейтов.
func (r *Router) onMessage(ctx context.Context, entities tg.Entities, mc tg.MessageClass) error {
	msg, ok := mc.(*tg.Message)
	if !ok {
		return nil
	}

	// Прогреваем кэш пиров: entities апдейта содержат access hash, без
	// которого не собрать InputPeer для ответа.
	if err := r.peers.ApplyEntities(ctx, entities); err != nil {
		logger.Debugf("events: apply entities: %v", err)
	}

	text := strings.TrimSpace(msg.Message)
	if text == "" {
		return nil
	}
	// Дешёвый отсев до дедупликации: интересны только слеш-команды и
	// подтверждение владельца.
	if !commands.IsSlashCommand(text) && !(msg.Out && strings.ToLower(text) == r.confirmKeyword) {
		return nil
	}

	chatID := tgutil.GetPeerID(msg.PeerID)
	if r.dedup.Seen(chatID, msg.ID, msg.EditDate) {
		return nil
	}

	authEv := auth.Event{
		Outgoing: msg.Out,
		SenderID: r.senderID(msg, chatID),
		ChatID:   chatID,
		Text:     text,
	}

	// Контекст реплая нужен и гейту (confirm), и командам reply-формы.
	var replyIsVoice bool
	if header, hasReply := msg.GetReplyTo(); hasReply {
		if rh, okHeader := header.(*tg.MessageReplyHeader); okHeader && rh.ReplyToMsgID != 0 {
			authEv.ReplyToMsgID = rh.ReplyToMsgID
			if replied, err := r.fetchReply(ctx, msg, rh.ReplyToMsgID); err != nil {
				logger.Warnf("events: fetch replied message %d: %v", rh.ReplyToMsgID, err)
			} else if replied != nil {
				authEv.ReplyToText = replied.Message
				authEv.ReplyToSenderID = r.senderID(replied, chatID)
				replyIsVoice = tgutil.IsVoiceMessage(replied)
			}
		}
	}

	decision := auth.Classify(authEv, r.store.AuthorizedSet(), r.confirmKeyword, msg.ID)
	if decision.Kind == auth.Ignore {
		return nil
	}

	peer, err := r.peers.InputPeerFromMessage(ctx, msg)
	if err != nil {
		logger.Warnf("events: resolve input peer for chat %d: %v", chatID, err)
		return nil
	}

	ev := dispatch.Event{
		ChatPeer:     peer,
		ChatID:       chatID,
		Text:         decision.CommandText,
		ConfirmMsgID: decision.ConfirmMsgID,
		FromOwner:    decision.Kind == auth.OwnerDirect || decision.Kind == auth.ConfirmFlow,
	}
	switch decision.Kind {
	case auth.ConfirmFlow:
		// Исполняется цитируемая команда: ответы идут на неё, принципал — её автор.
		ev.MsgID = authEv.ReplyToMsgID
		ev.SenderID = decision.ProposerID
	default:
		ev.MsgID = msg.ID
		ev.SenderID = authEv.SenderID
		ev.ReplyToMsgID = authEv.ReplyToMsgID
		ev.ReplyToText = authEv.ReplyToText
		ev.ReplyToIsVoice = replyIsVoice
	}

	r.mu.Lock()
	runCtx := r.runCtx
	r.mu.Unlock()
	if runCtx == nil || runCtx.Err() != nil {
		return nil
	}

	// Обработка уходит в пул на контексте маршрутизатора: контекст апдейта
	// живёт только до возврата обработчика.
	taskCtx := corr.WithID(runCtx, corr.New())
	logger.Logger().Debug("событие классифицировано: "+decision.Kind.String(), corr.Field(taskCtx))
	if err := r.pool.Submit(func() { r.handler.Handle(taskCtx, ev) }); err != nil {
		logger.Errorf("events: submit to worker pool: %v", err)
	}
	return nil
}

// senderID определяет автора сообщения: для исходящих — владелец, иначе
// FromID, а в личном чате без FromID — сам собеседник.
func (r *Router) senderID(msg *tg.Message, chatID int64) int64 {
	if msg.Out {
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.selfID
	}
	if from, ok := msg.GetFromID(); ok {
		return tgutil.GetPeerID(from)
	}
	if _, isUser := msg.PeerID.(*tg.PeerUser); isUser {
		return chatID
	}
	return 0
}

// fetchReply достаёт цитируемое сообщение. Для супергрупп — channels.getMessages,
// иначе messages.getMessages.
func (r *Router) fetchReply(ctx context.Context, msg *tg.Message, replyID int) (*tg.Message, error) {
	peer, err := r.peers.InputPeerFromMessage(ctx, msg)
	if err != nil {
		return nil, errors.Wrap(err, "resolve peer")
	}

	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: replyID}}
	var result tg.MessagesMessagesClass
	if channel, isChannel := peer.(*tg.InputPeerChannel); isChannel {
		result, err = r.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			ID:      ids,
		})
	} else {
		result, err = r.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, err
	}

	for _, m := range extractMessages(result) {
		if full, okMsg := m.(*tg.Message); okMsg && full.ID == replyID {
			return full, nil
		}
	}
	return nil, nil
}

// extractMessages разворачивает варианты messages.Messages.
func extractMessages(result tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := result.(type) {
	case *tg.MessagesMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesChannelMessages:
		return v.Messages
	default:
		return nil
	}
}
