// Package categorize — маршрутизация категоризируемых сообщений: команда-метка
// в реплае пересылает отвеченное сообщение в настроенную группу, при форуме —
// в привязанный к команде топик.
package categorize

import (
	"context"
	"crypto/rand"
	"encoding/binary"

	"github.com/go-faster/errors"
	"github.com/gotd/td/tg"

	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/corr"
	"sakaibot/internal/infra/logger"
)

// Ошибки маршрутизации; диспетчер переводит их в ответ пользователю.
var (
	ErrNoTargetGroup = errors.New("categorize: target group is not configured")
	ErrNotMapped     = errors.New("categorize: command is not mapped")
	ErrNoReply       = errors.New("categorize: command must be a reply")
)

// Forwarder — срез клиента Telegram, достаточный для пересылки.
type Forwarder interface {
	ForwardMessages(ctx context.Context, req *tg.MessagesForwardMessagesRequest) error
}

// PeerResolver отдаёт InputPeer целевой группы.
type PeerResolver interface {
	InputPeerForGroup(ctx context.Context, groupID int64) (tg.InputPeerClass, error)
}

// Router пересылает сообщения по карте «команда → топик».
type Router struct {
	store    *settings.Store
	resolver PeerResolver
	fwd      Forwarder
	randomID func() int64
}

// Option настраивает Router.
type Option func(*Router)

// WithRandomID подменяет генератор random_id. Для тестов.
func WithRandomID(f func() int64) Option {
	return func(r *Router) { r.randomID = f }
}

// NewRouter создаёт маршрутизатор категоризации.
func NewRouter(store *settings.Store, resolver PeerResolver, fwd Forwarder, opts ...Option) *Router {
	r := &Router{
		store:    store,
		resolver: resolver,
		fwd:      fwd,
		randomID: cryptoRandomID,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsMapped сообщает, привязана ли команда name к топику. По этому признаку
// диспетчер отличает категоризацию от неизвестной команды.
func (r *Router) IsMapped(name string) bool {
	_, ok := r.store.TopicFor(name)
	return ok
}

// Route пересылает сообщение replyMsgID из чата fromPeer в целевую группу.
// Топик берётся из карты команд; nil-топик — основной чат группы. Успешная
// пересылка видна пользователю сама по себе, текстовый ответ не шлётся.
func (r *Router) Route(ctx context.Context, name string, fromPeer tg.InputPeerClass, replyMsgID int) error {
	if replyMsgID == 0 {
		return ErrNoReply
	}
	topic, ok := r.store.TopicFor(name)
	if !ok {
		return errors.Wrapf(ErrNotMapped, "%q", name)
	}

	snap := r.store.Snapshot()
	if snap.TargetGroup == nil {
		return ErrNoTargetGroup
	}

	toPeer, err := r.resolver.InputPeerForGroup(ctx, snap.TargetGroup.ID)
	if err != nil {
		return errors.Wrapf(err, "categorize: resolve group %d", snap.TargetGroup.ID)
	}

	req := &tg.MessagesForwardMessagesRequest{
		FromPeer: fromPeer,
		ID:       []int{replyMsgID},
		RandomID: []int64{r.randomID()},
		ToPeer:   toPeer,
	}
	if topic != nil {
		req.SetTopMsgID(*topic)
	}

	if err = r.fwd.ForwardMessages(ctx, req); err != nil {
		return errors.Wrapf(err, "categorize: forward msg %d via %q", replyMsgID, name)
	}

	logger.Logger().Debug("категоризация выполнена", corr.Field(ctx))
	return nil
}

// cryptoRandomID — свежий 64-битный random_id для ForwardMessages.
func cryptoRandomID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic(err)
	}
	return int64(binary.LittleEndian.Uint64(buf[:]))
}
