// Package messenger — реализация среза клиента Telegram, которым пользуется
// диспетчер команд: отправка/правка/удаление сообщений, голосовые и
// изображения, выборка истории чата и скачивание голосовых. Все random_id
// криптослучайны; идемпотентность ретраев здесь не нужна — диспетчер не
// повторяет отправки.
package messenger

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/telegram/uploader"
	"github.com/gotd/td/tg"

	"sakaibot/internal/domain/dispatch"
	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/storage"
	"sakaibot/internal/infra/telegram/peersmgr"
	"sakaibot/internal/infra/telegram/status"
	"sakaibot/internal/tgutil"
)

// Client отправляет сообщения через MTProto-клиента и резолвит имена
// отправителей через кэш пиров.
type Client struct {
	api     *tg.Client
	peers   *peersmgr.Service
	tempDir string
}

// New создаёт мессенджер. tempDir — каталог для скачанных голосовых.
func New(api *tg.Client, peers *peersmgr.Service, tempDir string) *Client {
	return &Client{api: api, peers: peers, tempDir: tempDir}
}

var _ dispatch.Messenger = (*Client)(nil)

// SendReply отправляет текст ответом на replyTo и возвращает id сообщения.
// Перед отправкой дёргает статус-менеджер: аккаунт показывает «печатает» и
// остаётся online на время активности.
func (c *Client) SendReply(ctx context.Context, peer tg.InputPeerClass, replyTo int, text string) (int, error) {
	status.Typing(ctx, peer)
	req := &tg.MessagesSendMessageRequest{
		Peer:     peer,
		Message:  text,
		RandomID: randomID(),
	}
	if replyTo != 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyTo})
	}
	updates, err := c.api.MessagesSendMessage(ctx, req)
	if err != nil {
		return 0, errors.Wrap(err, "send message")
	}
	return sentMessageID(updates), nil
}

// Send отправляет текст без реплая.
func (c *Client) Send(ctx context.Context, peer tg.InputPeerClass, text string) (int, error) {
	return c.SendReply(ctx, peer, 0, text)
}

// Edit правит текст сообщения msgID.
func (c *Client) Edit(ctx context.Context, peer tg.InputPeerClass, msgID int, text string) error {
	req := &tg.MessagesEditMessageRequest{
		Peer: peer,
		ID:   msgID,
	}
	req.SetMessage(text)
	_, err := c.api.MessagesEditMessage(ctx, req)
	if err != nil {
		return errors.Wrap(err, "edit message")
	}
	return nil
}

// Delete удаляет сообщения по id. Для супергрупп/каналов — через
// channels.deleteMessages, для остальных — с revoke для обеих сторон.
func (c *Client) Delete(ctx context.Context, peer tg.InputPeerClass, msgIDs ...int) error {
	if len(msgIDs) == 0 {
		return nil
	}
	if channel, ok := peer.(*tg.InputPeerChannel); ok {
		_, err := c.api.ChannelsDeleteMessages(ctx, &tg.ChannelsDeleteMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			ID:      msgIDs,
		})
		if err != nil {
			return errors.Wrap(err, "delete channel messages")
		}
		return nil
	}
	_, err := c.api.MessagesDeleteMessages(ctx, &tg.MessagesDeleteMessagesRequest{
		Revoke: true,
		ID:     msgIDs,
	})
	if err != nil {
		return errors.Wrap(err, "delete messages")
	}
	return nil
}

// SendVoice отправляет голосовое сообщение из файла path ответом на replyTo.
func (c *Client) SendVoice(ctx context.Context, peer tg.InputPeerClass, replyTo int, path string) error {
	up := uploader.NewUploader(c.api)
	file, err := up.FromPath(ctx, path)
	if err != nil {
		return errors.Wrap(err, "upload voice file")
	}

	media := &tg.InputMediaUploadedDocument{
		File:     file,
		MimeType: "audio/ogg",
		Attributes: []tg.DocumentAttributeClass{
			&tg.DocumentAttributeAudio{Voice: true},
			&tg.DocumentAttributeFilename{FileName: filepath.Base(path)},
		},
	}
	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    media,
		RandomID: randomID(),
	}
	if replyTo != 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyTo})
	}
	if _, err = c.api.MessagesSendMedia(ctx, req); err != nil {
		return errors.Wrap(err, "send voice")
	}
	return nil
}

// SendPhoto отправляет изображение ответом на replyTo.
func (c *Client) SendPhoto(ctx context.Context, peer tg.InputPeerClass, replyTo int, data []byte, caption string) error {
	up := uploader.NewUploader(c.api)
	file, err := up.FromBytes(ctx, "image.jpg", data)
	if err != nil {
		return errors.Wrap(err, "upload image")
	}

	req := &tg.MessagesSendMediaRequest{
		Peer:     peer,
		Media:    &tg.InputMediaUploadedPhoto{File: file},
		Message:  caption,
		RandomID: randomID(),
	}
	if replyTo != 0 {
		req.SetReplyTo(&tg.InputReplyToMessage{ReplyToMsgID: replyTo})
	}
	if _, err = c.api.MessagesSendMedia(ctx, req); err != nil {
		return errors.Wrap(err, "send photo")
	}
	return nil
}

// ForwardMessages выполняет подготовленный запрос пересылки. Используется
// маршрутизатором категоризации; random_id заполняет вызывающая сторона.
func (c *Client) ForwardMessages(ctx context.Context, req *tg.MessagesForwardMessagesRequest) error {
	if _, err := c.api.MessagesForwardMessages(ctx, req); err != nil {
		return errors.Wrap(err, "forward messages")
	}
	return nil
}

// History возвращает последние limit текстовых сообщений чата, старые раньше
// новых. Сообщения без текста пропускаются.
func (c *Client) History(ctx context.Context, peer tg.InputPeerClass, limit int) ([]dispatch.HistoryMessage, error) {
	result, err := c.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, errors.Wrap(err, "get history")
	}

	raw := extractMessages(result)
	out := make([]dispatch.HistoryMessage, 0, len(raw))
	// API отдаёт новые раньше старых; разворачиваем в хронологический порядок.
	for i := len(raw) - 1; i >= 0; i-- {
		msg, ok := raw[i].(*tg.Message)
		if !ok || strings.TrimSpace(msg.Message) == "" {
			continue
		}
		senderID := messageSenderID(msg)
		out = append(out, dispatch.HistoryMessage{
			SenderID:   senderID,
			SenderName: c.peers.UserDisplayName(ctx, senderID),
			Text:       msg.Message,
			Date:       time.Unix(int64(msg.Date), 0),
		})
	}
	return out, nil
}

// DownloadVoice скачивает голосовое сообщение msgID во временный файл и
// возвращает путь. Удаление файла — на вызывающей стороне.
func (c *Client) DownloadVoice(ctx context.Context, peer tg.InputPeerClass, msgID int) (string, error) {
	msg, err := c.fetchMessage(ctx, peer, msgID)
	if err != nil {
		return "", err
	}
	if msg == nil || !tgutil.IsVoiceMessage(msg) {
		return "", errors.Errorf("message %d is not a voice message", msgID)
	}

	media := msg.Media.(*tg.MessageMediaDocument)
	doc := media.Document.(*tg.Document)

	if err = storage.EnsureDirExists(c.tempDir); err != nil {
		return "", errors.Wrap(err, "ensure temp dir")
	}
	tmp, err := os.CreateTemp(c.tempDir, "voice-*.ogg")
	if err != nil {
		return "", errors.Wrap(err, "create temp file")
	}
	path := tmp.Name()
	if err = tmp.Close(); err != nil {
		_ = os.Remove(path)
		return "", errors.Wrap(err, "close temp file")
	}

	location := &tg.InputDocumentFileLocation{
		ID:            doc.ID,
		AccessHash:    doc.AccessHash,
		FileReference: doc.FileReference,
	}
	if _, err = downloader.NewDownloader().Download(c.api, location).ToPath(ctx, path); err != nil {
		_ = os.Remove(path)
		return "", errors.Wrap(err, "download voice")
	}
	logger.Debugf("messenger: voice %d downloaded to %s (%d bytes)", msgID, path, doc.Size)
	return path, nil
}

// fetchMessage достаёт сообщение по id с учётом типа чата.
func (c *Client) fetchMessage(ctx context.Context, peer tg.InputPeerClass, msgID int) (*tg.Message, error) {
	ids := []tg.InputMessageClass{&tg.InputMessageID{ID: msgID}}
	var (
		result tg.MessagesMessagesClass
		err    error
	)
	if channel, ok := peer.(*tg.InputPeerChannel); ok {
		result, err = c.api.ChannelsGetMessages(ctx, &tg.ChannelsGetMessagesRequest{
			Channel: &tg.InputChannel{ChannelID: channel.ChannelID, AccessHash: channel.AccessHash},
			ID:      ids,
		})
	} else {
		result, err = c.api.MessagesGetMessages(ctx, ids)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get message %d", msgID)
	}
	for _, m := range extractMessages(result) {
		if full, ok := m.(*tg.Message); ok && full.ID == msgID {
			return full, nil
		}
	}
	return nil, nil
}

// messageSenderID определяет автора сообщения для выборки истории.
func messageSenderID(msg *tg.Message) int64 {
	if from, ok := msg.GetFromID(); ok {
		return tgutil.GetPeerID(from)
	}
	if peer, ok := msg.PeerID.(*tg.PeerUser); ok {
		return peer.UserID
	}
	return 0
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

// sentMessageID извлекает id отправленного сообщения из ответа API.
// 0 — если сервер не вернул распознаваемый апдейт.
func sentMessageID(updates tg.UpdatesClass) int {
	switch u := updates.(type) {
	case *tg.UpdateShortSentMessage:
		return u.ID
	case *tg.Updates:
		for _, upd := range u.Updates {
			switch v := upd.(type) {
			case *tg.UpdateMessageID:
				return v.ID
			case *tg.UpdateNewMessage:
				if msg, ok := v.Message.(*tg.Message); ok {
					return msg.ID
				}
			case *tg.UpdateNewChannelMessage:
				if msg, ok := v.Message.(*tg.Message); ok {
					return msg.ID
				}
			}
		}
	}
	return 0
}

// randomID возвращает криптослучайный 64-битный идентификатор сообщения.
func randomID() int64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// Криптогенератор ОС практически не отказывает; запасной вариант —
		// время в наносекундах.
		return time.Now().UnixNano()
	}
	id := int64(binary.LittleEndian.Uint64(buf[:]))
	if id == 0 {
		id = 1
	}
	return id
}
