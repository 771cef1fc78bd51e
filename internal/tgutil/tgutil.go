package tgutil

import "github.com/gotd/td/tg"

// GetPeerID нормализует получателя до его числового идентификатора
// (user/chat/channel). Возвращает 0 для неизвестного типа peer.
func GetPeerID(peer tg.PeerClass) int64 {
	switch p := peer.(type) {
	case *tg.PeerUser:
		return p.UserID
	case *tg.PeerChat:
		return p.ChatID
	case *tg.PeerChannel:
		return p.ChannelID
	default:
		return 0
	}
}

// IsVoiceMessage сообщает, является ли сообщение голосовым: документ с
// атрибутом audio и флагом voice.
func IsVoiceMessage(msg *tg.Message) bool {
	media, ok := msg.Media.(*tg.MessageMediaDocument)
	if !ok {
		return false
	}
	doc, ok := media.Document.(*tg.Document)
	if !ok {
		return false
	}
	for _, attr := range doc.Attributes {
		if audio, ok := attr.(*tg.DocumentAttributeAudio); ok && audio.Voice {
			return true
		}
	}
	return false
}
