package peersmgr

// Хелперы отображения: человекочитаемые имена пользователей и сведения о
// целевой группе категоризации (заголовок, признак форума). Используются
// диспетчером для сообщений подтверждения и CLI для списков.

import (
	"context"
	"fmt"
	"strings"

	"github.com/gotd/td/tg"
)

// UserDisplayName возвращает отображаемое имя пользователя: "Имя Фамилия",
// при пустом имени — @username, в крайнем случае — числовой id.
func (s *Service) UserDisplayName(ctx context.Context, userID int64) string {
	user, err := s.Mgr.ResolveUserID(ctx, userID)
	if err != nil {
		return fmt.Sprintf("id%d", userID)
	}
	raw := user.Raw()
	if raw != nil {
		name := strings.TrimSpace(strings.TrimSpace(raw.FirstName) + " " + strings.TrimSpace(raw.LastName))
		if name != "" {
			return name
		}
		if raw.Username != "" {
			return "@" + raw.Username
		}
	}
	return fmt.Sprintf("id%d", userID)
}

// GroupInfo описывает целевую группу категоризации.
type GroupInfo struct {
	ID      int64
	Title   string
	IsForum bool
}

// ResolveGroup возвращает заголовок и признак форума для супергруппы/чата.
// Сначала пробует channel (супергруппа/форум), затем обычный chat.
func (s *Service) ResolveGroup(ctx context.Context, groupID int64) (GroupInfo, error) {
	if channel, err := s.Mgr.ResolveChannelID(ctx, groupID); err == nil {
		raw := channel.Raw()
		info := GroupInfo{ID: groupID, Title: channel.VisibleName()}
		if raw != nil {
			info.IsForum = raw.Forum
		}
		return info, nil
	}
	chat, err := s.Mgr.ResolveChatID(ctx, groupID)
	if err != nil {
		return GroupInfo{}, fmt.Errorf("resolve group %d: %w", groupID, err)
	}
	return GroupInfo{ID: groupID, Title: chat.VisibleName()}, nil
}

// InputPeerForGroup возвращает InputPeer целевой группы для ForwardMessages.
func (s *Service) InputPeerForGroup(ctx context.Context, groupID int64) (tg.InputPeerClass, error) {
	if channel, err := s.Mgr.ResolveChannelID(ctx, groupID); err == nil {
		return channel.InputPeer(), nil
	}
	chat, err := s.Mgr.ResolveChatID(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("resolve group %d: %w", groupID, err)
	}
	return chat.InputPeer(), nil
}
