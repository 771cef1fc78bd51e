package events

import (
	"testing"

	"github.com/gotd/td/tg"
)

func TestSenderIDVariants(t *testing.T) {
	t.Parallel()

	r := &Router{selfID: 111}

	out := &tg.Message{Out: true, PeerID: &tg.PeerUser{UserID: 222}}
	if got := r.senderID(out, 222); got != 111 {
		t.Fatalf("outgoing: sender = %d, want 111", got)
	}

	withFrom := &tg.Message{PeerID: &tg.PeerChannel{ChannelID: 5}}
	withFrom.SetFromID(&tg.PeerUser{UserID: 333})
	if got := r.senderID(withFrom, 5); got != 333 {
		t.Fatalf("group: sender = %d, want 333", got)
	}

	pm := &tg.Message{PeerID: &tg.PeerUser{UserID: 444}}
	if got := r.senderID(pm, 444); got != 444 {
		t.Fatalf("private chat: sender = %d, want 444", got)
	}
}

func TestExtractMessages(t *testing.T) {
	t.Parallel()

	msg := &tg.Message{ID: 7}
	cases := []struct {
		name   string
		result tg.MessagesMessagesClass
		want   int
	}{
		{"plain", &tg.MessagesMessages{Messages: []tg.MessageClass{msg}}, 1},
		{"slice", &tg.MessagesMessagesSlice{Messages: []tg.MessageClass{msg, msg}}, 2},
		{"channel", &tg.MessagesChannelMessages{Messages: []tg.MessageClass{msg}}, 1},
		{"not_modified", &tg.MessagesMessagesNotModified{}, 0},
	}
	for _, tc := range cases {
		if got := len(extractMessages(tc.result)); got != tc.want {
			t.Errorf("%s: %d messages, want %d", tc.name, got, tc.want)
		}
	}
}
