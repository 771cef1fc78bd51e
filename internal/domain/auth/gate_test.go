package auth_test

import (
	"testing"

	"sakaibot/internal/domain/auth"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	authorized := map[int64]struct{}{42: {}}
	const keyword = "confirm"

	cases := []struct {
		name     string
		ev       auth.Event
		wantKind auth.Kind
		wantText string
	}{
		{
			name:     "ownerDirect",
			ev:       auth.Event{Outgoing: true, Text: "/prompt=hi"},
			wantKind: auth.OwnerDirect,
			wantText: "/prompt=hi",
		},
		{
			name:     "ownerPlainTextIgnored",
			ev:       auth.Event{Outgoing: true, Text: "обычное сообщение"},
			wantKind: auth.Ignore,
		},
		{
			name:     "authorizedDirect",
			ev:       auth.Event{SenderID: 42, Text: "/status"},
			wantKind: auth.AuthorizedDirect,
			wantText: "/status",
		},
		{
			name:     "unauthorizedIgnored",
			ev:       auth.Event{SenderID: 7, Text: "/prompt=hi"},
			wantKind: auth.Ignore,
		},
		{
			name: "confirmFlow",
			ev: auth.Event{
				Outgoing:        true,
				Text:            " Confirm ",
				ReplyToMsgID:    10,
				ReplyToSenderID: 7,
				ReplyToText:     "/prompt=test",
			},
			wantKind: auth.ConfirmFlow,
			wantText: "/prompt=test",
		},
		{
			name: "confirmWithoutCommandReplyIgnored",
			ev: auth.Event{
				Outgoing:     true,
				Text:         "confirm",
				ReplyToMsgID: 10,
				ReplyToText:  "просто текст",
			},
			wantKind: auth.Ignore,
		},
		{
			name: "incomingConfirmIgnored",
			ev: auth.Event{
				SenderID:     42,
				Text:         "confirm",
				ReplyToMsgID: 10,
				ReplyToText:  "/prompt=test",
			},
			wantKind: auth.Ignore,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := auth.Classify(tc.ev, authorized, keyword, 5)
			if got.Kind != tc.wantKind {
				t.Fatalf("Classify() kind = %v, want %v", got.Kind, tc.wantKind)
			}
			if tc.wantText != "" && got.CommandText != tc.wantText {
				t.Fatalf("Classify() command = %q, want %q", got.CommandText, tc.wantText)
			}
		})
	}
}

func TestConfirmFlowCarriesProposer(t *testing.T) {
	t.Parallel()

	got := auth.Classify(auth.Event{
		Outgoing:        true,
		Text:            "confirm",
		ReplyToMsgID:    77,
		ReplyToSenderID: 12345,
		ReplyToText:     "/image=flux/cat",
	}, nil, "confirm", 99)

	if got.Kind != auth.ConfirmFlow {
		t.Fatalf("kind = %v, want ConfirmFlow", got.Kind)
	}
	if got.ProposerID != 12345 {
		t.Fatalf("ProposerID = %d, want 12345", got.ProposerID)
	}
	if got.ConfirmMsgID != 99 {
		t.Fatalf("ConfirmMsgID = %d, want 99", got.ConfirmMsgID)
	}
}
