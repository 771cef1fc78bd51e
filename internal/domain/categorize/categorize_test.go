package categorize_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/gotd/td/tg"

	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/settings"
)

type captureForwarder struct {
	calls []*tg.MessagesForwardMessagesRequest
}

func (c *captureForwarder) ForwardMessages(_ context.Context, req *tg.MessagesForwardMessagesRequest) error {
	c.calls = append(c.calls, req)
	return nil
}

type staticResolver struct {
	peer tg.InputPeerClass
}

func (s *staticResolver) InputPeerForGroup(_ context.Context, _ int64) (tg.InputPeerClass, error) {
	return s.peer, nil
}

func newStore(t *testing.T) *settings.Store {
	t.Helper()
	st := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err := st.SetTargetGroup(&settings.TargetGroup{ID: 900, IsForum: true}); err != nil {
		t.Fatal(err)
	}
	return st
}

func intPtr(v int) *int { return &v }

func TestRouteForwardsIntoTopic(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	if err := st.MapCommand("news", intPtr(42)); err != nil {
		t.Fatal(err)
	}

	fwd := &captureForwarder{}
	target := &tg.InputPeerChannel{ChannelID: 900, AccessHash: 7}
	router := categorize.NewRouter(st, &staticResolver{peer: target}, fwd,
		categorize.WithRandomID(func() int64 { return 12345 }))

	from := &tg.InputPeerUser{UserID: 55, AccessHash: 1}
	if err := router.Route(context.Background(), "news", from, 333); err != nil {
		t.Fatalf("Route: %v", err)
	}

	if len(fwd.calls) != 1 {
		t.Fatalf("ForwardMessages calls = %d, want 1", len(fwd.calls))
	}
	req := fwd.calls[0]
	if len(req.ID) != 1 || req.ID[0] != 333 {
		t.Fatalf("forward id = %v, want [333]", req.ID)
	}
	if len(req.RandomID) != 1 || req.RandomID[0] != 12345 {
		t.Fatalf("random id = %v", req.RandomID)
	}
	if topID, ok := req.GetTopMsgID(); !ok || topID != 42 {
		t.Fatalf("top_msg_id = %d,%v, want 42,true", topID, ok)
	}
	if got, ok := req.ToPeer.(*tg.InputPeerChannel); !ok || got.ChannelID != 900 {
		t.Fatalf("to_peer = %#v", req.ToPeer)
	}
	if got, ok := req.FromPeer.(*tg.InputPeerUser); !ok || got.UserID != 55 {
		t.Fatalf("from_peer = %#v", req.FromPeer)
	}
}

func TestRouteMainChatOmitsTopic(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	if err := st.MapCommand("misc", nil); err != nil {
		t.Fatal(err)
	}

	fwd := &captureForwarder{}
	router := categorize.NewRouter(st, &staticResolver{peer: &tg.InputPeerChannel{ChannelID: 900}}, fwd)

	if err := router.Route(context.Background(), "misc", &tg.InputPeerUser{UserID: 1}, 10); err != nil {
		t.Fatalf("Route: %v", err)
	}
	if _, ok := fwd.calls[0].GetTopMsgID(); ok {
		t.Fatal("top_msg_id must be absent for main chat")
	}
	if fwd.calls[0].RandomID[0] == 0 {
		t.Fatal("random id must be non-zero")
	}
}

func TestRouteErrors(t *testing.T) {
	t.Parallel()

	st := newStore(t)
	if err := st.MapCommand("news", intPtr(1)); err != nil {
		t.Fatal(err)
	}
	fwd := &captureForwarder{}
	router := categorize.NewRouter(st, &staticResolver{peer: &tg.InputPeerChannel{}}, fwd)

	if err := router.Route(context.Background(), "news", &tg.InputPeerUser{}, 0); err == nil {
		t.Fatal("Route without reply must fail")
	}
	if err := router.Route(context.Background(), "unknown", &tg.InputPeerUser{}, 5); err == nil {
		t.Fatal("Route with unmapped command must fail")
	}
	if len(fwd.calls) != 0 {
		t.Fatalf("no forwards expected, got %d", len(fwd.calls))
	}

	if !router.IsMapped("news") || router.IsMapped("unknown") {
		t.Fatal("IsMapped misreports the command map")
	}
}
