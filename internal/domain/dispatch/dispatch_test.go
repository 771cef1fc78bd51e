package dispatch_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gotd/td/tg"

	"sakaibot/internal/adapters/ai"
	"sakaibot/internal/adapters/stt"
	"sakaibot/internal/domain/categorize"
	"sakaibot/internal/domain/chatlock"
	"sakaibot/internal/domain/dispatch"
	"sakaibot/internal/domain/jobs"
	"sakaibot/internal/domain/settings"
	"sakaibot/internal/infra/breaker"
	"sakaibot/internal/infra/keypool"
	"sakaibot/internal/infra/ratelimit"
)

// fakeProvider отдаёт заранее заданные ответы по ключам.
type fakeProvider struct {
	mu      sync.Mutex
	byKey   map[string]func() (string, error)
	calls   []string
	prompts []string
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) Generate(_ context.Context, apiKey string, req ai.Request) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, apiKey)
	p.prompts = append(p.prompts, req.UserPrompt)
	if f, ok := p.byKey[apiKey]; ok {
		return f()
	}
	return "ok", nil
}

// sentMessage — одно исходящее сообщение фейкового мессенджера.
type sentMessage struct {
	kind    string // reply | send | edit | delete | voice | photo
	msgID   int
	replyTo int
	text    string
}

type fakeMessenger struct {
	mu        sync.Mutex
	nextID    int
	log       []sentMessage
	history   []dispatch.HistoryMessage
	voicePath string
}

func (m *fakeMessenger) record(s sentMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = append(m.log, s)
}

func (m *fakeMessenger) SendReply(_ context.Context, _ tg.InputPeerClass, replyTo int, text string) (int, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.log = append(m.log, sentMessage{kind: "reply", msgID: id, replyTo: replyTo, text: text})
	m.mu.Unlock()
	return id, nil
}

func (m *fakeMessenger) Send(_ context.Context, _ tg.InputPeerClass, text string) (int, error) {
	m.mu.Lock()
	m.nextID++
	id := m.nextID
	m.log = append(m.log, sentMessage{kind: "send", msgID: id, text: text})
	m.mu.Unlock()
	return id, nil
}

func (m *fakeMessenger) Edit(_ context.Context, _ tg.InputPeerClass, msgID int, text string) error {
	m.record(sentMessage{kind: "edit", msgID: msgID, text: text})
	return nil
}

func (m *fakeMessenger) Delete(_ context.Context, _ tg.InputPeerClass, msgIDs ...int) error {
	for _, id := range msgIDs {
		m.record(sentMessage{kind: "delete", msgID: id})
	}
	return nil
}

func (m *fakeMessenger) SendVoice(_ context.Context, _ tg.InputPeerClass, replyTo int, path string) error {
	m.record(sentMessage{kind: "voice", replyTo: replyTo, text: path})
	return nil
}

func (m *fakeMessenger) SendPhoto(_ context.Context, _ tg.InputPeerClass, replyTo int, _ []byte, caption string) error {
	m.record(sentMessage{kind: "photo", replyTo: replyTo, text: caption})
	return nil
}

func (m *fakeMessenger) History(_ context.Context, _ tg.InputPeerClass, limit int) ([]dispatch.HistoryMessage, error) {
	if len(m.history) > limit {
		return m.history[:limit], nil
	}
	return m.history, nil
}

func (m *fakeMessenger) DownloadVoice(_ context.Context, _ tg.InputPeerClass, _ int) (string, error) {
	if m.voicePath != "" {
		return m.voicePath, nil
	}
	return "/tmp/absent.ogg", nil
}

func (m *fakeMessenger) byKind(kind string) []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []sentMessage
	for _, s := range m.log {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeNames struct{}

func (fakeNames) UserDisplayName(_ context.Context, id int64) string { return "user" }

type nopForwarder struct{}

func (nopForwarder) ForwardMessages(_ context.Context, _ *tg.MessagesForwardMessagesRequest) error {
	return nil
}

type nopResolver struct{}

func (nopResolver) InputPeerForGroup(_ context.Context, _ int64) (tg.InputPeerClass, error) {
	return &tg.InputPeerChannel{ChannelID: 1}, nil
}

// testHarness собирает диспетчер с фейковыми провайдером и мессенджером.
func testHarness(t *testing.T, provider *fakeProvider, keys []string) (*dispatch.Dispatcher, *fakeMessenger, *keypool.Pool) {
	t.Helper()

	pool, err := keypool.New(keys, time.Hour, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	msg := &fakeMessenger{}
	queue := jobs.NewQueue(nil)

	d := dispatch.New(dispatch.Deps{
		Messenger:   msg,
		TextGen:     dispatch.NewTextGenerator(provider, pool, breaker.New("ai", 5, 2, time.Minute)),
		RateLimit:   ratelimit.New(10, time.Minute),
		ChatLock:    chatlock.New(),
		Queue:       queue,
		Categorizer: categorize.NewRouter(store, nopResolver{}, nopForwarder{}),
		Settings:    store,
		Names:       fakeNames{},
		Location:    time.UTC,
	})
	return d, msg, pool
}

func TestPromptHappyPath(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{byKey: map[string]func() (string, error){
		"key-1-aaaaaa": func() (string, error) { return "hello", nil },
	}}
	d, msg, _ := testHarness(t, provider, []string{"key-1-aaaaaa"})

	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   1, MsgID: 100, SenderID: 1,
		Text:      "/prompt=say hi",
		FromOwner: true,
	})

	replies := msg.byKind("reply")
	if len(replies) != 2 {
		t.Fatalf("replies = %d, want thinking + ack: %v", len(replies), replies)
	}
	if !strings.Contains(replies[0].text, "🤔") || replies[0].replyTo != 100 {
		t.Fatalf("first reply is not thinking message: %+v", replies[0])
	}
	if !strings.HasPrefix(replies[1].text, "✅ done - ") {
		t.Fatalf("ack = %q", replies[1].text)
	}

	edits := msg.byKind("edit")
	if len(edits) != 1 || edits[0].text != "hello" || edits[0].msgID != replies[0].msgID {
		t.Fatalf("edits = %v", edits)
	}
	if len(provider.prompts) != 1 || provider.prompts[0] != "say hi" {
		t.Fatalf("provider prompts = %v", provider.prompts)
	}
}

func TestKeyRotationOn429(t *testing.T) {
	t.Parallel()

	rateLimited := &ai.CallError{Kind: ai.KindRateLimit, Provider: "fake", StatusCode: 429, Message: "slow down"}
	provider := &fakeProvider{byKey: map[string]func() (string, error){
		"key-1-aaaaaa": func() (string, error) { return "", rateLimited },
		"key-2-bbbbbb": func() (string, error) { return "answer", nil },
	}}
	d, msg, pool := testHarness(t, provider, []string{"key-1-aaaaaa", "key-2-bbbbbb", "key-3-cccccc"})

	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   1, MsgID: 1, SenderID: 1,
		Text:      "/prompt=x",
		FromOwner: true,
	})

	if len(provider.calls) != 2 ||
		provider.calls[0] != "key-1-aaaaaa" || provider.calls[1] != "key-2-bbbbbb" {
		t.Fatalf("provider calls = %v", provider.calls)
	}

	edits := msg.byKind("edit")
	if len(edits) != 1 || edits[0].text != "answer" {
		t.Fatalf("edits = %v", edits)
	}

	snap := pool.Snapshot()
	if snap[0].Status != keypool.StatusCooling.String() {
		t.Fatalf("key 1 status = %v, want cooling", snap[0].Status)
	}
	if snap[1].Status != keypool.StatusHealthy.String() {
		t.Fatalf("key 2 status = %v, want healthy", snap[1].Status)
	}
}

func TestRateLimitDenial(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	pool, err := keypool.New([]string{"key-1-aaaaaa"}, time.Hour, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	msg := &fakeMessenger{}

	d := dispatch.New(dispatch.Deps{
		Messenger:   msg,
		TextGen:     dispatch.NewTextGenerator(provider, pool, breaker.New("ai", 5, 2, time.Minute)),
		RateLimit:   ratelimit.New(1, time.Minute),
		ChatLock:    chatlock.New(),
		Queue:       jobs.NewQueue(nil),
		Categorizer: categorize.NewRouter(store, nopResolver{}, nopForwarder{}),
		Settings:    store,
		Names:       fakeNames{},
		Location:    time.UTC,
	})

	ev := dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   1, MsgID: 1, SenderID: 7,
		Text:      "/prompt=x",
		FromOwner: true,
	}
	d.Handle(context.Background(), ev)
	d.Handle(context.Background(), ev)

	var denial *sentMessage
	for _, s := range msg.byKind("reply") {
		if strings.Contains(s.text, "слишком много запросов") {
			s := s
			denial = &s
		}
	}
	if denial == nil {
		t.Fatal("second command must be denied by the local rate limiter")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("provider calls = %d, want 1", len(provider.calls))
	}
}

func TestConfirmMessageDeletedAfterDispatch(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	d, msg, _ := testHarness(t, provider, []string{"key-1-aaaaaa"})

	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 9},
		ChatID:   9, MsgID: 50, SenderID: 9,
		Text:         "/prompt=from peer",
		ConfirmMsgID: 777,
	})

	deletes := msg.byKind("delete")
	if len(deletes) != 1 || deletes[0].msgID != 777 {
		t.Fatalf("deletes = %v, want confirm message 777", deletes)
	}
}

func TestAnalyzeSerializedPerChat(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	provider := &fakeProvider{byKey: map[string]func() (string, error){
		"key-1-aaaaaa": func() (string, error) {
			close(started)
			<-release
			return "analysis", nil
		},
	}}
	d, msg, _ := testHarness(t, provider, []string{"key-1-aaaaaa"})
	msg.history = []dispatch.HistoryMessage{
		{SenderID: 1, SenderName: "user", Text: "привет", Date: time.Now()},
	}

	ev := dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   5, MsgID: 1, SenderID: 1,
		Text:      "/analyze=10",
		FromOwner: true,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.Handle(context.Background(), ev)
	}()
	<-started

	// Пока первый анализ в полёте, второй отклоняется сразу.
	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   5, MsgID: 2, SenderID: 1,
		Text:      "/analyze=20",
		FromOwner: true,
	})
	close(release)
	wg.Wait()

	rejected := false
	for _, s := range msg.byKind("reply") {
		if strings.Contains(s.text, "уже выполняется анализ") {
			rejected = true
		}
	}
	if !rejected {
		t.Fatal("second analyze must be rejected while the first is in flight")
	}
	if len(provider.calls) != 1 {
		t.Fatalf("provider calls = %d, want 1 (single history analysis)", len(provider.calls))
	}
}

func TestSTTShowsTranscriptBeforeSummary(t *testing.T) {
	t.Parallel()

	sttSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"hello from voice"}]}}]}`))
	}))
	defer sttSrv.Close()

	voice := filepath.Join(t.TempDir(), "voice.ogg")
	if err := os.WriteFile(voice, []byte("OggS fake voice"), 0o600); err != nil {
		t.Fatal(err)
	}

	provider := &fakeProvider{byKey: map[string]func() (string, error){
		"key-1-aaaaaa": func() (string, error) { return "короткое резюме", nil },
	}}
	pool, err := keypool.New([]string{"key-1-aaaaaa"}, time.Hour, time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	store := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	msg := &fakeMessenger{voicePath: voice}

	d := dispatch.New(dispatch.Deps{
		Messenger:   msg,
		TextGen:     dispatch.NewTextGenerator(provider, pool, breaker.New("ai", 5, 2, time.Minute)),
		RateLimit:   ratelimit.New(10, time.Minute),
		ChatLock:    chatlock.New(),
		Queue:       jobs.NewQueue(nil),
		Categorizer: categorize.NewRouter(store, nopResolver{}, nopForwarder{}),
		Settings:    store,
		Transcriber: stt.New("gemini-test", "", t.TempDir(), stt.WithBaseURL(sttSrv.URL)),
		Names:       fakeNames{},
		Location:    time.UTC,
	})

	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   1, MsgID: 10, SenderID: 1,
		Text:           "/stt",
		ReplyToMsgID:   5,
		ReplyToIsVoice: true,
		FromOwner:      true,
	})

	edits := msg.byKind("edit")
	if len(edits) != 2 {
		t.Fatalf("edits = %d, want transcript preview + final reply: %v", len(edits), edits)
	}
	if edits[0].text != "hello from voice" {
		t.Fatalf("first edit = %q, want bare transcript before the summary arrives", edits[0].text)
	}
	final := edits[1].text
	if !strings.Contains(final, "🎙 Transcript:") ||
		!strings.Contains(final, "hello from voice") ||
		!strings.Contains(final, "короткое резюме") {
		t.Fatalf("final edit = %q, want transcript + summary", final)
	}
}

func TestUsageErrorReplied(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	d, msg, _ := testHarness(t, provider, []string{"key-1-aaaaaa"})

	d.Handle(context.Background(), dispatch.Event{
		ChatPeer: &tg.InputPeerUser{UserID: 1},
		ChatID:   1, MsgID: 1, SenderID: 1,
		Text:      "/analyze=bogus",
		FromOwner: true,
	})

	replies := msg.byKind("reply")
	if len(replies) != 1 || !strings.HasPrefix(replies[0].text, "⚠️") {
		t.Fatalf("usage reply = %v", replies)
	}
	if len(provider.calls) != 0 {
		t.Fatal("provider must not be called on parse error")
	}
}

func TestAckFormat(t *testing.T) {
	t.Parallel()

	got := dispatch.Ack(time.Date(2025, 6, 1, 9, 5, 0, 0, time.UTC))
	if got != "✅ done - 09:05" {
		t.Fatalf("Ack = %q", got)
	}
}
