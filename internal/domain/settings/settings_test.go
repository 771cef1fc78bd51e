package settings_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"sakaibot/internal/domain/settings"
)

func intPtr(v int) *int { return &v }

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	st := settings.NewStore(path)

	if err := st.SetTargetGroup(&settings.TargetGroup{ID: 100200, IsForum: true}); err != nil {
		t.Fatalf("SetTargetGroup: %v", err)
	}
	if err := st.MapCommand("News", intPtr(42)); err != nil {
		t.Fatalf("MapCommand: %v", err)
	}
	if err := st.MapCommand("/memes", intPtr(42)); err != nil {
		t.Fatalf("MapCommand: %v", err)
	}
	if err := st.MapCommand("misc", nil); err != nil {
		t.Fatalf("MapCommand: %v", err)
	}
	if err := st.AddAuthorized(111); err != nil {
		t.Fatalf("AddAuthorized: %v", err)
	}
	if err := st.AddAuthorized(222); err != nil {
		t.Fatalf("AddAuthorized: %v", err)
	}

	want := st.Snapshot()

	reloaded := settings.NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := reloaded.Snapshot()

	if !reflect.DeepEqual(got, want) {
		t.Fatalf("round trip mismatch:\n got %#v\nwant %#v", got, want)
	}
	if topic, ok := got.CommandMap["news"]; !ok || topic == nil || *topic != 42 {
		t.Fatalf("news topic = %v, want 42", topic)
	}
	if topic, ok := got.CommandMap["misc"]; !ok || topic != nil {
		t.Fatalf("misc topic = %v, want nil (main chat)", topic)
	}
}

func TestLoadLegacyShape(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	legacy := `{
		"target_group": {"id": 555, "is_forum": false},
		"active_command_to_topic_map": {"news": 42, "misc": null},
		"directly_authorized_pvs": [111]
	}`
	if err := os.WriteFile(path, []byte(legacy), 0o600); err != nil {
		t.Fatal(err)
	}

	st := settings.NewStore(path)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if topic, ok := st.TopicFor("news"); !ok || topic == nil || *topic != 42 {
		t.Fatalf("TopicFor(news) = %v,%v, want 42,true", topic, ok)
	}
	if topic, ok := st.TopicFor("misc"); !ok || topic != nil {
		t.Fatalf("TopicFor(misc) = %v,%v, want nil,true", topic, ok)
	}

	// После сохранения на диске должна оказаться каноническая форма.
	if err := st.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}
	reloaded := settings.NewStore(path)
	if err := reloaded.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reflect.DeepEqual(reloaded.Snapshot(), st.Snapshot()) {
		t.Fatal("canonical save/load mismatch after legacy normalization")
	}
}

func TestLoadMixedShapeNewWins(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	mixed := `{
		"active_command_to_topic_map": {
			"42": ["news"],
			"news": 7,
			"old": 13
		},
		"directly_authorized_pvs": []
	}`
	if err := os.WriteFile(path, []byte(mixed), 0o600); err != nil {
		t.Fatal(err)
	}

	st := settings.NewStore(path)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	// news присутствует в обеих формах: побеждает новая (топик 42).
	if topic, ok := st.TopicFor("news"); !ok || topic == nil || *topic != 42 {
		t.Fatalf("TopicFor(news) = %v,%v, want 42,true", topic, ok)
	}
	// old есть только в устаревшей форме: добирается оттуда.
	if topic, ok := st.TopicFor("old"); !ok || topic == nil || *topic != 13 {
		t.Fatalf("TopicFor(old) = %v,%v, want 13,true", topic, ok)
	}
}

func TestLoadBrokenFieldsReset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	broken := `{
		"active_command_to_topic_map": {"bad-topic-key": ["x"], "ok": 1},
		"directly_authorized_pvs": "not-a-list"
	}`
	if err := os.WriteFile(path, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}

	st := settings.NewStore(path)
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	snap := st.Snapshot()
	if len(snap.AuthorizedPeers) != 0 {
		t.Fatalf("authorized peers = %v, want reset to empty", snap.AuthorizedPeers)
	}
	if _, ok := snap.CommandMap["x"]; ok {
		t.Fatal("entry with invalid topic key must be dropped")
	}
	if topic, ok := snap.CommandMap["ok"]; !ok || topic == nil || *topic != 1 {
		t.Fatalf("legacy entry ok = %v,%v, want 1,true", topic, ok)
	}
}

func TestLoadNonObjectCommandMapReset(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.json")
	broken := `{
		"active_command_to_topic_map": 42,
		"directly_authorized_pvs": [7]
	}`
	if err := os.WriteFile(path, []byte(broken), 0o600); err != nil {
		t.Fatal(err)
	}

	st := settings.NewStore(path)
	if err := st.Load(); err != nil {
		t.Fatalf("Load must reset a non-object command map, got error: %v", err)
	}

	snap := st.Snapshot()
	if len(snap.CommandMap) != 0 {
		t.Fatalf("command map = %v, want reset to empty", snap.CommandMap)
	}
	// Остальные поля переживают сброс карты.
	if _, ok := snap.AuthorizedPeers[7]; !ok {
		t.Fatalf("authorized peers = %v, want {7}", snap.AuthorizedPeers)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	st := settings.NewStore(filepath.Join(t.TempDir(), "absent.json"))
	if err := st.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	snap := st.Snapshot()
	if snap.TargetGroup != nil || len(snap.CommandMap) != 0 || len(snap.AuthorizedPeers) != 0 {
		t.Fatalf("defaults expected, got %#v", snap)
	}
}

func TestRemoveAuthorized(t *testing.T) {
	t.Parallel()

	st := settings.NewStore(filepath.Join(t.TempDir(), "settings.json"))
	if err := st.AddAuthorized(5); err != nil {
		t.Fatal(err)
	}
	ok, err := st.RemoveAuthorized(5)
	if err != nil || !ok {
		t.Fatalf("RemoveAuthorized(5) = %v,%v, want true,nil", ok, err)
	}
	ok, err = st.RemoveAuthorized(5)
	if err != nil || ok {
		t.Fatalf("second RemoveAuthorized(5) = %v,%v, want false,nil", ok, err)
	}
}
