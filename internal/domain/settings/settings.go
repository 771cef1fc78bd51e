// Package settings — загрузка/сохранение пользовательских настроек бота:
// целевая группа категоризации, карта «топик → команды», список авторизованных
// пользователей. Файл на диске — JSON; при загрузке распознаётся и нормализуется
// устаревшая форма карты команд (command → topic), на диск пишется только
// каноническая.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"sakaibot/internal/infra/logger"
	"sakaibot/internal/infra/storage"
)

// mainChatKey — ключ «основного чата группы» (без топика) в JSON-карте.
const mainChatKey = "null"

// TargetGroup — супергруппа/форум, куда пересылаются категоризируемые сообщения.
type TargetGroup struct {
	ID      int64 `json:"id"`
	IsForum bool  `json:"is_forum"`
}

// Settings — канонический снимок настроек в памяти.
// CommandMap: имя команды (нижний регистр, без слеша) → топик; nil = основной чат.
type Settings struct {
	TargetGroup     *TargetGroup
	CommandMap      map[string]*int
	AuthorizedPeers map[int64]struct{}
}

// fileShape — представление файла на диске (каноническая форма). Поля карты и
// списка читаются как RawMessage: повреждённое поле сбрасывается отдельно, не
// валя разбор всего файла.
type fileShape struct {
	TargetGroup   *TargetGroup    `json:"target_group,omitempty"`
	CommandMap    json.RawMessage `json:"active_command_to_topic_map"`
	AuthorizedPVs json.RawMessage `json:"directly_authorized_pvs"`
}

// Store владеет настройками и файлом на диске. Записи сериализуются мьютексом,
// чтение отдаёт глубокую копию.
type Store struct {
	path string

	mu  sync.RWMutex
	cur Settings
}

// NewStore создаёт хранилище для файла path. Данные появляются после Load.
func NewStore(path string) *Store {
	return &Store{
		path: path,
		cur: Settings{
			CommandMap:      make(map[string]*int),
			AuthorizedPeers: make(map[int64]struct{}),
		},
	}
}

// Load читает файл настроек. Отсутствующий файл — не ошибка: остаются дефолты.
// Каждое поле проверяется по типу; повреждённые поля сбрасываются с
// предупреждением, а не валят загрузку целиком.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		logger.Infof("settings: %s not found, using defaults", s.path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", s.path, err)
	}

	var raw fileShape
	if err = json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("settings: parse %s: %w", s.path, err)
	}

	loaded := Settings{
		TargetGroup:     raw.TargetGroup,
		CommandMap:      normalizeCommandMap(parseCommandMapField(raw.CommandMap)),
		AuthorizedPeers: parseAuthorizedPVs(raw.AuthorizedPVs),
	}

	s.mu.Lock()
	s.cur = loaded
	s.mu.Unlock()
	return nil
}

// Save атомарно записывает канонический вид настроек на диск.
func (s *Store) Save() error {
	s.mu.RLock()
	shape := canonicalShape(s.cur)
	s.mu.RUnlock()

	payload, err := json.MarshalIndent(shape, "", "  ")
	if err != nil {
		return fmt.Errorf("settings: marshal: %w", err)
	}
	if err = storage.AtomicWriteFile(s.path, payload); err != nil {
		return fmt.Errorf("settings: write %s: %w", s.path, err)
	}
	return nil
}

// Snapshot возвращает глубокую копию текущих настроек.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copySettings(s.cur)
}

// AuthorizedSet возвращает копию множества авторизованных пользователей.
func (s *Store) AuthorizedSet() map[int64]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int64]struct{}, len(s.cur.AuthorizedPeers))
	for id := range s.cur.AuthorizedPeers {
		out[id] = struct{}{}
	}
	return out
}

// TopicFor возвращает топик для команды категоризации; ok=false, если команда
// не замаплена. nil-топик означает основной чат группы.
func (s *Store) TopicFor(name string) (topic *int, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	topic, ok = s.cur.CommandMap[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	if topic != nil {
		v := *topic
		topic = &v
	}
	return topic, true
}

// SetTargetGroup назначает целевую группу категоризации и сохраняет настройки.
func (s *Store) SetTargetGroup(g *TargetGroup) error {
	s.mu.Lock()
	s.cur.TargetGroup = g
	s.mu.Unlock()
	return s.Save()
}

// MapCommand привязывает команду к топику (nil = основной чат). Команда
// нормализуется; существующая привязка перезаписывается.
func (s *Store) MapCommand(name string, topic *int) error {
	key := normalizeCommandName(name)
	if key == "" {
		return fmt.Errorf("settings: empty command name")
	}
	s.mu.Lock()
	s.cur.CommandMap[key] = topic
	s.mu.Unlock()
	return s.Save()
}

// UnmapCommand удаляет привязку команды.
func (s *Store) UnmapCommand(name string) error {
	s.mu.Lock()
	delete(s.cur.CommandMap, normalizeCommandName(name))
	s.mu.Unlock()
	return s.Save()
}

// AddAuthorized добавляет пользователя в список авторизованных.
func (s *Store) AddAuthorized(userID int64) error {
	s.mu.Lock()
	s.cur.AuthorizedPeers[userID] = struct{}{}
	s.mu.Unlock()
	return s.Save()
}

// RemoveAuthorized убирает пользователя из списка. ok=false, если его не было.
func (s *Store) RemoveAuthorized(userID int64) (bool, error) {
	s.mu.Lock()
	_, ok := s.cur.AuthorizedPeers[userID]
	delete(s.cur.AuthorizedPeers, userID)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, s.Save()
}

// normalizeCommandName приводит имя команды к каноническому виду.
func normalizeCommandName(name string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "/"))
}

// normalizeCommandMap нормализует карту команд из файла.
//
// Распознаются две формы значений:
//   - новая: "topic_id" → ["cmd", ...] (ключ — целое или "null");
//   - устаревшая: "cmd" → topic_id (целое или null).
//
// При смешении форм приоритет у новой. Команды дедуплицируются без учёта
// регистра; записи с некорректным ключом топика отбрасываются с предупреждением.
func normalizeCommandMap(raw map[string]json.RawMessage) map[string]*int {
	result := make(map[string]*int)
	if len(raw) == 0 {
		return result
	}

	legacy := make(map[string]*int)

	for key, value := range raw {
		// Форму различаем по первому токену значения: массив — новая форма,
		// число/null — устаревшая. json.Unmarshal(null, &[]string{}) успешен,
		// поэтому полагаться только на него нельзя.
		if isJSONArray(value) {
			var cmds []string
			if err := json.Unmarshal(value, &cmds); err != nil {
				logger.Warnf("settings: dropping malformed command list for key %q", key)
				continue
			}
			topic, ok := parseTopicKey(key)
			if !ok {
				logger.Warnf("settings: dropping command-map entry with bad topic key %q", key)
				continue
			}
			for _, cmd := range cmds {
				name := normalizeCommandName(cmd)
				if name == "" {
					continue
				}
				if _, dup := result[name]; dup {
					logger.Warnf("settings: duplicate command %q in map, keeping first", name)
					continue
				}
				result[name] = copyTopic(topic)
			}
			continue
		}

		// Устаревшая форма: значение — целое или null, ключ — имя команды.
		var topicID *int
		if err := json.Unmarshal(value, &topicID); err == nil {
			name := normalizeCommandName(key)
			if name == "" {
				continue
			}
			if _, dup := legacy[name]; !dup {
				legacy[name] = topicID
			}
			continue
		}

		logger.Warnf("settings: dropping unrecognized command-map entry %q", key)
	}

	// Устаревшие записи добираются только там, где новая форма молчит.
	for name, topic := range legacy {
		if _, exists := result[name]; !exists {
			result[name] = topic
		}
	}
	return result
}

// parseCommandMapField разбирает поле карты команд. Не-объект сбрасывается с
// предупреждением, как и не-список авторизованных.
func parseCommandMapField(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		logger.Warnf("settings: active_command_to_topic_map is not an object, resetting")
		return nil
	}
	return m
}

// isJSONArray сообщает, является ли значение JSON-массивом.
func isJSONArray(raw json.RawMessage) bool {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			return b == '['
		}
	}
	return false
}

// parseTopicKey разбирает ключ карты: "null" → nil-топик, иначе целое.
func parseTopicKey(key string) (*int, bool) {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == mainChatKey || k == "" {
		return nil, true
	}
	id, err := strconv.Atoi(k)
	if err != nil {
		return nil, false
	}
	return &id, true
}

// parseAuthorizedPVs разбирает список авторизованных пользователей. Не-список
// сбрасывается с предупреждением.
func parseAuthorizedPVs(raw json.RawMessage) map[int64]struct{} {
	out := make(map[int64]struct{})
	if len(raw) == 0 {
		return out
	}
	var ids []int64
	if err := json.Unmarshal(raw, &ids); err != nil {
		logger.Warnf("settings: directly_authorized_pvs is not a list, resetting")
		return out
	}
	for _, id := range ids {
		if id > 0 {
			out[id] = struct{}{}
		}
	}
	return out
}

// canonicalShape собирает дисковую форму из снимка настроек.
func canonicalShape(s Settings) fileShape {
	// Обратная группировка: топик → отсортированный список команд.
	byTopic := make(map[string][]string)
	for name, topic := range s.CommandMap {
		key := mainChatKey
		if topic != nil {
			key = strconv.Itoa(*topic)
		}
		byTopic[key] = append(byTopic[key], name)
	}
	cmdMap := make(map[string]json.RawMessage, len(byTopic))
	for key, names := range byTopic {
		sort.Strings(names)
		payload, _ := json.Marshal(names)
		cmdMap[key] = payload
	}
	cmdJSON, _ := json.Marshal(cmdMap)

	ids := make([]int64, 0, len(s.AuthorizedPeers))
	for id := range s.AuthorizedPeers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	pvs, _ := json.Marshal(ids)

	return fileShape{
		TargetGroup:   s.TargetGroup,
		CommandMap:    cmdJSON,
		AuthorizedPVs: pvs,
	}
}

// copySettings делает глубокую копию снимка.
func copySettings(s Settings) Settings {
	out := Settings{
		CommandMap:      make(map[string]*int, len(s.CommandMap)),
		AuthorizedPeers: make(map[int64]struct{}, len(s.AuthorizedPeers)),
	}
	if s.TargetGroup != nil {
		g := *s.TargetGroup
		out.TargetGroup = &g
	}
	for name, topic := range s.CommandMap {
		out.CommandMap[name] = copyTopic(topic)
	}
	for id := range s.AuthorizedPeers {
		out.AuthorizedPeers[id] = struct{}{}
	}
	return out
}

func copyTopic(topic *int) *int {
	if topic == nil {
		return nil
	}
	v := *topic
	return &v
}
