// Package commands — разбор текста слеш-команд в типизированные значения.
// Парсер чистый: ни I/O, ни настроек; всё, что зависит от карты категоризации
// или авторизации, решает диспетчер выше по потоку.
package commands

// Command — закрытая сумма типов команд. Каждая конструируется только парсером;
// диспетчер делает исчерпывающий switch по конкретным типам.
type Command interface {
	commandMarker()
}

// Prompt — свободный запрос к LLM: /prompt=<text>.
type Prompt struct {
	Text string
}

// Translate — перевод текста: /translate=<lang>[,<source>]=<text> либо
// reply-форма без текста (текст берётся из цитируемого сообщения).
type Translate struct {
	TargetLang string
	SourceLang string // пустая строка = автоопределение
	Text       string // пусто в reply-форме
	FromReply  bool
}

// Analyze — анализ последних N сообщений чата: /analyze=<N> или /analyze=<mode>=<N>.
type Analyze struct {
	Mode  string // general | fun | romance
	Count int
}

// TellMe — вопрос по последним N сообщениям: /tellme=<N>=<question>.
type TellMe struct {
	Count    int
	Question string
}

// TTS — синтез речи: /tts [voice=…] [rate=…] [volume=…] <text> либо reply-форма.
type TTS struct {
	Voice     string
	Rate      string // формат [+-]N% в диапазоне [-50%, +100%]
	Volume    string // тот же формат
	Text      string // пусто в reply-форме
	FromReply bool
}

// STT — расшифровка голосового сообщения: /stt (только как reply).
type STT struct{}

// Image — генерация изображения: /image=<model>/<prompt>, model ∈ {flux, sdxl}.
type Image struct {
	Model  string
	Prompt string
}

// Categorize — кандидат на категоризацию: /<name> без аргументов. Является ли
// name ключом карты категоризации, знает только диспетчер.
type Categorize struct {
	Name string
}

// Auth — управление списком авторизованных пользователей: /auth list|add|remove.
type Auth struct {
	Action string // list | add | remove
	UserID int64  // для add/remove
}

// Status — отчёт о состоянии бота: /status.
type Status struct{}

// Help — справка по командам: /help.
type Help struct{}

func (Prompt) commandMarker()     {}
func (Translate) commandMarker()  {}
func (Analyze) commandMarker()    {}
func (TellMe) commandMarker()     {}
func (TTS) commandMarker()        {}
func (STT) commandMarker()        {}
func (Image) commandMarker()      {}
func (Categorize) commandMarker() {}
func (Auth) commandMarker()       {}
func (Status) commandMarker()     {}
func (Help) commandMarker()       {}

// UsageError — ошибка разбора/валидации, которую диспетчер отправляет
// пользователю как короткую подсказку по синтаксису.
type UsageError struct {
	Hint string
}

func (e *UsageError) Error() string { return e.Hint }

// usagef — конструктор UsageError.
func usagef(hint string) error { return &UsageError{Hint: hint} }
