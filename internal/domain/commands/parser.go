package commands

import (
	"regexp"
	"strconv"
	"strings"
)

// Limits — предельные размеры аргументов. Значения приходят из конфигурации;
// нулевое поле означает «без ограничения».
type Limits struct {
	PromptMax    int
	TranslateMax int
	AnalyzeMax   int
	TellMeMax    int
	TTSMax       int
	ImageMax     int
}

// DefaultLimits — рабочие значения по умолчанию.
func DefaultLimits() Limits {
	return Limits{
		PromptMax:    4000,
		TranslateMax: 4000,
		AnalyzeMax:   5000,
		TellMeMax:    1000,
		TTSMax:       2000,
		ImageMax:     1000,
	}
}

// translateLangs — фиксированный набор целевых языков (ISO 639-1).
var translateLangs = map[string]struct{}{
	"en": {}, "fa": {}, "ru": {}, "ar": {}, "fr": {}, "de": {}, "es": {},
	"it": {}, "pt": {}, "tr": {}, "zh": {}, "ja": {}, "ko": {}, "hi": {},
}

// analyzeModes — допустимые режимы анализа.
var analyzeModes = map[string]struct{}{
	"general": {}, "fun": {}, "romance": {},
}

// ttsLevelRe проверяет формат rate/volume: знак и проценты.
var ttsLevelRe = regexp.MustCompile(`^[+-]\d+%$`)

// commandNameRe — допустимая форма имени команды категоризации.
var commandNameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// IsSlashCommand сообщает, похож ли текст на слеш-команду.
func IsSlashCommand(text string) bool {
	t := strings.TrimSpace(text)
	return len(t) > 1 && t[0] == '/'
}

// Parse разбирает текст слеш-команды в типизированное значение.
// Ошибки валидации возвращаются как *UsageError с готовой подсказкой.
func Parse(text string, limits Limits) (Command, error) {
	t := strings.TrimSpace(text)
	if !IsSlashCommand(t) {
		return nil, usagef("не похоже на команду")
	}
	t = t[1:] // срезаем слеш

	// Имя команды заканчивается на '=', пробел или конец строки.
	nameEnd := strings.IndexFunc(t, func(r rune) bool { return r == '=' || r == ' ' || r == '\n' })
	name := t
	rest := ""
	if nameEnd >= 0 {
		name = t[:nameEnd]
		rest = t[nameEnd:]
	}
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "prompt":
		return parsePrompt(rest, limits)
	case "translate":
		return parseTranslate(rest, limits)
	case "analyze":
		return parseAnalyze(rest, limits)
	case "tellme":
		return parseTellMe(rest, limits)
	case "tts":
		return parseTTS(rest, limits)
	case "stt":
		if strings.TrimSpace(rest) != "" {
			return nil, usagef("использование: /stt (ответом на голосовое сообщение)")
		}
		return STT{}, nil
	case "image":
		return parseImage(rest, limits)
	case "auth":
		return parseAuth(rest)
	case "status":
		return Status{}, nil
	case "help":
		return Help{}, nil
	default:
		if !commandNameRe.MatchString(name) || strings.TrimSpace(rest) != "" {
			return nil, usagef("неизвестная команда: /" + name)
		}
		// Голое /имя — кандидат на категоризацию; карту знает диспетчер.
		return Categorize{Name: name}, nil
	}
}

func parsePrompt(rest string, limits Limits) (Command, error) {
	body, ok := cutAssign(rest)
	if !ok {
		return nil, usagef("использование: /prompt=<текст>")
	}
	text, err := sanitizeArg(body, limits.PromptMax, "/prompt")
	if err != nil {
		return nil, err
	}
	return Prompt{Text: text}, nil
}

func parseTranslate(rest string, limits Limits) (Command, error) {
	const usage = "использование: /translate=<язык>[,<исходный>]=<текст> или /translate=<язык> ответом"
	body, ok := cutAssign(rest)
	if !ok {
		return nil, usagef(usage)
	}

	langPart := body
	textPart := ""
	hasText := false
	if idx := strings.Index(body, "="); idx >= 0 {
		langPart = body[:idx]
		textPart = body[idx+1:]
		hasText = true
	}

	target, source, err := parseLangPair(langPart)
	if err != nil {
		return nil, err
	}

	if !hasText || strings.TrimSpace(textPart) == "" {
		// Reply-форма: текст возьмём из цитируемого сообщения.
		return Translate{TargetLang: target, SourceLang: source, FromReply: true}, nil
	}
	text, err := sanitizeArg(textPart, limits.TranslateMax, "/translate")
	if err != nil {
		return nil, err
	}
	return Translate{TargetLang: target, SourceLang: source, Text: text}, nil
}

// parseLangPair разбирает "<lang>" или "<lang>,<source>" с валидацией по списку.
func parseLangPair(s string) (target, source string, err error) {
	parts := strings.SplitN(s, ",", 2)
	target = strings.ToLower(strings.TrimSpace(parts[0]))
	if _, ok := translateLangs[target]; !ok {
		return "", "", usagef("неподдерживаемый язык перевода: " + target)
	}
	if len(parts) == 2 {
		source = strings.ToLower(strings.TrimSpace(parts[1]))
		if _, ok := translateLangs[source]; !ok {
			return "", "", usagef("неподдерживаемый исходный язык: " + source)
		}
	}
	return target, source, nil
}

func parseAnalyze(rest string, limits Limits) (Command, error) {
	const usage = "использование: /analyze=<N> или /analyze=<режим>=<N>"
	body, ok := cutAssign(rest)
	if !ok {
		return nil, usagef(usage)
	}

	mode := "general"
	countPart := body
	if idx := strings.Index(body, "="); idx >= 0 {
		mode = strings.ToLower(strings.TrimSpace(body[:idx]))
		countPart = body[idx+1:]
		if _, okMode := analyzeModes[mode]; !okMode {
			return nil, usagef("недопустимый режим анализа: " + mode + " (general|fun|romance)")
		}
	}

	count, err := parseCount(countPart, limits.AnalyzeMax)
	if err != nil {
		return nil, err
	}
	return Analyze{Mode: mode, Count: count}, nil
}

func parseTellMe(rest string, limits Limits) (Command, error) {
	const usage = "использование: /tellme=<N>=<вопрос>"
	body, ok := cutAssign(rest)
	if !ok {
		return nil, usagef(usage)
	}
	idx := strings.Index(body, "=")
	if idx < 0 {
		return nil, usagef(usage)
	}
	count, err := parseCount(body[:idx], limits.AnalyzeMax)
	if err != nil {
		return nil, err
	}
	question, err := sanitizeArg(body[idx+1:], limits.TellMeMax, "/tellme")
	if err != nil {
		return nil, err
	}
	return TellMe{Count: count, Question: question}, nil
}

func parseTTS(rest string, limits Limits) (Command, error) {
	cmd := TTS{}
	body := strings.TrimSpace(rest)

	// Ведущие пары k=v (voice/rate/volume); первое слово без '=' начинает текст.
	for body != "" {
		word := body
		tail := ""
		if sp := strings.IndexAny(body, " \n"); sp >= 0 {
			word = body[:sp]
			tail = strings.TrimLeft(body[sp:], " \n")
		}
		key, value, isPair := strings.Cut(word, "=")
		if !isPair {
			break
		}
		switch strings.ToLower(key) {
		case "voice":
			cmd.Voice = value
		case "rate":
			if !validTTSLevel(value, -50, 100) {
				return nil, usagef("/tts: rate должен быть вида +N%/-N% в диапазоне [-50%, +100%]")
			}
			cmd.Rate = value
		case "volume":
			if !validTTSLevel(value, -50, 100) {
				return nil, usagef("/tts: volume должен быть вида +N%/-N% в диапазоне [-50%, +100%]")
			}
			cmd.Volume = value
		default:
			return nil, usagef("/tts: неизвестный параметр " + key + " (voice|rate|volume)")
		}
		body = tail
	}

	if strings.TrimSpace(body) == "" {
		// Текст возьмём из цитируемого сообщения.
		cmd.FromReply = true
		return cmd, nil
	}
	text, err := sanitizeArg(body, limits.TTSMax, "/tts")
	if err != nil {
		return nil, err
	}
	cmd.Text = text
	return cmd, nil
}

// validTTSLevel проверяет формат [+-]N% и попадание в [minPct, maxPct].
func validTTSLevel(v string, minPct, maxPct int) bool {
	if !ttsLevelRe.MatchString(v) {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(v, "%"))
	if err != nil {
		return false
	}
	return n >= minPct && n <= maxPct
}

func parseImage(rest string, limits Limits) (Command, error) {
	const usage = "использование: /image=<flux|sdxl>/<промпт>"
	body, ok := cutAssign(rest)
	if !ok {
		return nil, usagef(usage)
	}
	model, prompt, found := strings.Cut(body, "/")
	if !found {
		return nil, usagef(usage)
	}
	model = strings.ToLower(strings.TrimSpace(model))
	if model != "flux" && model != "sdxl" {
		return nil, usagef("недопустимая модель изображения: " + model + " (flux|sdxl)")
	}
	clean, err := sanitizeArg(prompt, limits.ImageMax, "/image")
	if err != nil {
		return nil, err
	}
	return Image{Model: model, Prompt: clean}, nil
}

func parseAuth(rest string) (Command, error) {
	const usage = "использование: /auth list | /auth add <id> | /auth remove <id>"
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return nil, usagef(usage)
	}
	action := strings.ToLower(fields[0])
	switch action {
	case "list":
		if len(fields) != 1 {
			return nil, usagef(usage)
		}
		return Auth{Action: "list"}, nil
	case "add", "remove":
		if len(fields) != 2 {
			return nil, usagef(usage)
		}
		id, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil || id <= 0 {
			return nil, usagef("/auth: некорректный идентификатор пользователя")
		}
		return Auth{Action: action, UserID: id}, nil
	default:
		return nil, usagef(usage)
	}
}

// parseCount разбирает N с проверкой диапазона [1, max].
func parseCount(s string, maxCount int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, usagef("количество сообщений должно быть числом")
	}
	if n < 1 || (maxCount > 0 && n > maxCount) {
		return 0, usagef("количество сообщений вне допустимого диапазона [1, " + strconv.Itoa(maxCount) + "]")
	}
	return n, nil
}

// cutAssign срезает ведущий '=' у хвоста команды: "=x" → ("x", true).
func cutAssign(rest string) (string, bool) {
	if !strings.HasPrefix(rest, "=") {
		return "", false
	}
	return rest[1:], true
}
