package commands

// Санитизация пользовательского текста перед валидацией: управляющие символы
// вырезаются, типовые инъекционные конструкции отклоняются целиком. Тексты
// уходят во внешние API и в логи, поэтому фильтр общий для всех команд.

import (
	"regexp"
	"strings"
	"unicode"
)

// injectionPatterns — паттерны, при совпадении которых текст отклоняется.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<\s*script`),
	regexp.MustCompile(`(?i)javascript\s*:`),
	regexp.MustCompile(`(?i)\bon(?:click|error|load|mouseover|focus|submit)\s*=`),
	regexp.MustCompile("`[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`\$\{[^}]*\}`),
}

// SanitizeText вырезает управляющие символы и проверяет текст на инъекционные
// конструкции. Возвращает очищенный текст и признак безопасности. Перевод
// строки и табуляция сохраняются: многострочные промпты легальны.
func SanitizeText(text string) (string, bool) {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\t' {
			b.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) || r == '\ufeff' {
			continue
		}
		b.WriteRune(r)
	}
	clean := strings.TrimSpace(b.String())

	for _, p := range injectionPatterns {
		if p.MatchString(clean) {
			return "", false
		}
	}
	return clean, true
}

// sanitizeArg — общий шаг для аргументов команд: очистка + проверка длины.
// При нарушении возвращает UsageError с коротким объяснением.
func sanitizeArg(text string, maxLen int, what string) (string, error) {
	clean, ok := SanitizeText(text)
	if !ok {
		return "", usagef(what + ": недопустимые символы или конструкции в тексте")
	}
	if clean == "" {
		return "", usagef(what + ": текст пуст")
	}
	if maxLen > 0 && len([]rune(clean)) > maxLen {
		return "", usagef(what + ": текст слишком длинный")
	}
	return clean, nil
}
