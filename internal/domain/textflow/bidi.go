package textflow

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// lrm — LEFT-TO-RIGHT MARK: невидимый символ, фиксирующий направление
// латинской вставки внутри RTL-текста.
const lrm = '\u200e'

// ltrRunRe находит LTR-вставки, ломающие отображение RTL-текста: инлайн-код,
// URL, e-mail и латинские слова длиной от двух символов. Порядок альтернатив
// важен: более длинные конструкции раньше слов.
var ltrRunRe = regexp.MustCompile("`[^`]+`" +
	`|https?://[^\s\x{0600}-\x{06FF}]+` +
	`|www\.[^\s\x{0600}-\x{06FF}]+` +
	`|[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}` +
	`|[A-Za-z][A-Za-z0-9'_-]+`)

// ContainsRTL сообщает, есть ли в тексте персидские/арабские символы
// (диапазон U+0600–U+06FF).
func ContainsRTL(s string) bool {
	for _, c := range s {
		if c >= 0x0600 && c <= 0x06ff {
			return true
		}
	}
	return false
}

// StripLRM убирает все ранее вставленные метки направления.
func StripLRM(s string) string {
	return strings.ReplaceAll(s, string(lrm), "")
}

// FixBidi вставляет LRM после LTR-вставок в RTL-тексте, чтобы пунктуация и
// соседние слова не перескакивали при отображении. Текст без RTL-символов
// возвращается как есть. Перед вставкой старые метки снимаются, поэтому
// повторное применение не накапливает их.
func FixBidi(s string) string {
	if !ContainsRTL(s) {
		return s
	}
	s = StripLRM(s)

	matches := ltrRunRe.FindAllStringIndex(s, -1)
	if len(matches) == 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s) + len(matches)*utf8.RuneLen(lrm))
	last := 0
	for _, loc := range matches {
		b.WriteString(s[last:loc[1]])
		if needMark(s, loc[0], loc[1]) {
			b.WriteRune(lrm)
		}
		last = loc[1]
	}
	b.WriteString(s[last:])
	return b.String()
}

// needMark решает, ставить ли метку после вставки [start:end). Метка не
// ставится после чисел и перед символами, рядом с которыми она сама ломает
// отображение: «:», скобки, запятая. Это же правило сохраняет суффикс
// пагинации «(i/n)» нетронутым.
func needMark(s string, start, end int) bool {
	lastRune, _ := utf8.DecodeLastRuneInString(s[start:end])
	if unicode.IsDigit(lastRune) {
		return false
	}
	if end < len(s) {
		next, _ := utf8.DecodeRuneInString(s[end:])
		switch next {
		case ':', '(', ')', ',':
			return false
		}
	}
	return true
}
