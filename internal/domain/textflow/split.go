// Package textflow — подготовка ответов к отправке в Telegram: разбиение
// длинного текста на сообщения по смысловым границам и стабилизация
// BiDi-отображения персидского текста с латинскими вкраплениями.
package textflow

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MessageCap — лимит длины одного сообщения Telegram в символах.
	MessageCap = 4096
	// formattingReserve — запас под суффикс пагинации « (i/n)» и разметку.
	formattingReserve = 16
)

// Split режет текст на части не длиннее limit символов. Граница выбирается по
// убыванию качества: абзац (двойной перенос), конец предложения, пробел,
// жёсткий разрез. Граница выше жёсткой не используется, если оставляет кусок
// короче половины бюджета. При числе частей больше одной каждая получает
// суффикс « (i/n)».
func Split(text string, limit int) []string {
	if limit <= 0 {
		limit = MessageCap
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}

	budget := limit - formattingReserve
	if budget < 1 {
		budget = limit
	}

	var chunks []string
	rest := []rune(text)
	for len(rest) > 0 {
		if len(rest) <= budget {
			if tail := strings.TrimSpace(string(rest)); tail != "" {
				chunks = append(chunks, tail)
			}
			break
		}
		cut := findCut(rest, budget)
		if chunk := strings.TrimSpace(string(rest[:cut])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = rest[cut:]
		for len(rest) > 0 && unicode.IsSpace(rest[0]) {
			rest = rest[1:]
		}
	}

	if n := len(chunks); n > 1 {
		for i := range chunks {
			chunks[i] = fmt.Sprintf("%s (%d/%d)", chunks[i], i+1, n)
		}
	}
	return chunks
}

// findCut выбирает позицию разреза в пределах первых budget рун.
func findCut(r []rune, budget int) int {
	window := r[:budget]
	// Кусок короче половины бюджета на «хорошей» границе не режем.
	minCut := budget / 2

	if i := lastParagraphEnd(window); i >= minCut {
		return i
	}
	if i := lastSentenceEnd(window); i >= minCut {
		return i
	}
	if i := lastSpace(window); i >= minCut {
		return i
	}
	return budget
}

// lastParagraphEnd — позиция за последним двойным переносом строки; -1, если
// его нет.
func lastParagraphEnd(r []rune) int {
	for i := len(r) - 1; i > 0; i-- {
		if r[i] == '\n' && r[i-1] == '\n' {
			return i + 1
		}
	}
	return -1
}

// sentenceTerminator распознаёт знаки конца предложения, включая арабский
// вопросительный знак.
func sentenceTerminator(c rune) bool {
	switch c {
	case '.', '!', '?', '؟':
		return true
	}
	return false
}

// lastSentenceEnd — позиция за последним знаком конца предложения, после
// которого идёт пробел или перенос; -1, если такого нет.
func lastSentenceEnd(r []rune) int {
	for i := len(r) - 1; i > 0; i-- {
		if !unicode.IsSpace(r[i]) {
			continue
		}
		if sentenceTerminator(r[i-1]) {
			return i
		}
	}
	return -1
}

// lastSpace — позиция последнего пробельного символа; -1, если его нет.
func lastSpace(r []rune) int {
	for i := len(r) - 1; i >= 0; i-- {
		if unicode.IsSpace(r[i]) {
			return i
		}
	}
	return -1
}
