package textflow_test

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"

	"sakaibot/internal/domain/textflow"
)

const lrm = "\u200e"

var suffixRe = regexp.MustCompile(`\s\(\d+/\d+\)$`)

// stripSuffix снимает суффикс пагинации для проверки восстановления текста.
func stripSuffix(chunk string) string {
	return suffixRe.ReplaceAllString(chunk, "")
}

func TestSplitShortTextUntouched(t *testing.T) {
	t.Parallel()

	got := textflow.Split("короткий ответ", 4096)
	if len(got) != 1 || got[0] != "короткий ответ" {
		t.Fatalf("Split = %q", got)
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	t.Parallel()

	para1 := strings.Repeat("слово ", 20)
	para2 := strings.Repeat("текст ", 20)
	input := strings.TrimSpace(para1) + "\n\n" + strings.TrimSpace(para2)

	chunks := textflow.Split(input, 160)
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2: %q", len(chunks), chunks)
	}
	if stripSuffix(chunks[0]) != strings.TrimSpace(para1) {
		t.Fatalf("first chunk not cut at paragraph: %q", chunks[0])
	}
}

func TestSplitFallsBackToSentenceBoundary(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("Это первое предложение. ", 12)
	chunks := textflow.Split(strings.TrimSpace(input), 150)
	if len(chunks) < 2 {
		t.Fatalf("expected a split, got %q", chunks)
	}
	for i, c := range chunks[:len(chunks)-1] {
		payload := stripSuffix(c)
		if !strings.HasSuffix(payload, ".") {
			t.Fatalf("chunk %d not cut at sentence end: %q", i, payload)
		}
	}
}

func TestSplitInvariants(t *testing.T) {
	t.Parallel()

	const msgCap = 120
	inputs := []string{
		strings.Repeat("форма и содержание разошлись окончательно. ", 15),
		strings.Repeat("слово ", 200),
		// Текст без единого пробела: допустим только жёсткий разрез.
		strings.Repeat("х", 500),
		"متن فارسی با چند جمله. " + strings.Repeat("این یک آزمایش است؟ ", 20),
	}

	stripSpace := func(s string) string {
		return strings.Join(strings.Fields(s), "")
	}

	for _, input := range inputs {
		input = strings.TrimSpace(input)
		chunks := textflow.Split(input, msgCap)
		if len(chunks) == 0 {
			t.Fatal("no chunks produced")
		}

		var payloads []string
		for _, c := range chunks {
			if utf8.RuneCountInString(c) > msgCap {
				t.Fatalf("chunk exceeds cap: %d runes", utf8.RuneCountInString(c))
			}
			payloads = append(payloads, stripSuffix(c))
		}

		// Конкатенация кусков с точностью до межчанковых пробелов равна исходному тексту.
		joined := stripSpace(strings.Join(payloads, " "))
		if want := stripSpace(input); joined != want {
			t.Fatalf("payload concatenation mismatch:\n got %q\nwant %q", joined, want)
		}

		if len(chunks) > 1 {
			for i, c := range chunks {
				if !suffixRe.MatchString(c) {
					t.Fatalf("chunk %d lacks pagination suffix: %q", i, c)
				}
			}
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	t.Parallel()

	if got := textflow.Split("   \n ", 100); got != nil {
		t.Fatalf("Split(blank) = %q, want nil", got)
	}
}

func TestFixBidiInsertsMarksAfterLatinRuns(t *testing.T) {
	t.Parallel()

	in := "این سایت https://example.com/page خیلی خوب است و کلمه test هم دارد"
	out := textflow.FixBidi(in)

	if !strings.Contains(out, "https://example.com/page"+lrm) {
		t.Fatalf("no LRM after URL: %q", out)
	}
	if !strings.Contains(out, "test"+lrm) {
		t.Fatalf("no LRM after english word: %q", out)
	}
}

func TestFixBidiIdempotentAndReversible(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"متن با email user@example.com و کد `go build` داخلش",
		"پاسخ شما آماده است: see https://go.dev/doc (1/2)",
		"نسخه v2 با عدد 42 تمام شد",
	}
	for _, in := range inputs {
		once := textflow.FixBidi(in)
		twice := textflow.FixBidi(once)
		if once != twice {
			t.Fatalf("FixBidi not idempotent:\n once %q\ntwice %q", once, twice)
		}
		if textflow.StripLRM(once) != in {
			t.Fatalf("StripLRM does not recover original:\n got %q\nwant %q", textflow.StripLRM(once), in)
		}
	}
}

func TestFixBidiSkipsForbiddenPositions(t *testing.T) {
	t.Parallel()

	// Перед двоеточием и скобками метка не ставится, суффикс пагинации не трогается.
	in := "نتیجه test: خوب بود (see) پایان (2/3)"
	out := textflow.FixBidi(in)

	if strings.Contains(out, "test"+lrm+":") {
		t.Fatalf("LRM inserted before colon: %q", out)
	}
	if strings.Contains(out, "see"+lrm+")") {
		t.Fatalf("LRM inserted before closing paren: %q", out)
	}
	if !strings.HasSuffix(out, "(2/3)") {
		t.Fatalf("pagination suffix altered: %q", out)
	}
}

func TestFixBidiLeavesPureLTRAlone(t *testing.T) {
	t.Parallel()

	in := "plain english answer with https://example.com inside"
	if got := textflow.FixBidi(in); got != in {
		t.Fatalf("pure LTR text modified: %q", got)
	}
}

func TestContainsRTL(t *testing.T) {
	t.Parallel()

	if textflow.ContainsRTL("hello") {
		t.Fatal("latin text reported as RTL")
	}
	if !textflow.ContainsRTL("سلام") {
		t.Fatal("persian text not detected")
	}
}
