package stt_test

import (
	"testing"

	"sakaibot/internal/adapters/stt"
)

func TestReplyFormatRoundTrip(t *testing.T) {
	t.Parallel()

	reply := stt.FormatReply("سلام، حالت چطوره؟", "Приветствие и вопрос о делах.")
	got, ok := stt.ExtractTranscript(reply)
	if !ok {
		t.Fatal("ExtractTranscript rejected our own format")
	}
	if got != "سلام، حالت چطوره؟" {
		t.Fatalf("transcript = %q", got)
	}
}

func TestExtractTranscriptWithoutSummary(t *testing.T) {
	t.Parallel()

	reply := stt.FormatReply("just text", "")
	got, ok := stt.ExtractTranscript(reply)
	if !ok || got != "just text" {
		t.Fatalf("ExtractTranscript = %q,%v", got, ok)
	}
}

func TestExtractTranscriptForeignText(t *testing.T) {
	t.Parallel()

	if _, ok := stt.ExtractTranscript("обычное сообщение без заголовков"); ok {
		t.Fatal("foreign text must not match the reply format")
	}
}
