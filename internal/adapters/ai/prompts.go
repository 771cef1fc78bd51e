package ai

import (
	"fmt"
	"strings"
)

// Системные промпты всех AI-команд собраны здесь, чтобы поведение бота
// правилось в одном месте, а не по обработчикам.

const (
	// promptDirect — /prompt: свободный запрос без обвязки.
	promptDirect = "You are a helpful assistant. Answer concisely and directly, without preamble."

	// promptTranslate — /translate. Язык подставляется параметрами.
	promptTranslate = "You are a professional translator. Translate the user's text to %s.%s " +
		"Output only the translation, no explanations, no quotes. Preserve line breaks and formatting."

	// promptTellme — /tellme: ответ на вопрос по выдержке переписки.
	promptTellme = "You are given a chat history excerpt. Answer the question strictly based on " +
		"the excerpt. If the excerpt does not contain the answer, say so. Question: %s"

	// promptSummarize — краткое резюме расшифровки голосового сообщения.
	promptSummarize = "Summarize the following transcript in 2-3 short sentences, in the same " +
		"language as the transcript."

	// promptEnhanceImage — доводка пользовательского промпта перед генерацией
	// изображения.
	promptEnhanceImage = "Rewrite the following image prompt to be more detailed and visually " +
		"specific for an image generation model. Keep the original intent. Output only the " +
		"rewritten prompt, one paragraph, English."

	// promptTranscribe — инструкция распознавания речи.
	promptTranscribe = "Transcribe the audio verbatim. Output only the transcript text, in the " +
		"original language, without timestamps or speaker labels."
)

// Режимы анализа переписки.
var analyzePrompts = map[string]string{
	"general": "You are given a chat history excerpt. Produce a structured analysis: main topics, " +
		"tone of the conversation, notable events, and a short overall summary.",
	"fun": "You are given a chat history excerpt. Produce a light-hearted, humorous analysis: " +
		"funny moments, running jokes, who said the most memorable things. Keep it friendly.",
	"romance": "You are given a chat history excerpt between two people. Analyze the emotional " +
		"dynamic: warmth, attention, reciprocity. Be tactful and avoid definitive judgements.",
}

// PromptDirect — системное сообщение для /prompt.
func PromptDirect() string { return promptDirect }

// PromptTranslate собирает системное сообщение перевода на targetLang
// (код ISO 639-1), опционально с исходным языком.
func PromptTranslate(targetLang, sourceLang string) string {
	src := ""
	if sourceLang != "" {
		src = fmt.Sprintf(" The source language is %s.", sourceLang)
	}
	return fmt.Sprintf(promptTranslate, targetLang, src)
}

// PromptAnalyze — системное сообщение анализа для режима mode. Неизвестный
// режим сводится к general: валидация режима — дело парсера.
func PromptAnalyze(mode string) string {
	if p, ok := analyzePrompts[strings.ToLower(mode)]; ok {
		return p
	}
	return analyzePrompts["general"]
}

// PromptTellme — системное сообщение ответа на вопрос question по переписке.
func PromptTellme(question string) string {
	return fmt.Sprintf(promptTellme, question)
}

// PromptSummarize — системное сообщение резюме расшифровки.
func PromptSummarize() string { return promptSummarize }

// PromptEnhanceImage — системное сообщение доводки промпта изображения.
func PromptEnhanceImage() string { return promptEnhanceImage }

// PromptTranscribe — инструкция распознавания речи.
func PromptTranscribe() string { return promptTranscribe }
