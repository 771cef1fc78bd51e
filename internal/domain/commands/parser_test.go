package commands_test

import (
	"errors"
	"reflect"
	"testing"

	"sakaibot/internal/domain/commands"
)

func TestParseValidCommands(t *testing.T) {
	t.Parallel()

	limits := commands.DefaultLimits()

	cases := []struct {
		name string
		in   string
		want commands.Command
	}{
		{
			name: "prompt",
			in:   "/prompt=скажи привет",
			want: commands.Prompt{Text: "скажи привет"},
		},
		{
			name: "translateInline",
			in:   "/translate=en=سلام دنیا",
			want: commands.Translate{TargetLang: "en", Text: "سلام دنیا"},
		},
		{
			name: "translateWithSource",
			in:   "/translate=fa,en=hello world",
			want: commands.Translate{TargetLang: "fa", SourceLang: "en", Text: "hello world"},
		},
		{
			name: "translateReplyForm",
			in:   "/translate=ru",
			want: commands.Translate{TargetLang: "ru", FromReply: true},
		},
		{
			name: "analyzeShort",
			in:   "/analyze=100",
			want: commands.Analyze{Mode: "general", Count: 100},
		},
		{
			name: "analyzeWithMode",
			in:   "/analyze=fun=50",
			want: commands.Analyze{Mode: "fun", Count: 50},
		},
		{
			name: "tellme",
			in:   "/tellme=200=о чём договорились?",
			want: commands.TellMe{Count: 200, Question: "о чём договорились?"},
		},
		{
			name: "ttsPlain",
			in:   "/tts привет мир",
			want: commands.TTS{Text: "привет мир"},
		},
		{
			name: "ttsWithParams",
			in:   "/tts voice=alloy rate=+20% volume=-10% читай это",
			want: commands.TTS{Voice: "alloy", Rate: "+20%", Volume: "-10%", Text: "читай это"},
		},
		{
			name: "ttsReplyForm",
			in:   "/tts rate=+10%",
			want: commands.TTS{Rate: "+10%", FromReply: true},
		},
		{
			name: "stt",
			in:   "/stt",
			want: commands.STT{},
		},
		{
			name: "imageFlux",
			in:   "/image=flux/sunset over mountains",
			want: commands.Image{Model: "flux", Prompt: "sunset over mountains"},
		},
		{
			name: "imageSDXLPromptWithSlash",
			in:   "/image=sdxl/cat in a box/on a table",
			want: commands.Image{Model: "sdxl", Prompt: "cat in a box/on a table"},
		},
		{
			name: "categorizeCandidate",
			in:   "/news",
			want: commands.Categorize{Name: "news"},
		},
		{
			name: "authList",
			in:   "/auth list",
			want: commands.Auth{Action: "list"},
		},
		{
			name: "authAdd",
			in:   "/auth add 123456",
			want: commands.Auth{Action: "add", UserID: 123456},
		},
		{
			name: "status",
			in:   "/status",
			want: commands.Status{},
		},
		{
			name: "help",
			in:   "/help",
			want: commands.Help{},
		},
		{
			name: "nameNormalizedToLower",
			in:   "/PROMPT=test",
			want: commands.Prompt{Text: "test"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := commands.Parse(tc.in, limits)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tc.in, err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("Parse(%q) = %#v, want %#v", tc.in, got, tc.want)
			}
		})
	}
}

func TestParseUsageErrors(t *testing.T) {
	t.Parallel()

	limits := commands.DefaultLimits()

	cases := []struct {
		name string
		in   string
	}{
		{name: "promptEmpty", in: "/prompt="},
		{name: "promptNoAssign", in: "/prompt"},
		{name: "translateBadLang", in: "/translate=xx=hello"},
		{name: "translateBadSource", in: "/translate=en,zz=hello"},
		{name: "analyzeBadMode", in: "/analyze=chaos=10"},
		{name: "analyzeZero", in: "/analyze=0"},
		{name: "analyzeOverMax", in: "/analyze=999999"},
		{name: "analyzeNotNumber", in: "/analyze=many"},
		{name: "tellmeNoQuestion", in: "/tellme=100"},
		{name: "ttsBadRate", in: "/tts rate=+200% hello"},
		{name: "ttsRateNoSign", in: "/tts rate=20% hello"},
		{name: "ttsUnknownParam", in: "/tts pitch=+5% hello"},
		{name: "imageBadModel", in: "/image=dalle/cat"},
		{name: "imageNoPrompt", in: "/image=flux"},
		{name: "sttWithArgs", in: "/stt now"},
		{name: "authBadAction", in: "/auth promote 1"},
		{name: "authBadID", in: "/auth add abc"},
		{name: "injectionScript", in: "/prompt=<script>alert(1)</script>"},
		{name: "injectionSubshell", in: "/prompt=run $(rm -rf /)"},
		{name: "injectionBackticks", in: "/prompt=`whoami`"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := commands.Parse(tc.in, limits)
			var usage *commands.UsageError
			if !errors.As(err, &usage) {
				t.Fatalf("Parse(%q) error = %v, want *UsageError", tc.in, err)
			}
		})
	}
}

func TestSanitizeTextStripsControls(t *testing.T) {
	t.Parallel()

	in := "hel\x00lo\x1b[31m world\nsecond\tline"
	got, ok := commands.SanitizeText(in)
	if !ok {
		t.Fatal("SanitizeText rejected benign text")
	}
	want := "hello[31m world\nsecond\tline"
	if got != want {
		t.Fatalf("SanitizeText = %q, want %q", got, want)
	}
}

func TestIsSlashCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want bool
	}{
		{in: "/prompt=hi", want: true},
		{in: "  /status", want: true},
		{in: "/", want: false},
		{in: "hello", want: false},
		{in: "", want: false},
	}
	for _, tc := range cases {
		if got := commands.IsSlashCommand(tc.in); got != tc.want {
			t.Fatalf("IsSlashCommand(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
