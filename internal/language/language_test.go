package language

import (
	"strings"
	"testing"
)

func TestResolve(t *testing.T) {
	cases := map[string]string{
		"en":    "en",
		" ES ":  "es",
		"pt-BR": "pt",
		"zh_CN": "zh",
		"xx":    Default,
		"":      Default,
	}
	for in, want := range cases {
		if got := Resolve(in); got != want {
			t.Fatalf("Resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLookupCodes(t *testing.T) {
	l := Lookup("hi")
	if l.Name != "Hindi" || l.STTCode != "hi-IN" || l.TTSCode != "hi" {
		t.Fatalf("Lookup(hi) = %+v", l)
	}
	if got := len(All()); got != 35 {
		t.Fatalf("len(All()) = %d, want 35", got)
	}
}

func TestSystemPrompt(t *testing.T) {
	got := SystemPrompt("es", "Video: Pythagorean Theorem")
	if !strings.HasPrefix(got, "Eres un tutor") || !strings.HasSuffix(got, "\n\nVideo: Pythagorean Theorem") {
		t.Fatalf("SystemPrompt(es) = %q", got)
	}

	fallback := SystemPrompt("nl", "")
	if !strings.Contains(fallback, "Respond in Dutch.") || strings.Contains(fallback, "in English") {
		t.Fatalf("SystemPrompt(nl) = %q, want Dutch instruction", fallback)
	}
}

func TestDetect(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"", "en"},
		{"What is the area of a circle?", "en"},
		{"¿Qué es la hipotenusa en un triángulo?", "es"},
		{"Quelle est la formule de l'aire du cercle ?", "fr"},
		{"वृत्त का क्षेत्रफल क्या है?", "hi"},
		{"వృత్తం యొక్క వైశాల్యం ఏమిటి?", "te"},
		{"円の面積はどうやって求めますか", "ja"},
		{"圆的面积是多少", "zh"},
		{"Что такое гипотенуза?", "ru"},
	}
	for _, tc := range cases {
		if got := Detect(tc.text); got != tc.want {
			t.Fatalf("Detect(%q) = %q, want %q", tc.text, got, tc.want)
		}
	}
}
