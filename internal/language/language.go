// Package language holds the supported answer languages, their speech codes
// and the per-language tutor prompts.
package language

import (
	"sort"
	"strings"
	"unicode"
)

const Default = "en"

type Language struct {
	Code    string `json:"code"`
	Name    string `json:"name"`
	STTCode string `json:"stt_code"`
	TTSCode string `json:"tts_code"`
}

var supported = map[string]Language{
	"en": {"en", "English", "en-US", "en"},
	"es": {"es", "Spanish", "es-ES", "es"},
	"fr": {"fr", "French", "fr-FR", "fr"},
	"de": {"de", "German", "de-DE", "de"},
	"it": {"it", "Italian", "it-IT", "it"},
	"pt": {"pt", "Portuguese", "pt-PT", "pt"},
	"ru": {"ru", "Russian", "ru-RU", "ru"},
	"zh": {"zh", "Chinese (Simplified)", "zh-CN", "zh-CN"},
	"ja": {"ja", "Japanese", "ja-JP", "ja"},
	"ko": {"ko", "Korean", "ko-KR", "ko"},
	"ar": {"ar", "Arabic", "ar-SA", "ar"},
	"hi": {"hi", "Hindi", "hi-IN", "hi"},
	"ta": {"ta", "Tamil", "ta-IN", "ta"},
	"te": {"te", "Telugu", "te-IN", "te"},
	"bn": {"bn", "Bengali", "bn-IN", "bn"},
	"mr": {"mr", "Marathi", "mr-IN", "mr"},
	"gu": {"gu", "Gujarati", "gu-IN", "gu"},
	"kn": {"kn", "Kannada", "kn-IN", "kn"},
	"ml": {"ml", "Malayalam", "ml-IN", "ml"},
	"pa": {"pa", "Punjabi", "pa-IN", "pa"},
	"ur": {"ur", "Urdu", "ur-IN", "ur"},
	"nl": {"nl", "Dutch", "nl-NL", "nl"},
	"pl": {"pl", "Polish", "pl-PL", "pl"},
	"tr": {"tr", "Turkish", "tr-TR", "tr"},
	"vi": {"vi", "Vietnamese", "vi-VN", "vi"},
	"th": {"th", "Thai", "th-TH", "th"},
	"id": {"id", "Indonesian", "id-ID", "id"},
	"ms": {"ms", "Malay", "ms-MY", "ms"},
	"uk": {"uk", "Ukrainian", "uk-UA", "uk"},
	"cs": {"cs", "Czech", "cs-CZ", "cs"},
	"ro": {"ro", "Romanian", "ro-RO", "ro"},
	"sv": {"sv", "Swedish", "sv-SE", "sv"},
	"no": {"no", "Norwegian", "no-NO", "no"},
	"da": {"da", "Danish", "da-DK", "da"},
	"fi": {"fi", "Finnish", "fi-FI", "fi"},
}

var prompts = map[string]string{
	"en": "You are an expert, friendly, and focused AI Math Tutor. Respond in English with clear explanations.",
	"es": "Eres un tutor de matemáticas experto, amigable y enfocado. Responde en español con explicaciones claras.",
	"fr": "Vous êtes un tuteur de mathématiques expert, amical et concentré. Répondez en français avec des explications claires.",
	"de": "Sie sind ein erfahrener, freundlicher und fokussierter Mathe-Tutor. Antworten Sie auf Deutsch mit klaren Erklärungen.",
	"hi": "आप एक विशेषज्ञ, मित्रवत और केंद्रित गणित शिक्षक हैं। स्पष्ट व्याख्या के साथ हिंदी में उत्तर दें।",
	"zh": "你是一位专业、友好、专注的数学导师。用中文回答，并提供清晰的解释。",
	"ar": "أنت مدرس رياضيات خبير وودود ومركز. أجب باللغة العربية مع تفسيرات واضحة.",
	"ja": "あなたは専門的で親しみやすく、集中した数学の家庭教師です。明確な説明で日本語で答えてください。",
	"pt": "Você é um tutor de matemática especialista, amigável e focado. Responda em português com explicações claras.",
	"ru": "Вы опытный, дружелюбный и сосредоточенный репетитор по математике. Отвечайте на русском языке с четкими объяснениями.",
	"it": "Sei un tutor di matematica esperto, amichevole e concentrato. Rispondi in italiano con spiegazioni chiare.",
	"ko": "당신은 전문적이고 친근하며 집중된 수학 튜터입니다. 명확한 설명과 함께 한국어로 답변하세요.",
	"ta": "நீங்கள் ஒரு நிபுணர், நட்பு மற்றும் கவனம் செலுத்தும் கணித ஆசிரியர். தெளிவான விளக்கங்களுடன் தமிழில் பதிலளியுங்கள்.",
	"te": "మీరు నిపుణుడు, స్నేహపూర్వక మరియు దృష్టి పెట్టే గణిత ట్యూటర్. తెలుగులో స్పష్టమైన వివరణలతో సమాధానం ఇవ్వండి.",
}

// Supported reports whether code names a supported language.
func Supported(code string) bool {
	_, ok := supported[code]
	return ok
}

// Resolve normalizes code and falls back to the default language.
func Resolve(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	if Supported(code) {
		return code
	}
	return Default
}

// Lookup returns the language for code, or the default language.
func Lookup(code string) Language {
	return supported[Resolve(code)]
}

// All returns every supported language sorted by code.
func All() []Language {
	out := make([]Language, 0, len(supported))
	for _, l := range supported {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// SystemPrompt builds the tutor instruction for code, followed by the video
// context when one is given.
func SystemPrompt(code, videoContext string) string {
	lang := Lookup(code)
	prompt, ok := prompts[lang.Code]
	if !ok {
		prompt = prompts[Default] + " Respond in " + lang.Name + "."
		prompt = strings.Replace(prompt, " Respond in English with clear explanations.", " Give clear explanations.", 1)
	}
	if ctx := strings.TrimSpace(videoContext); ctx != "" {
		return prompt + "\n\n" + ctx
	}
	return prompt
}

var (
	spanishMarkers = map[string]bool{"el": true, "la": true, "que": true, "es": true, "una": true, "por": true, "para": true, "con": true, "cómo": true, "qué": true}
	frenchMarkers  = map[string]bool{"le": true, "la": true, "du": true, "des": true, "et": true, "que": true, "dans": true, "sur": true, "avec": true, "est": true}
)

// Detect guesses the language of text from its script, then from common
// function words. It returns Default when nothing stands out.
func Detect(text string) string {
	if strings.TrimSpace(text) == "" {
		return Default
	}

	counts := map[string]int{}
	letters := 0
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Devanagari, r):
			counts["hi"]++
		case unicode.Is(unicode.Telugu, r):
			counts["te"]++
		case unicode.Is(unicode.Tamil, r):
			counts["ta"]++
		case unicode.Is(unicode.Bengali, r):
			counts["bn"]++
		case unicode.Is(unicode.Gujarati, r):
			counts["gu"]++
		case unicode.Is(unicode.Kannada, r):
			counts["kn"]++
		case unicode.Is(unicode.Malayalam, r):
			counts["ml"]++
		case unicode.Is(unicode.Gurmukhi, r):
			counts["pa"]++
		case unicode.Is(unicode.Arabic, r):
			counts["ar"]++
		case unicode.Is(unicode.Hangul, r):
			counts["ko"]++
		case unicode.Is(unicode.Hiragana, r), unicode.Is(unicode.Katakana, r):
			counts["ja"]++
		case unicode.Is(unicode.Han, r):
			counts["zh"]++
		case unicode.Is(unicode.Cyrillic, r):
			counts["ru"]++
		case unicode.Is(unicode.Thai, r):
			counts["th"]++
		}
	}
	best, bestCount := "", 0
	for code, n := range counts {
		if n > bestCount || (n == bestCount && code < best) {
			best, bestCount = code, n
		}
	}
	// Kana mixed with Han is Japanese.
	if best == "zh" && counts["ja"] > 0 {
		best = "ja"
	}
	if bestCount*2 >= letters && best != "" {
		return best
	}

	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	es, fr := 0, 0
	for _, w := range words {
		if spanishMarkers[w] {
			es++
		}
		if frenchMarkers[w] {
			fr++
		}
	}
	switch {
	case es >= 2 && es > fr:
		return "es"
	case fr >= 2 && fr > es:
		return "fr"
	default:
		return Default
	}
}
