package tutor

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	speechURLPattern          = regexp.MustCompile(`https?://\S+`)
	speechFencedCodePattern   = regexp.MustCompile("(?s)```.*?```")
	speechInlineCodePattern   = regexp.MustCompile("`[^`]*`")
	speechMarkdownLinkPattern = regexp.MustCompile(`\[(.*?)\]\((.*?)\)`)

	speechHeaderPattern = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*`)
	speechBulletPattern = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	speechBoldPattern   = regexp.MustCompile(`\*\*|__`)

	latexFracPattern    = regexp.MustCompile(`\\[dt]?frac\s*\{([^{}]*)\}\s*\{([^{}]*)\}`)
	latexSqrtPattern    = regexp.MustCompile(`\\sqrt\s*\{([^{}]*)\}`)
	latexTextPattern    = regexp.MustCompile(`\\(?:text|textbf|textit|mathrm|mathbf)\s*\{([^{}]*)\}`)
	latexDelimPattern   = regexp.MustCompile(`\\[\[\]()]|\$+`)
	latexCommandPattern = regexp.MustCompile(`\\[A-Za-z]+`)

	powerPattern     = regexp.MustCompile(`([A-Za-z0-9)]+)\s*\^\s*\{?\s*(-?[A-Za-z0-9]+)\s*\}?`)
	subscriptPattern = regexp.MustCompile(`([A-Za-z])_\{?([A-Za-z0-9]+)\}?`)
	sqrtCallPattern  = regexp.MustCompile(`(?i)\bsqrt\s*\(\s*([^()]*)\)`)
	minusPattern     = binaryOperator(`[-−]`)
	slashPattern     = binaryOperator(`/`)
	starPattern      = binaryOperator(`\*`)
)

var latexSymbols = strings.NewReplacer(
	`\times`, " times ",
	`\cdot`, " times ",
	`\div`, " divided by ",
	`\pm`, " plus or minus ",
	`\left`, "",
	`\right`, "",
	`\leq`, " less than or equal to ",
	`\geq`, " greater than or equal to ",
	`\le`, " less than or equal to ",
	`\ge`, " greater than or equal to ",
	`\neq`, " does not equal ",
	`\approx`, " approximately equals ",
	`\infty`, " infinity ",
	`\alpha`, " alpha ",
	`\beta`, " beta ",
	`\gamma`, " gamma ",
	`\delta`, " delta ",
	`\Delta`, " delta ",
	`\theta`, " theta ",
	`\lambda`, " lambda ",
	`\mu`, " mu ",
	`\pi`, " pi ",
	`\sigma`, " sigma ",
	`\Sigma`, " sigma ",
	`\omega`, " omega ",
	`\degree`, " degrees ",
	`\circ`, " degrees ",
	`\,`, " ",
	`\;`, " ",
	`\:`, " ",
	`\!`, "",
)

var spokenSymbols = strings.NewReplacer(
	"²", "^2",
	"³", "^3",
	"×", " times ",
	"·", " times ",
	"÷", " divided by ",
	"±", " plus or minus ",
	"√", " square root of ",
	"≈", " approximately equals ",
	"≠", " does not equal ",
	"≤", " less than or equal to ",
	"≥", " greater than or equal to ",
	"∞", " infinity ",
	"°", " degrees ",
	"%", " percent ",
	"π", " pi ",
	"α", " alpha ",
	"β", " beta ",
	"γ", " gamma ",
	"δ", " delta ",
	"Δ", " delta ",
	"θ", " theta ",
	"λ", " lambda ",
	"μ", " mu ",
	"σ", " sigma ",
	"ω", " omega ",
	"=", " equals ",
	"+", " plus ",
	"<", " less than ",
	">", " greater than ",
)

// SpeechText turns a written answer into text a speech model can read
// aloud: markup and code are removed and math notation becomes words.
func SpeechText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	raw = speechFencedCodePattern.ReplaceAllString(raw, " ")
	raw = speechInlineCodePattern.ReplaceAllString(raw, " ")
	raw = speechMarkdownLinkPattern.ReplaceAllString(raw, "$1")
	raw = speechURLPattern.ReplaceAllString(raw, " ")

	raw = speechHeaderPattern.ReplaceAllString(raw, "")
	raw = speechBulletPattern.ReplaceAllString(raw, "")
	raw = speechBoldPattern.ReplaceAllString(raw, "")

	raw = spokenMath(raw)
	return sanitizeSpeechText(raw)
}

func spokenMath(s string) string {
	s = latexTextPattern.ReplaceAllString(s, " $1 ")
	s = latexFracPattern.ReplaceAllString(s, " $1 divided by $2 ")
	s = latexSqrtPattern.ReplaceAllString(s, " square root of $1 ")
	s = latexSymbols.Replace(s)
	s = latexDelimPattern.ReplaceAllString(s, " ")
	s = latexCommandPattern.ReplaceAllString(s, " ")
	s = strings.NewReplacer("{", " ", "}", " ").Replace(s)

	s = spokenSymbols.Replace(s)
	s = sqrtCallPattern.ReplaceAllString(s, "square root of $1")
	s = powerPattern.ReplaceAllStringFunc(s, spokenPower)
	s = subscriptPattern.ReplaceAllString(s, "$1 sub $2")

	// Applied twice so chains like 1-2-3 convert every operator.
	for i := 0; i < 2; i++ {
		s = minusPattern.ReplaceAllString(s, "$1 minus $2")
		s = slashPattern.ReplaceAllString(s, "$1 divided by $2")
		s = starPattern.ReplaceAllString(s, "$1 times $2")
	}
	return s
}

// binaryOperator matches op between numbers, single-letter variables or
// parentheses, leaving hyphenated words and "and/or" alone.
func binaryOperator(op string) *regexp.Regexp {
	return regexp.MustCompile(`([0-9]|\b[A-Za-z]\b|\))\s*` + op + `\s*([0-9]|\(|\b[A-Za-z]\b)`)
}

func spokenPower(m string) string {
	parts := powerPattern.FindStringSubmatch(m)
	base, exp := parts[1], parts[2]
	switch exp {
	case "2":
		return base + " squared"
	case "3":
		return base + " cubed"
	default:
		return base + " to the power of " + exp
	}
}

// sanitizeSpeechText removes markup and symbol noise left in model text.
func sanitizeSpeechText(raw string) string {
	raw = strings.NewReplacer(
		"*", " ",
		"_", " ",
		"\\", " ",
		"/", " ",
		"|", " ",
		"#", " ",
		"~", " ",
		"^", " ",
	).Replace(raw)

	var b strings.Builder
	b.Grow(len(raw))
	prevSpace := true

	for _, r := range raw {
		switch {
		case r == '\u200d' || r == '\ufe0f' || r == '\u20e3':
			continue
		case unicode.IsSpace(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		case unicode.IsControl(r):
			continue
		case unicode.In(r, unicode.So, unicode.Sm, unicode.Sk):
			continue
		case isSpeechSafePunctuation(r):
			if prevSpace && isClosingPunctuation(r) {
				trimTrailingSpace(&b)
			}
			b.WriteRune(r)
			prevSpace = false
		case unicode.IsPunct(r):
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
		default:
			b.WriteRune(r)
			prevSpace = false
		}
	}

	return strings.TrimSpace(b.String())
}

func isSpeechSafePunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', '\'', '"', '-', '(', ')':
		return true
	default:
		return false
	}
}

func isClosingPunctuation(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ':', ';', ')':
		return true
	default:
		return false
	}
}

func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	if !strings.HasSuffix(s, " ") {
		return
	}
	s = strings.TrimRight(s, " ")
	b.Reset()
	b.WriteString(s)
}
