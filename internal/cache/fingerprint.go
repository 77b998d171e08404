package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

var stopWords = map[string]bool{
	"what": true, "how": true, "why": true, "when": true, "where": true,
	"is": true, "are": true, "the": true, "a": true, "an": true,
}

// Normalize canonicalizes question text for cache addressing: lowercase,
// sentence punctuation stripped, whitespace collapsed, filler question words
// dropped. Arithmetic operators and decimal points are kept so "2+2" and
// "22" never share a key. Text made only of stop words keeps its words.
func Normalize(text string) string {
	lowered := strings.ToLower(strings.TrimSpace(text))
	runes := []rune(lowered)

	var b strings.Builder
	b.Grow(len(lowered))
	for i, r := range runes {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '.':
			if i > 0 && i+1 < len(runes) && unicode.IsDigit(runes[i-1]) && unicode.IsDigit(runes[i+1]) {
				b.WriteRune(r)
			} else {
				b.WriteByte(' ')
			}
		case r == '-' || r == '/' || r == '*' || r == '%':
			b.WriteRune(r)
		case unicode.IsPunct(r):
			b.WriteByte(' ')
		default:
			b.WriteRune(r)
		}
	}

	words := strings.Fields(b.String())
	kept := words[:0:0]
	for _, w := range words {
		if !stopWords[w] {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 {
		kept = words
	}
	return strings.Join(kept, " ")
}

// Fingerprint is the cache key of a request: a hex SHA-256 over the session
// identity, language, input modality and normalized content.
func Fingerprint(userID, videoID, language, modality, normalized string) string {
	return digest([]byte(userID), []byte(videoID), []byte(language), []byte(modality), []byte(normalized))
}

// ImageFingerprint keys an image description by the image bytes and the
// video and language it was described for.
func ImageFingerprint(videoID, language string, image []byte) string {
	return digest([]byte("image"), []byte(videoID), []byte(language), image)
}

// SpeechFingerprint keys synthesized speech by its spoken text and language.
func SpeechFingerprint(language, text string) string {
	return digest([]byte("speech"), []byte(language), []byte(text))
}

func digest(parts ...[]byte) string {
	h := sha256.New()
	for i, part := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write(part)
	}
	return hex.EncodeToString(h.Sum(nil))
}
