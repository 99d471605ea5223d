// Package delivery segments replies and sends them with typing-like pacing
// so outbound messages feel human-authored.
package delivery

import (
	"regexp"
	"strings"
	"unicode"
)

var blankLineRe = regexp.MustCompile(`\n{2,}`)

// Segment splits a reply into delivery segments. Rules, in order:
// blank-line boundaries; `～` (dropped); `？`/`。` followed by a Chinese
// character (punctuation kept left); an emoji followed by a Chinese
// character (emoji kept left). `*` characters are stripped from the
// finished segments, after boundary detection — so a `*` between
// punctuation and a Chinese character blocks the split. The result is a
// non-empty list of trimmed non-empty segments.
func Segment(text string) []string {
	var out []string
	for _, block := range blankLineRe.Split(text, -1) {
		for _, piece := range strings.Split(block, "～") {
			for _, s := range splitAfterSentenceEnd(piece) {
				for _, seg := range splitAfterEmoji(s) {
					seg = strings.TrimSpace(strings.ReplaceAll(seg, "*", ""))
					if seg != "" {
						out = append(out, seg)
					}
				}
			}
		}
	}
	if len(out) == 0 {
		trimmed := strings.TrimSpace(strings.ReplaceAll(text, "*", ""))
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}
	return out
}

// splitAfterSentenceEnd splits after `？` or `。` when the next rune is a
// Chinese character, keeping the punctuation on the left segment.
func splitAfterSentenceEnd(s string) []string {
	return splitAfterFunc(s, func(r rune) bool { return r == '？' || r == '。' })
}

// splitAfterEmoji splits after an emoji when the next rune is a Chinese
// character, keeping the emoji on the left segment.
func splitAfterEmoji(s string) []string {
	return splitAfterFunc(s, isEmoji)
}

func splitAfterFunc(s string, boundary func(rune) bool) []string {
	runes := []rune(s)
	var (
		out  []string
		curr []rune
	)
	for i, r := range runes {
		curr = append(curr, r)
		if boundary(r) && i+1 < len(runes) && unicode.Is(unicode.Han, runes[i+1]) {
			out = append(out, string(curr))
			curr = nil
		}
	}
	if len(curr) > 0 {
		out = append(out, string(curr))
	}
	return out
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF: // pictographs, emoticons, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0x2B50 || r == 0x2B55:
		return true
	default:
		return false
	}
}
