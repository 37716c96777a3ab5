package transcript

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var sentenceEndings = []string{". ", "! ", "? "}

// Merge appends a classified utterance to a document's current content
// and returns the new content. Only the tail of current is inspected;
// the rules guarantee no double spaces at the junction and attach
// punctuation to the preceding word.
func Merge(current string, c Classification) string {
	if c.Kind == Command {
		return mergeCommand(current, c.Text)
	}
	return mergeDictated(current, c.Text)
}

func mergeCommand(current, substitution string) string {
	if strings.HasPrefix(substitution, "\n") {
		// Line breaks take no trailing space; bridge with one space
		// when the content ends mid-word.
		if current != "" && !strings.HasSuffix(current, " ") {
			return current + " " + substitution
		}
		return current + substitution
	}

	if strings.HasSuffix(current, " ") {
		return strings.TrimSuffix(current, " ") + substitution + " "
	}
	return current + substitution + " "
}

func mergeDictated(current, text string) string {
	if text == "" {
		return current
	}

	if startsSentence(current) {
		text = capitalizeFirst(text)
	}

	if current != "" && !strings.HasSuffix(current, " ") {
		current += " "
	}
	return current + text + " "
}

// startsSentence reports whether appended text begins a new sentence:
// the document is empty or its tail closed the previous sentence.
func startsSentence(current string) bool {
	if current == "" {
		return true
	}
	for _, ending := range sentenceEndings {
		if strings.HasSuffix(current, ending) {
			return true
		}
	}
	return false
}

func capitalizeFirst(text string) string {
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return text
	}
	return string(unicode.ToUpper(r)) + text[size:]
}
