package transcript

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeLowerCasesAndTrims(t *testing.T) {
	t.Parallel()

	require.Equal(t, "hello world", Normalize("  Hello World\n"))
	require.Equal(t, "", Normalize("   \t "))
}

func TestNormalizeIdempotent(t *testing.T) {
	t.Parallel()

	inputs := []string{"  New Line ", "PERIOD", "already normal", ""}
	for _, in := range inputs {
		once := Normalize(in)
		require.Equal(t, once, Normalize(once))
	}
}

func TestClassifyMatchesExactPhrases(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)

	got := c.Classify("period")
	require.Equal(t, Command, got.Kind)
	require.Equal(t, ".", got.Text)

	got = c.Classify("new paragraph")
	require.Equal(t, Command, got.Kind)
	require.Equal(t, "\n\n", got.Text)

	got = c.Classify("smiley face")
	require.Equal(t, Command, got.Kind)
	require.Equal(t, ":-)", got.Text)
}

func TestClassifyRequiresFullStringMatch(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)

	// Phrases that merely contain a command word stay dictation.
	for _, phrase := range []string{"the period ended", "period drama", "a new line please"} {
		got := c.Classify(phrase)
		require.Equal(t, Dictated, got.Kind, "phrase %q", phrase)
		require.Equal(t, phrase, got.Text)
	}
}

func TestClassifyUnknownPhraseIsDictated(t *testing.T) {
	t.Parallel()

	c := NewClassifier(nil)
	got := c.Classify("hello world")
	require.Equal(t, Dictated, got.Kind)
	require.Equal(t, "hello world", got.Text)
}

func TestClassifierExtraCommands(t *testing.T) {
	t.Parallel()

	c := NewClassifier(map[string]string{"Ellipsis": "...", "period": "。"})

	got := c.Classify("ellipsis")
	require.Equal(t, Command, got.Kind)
	require.Equal(t, "...", got.Text)

	// Extras override the built-in table.
	got = c.Classify("period")
	require.Equal(t, "。", got.Text)
}
