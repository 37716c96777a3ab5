package transcript

// Kind distinguishes spoken commands from dictated words.
type Kind int

const (
	Dictated Kind = iota
	Command
)

// Classification is the result of matching a normalized phrase against
// the command table. Text holds the substitution for a Command and the
// phrase itself for Dictated.
type Classification struct {
	Kind Kind
	Text string
}

// DefaultCommands returns the built-in spoken-phrase substitutions.
// Callers receive a fresh copy and may extend it.
func DefaultCommands() map[string]string {
	return map[string]string{
		"period":            ".",
		"comma":             ",",
		"question mark":     "?",
		"exclamation mark":  "!",
		"exclamation point": "!",
		"colon":             ":",
		"semicolon":         ";",
		"new line":          "\n",
		"new paragraph":     "\n\n",
		"open bracket":      "(",
		"close bracket":     ")",
		"smiley face":       ":-)",
		"sad face":          ":-(",
	}
}

// Classifier matches normalized phrases against a fixed command table.
type Classifier struct {
	commands map[string]string
}

// NewClassifier builds a classifier from the default command table plus
// any extra phrase substitutions. Extra phrases are normalized before
// insertion and override defaults on collision.
func NewClassifier(extra map[string]string) *Classifier {
	commands := DefaultCommands()
	for phrase, substitution := range extra {
		commands[Normalize(phrase)] = substitution
	}
	return &Classifier{commands: commands}
}

// Classify decides whether a normalized phrase is a command. The match
// is exact and full-string; anything else is dictated text.
func (c *Classifier) Classify(phrase string) Classification {
	if substitution, ok := c.commands[phrase]; ok {
		return Classification{Kind: Command, Text: substitution}
	}
	return Classification{Kind: Dictated, Text: phrase}
}
