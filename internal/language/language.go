// Package language classifies question text as Bangla or English by
// inspecting code points. It is a script heuristic, not a language-ID model:
// any rune from the Bengali Unicode block makes the text Bangla.
package language

// Language is the closed set of answer languages.
type Language string

const (
	// English is the default language.
	English Language = "English"
	// Bangla is selected when the text contains Bengali script.
	Bangla Language = "Bangla"
)

// Bengali Unicode block bounds.
const (
	bengaliFirst = '\u0980'
	bengaliLast  = '\u09FF'
)

// Detect returns Bangla if text contains any rune in U+0980..U+09FF and
// English otherwise. It is total: the empty string is English.
func Detect(text string) Language {
	for _, r := range text {
		if r >= bengaliFirst && r <= bengaliLast {
			return Bangla
		}
	}
	return English
}

// String implements fmt.Stringer.
func (l Language) String() string {
	return string(l)
}
