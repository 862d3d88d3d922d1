// Package moderation masks configured words in outgoing text before it
// reaches the store. Matching is case-insensitive and runs on an
// Aho-Corasick automaton so the word list can grow without the send path
// slowing down.
package moderation

import (
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
)

type Censor struct {
	matcher     *goahocorasick.Machine
	replacement rune
}

// NewCensor builds the automaton over the lowercased word list. An empty
// list yields a censor that passes everything through.
func NewCensor(words []string, replacement rune) (*Censor, error) {
	if len(words) == 0 {
		return &Censor{replacement: replacement}, nil
	}

	patterns := make([][]rune, len(words))
	for i, word := range words {
		patterns[i] = lowerRunes([]rune(word))
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return nil, err
	}
	return &Censor{matcher: machine, replacement: replacement}, nil
}

// Apply replaces every matched span with the replacement rune, keeping the
// text length and everything around the match intact.
func (c *Censor) Apply(text string) string {
	if c.matcher == nil || text == "" {
		return text
	}

	runes := []rune(text)
	spans := c.matcher.MultiPatternSearch(lowerRunes(runes), false)
	if len(spans) == 0 {
		return text
	}

	for _, span := range spans {
		end := span.Pos + len(span.Word)
		if span.Pos < 0 || end > len(runes) {
			continue
		}
		for i := span.Pos; i < end; i++ {
			runes[i] = c.replacement
		}
	}
	return string(runes)
}

func lowerRunes(input []rune) []rune {
	out := make([]rune, len(input))
	for i, r := range input {
		out[i] = unicode.ToLower(r)
	}
	return out
}
