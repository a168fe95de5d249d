package repl

import (
	"fmt"
	"strings"
)

// tokenize splits a command line into whitespace-separated tokens,
// treating a double-quoted span as a single token (so TEXT values may
// contain spaces). It does not attempt SQL-style lexing — the command
// language has no operators or expressions, just verbs and literals.
func tokenize(line string) ([]string, error) {
	var tokens []string
	var b strings.Builder
	inQuotes := false
	started := false

	flush := func() {
		if started {
			tokens = append(tokens, b.String())
			b.Reset()
			started = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '"':
			inQuotes = !inQuotes
			started = true
		case c == ' ' || c == '\t':
			if inQuotes {
				b.WriteByte(c)
			} else {
				flush()
			}
		default:
			b.WriteByte(c)
			started = true
		}
	}
	if inQuotes {
		return nil, fmt.Errorf("unterminated quoted string")
	}
	flush()
	return tokens, nil
}
