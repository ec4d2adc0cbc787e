package bot

import (
	"strings"
)

// Command is a parsed chat command.
type Command struct {
	Name    string   // lower-case, without the slash or @botname suffix
	Args    []string // whitespace-separated arguments
	ArgText string   // everything after the command word, trimmed
}

// ParseCommand parses "/name[@bot] args...". A command addressed to a
// different bot is rejected.
func ParseCommand(text, botUsername string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") || len(text) < 2 {
		return Command{}, false
	}

	word, rest, _ := strings.Cut(text[1:], " ")
	if i := strings.IndexAny(word, "\n\t"); i >= 0 {
		rest = word[i:] + " " + rest
		word = word[:i]
	}

	name, target, addressed := strings.Cut(word, "@")
	if addressed && botUsername != "" && !strings.EqualFold(target, strings.TrimPrefix(botUsername, "@")) {
		return Command{}, false
	}
	if name == "" {
		return Command{}, false
	}

	rest = strings.TrimSpace(rest)
	return Command{
		Name:    strings.ToLower(name),
		Args:    strings.Fields(rest),
		ArgText: rest,
	}, true
}
