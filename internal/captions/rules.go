// Package captions rewrites message captions in bulk with per-user edit
// sessions, speed presets and adaptive flood backoff.
package captions

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// rule errors
var (
	ErrEmptySearch = errors.New("rule search text is empty")
	ErrBadRule     = errors.New("rule must look like: search -> replacement")
)

// rule separators, ascii first
var ruleSeparators = []string{"->", "→"}

// Rule replaces one token.
type Rule struct {
	Search  string
	Replace string
	re      *regexp.Regexp
}

// NewRule compiles a rule. The search token matches case-insensitively,
// with or without a leading @.
func NewRule(search, replace string) (Rule, error) {
	search = strings.TrimPrefix(strings.TrimSpace(search), "@")
	if search == "" {
		return Rule{}, ErrEmptySearch
	}
	return Rule{
		Search:  search,
		Replace: strings.TrimSpace(replace),
		re:      regexp.MustCompile(`(?i)@?` + regexp.QuoteMeta(search)),
	}, nil
}

// ParseRule parses "search -> replacement". An empty replacement deletes
// the token.
func ParseRule(s string) (Rule, error) {
	for _, sep := range ruleSeparators {
		search, replace, ok := strings.Cut(s, sep)
		if ok {
			return NewRule(search, replace)
		}
	}
	return Rule{}, ErrBadRule
}

func (r Rule) String() string {
	return fmt.Sprintf("%s → %s", r.Search, r.Replace)
}

// Rules apply in declaration order; later rules see earlier output.
type Rules []Rule

// Apply rewrites text.
func (rs Rules) Apply(text string) string {
	for _, r := range rs {
		if r.re == nil {
			continue
		}
		text = r.re.ReplaceAllLiteralString(text, r.Replace)
	}
	return text
}
