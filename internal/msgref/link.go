package msgref

import (
	"errors"
	"strings"
)

// link errors
var (
	ErrNotALink     = errors.New("not a telegram message link")
	ErrNoMessageIDs = errors.New("no message ids in link")
)

// Link is a parsed message link or bare range expression.
type Link struct {
	// ChatFragment is the numeric chat segment of a private link (t.me/c/<fragment>/...).
	ChatFragment string
	// Username is set for public links (t.me/<username>/...).
	Username string
	// TopicID is the forum topic segment, 0 if the link has none.
	TopicID int
	// IDs are the selected message ids, ascending and unique.
	IDs []int
	// Raw is the original argument.
	Raw string
}

// IsBare reports whether the link carries no chat at all (plain range expression).
func (l Link) IsBare() bool {
	return l.ChatFragment == "" && l.Username == ""
}

var linkHosts = []string{"t.me/", "telegram.me/", "telegram.dog/"}

// ParseLink parses
//
//	https://t.me/c/<chat>/<range>
//	https://t.me/c/<chat>/<topic>/<range>
//	https://t.me/<username>/<range>
//	https://t.me/<username>/<topic>/<range>
//
// The range is always the last path segment.
func ParseLink(link string) (Link, error) {
	return parseLink(link, 0)
}

func parseLink(link string, max int) (Link, error) {
	raw := link
	link = strings.TrimSpace(link)
	link = strings.TrimPrefix(link, "https://")
	link = strings.TrimPrefix(link, "http://")
	if i := strings.IndexAny(link, "?#"); i >= 0 {
		link = link[:i]
	}
	link = strings.TrimRight(link, "/")

	var path string
	for _, host := range linkHosts {
		if strings.HasPrefix(link, host) {
			path = strings.TrimPrefix(link, host)
			break
		}
	}
	if path == "" {
		return Link{}, ErrNotALink
	}

	segments := strings.Split(path, "/")
	out := Link{Raw: raw}

	if segments[0] == "c" {
		segments = segments[1:]
		if len(segments) < 2 {
			return Link{}, ErrNoMessageIDs
		}
		if _, err := parseID(segments[0]); err != nil {
			return Link{}, ErrNotALink
		}
		out.ChatFragment = segments[0]
	} else {
		if len(segments) < 2 || segments[0] == "" {
			return Link{}, ErrNoMessageIDs
		}
		out.Username = strings.TrimPrefix(segments[0], "@")
	}

	// chat, [topic], range
	if len(segments) >= 3 {
		if topic, err := parseID(segments[len(segments)-2]); err == nil {
			out.TopicID = topic
		}
	}

	ids, err := ParseLimit(segments[len(segments)-1], max)
	if err != nil {
		return Link{}, err
	}
	if len(ids) == 0 {
		return Link{}, ErrNoMessageIDs
	}
	out.IDs = ids
	return out, nil
}

// ParseTarget accepts either a message link or a bare range expression.
// max bounds the number of selected ids (<= 0 means DefaultMaxIDs).
func ParseTarget(arg string, max int) (Link, error) {
	if looksLikeLink(arg) {
		return parseLink(arg, max)
	}

	ids, err := ParseLimit(arg, max)
	if err != nil {
		return Link{}, err
	}
	if len(ids) == 0 {
		return Link{}, ErrNoMessageIDs
	}
	return Link{IDs: ids, Raw: arg}, nil
}

func looksLikeLink(s string) bool {
	for _, host := range linkHosts {
		if strings.Contains(s, host) {
			return true
		}
	}
	return false
}

// Candidates returns the chat id encodings to try for a link fragment,
// most common first: supergroup/channel, basic group, raw.
func Candidates(fragment string) []string {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil
	}
	return []string{"-100" + fragment, "-" + fragment, fragment}
}

// Normalize strips the -100 / - prefixes from a marked chat id string.
func Normalize(id string) string {
	id = strings.TrimSpace(id)
	if strings.HasPrefix(id, "-100") {
		return strings.TrimPrefix(id, "-100")
	}
	return strings.TrimPrefix(id, "-")
}
