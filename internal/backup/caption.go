package backup

import (
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

// annotation appended in annotated mode
const annotationFormat = "💾 Backed up: %s\n🔗 Source: %s"

// Annotate appends the backup timestamp and source title to text.
func Annotate(text, source string, at time.Time) string {
	note := fmt.Sprintf(annotationFormat, at.Format("2006-01-02 15:04"), source)
	if text == "" {
		return note
	}
	return text + "\n\n" + note
}

// Transform produces the outgoing caption for a message.
// Rewriting invalidates entity offsets, so entities are dropped when the
// text changes; annotation only appends and keeps them.
func Transform(text string, entities []tg.MessageEntityClass, mode Mode, rewrite Rewriter, source string, at time.Time) (string, []tg.MessageEntityClass) {
	if rewrite != nil {
		if rewritten := rewrite.Apply(text); rewritten != text {
			text, entities = rewritten, nil
		}
	}

	if mode == ModeAnnotated {
		text = Annotate(text, source, at)
	}
	return text, entities
}
