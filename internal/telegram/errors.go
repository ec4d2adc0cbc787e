package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

var (
	// ErrNotAuthorized means the manager has no ready client.
	ErrNotAuthorized = errors.New("telegram client not authorized")
	// ErrMessageNotFound means the message id does not exist or was deleted.
	ErrMessageNotFound = errors.New("message not found")
	// ErrChatNotFound means the chat is unknown or not accessible.
	ErrChatNotFound = errors.New("chat not found")
	// ErrNotModified means an edit would leave the message unchanged.
	ErrNotModified = errors.New("message not modified")
)

// FloodWaitError is returned when telegram asks the caller to back off.
type FloodWaitError struct {
	Wait time.Duration
	Err  error
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %s: %v", e.Wait, e.Err)
}

func (e *FloodWaitError) Unwrap() error { return e.Err }

// AsFloodWait returns the requested wait if err is a flood wait.
func AsFloodWait(err error) (time.Duration, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Wait, true
	}
	return 0, false
}

// classify maps raw RPC errors onto the package error set.
// Errors that are neither flood waits nor not-found are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return &FloodWaitError{Wait: d, Err: err}
	}
	if seconds := parseFloodWait(err); seconds > 0 {
		return &FloodWaitError{Wait: time.Duration(seconds) * time.Second, Err: err}
	}

	switch {
	case tgerr.Is(err, "MESSAGE_ID_INVALID", "MSG_ID_INVALID", "MESSAGE_IDS_EMPTY"):
		return fmt.Errorf("%w: %v", ErrMessageNotFound, err)
	case tgerr.Is(err, "CHANNEL_INVALID", "CHANNEL_PRIVATE", "CHAT_ID_INVALID", "PEER_ID_INVALID", "USERNAME_NOT_OCCUPIED", "USERNAME_INVALID"):
		return fmt.Errorf("%w: %v", ErrChatNotFound, err)
	case tgerr.Is(err, "MESSAGE_NOT_MODIFIED"):
		return fmt.Errorf("%w: %v", ErrNotModified, err)
	}
	return err
}

// parseFloodWait extracts N from FLOOD_WAIT_N / FLOOD_PREMIUM_WAIT_N in wrapped error strings
func parseFloodWait(err error) int {
	str := err.Error()
	for _, marker := range []string{"FLOOD_WAIT_", "FLOOD_PREMIUM_WAIT_"} {
		_, rest, ok := strings.Cut(str, marker)
		if !ok {
			continue
		}
		var seconds int
		_, _ = fmt.Sscanf(strings.TrimSpace(rest), "%d", &seconds)
		return seconds
	}
	return 0
}
