package journeylog

import (
	"context"
	"fmt"
	"net"

	"github.com/pkg/errors"

	"github.com/kestrelgames/taleweaver/game/retry"
)

// CharacterNotFoundError is returned when the store has no record of
// the character. It aborts the turn without any writes.
type CharacterNotFoundError struct {
	CharacterID string
}

func (e *CharacterNotFoundError) Error() string {
	return fmt.Sprintf("journeylog: character %s not found", e.CharacterID)
}

// IsCharacterNotFound reports whether err is a missing-character failure.
func IsCharacterNotFound(err error) bool {
	var notFound *CharacterNotFoundError
	return errors.As(err, &notFound)
}

// RemoteError is a non-2xx response from the store. Preview holds a
// redacted prefix of the response body for logs.
type RemoteError struct {
	StatusCode int
	Preview    string
}

func (e *RemoteError) Error() string {
	if e.Preview == "" {
		return fmt.Sprintf("journeylog: remote returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("journeylog: remote returned HTTP %d: %s", e.StatusCode, e.Preview)
}

// HTTPStatus exposes the status for retry classification.
func (e *RemoteError) HTTPStatus() int {
	return e.StatusCode
}

var _ retry.StatusCoder = (*RemoteError)(nil)

// IsTimeout reports whether err is a transport or deadline timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
