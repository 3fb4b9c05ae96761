package capturestore

import (
	"errors"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// ErrUnknown is the single error kind the store surfaces to callers; the
// core never branches on a more specific store failure (§4.7, §7).
var ErrUnknown = errors.New("capture store: unknown error")

// Store is the capture store external collaborator contract: add a
// capture (the store assigns its id), list every capture, and fetch one
// by id.
type Store interface {
	AddCapture(c message.Capture) (message.Capture, error)
	ListCaptures() ([]message.Capture, error)
	GetCaptureByID(id string) (message.Capture, bool, error)
}
