package observe

import (
	"io"

	"github.com/rustyproxy/rustyproxy/internal/message"
)

// MaterializeBody fully drains r into a contiguous byte buffer and
// classifies it against contentType. This is the operation that trades
// streaming for observability: callers decide when it's worth paying for
// (request bodies, always; response bodies, only when a sink is
// configured) per §4.4's "Body materialization" note.
func MaterializeBody(r io.Reader, contentType string) (message.Body, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return message.Body{}, err
	}
	return message.NewBodyFromContentType(contentType, raw), nil
}
