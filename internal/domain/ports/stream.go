package ports

import (
	"context"
	"io"
)

// StreamReader reads one torrent file. Reads block until the pieces they
// cover are available or the context set with SetContext ends.
type StreamReader interface {
	io.ReadSeekCloser
	SetContext(context.Context)
	SetReadahead(int64)
}
