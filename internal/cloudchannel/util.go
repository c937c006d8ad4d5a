package cloudchannel

import (
	"bytes"
	"io"
)

// jsonReader adapts a possibly-nil byte slice to an io.Reader, so callers
// building requests with no body don't need a separate branch.
func jsonReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}

	return bytes.NewReader(body)
}
