package dispatch

import "bytes"

// newByteReader wraps a buffered response body as a reader so the streaming
// and non-streaming call paths can share the same UpstreamResponse shape.
// fasthttp fully buffers response bodies before returning, so "streaming"
// here means the dialect transcoders read it as a completed SSE body rather
// than an incrementally arriving one; the public HTTP response to the
// client is still framed and flushed chunk by chunk as it is translated.
func newByteReader(b []byte) *bytes.Reader {
	return bytes.NewReader(b)
}
