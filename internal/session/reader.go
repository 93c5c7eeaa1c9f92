package session

import (
	"fmt"
	"io"
	"net"

	"github.com/amqpprox/amqpprox/internal/frame"
)

// FrameReader accumulates bytes off conn and yields complete frames,
// retrying the underlying read whenever frame.Decode reports
// frame.ErrIncomplete (spec §4.1 "Partial data is signaled by returning
// 'incomplete' with no state change; the caller retries after more bytes
// arrive").
type FrameReader struct {
	conn net.Conn
	buf  []byte
	read int // bytes of buf that hold unconsumed data, starting at index 0
}

func NewFrameReader(conn net.Conn) *FrameReader {
	return &FrameReader{conn: conn, buf: make([]byte, 0, 4096)}
}

// Next blocks until a full frame is available, decodes it, and advances
// past it. The returned Frame's Payload aliases the reader's internal
// buffer and is only valid until the next call to Next.
func (r *FrameReader) Next() (frame.Frame, error) {
	for {
		f, consumed, err := frame.Decode(r.buf)
		if err == nil {
			rest := append([]byte(nil), r.buf[consumed:]...)
			r.buf = rest
			return f, nil
		}
		if err != frame.ErrIncomplete {
			return frame.Frame{}, err
		}
		if err := r.fill(); err != nil {
			return frame.Frame{}, err
		}
	}
}

func (r *FrameReader) fill() error {
	tmp := make([]byte, 4096)
	n, err := r.conn.Read(tmp)
	if n > 0 {
		r.buf = append(r.buf, tmp[:n]...)
	}
	if err != nil {
		if err == io.EOF && n > 0 {
			return nil
		}
		return fmt.Errorf("session: reading frame: %w", err)
	}
	return nil
}

// ReadExact reads exactly n bytes, consuming any already-buffered data
// first. Used for the 8-byte protocol preamble, which precedes frame
// traffic entirely.
func (r *FrameReader) ReadExact(n int) ([]byte, error) {
	for len(r.buf) < n {
		if err := r.fill(); err != nil {
			return nil, err
		}
	}
	out := append([]byte(nil), r.buf[:n]...)
	r.buf = append([]byte(nil), r.buf[n:]...)
	return out, nil
}

// Pending returns any bytes read into the buffer but not yet consumed --
// used when handing the raw connection off to the splice loop after the
// handshake completes, so no bytes are lost.
func (r *FrameReader) Pending() []byte {
	return r.buf
}
