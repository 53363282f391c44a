// Package ipc implements the host-guest wire protocol: sentinel-delimited
// frames carrying JSON requests and responses.
package ipc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"
)

// Frame constants.
const (
	// Sentinel terminates every frame. It never appears in JSON text.
	Sentinel byte = 0x04
	// ReadChunkSize is the size of each read from the channel.
	ReadChunkSize = 4096
	// DefaultMaxFrameSize bounds a single frame (64 MiB) excluding the sentinel.
	DefaultMaxFrameSize = 64 * 1024 * 1024
	// maxEmptyReads bounds consecutive (0, nil) reads before giving up.
	maxEmptyReads = 100
)

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorRead indicates the channel failed mid-read (reset, deadline).
	FrameErrorRead FrameErrorKind = iota
	// FrameErrorTooLarge indicates a frame exceeding the configured maximum.
	FrameErrorTooLarge
	// FrameErrorWrite indicates the channel failed mid-write.
	FrameErrorWrite
)

// FrameError represents a framing failure.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsTransport returns true if the channel itself failed. A too-large frame
// is a protocol violation by the peer and can still be answered.
func (e *FrameError) IsTransport() bool {
	return e.Kind == FrameErrorRead || e.Kind == FrameErrorWrite
}

// IsFrameTooLarge reports whether err is an oversized frame error.
func IsFrameTooLarge(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorTooLarge
	}
	return false
}

// readDeadliner is satisfied by net.Conn.
type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// FrameDecoder reads sentinel-terminated frames from a stream.
type FrameDecoder struct {
	reader  io.Reader
	maxSize int
	timeout time.Duration
}

// NewFrameDecoder creates a new frame decoder with DefaultMaxFrameSize and
// no read deadline.
func NewFrameDecoder(r io.Reader) *FrameDecoder {
	return &FrameDecoder{reader: r, maxSize: DefaultMaxFrameSize}
}

// WithMaxSize sets the frame size limit. Non-positive values keep the default.
func (d *FrameDecoder) WithMaxSize(n int) *FrameDecoder {
	if n > 0 {
		d.maxSize = n
	}
	return d
}

// WithTimeout sets a deadline for the whole frame, applied when the reader
// supports SetReadDeadline. Zero disables it.
func (d *FrameDecoder) WithTimeout(timeout time.Duration) *FrameDecoder {
	d.timeout = timeout
	return d
}

// ReadFrame reads a single frame and returns its payload without the
// sentinel. Bytes following the sentinel in the same read are discarded.
//
// Returns:
//   - payload, nil: sentinel found, or the peer closed after sending a
//     partial payload (the caller's decode step rejects it)
//   - nil, io.EOF: the peer closed without sending anything
//   - *FrameError with Kind=FrameErrorTooLarge: limit exceeded
//   - *FrameError with Kind=FrameErrorRead: channel failure or deadline
func (d *FrameDecoder) ReadFrame() ([]byte, error) {
	if d.timeout > 0 {
		if dl, ok := d.reader.(readDeadliner); ok {
			if err := dl.SetReadDeadline(time.Now().Add(d.timeout)); err != nil {
				return nil, &FrameError{Kind: FrameErrorRead, Msg: "failed to set read deadline", Err: err}
			}
			defer func() { _ = dl.SetReadDeadline(time.Time{}) }()
		}
	}

	chunk := make([]byte, ReadChunkSize)
	var buf []byte
	empty := 0

	for {
		n, err := d.reader.Read(chunk)
		if n > 0 {
			empty = 0
			if i := bytes.IndexByte(chunk[:n], Sentinel); i >= 0 {
				buf = append(buf, chunk[:i]...)
				if len(buf) > d.maxSize {
					return nil, d.tooLarge(len(buf))
				}
				return buf, nil
			}
			buf = append(buf, chunk[:n]...)
			if len(buf) > d.maxSize {
				return nil, d.tooLarge(len(buf))
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				if len(buf) == 0 {
					return nil, io.EOF
				}
				return buf, nil
			}
			return nil, &FrameError{Kind: FrameErrorRead, Msg: "failed to read frame", Err: err}
		}

		if n == 0 {
			empty++
			if empty >= maxEmptyReads {
				return nil, &FrameError{Kind: FrameErrorRead, Msg: "failed to read frame", Err: io.ErrNoProgress}
			}
		}
	}
}

func (d *FrameDecoder) tooLarge(size int) *FrameError {
	return &FrameError{
		Kind: FrameErrorTooLarge,
		Msg:  fmt.Sprintf("frame size %d exceeds maximum %d", size, d.maxSize),
	}
}

// EncodeFrame appends the sentinel to payload.
func EncodeFrame(payload []byte) []byte {
	frame := make([]byte, len(payload)+1)
	copy(frame, payload)
	frame[len(payload)] = Sentinel
	return frame
}

// WriteFrame writes payload followed by the sentinel, retrying short
// writes until the frame is flushed or the writer fails.
func WriteFrame(w io.Writer, payload []byte) error {
	frame := EncodeFrame(payload)
	for len(frame) > 0 {
		n, err := w.Write(frame)
		frame = frame[n:]
		if err != nil {
			return &FrameError{Kind: FrameErrorWrite, Msg: "failed to write frame", Err: err}
		}
		if n == 0 {
			return &FrameError{Kind: FrameErrorWrite, Msg: "failed to write frame", Err: io.ErrShortWrite}
		}
	}
	return nil
}
