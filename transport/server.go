package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/warden/ipc"
	"github.com/justapithecus/warden/log"
	"github.com/justapithecus/warden/metrics"
	"github.com/justapithecus/warden/types"
)

// Frame is one request frame read from a connection.
type Frame struct {
	// ConnID identifies the connection in logs.
	ConnID string
	// Payload is the frame without its sentinel. May be partial if the
	// peer closed early.
	Payload []byte
	// Err is set when the frame was rejected by the codec but can still
	// be answered, e.g. an oversized frame.
	Err error
}

// Handler turns a request frame into a response payload.
//
// A non-nil payload is always written back. A non-nil error stops the
// server after the payload has been sent.
type Handler interface {
	Handle(ctx context.Context, frame Frame) ([]byte, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, frame Frame) ([]byte, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, frame Frame) ([]byte, error) {
	return f(ctx, frame)
}

// Config configures a Server.
type Config struct {
	// ReadTimeout bounds reading one request frame. Zero disables it.
	ReadTimeout time.Duration
	// WriteTimeout bounds writing the response. Zero disables it.
	WriteTimeout time.Duration
	// AcceptTimeout bounds waiting for a connection. Zero waits forever.
	AcceptTimeout time.Duration
	// MaxFrameSize bounds request frames. Zero means ipc.DefaultMaxFrameSize.
	MaxFrameSize int
	// Once stops the server after the first connection.
	Once bool
}

// deadliner is satisfied by *net.TCPListener, *net.UnixListener and
// *vsock.Listener.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Server accepts connections and serves exactly one frame per connection.
// Connections are served sequentially.
type Server struct {
	listener  net.Listener
	handler   Handler
	config    Config
	logger    *log.Logger
	collector *metrics.Collector

	closeOnce sync.Once
	closeErr  error
}

// NewServer creates a server on an already bound listener.
func NewServer(listener net.Listener, handler Handler, config Config, logger *log.Logger, collector *metrics.Collector) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		listener:  listener,
		handler:   handler,
		config:    config,
		logger:    logger,
		collector: collector,
	}
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// SignalReady writes the readiness token for the external launcher.
func SignalReady(w io.Writer, token string) error {
	if _, err := io.WriteString(w, token); err != nil {
		return fmt.Errorf("write ready token: %w", err)
	}
	return nil
}

// Serve accepts and serves connections until ctx is cancelled, the
// listener fails, a handler reports a fatal error, or, in once mode, the
// first connection has been served.
//
// Cancellation returns nil. Every other error is a *types.JobError.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.Close()
		case <-done:
		}
	}()

	for {
		conn, err := s.accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return types.WrapJobError(types.ErrorTransport, "", "accept failed", err)
		}

		err = s.serveConn(ctx, conn)
		if s.config.Once {
			return err
		}
		if err == nil {
			continue
		}
		if jobErr, ok := types.AsJobError(err); ok && jobErr.Kind == types.ErrorTransport {
			s.logger.Warn("connection failed", map[string]any{"error": err.Error()})
			continue
		}
		return err
	}
}

func (s *Server) accept() (net.Conn, error) {
	if s.config.AcceptTimeout > 0 {
		if dl, ok := s.listener.(deadliner); ok {
			if err := dl.SetDeadline(time.Now().Add(s.config.AcceptTimeout)); err != nil {
				return nil, fmt.Errorf("set accept deadline: %w", err)
			}
		}
	}
	return s.listener.Accept()
}

// serveConn reads one frame, hands it to the handler and writes the
// response. The connection is always closed on return.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	defer conn.Close()

	connID := uuid.NewString()
	logger := s.logger.With(map[string]any{"conn_id": connID})
	s.collector.IncConnectionAccepted()
	logger.Info("connection accepted", map[string]any{"remote": addrString(conn.RemoteAddr())})

	decoder := ipc.NewFrameDecoder(conn).
		WithMaxSize(s.config.MaxFrameSize).
		WithTimeout(s.config.ReadTimeout)

	frame := Frame{ConnID: connID}
	payload, err := decoder.ReadFrame()
	switch {
	case err == nil:
		frame.Payload = payload
		logger.Debug("frame received", map[string]any{"bytes": len(payload)})
	case errors.Is(err, io.EOF):
		s.collector.IncConnectionEmpty()
		logger.Info("peer closed without sending a request", nil)
		return nil
	case ipc.IsFrameTooLarge(err):
		frame.Err = err
	default:
		s.collector.IncTransportError()
		return types.WrapJobError(types.ErrorTransport, "", "read request", err)
	}

	response, handleErr := s.handler.Handle(ctx, frame)
	if response != nil {
		if s.config.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		}
		if err := ipc.WriteFrame(conn, response); err != nil {
			s.collector.IncTransportError()
			if handleErr != nil {
				return handleErr
			}
			return types.WrapJobError(types.ErrorTransport, "", "write response", err)
		}
		logger.Debug("response sent", map[string]any{"bytes": len(response)})
	}

	logger.Info("connection served", s.collector.Snapshot().Fields())
	return handleErr
}

// Close stops accepting connections. Safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.listener.Close()
	})
	return s.closeErr
}

func addrString(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}
