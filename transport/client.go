package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/justapithecus/warden/ipc"
)

// Exchange sends one request frame on conn and reads the response frame.
// The connection is left open; the agent closes its side after replying.
func Exchange(ctx context.Context, conn net.Conn, request []byte, maxFrameSize int) ([]byte, error) {
	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("set deadline: %w", err)
		}
		defer func() { _ = conn.SetDeadline(time.Time{}) }()
	}
	if err := ipc.WriteFrame(conn, request); err != nil {
		return nil, err
	}
	response, err := ipc.NewFrameDecoder(conn).WithMaxSize(maxFrameSize).ReadFrame()
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return response, nil
}
