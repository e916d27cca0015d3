package client

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-zeromq/zmq4"

	"github.com/louisbranch/ipython-mcp/internal/services/kernel/descriptor"
)

var pingPayload = []byte("ping")

// Ping sends one heartbeat to the kernel described by desc and waits for
// the echo. It opens and closes its own socket, so it can probe a kernel
// before any session exists.
func Ping(ctx context.Context, desc descriptor.Descriptor) error {
	sctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := zmq4.NewReq(sctx, zmq4.WithDialerRetry(dialRetry))
	defer req.Close()

	if err := dialSocket(ctx, req, desc.Endpoint(descriptor.ChannelHeartbeat)); err != nil {
		return fmt.Errorf("dial heartbeat channel: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := req.Send(zmq4.NewMsg(pingPayload)); err != nil {
			errCh <- err
			return
		}
		reply, err := req.Recv()
		if err != nil {
			errCh <- err
			return
		}
		if len(reply.Frames) == 0 || !bytes.Equal(reply.Frames[len(reply.Frames)-1], pingPayload) {
			errCh <- fmt.Errorf("unexpected heartbeat reply %q", reply.Frames)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("heartbeat: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("heartbeat: %w", ctx.Err())
	}
}
