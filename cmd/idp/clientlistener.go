package main

import (
	"context"
	"errors"
	"net"

	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/transport"
)

// clientListener accepts framed client update requests over TCP and
// forwards their raw payload to the batcher's input channel (spec.md
// §4.6: the batcher just appends whatever bytes arrive; decoding into a
// (label, value) pair happens downstream). It never replies — update
// submission is fire-and-forget, acknowledged only indirectly by the
// eventual publish certificate.
type clientListener struct {
	ln  net.Listener
	out chan<- []byte
	log *log.Logger
}

func newClientListener(addr string, out chan<- []byte, logger *log.Logger) (*clientListener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &clientListener{ln: ln, out: out, log: logger.Module("idp.clientlistener")}, nil
}

func (l *clientListener) Addr() string { return l.ln.Addr().String() }

// Serve accepts connections until ctx is canceled.
func (l *clientListener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Temporary() {
				return err
			}
			continue
		}
		go l.serveConn(ctx, conn)
	}
}

func (l *clientListener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := transport.ReadFrame(conn)
		if err != nil {
			return
		}
		select {
		case l.out <- payload:
		case <-ctx.Done():
			return
		}
	}
}
