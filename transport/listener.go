package transport

import (
	"context"
	"errors"
	"net"

	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/wire"
)

// Handler processes one decoded IdPToWitness request and produces the
// reply to frame back. Implemented by *witness.Handler (via
// witness.Adapter) and by test fakes.
type Handler interface {
	Handle(req wire.IdPToWitness) wire.WitnessToIdP
}

// Listener accepts framed TCP connections from the IdP and dispatches
// each decoded request to Handler, one at a time per connection — the
// serialization spec.md §5 requires ("messages from the IdP are
// processed one at a time per witness").
type Listener struct {
	ln      net.Listener
	handler Handler
	log     *log.Logger
}

// Listen binds addr and returns a Listener ready to Serve.
func Listen(addr string, handler Handler, logger *log.Logger) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Listener{ln: ln, handler: handler, log: logger.Module("transport.listener")}, nil
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() string { return l.ln.Addr().String() }

// Serve accepts connections until ctx is canceled or Close is called.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && !netErr.Temporary() {
				return err
			}
			continue
		}
		go l.serveConn(conn)
	}
}

func (l *Listener) serveConn(conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := ReadFrame(conn)
		if err != nil {
			return
		}
		req, err := wire.DecodeIdPToWitness(payload)
		if err != nil {
			l.log.Warn("dropping malformed request", "error", err)
			return
		}
		reply := l.handler.Handle(req)
		out, err := wire.EncodeWitnessToIdP(reply)
		if err != nil {
			l.log.Error("failed to encode reply", "error", err)
			return
		}
		if err := WriteFrame(conn, out); err != nil {
			return
		}
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.ln.Close() }
