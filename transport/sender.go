package transport

import (
	"context"
	"net"
	"time"

	"github.com/asonnino/key-transparency/log"
)

// ReliableSender dials addr and exchanges exactly one framed
// request/reply, retrying with exponential backoff until it succeeds or
// ctx is canceled. This is the "sender that retries per-destination
// until an ack is received or the caller drops the handle" spec.md §9
// names as a collaborator; dropping the handle is modeled as canceling
// ctx.
type ReliableSender struct {
	log            *log.Logger
	dialTimeout    time.Duration
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewReliableSender builds a sender with sane defaults for a local or
// datacenter-scale committee.
func NewReliableSender(logger *log.Logger) *ReliableSender {
	if logger == nil {
		logger = log.Default()
	}
	return &ReliableSender{
		log:            logger.Module("transport.sender"),
		dialTimeout:    5 * time.Second,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     5 * time.Second,
	}
}

// Send delivers payload to addr and returns the peer's framed reply. It
// retries indefinitely on any transport-level failure (dial, write, or
// read) until ctx is done.
func (s *ReliableSender) Send(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	backoff := s.initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reply, err := s.attempt(ctx, addr, payload)
		if err == nil {
			return reply, nil
		}
		s.log.Debug("send attempt failed, retrying", "addr", addr, "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}

func (s *ReliableSender) attempt(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	dialer := net.Dialer{Timeout: s.dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := WriteFrame(conn, payload); err != nil {
		return nil, err
	}
	return ReadFrame(conn)
}
