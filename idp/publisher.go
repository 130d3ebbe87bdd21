package idp

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/asonnino/key-transparency/aggregator"
	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/wire"
)

// Sender delivers payload to addr and returns the peer's reply, retrying
// internally until it succeeds or ctx is canceled. Satisfied structurally
// by *transport.ReliableSender; defined here so idp never imports
// transport directly.
type Sender interface {
	Send(ctx context.Context, addr string, payload []byte) ([]byte, error)
}

// Publisher broadcasts notifications, aggregates witness votes into
// certificates, persists crash-recovery state, and re-broadcasts
// certificates (spec.md §4.8, C8). It processes at most one notification
// in flight at a time.
type Publisher struct {
	db     storage.DB
	com    *committee.Committee
	sender Sender
	agg    *aggregator.Aggregator
	log    *log.Logger
}

// NewPublisher constructs a Publisher. db is the IdP's secure storage
// (shared with Prover for the last-notification recovery slot).
func NewPublisher(db storage.DB, com *committee.Committee, sender Sender, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	return &Publisher{
		db:     db,
		com:    com,
		sender: sender,
		agg:    aggregator.New(com),
		log:    logger.Module("idp.publisher"),
	}
}

// Run consumes notifications from in, one at a time, until ctx is
// canceled or in is closed.
func (p *Publisher) Run(ctx context.Context, in <-chan *wire.PublishNotification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, n); err != nil {
				return fmt.Errorf("idp: publish sequence %d: %w", n.SequenceNumber, err)
			}
		}
	}
}

type voteResult struct {
	addr  string
	reply wire.WitnessToIdP
	err   error
}

// publish drives one notification through persist → broadcast → aggregate
// → certificate broadcast (spec.md §4.8 steps 1-5).
func (p *Publisher) publish(ctx context.Context, n *wire.PublishNotification) error {
	if err := p.db.Put(storage.IdPLastNotificationKey, wire.EncodeNotification(n)); err != nil {
		return fmt.Errorf("persist last notification: %w", err)
	}
	p.agg.Reset(n.Root, n.SequenceNumber)

	payload, err := wire.EncodeIdPToWitness(wire.NotificationMessage{Notification: n})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	roundCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	members := p.com.WitnessesAddresses()
	results := make(chan voteResult, len(members))
	var wg sync.WaitGroup
	for _, m := range members {
		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			raw, err := p.sender.Send(roundCtx, addr, payload)
			if err != nil {
				results <- voteResult{addr: addr, err: err}
				return
			}
			reply, err := wire.DecodeWitnessToIdP(raw)
			results <- voteResult{addr: addr, reply: reply, err: err}
		}(m.Address)
	}
	go func() { wg.Wait(); close(results) }()

	var cert *wire.PublishCertificate
	var lastGoodWitness string
	for res := range results {
		if cert != nil {
			continue // drain remaining goroutines; round already decided
		}
		if res.err != nil {
			if roundCtx.Err() != nil {
				continue
			}
			p.log.Warn("witness send failed", "addr", res.addr, "error", res.err)
			continue
		}
		vr, ok := res.reply.(wire.VoteReply)
		if !ok {
			p.log.Warn("unexpected reply type to notification", "addr", res.addr, "type", fmt.Sprintf("%T", res.reply))
			continue
		}
		if vr.Err != nil {
			if seqErr, ok := vr.Err.(*wire.UnexpectedSequenceNumberError); ok && seqErr.Expected < seqErr.Got {
				p.syncWitness(ctx, res.addr, seqErr.Expected, seqErr.Got, lastGoodWitness)
			} else {
				p.log.Warn("witness rejected notification", "addr", res.addr, "error", vr.Err)
			}
			continue
		}
		lastGoodWitness = res.addr
		got, err := p.agg.Append(vr.Vote)
		if err != nil {
			p.log.Warn("aggregator rejected vote", "addr", res.addr, "error", err)
			continue
		}
		if got != nil {
			cert = got
			cancel() // abandon outstanding sends for this notification
		}
	}

	if cert == nil {
		return nil
	}
	p.broadcastCertificate(ctx, cert)
	return nil
}

// broadcastCertificate fans the finalized certificate out to every
// witness and drains acks best-effort; failures are logged, not fatal
// (spec.md §4.8 step 5). A witness that answers MissingEarlierCertificates
// is synced up to the certificate's sequence number and then sent the
// certificate again. Uses errgroup purely for its Wait-for-all fan-out
// shape; the per-witness errors are logged as they occur rather than
// surfaced through the group, since one witness's failure must never
// cancel the others' sends.
func (p *Publisher) broadcastCertificate(ctx context.Context, cert *wire.PublishCertificate) {
	payload, err := wire.EncodeIdPToWitness(wire.CertificateMessage{Certificate: cert})
	if err != nil {
		p.log.Error("encode certificate", "error", err)
		return
	}
	var g errgroup.Group
	for _, m := range p.com.WitnessesAddresses() {
		addr := m.Address
		g.Go(func() error {
			raw, err := p.sender.Send(ctx, addr, payload)
			if err != nil {
				p.log.Warn("certificate broadcast failed", "addr", addr, "error", err)
				return nil
			}
			reply, err := wire.DecodeWitnessToIdP(raw)
			if err != nil {
				return nil
			}
			if sr, ok := reply.(wire.StateReply); ok {
				if missing, ok := sr.Err.(*wire.MissingEarlierCertificatesError); ok {
					p.syncWitness(ctx, addr, missing.Current, cert.SequenceNumber, "")
					if _, err := p.sender.Send(ctx, addr, payload); err != nil {
						p.log.Warn("certificate resend after sync failed", "addr", addr, "error", err)
					}
				}
			}
			return nil
		})
	}
	g.Wait()
}

// syncWitness implements O3: ask helper (or, failing that, any other
// committee witness) for every certificate lagging is missing in
// [from, to) with a single range query, falling back to per-sequence
// CertificateQueryMessage requests against the remaining witnesses for
// anything the first answer didn't cover, then relay each certificate
// to lagging in order.
func (p *Publisher) syncWitness(ctx context.Context, lagging string, from, to uint64, helper string) {
	helpers := make([]string, 0, len(p.com.WitnessesAddresses()))
	if helper != "" && helper != lagging {
		helpers = append(helpers, helper)
	}
	for _, m := range p.com.WitnessesAddresses() {
		if m.Address != lagging && m.Address != helper {
			helpers = append(helpers, m.Address)
		}
	}

	certs := make(map[uint64]*wire.PublishCertificate, to-from)
	for _, addr := range helpers {
		if uint64(len(certs)) == to-from {
			break
		}
		for _, raw := range p.fetchCertificateRange(ctx, addr, from, to) {
			c, err := wire.DecodeCertificate(raw)
			if err != nil {
				continue
			}
			if _, have := certs[c.SequenceNumber]; !have {
				certs[c.SequenceNumber] = c
			}
		}
	}

	for seq := from; seq < to; seq++ {
		cert, ok := certs[seq]
		if !ok {
			fetched, err := p.fetchCertificate(ctx, helpers, seq)
			if err != nil {
				p.log.Warn("could not fetch certificate to sync lagging witness", "witness", lagging, "sequence_number", seq, "error", err)
				return
			}
			cert = fetched
		}
		payload, err := wire.EncodeIdPToWitness(wire.CertificateMessage{Certificate: cert})
		if err != nil {
			p.log.Error("encode synced certificate", "error", err)
			return
		}
		if _, err := p.sender.Send(ctx, lagging, payload); err != nil {
			p.log.Warn("failed to forward synced certificate", "witness", lagging, "sequence_number", seq, "error", err)
			return
		}
	}
}

// fetchCertificateRange asks one witness for every certificate it holds
// in [from, to) and returns the raw encoded bytes it answered with (best
// effort: a send/decode failure yields an empty result, not an error,
// since the caller falls back to other witnesses and single-sequence
// queries for anything still missing).
func (p *Publisher) fetchCertificateRange(ctx context.Context, addr string, from, to uint64) [][]byte {
	payload, err := wire.EncodeIdPToWitness(wire.CertificateRangeQueryMessage{From: from, To: to})
	if err != nil {
		return nil
	}
	raw, err := p.sender.Send(ctx, addr, payload)
	if err != nil {
		return nil
	}
	reply, err := wire.DecodeWitnessToIdP(raw)
	if err != nil {
		return nil
	}
	resp, ok := reply.(wire.CertificateRangeResponse)
	if !ok || resp.Err != nil {
		return nil
	}
	return resp.Certs
}

func (p *Publisher) fetchCertificate(ctx context.Context, helpers []string, seq uint64) (*wire.PublishCertificate, error) {
	payload, err := wire.EncodeIdPToWitness(wire.CertificateQueryMessage{SequenceNumber: seq})
	if err != nil {
		return nil, err
	}
	for _, addr := range helpers {
		raw, err := p.sender.Send(ctx, addr, payload)
		if err != nil {
			continue
		}
		reply, err := wire.DecodeWitnessToIdP(raw)
		if err != nil {
			continue
		}
		resp, ok := reply.(wire.CertificateResponse)
		if !ok || resp.Err != nil {
			continue
		}
		return wire.DecodeCertificate(resp.Bytes)
	}
	return nil, fmt.Errorf("no witness held certificate for sequence %d", seq)
}
