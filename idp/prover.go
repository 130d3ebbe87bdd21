package idp

import (
	"context"
	"fmt"

	"github.com/asonnino/key-transparency/akd"
	"github.com/asonnino/key-transparency/crypto"
	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/wire"
)

// Prover drives the AKD and turns sealed batches into signed publish
// notifications (spec.md §4.7, C7). It keeps an in-memory epoch counter
// that mirrors the AKD's last published epoch; sequence_number for a
// notification is always epoch-1 (the epoch committed 0, the genesis
// root, carries no notification of its own).
type Prover struct {
	dir    akd.Directory
	db     storage.DB
	signer *crypto.Signer
	log    *log.Logger
	epoch  uint64

	// recovered is the notification read from db at startup, to be
	// re-emitted exactly once before Run begins consuming fresh batches
	// (spec.md §4.7: "emit it on the outbound channel so the publisher
	// re-broadcasts after crash").
	recovered *wire.PublishNotification
}

// NewProver constructs a Prover over dir and recovers its epoch/sequence
// state from db's last-notification slot, if any.
func NewProver(dir akd.Directory, db storage.DB, signer *crypto.Signer, logger *log.Logger) (*Prover, error) {
	if logger == nil {
		logger = log.Default()
	}
	p := &Prover{dir: dir, db: db, signer: signer, log: logger.Module("idp.prover")}

	hasRecovered, err := db.Has(storage.IdPLastNotificationKey)
	if err != nil {
		return nil, fmt.Errorf("idp: check last notification: %w", err)
	}
	if !hasRecovered {
		p.epoch = 0
		return p, nil
	}

	raw, err := db.Get(storage.IdPLastNotificationKey)
	if err != nil {
		return nil, fmt.Errorf("idp: read last notification: %w", err)
	}
	n, err := wire.DecodeNotification(raw)
	if err != nil {
		return nil, fmt.Errorf("idp: decode recovered notification: %w", err)
	}
	p.recovered = n
	p.epoch = n.SequenceNumber + 1
	p.log.Info("recovered last notification", "sequence_number", n.SequenceNumber)
	return p, nil
}

// Run re-emits any recovered notification, then builds and emits one
// notification per sealed batch received on in, in order, until ctx is
// canceled or in is closed.
func (p *Prover) Run(ctx context.Context, in <-chan []akd.Entry, out chan<- *wire.PublishNotification) error {
	if p.recovered != nil {
		select {
		case out <- p.recovered:
		case <-ctx.Done():
			return ctx.Err()
		}
		p.recovered = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case batch, ok := <-in:
			if !ok {
				return nil
			}
			n, err := p.prove(batch)
			if err != nil {
				return fmt.Errorf("idp: prove batch: %w", err)
			}
			select {
			case out <- n:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (p *Prover) prove(batch []akd.Entry) (*wire.PublishNotification, error) {
	current := p.epoch
	next, err := p.dir.Publish(batch)
	if err != nil {
		return nil, fmt.Errorf("akd publish: %w", err)
	}
	root, err := p.dir.RootAt(next)
	if err != nil {
		return nil, fmt.Errorf("akd root_at: %w", err)
	}
	proof, err := p.dir.Audit(current, next)
	if err != nil {
		return nil, fmt.Errorf("akd audit: %w", err)
	}
	p.epoch = next
	seq := next - 1
	n := wire.NewPublishNotification(root, encodeProof(proof), seq, p.signer)
	p.log.Info("published new root", "sequence_number", seq, "epoch", next)
	return n, nil
}

// encodeProof flattens an akd.Proof into the opaque proof bytes carried
// by a PublishNotification; proof is not covered by the notification's
// digest (spec.md §3), so any fixed encoding suffices.
func encodeProof(pr akd.Proof) []byte {
	out := make([]byte, 0, 16+2*32)
	out = appendUint64(out, pr.From)
	out = appendUint64(out, pr.To)
	out = append(out, pr.FromRoot[:]...)
	out = append(out, pr.ToRoot[:]...)
	return out
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return append(b, buf[:]...)
}
