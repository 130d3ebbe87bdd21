// Package witness implements the witness side of the protocol: the
// publish handler (C3), the safety state machine that votes, locks, and
// finalizes sequence numbers, and the sync helper (C4) that serves
// archived certificates to a lagging peer.
package witness

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/asonnino/key-transparency/committee"
	"github.com/asonnino/key-transparency/crypto"
	"github.com/asonnino/key-transparency/log"
	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/wire"
)

// Handler is the witness safety state machine (spec.md §4.3). All
// mutation happens under mu; every durable write (vote lock, sequence
// advance, lock clear) is fsynced by storage.DB before Handler returns
// to its caller, so the in-memory state below is always a cache of what
// is already on disk, never ahead of it.
type Handler struct {
	mu       sync.Mutex
	db       storage.DB // secure storage: sequence number + lock
	audit    storage.DB // archived certificates, keyed by sequence number
	com      *committee.Committee
	signer   *crypto.Signer
	log      *log.Logger
	sequence wire.SequenceNumber
	lock     *wire.PublishVote

	// onFatal is invoked when a durable write fails. Storage failures are
	// unrecoverable (spec.md §7: "safety > liveness") and, in production,
	// the default set by NewHandler logs and calls os.Exit(1); tests
	// substitute a function that records the error instead of exiting.
	onFatal func(context string, err error)
}

// NewHandler constructs a Handler and recovers (sequence_number, lock)
// from db. db is the witness's secure storage; audit is where finalized
// certificates are archived (spec.md §6: separate "audit_storage" by
// convention, though any storage.DB works for either).
func NewHandler(db, audit storage.DB, com *committee.Committee, signer *crypto.Signer, logger *log.Logger) (*Handler, error) {
	if logger == nil {
		logger = log.Default()
	}
	h := &Handler{
		db:     db,
		audit:  audit,
		com:    com,
		signer: signer,
		log:    logger.Module("witness.handler"),
	}
	h.onFatal = func(context string, err error) {
		h.log.Error("unrecoverable storage failure, exiting", "context", context, "error", err)
		os.Exit(1)
	}
	if err := h.recover(); err != nil {
		return nil, err
	}
	return h, nil
}

// SetFatalHandler overrides the action taken when a durable write fails.
// Used by tests to observe the failure instead of terminating the test
// process.
func (h *Handler) SetFatalHandler(f func(context string, err error)) {
	h.onFatal = f
}

// Close releases the Handler's storage handles without deleting any
// on-disk state, so a fresh Handler opened over the same directories
// picks up exactly where this one left off (used by tests simulating a
// crash; cmd/witness closes its storage handles directly).
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	dbErr := h.db.Close()
	auditErr := h.audit.Close()
	if dbErr != nil {
		return dbErr
	}
	return auditErr
}

func (h *Handler) recover() error {
	hasSeq, err := h.db.Has(storage.WitnessSequenceKey)
	if err != nil {
		return fmt.Errorf("witness: check sequence number: %w", err)
	}
	if !hasSeq {
		h.sequence = 0
	} else {
		raw, err := h.db.Get(storage.WitnessSequenceKey)
		if err != nil {
			return fmt.Errorf("witness: read sequence number: %w", err)
		}
		if len(raw) != 8 {
			return fmt.Errorf("witness: corrupt sequence number record (%d bytes)", len(raw))
		}
		h.sequence = binary.LittleEndian.Uint64(raw)
	}

	hasLock, err := h.db.Has(storage.WitnessLockKey)
	if err != nil {
		return fmt.Errorf("witness: check lock: %w", err)
	}
	if !hasLock {
		h.lock = nil
		return nil
	}
	raw, err := h.db.Get(storage.WitnessLockKey)
	if err != nil {
		return fmt.Errorf("witness: read lock: %w", err)
	}
	vote, err := wire.DecodeVote(raw)
	if err != nil {
		return fmt.Errorf("witness: decode recovered lock: %w", err)
	}
	h.lock = vote
	return nil
}

// State returns a snapshot of the witness's current sequence number and
// lock. Used to answer StateQuery and as the reply after processing a
// certificate.
func (h *Handler) State() *wire.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

func (h *Handler) stateLocked() *wire.State {
	return &wire.State{SequenceNumber: h.sequence, Lock: h.lock}
}

// HandleNotification applies the vote rule (spec.md §4.3) to n and
// returns the resulting vote, or a typed error. Re-submitting the
// notification currently locked returns the identical vote bytes
// (idempotent re-vote, P6); a notification naming a different root at
// the same sequence number is refused without disturbing the lock
// (equivocation refusal, P1).
func (h *Handler) HandleNotification(n *wire.PublishNotification) (*wire.PublishVote, error) {
	if err := n.Verify(h.com, nil); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if n.SequenceNumber != h.sequence {
		return nil, &wire.UnexpectedSequenceNumberError{Expected: h.sequence, Got: n.SequenceNumber}
	}

	if h.lock != nil {
		if h.lock.Root == n.Root {
			return h.lock, nil
		}
		return nil, &wire.ConflictingNotificationError{LockRoot: h.lock.Root, ReceivedRoot: n.Root}
	}

	vote := wire.NewPublishVote(n.Root, n.SequenceNumber, h.signer)
	if err := h.db.Put(storage.WitnessLockKey, wire.EncodeVote(vote)); err != nil {
		h.onFatal("persist vote lock", err)
		return nil, fmt.Errorf("witness: persist lock: %w", err)
	}
	h.lock = vote
	h.log.Debug("voted", "sequence_number", n.SequenceNumber, "root", fmt.Sprintf("%x", n.Root[:8]))
	return vote, nil
}

// HandleCertificate applies the finalize rule (spec.md §4.3) to c and
// returns the resulting state snapshot, or a typed error. A certificate
// for a sequence number already finalized is a no-op (treated as
// already processed); a certificate for a future sequence number is
// rejected until the gap is filled (MissingEarlierCertificates),
// prompting the IdP to sync this witness (spec.md §9 O3).
func (h *Handler) HandleCertificate(c *wire.PublishCertificate) (*wire.State, error) {
	if err := c.Verify(h.com); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.sequence > c.SequenceNumber {
		return h.stateLocked(), nil
	}
	if h.sequence < c.SequenceNumber {
		return nil, &wire.MissingEarlierCertificatesError{Current: h.sequence}
	}

	next := h.sequence + 1
	var seqBuf [8]byte
	binary.LittleEndian.PutUint64(seqBuf[:], next)
	if err := h.db.Put(storage.WitnessSequenceKey, seqBuf[:]); err != nil {
		h.onFatal("persist sequence advance", err)
		return nil, fmt.Errorf("witness: persist sequence: %w", err)
	}
	if err := h.db.Delete(storage.WitnessLockKey); err != nil {
		h.onFatal("clear lock", err)
		return nil, fmt.Errorf("witness: clear lock: %w", err)
	}
	if err := h.audit.Put(storage.CertificateKey(c.SequenceNumber), wire.EncodeCertificate(c)); err != nil {
		h.onFatal("archive certificate", err)
		return nil, fmt.Errorf("witness: archive certificate: %w", err)
	}

	h.sequence = next
	h.lock = nil
	h.log.Info("finalized sequence", "sequence_number", c.SequenceNumber)
	return h.stateLocked(), nil
}
