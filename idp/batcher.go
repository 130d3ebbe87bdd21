package idp

import (
	"context"
	"time"
	"unicode/utf8"

	"github.com/asonnino/key-transparency/akd"
	"github.com/asonnino/key-transparency/log"
)

// DefaultChannelCapacity is the default buffer size for the channels
// connecting the batcher, prover and publisher tasks (spec.md §5: bounded
// FIFO channels, default capacity 1000).
const DefaultChannelCapacity = 1000

// BatcherConfig configures batch sealing (spec.md §4.6).
type BatcherConfig struct {
	// BatchSize is the target number of requests per batch.
	BatchSize int
	// MaxBatchDelay seals a non-empty batch if BatchSize is never
	// reached within this long.
	MaxBatchDelay time.Duration
}

// Batcher groups decoded client update requests into batches, sealing on
// whichever of size or time comes first (spec.md §4.6, C6).
type Batcher struct {
	cfg BatcherConfig
	log *log.Logger
}

// NewBatcher constructs a Batcher from cfg.
func NewBatcher(cfg BatcherConfig, logger *log.Logger) *Batcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Batcher{cfg: cfg, log: logger.Module("idp.batcher")}
}

// Run reads raw client update requests from in, decodes each into an
// akd.Entry, and delivers sealed batches to out in FIFO seal order. It
// returns when ctx is canceled or in is closed. When in is closed, any
// partial batch is flushed first; on cancellation the partial batch is
// offered to out but may be dropped.
func (b *Batcher) Run(ctx context.Context, in <-chan []byte, out chan<- []akd.Entry) error {
	timer := time.NewTimer(b.cfg.MaxBatchDelay)
	defer timer.Stop()
	stopTimer := func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}

	var batch []akd.Entry
	seal := func() {
		if len(batch) == 0 {
			return
		}
		sealed := batch
		batch = nil
		select {
		case out <- sealed:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			seal()
			return ctx.Err()

		case raw, ok := <-in:
			if !ok {
				seal()
				return nil
			}
			entry, err := decodeEntry(raw)
			if err != nil {
				b.log.Warn("dropping malformed client request", "error", err)
				continue
			}
			batch = append(batch, entry)
			if len(batch) >= b.cfg.BatchSize {
				stopTimer()
				seal()
				timer.Reset(b.cfg.MaxBatchDelay)
			}

		case <-timer.C:
			seal()
			timer.Reset(b.cfg.MaxBatchDelay)
		}
	}
}

// decodeEntry splits raw into a (label, value) pair per spec.md §4.6: at
// least 2 bytes, split evenly, each half a UTF-8 string.
func decodeEntry(raw []byte) (akd.Entry, error) {
	if len(raw) < 2 {
		return akd.Entry{}, errShortRequest
	}
	mid := len(raw) / 2
	label, value := raw[:mid], raw[mid:]
	if !utf8.Valid(label) || !utf8.Valid(value) {
		return akd.Entry{}, errInvalidUTF8
	}
	return akd.Entry{Label: string(label), Value: string(value)}, nil
}
