package akd

import (
	"encoding/binary"
	"fmt"

	"github.com/asonnino/key-transparency/storage"
	"github.com/asonnino/key-transparency/wire"
)

// rootKey returns the storage key holding the root committed at epoch.
// Keys are prefixed 'r' to share a directory with other potential AKD
// metadata without collision; this directory is otherwise dedicated to
// the AKD, and the only other key stored in it is epochKey.
func rootKey(epoch uint64) []byte {
	b := make([]byte, 9)
	b[0] = 'r'
	binary.LittleEndian.PutUint64(b[1:], epoch)
	return b
}

// epochKey holds the current (highest published) epoch number.
var epochKey = []byte("epoch")

// FileDirectory is a disk-backed Directory: every Publish durably records
// the new root before returning, so restarting the IdP recovers the
// directory's state instead of resetting to epoch 0 (spec.md §9 O4,
// SPEC_FULL.md §4.9). It is built on the same storage.DB the witness and
// IdP secure-storage layers use, opened against its own data directory.
type FileDirectory struct {
	db    storage.DB
	epoch uint64
}

// OpenFileDirectory opens (or creates) a disk-backed AKD directory at
// dir. On an existing directory it recovers the current epoch from
// storage; a fresh directory starts at genesis (epoch 0, the zero root).
func OpenFileDirectory(dir string) (*FileDirectory, error) {
	db, err := storage.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("akd: open storage: %w", err)
	}
	fd := &FileDirectory{db: db}

	raw, err := db.Get(epochKey)
	switch err {
	case nil:
		fd.epoch = binary.LittleEndian.Uint64(raw)
	case storage.ErrNotFound:
		var genesis wire.Root
		if err := fd.db.Put(rootKey(0), genesis[:]); err != nil {
			return nil, fmt.Errorf("akd: write genesis root: %w", err)
		}
		if err := fd.writeEpoch(0); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("akd: read epoch: %w", err)
	}
	return fd, nil
}

func (fd *FileDirectory) writeEpoch(epoch uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], epoch)
	if err := fd.db.Put(epochKey, b[:]); err != nil {
		return fmt.Errorf("akd: write epoch: %w", err)
	}
	fd.epoch = epoch
	return nil
}

// Publish commits batch as epoch+1, persists its root, and advances the
// durable epoch counter.
func (fd *FileDirectory) Publish(batch []Entry) (uint64, error) {
	prev, err := fd.RootAt(fd.epoch)
	if err != nil {
		return 0, err
	}
	next := fd.epoch + 1
	root := commitRoot(prev, next, batch)
	if err := fd.db.Put(rootKey(next), root[:]); err != nil {
		return 0, fmt.Errorf("akd: write root: %w", err)
	}
	if err := fd.writeEpoch(next); err != nil {
		return 0, err
	}
	return next, nil
}

// RootAt returns the root committed at epoch.
func (fd *FileDirectory) RootAt(epoch uint64) (wire.Root, error) {
	raw, err := fd.db.Get(rootKey(epoch))
	if err == storage.ErrNotFound {
		return wire.Root{}, ErrUnknownEpoch
	}
	if err != nil {
		return wire.Root{}, fmt.Errorf("akd: read root: %w", err)
	}
	var root wire.Root
	copy(root[:], raw)
	return root, nil
}

// Audit returns a proof binding the roots at from and to.
func (fd *FileDirectory) Audit(from, to uint64) (Proof, error) {
	fromRoot, err := fd.RootAt(from)
	if err != nil {
		return Proof{}, err
	}
	toRoot, err := fd.RootAt(to)
	if err != nil {
		return Proof{}, err
	}
	return Proof{From: from, To: to, FromRoot: fromRoot, ToRoot: toRoot}, nil
}

// Close releases the underlying storage handle.
func (fd *FileDirectory) Close() error { return fd.db.Close() }

var _ Directory = (*FileDirectory)(nil)
