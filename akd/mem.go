package akd

import (
	"sync"

	"github.com/asonnino/key-transparency/wire"
)

// MemDirectory is an in-memory Directory for unit tests. It never
// recovers state across restarts — akd.FileDirectory is what the IdP
// binary actually runs (spec.md §9 O4).
type MemDirectory struct {
	mu    sync.Mutex
	roots []wire.Root
}

// NewMemDirectory returns an empty directory seeded with the genesis
// root (the zero root at epoch 0).
func NewMemDirectory() *MemDirectory {
	return &MemDirectory{roots: []wire.Root{{}}}
}

func (d *MemDirectory) Publish(batch []Entry) (uint64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev := d.roots[len(d.roots)-1]
	epoch := uint64(len(d.roots))
	d.roots = append(d.roots, commitRoot(prev, epoch, batch))
	return epoch, nil
}

func (d *MemDirectory) RootAt(epoch uint64) (wire.Root, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if epoch >= uint64(len(d.roots)) {
		return wire.Root{}, ErrUnknownEpoch
	}
	return d.roots[epoch], nil
}

func (d *MemDirectory) Audit(from, to uint64) (Proof, error) {
	fromRoot, err := d.RootAt(from)
	if err != nil {
		return Proof{}, err
	}
	toRoot, err := d.RootAt(to)
	if err != nil {
		return Proof{}, err
	}
	return Proof{From: from, To: to, FromRoot: fromRoot, ToRoot: toRoot}, nil
}

var _ Directory = (*MemDirectory)(nil)
