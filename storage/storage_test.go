package storage

import (
	"bytes"
	"testing"
)

func TestPutGetRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("v1")) {
		t.Fatalf("Get = %q, want %q", got, "v1")
	}

	has, err := db.Has([]byte("k1"))
	if err != nil || !has {
		t.Fatalf("Has = %v, %v; want true, nil", has, err)
	}
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Get([]byte("missing")); err != ErrNotFound {
		t.Fatalf("Get missing key: got %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.Put([]byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Delete([]byte("k")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := db.Get([]byte("k")); err != ErrNotFound {
		t.Fatalf("Get after delete: got %v, want ErrNotFound", err)
	}
	// Deleting an absent key is not an error.
	if err := db.Delete([]byte("never-existed")); err != nil {
		t.Fatalf("Delete absent key: %v", err)
	}
}

func TestReopenRecoversData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Put(WitnessSequenceKey, CertificateKey(5)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Put(WitnessLockKey, []byte("locked-vote-bytes")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	seq, err := reopened.Get(WitnessSequenceKey)
	if err != nil {
		t.Fatalf("Get sequence after reopen: %v", err)
	}
	if !bytes.Equal(seq, CertificateKey(5)) {
		t.Fatalf("sequence after reopen = %x, want %x", seq, CertificateKey(5))
	}
	lock, err := reopened.Get(WitnessLockKey)
	if err != nil {
		t.Fatalf("Get lock after reopen: %v", err)
	}
	if !bytes.Equal(lock, []byte("locked-vote-bytes")) {
		t.Fatal("lock bytes not recovered after reopen")
	}
}

func TestSecondOpenFailsWhileLocked(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := Open(dir); err == nil {
		t.Fatal("expected a second Open on the same directory to fail while the first holds the lock")
	}
}

func TestNewIteratorOrderedByKey(t *testing.T) {
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	for _, seq := range []uint64{3, 1, 2} {
		if err := db.Put(CertificateKey(seq), []byte("cert")); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	it := db.NewIterator(nil)
	defer it.Release()
	var order []uint64
	for it.Next() {
		order = append(order, bytesToUint64(it.Key()))
	}
	if len(order) != 3 {
		t.Fatalf("iterated %d entries, want 3", len(order))
	}
	for i := 1; i < len(order); i++ {
		if bytes.Compare(CertificateKey(order[i-1]), CertificateKey(order[i])) >= 0 {
			t.Fatalf("iterator not in ascending key order: %v", order)
		}
	}
}

func bytesToUint64(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func TestFixedStorageKeyLayout(t *testing.T) {
	if len(WitnessSequenceKey) != 32 || len(WitnessLockKey) != 32 || len(IdPLastNotificationKey) != 32 {
		t.Fatal("fixed storage keys must be exactly 32 bytes per spec.md §6")
	}
}
