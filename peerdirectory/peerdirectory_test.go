package peerdirectory

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

type memStore struct {
	recs map[string]PeerRecord
}

func newMemStore() *memStore { return &memStore{recs: make(map[string]PeerRecord)} }

func (m *memStore) Load() ([]PeerRecord, error) {
	out := make([]PeerRecord, 0, len(m.recs))
	for _, r := range m.recs {
		out = append(out, r)
	}
	return out, nil
}

func (m *memStore) Put(rec PeerRecord) error {
	m.recs[rec.Addr] = rec
	return nil
}

func (m *memStore) Delete(addr string) error {
	delete(m.recs, addr)
	return nil
}

func TestAddAndLen(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "1.2.3.4", Port: 8333}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if dir.Len() != 1 {
		t.Fatalf("expected len 1, got %d", dir.Len())
	}
}

func TestGetRandomNewPrefersUntried(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tried := PeerRecord{Addr: "5.6.7.8", LastTried: time.Now(), LastSuccess: time.Now()}
	if err := dir.Add(tried); err != nil {
		t.Fatalf("Add tried: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "1.2.3.4"}); err != nil {
		t.Fatalf("Add untried: %v", err)
	}

	rec, err := dir.GetRandomNew(context.Background())
	if err != nil {
		t.Fatalf("GetRandomNew: %v", err)
	}
	if rec.Addr != "1.2.3.4" {
		t.Fatalf("expected untried candidate, got %s", rec.Addr)
	}
}

func TestGetRandomCPFFiltersServices(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "1.1.1.1", Services: wire.SFNodeNetwork}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "2.2.2.2", Services: wire.SFNodeNetwork | wire.SFNodeCF}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	rec, err := dir.GetRandomCPF(context.Background())
	if err != nil {
		t.Fatalf("GetRandomCPF: %v", err)
	}
	if rec.Addr != "2.2.2.2" {
		t.Fatalf("expected the CPF-signaling peer, got %s", rec.Addr)
	}
}

func TestMarkTriedAndBan(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "9.9.9.9"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "1.2.3.4"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := dir.MarkTried("9.9.9.9", OutcomeFailure); err != nil {
		t.Fatalf("MarkTried: %v", err)
	}
	if err := dir.Ban("9.9.9.9", time.Hour); err != nil {
		t.Fatalf("Ban: %v", err)
	}

	rec, err := dir.GetRandomNew(context.Background())
	if err != nil {
		t.Fatalf("GetRandomNew: %v", err)
	}
	if rec.Addr != "1.2.3.4" {
		t.Fatalf("expected the unbanned candidate, got %s", rec.Addr)
	}
}

func TestSetCapacityEvictsNeverSucceededOldestFirst(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	now := time.Now()
	if err := dir.Add(PeerRecord{Addr: "1.1.1.1", LastSeen: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "2.2.2.2", LastSeen: now, LastSuccess: now}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := dir.Add(PeerRecord{Addr: "3.3.3.3", LastSeen: now}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	dir.SetCapacity(2)

	if dir.Len() != 2 {
		t.Fatalf("expected len 2 after capping, got %d", dir.Len())
	}
	if _, ok := dir.records["1.1.1.1"]; ok {
		t.Fatalf("expected the oldest never-succeeded record to be evicted")
	}
	if _, ok := dir.records["2.2.2.2"]; !ok {
		t.Fatalf("expected the succeeded record to survive")
	}
}

func TestMarkTriedUnknownAddr(t *testing.T) {
	dir, err := New(newMemStore(), &chaincfg.MainNetParams)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := dir.MarkTried("nope", OutcomeSuccess); err == nil {
		t.Fatalf("expected error for unknown address")
	}
}
