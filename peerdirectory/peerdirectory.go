// peerdirectory.go is grounded on abey/peer.go's peerSet bookkeeping
// (a mutex-guarded registry with insert/remove/len) generalized to a
// persisted, scored catalog of never-yet-connected addresses rather than
// live sessions, plus the DNS-seed bootstrap path abey's p2p layer (a
// go-ethereum derivative) delegates to bundled seed lists for — here
// resolved directly against network-specific Bitcoin DNS seeds via
// net.Resolver, the idiomatic Go way to do A/AAAA lookups, since the
// library family btcsuite/btcd ships no seed-resolution helper of its own.
package peerdirectory

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	mapset "github.com/deckarep/golang-set"
	"github.com/pkg/errors"

	"github.com/abeychain/spvnode/internal/log"
)

// Outcome is the result mark_tried records against an address (spec.md §4.4).
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeFailure
)

// PeerRecord is the persisted catalog entry (spec.md §4.4).
type PeerRecord struct {
	Addr         string
	Port         uint16
	Services     wire.ServiceFlag
	LastSeen     time.Time
	LastTried    time.Time
	LastSuccess  time.Time
	AttemptCount uint32
	BannedUntil  time.Time
}

func (r PeerRecord) cpf() bool {
	return r.Services&(wire.SFNodeNetwork|wire.SFNodeCF) == (wire.SFNodeNetwork | wire.SFNodeCF)
}

func (r PeerRecord) tried() bool {
	return !r.LastTried.IsZero()
}

func (r PeerRecord) banned(now time.Time) bool {
	return r.BannedUntil.After(now)
}

// Store is the PeerStore contract of spec.md §4.4 / §6, each operation
// Result-returning so a leveldb-backed implementation (store.PeerDB)
// can surface I/O failures without panicking the directory.
type Store interface {
	Load() ([]PeerRecord, error)
	Put(rec PeerRecord) error
	Delete(addr string) error
}

var (
	// ErrEmpty is returned by get_random_new/get_random_cpf when no
	// candidate exists and DNS fallback also yields nothing.
	ErrEmpty = errors.New("peerdirectory: no candidate peers")
	// ErrBootstrapFailed is a fatal bootstrap error (spec.md §4.4 DNS
	// fallback): DNS failed and the store was already empty.
	ErrBootstrapFailed = errors.New("peerdirectory: DNS bootstrap failed on empty store")
)

// defaultPort parses params.DefaultPort (chaincfg stores it as a string),
// falling back to Bitcoin mainnet's port if it doesn't parse.
func defaultPort(params *chaincfg.Params) uint16 {
	var p int
	if _, err := fmt.Sscanf(params.DefaultPort, "%d", &p); err != nil || p <= 0 || p > 65535 {
		return 8333
	}
	return uint16(p)
}

// dnsSeeds mirrors chaincfg.Params.DNSSeeds but keyed for direct use here;
// chaincfg already carries per-network seed hosts, so this simply aliases
// the authoritative list instead of duplicating constants.
func dnsSeeds(params *chaincfg.Params) []string {
	seeds := make([]string, 0, len(params.DNSSeeds))
	for _, s := range params.DNSSeeds {
		seeds = append(seeds, s.Host)
	}
	return seeds
}

// Directory is the persisted + in-memory peer catalog of spec.md §4.4.
type Directory struct {
	mu      sync.RWMutex
	records map[string]PeerRecord
	banned  mapset.Set

	store      Store
	params     *chaincfg.Params
	resolver   *net.Resolver
	maxRecords int // 0 means unbounded; see SetCapacity

	log *log.Logger
}

// SetCapacity bounds the catalog to n records (spec.md §6 peer_db_size),
// evicting the least valuable record whenever an insert would exceed it.
// n <= 0 means unbounded.
func (d *Directory) SetCapacity(n int) {
	d.mu.Lock()
	d.maxRecords = n
	d.mu.Unlock()
	d.enforceCapacity()
}

// enforceCapacity drops records, worst first, until the catalog fits
// maxRecords. "Worst" prefers records that have never succeeded a
// connection attempt, oldest-seen first, so proven-good peers survive.
func (d *Directory) enforceCapacity() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.maxRecords <= 0 {
		return
	}
	for len(d.records) > d.maxRecords {
		worst := d.pickEvictionCandidate()
		if worst == "" {
			return
		}
		delete(d.records, worst)
		if d.store != nil {
			_ = d.store.Delete(worst)
		}
	}
}

// pickEvictionCandidate returns the address of the least valuable record:
// the oldest-seen record among those that have never succeeded a connection
// attempt, or the oldest-seen record overall if every record has.
func (d *Directory) pickEvictionCandidate() string {
	var never, any string
	var neverSeen, anySeen time.Time
	for addr, r := range d.records {
		if any == "" || r.LastSeen.Before(anySeen) {
			any, anySeen = addr, r.LastSeen
		}
		if r.LastSuccess.IsZero() && (never == "" || r.LastSeen.Before(neverSeen)) {
			never, neverSeen = addr, r.LastSeen
		}
	}
	if never != "" {
		return never
	}
	return any
}

// New loads whatever the store already holds and returns a ready Directory.
func New(store Store, params *chaincfg.Params) (*Directory, error) {
	d := &Directory{
		records:  make(map[string]PeerRecord),
		banned:   mapset.NewSet(),
		store:    store,
		params:   params,
		resolver: net.DefaultResolver,
		log:      log.New("component", "peerdirectory"),
	}
	if store == nil {
		return d, nil
	}
	recs, err := store.Load()
	if err != nil {
		return nil, errors.Wrap(err, "peerdirectory: load")
	}
	for _, r := range recs {
		d.records[r.Addr] = r
	}
	return d, nil
}

// Add inserts or refreshes a record (spec.md §4.4 add).
func (d *Directory) Add(rec PeerRecord) error {
	d.mu.Lock()
	if existing, ok := d.records[rec.Addr]; ok {
		rec.AttemptCount = existing.AttemptCount
		rec.LastTried = existing.LastTried
		rec.LastSuccess = existing.LastSuccess
		rec.BannedUntil = existing.BannedUntil
	}
	if rec.LastSeen.IsZero() {
		rec.LastSeen = time.Now()
	}
	d.records[rec.Addr] = rec
	d.mu.Unlock()
	d.enforceCapacity()

	if d.store != nil {
		return errors.Wrap(d.store.Put(rec), "peerdirectory: put")
	}
	return nil
}

// AddBatch inserts a batch of freshly announced addresses (spec.md §4.5
// Addr handler).
func (d *Directory) AddBatch(addrs []*wire.NetAddress) error {
	for _, a := range addrs {
		rec := PeerRecord{
			Addr:     a.IP.String(),
			Port:     a.Port,
			Services: a.Services,
			LastSeen: a.Timestamp,
		}
		if err := d.Add(rec); err != nil {
			return err
		}
	}
	return nil
}

// GetRandomNew returns a uniformly-random never-tried record, or the
// oldest-failed one if every known record has been tried (spec.md §4.4).
func (d *Directory) GetRandomNew(ctx context.Context) (PeerRecord, error) {
	now := time.Now()
	d.mu.RLock()
	var untried, failed []PeerRecord
	for _, r := range d.records {
		if r.banned(now) {
			continue
		}
		if !r.tried() {
			untried = append(untried, r)
		} else if r.LastSuccess.IsZero() {
			failed = append(failed, r)
		}
	}
	d.mu.RUnlock()

	if len(untried) > 0 {
		return untried[rand.Intn(len(untried))], nil
	}
	if len(failed) > 0 {
		oldest := failed[0]
		for _, r := range failed[1:] {
			if r.LastTried.Before(oldest.LastTried) {
				oldest = r
			}
		}
		return oldest, nil
	}
	return d.bootstrap(ctx)
}

// GetRandomCPF returns a uniformly-random record that signaled both
// SFNodeNetwork and SFNodeCF (spec.md §4.4 get_random_cpf).
func (d *Directory) GetRandomCPF(ctx context.Context) (PeerRecord, error) {
	now := time.Now()
	d.mu.RLock()
	var candidates []PeerRecord
	for _, r := range d.records {
		if r.banned(now) {
			continue
		}
		if r.cpf() {
			candidates = append(candidates, r)
		}
	}
	d.mu.RUnlock()

	if len(candidates) == 0 {
		return d.bootstrap(ctx)
	}
	return candidates[rand.Intn(len(candidates))], nil
}

// MarkTried records the outcome of a connection attempt (spec.md §4.4).
func (d *Directory) MarkTried(addr string, outcome Outcome) error {
	d.mu.Lock()
	rec, ok := d.records[addr]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("peerdirectory: unknown address %s", addr)
	}
	rec.LastTried = time.Now()
	rec.AttemptCount++
	if outcome == OutcomeSuccess {
		rec.LastSuccess = rec.LastTried
	}
	d.records[addr] = rec
	d.mu.Unlock()

	if d.store != nil {
		return errors.Wrap(d.store.Put(rec), "peerdirectory: put")
	}
	return nil
}

// Ban marks addr unusable until duration elapses (spec.md §4.4 ban).
func (d *Directory) Ban(addr string, duration time.Duration) error {
	d.mu.Lock()
	rec, ok := d.records[addr]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("peerdirectory: unknown address %s", addr)
	}
	rec.BannedUntil = time.Now().Add(duration)
	d.records[addr] = rec
	d.banned.Add(addr)
	d.mu.Unlock()

	if d.store != nil {
		return errors.Wrap(d.store.Put(rec), "peerdirectory: put")
	}
	return nil
}

// Len returns the number of records tracked, including banned ones.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.records)
}

// bootstrap performs the DNS fallback of spec.md §4.4: query network seeds,
// shuffle, insert every resolved address, and return one. An empty store
// plus a failed lookup is a fatal bootstrap error.
func (d *Directory) bootstrap(ctx context.Context) (PeerRecord, error) {
	seeds := dnsSeeds(d.params)
	if len(seeds) == 0 {
		return PeerRecord{}, ErrBootstrapFailed
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var resolved []net.IP
	var lastErr error
	for _, seed := range seeds {
		ips, err := d.resolver.LookupIP(ctx, "ip", seed)
		if err != nil {
			lastErr = err
			continue
		}
		resolved = append(resolved, ips...)
	}
	if len(resolved) == 0 {
		d.log.Warn("DNS bootstrap found no addresses", "err", lastErr)
		if d.Len() == 0 {
			return PeerRecord{}, ErrBootstrapFailed
		}
		return PeerRecord{}, ErrEmpty
	}

	rand.Shuffle(len(resolved), func(i, j int) { resolved[i], resolved[j] = resolved[j], resolved[i] })

	port := defaultPort(d.params)
	for _, ip := range resolved {
		rec := PeerRecord{Addr: ip.String(), Port: port, LastSeen: time.Now()}
		if err := d.Add(rec); err != nil {
			d.log.Warn("failed to persist bootstrap address", "addr", rec.Addr, "err", err)
		}
	}

	d.mu.RLock()
	first := resolved[0].String()
	rec := d.records[first]
	d.mu.RUnlock()
	return rec, nil
}
