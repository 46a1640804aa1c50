package chain

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/btcutil"
)

// ScriptSet is the set of output scripts the client watches for, keyed by
// their raw serialized form (spec.md §3 ScriptSet). It is immutable after
// startup in the baseline configuration but extensible via the client's
// AddScript command (spec.md §6).
type ScriptSet struct {
	mu      sync.RWMutex
	scripts map[string]struct{}
}

// NewScriptSet builds a ScriptSet from a list of Bitcoin addresses, decoding
// each to its output script with btcutil — the library go.mod already names
// for base58/address handling, exercised here for its intended purpose
// instead of a hand-rolled base58check wrapper.
func NewScriptSet(addrs []string, params *chaincfg.Params) (*ScriptSet, error) {
	s := &ScriptSet{scripts: make(map[string]struct{})}
	for _, a := range addrs {
		addr, err := btcutil.DecodeAddress(a, params)
		if err != nil {
			return nil, err
		}
		script, err := payToAddrScript(addr)
		if err != nil {
			return nil, err
		}
		s.scripts[string(script)] = struct{}{}
	}
	return s, nil
}

// AddScript inserts an already-built output script, used by the client's
// AddScript command at runtime (spec.md §6 Commands).
func (s *ScriptSet) AddScript(script []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[string(script)] = struct{}{}
}

func (s *ScriptSet) contains(script []byte) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.scripts[string(script)]
	return ok
}

// snapshot returns the current scripts as a slice, used to build the
// membership query against a downloaded filter.
func (s *ScriptSet) snapshot() [][]byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([][]byte, 0, len(s.scripts))
	for scr := range s.scripts {
		out = append(out, []byte(scr))
	}
	return out
}
