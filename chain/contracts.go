package chain

import "github.com/btcsuite/btcd/wire"

// HeaderStore is the on-disk header persistence contract (spec.md §6). The
// core treats it as an interface only — a concrete implementation (e.g.
// store.HeaderDB) is an external collaborator wired in by the
// embedding application.
type HeaderStore interface {
	Load() ([]wire.BlockHeader, error)
	Append(batch []wire.BlockHeader) error
	Rewind(toHeight uint32) error
	Flush() error
}
