package chain

import "errors"

// Errors returned by Chain operations. These are evaluated by node to decide
// whether the submitting peer should be disconnected (§7 Protocol/Consensus
// taxonomy) — Chain itself never disconnects anyone.
var (
	// ErrNotExtending is returned when a header batch neither extends the
	// current tip nor connects to any known header hash.
	ErrNotExtending = errors.New("chain: header batch does not extend tip or connect within reorg window")
	// ErrBadProofOfWork is returned when a header's hash does not meet its
	// claimed target, or the claimed target violates the retarget schedule.
	ErrBadProofOfWork = errors.New("chain: header fails proof-of-work or retarget check")
	// ErrBadTimestamp is returned when a header's timestamp does not exceed
	// the median of the preceding eleven headers.
	ErrBadTimestamp = errors.New("chain: header timestamp not past median-time-past")
	// ErrReorgTooDeep is returned when a competing chain diverges more than
	// the configured reorg window below the current tip.
	ErrReorgTooDeep = errors.New("chain: competing chain exceeds reorg window")
	// ErrInsufficientWork is returned when a competing chain is presented
	// but does not exceed the current tip's cumulative work.
	ErrInsufficientWork = errors.New("chain: competing chain has insufficient cumulative work")
	// ErrFilterHeaderMismatch names a peer's filter header for a height
	// disagreeing with the value already recorded for that height. Chain does
	// not return it: SyncFilterHeaders lists such peers in its evict result.
	ErrFilterHeaderMismatch = errors.New("chain: filter header disagreement at height")
	// ErrNoQuorum names the case where no single filter header value reaches
	// quorum. Chain does not return it: the stall is reported through
	// IsFilterHeaderStalled.
	ErrNoQuorum = errors.New("chain: no filter header value reached quorum")
	// ErrFilterHashMismatch is returned when a downloaded filter's byte hash
	// does not equal the filter hash recorded for its height.
	ErrFilterHashMismatch = errors.New("chain: filter bytes do not hash to recorded filter header")
	// ErrUnknownHeight is returned when an operation references a height
	// that has no quorum-confirmed filter header recorded.
	ErrUnknownHeight = errors.New("chain: unknown height")
	// ErrBadMerkleRoot is returned when a downloaded block's transactions do
	// not hash to the Merkle root recorded in its header.
	ErrBadMerkleRoot = errors.New("chain: block merkle root mismatch")
)
