package chain

import (
	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// IndexedTransaction is a single wallet-relevant transaction surfaced by a
// block scan: it either pays to a watched script, or spends an output that
// a previous scan already matched (spec.md §4.1 Block scan).
type IndexedTransaction struct {
	Tx     *wire.MsgTx
	Inputs []int // indices of inputs spending a previously-matched outpoint
	Outputs []int // indices of outputs paying a watched script
}

// scanBlock verifies the block's Merkle root against its header, then walks
// every transaction looking for watched outputs or spends of previously
// matched outpoints. matchedOutpoints is mutated in place so that spends are
// tracked across blocks within the process lifetime.
func scanBlock(block *wire.MsgBlock, scripts *ScriptSet, matchedOutpoints map[wire.OutPoint]struct{}) ([]IndexedTransaction, error) {
	if err := verifyMerkleRoot(block); err != nil {
		return nil, err
	}

	var indexed []IndexedTransaction
	for _, tx := range block.Transactions {
		txHash := tx.TxHash()
		var ixTx IndexedTransaction
		for i, in := range tx.TxIn {
			if _, ok := matchedOutpoints[in.PreviousOutPoint]; ok {
				ixTx.Inputs = append(ixTx.Inputs, i)
				delete(matchedOutpoints, in.PreviousOutPoint)
			}
		}
		for i, out := range tx.TxOut {
			if scripts.contains(out.PkScript) {
				ixTx.Outputs = append(ixTx.Outputs, i)
				matchedOutpoints[wire.OutPoint{Hash: txHash, Index: uint32(i)}] = struct{}{}
			}
		}
		if len(ixTx.Inputs) > 0 || len(ixTx.Outputs) > 0 {
			ixTx.Tx = tx
			indexed = append(indexed, ixTx)
		}
	}
	return indexed, nil
}

func verifyMerkleRoot(block *wire.MsgBlock) error {
	txns := make([]*btcutil.Tx, len(block.Transactions))
	for i, tx := range block.Transactions {
		txns[i] = btcutil.NewTx(tx)
	}
	tree := blockchain.BuildMerkleTreeStore(txns, false)
	root := tree[len(tree)-1]
	if root == nil || *root != block.Header.MerkleRoot {
		return ErrBadMerkleRoot
	}
	return nil
}
