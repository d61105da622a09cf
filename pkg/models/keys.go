package models

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Bit-exact hash derivations. Every key below is SHA256 over a canonical
// concatenation; score vectors serialize as one byte per dimension in fixed
// dimension order, no padding.

// Commitment computes H(score_vector_bytes || salt_32 || work_id_32).
func Commitment(scores []uint8, salt [32]byte, workID chainhash.Hash) chainhash.Hash {
	buf := make([]byte, 0, len(scores)+32+chainhash.HashSize)
	buf = append(buf, scores...)
	buf = append(buf, salt[:]...)
	buf = append(buf, workID[:]...)
	return chainhash.HashH(buf)
}

// ConsensusKey computes the per-worker consensus key H(work_id_32 || worker_20).
func ConsensusKey(workID chainhash.Hash, worker Address) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+AddressLen)
	buf = append(buf, workID[:]...)
	buf = append(buf, worker[:]...)
	return chainhash.HashH(buf)
}

// FeedbackKey computes the feedback idempotence key
// H(work_id_32 || worker_20 || tag1_ascii || score_u8).
func FeedbackKey(workID chainhash.Hash, worker Address, tag string, score uint8) chainhash.Hash {
	buf := make([]byte, 0, chainhash.HashSize+AddressLen+len(tag)+1)
	buf = append(buf, workID[:]...)
	buf = append(buf, worker[:]...)
	buf = append(buf, tag...)
	buf = append(buf, score)
	return chainhash.HashH(buf)
}

// EvidenceHash derives the 32-byte content hash bound to reputation events
// from a work's opaque evidence pointer.
func EvidenceHash(evidencePointer string) chainhash.Hash {
	return chainhash.HashH([]byte(evidencePointer))
}
