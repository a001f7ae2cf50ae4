// Package core contains the canonical data structures for the EmPower1 PoS
// node: Transaction and Block, their canonical serialization, hashing, and
// signing. Every other component (mempool, chain store, consensus, block
// builder, event sync, raw ingestor) operates on these types.
package core
