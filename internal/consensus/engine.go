// Package consensus implements PoSEngine: deterministic, stake-weighted
// leader selection and block signing/verification. It is a pure,
// stateless component per SPEC_FULL §5 — it holds no mutable state of its
// own and is safe to call concurrently from any number of goroutines.
//
// This replaces the teacher's internal/consensus.ConsensusState
// round-robin proposer selection (explicitly marked
// "TODO: stake-weighted") with the cumulative-stake-distribution algorithm
// spec.md requires, and completes internal/consensus/proposer.go's
// placeholder signature (`PROPOSER_SIGNATURE_PLACEHOLDER_V1`) with real
// ECDSA/HMAC signing.
package consensus

import (
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sort"

	"empower1.com/ptcnode/internal/core"
	"empower1.com/ptcnode/internal/crypto"
	"empower1.com/ptcnode/internal/errkind"
	"empower1.com/ptcnode/internal/validator"
)

var (
	ErrNoActiveValidators = errkind.New(errkind.Validation, errors.New("consensus: no active validators to select a leader from"))
	ErrZeroTotalStake     = errkind.New(errkind.Validation, errors.New("consensus: active validator set has zero total stake"))
	ErrHMACFallbackOff    = errkind.New(errkind.Validation, errors.New("consensus: HMAC fallback signing is disabled by configuration"))
)

// EpochLength is the number of blocks per epoch, as used by Epoch. Leader
// selection depends only on the per-height formula; nothing in the node
// acts on epoch boundaries.
const EpochLength = 100

// Epoch returns the epoch number containing height.
func Epoch(height uint64) uint64 {
	return height / EpochLength
}

// SelectLeader deterministically picks the leader for height from the
// active validator set, weighted by stake, using
// seed = digest(prevHash || height) mapped onto the cumulative stake
// distribution. The same (prevHash, height, validator set) always yields
// the same leader, independent of call order or goroutine.
//
// Validators are ordered by descending stake, tie-broken by earliest
// registration time (and, if that also ties, by address, for full
// determinism) before the cumulative distribution is walked (SPEC_FULL
// §4.7).
func SelectLeader(active []validator.Validator, prevHash []byte, height uint64) (crypto.Address, error) {
	if len(active) == 0 {
		return crypto.Address{}, ErrNoActiveValidators
	}
	ordered := make([]validator.Validator, len(active))
	copy(ordered, active)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Stake != ordered[j].Stake {
			return ordered[i].Stake > ordered[j].Stake
		}
		if !ordered[i].RegisteredAt.Equal(ordered[j].RegisteredAt) {
			return ordered[i].RegisteredAt.Before(ordered[j].RegisteredAt)
		}
		return string(ordered[i].Address.Bytes()) < string(ordered[j].Address.Bytes())
	})

	var total uint64
	for _, v := range ordered {
		total += v.Stake
	}
	if total == 0 {
		return crypto.Address{}, ErrZeroTotalStake
	}

	seed := crypto.Digest(append(append([]byte{}, prevHash...), heightBytes(height)...))
	target := seedToStakeUnits(seed, total)

	var cumulative uint64
	for _, v := range ordered {
		cumulative += v.Stake
		if target < cumulative {
			return v.Address, nil
		}
	}
	return ordered[len(ordered)-1].Address, nil
}

func heightBytes(height uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(height >> (8 * i))
	}
	return b
}

// seedToStakeUnits maps the first 8 bytes of seed, normalized to [0, 1),
// onto [0, total) via floor(v/2^64 * total), computed in big.Int to avoid
// floating-point rounding (SPEC_FULL §4.7).
func seedToStakeUnits(seed []byte, total uint64) uint64 {
	var v uint64
	for _, b := range seed[:8] {
		v = v<<8 | uint64(b)
	}
	num := new(big.Int).Mul(new(big.Int).SetUint64(v), new(big.Int).SetUint64(total))
	num.Rsh(num, 64)
	return num.Uint64()
}

// SignBlock signs b as the given leader. When priv is nil, HMAC fallback is
// used if allowHMACFallback is true; otherwise signing fails.
func SignBlock(b *core.Block, priv *ecdsa.PrivateKey, hmacSecret []byte, allowHMACFallback bool) error {
	if priv != nil {
		return b.Sign(priv)
	}
	if !allowHMACFallback {
		return ErrHMACFallbackOff
	}
	b.SignHMAC(hmacSecret)
	return nil
}

// VerifyBlock verifies b's signature against its declared scheme. pub is
// used for ECDSA; hmacSecret is used for HMAC fallback (ignored otherwise).
func VerifyBlock(b *core.Block, pub *ecdsa.PublicKey, hmacSecret []byte, allowHMACFallback bool) error {
	switch b.SignatureScheme {
	case core.SchemeECDSA:
		return b.VerifySignature(pub)
	case core.SchemeHMAC:
		if !allowHMACFallback {
			return ErrHMACFallbackOff
		}
		return b.VerifyHMAC(hmacSecret)
	default:
		return errkind.New(errkind.Validation, errors.New("consensus: unknown block signature scheme"))
	}
}
