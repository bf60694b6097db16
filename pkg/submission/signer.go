// Package submission implements Component I: deterministic per-service
// signer derivation, ChainMessage envelope construction, and the
// aggregator HTTP client with its retry/DLQ state machine.
package submission

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/wavsnet/operator/pkg/kv"
)

const hdIndexTable = "signer_hd_index"

// hardenedOffset is the BIP32 hardened-derivation marker, kept intact
// from the convention the derivation scheme below generalizes.
const hardenedOffset = 0x80000000

// KeyVault derives a deterministic secp256k1 signing key per service
// from one operator master seed and a persisted per-service hd-index,
// generalizing the BIP32-over-P256 derivation the mixer service uses
// onto the secp256k1 curve go-ethereum's signatures require, keyed by
// service id instead of an incrementing pool-account index.
//
// The hd-index itself is allocated once per service (on first
// EnsureIndex) and persisted, so that restarts and change_service calls
// always re-derive the same signing key for a given service id (spec
// §4.I, §4.H's "same signer hd-index" requirement).
type KeyVault struct {
	masterSeed []byte

	mu       sync.Mutex
	store    kv.Store
	table    kv.Table[uint32]
	nextIdx  uint32
}

// NewKeyVault constructs a KeyVault. masterSeed is the operator's root
// key material (16-64 bytes); store persists the per-service hd-index
// allocation. Any indices already persisted from a prior run are
// scanned so the next allocation never collides with one already
// handed out.
func NewKeyVault(masterSeed []byte, store kv.Store) (*KeyVault, error) {
	if len(masterSeed) < 16 || len(masterSeed) > 64 {
		return nil, fmt.Errorf("submission: master seed must be 16-64 bytes, got %d", len(masterSeed))
	}
	table := kv.NewTable[uint32](store, hdIndexTable)
	entries, err := table.Range(kv.Range{})
	if err != nil {
		return nil, fmt.Errorf("submission: scan persisted hd-indices: %w", err)
	}
	var next uint32
	for _, e := range entries {
		if e.Value+1 > next {
			next = e.Value + 1
		}
	}
	return &KeyVault{
		masterSeed: masterSeed,
		store:      store,
		table:      table,
		nextIdx:    next,
	}, nil
}

// EnsureIndex returns the hd-index allocated to serviceID, allocating
// and persisting the next one if this is the first time serviceID is
// seen.
func (v *KeyVault) EnsureIndex(serviceID string) (uint32, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	idx, err := v.table.Get([]byte(serviceID))
	if err == nil {
		return idx, nil
	}
	if err != kv.ErrNotFound {
		return 0, err
	}

	idx = v.nextIdx
	v.nextIdx++
	if err := v.table.Set([]byte(serviceID), idx); err != nil {
		return 0, err
	}
	return idx, nil
}

// deriveChild performs one step of HMAC-SHA512 hardened derivation
// over go-ethereum's secp256k1 curve order, mirroring BIP32's
// "hardened: 0x00 || private key || index" construction.
func deriveChild(parent []byte, index uint32) []byte {
	data := make([]byte, 37)
	data[0] = 0x00
	copy(data[1:33], parent)
	binary.BigEndian.PutUint32(data[33:], index|hardenedOffset)

	mac := hmac.New(sha512.New, []byte("wavsnet-operator-signer"))
	mac.Write(data)
	sum := mac.Sum(nil)
	return sum[:32]
}

// DeriveKey derives the secp256k1 private key for hd-index idx.
func (v *KeyVault) DeriveKey(idx uint32) (*ecdsa.PrivateKey, error) {
	d := deriveChild(v.masterSeed, idx)
	keyInt := new(big.Int).SetBytes(d)
	keyInt.Mod(keyInt, crypto.S256().Params().N)
	if keyInt.Sign() == 0 {
		return nil, fmt.Errorf("submission: derived zero key at index %d", idx)
	}

	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = crypto.S256()
	priv.D = keyInt
	priv.PublicKey.X, priv.PublicKey.Y = crypto.S256().ScalarBaseMult(keyInt.Bytes())
	return priv, nil
}

// SignerFor returns the deterministic signing key for serviceID,
// allocating its hd-index on first use.
func (v *KeyVault) SignerFor(serviceID string) (*ecdsa.PrivateKey, uint32, error) {
	idx, err := v.EnsureIndex(serviceID)
	if err != nil {
		return nil, 0, err
	}
	key, err := v.DeriveKey(idx)
	if err != nil {
		return nil, 0, err
	}
	return key, idx, nil
}
