package vault

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	lru "github.com/hashicorp/golang-lru"
	"go.dedis.ch/kyber/v3/group/edwards25519"
	"golang.org/x/crypto/blake2b"
)

const (
	// AddressSize is the byte length of a vault address and a program id.
	AddressSize = 32

	seedPrefix       = "time-vault"
	derivationMarker = "vault-derived-address"
	accountPrefix    = "vault:"
)

// ErrNoViableAddress is returned when every derivation tag lands on the curve.
// The probability is about 2^-256.
var ErrNoViableAddress = errors.New("no off-curve vault address for owner")

// Address identifies a vault's storage and balance. It is derived, never chosen.
type Address [AddressSize]byte

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// AccountCode is the ledger account code holding the vault's balance and record.
func (a Address) AccountCode() string {
	return accountPrefix + a.String()
}

// ParseAddress decodes a base58 address or program id.
func ParseAddress(s string) (Address, error) {
	raw := base58.Decode(s)
	if len(raw) != AddressSize {
		return Address{}, fmt.Errorf("invalid address %q: decoded %d bytes, want %d", s, len(raw), AddressSize)
	}
	var a Address
	copy(a[:], raw)
	return a, nil
}

// DefaultProgramID is the derivation domain used when none is configured.
func DefaultProgramID() Address {
	return Address(blake2b.Sum256([]byte("timevault")))
}

type derivation struct {
	address Address
	tag     uint8
}

// Deriver maps owner identities to vault addresses. For tag 255 down to 0 it
// hashes (seed prefix, owner, tag, program id, marker) and keeps the first
// digest that is not a valid Ed25519 point, so no private key can ever sign
// for a vault address. Results are memoized in an LRU.
type Deriver struct {
	programID Address
	suite     *edwards25519.SuiteEd25519
	cache     *lru.Cache
}

// NewDeriver builds a Deriver for programID with an LRU of cacheSize entries.
func NewDeriver(programID Address, cacheSize int) (*Deriver, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("address cache: %w", err)
	}
	return &Deriver{
		programID: programID,
		suite:     edwards25519.NewBlakeSHA256Ed25519(),
		cache:     cache,
	}, nil
}

// ProgramID returns the derivation domain.
func (d *Deriver) ProgramID() Address {
	return d.programID
}

// Derive returns the owner's vault address and the tag that produced it.
func (d *Deriver) Derive(owner string) (Address, uint8, error) {
	if owner == "" {
		return Address{}, 0, ErrInvalidOwner
	}
	if cached, ok := d.cache.Get(owner); ok {
		found := cached.(derivation)
		return found.address, found.tag, nil
	}

	for tag := 255; tag >= 0; tag-- {
		candidate := d.candidate(owner, uint8(tag))
		if d.onCurve(candidate) {
			continue
		}
		d.cache.Add(owner, derivation{address: candidate, tag: uint8(tag)})
		return candidate, uint8(tag), nil
	}
	return Address{}, 0, ErrNoViableAddress
}

// Verify recomputes a single candidate for tag and compares it with addr.
func (d *Deriver) Verify(owner string, tag uint8, addr Address) bool {
	candidate := d.candidate(owner, tag)
	return candidate == addr && !d.onCurve(candidate)
}

func (d *Deriver) candidate(owner string, tag uint8) Address {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(seedPrefix))
	h.Write([]byte(owner))
	h.Write([]byte{tag})
	h.Write(d.programID[:])
	h.Write([]byte(derivationMarker))

	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

func (d *Deriver) onCurve(candidate Address) bool {
	return d.suite.Point().UnmarshalBinary(candidate[:]) == nil
}
