package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainState prefixes every state checksum. The version suffix leaves room
// for a future algorithm change without old and new checksums colliding.
const DomainState = "resync/state/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data) as lowercase hex.
// The null byte separates domain and data unambiguously.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Checksum fingerprints a state by content only. Two structurally equal
// states always produce equal checksums, independent of map insertion order.
// Returns an error if the state cannot be canonically marshaled (floats, null).
func Checksum(state IRValue) (string, error) {
	canonical, err := MarshalCanonical(state)
	if err != nil {
		return "", fmt.Errorf("checksum: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// CheckedState pairs a state with its checksum. The checksum is derived,
// never assigned: build values with Check.
type CheckedState struct {
	State    IRValue `json:"state"`
	Checksum string  `json:"checksum"`
}

// Check computes the CheckedState for a state.
func Check(state IRValue) (CheckedState, error) {
	sum, err := Checksum(state)
	if err != nil {
		return CheckedState{}, err
	}
	return CheckedState{State: state, Checksum: sum}, nil
}

// MustCheck is like Check but panics on error.
// Use only in tests or when the state is known to be valid.
func MustCheck(state IRValue) CheckedState {
	cs, err := Check(state)
	if err != nil {
		panic(err)
	}
	return cs
}

// Matches reports whether two checked states carry the same checksum.
func (c CheckedState) Matches(other CheckedState) bool {
	return c.Checksum != "" && c.Checksum == other.Checksum
}

// Clone returns a deep copy.
func (c CheckedState) Clone() CheckedState {
	return CheckedState{State: Clone(c.State), Checksum: c.Checksum}
}

// Short returns the first 12 hex digits of the checksum for log lines.
func (c CheckedState) Short() string {
	if len(c.Checksum) <= 12 {
		return c.Checksum
	}
	return c.Checksum[:12]
}
