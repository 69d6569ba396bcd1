// Package ir provides the value model shared by every resync component.
//
// Resource state and action payloads are IR values: a sealed union of
// strings, int64 integers, booleans, arrays and string-keyed objects. The
// union is deliberately narrower than JSON:
//   - NO floats (they break checksum determinism across platforms)
//   - NO null at checksum time (an "undefined" field is an absent key)
//
// The package also owns the checksum computer. A checksum is SHA-256 over the
// RFC 8785 canonical JSON of a state, so two structurally equal states always
// produce the same checksum regardless of map insertion order.
//
// ir imports nothing internal. Every other package may import it.
package ir
