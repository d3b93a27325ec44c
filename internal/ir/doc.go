// Package ir provides the constrained value types shared by every layer of
// the query engine.
//
// Literals written in query text, parameter values supplied by callers and
// identifier values read back from result rows are all normalized into an
// IRValue before they take part in identity decisions. This package imports
// nothing internal; every other internal package may import it.
//
// Key design constraints:
//   - NO float types: approximate numbers become IRDecimal (exact) so that
//     identity keys and plan fingerprints are deterministic
//   - Canonical encoding (MarshalCanonical) is the ONLY serialization used
//     for EntityKey identifiers and plan-cache keys
//   - Strings are NFC normalized at the encoding boundary
package ir
