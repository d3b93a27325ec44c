package ir

import (
	"github.com/cespare/xxhash/v2"
	"golang.org/x/text/unicode/norm"
)

// Domain prefixes for fingerprints. The version suffix allows the encoding
// to change without colliding with fingerprints computed by older builds.
const (
	DomainPlan      = "oql/plan/v1"
	DomainStatement = "oql/statement/v1"
)

// Fingerprint computes a 64-bit xxhash over a domain and its parts.
// Format: domain 0x00 part1 0x00 part2 ...
// The null separator prevents part boundary ambiguity ("ab","c" vs "a","bc").
// Parts are NFC normalized so visually identical query texts share a plan.
func Fingerprint(domain string, parts ...string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(domain)
	for _, p := range parts {
		_, _ = d.Write([]byte{0x00})
		_, _ = d.WriteString(norm.NFC.String(p))
	}
	return d.Sum64()
}
