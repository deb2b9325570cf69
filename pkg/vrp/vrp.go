// Package vrp holds the validated ROA payload store: the de-duplicating,
// deterministically ordered set of Validated ROA Payloads a run produces.
package vrp

import (
	"bytes"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/rpki-client/pkg/types"
)

// VRP is one validated route origin: an AS number authorized to
// originate a prefix up to maxlength.
type VRP struct {
	AFI       types.AFI
	Prefix    []byte
	PrefixLen int
	MaxLength int
	ASID      uint32

	TAL     string // provenance: the first-seen TAL name for this key
	Expires time.Time
}

type key struct {
	afi       types.AFI
	prefix    string
	prefixLen int
	maxLength int
	asid      uint32
}

func keyOf(afi types.AFI, prefix []byte, prefixLen, maxLength int, asid uint32) key {
	return key{afi: afi, prefix: string(prefix), prefixLen: prefixLen, maxLength: maxLength, asid: asid}
}

// Store is the run-wide VRP set. Insert is idempotent on the composite
// key (AFI, prefix, prefixlen, maxlength, ASID); a colliding insert keeps
// the first inserter's TAL provenance and widens Expires to the later of
// the two, per SPEC_FULL.md's Open Question decision. Store is safe for
// concurrent use by the parser/validator workers.
type Store struct {
	mu    sync.Mutex
	byKey map[key]*VRP
}

// New returns an empty Store.
func New() *Store {
	return &Store{byKey: make(map[key]*VRP)}
}

// Insert adds v to the store, applying the collision rule above. It
// reports whether v introduced a new distinct VRP (false on any
// collision, including one that raises the stored Expires).
func (s *Store) Insert(v VRP) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(v.AFI, v.Prefix, v.PrefixLen, v.MaxLength, v.ASID)
	existing, ok := s.byKey[k]
	if !ok {
		cp := v
		s.byKey[k] = &cp
		return true
	}
	if v.Expires.After(existing.Expires) {
		existing.Expires = v.Expires
	}
	return false
}

// Len returns the number of distinct VRPs currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byKey)
}

// Sorted returns every VRP in deterministic order: by AFI, then prefix
// bytes, then prefix length, then max length, then ASID. Output
// encoders rely on this order being stable across runs over the same
// input.
func (s *Store) Sorted() []VRP {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]VRP, 0, len(s.byKey))
	for _, v := range s.byKey {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.AFI != b.AFI {
			return a.AFI < b.AFI
		}
		if c := bytes.Compare(a.Prefix, b.Prefix); c != 0 {
			return c < 0
		}
		if a.PrefixLen != b.PrefixLen {
			return a.PrefixLen < b.PrefixLen
		}
		if a.MaxLength != b.MaxLength {
			return a.MaxLength < b.MaxLength
		}
		return a.ASID < b.ASID
	})
	return out
}

// TALNames returns the distinct set of TAL provenance names recorded
// across all stored VRPs, for the run-summary output.
func (s *Store) TALNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for _, v := range s.byKey {
		seen[v.TAL] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
